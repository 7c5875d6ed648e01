// Package codes converts instrument codes between the upstream provider
// notation ("sh.600000") and the storage notation ("600000.SH").
package codes

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidCodeFormat is returned for codes that are not exchange-qualified
// six-digit instrument codes.
var ErrInvalidCodeFormat = errors.New("invalid instrument code format")

// Exchanges recognised in either notation, storage (uppercase) form.
var exchanges = map[string]bool{
	"SH": true, // Shanghai
	"SZ": true, // Shenzhen
	"BJ": true, // Beijing
}

// ToUpstream converts "600000.SH" into "sh.600000".
func ToUpstream(storageCode string) (string, error) {
	digits, exchange, ok := strings.Cut(storageCode, ".")
	if !ok || strings.Contains(exchange, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidCodeFormat, storageCode)
	}
	if !exchanges[exchange] || !isDigits(digits) {
		return "", fmt.Errorf("%w: %q", ErrInvalidCodeFormat, storageCode)
	}
	return strings.ToLower(exchange) + "." + digits, nil
}

// ToStorage converts "sh.600000" into "600000.SH".
func ToStorage(upstreamCode string) (string, error) {
	exchange, digits, ok := strings.Cut(upstreamCode, ".")
	if !ok || strings.Contains(digits, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidCodeFormat, upstreamCode)
	}
	exchange = strings.ToUpper(exchange)
	if !exchanges[exchange] || !isDigits(digits) {
		return "", fmt.Errorf("%w: %q", ErrInvalidCodeFormat, upstreamCode)
	}
	return digits + "." + exchange, nil
}

func isDigits(s string) bool {
	if len(s) != 6 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
