package upstream

import (
	"errors"
	"fmt"
)

// ErrUpstreamAuth is returned when the provider rejects the login or reports
// that the session is no longer logged in.
var ErrUpstreamAuth = errors.New("upstream authentication failed")

// ErrSessionClosed is returned by queries issued after Close.
var ErrSessionClosed = errors.New("upstream session closed")

// QueryError represents a failed provider call
type QueryError struct {
	Op         string // login, all_stock, history_k_data, ...
	StatusCode int    // HTTP status, 0 when the transport failed
	Code       string // provider error_code, empty when not reported
	Err        error
}

func (e *QueryError) Error() string {
	switch {
	case e.Code != "":
		return fmt.Sprintf("upstream %s failed: %v (error_code: %s)", e.Op, e.Err, e.Code)
	case e.StatusCode != 0:
		return fmt.Sprintf("upstream %s failed: %v (status: %d)", e.Op, e.Err, e.StatusCode)
	default:
		return fmt.Sprintf("upstream %s failed: %v", e.Op, e.Err)
	}
}

func (e *QueryError) Unwrap() error {
	return e.Err
}
