package codes

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToUpstream(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"600000.SH", "sh.600000"},
		{"000001.SZ", "sz.000001"},
		{"300750.SZ", "sz.300750"},
		{"688981.SH", "sh.688981"},
		{"830799.BJ", "bj.830799"},
	}
	for _, tt := range tests {
		got, err := ToUpstream(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestToStorage(t *testing.T) {
	got, err := ToStorage("sh.600000")
	require.NoError(t, err)
	assert.Equal(t, "600000.SH", got)

	got, err = ToStorage("SZ.000001")
	require.NoError(t, err)
	assert.Equal(t, "000001.SZ", got)
}

func TestInvalidCodes(t *testing.T) {
	bad := []string{
		"",
		"600000",
		"600000.SH.X",
		"600000.sh",
		"600000.HK",
		"60000.SH",
		"60000A.SH",
		"sh600000",
	}
	for _, code := range bad {
		_, err := ToUpstream(code)
		assert.True(t, errors.Is(err, ErrInvalidCodeFormat), "ToUpstream(%q) err = %v", code, err)
	}

	for _, code := range []string{"sh.600000.1", "hk.00700", "sh.60000", "600000.SH"} {
		_, err := ToStorage(code)
		assert.True(t, errors.Is(err, ErrInvalidCodeFormat), "ToStorage(%q) err = %v", code, err)
	}
}

func TestRoundTrip(t *testing.T) {
	for _, exchange := range []string{"SH", "SZ", "BJ"} {
		for _, digits := range []string{"000001", "600000", "300750", "688981", "999999"} {
			code := digits + "." + exchange
			up, err := ToUpstream(code)
			require.NoError(t, err)
			back, err := ToStorage(up)
			require.NoError(t, err)
			assert.Equal(t, code, back)
		}
	}
}
