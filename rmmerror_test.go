package rmm

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestStatusError(t *testing.T) {
	t.Setenv("RMM_ENV", "")
	t.Setenv("RMM_DEBUG", "")

	tests := []struct {
		name     string
		code     Status
		expected string
	}{
		{
			name:     "SUCCESS",
			code:     StatusSuccess,
			expected: "rmm: success",
		},
		{
			name:     "ERROR_INPUT",
			code:     StatusErrorInput,
			expected: "rmm: input error (ERROR_INPUT) - check granule state, alignment and argument values",
		},
		{
			name:     "FAIL",
			code:     StatusFail,
			expected: "rmm: operation failed (FAIL) - the monitor could not complete the request",
		},
		{
			name:     "Unknown status code",
			code:     0x1234,
			expected: "rmm: unknown status code 0x1234",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := &StatusError{Code: tt.code}
			got := err.Error()
			if got != tt.expected {
				t.Errorf("StatusError{Code: %#x}.Error() = %q, want %q", uint64(tt.code), got, tt.expected)
			}
		})
	}
}

func TestStatusErrorSanitized(t *testing.T) {
	t.Run("production env", func(t *testing.T) {
		t.Setenv("RMM_ENV", "production")
		err := &StatusError{Code: StatusErrorInput}
		if got := err.Error(); got != "rmm: input error" {
			t.Errorf("Error() = %q, want %q", got, "rmm: input error")
		}
	})

	t.Run("debug disabled", func(t *testing.T) {
		t.Setenv("RMM_ENV", "")
		t.Setenv("RMM_DEBUG", "false")
		err := &StatusError{Code: StatusFail}
		if got := err.Error(); got != "rmm: operation failed" {
			t.Errorf("Error() = %q, want %q", got, "rmm: operation failed")
		}
	})

	t.Run("custom message wins", func(t *testing.T) {
		t.Setenv("RMM_ENV", "production")
		if got := ErrWrongState.Error(); !strings.Contains(got, "wrong state") {
			t.Errorf("Error() = %q, should mention the wrong state", got)
		}
	})
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Status
	}{
		{"nil", nil, StatusSuccess},
		{"sentinel", ErrWrongState, StatusErrorInput},
		{"wrapped", fmt.Errorf("transition 0x80000000: %w", ErrInvalidGranule), StatusErrorInput},
		{"fail sentinel", ErrRealmLimit, StatusFail},
		{"foreign error", errors.New("boom"), StatusFail},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusOf(tt.err); got != tt.want {
				t.Errorf("StatusOf(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestStatusString(t *testing.T) {
	if StatusSuccess.String() != "SUCCESS" {
		t.Errorf("StatusSuccess.String() = %q", StatusSuccess.String())
	}
	if StatusErrorInput.String() != "ERROR_INPUT" {
		t.Errorf("StatusErrorInput.String() = %q", StatusErrorInput.String())
	}
	if got := Status(7).String(); got != "STATUS(0x7)" {
		t.Errorf("Status(7).String() = %q, want %q", got, "STATUS(0x7)")
	}
}
