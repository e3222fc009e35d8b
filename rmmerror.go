package rmm

import (
	"errors"
	"fmt"
	"os"
	"strconv"
)

// Status is the value an RMI handler writes into return slot 0.
type Status uint64

// RMI status codes
const (
	StatusSuccess    Status = 0x000
	StatusErrorInput Status = 0x001
	StatusFail       Status = 0x100
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusErrorInput:
		return "ERROR_INPUT"
	case StatusFail:
		return "FAIL"
	default:
		return fmt.Sprintf("STATUS(%#x)", uint64(s))
	}
}

// StatusError is an error carrying the RMI status it is reported as.
type StatusError struct {
	Code    Status
	message string // Optional custom message for specific errors
}

func (e *StatusError) Error() string {
	if e.message != "" {
		return e.message
	}
	if isProductionEnv() {
		return e.sanitizedError()
	}
	return e.detailedError()
}

// detailedError provides full error context for development
func (e *StatusError) detailedError() string {
	switch e.Code {
	case StatusSuccess:
		return "rmm: success"
	case StatusErrorInput:
		return "rmm: input error (ERROR_INPUT) - check granule state, alignment and argument values"
	case StatusFail:
		return "rmm: operation failed (FAIL) - the monitor could not complete the request"
	default:
		return fmt.Sprintf("rmm: unknown status code %#x", uint64(e.Code))
	}
}

// sanitizedError provides minimal error information for production
func (e *StatusError) sanitizedError() string {
	switch e.Code {
	case StatusSuccess:
		return "rmm: success"
	case StatusErrorInput:
		return "rmm: input error"
	case StatusFail:
		return "rmm: operation failed"
	default:
		return "rmm: error"
	}
}

// isProductionEnv checks if we're running in production environment
func isProductionEnv() bool {
	env := os.Getenv("RMM_ENV")
	if env == "production" || env == "prod" {
		return true
	}

	// Check if debug mode is explicitly disabled
	if debug := os.Getenv("RMM_DEBUG"); debug != "" {
		if val, err := strconv.ParseBool(debug); err == nil && !val {
			return true
		}
	}

	return false
}

// StatusOf maps an error returned by the monitor to the status reported to the caller.
// Errors outside the StatusError family are reported as StatusFail.
func StatusOf(err error) Status {
	if err == nil {
		return StatusSuccess
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return StatusFail
}

// Common specific errors
var (
	ErrWrongState        = &StatusError{Code: StatusErrorInput, message: "rmm: granule in wrong state"}
	ErrIllegalTransition = &StatusError{Code: StatusErrorInput, message: "rmm: illegal granule state transition"}
	ErrInvalidGranule    = &StatusError{Code: StatusErrorInput, message: "rmm: granule address not aligned or out of range"}
	ErrAlreadyMapped     = &StatusError{Code: StatusErrorInput, message: "rmm: address already mapped"}
	ErrNotMapped         = &StatusError{Code: StatusErrorInput, message: "rmm: address not mapped"}
	ErrInvalidParams     = &StatusError{Code: StatusErrorInput, message: "rmm: malformed realm parameters"}
	ErrRdConsumed        = &StatusError{Code: StatusFail, message: "rmm: realm descriptor already destroyed"}
	ErrRealmLimit        = &StatusError{Code: StatusFail, message: "rmm: no free realm ids"}
	ErrUnknownRealm      = &StatusError{Code: StatusFail, message: "rmm: unknown realm id"}
	ErrUnknownCommand    = &StatusError{Code: StatusFail, message: "rmm: unknown command"}
)
