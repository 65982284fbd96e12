package engine

import (
	"errors"
	"fmt"
)

// RuntimeError represents an error detected while running the loop.
//
// Runtime errors include:
//   - Tick limit: a batch run did not reach the end of its range in time
//   - Ledger failure: the tracker rejected a commit
//   - Source failure: the event source could not be read
//
// Consistency violations are state.ConsistencyError, not RuntimeError.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// Details contains additional context.
	Details map[string]string

	// Err is the underlying cause, if any.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeTickLimit indicates a batch run exceeded its tick quota.
	ErrCodeTickLimit RuntimeErrorCode = "TICK_LIMIT"

	// ErrCodeLedger indicates a tracker command failed.
	ErrCodeLedger RuntimeErrorCode = "LEDGER"

	// ErrCodeSource indicates the event source failed.
	ErrCodeSource RuntimeErrorCode = "SOURCE"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *RuntimeError) Unwrap() error { return e.Err }

// IsTickLimitError returns true if the error is a tick quota error.
// Uses errors.As to handle wrapped errors.
func IsTickLimitError(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeTickLimit
	}
	return false
}

// IsLedgerError returns true if a tracker command failed.
func IsLedgerError(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeLedger
	}
	return false
}

// IsSourceError returns true if reading the event source failed.
func IsSourceError(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeSource
	}
	return false
}

// NewTickLimitError creates a RuntimeError for an exhausted tick quota.
func NewTickLimitError(ticks, limit int) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeTickLimit,
		Message: fmt.Sprintf("batch run exceeded tick limit (%d > %d)", ticks, limit),
		Details: map[string]string{
			"ticks": fmt.Sprintf("%d", ticks),
			"limit": fmt.Sprintf("%d", limit),
		},
	}
}

func newLedgerError(op string, err error) *RuntimeError {
	return &RuntimeError{Code: ErrCodeLedger, Message: op + " failed", Err: err}
}

func newSourceError(err error) *RuntimeError {
	return &RuntimeError{Code: ErrCodeSource, Message: "fetch failed", Err: err}
}
