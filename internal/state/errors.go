package state

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ConsistencyError reports internal state that contradicts itself or the
// ledger. These are never fixed up silently; the engine routes them through
// its Asserter.
type ConsistencyError struct {
	// Code identifies the violated invariant.
	Code ConsistencyCode

	// Message is a human-readable description.
	Message string

	// Details contains additional context.
	Details map[string]string
}

// ConsistencyCode categorizes consistency errors.
type ConsistencyCode string

const (
	// CodeTimeBounds means lastStartTime <= lastKnownTick <= lastTick broke.
	CodeTimeBounds ConsistencyCode = "TIME_BOUNDS"

	// CodeAFKMismatch means the state machine and the ledger disagree about
	// whether the user is away.
	CodeAFKMismatch ConsistencyCode = "AFK_MISMATCH"

	// CodeNegativeInterval means interval arithmetic went below zero.
	CodeNegativeInterval ConsistencyCode = "NEGATIVE_INTERVAL"

	// CodeConflictingAFKTags means a tag set carried both afk and not-afk.
	CodeConflictingAFKTags ConsistencyCode = "CONFLICTING_AFK_TAGS"

	// CodeInvalidTransition means something tried to move the AFK state
	// machine back to Unknown.
	CodeInvalidTransition ConsistencyCode = "INVALID_TRANSITION"
)

// Error implements the error interface.
func (e *ConsistencyError) Error() string {
	if len(e.Details) == 0 {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	keys := make([]string, 0, len(e.Details))
	for k := range e.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + e.Details[k]
	}
	return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, strings.Join(parts, ", "))
}

// AsConsistencyError extracts a ConsistencyError from err's chain.
func AsConsistencyError(err error) (*ConsistencyError, bool) {
	var ce *ConsistencyError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// IsConsistencyError reports whether err carries a ConsistencyError with
// the given code. An empty code matches any.
func IsConsistencyError(err error, code ConsistencyCode) bool {
	ce, ok := AsConsistencyError(err)
	return ok && (code == "" || ce.Code == code)
}

// NewConsistencyError creates a ConsistencyError. Used by callers that
// check invariants spanning the state and the ledger.
func NewConsistencyError(code ConsistencyCode, msg string, details map[string]string) *ConsistencyError {
	return &ConsistencyError{Code: code, Message: msg, Details: details}
}
