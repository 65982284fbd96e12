package engine

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/awexport/internal/state"
)

// AssertMode selects what happens on a consistency violation.
type AssertMode string

const (
	// AssertAbort returns the violation and stops the run.
	AssertAbort AssertMode = "abort"
	// AssertLog logs the violation and continues.
	AssertLog AssertMode = "log"
	// AssertCollect records the violation for later inspection and continues.
	AssertCollect AssertMode = "collect"
)

// ParseAssertMode parses a mode name.
func ParseAssertMode(s string) (AssertMode, error) {
	switch m := AssertMode(s); m {
	case AssertAbort, AssertLog, AssertCollect:
		return m, nil
	case "":
		return AssertAbort, nil
	default:
		return "", fmt.Errorf("unknown assert mode %q (want abort, log or collect)", s)
	}
}

// Asserter routes consistency violations. Errors that are not
// state.ConsistencyError always pass through unchanged.
//
// Thread-safety: Asserter is safe for concurrent use.
type Asserter struct {
	mode   AssertMode
	logger *slog.Logger

	mu        sync.Mutex
	collected []*state.ConsistencyError
}

// NewAsserter creates an asserter. A nil logger uses slog.Default().
func NewAsserter(mode AssertMode, logger *slog.Logger) *Asserter {
	if logger == nil {
		logger = slog.Default()
	}
	if mode == "" {
		mode = AssertAbort
	}
	return &Asserter{mode: mode, logger: logger}
}

// Mode returns the configured mode.
func (a *Asserter) Mode() AssertMode { return a.mode }

// Check returns err when the run must stop, nil otherwise.
func (a *Asserter) Check(err error) error {
	if err == nil {
		return nil
	}
	ce, ok := state.AsConsistencyError(err)
	if !ok {
		return err
	}
	switch a.mode {
	case AssertLog:
		a.logger.Error("consistency violation", "code", string(ce.Code), "error", ce.Error())
		return nil
	case AssertCollect:
		a.mu.Lock()
		a.collected = append(a.collected, ce)
		a.mu.Unlock()
		a.logger.Warn("consistency violation collected", "code", string(ce.Code))
		return nil
	default:
		return err
	}
}

// Collected returns the violations recorded in collect mode.
func (a *Asserter) Collected() []*state.ConsistencyError {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*state.ConsistencyError(nil), a.collected...)
}
