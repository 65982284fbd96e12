package harness

import (
	"time"

	"github.com/roach88/awexport/internal/engine"
)

// TraceEvent is one commit decision as the engine reported it, applied or
// skipped.
type TraceEvent struct {
	Seq     int      `json:"seq"`
	Kind    string   `json:"kind"`
	Tags    []string `json:"tags"`
	Since   string   `json:"since"`
	Skipped string   `json:"skipped,omitempty"`
}

// Applied reports whether the ledger was changed.
func (e TraceEvent) Applied() bool { return e.Skipped == "" }

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	Pass bool `json:"pass"`

	// Trace contains every commit decision in order.
	Trace []TraceEvent `json:"trace"`

	// Commands are the timew command lines the ledger received.
	Commands [][]string `json:"commands"`

	// Violations are consistency errors collected in collect mode.
	Violations []string `json:"violations,omitempty"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:     true,
		Trace:    []TraceEvent{},
		Commands: [][]string{},
		Errors:   []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddCommit appends c to the trace.
func (r *Result) AddCommit(c engine.Commit) {
	r.Trace = append(r.Trace, TraceEvent{
		Seq:     len(r.Trace) + 1,
		Kind:    string(c.Kind),
		Tags:    c.Tags.Sorted(),
		Since:   c.Since.UTC().Format(time.RFC3339),
		Skipped: c.Skipped,
	})
}

// Applied returns the commits that changed the ledger.
func (r *Result) Applied() []TraceEvent {
	var out []TraceEvent
	for _, e := range r.Trace {
		if e.Applied() {
			out = append(out, e)
		}
	}
	return out
}
