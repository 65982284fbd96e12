package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/awexport/internal/clock"
	"github.com/roach88/awexport/internal/config"
	"github.com/roach88/awexport/internal/engine"
	"github.com/roach88/awexport/internal/source"
	"github.com/roach88/awexport/internal/state"
	"github.com/roach88/awexport/internal/store"
	"github.com/roach88/awexport/internal/tags"
	"github.com/roach88/awexport/internal/testutil"
	"github.com/roach88/awexport/internal/tracker"
)

// runID names the single run each scenario records.
const runID = "run-1"

// Harness holds the wiring of one scenario execution.
type Harness struct {
	store  *store.Store
	ledger *tracker.DryRun
	logger *slog.Logger
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database against a simulated
// ledger, with a fake clock pinned to the end of the range, so results are
// reproducible.
//
// Execution flow:
// 1. Build the watcher dump from the samples
// 2. Load and compile the configuration
// 3. Seed the simulated ledger
// 4. Run the engine in batch mode over the range
// 5. Evaluate assertions against the commits and the store
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller-supplied context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	start := scenario.Start
	if start.IsZero() {
		start = testutil.Start
	}

	b := testutil.NewBuilderAt(start)
	var last time.Duration
	for _, s := range scenario.Samples {
		id, client, err := resolveBucket(s.Bucket)
		if err != nil {
			return nil, err
		}
		b.Sample(id, client, s.At, s.Duration, s.Data)
		if end := s.At + s.Duration; end > last {
			last = end
		}
	}
	from, to := b.At(0), b.At(last)
	if scenario.Range != nil {
		from, to = b.At(scenario.Range.From), b.At(scenario.Range.To)
	}
	if !to.After(from) {
		return nil, fmt.Errorf("scenario %q has an empty range", scenario.Name)
	}

	cfg, err := loadConfig(scenario)
	if err != nil {
		return nil, err
	}
	compiled, err := config.Compile(cfg)
	if err != nil {
		return nil, fmt.Errorf("compile config: %w", err)
	}

	st, err := store.Open(store.Memory)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		store:  st,
		ledger: tracker.NewDryRun(discard(), seedLedger(b, scenario.Ledger)...),
		logger: discard(),
	}
	return h.run(ctx, scenario, b.Source(), compiled, from, to)
}

func (h *Harness) run(ctx context.Context, scenario *Scenario, src *source.FixtureSource, cfg *config.Compiled, from, to time.Time) (*Result, error) {
	mode := engine.AssertAbort
	if scenario.Assert != "" {
		m, err := engine.ParseAssertMode(scenario.Assert)
		if err != nil {
			return nil, err
		}
		mode = m
	}

	idx, err := source.LoadIndex(ctx, src)
	if err != nil {
		return nil, err
	}
	rec, err := h.store.StartRun(ctx, runID, "batch", from)
	if err != nil {
		return nil, err
	}

	result := NewResult()
	asserter := engine.NewAsserter(mode, h.logger)
	eng, err := engine.New(cfg, src, idx, h.ledger,
		engine.WithLogger(h.logger),
		engine.WithClock(clock.NewFake(to)),
		engine.WithAsserter(asserter),
		engine.WithRecorder(rec),
		engine.WithExportHistory(state.NewSequenceGenerator("exp")),
		engine.WithCommitHook(result.AddCommit),
	)
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}
	if err := eng.RunRange(ctx, from, to); err != nil {
		return nil, fmt.Errorf("run scenario %q: %w", scenario.Name, err)
	}
	if err := rec.Finish(ctx, to, eng.Ticks(), eng.State().Summary()); err != nil {
		return nil, err
	}

	result.Commands = append(result.Commands, h.ledger.Commands()...)
	for _, v := range asserter.Collected() {
		result.Violations = append(result.Violations, v.Error())
	}

	for i, a := range scenario.Assertions {
		if err := h.evaluate(ctx, result, a); err != nil {
			result.AddError(fmt.Sprintf("assertion %d (%s): %v", i, a.Type, err))
		}
	}
	return result, nil
}

func (h *Harness) evaluate(ctx context.Context, r *Result, a Assertion) error {
	switch a.Type {
	case AssertCommitContains:
		return assertCommitContains(r.Trace, a)
	case AssertCommitOrder:
		return assertCommitOrder(r.Trace, a)
	case AssertCommitCount:
		return assertCommitCount(r.Trace, a)
	case AssertNeverTagged:
		return assertNeverTagged(r.Trace, a)
	case AssertCommandCount:
		return assertCommandCount(r, a)
	case AssertFinalState:
		return assertFinalState(ctx, h.store, a)
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

func loadConfig(s *Scenario) (*config.Config, error) {
	switch {
	case s.Config != "":
		return config.Parse([]byte(s.Config))
	case s.ConfigFile != "":
		return config.Load(s.ConfigFile)
	}
	return config.Default(), nil
}

func seedLedger(b *testutil.Builder, entries []LedgerEntry) []tracker.Entry {
	out := make([]tracker.Entry, 0, len(entries))
	for i, e := range entries {
		entry := tracker.Entry{
			ID:    fmt.Sprintf("@%d", len(entries)-i),
			Start: b.At(e.Start),
			Tags:  tags.New(e.Tags...),
		}
		if e.End != nil {
			entry.End = b.At(*e.End)
		}
		out = append(out, entry)
	}
	return out
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
