package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/awexport/internal/classify"
	"github.com/roach88/awexport/internal/clock"
	"github.com/roach88/awexport/internal/config"
	"github.com/roach88/awexport/internal/event"
	"github.com/roach88/awexport/internal/pipeline"
	"github.com/roach88/awexport/internal/source"
	"github.com/roach88/awexport/internal/state"
	"github.com/roach88/awexport/internal/tags"
	"github.com/roach88/awexport/internal/tracker"
)

// KindRetag marks a Commit that only added tags to the open entry.
const KindRetag state.Kind = "retag"

// Recorder persists export records. store.Run implements it.
type Recorder interface {
	RecordExport(ctx context.Context, rec state.ExportRecord) error
}

// Commit describes one decision handed to the ledger.
type Commit struct {
	Kind state.Kind
	// Tags are the final tags, retag rules and marker applied.
	Tags  tags.Set
	Since time.Time
	// Skipped is why the ledger was left alone; empty when applied.
	Skipped string
}

// SegmentHook observes every classified segment.
type SegmentHook func(seg event.Sample, c classify.Classification, completed bool)

// Engine drives one run.
//
// Thread-safety model:
//   - Run, RunOnce, RunRange, Begin and Tick must be called from one goroutine
//   - the Asserter may be inspected from any goroutine
type Engine struct {
	cfg        *config.Compiled
	pipe       *pipeline.Pipeline
	idx        *source.Index
	classifier *classify.Classifier
	retagger   *classify.Retagger
	state      *state.Manager
	tracker    tracker.Tracker
	clock      clock.Clock
	asserter   *Asserter
	recorder   Recorder
	onCommit   func(Commit)
	onSegment  SegmentHook
	logger     *slog.Logger

	policy   classify.RetryPolicy
	ids      state.IDGenerator
	history  bool
	maxTicks int

	// end is zero in live mode
	end     time.Time
	started bool
	ticks   int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock sets the clock for "now", the poll sleep and the lookup retries.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithAsserter sets how consistency violations are handled.
// Default: abort.
func WithAsserter(a *Asserter) Option {
	return func(e *Engine) { e.asserter = a }
}

// WithRecorder persists every export record.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithExportHistory keeps export records in memory. ids may be nil.
func WithExportHistory(ids state.IDGenerator) Option {
	return func(e *Engine) {
		e.history = true
		e.ids = ids
	}
}

// WithCommitHook is called for every commit, applied or skipped.
func WithCommitHook(fn func(Commit)) Option {
	return func(e *Engine) { e.onCommit = fn }
}

// WithSegmentHook is called for every classified segment.
func WithSegmentHook(fn SegmentHook) Option {
	return func(e *Engine) { e.onSegment = fn }
}

// WithRetryPolicy sets the sub-event lookup retry policy. Live runs use
// classify.LivePolicy; the default never retries.
func WithRetryPolicy(p classify.RetryPolicy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithMaxTicks bounds batch runs.
//
// Default: DefaultMaxTicks
func WithMaxTicks(n int) Option {
	return func(e *Engine) { e.maxTicks = n }
}

// New creates an engine reading from src and committing to tr. The window
// and AFK buckets must be present in idx.
func New(cfg *config.Compiled, src source.EventSource, idx *source.Index, tr tracker.Tracker, opts ...Option) (*Engine, error) {
	buckets, err := pipeline.ResolveBuckets(idx)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:      cfg,
		idx:      idx,
		tracker:  tr,
		clock:    clock.System{},
		logger:   slog.Default(),
		policy:   classify.NoRetry(),
		maxTicks: DefaultMaxTicks,
	}
	for _, o := range opts {
		o(e)
	}
	if e.asserter == nil {
		e.asserter = NewAsserter(AssertAbort, e.logger)
	}

	e.pipe = pipeline.New(src, buckets, pipeline.OptionsFrom(cfg.Tuning), pipeline.WithLogger(e.logger))
	e.classifier = classify.New(cfg, src, idx,
		classify.WithLogger(e.logger),
		classify.WithRetryPolicy(e.policy),
		classify.WithClock(e.clock),
	)
	e.retagger = e.classifier.Retagger()

	stateOpts := []state.Option{state.WithLogger(e.logger)}
	if e.history || e.recorder != nil {
		stateOpts = append(stateOpts, state.WithExportHistory(e.ids))
	}
	e.state = state.NewManager(cfg.Tuning, e.retagger.Conflicts, stateOpts...)
	return e, nil
}

// State exposes the state manager for inspection.
func (e *Engine) State() *state.Manager { return e.state }

// Asserter returns the asserter in use.
func (e *Engine) Asserter() *Asserter { return e.asserter }

// Ticks returns the number of ticks run so far.
func (e *Engine) Ticks() int { return e.ticks }

// Begin prepares a run over [from, to). Both zero means live mode: the
// run starts at the open ledger entry, or now when nothing is tracked.
func (e *Engine) Begin(ctx context.Context, from, to time.Time) error {
	if !to.IsZero() && !to.After(from) {
		return fmt.Errorf("empty range: %s is not after %s", to.Format(time.RFC3339), from.Format(time.RFC3339))
	}
	e.end = to
	cur, err := e.tracker.Current(ctx)
	if err != nil {
		return newLedgerError("read open entry", err)
	}
	if cur, err = e.retagOpen(ctx, cur); err != nil {
		return err
	}

	start := from
	if start.IsZero() {
		if cur != nil {
			start = cur.Start
		} else {
			start = e.clock.Now()
		}
	}
	e.state.Start(start)
	e.state.SetManual(cur == nil || !cur.Tags.Has(tags.Marker))

	if to.IsZero() {
		clients := []string{event.ClientWindow, event.ClientAFK}
		for _, b := range e.idx.Stale(e.clock.Now(), e.cfg.Tuning.AWWarnThreshold, clients...) {
			e.logger.Warn("bucket seems not to have recent data", "bucket", b.ID, "last_updated", b.LastUpdated)
		}
	}
	e.started = true
	e.logger.Info("run starting", "since", start, "live", to.IsZero(), "manual", e.state.Manual())
	return nil
}

// Run polls forever in live mode. It returns the context's error once
// cancelled; fetch failures are logged and retried on the next poll.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Begin(ctx, time.Time{}, time.Time{}); err != nil {
		return err
	}
	for {
		if _, err := e.Tick(ctx); err != nil {
			if !IsSourceError(err) || ctx.Err() != nil {
				return err
			}
			e.logger.Warn("tick failed, retrying next poll", "error", err)
		}
		if err := e.clock.Sleep(ctx, e.cfg.Tuning.PollInterval); err != nil {
			e.logger.Info("engine stopping: context cancelled")
			return err
		}
	}
}

// RunOnce runs a single live tick.
func (e *Engine) RunOnce(ctx context.Context) error {
	if err := e.Begin(ctx, time.Time{}, time.Time{}); err != nil {
		return err
	}
	_, err := e.Tick(ctx)
	return err
}

// RunRange processes [from, to) in batch mode until a tick makes no
// progress. It is bounded by the tick quota.
func (e *Engine) RunRange(ctx context.Context, from, to time.Time) error {
	if from.IsZero() || to.IsZero() {
		return errors.New("batch range needs both bounds")
	}
	if err := e.Begin(ctx, from, to); err != nil {
		return err
	}
	quota := NewTickQuota(e.maxTicks)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := quota.Check(); err != nil {
			return err
		}
		progressed, err := e.Tick(ctx)
		if err != nil {
			return err
		}
		if !progressed {
			return nil
		}
	}
}

// Tick fetches everything after LastTick and processes it. It reports
// whether LastTick moved.
func (e *Engine) Tick(ctx context.Context) (bool, error) {
	if !e.started {
		return false, errors.New("tick before begin")
	}
	e.ticks++
	if err := e.syncLedger(ctx); err != nil {
		return false, err
	}

	frontier := e.state.Bounds().LastTick
	batch, err := e.pipe.Fetch(ctx, frontier, e.end)
	if err != nil {
		return false, newSourceError(err)
	}
	for _, seg := range batch.Completed {
		if err := e.process(ctx, batch, seg, true, frontier); err != nil {
			return false, err
		}
	}
	if batch.Current != nil {
		if err := e.process(ctx, batch, *batch.Current, false, frontier); err != nil {
			return false, err
		}
	}
	if err := e.asserter.Check(e.checkAFK(ctx)); err != nil {
		return false, err
	}
	return e.state.Bounds().LastTick.After(frontier), nil
}

// syncLedger re-reads the open entry: retag rules are applied to it and an
// entry we did not start switches to manual tracking.
func (e *Engine) syncLedger(ctx context.Context) error {
	cur, err := e.tracker.Current(ctx)
	if err != nil {
		return newLedgerError("read open entry", err)
	}
	cur, err = e.retagOpen(ctx, cur)
	if err != nil {
		return err
	}
	if cur != nil && !cur.Tags.Has(tags.Marker) && !e.state.Manual() {
		e.logger.Info("open entry was started manually", "tags", cur.Tags.String(), "since", cur.Start)
		e.state.SetManual(true)
	}
	return nil
}

// retagOpen adds the tags the retag rules derive from the open entry.
func (e *Engine) retagOpen(ctx context.Context, cur *tracker.Entry) (*tracker.Entry, error) {
	if cur == nil {
		return nil, nil
	}
	expanded, err := e.retagger.Apply(cur.Tags)
	if err != nil {
		if classify.IsExclusiveGroupError(err) {
			e.logger.Warn("open entry breaks an exclusive group", "tags", cur.Tags.String(), "error", err)
			return cur, nil
		}
		return nil, err
	}
	add := expanded.Without(cur.Tags.Sorted()...)
	if add.Empty() {
		return cur, nil
	}
	if err := e.tracker.Retag(ctx, add); err != nil {
		return nil, newLedgerError("retag", err)
	}
	cur.Tags = cur.Tags.Union(add)
	e.notify(Commit{Kind: KindRetag, Tags: cur.Tags.Clone(), Since: cur.Start})
	return cur, nil
}

// checkAFK flags an away state the ledger does not reflect.
func (e *Engine) checkAFK(ctx context.Context) error {
	if e.state.AFK() != state.Afk {
		return nil
	}
	cur, err := e.tracker.Current(ctx)
	if err != nil {
		return newLedgerError("read open entry", err)
	}
	if cur == nil || !cur.Tags.Has(tags.Marker) {
		return nil
	}
	if cur.Tags.Has(tags.AFK) || cur.Tags.Has(tags.Override) || cur.Tags.Has(tags.Manual) {
		return nil
	}
	return state.NewConsistencyError(state.CodeAFKMismatch, "afk state but the open entry is not afk", map[string]string{
		"tags":  cur.Tags.String(),
		"since": cur.Start.Format(time.RFC3339),
	})
}

func (e *Engine) notify(c Commit) {
	if e.onCommit != nil {
		e.onCommit(c)
	}
}
