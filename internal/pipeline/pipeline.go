// Package pipeline turns the raw samples of one tick into a single ordered
// stream of segments.
//
// Steps, in order:
//  1. AFK samples, with synthetic afk samples filling long silences
//  2. short AFK samples dropped
//  3. lid samples converted to AFK form and given priority over the watcher
//  4. window samples merged in and cut around afk periods
//  5. segments already processed dropped
//  6. the last segment held back as in-progress unless the range is closed
//
// Ask-away annotations are fetched alongside and exposed on the Batch.
// Everything after the fetch is pure over the fetched samples.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/roach88/awexport/internal/config"
	"github.com/roach88/awexport/internal/event"
	"github.com/roach88/awexport/internal/source"
)

// Options tunes the reconciliation steps.
type Options struct {
	MinRecordingInterval   time.Duration
	MaxMixedInterval       time.Duration
	MinLidDuration         time.Duration
	EnableAFKGapWorkaround bool
	EnableLidEvents        bool
}

// OptionsFrom extracts the pipeline knobs from the tuning section.
func OptionsFrom(t config.Tuning) Options {
	return Options{
		MinRecordingInterval:   t.MinRecordingInterval,
		MaxMixedInterval:       t.MaxMixedInterval,
		MinLidDuration:         t.MinLidDuration,
		EnableAFKGapWorkaround: t.EnableAFKGapWorkaround,
		EnableLidEvents:        t.EnableLidEvents,
	}
}

// Buckets holds the bucket ids the pipeline reads. Lid and AskAway are
// optional.
type Buckets struct {
	Window  string
	AFK     string
	Lid     string
	AskAway string
}

// ResolveBuckets picks the pipeline's buckets from the index. A missing
// window or AFK bucket is an error.
func ResolveBuckets(idx *source.Index) (Buckets, error) {
	if err := idx.Require(event.ClientWindow, event.ClientAFK); err != nil {
		return Buckets{}, err
	}
	w, _ := idx.ByClient(event.ClientWindow)
	a, _ := idx.ByClient(event.ClientAFK)
	b := Buckets{Window: w.ID, AFK: a.ID}
	if l, ok := idx.ByClient(event.ClientLid); ok {
		b.Lid = l.ID
	}
	if q, ok := idx.ByClient(event.ClientAskAway); ok {
		b.AskAway = q.ID
	}
	return b, nil
}

// Batch is the reconciled output of one fetch.
type Batch struct {
	// Completed segments, ordered by timestamp.
	Completed []event.Sample
	// Current is the in-progress segment, or nil when the range was closed
	// or nothing was found.
	Current *event.Sample
	// AskAway holds the ask-away annotations of the fetched range.
	AskAway []event.Sample
}

// Empty reports whether the batch has no segments.
func (b *Batch) Empty() bool {
	return len(b.Completed) == 0 && b.Current == nil
}

// AskAwayDuring returns the annotations overlapping seg, ordered by
// timestamp. Overlap rather than equality tolerates clock skew between the
// AFK watcher and the ask-away producer.
func (b *Batch) AskAwayDuring(seg event.Sample) []event.Sample {
	var out []event.Sample
	for _, a := range b.AskAway {
		if a.Overlaps(seg) {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// Pipeline fetches and reconciles samples.
type Pipeline struct {
	src     source.EventSource
	buckets Buckets
	opts    Options
	logger  *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// New creates a pipeline reading from src.
func New(src source.EventSource, buckets Buckets, opts Options, options ...Option) *Pipeline {
	p := &Pipeline{src: src, buckets: buckets, opts: opts, logger: slog.Default()}
	for _, o := range options {
		o(p)
	}
	return p
}

// Fetch reads [lastTick, end) and reconciles it. A zero end means live
// mode: the range stays open and the last segment is returned as Current.
func (p *Pipeline) Fetch(ctx context.Context, lastTick, end time.Time) (*Batch, error) {
	afk, err := p.src.Events(ctx, p.buckets.AFK, lastTick, end)
	if err != nil {
		return nil, fmt.Errorf("fetch afk: %w", err)
	}
	if p.opts.EnableAFKGapWorkaround {
		afk = FillAFKGaps(afk, p.opts.MinRecordingInterval)
	}
	afk = LongerThan(afk, p.opts.MaxMixedInterval)

	var lid []event.Sample
	if p.opts.EnableLidEvents && p.buckets.Lid != "" {
		raw, err := p.src.Events(ctx, p.buckets.Lid, lastTick, end)
		if err != nil {
			return nil, fmt.Errorf("fetch lid: %w", err)
		}
		lid = LidToAFK(FilterLid(raw, p.opts.MinLidDuration))
		if len(lid) > 0 {
			p.logger.Debug("fetched lid samples", "count", len(lid))
		}
	}
	merged := MergeAFK(afk, lid)

	batch := &Batch{}
	if p.buckets.AskAway != "" {
		batch.AskAway, err = p.src.Events(ctx, p.buckets.AskAway, lastTick, end)
		if err != nil {
			return nil, fmt.Errorf("fetch ask-away: %w", err)
		}
	}

	windows, err := p.src.Events(ctx, p.buckets.Window, lastTick, end)
	if err != nil {
		return nil, fmt.Errorf("fetch window: %w", err)
	}

	stream := EndingAfter(SplitWindows(windows, merged), lastTick)
	if len(stream) == 0 {
		return batch, nil
	}
	if !end.IsZero() {
		batch.Completed = stream
		return batch, nil
	}
	last := stream[len(stream)-1]
	batch.Completed = stream[:len(stream)-1]
	batch.Current = &last
	return batch, nil
}
