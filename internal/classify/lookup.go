package classify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/roach88/awexport/internal/clock"
	"github.com/roach88/awexport/internal/event"
	"github.com/roach88/awexport/internal/source"
)

const (
	// skewBuffer widens the search window once when nothing overlaps, to
	// absorb clock differences between watchers.
	skewBuffer = 15 * time.Second
	// recentLookback bounds the fallback search for state that persists
	// between samples, such as the tmux pane.
	recentLookback = 10 * time.Minute
	// missingWarnFactor times the ignore interval is the shortest segment
	// worth a "no corresponding sample" warning.
	missingWarnFactor = 4
)

// LookupOptions tunes one correspondence search.
type LookupOptions struct {
	// Ignorable suppresses retrying, widening and the missing-sample warning.
	Ignorable bool
	// FallbackToRecent accepts the latest sample of the preceding ten
	// minutes when nothing overlaps.
	FallbackToRecent bool
}

// Lookup finds the sample of a specialized bucket corresponding to a window
// segment.
type Lookup struct {
	src            source.EventSource
	policy         RetryPolicy
	clock          clock.Clock
	ignoreInterval time.Duration
	logger         *slog.Logger
}

// NewLookup creates a lookup over src.
func NewLookup(src source.EventSource, policy RetryPolicy, clk clock.Clock, ignoreInterval time.Duration, logger *slog.Logger) *Lookup {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Lookup{src: src, policy: policy, clock: clk, ignoreInterval: ignoreInterval, logger: logger}
}

// Find returns the sample of bucketID corresponding to seg. The boolean is
// false when none was found; the error is reserved for source failures.
func (l *Lookup) Find(ctx context.Context, seg event.Sample, bucketID string, opts LookupOptions) (event.Sample, bool, error) {
	found, err := l.src.Events(ctx, bucketID, seg.Timestamp.Add(-time.Second), seg.End())
	if err != nil {
		return event.Sample{}, false, fmt.Errorf("lookup %s: %w", bucketID, err)
	}

	for attempt := 0; len(found) == 0 && !opts.Ignorable && attempt < l.policy.MaxAttempts && l.recent(seg); attempt++ {
		delay := l.policy.Delay(attempt)
		l.logger.Debug("sub-event not in yet, waiting",
			"bucket", bucketID, "segment_start", seg.Timestamp, "delay", delay, "attempt", attempt+1)
		if err := l.clock.Sleep(ctx, delay); err != nil {
			return event.Sample{}, false, err
		}
		if found, err = l.src.Events(ctx, bucketID, seg.Timestamp.Add(-time.Second), seg.End()); err != nil {
			return event.Sample{}, false, fmt.Errorf("lookup %s: %w", bucketID, err)
		}
	}

	if len(found) == 0 && !opts.Ignorable {
		if found, err = l.src.Events(ctx, bucketID, seg.Timestamp.Add(-skewBuffer), seg.End().Add(skewBuffer)); err != nil {
			return event.Sample{}, false, fmt.Errorf("lookup %s: %w", bucketID, err)
		}
	}

	if len(found) == 0 && opts.FallbackToRecent {
		recent, err := l.src.Events(ctx, bucketID, seg.Timestamp.Add(-recentLookback), seg.Timestamp)
		if err != nil {
			return event.Sample{}, false, fmt.Errorf("lookup %s: %w", bucketID, err)
		}
		if len(recent) > 0 {
			latest := recent[0]
			for _, s := range recent[1:] {
				if s.Timestamp.After(latest.Timestamp) {
					latest = s
				}
			}
			return latest, true, nil
		}
	}

	if len(found) == 0 {
		if !opts.Ignorable && seg.Duration >= missingWarnFactor*l.ignoreInterval {
			l.logger.Warn("no corresponding sample found; check that the watcher is running",
				"bucket", bucketID, "segment_start", seg.Timestamp, "title", seg.Title())
		}
		return event.Sample{}, false, nil
	}
	return pickLongest(found, l.ignoreInterval), true, nil
}

func (l *Lookup) recent(seg event.Sample) bool {
	return l.clock.Now().Add(-l.policy.Recent).Before(seg.End())
}

// pickLongest drops candidates not longer than ignore unless that would
// drop all of them, then returns the longest. Ties keep input order.
func pickLongest(candidates []event.Sample, ignore time.Duration) event.Sample {
	if len(candidates) == 1 {
		return candidates[0]
	}
	var long []event.Sample
	for _, c := range candidates {
		if c.Duration > ignore {
			long = append(long, c)
		}
	}
	if len(long) == 0 {
		long = append(long, candidates...)
	}
	sort.SliceStable(long, func(i, j int) bool { return long[i].Duration > long[j].Duration })
	return long[0]
}
