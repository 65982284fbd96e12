package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/awexport/internal/classify"
	"github.com/roach88/awexport/internal/event"
	"github.com/roach88/awexport/internal/pipeline"
	"github.com/roach88/awexport/internal/state"
	"github.com/roach88/awexport/internal/tags"
	"github.com/roach88/awexport/internal/tracker"
)

// process handles one segment. LastTick always advances, even for skipped
// segments.
func (e *Engine) process(ctx context.Context, batch *pipeline.Batch, seg event.Sample, completed bool, frontier time.Time) error {
	if err := e.asserter.Check(e.state.AdvanceTick(seg.End())); err != nil {
		return err
	}
	if e.skip(seg, frontier) {
		e.logger.Debug("segment already processed", "segment_start", seg.Timestamp, "duration", seg.Duration)
		return nil
	}

	c, err := e.classifier.Classify(ctx, seg)
	if err != nil {
		return fmt.Errorf("classify segment at %s: %w", seg.Timestamp.Format(time.RFC3339), err)
	}
	if e.onSegment != nil {
		e.onSegment(seg, c, completed)
	}

	if c.IsStatus() {
		return e.status(ctx, batch, seg, c)
	}
	if c.Result == classify.Ignored {
		if !completed {
			// may still grow past the ignore interval
			e.state.Hold(seg)
			return nil
		}
		e.state.Accumulator().AddIgnored(e.state.Credit(seg, true))
		return nil
	}
	return e.activity(ctx, seg, c, completed)
}

// skip reports whether seg was handled by an earlier tick. Only live runs
// skip; the in-progress segment and AFK status samples are never skipped,
// the former because it is credited by delta and the latter because a
// repeated status is a no-op.
func (e *Engine) skip(seg event.Sample, frontier time.Time) bool {
	if !e.end.IsZero() || seg.IsAFKStatus() {
		return false
	}
	if !seg.Timestamp.Before(frontier) {
		return false
	}
	return !seg.Timestamp.Equal(e.state.InProgress())
}

// status applies an AFK status sample to the state machine. Going away
// flushes the accumulator first, then commits the away period with any
// ask-away words.
func (e *Engine) status(ctx context.Context, batch *pipeline.Batch, seg event.Sample, c classify.Classification) error {
	if !c.IsAFK() {
		_, err := e.state.Transition(state.Active, seg.Timestamp)
		return e.asserter.Check(err)
	}
	switch e.state.AFK() {
	case state.Afk:
		return nil
	case state.Active:
		if err := e.flush(ctx, seg.Timestamp); err != nil {
			return err
		}
	}
	if _, err := e.state.Transition(state.Afk, seg.Timestamp); err != nil {
		if err := e.asserter.Check(err); err != nil {
			return err
		}
	}

	away := tags.New(tags.AFK).Union(classify.AskAwayTags(batch.AskAwayDuring(seg)))
	since := seg.Timestamp
	if lst := e.state.Bounds().LastStartTime; lst.After(since) {
		since = lst
	}
	rec, err := e.state.RecordReset(away, since, seg.End(), state.KindAFK)
	if err := e.asserter.Check(err); err != nil {
		return err
	}
	return e.commit(ctx, state.KindAFK, away, since, rec)
}

// flush exports what accumulated before going away.
func (e *Engine) flush(ctx context.Context, at time.Time) error {
	if lkt := e.state.Bounds().LastKnownTick; lkt.After(at) {
		at = lkt
	}
	d := e.state.Flush(at)
	if !d.Export {
		return nil
	}
	rec, err := e.state.RecordExport(d, at, state.KindFlush)
	if err := e.asserter.Check(err); err != nil {
		return err
	}
	return e.commit(ctx, state.KindFlush, d.Tags, d.Since, rec)
}

// activity handles a window segment, matched or not. A window means the
// user is at the keyboard whatever the AFK watcher said last.
func (e *Engine) activity(ctx context.Context, seg event.Sample, c classify.Classification, completed bool) error {
	if e.state.AFK() != state.Active {
		if _, err := e.state.Transition(state.Active, seg.Timestamp); err != nil {
			if err := e.asserter.Check(err); err != nil {
				return err
			}
		}
	}
	delta := e.state.Credit(seg, completed)
	acc := e.state.Accumulator()

	if c.Result == classify.Matched {
		if seg.Duration > e.cfg.Tuning.MaxMixedInterval {
			if e.state.LongCommitted(seg, c.Tags, completed) {
				return nil
			}
			// a single long activity wins over the mixed time around it
			since := seg.Timestamp
			if lst := e.state.Bounds().LastStartTime; lst.After(since) {
				since = lst
			}
			rec, err := e.state.RecordReset(c.Tags, since, seg.End(), state.KindLong)
			if err := e.asserter.Check(err); err != nil {
				return err
			}
			if !completed {
				e.state.MarkLong(seg.Timestamp, c.Tags)
			}
			return e.commit(ctx, state.KindLong, c.Tags, since, rec)
		}
		acc.AddTags(c.Tags, delta)
	} else {
		acc.AddUnknown(delta)
		e.logger.Debug("no rule matched", "segment_start", seg.Timestamp, "duration", seg.Duration,
			"app", seg.App(), "title", seg.Title())
		if e.state.UnknownOverdue() {
			end := seg.End()
			since := end.Add(-acc.Unknown)
			if lkt := e.state.Bounds().LastKnownTick; lkt.After(since) {
				since = lkt
			}
			unknown := tags.New(tags.Unknown, tags.NotAFK)
			rec, err := e.state.RecordReset(unknown, since, end, state.KindUnknown)
			if err := e.asserter.Check(err); err != nil {
				return err
			}
			return e.commit(ctx, state.KindUnknown, unknown, since, rec)
		}
	}

	d, err := e.state.Decide(seg.End())
	if err := e.asserter.Check(err); err != nil {
		return err
	}
	if !d.Export {
		return nil
	}
	rec, err := e.state.RecordExport(d, seg.End(), state.KindExport)
	if err := e.asserter.Check(err); err != nil {
		return err
	}
	return e.commit(ctx, state.KindExport, d.Tags, d.Since, rec)
}

// commit hands a decision to the ledger after the idempotence guards.
// The state has already recorded the decision; a skipped commit only
// leaves the ledger alone.
func (e *Engine) commit(ctx context.Context, kind state.Kind, candidate tags.Set, since time.Time, rec *state.ExportRecord) error {
	if rec != nil && e.recorder != nil {
		if err := e.recorder.RecordExport(ctx, *rec); err != nil {
			return fmt.Errorf("record export: %w", err)
		}
	}

	final, err := e.retagger.Apply(candidate)
	if err != nil {
		if !classify.IsExclusiveGroupError(err) {
			return err
		}
		e.logger.Warn("commit breaks an exclusive group", "tags", candidate.String(), "error", err)
		e.notify(Commit{Kind: kind, Tags: candidate, Since: since, Skipped: "exclusive group conflict"})
		return nil
	}
	final = final.Union(tags.New(tags.Marker))
	if final.Has(tags.AFK) && final.Has(tags.NotAFK) {
		return e.asserter.Check(state.NewConsistencyError(state.CodeConflictingAFKTags,
			"commit carries both afk and not-afk", map[string]string{"tags": final.String()}))
	}

	cur, err := e.tracker.Current(ctx)
	if err != nil {
		return newLedgerError("read open entry", err)
	}
	c := Commit{Kind: kind, Tags: final, Since: since}
	if c.Skipped = skipReason(cur, candidate, final); c.Skipped != "" {
		e.logger.Debug("commit skipped", "kind", string(kind), "tags", final.String(), "since", since, "reason", c.Skipped)
		e.notify(c)
		return nil
	}
	if err := e.tracker.Start(ctx, final, since); err != nil {
		return newLedgerError("start", err)
	}
	e.logger.Info("committed", "kind", string(kind), "tags", final.String(), "since", since)
	e.notify(c)
	return nil
}

// skipReason returns why committing to the ledger would be wrong or
// redundant given its open entry.
func skipReason(cur *tracker.Entry, candidate, final tags.Set) string {
	if cur == nil {
		return ""
	}
	switch {
	case cur.Tags.Has(tags.Override):
		return "open entry is pinned with override"
	case cur.Tags.Has(tags.Manual) && hasUnknown(candidate):
		return "manual entry not replaced by unknown time"
	case candidate.SubsetOf(cur.Tags), final.Equal(cur.Tags):
		return "already tracked"
	}
	return ""
}

func hasUnknown(s tags.Set) bool {
	for t := range s {
		if tags.IsUnknown(t) {
			return true
		}
	}
	return false
}
