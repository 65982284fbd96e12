// Package state owns the mutable state of a run: the AFK state machine, the
// per-tag accumulator, the time bounds and the in-progress segment
// bookkeeping. It decides when accumulated time should be committed but
// never talks to the ledger itself.
package state

import (
	"log/slog"
	"time"

	"github.com/roach88/awexport/internal/config"
	"github.com/roach88/awexport/internal/event"
	"github.com/roach88/awexport/internal/tags"
)

// Decision is the export decision for one point in time.
type Decision struct {
	Export bool
	Tags   tags.Set
	Since  time.Time
	// Threshold is the per-tag threshold after exclusivity resolution.
	Threshold time.Duration
}

// Manager holds all state of one run. It is not safe for concurrent use;
// the engine loop is its only caller.
type Manager struct {
	tuning    config.Tuning
	conflicts func(tags.Set) bool
	logger    *slog.Logger
	ids       IDGenerator

	afk      AfkState
	afkSince time.Time
	manual   bool
	bounds   Bounds
	acc      *Accumulator

	// in-progress segment already credited
	currentStart     time.Time
	currentProcessed time.Duration

	// in-progress segment already committed as a long activity
	longStart time.Time
	longTags  tags.Set

	trackExports bool
	history      []ExportRecord
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithExportHistory records an ExportRecord for every commit.
func WithExportHistory(ids IDGenerator) Option {
	return func(m *Manager) {
		m.trackExports = true
		if ids != nil {
			m.ids = ids
		}
	}
}

// NewManager creates a manager. conflicts reports whether a tag set breaks
// an exclusive group; nil means no groups.
func NewManager(tuning config.Tuning, conflicts func(tags.Set) bool, opts ...Option) *Manager {
	if conflicts == nil {
		conflicts = func(tags.Set) bool { return false }
	}
	m := &Manager{
		tuning:    tuning,
		conflicts: conflicts,
		logger:    slog.Default(),
		ids:       UUIDv7Generator{},
		manual:    true,
		acc:       NewAccumulator(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Start positions every bound at t. Call once before the first segment.
func (m *Manager) Start(t time.Time) {
	m.bounds = Bounds{LastTick: t, LastKnownTick: t, LastStartTime: t}
}

// AFK returns the current AFK state.
func (m *Manager) AFK() AfkState { return m.afk }

// Bounds returns a copy of the time bounds.
func (m *Manager) Bounds() Bounds { return m.bounds }

// Accumulator exposes the accumulator for inspection.
func (m *Manager) Accumulator() *Accumulator { return m.acc }

// Manual reports whether the ledger's open entry was started by someone
// else, in which case commit times are derived from known activity.
func (m *Manager) Manual() bool { return m.manual }

// SetManual sets the manual tracking flag.
func (m *Manager) SetManual(v bool) { m.manual = v }

// History returns the recorded exports.
func (m *Manager) History() []ExportRecord {
	return append([]ExportRecord(nil), m.history...)
}

// AdvanceTick moves LastTick forward to t. Earlier values are ignored.
func (m *Manager) AdvanceTick(t time.Time) error {
	m.bounds.LastTick = later(m.bounds.LastTick, t)
	return m.bounds.validate()
}

// Transition moves the state machine to next at time at. It reports whether
// the state changed. Any change resets the accumulator.
func (m *Manager) Transition(next AfkState, at time.Time) (bool, error) {
	if next == Unknown {
		return false, NewConsistencyError(CodeInvalidTransition, "cannot transition to unknown",
			map[string]string{"from": m.afk.String()})
	}
	if next == m.afk {
		return false, nil
	}
	prev := m.afk
	if prev != Unknown {
		m.logger.Info("afk state changed", "from", prev.String(), "to", next.String(),
			"elapsed", at.Sub(m.afkSince).Round(time.Second).String())
	}
	m.afk = next
	m.afkSince = at
	m.acc.Reset()
	switch next {
	case Active:
		m.bounds.LastNotAFK = at
		if prev == Afk {
			// the away period was committed up to the return
			m.bounds.LastKnownTick = later(m.bounds.LastKnownTick, at)
		}
	case Afk:
		m.bounds.LastNotAFK = time.Time{}
	}
	return true, m.bounds.validate()
}

// Credit returns the part of seg not yet accounted for and marks it as
// accounted. An in-progress segment is credited incrementally across polls;
// once it shows up completed, only the remainder is credited.
func (m *Manager) Credit(seg event.Sample, completed bool) time.Duration {
	if !seg.Timestamp.Equal(m.currentStart) || m.currentStart.IsZero() {
		if completed {
			return seg.Duration
		}
		m.currentStart = seg.Timestamp
		m.currentProcessed = seg.Duration
		return seg.Duration
	}
	delta := seg.Duration - m.currentProcessed
	if delta < 0 {
		// cut short by a late AFK sample; the surplus was credited already
		m.logger.Debug("in-progress segment shrank", "segment_start", seg.Timestamp,
			"processed", m.currentProcessed, "duration", seg.Duration)
		delta = 0
	}
	if completed {
		m.currentStart, m.currentProcessed = time.Time{}, 0
	} else if seg.Duration > m.currentProcessed {
		m.currentProcessed = seg.Duration
	}
	return delta
}

// Hold tracks seg as the in-progress segment without crediting any of it.
// A segment too short to classify yet is credited in full once it is.
func (m *Manager) Hold(seg event.Sample) {
	if !seg.Timestamp.Equal(m.currentStart) {
		m.currentStart, m.currentProcessed = seg.Timestamp, 0
	}
}

// MarkLong remembers that the in-progress segment starting at start was
// committed as a long activity with tags t.
func (m *Manager) MarkLong(start time.Time, t tags.Set) {
	m.longStart, m.longTags = start, t.Clone()
}

// LongCommitted reports whether seg was already committed as a long
// activity with tags t on an earlier poll. A repeat only extends
// LastKnownTick. The mark is dropped once the segment completes or its
// tags change.
func (m *Manager) LongCommitted(seg event.Sample, t tags.Set, completed bool) bool {
	same := !m.longStart.IsZero() && seg.Timestamp.Equal(m.longStart) && t.Equal(m.longTags)
	if completed || !same {
		m.longStart, m.longTags = time.Time{}, nil
	}
	if same {
		m.bounds.LastKnownTick = later(m.bounds.LastKnownTick, seg.End())
	}
	return same
}

// InProgress returns the start of the tracked in-progress segment, or the
// zero time.
func (m *Manager) InProgress() time.Time { return m.currentStart }

// recordingThreshold is the minimum both for time since the last commit and
// for the longest activity tag.
func (m *Manager) recordingThreshold() time.Duration {
	return time.Duration(float64(m.tuning.MinRecordingInterval) * (1 + m.tuning.StickynessFactor))
}

// Decide evaluates whether the accumulator should be exported at time at.
func (m *Manager) Decide(at time.Time) (Decision, error) {
	elapsed := at.Sub(m.bounds.LastKnownTick)
	if elapsed < 0 {
		return Decision{}, NewConsistencyError(CodeNegativeInterval, "decision time precedes last known tick",
			map[string]string{"at": at.Format(time.RFC3339), "last_known_tick": m.bounds.LastKnownTick.Format(time.RFC3339)})
	}
	thr := m.recordingThreshold()
	if elapsed <= thr || !m.acc.Above(thr).HasActivity() {
		return Decision{}, nil
	}
	return m.resolve(at), nil
}

// Flush resolves the accumulator without the recording thresholds. Used
// before going away so active time is not lost.
func (m *Manager) Flush(at time.Time) Decision {
	if !m.acc.Tags().HasActivity() {
		return Decision{}
	}
	return m.resolve(at)
}

// resolve raises the per-tag threshold one second at a time until the tags
// above it fit the exclusive groups. An export set without activity tags is
// not exported.
func (m *Manager) resolve(at time.Time) Decision {
	threshold := m.tuning.MinTagRecordingInterval
	for m.conflicts(m.acc.Above(threshold)) {
		threshold += time.Second
	}
	set := m.acc.Above(threshold)
	if !set.HasActivity() {
		return Decision{Threshold: threshold}
	}
	return Decision{Export: true, Tags: set, Since: m.since(at), Threshold: threshold}
}

func (m *Manager) since(at time.Time) time.Time {
	if !m.manual {
		return m.bounds.LastKnownTick
	}
	s := at.Add(-m.acc.Known)
	if s.Before(m.bounds.LastStartTime) {
		s = m.bounds.LastStartTime
	}
	if s.After(at) {
		s = at
	}
	return s
}

// RecordExport applies an exported decision: the exported tags decay by
// the stickyness factor, every other tag is dropped.
func (m *Manager) RecordExport(d Decision, at time.Time, kind Kind) (*ExportRecord, error) {
	before := m.acc.Snapshot()
	m.acc.Decay(d.Tags, m.tuning.StickynessFactor)
	return m.recordCommit(kind, d.Tags, d.Since, at, before)
}

// RecordReset records a commit that clears the accumulator entirely: long
// segments, forced unknown time and the away period.
func (m *Manager) RecordReset(t tags.Set, since, at time.Time, kind Kind) (*ExportRecord, error) {
	before := m.acc.Snapshot()
	m.acc.Reset()
	return m.recordCommit(kind, t, since, at, before)
}

func (m *Manager) recordCommit(kind Kind, t tags.Set, since, at time.Time, before map[string]time.Duration) (*ExportRecord, error) {
	if since.After(at) {
		return nil, NewConsistencyError(CodeNegativeInterval, "commit starts after its decision time",
			map[string]string{"since": since.Format(time.RFC3339), "at": at.Format(time.RFC3339)})
	}
	m.manual = false
	m.bounds.LastKnownTick = later(m.bounds.LastKnownTick, at)
	m.bounds.LastStartTime = since
	if err := m.bounds.validate(); err != nil {
		return nil, err
	}
	if !m.trackExports {
		return nil, nil
	}
	rec := ExportRecord{
		ID:                m.ids.Generate(),
		Kind:              kind,
		Start:             since,
		Duration:          at.Sub(since),
		Tags:              t.Clone(),
		AccumulatorBefore: before,
		AccumulatorAfter:  m.acc.Snapshot(),
		DecisionTime:      at,
	}
	m.history = append(m.history, rec)
	return &rec, nil
}

// UnknownOverdue reports whether unclassified time exceeds twice the mixed
// interval and should be forced out.
func (m *Manager) UnknownOverdue() bool {
	return m.acc.Unknown > 2*m.tuning.MaxMixedInterval
}

// Summary is a snapshot for diagnostics.
type Summary struct {
	AFK          string
	Manual       bool
	Bounds       Bounds
	Known        time.Duration
	Unknown      time.Duration
	Ignored      time.Duration
	IgnoredCount int
	Accumulated  map[string]time.Duration
	Exports      int
}

// Summary returns the current state for reporting.
func (m *Manager) Summary() Summary {
	return Summary{
		AFK:          m.afk.String(),
		Manual:       m.manual,
		Bounds:       m.bounds,
		Known:        m.acc.Known,
		Unknown:      m.acc.Unknown,
		Ignored:      m.acc.Ignored,
		IgnoredCount: m.acc.IgnoredCount,
		Accumulated:  m.acc.Snapshot(),
		Exports:      len(m.history),
	}
}
