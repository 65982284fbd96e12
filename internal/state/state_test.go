package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/awexport/internal/config"
	"github.com/roach88/awexport/internal/event"
	"github.com/roach88/awexport/internal/tags"
)

var t0 = time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

func sec(n int) time.Duration { return time.Duration(n) * time.Second }

func exclusive(groups ...[]string) func(tags.Set) bool {
	return func(s tags.Set) bool {
		for _, g := range groups {
			n := 0
			for _, t := range g {
				if s.Has(t) {
					n++
				}
			}
			if n > 1 {
				return true
			}
		}
		return false
	}
}

func newManager(t *testing.T, tuning config.Tuning, opts ...Option) *Manager {
	t.Helper()
	m := NewManager(tuning, exclusive([]string{"4EMPLOYER", "4ME"}), opts...)
	m.Start(t0)
	m.SetManual(false)
	return m
}

func TestAfkState_String(t *testing.T) {
	assert.Equal(t, "unknown", Unknown.String())
	assert.Equal(t, "afk", Afk.String())
	assert.Equal(t, "active", Active.String())
}

func TestTransition(t *testing.T) {
	m := newManager(t, config.DefaultTuning())
	m.Accumulator().AddTags(tags.New("work"), sec(30))

	changed, err := m.Transition(Active, t0)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, Active, m.AFK())
	assert.Equal(t, t0, m.Bounds().LastNotAFK)
	assert.Zero(t, m.Accumulator().Get("work"), "transition resets")

	m.Accumulator().AddTags(tags.New("work"), sec(30))
	changed, err = m.Transition(Active, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, sec(30), m.Accumulator().Get("work"), "same state is a no-op")

	changed, err = m.Transition(Afk, t0.Add(2*time.Minute))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, m.Bounds().LastNotAFK.IsZero())

	_, err = m.Transition(Unknown, t0.Add(3*time.Minute))
	require.Error(t, err)
	assert.True(t, IsConsistencyError(err, CodeInvalidTransition))
	assert.Equal(t, Afk, m.AFK())
}

func TestTransition_ReturnMovesLastKnownTick(t *testing.T) {
	m := newManager(t, config.DefaultTuning())
	require.NoError(t, m.AdvanceTick(t0.Add(10*time.Minute)))
	_, err := m.Transition(Afk, t0)
	require.NoError(t, err)

	_, err = m.Transition(Active, t0.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, t0.Add(5*time.Minute), m.Bounds().LastKnownTick)

	// a return past LastTick breaks the bounds
	_, err = m.Transition(Afk, t0.Add(6*time.Minute))
	require.NoError(t, err)
	_, err = m.Transition(Active, t0.Add(11*time.Minute))
	assert.True(t, IsConsistencyError(err, CodeTimeBounds))
}

func TestDecide_EqualExclusiveTagsDoNotExport(t *testing.T) {
	tuning := config.DefaultTuning()
	tuning.MinRecordingInterval = sec(45)
	tuning.MinTagRecordingInterval = sec(20)
	m := newManager(t, tuning)
	for _, tag := range []string{"4EMPLOYER", "4ME", "work", "personal"} {
		m.Accumulator().AddTags(tags.New(tag), sec(55))
	}

	d, err := m.Decide(t0.Add(sec(110)))
	require.NoError(t, err)
	assert.False(t, d.Export)
	assert.Equal(t, sec(55), d.Threshold)
}

func TestDecide(t *testing.T) {
	tuning := config.DefaultTuning()
	tuning.MinRecordingInterval = sec(45)
	tuning.MinTagRecordingInterval = sec(20)
	tuning.StickynessFactor = 0.1
	// recording threshold is 49.5s

	tests := []struct {
		name      string
		acc       map[string]int
		at        int
		export    bool
		tags      []string
		threshold time.Duration
	}{
		{"too soon", map[string]int{"work": 100}, 49, false, nil, 0},
		{"no activity tag long enough", map[string]int{"work": 49, "not-afk": 100}, 200, false, nil, 0},
		{"only special tags", map[string]int{"not-afk": 100, "manual": 100}, 200, false, nil, 0},
		{"plain export", map[string]int{"work": 60, "mail": 21, "chat": 20, "not-afk": 101}, 110, true, []string{"mail", "not-afk", "work"}, sec(20)},
		{"exclusive conflict raises threshold", map[string]int{"4EMPLOYER": 60, "4ME": 55, "work": 60}, 110, true, []string{"4EMPLOYER", "work"}, sec(55)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newManager(t, tuning)
			for tag, n := range tt.acc {
				m.Accumulator().AddTags(tags.New(tag), sec(n))
			}
			d, err := m.Decide(t0.Add(sec(tt.at)))
			require.NoError(t, err)
			assert.Equal(t, tt.export, d.Export)
			if tt.export {
				assert.Equal(t, tt.tags, d.Tags.Sorted())
				assert.Equal(t, tt.threshold, d.Threshold)
				assert.Equal(t, t0, d.Since)
			}
		})
	}
}

func TestDecide_NegativeInterval(t *testing.T) {
	m := newManager(t, config.DefaultTuning())
	_, err := m.Decide(t0.Add(-time.Second))
	assert.True(t, IsConsistencyError(err, CodeNegativeInterval))
}

func TestDecide_ManualSinceFromKnownTime(t *testing.T) {
	m := newManager(t, config.DefaultTuning())
	m.SetManual(true)
	m.Accumulator().AddTags(tags.New("work", "not-afk"), sec(200))
	require.NoError(t, m.AdvanceTick(t0.Add(sec(600))))

	d, err := m.Decide(t0.Add(sec(600)))
	require.NoError(t, err)
	require.True(t, d.Export)
	assert.Equal(t, t0.Add(sec(400)), d.Since)
}

func TestRecordExport_Decay(t *testing.T) {
	tuning := config.DefaultTuning()
	tuning.StickynessFactor = 0.5
	m := newManager(t, tuning, WithExportHistory(NewSequenceGenerator("exp")))
	m.Accumulator().AddTags(tags.New("work", "not-afk"), sec(100))
	m.Accumulator().AddTags(tags.New("mail"), sec(10))
	m.Accumulator().AddUnknown(sec(5))
	at := t0.Add(sec(300))
	require.NoError(t, m.AdvanceTick(at))

	rec, err := m.RecordExport(Decision{Export: true, Tags: tags.New("work", "not-afk", "gone"), Since: t0}, at, KindExport)
	require.NoError(t, err)

	assert.Equal(t, map[string]time.Duration{"work": sec(50), "not-afk": sec(50)}, m.Accumulator().Snapshot())
	assert.Zero(t, m.Accumulator().Known)
	assert.Zero(t, m.Accumulator().Unknown)
	assert.False(t, m.Manual())

	b := m.Bounds()
	assert.Equal(t, at, b.LastKnownTick)
	assert.Equal(t, t0, b.LastStartTime)

	require.NotNil(t, rec)
	assert.Equal(t, "exp-1", rec.ID)
	assert.Equal(t, sec(300), rec.Duration)
	assert.Equal(t, at, rec.End())
	assert.Equal(t, sec(10), rec.AccumulatorBefore["mail"])
	assert.Len(t, m.History(), 1)
}

func TestRecordCommit_RejectsLaterStart(t *testing.T) {
	m := newManager(t, config.DefaultTuning())
	_, err := m.RecordReset(tags.New("x"), t0.Add(sec(10)), t0.Add(sec(5)), KindLong)
	assert.True(t, IsConsistencyError(err, CodeNegativeInterval))
}

func TestBounds_Validate(t *testing.T) {
	m := newManager(t, config.DefaultTuning())
	_, err := m.RecordReset(tags.New("x"), t0, t0.Add(time.Minute), KindLong)
	require.Error(t, err, "known tick may not pass last tick")
	assert.True(t, IsConsistencyError(err, CodeTimeBounds))
	ce, ok := AsConsistencyError(err)
	require.True(t, ok)
	assert.Contains(t, ce.Error(), "last_tick=")
}

func TestAdvanceTick_Monotonic(t *testing.T) {
	m := newManager(t, config.DefaultTuning())
	require.NoError(t, m.AdvanceTick(t0.Add(time.Hour)))
	require.NoError(t, m.AdvanceTick(t0.Add(time.Minute)))
	assert.Equal(t, t0.Add(time.Hour), m.Bounds().LastTick)
}

func TestCredit_InProgressIsIdempotent(t *testing.T) {
	m := newManager(t, config.DefaultTuning())
	seg := event.Sample{Timestamp: t0, Data: map[string]any{"app": "emacs"}}

	var total time.Duration
	for _, d := range []int{10, 25, 25, 40} {
		seg.Duration = sec(d)
		total += m.Credit(seg, false)
	}
	assert.Equal(t, sec(40), total)
	assert.Equal(t, t0, m.InProgress())

	seg.Duration = sec(48)
	total += m.Credit(seg, true)
	assert.Equal(t, sec(48), total)
	assert.True(t, m.InProgress().IsZero())

	other := event.Sample{Timestamp: t0.Add(time.Minute), Duration: sec(7)}
	assert.Equal(t, sec(7), m.Credit(other, true))
}

func TestCredit_ShrunkSegmentCreditsNothing(t *testing.T) {
	m := newManager(t, config.DefaultTuning())
	seg := event.Sample{Timestamp: t0, Duration: sec(200)}
	m.Credit(seg, false)
	seg.Duration = sec(100)
	assert.Zero(t, m.Credit(seg, true))
}

func TestHold_CreditsWholeSegmentLater(t *testing.T) {
	m := newManager(t, config.DefaultTuning())
	seg := event.Sample{Timestamp: t0, Duration: sec(2)}

	m.Hold(seg)
	assert.Equal(t, t0, m.InProgress())
	// a second short poll keeps nothing credited
	seg.Duration = sec(2)
	m.Hold(seg)

	seg.Duration = sec(60)
	assert.Equal(t, sec(60), m.Credit(seg, false))
	seg.Duration = sec(70)
	assert.Equal(t, sec(10), m.Credit(seg, true))
}

func TestLongCommitted(t *testing.T) {
	m := newManager(t, config.DefaultTuning())
	mail := tags.New("mail", "not-afk")
	seg := event.Sample{Timestamp: t0, Duration: sec(300)}

	assert.False(t, m.LongCommitted(seg, mail, false))
	m.MarkLong(seg.Timestamp, mail)

	seg.Duration = sec(360)
	require.NoError(t, m.AdvanceTick(seg.End()))
	assert.True(t, m.LongCommitted(seg, mail, false))
	assert.Equal(t, seg.End(), m.Bounds().LastKnownTick)

	// different tags: commit again
	assert.False(t, m.LongCommitted(seg, tags.New("chat", "not-afk"), false))
	assert.False(t, m.LongCommitted(seg, mail, false))

	// completion consumes the mark
	m.MarkLong(seg.Timestamp, mail)
	assert.True(t, m.LongCommitted(seg, mail, true))
	assert.False(t, m.LongCommitted(seg, mail, true))
}

func TestFlush(t *testing.T) {
	m := newManager(t, config.DefaultTuning())
	assert.False(t, m.Flush(t0).Export)

	m.Accumulator().AddTags(tags.New("work", "not-afk"), sec(60))
	require.NoError(t, m.AdvanceTick(t0.Add(sec(60))))
	d := m.Flush(t0.Add(sec(60)))
	assert.True(t, d.Export)
	assert.Equal(t, []string{"not-afk", "work"}, d.Tags.Sorted())
}

func TestUnknownOverdue(t *testing.T) {
	m := newManager(t, config.DefaultTuning())
	m.Accumulator().AddUnknown(sec(480))
	assert.False(t, m.UnknownOverdue())
	m.Accumulator().AddUnknown(time.Second)
	assert.True(t, m.UnknownOverdue())
}

func TestAccumulator(t *testing.T) {
	a := NewAccumulator()
	a.AddTags(tags.New("a", "b"), sec(10))
	a.AddTags(tags.New("a"), sec(5))
	a.AddIgnored(sec(1))
	a.AddIgnored(sec(2))

	assert.Equal(t, sec(15), a.Get("a"))
	assert.Equal(t, sec(15), a.Known)
	assert.Equal(t, []string{"a"}, a.Above(sec(10)).Sorted())
	assert.Equal(t, []string{"a", "b"}, a.Tags().Sorted())

	a.Reset()
	assert.Empty(t, a.Snapshot())
	assert.Equal(t, 2, a.IgnoredCount, "ignored stats survive resets")
	assert.Equal(t, sec(3), a.Ignored)
}

func TestSummaryAndIDs(t *testing.T) {
	m := newManager(t, config.DefaultTuning())
	s := m.Summary()
	assert.Equal(t, "unknown", s.AFK)
	assert.Equal(t, 0, s.Exports)

	id := UUIDv7Generator{}.Generate()
	assert.Len(t, id, 36)
	assert.Equal(t, "7", id[14:15])
}
