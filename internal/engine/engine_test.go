package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/awexport/internal/clock"
	"github.com/roach88/awexport/internal/config"
	"github.com/roach88/awexport/internal/event"
	"github.com/roach88/awexport/internal/source"
	"github.com/roach88/awexport/internal/state"
	"github.com/roach88/awexport/internal/tags"
	"github.com/roach88/awexport/internal/testutil"
	"github.com/roach88/awexport/internal/tracker"
)

var t0 = testutil.Start

func mins(n int) time.Duration { return time.Duration(n) * time.Minute }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mailConfig() *config.Config {
	cfg := config.Default()
	cfg.Rules.App = []config.AppRule{
		{Name: "mail", AppNames: []string{"thunderbird"}, Tags: []string{"mail"}},
	}
	return cfg
}

type memRecorder struct {
	records []state.ExportRecord
}

func (r *memRecorder) RecordExport(_ context.Context, rec state.ExportRecord) error {
	r.records = append(r.records, rec)
	return nil
}

type testEngine struct {
	*Engine
	ledger  *tracker.DryRun
	clock   *clock.Fake
	commits []Commit
}

func newTestEngine(t *testing.T, cfg *config.Config, src source.EventSource, ledger *tracker.DryRun, opts ...Option) *testEngine {
	t.Helper()
	idx, err := source.LoadIndex(context.Background(), src)
	require.NoError(t, err)
	if ledger == nil {
		ledger = tracker.NewDryRun(quietLogger())
	}
	te := &testEngine{ledger: ledger, clock: clock.NewFake(t0)}
	all := append([]Option{
		WithLogger(quietLogger()),
		WithClock(te.clock),
		WithCommitHook(func(c Commit) { te.commits = append(te.commits, c) }),
	}, opts...)
	te.Engine, err = New(config.MustCompile(cfg), src, idx, ledger, all...)
	require.NoError(t, err)
	return te
}

func (te *testEngine) applied() []Commit {
	var out []Commit
	for _, c := range te.commits {
		if c.Skipped == "" {
			out = append(out, c)
		}
	}
	return out
}

func mailMorning() *testutil.Builder {
	return testutil.NewBuilder().
		Window(0, mins(2), "thunderbird", "Inbox").
		Window(mins(2), mins(2), "thunderbird", "Inbox").
		Window(mins(4), mins(2), "thunderbird", "Inbox").
		Active(0, mins(6))
}

func TestNew_RequiresWindowAndAFKBuckets(t *testing.T) {
	src := source.NewFixtureSource(&source.Dump{
		Buckets: map[string]event.Bucket{"aw-watcher-window_h": {Client: event.ClientWindow}},
	})
	idx, err := source.LoadIndex(context.Background(), src)
	require.NoError(t, err)

	_, err = New(config.MustCompile(config.Default()), src, idx, tracker.NewDryRun(quietLogger()))
	assert.ErrorIs(t, err, source.ErrMissingBucket)
}

func TestRunRange_ExportsOnceThenSkipsRepeats(t *testing.T) {
	rec := &memRecorder{}
	te := newTestEngine(t, mailConfig(), mailMorning().Source(), nil,
		WithRecorder(rec), WithExportHistory(state.NewSequenceGenerator("exp")))

	require.NoError(t, te.RunRange(context.Background(), t0, t0.Add(mins(6))))

	assert.Equal(t, [][]string{
		{"timew", "start", "mail", "not-afk", "~aw", "2025-01-01T09:00:00"},
	}, te.ledger.Commands())

	require.Len(t, te.commits, 3)
	assert.Empty(t, te.commits[0].Skipped)
	assert.Equal(t, "already tracked", te.commits[1].Skipped)
	assert.Equal(t, "already tracked", te.commits[2].Skipped)

	// decisions are recorded even when the ledger already has them
	require.Len(t, rec.records, 3)
	assert.Equal(t, "exp-1", rec.records[0].ID)
	assert.Equal(t, state.KindExport, rec.records[0].Kind)
	assert.Equal(t, t0, rec.records[0].Start)
	assert.Equal(t, t0.Add(mins(2)), rec.records[1].Start)
	assert.Len(t, te.State().History(), 3)

	b := te.State().Bounds()
	assert.Equal(t, t0.Add(mins(6)), b.LastTick)
	assert.Equal(t, t0.Add(mins(6)), b.LastKnownTick)
	assert.False(t, te.State().Manual())
}

func TestRunRange_AwayPeriodWithAskAway(t *testing.T) {
	src := testutil.NewBuilder().
		Window(0, mins(2), "thunderbird", "Inbox").
		Window(mins(2), mins(2), "thunderbird", "Inbox").
		Window(mins(4), mins(2), "thunderbird", "Inbox").
		Window(mins(6), mins(2), "thunderbird", "Inbox").
		Window(mins(8), mins(2), "thunderbird", "Inbox").
		Active(0, mins(10)).
		Away(mins(10), mins(20)).
		AskAway(mins(10), mins(20), "lunch break").
		Window(mins(30), mins(2), "thunderbird", "Inbox").
		Window(mins(32), mins(2), "thunderbird", "Inbox").
		Active(mins(30), mins(10)).
		Source()
	te := newTestEngine(t, mailConfig(), src, nil)

	require.NoError(t, te.RunRange(context.Background(), t0, t0.Add(mins(40))))

	entries := te.ledger.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, tags.New("mail", tags.NotAFK, tags.Marker), entries[0].Tags)
	assert.Equal(t, t0.Add(mins(10)), entries[0].End)
	assert.Equal(t, tags.New("afk", "lunch", "break", tags.Marker), entries[1].Tags)
	assert.Equal(t, t0.Add(mins(10)), entries[1].Start)
	assert.Equal(t, t0.Add(mins(30)), entries[1].End)
	assert.Equal(t, tags.New("mail", tags.NotAFK, tags.Marker), entries[2].Tags)
	assert.Equal(t, t0.Add(mins(30)), entries[2].Start)
	assert.True(t, entries[2].Open())

	var kinds []state.Kind
	for _, c := range te.applied() {
		kinds = append(kinds, c.Kind)
	}
	assert.Equal(t, []state.Kind{state.KindExport, state.KindAFK, state.KindExport}, kinds)
	assert.Equal(t, state.Active, te.State().AFK())
}

func TestRunRange_LongSegmentWinsOutright(t *testing.T) {
	src := testutil.NewBuilder().
		Window(0, mins(10), "thunderbird", "Inbox").
		Active(0, mins(20)).
		Source()
	te := newTestEngine(t, mailConfig(), src, nil, WithExportHistory(state.NewSequenceGenerator("exp")))

	require.NoError(t, te.RunRange(context.Background(), t0, t0.Add(mins(10))))

	hist := te.State().History()
	require.Len(t, hist, 1)
	assert.Equal(t, state.KindLong, hist[0].Kind)
	assert.Equal(t, t0, hist[0].Start)
	assert.Equal(t, mins(10), hist[0].Duration)
	assert.Empty(t, te.State().Accumulator().Tags())
	assert.Len(t, te.ledger.Commands(), 1)
}

func unknownMorning() *testutil.Builder {
	b := testutil.NewBuilder().Active(0, mins(10))
	for i := 0; i < 5; i++ {
		b.Window(mins(2*i), mins(2), "gimp", "untitled.xcf")
	}
	return b
}

func TestRunRange_UnknownTimeForcedOut(t *testing.T) {
	te := newTestEngine(t, mailConfig(), unknownMorning().Source(), nil, WithExportHistory(nil))

	require.NoError(t, te.RunRange(context.Background(), t0, t0.Add(mins(10))))

	assert.Equal(t, [][]string{
		{"timew", "start", "UNKNOWN", "not-afk", "~aw", "2025-01-01T09:00:00"},
	}, te.ledger.Commands())
	hist := te.State().History()
	require.Len(t, hist, 1)
	assert.Equal(t, state.KindUnknown, hist[0].Kind)
	assert.Equal(t, t0.Add(mins(10)), hist[0].End())
}

func TestRunRange_CommitGuards(t *testing.T) {
	tests := []struct {
		name   string
		open   tags.Set
		data   *testutil.Builder
		reason string
	}{
		{
			name:   "manual entry kept over unknown time",
			open:   tags.New("meeting", tags.Manual),
			data:   unknownMorning(),
			reason: "manual entry not replaced by unknown time",
		},
		{
			name:   "override pins the open entry",
			open:   tags.New("focus", tags.Override),
			data:   mailMorning(),
			reason: "open entry is pinned with override",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := tracker.NewDryRun(quietLogger(), tracker.Entry{Start: t0.Add(-mins(30)), Tags: tt.open})
			te := newTestEngine(t, mailConfig(), tt.data.Source(), ledger)

			require.NoError(t, te.RunRange(context.Background(), t0, t0.Add(mins(10))))

			assert.Empty(t, te.ledger.Commands())
			require.NotEmpty(t, te.commits)
			for _, c := range te.commits {
				assert.Equal(t, tt.reason, c.Skipped)
			}
		})
	}
}

func TestRunRange_ExclusiveTieExportsNothing(t *testing.T) {
	cfg := mailConfig()
	cfg.Rules.App[0].Tags = []string{"4EMPLOYER", "4ME"}
	cfg.Exclusive = []config.ExclusiveGroup{{Name: "customer", Tags: []string{"4EMPLOYER", "4ME"}}}
	te := newTestEngine(t, cfg, mailMorning().Source(), nil)

	require.NoError(t, te.RunRange(context.Background(), t0, t0.Add(mins(6))))

	assert.Empty(t, te.commits)
	assert.Empty(t, te.ledger.Commands())
	assert.Equal(t, 6*time.Minute, te.State().Accumulator().Get("4ME"))
}

func TestRunRange_Bounds(t *testing.T) {
	te := newTestEngine(t, mailConfig(), mailMorning().Source(), nil)
	ctx := context.Background()

	assert.Error(t, te.RunRange(ctx, t0, time.Time{}))
	assert.Error(t, te.RunRange(ctx, t0, t0))
	assert.Error(t, te.RunRange(ctx, t0.Add(time.Hour), t0))
}

func TestRunRange_TickLimit(t *testing.T) {
	te := newTestEngine(t, mailConfig(), mailMorning().Source(), nil, WithMaxTicks(1))

	err := te.RunRange(context.Background(), t0, t0.Add(mins(6)))
	assert.True(t, IsTickLimitError(err), "got %v", err)
}

func TestTick_BeforeBegin(t *testing.T) {
	te := newTestEngine(t, mailConfig(), mailMorning().Source(), nil)
	_, err := te.Tick(context.Background())
	assert.Error(t, err)
}

func TestTick_LiveCreditsInProgressDelta(t *testing.T) {
	b := testutil.NewBuilder().
		Window(0, mins(2), "thunderbird", "Inbox").
		Window(mins(2), mins(3), "thunderbird", "Inbox").
		Active(0, mins(5))
	dump := b.Dump()
	te := newTestEngine(t, mailConfig(), source.NewFixtureSource(dump), nil)
	ctx := context.Background()

	require.NoError(t, te.Begin(ctx, time.Time{}, time.Time{}))
	progressed, err := te.Tick(ctx)
	require.NoError(t, err)
	assert.True(t, progressed)
	assert.Equal(t, t0.Add(mins(2)), te.State().InProgress())
	assert.Equal(t, time.Duration(0), te.State().Accumulator().Known)

	// the in-progress window grew by a minute
	dump.Events[testutil.WindowBucket][1].Duration = mins(4)
	dump.Events[testutil.AFKBucket][0].Duration = mins(6)

	progressed, err = te.Tick(ctx)
	require.NoError(t, err)
	assert.True(t, progressed)
	assert.Equal(t, time.Minute, te.State().Accumulator().Known)
	assert.Equal(t, t0.Add(mins(6)), te.State().Bounds().LastTick)

	// nothing new: nothing credited
	progressed, err = te.Tick(ctx)
	require.NoError(t, err)
	assert.False(t, progressed)
	assert.Equal(t, time.Minute, te.State().Accumulator().Known)
	assert.Len(t, te.ledger.Commands(), 1)
}

func TestTick_InProgressIgnoredThenClassifiedCreditsAll(t *testing.T) {
	cfg := mailConfig()
	cfg.Tuning.MinRecordingInterval = time.Hour
	cfg.Tuning.MinTagRecordingInterval = time.Hour
	b := testutil.NewBuilder().
		Window(0, time.Minute, "thunderbird", "Inbox").
		Window(time.Minute, 2*time.Second, "thunderbird", "Inbox").
		Active(0, time.Minute+2*time.Second)
	dump := b.Dump()
	te := newTestEngine(t, cfg, source.NewFixtureSource(dump), nil)
	ctx := context.Background()

	require.NoError(t, te.Begin(ctx, time.Time{}, time.Time{}))
	_, err := te.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, te.State().Accumulator().Known)
	assert.Equal(t, t0.Add(time.Minute), te.State().InProgress())
	assert.Zero(t, te.State().Accumulator().IgnoredCount)

	// the short window grew past the ignore interval
	dump.Events[testutil.WindowBucket][1].Duration = time.Minute
	dump.Events[testutil.AFKBucket][0].Duration = mins(2)

	_, err = te.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, mins(2), te.State().Accumulator().Known)
	assert.Equal(t, mins(2), te.State().Accumulator().Get("mail"))
	assert.Zero(t, te.State().Accumulator().IgnoredCount)
}

func TestTick_LongInProgressRecordedOnce(t *testing.T) {
	rec := &memRecorder{}
	b := testutil.NewBuilder().
		Window(0, time.Minute, "thunderbird", "Inbox").
		Window(time.Minute, mins(5), "thunderbird", "Inbox").
		Active(0, mins(6))
	dump := b.Dump()
	te := newTestEngine(t, mailConfig(), source.NewFixtureSource(dump), nil,
		WithRecorder(rec), WithExportHistory(state.NewSequenceGenerator("exp")))
	ctx := context.Background()

	require.NoError(t, te.Begin(ctx, time.Time{}, time.Time{}))
	for _, d := range []time.Duration{mins(5), mins(6), mins(7)} {
		dump.Events[testutil.WindowBucket][1].Duration = d
		dump.Events[testutil.AFKBucket][0].Duration = time.Minute + d
		_, err := te.Tick(ctx)
		require.NoError(t, err)
	}

	var long []state.ExportRecord
	for _, r := range rec.records {
		if r.Kind == state.KindLong {
			long = append(long, r)
		}
	}
	require.Len(t, long, 1)
	assert.Equal(t, t0.Add(time.Minute), long[0].Start)
	assert.Len(t, te.ledger.Commands(), 1)
	assert.Equal(t, t0.Add(mins(8)), te.State().Bounds().LastKnownTick)
}

func TestSkip(t *testing.T) {
	te := newTestEngine(t, mailConfig(), mailMorning().Source(), nil)
	frontier := t0.Add(mins(10))
	win := func(off time.Duration) event.Sample {
		return event.Sample{Timestamp: t0.Add(off), Duration: time.Minute, Data: map[string]any{"app": "thunderbird"}}
	}
	status := event.Sample{Timestamp: t0, Duration: time.Hour, Data: map[string]any{"status": event.StatusAFK}}

	assert.True(t, te.skip(win(mins(5)), frontier))
	assert.False(t, te.skip(win(mins(10)), frontier))
	assert.False(t, te.skip(win(mins(11)), frontier))
	assert.False(t, te.skip(status, frontier))

	// the tracked in-progress segment is credited by delta, never skipped
	te.State().Credit(win(mins(5)), false)
	assert.False(t, te.skip(win(mins(5)), frontier))

	// batch runs never skip
	te.end = t0.Add(time.Hour)
	assert.False(t, te.skip(win(mins(1)), frontier))
}

func TestSkipReason(t *testing.T) {
	open := func(s ...string) *tracker.Entry {
		return &tracker.Entry{ID: "@1", Start: t0, Tags: tags.New(s...)}
	}
	tests := []struct {
		name      string
		cur       *tracker.Entry
		candidate tags.Set
		final     tags.Set
		want      string
	}{
		{"nothing tracked", nil, tags.New("mail"), tags.New("mail", "~aw"), ""},
		{"override", open("focus", "override"), tags.New("mail"), tags.New("mail", "~aw"), "open entry is pinned with override"},
		{"manual vs unknown", open("meeting", "manual"), tags.New("UNKNOWN", "not-afk"), tags.New("UNKNOWN", "not-afk", "~aw"), "manual entry not replaced by unknown time"},
		{"manual vs activity", open("meeting", "manual"), tags.New("mail"), tags.New("mail", "~aw"), ""},
		{"candidate subset", open("mail", "4ME", "~aw"), tags.New("mail"), tags.New("mail", "~aw"), "already tracked"},
		{"final equal", open("mail", "4ME", "~aw"), tags.New("mail", "4ME", "~aw"), tags.New("mail", "4ME", "~aw"), "already tracked"},
		{"different", open("mail", "~aw"), tags.New("chat"), tags.New("chat", "~aw"), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, skipReason(tt.cur, tt.candidate, tt.final))
		})
	}
}

func TestTick_AFKMismatch(t *testing.T) {
	tests := []struct {
		mode    AssertMode
		wantErr bool
		want    int
	}{
		{AssertAbort, true, 0},
		{AssertLog, false, 0},
		{AssertCollect, false, 1},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			ledger := tracker.NewDryRun(quietLogger(), tracker.Entry{Start: t0, Tags: tags.New("mail", tags.NotAFK, tags.Marker)})
			te := newTestEngine(t, mailConfig(), testutil.NewBuilder().Source(), ledger,
				WithAsserter(NewAsserter(tt.mode, quietLogger())))
			ctx := context.Background()

			require.NoError(t, te.Begin(ctx, t0, t0.Add(time.Hour)))
			_, err := te.State().Transition(state.Afk, t0)
			require.NoError(t, err)

			_, err = te.Tick(ctx)
			if tt.wantErr {
				assert.True(t, state.IsConsistencyError(err, state.CodeAFKMismatch), "got %v", err)
			} else {
				assert.NoError(t, err)
			}
			assert.Len(t, te.Asserter().Collected(), tt.want)
		})
	}
}

func TestBegin_RetagsOpenEntry(t *testing.T) {
	cfg := mailConfig()
	cfg.Retag = []config.RetagRule{{Name: "employer", SourceTags: []string{"acme"}, Add: []string{"4EMPLOYER"}}}
	since := t0.Add(-time.Hour)
	ledger := tracker.NewDryRun(quietLogger(), tracker.Entry{Start: since, Tags: tags.New("acme", tags.Marker)})
	te := newTestEngine(t, cfg, testutil.NewBuilder().Source(), ledger)

	require.NoError(t, te.Begin(context.Background(), time.Time{}, time.Time{}))

	assert.Equal(t, [][]string{{"timew", "tag", "@1", "4EMPLOYER"}}, te.ledger.Commands())
	require.Len(t, te.commits, 1)
	assert.Equal(t, KindRetag, te.commits[0].Kind)
	assert.Equal(t, tags.New("acme", "4EMPLOYER", tags.Marker), te.commits[0].Tags)

	// live runs resume from the open entry we started
	assert.False(t, te.State().Manual())
	assert.Equal(t, since, te.State().Bounds().LastTick)
}

func TestBegin_ManualEntry(t *testing.T) {
	ledger := tracker.NewDryRun(quietLogger(), tracker.Entry{Start: t0, Tags: tags.New("meeting")})
	te := newTestEngine(t, mailConfig(), testutil.NewBuilder().Source(), ledger)

	require.NoError(t, te.Begin(context.Background(), time.Time{}, time.Time{}))
	assert.True(t, te.State().Manual())
	assert.Empty(t, te.ledger.Commands())
}

func TestRun_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	te := newTestEngine(t, mailConfig(), mailMorning().Source(), nil,
		WithCommitHook(func(Commit) { cancel() }))

	err := te.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, te.Ticks())
}

type failingSource struct {
	source.EventSource
	fail bool
}

func (f *failingSource) Events(ctx context.Context, bucketID string, s, e time.Time) ([]event.Sample, error) {
	if f.fail {
		return nil, errors.New("connection refused")
	}
	return f.EventSource.Events(ctx, bucketID, s, e)
}

func TestTick_SourceErrorIsRuntimeError(t *testing.T) {
	src := &failingSource{EventSource: mailMorning().Source()}
	te := newTestEngine(t, mailConfig(), src, nil)
	ctx := context.Background()
	require.NoError(t, te.Begin(ctx, t0, t0.Add(mins(6))))

	src.fail = true
	_, err := te.Tick(ctx)
	assert.True(t, IsSourceError(err), "got %v", err)
}

func TestAsserter(t *testing.T) {
	violation := state.NewConsistencyError(state.CodeTimeBounds, "broken", nil)
	other := errors.New("disk full")

	tests := []struct {
		mode      AssertMode
		violation error
		collected int
	}{
		{AssertAbort, violation, 0},
		{AssertLog, nil, 0},
		{AssertCollect, nil, 1},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			a := NewAsserter(tt.mode, quietLogger())
			assert.NoError(t, a.Check(nil))
			assert.Equal(t, other, a.Check(other))
			assert.Equal(t, tt.violation, a.Check(violation))
			assert.Len(t, a.Collected(), tt.collected)
		})
	}
}

func TestParseAssertMode(t *testing.T) {
	for in, want := range map[string]AssertMode{"": AssertAbort, "abort": AssertAbort, "log": AssertLog, "collect": AssertCollect} {
		got, err := ParseAssertMode(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseAssertMode("panic")
	assert.Error(t, err)
	assert.Equal(t, AssertAbort, NewAsserter("", nil).Mode())
}
