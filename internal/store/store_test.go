package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/awexport/internal/state"
	"github.com/roach88/awexport/internal/tags"
)

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)
	assert.NoError(t, s.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, s.verifyPragma("foreign_keys", "1"))
	assert.NoError(t, s.verifyPragma("user_version", "1"))
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "again.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.WriteExport(context.Background(), "", createTestExport("e1", 0, 5, "coding")))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.ReadExports(context.Background(), time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestOpen_MigratesV0(t *testing.T) {
	path := filepath.Join(t.TempDir(), "v0.db")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE exports (
		seq INTEGER PRIMARY KEY AUTOINCREMENT, id TEXT NOT NULL UNIQUE, kind TEXT NOT NULL,
		start TEXT NOT NULL, duration_ms INTEGER NOT NULL, tags TEXT NOT NULL,
		accumulator_before TEXT NOT NULL DEFAULT '{}', accumulator_after TEXT NOT NULL DEFAULT '{}',
		decision_time TEXT NOT NULL)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()
	assert.NoError(t, s.verifyPragma("user_version", "1"))
	assert.NoError(t, s.WriteExport(context.Background(), "run-1", createTestExport("e1", 0, 5, "coding")))
}

func TestOpen_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "awexport", "history.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.FileExists(t, path)
}

func TestOpen_RejectsNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "future.db")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec("PRAGMA user_version = 99")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = Open(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "newer than supported")
}

func TestOpen_Memory(t *testing.T) {
	s, err := Open(Memory)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.WriteExport(context.Background(), "", createTestExport("e1", 0, 5, "coding")))
	got, err := s.ReadExports(context.Background(), time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestExports_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec := createTestExport("e1", 0, 7, "coding", "~aw", "R&D <x>")
	rec.Duration += 1500 * time.Millisecond
	rec.AccumulatorBefore = map[string]time.Duration{"coding": 7 * time.Minute, "mail": 30 * time.Second}
	rec.AccumulatorAfter = map[string]time.Duration{"coding": 42 * time.Second}
	require.NoError(t, s.WriteExport(ctx, "", rec))
	// idempotent
	require.NoError(t, s.WriteExport(ctx, "", rec))

	got, err := s.ReadExport(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, rec.Start, got.Start)
	assert.Equal(t, rec.Duration, got.Duration)
	assert.Equal(t, rec.DecisionTime, got.DecisionTime)
	assert.True(t, rec.Tags.Equal(got.Tags))
	assert.Equal(t, rec.AccumulatorBefore, got.AccumulatorBefore)
	assert.Equal(t, rec.AccumulatorAfter, got.AccumulatorAfter)
	assert.Equal(t, state.KindExport, got.Kind)

	_, err = s.ReadExport(ctx, "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestReadExports_RangeAndOrder(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	// inserted out of time order; reads follow insertion order
	require.NoError(t, s.WriteExport(ctx, "", createTestExport("b", 30, 10, "b")))
	require.NoError(t, s.WriteExport(ctx, "", createTestExport("a", 0, 10, "a")))
	require.NoError(t, s.WriteExport(ctx, "", createTestExport("c", 60, 10, "c")))

	all, err := s.ReadExports(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)
	ids := []string{}
	for _, r := range all {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"b", "a", "c"}, ids)

	some, err := s.ReadExports(ctx, at(0), at(60))
	require.NoError(t, err)
	assert.Len(t, some, 2)
}

func TestRuns(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	run, err := s.StartRun(ctx, "run-1", "batch", at(0))
	require.NoError(t, err)
	require.NoError(t, run.RecordExport(ctx, createTestExport("e1", 0, 5, "coding")))
	require.NoError(t, run.Finish(ctx, at(10), 4, state.Summary{
		Ignored: 9 * time.Second, IgnoredCount: 3, Unknown: time.Minute, Exports: 1,
	}))
	_, err = s.StartRun(ctx, "run-2", "live", at(20))
	require.NoError(t, err)

	runs, err := s.ReadRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].ID)
	assert.True(t, runs[0].FinishedAt.IsZero())

	r := runs[1]
	assert.Equal(t, "batch", r.Mode)
	assert.Equal(t, at(10), r.FinishedAt)
	assert.Equal(t, 4, r.Ticks)
	assert.Equal(t, 9*time.Second, r.Ignored)
	assert.Equal(t, 3, r.IgnoredCount)
	assert.Equal(t, time.Minute, r.Unknown)
	assert.Equal(t, 1, r.Exports)

	limited, err := s.ReadRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestLedgerTracker(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	l := NewLedgerTracker(s, state.NewSequenceGenerator("iv"))

	cur, err := l.Current(ctx)
	require.NoError(t, err)
	assert.Nil(t, cur)

	require.NoError(t, l.Start(ctx, tags.New("coding", "~aw"), at(0)))
	require.NoError(t, l.Start(ctx, tags.New("mail", "~aw"), at(20)))
	require.NoError(t, l.Retag(ctx, tags.New("urgent")))

	cur, err = l.Current(ctx)
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, at(20), cur.Start)
	assert.Equal(t, []string{"mail", "urgent", "~aw"}, cur.Tags.Sorted())

	// backfill inside the first interval splits it
	require.NoError(t, l.Track(ctx, at(5), at(10), tags.New("call")))

	all, err := l.Intervals(ctx, at(0), time.Time{})
	require.NoError(t, err)
	type span struct {
		start, end int
		tags       string
	}
	var got []span
	for _, e := range all {
		end := -1
		if !e.Open() {
			end = int(e.End.Sub(t0) / time.Minute)
		}
		got = append(got, span{int(e.Start.Sub(t0) / time.Minute), end, e.Tags.String()})
	}
	assert.Equal(t, []span{
		{0, 5, "coding ~aw"},
		{5, 10, "call"},
		{10, 20, "coding ~aw"},
		{20, -1, "mail urgent ~aw"},
	}, got)

	assert.Error(t, l.Track(ctx, at(5), at(5), tags.New("x")))
}

func TestIsTransientSQLiteErr(t *testing.T) {
	assert.False(t, isTransientSQLiteErr(assert.AnError))
	assert.True(t, isTransientSQLiteErr(errString("database is locked")))
	assert.False(t, isTransientSQLiteErr(nil))
}

type errString string

func (e errString) Error() string { return string(e) }
