package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/awexport/internal/state"
	"github.com/roach88/awexport/internal/tags"
)

var t0 = time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

func at(min int) time.Time { return t0.Add(time.Duration(min) * time.Minute) }

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestExport creates an export record with minimal required fields.
func createTestExport(id string, startMin, minutes int, tagList ...string) state.ExportRecord {
	return state.ExportRecord{
		ID:                id,
		Kind:              state.KindExport,
		Start:             at(startMin),
		Duration:          time.Duration(minutes) * time.Minute,
		Tags:              tags.New(tagList...),
		AccumulatorBefore: map[string]time.Duration{},
		AccumulatorAfter:  map[string]time.Duration{},
		DecisionTime:      at(startMin + minutes),
	}
}
