package state

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/awexport/internal/tags"
)

// Kind says why a commit happened.
type Kind string

const (
	// KindExport is a regular accumulator export.
	KindExport Kind = "export"
	// KindFlush is the accumulator flushed before going away.
	KindFlush Kind = "flush"
	// KindAFK is the away period itself.
	KindAFK Kind = "afk"
	// KindLong is a single segment longer than the mixed interval.
	KindLong Kind = "long"
	// KindUnknown is unclassified time forced out.
	KindUnknown Kind = "unknown"
)

// ExportRecord captures one commit decision and the accumulator around it.
type ExportRecord struct {
	ID                string
	Kind              Kind
	Start             time.Time
	Duration          time.Duration
	Tags              tags.Set
	AccumulatorBefore map[string]time.Duration
	AccumulatorAfter  map[string]time.Duration
	DecisionTime      time.Time
}

// End is the end of the committed interval.
func (r ExportRecord) End() time.Time {
	return r.Start.Add(r.Duration)
}

// IDGenerator creates export record ids.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 ids.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
// Panics if UUID generation fails.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// SequenceGenerator returns prefix-1, prefix-2, ... for deterministic tests.
//
// Thread-safety: SequenceGenerator is safe for concurrent use.
type SequenceGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequenceGenerator creates a generator with the given prefix.
func NewSequenceGenerator(prefix string) *SequenceGenerator {
	return &SequenceGenerator{prefix: prefix}
}

// Generate returns the next id.
func (g *SequenceGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}
