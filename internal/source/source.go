// Package source supplies raw samples to the pipeline.
//
// EventSource is the seam: AWClient talks to a running ActivityWatch
// server, FixtureSource replays a recorded dump. Index resolves the buckets
// a run needs by watcher client type or by short name.
package source

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/roach88/awexport/internal/event"
)

// EventSource lists buckets and returns the samples of one bucket in
// [start, end), ordered by timestamp. A zero start or end leaves that side
// of the range open.
type EventSource interface {
	Buckets(ctx context.Context) ([]event.Bucket, error)
	Events(ctx context.Context, bucketID string, start, end time.Time) ([]event.Sample, error)
}

// ErrMissingBucket is returned by Index.Require when a mandatory watcher has
// no bucket.
var ErrMissingBucket = errors.New("required bucket not found")

// Index resolves buckets by client type and by short name (the bucket id up
// to the first underscore, usually the watcher name without the hostname).
type Index struct {
	buckets  []event.Bucket
	byClient map[string][]event.Bucket
	byShort  map[string]event.Bucket
	dupes    []string
}

// NewIndex builds an index. Buckets are ordered by id so lookups are
// deterministic when a client has several buckets.
func NewIndex(buckets []event.Bucket) *Index {
	sorted := append([]event.Bucket(nil), buckets...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	idx := &Index{
		buckets:  sorted,
		byClient: map[string][]event.Bucket{},
		byShort:  map[string]event.Bucket{},
	}
	for _, b := range sorted {
		idx.byClient[b.Client] = append(idx.byClient[b.Client], b)
		short := ShortName(b.ID)
		if _, ok := idx.byShort[short]; ok {
			idx.dupes = append(idx.dupes, short)
			continue
		}
		idx.byShort[short] = b
	}
	return idx
}

// LoadIndex lists the buckets of src and indexes them.
func LoadIndex(ctx context.Context, src EventSource) (*Index, error) {
	buckets, err := src.Buckets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list buckets: %w", err)
	}
	return NewIndex(buckets), nil
}

// ShortName strips the hostname suffix from a bucket id.
func ShortName(id string) string {
	if i := strings.Index(id, "_"); i >= 0 {
		return id[:i]
	}
	return id
}

// ByClient returns the first bucket reported by the given client.
func (i *Index) ByClient(client string) (event.Bucket, bool) {
	bs := i.byClient[client]
	if len(bs) == 0 {
		return event.Bucket{}, false
	}
	return bs[0], true
}

// ByShort returns the bucket with the given short name.
func (i *Index) ByShort(short string) (event.Bucket, bool) {
	b, ok := i.byShort[short]
	return b, ok
}

// All returns every indexed bucket ordered by id.
func (i *Index) All() []event.Bucket {
	return i.buckets
}

// DuplicateShortNames lists short names shared by more than one bucket;
// only the first (by id) is reachable through ByShort.
func (i *Index) DuplicateShortNames() []string {
	return i.dupes
}

// Require fails when any of the given clients has no bucket.
func (i *Index) Require(clients ...string) error {
	var missing []string
	for _, c := range clients {
		if len(i.byClient[c]) == 0 {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingBucket, strings.Join(missing, ", "))
	}
	return nil
}

// Stale returns the buckets of the given clients whose last update is older
// than threshold at now. Buckets without a last-updated time count as stale.
func (i *Index) Stale(now time.Time, threshold time.Duration, clients ...string) []event.Bucket {
	var out []event.Bucket
	for _, c := range clients {
		for _, b := range i.byClient[c] {
			if b.LastUpdated.IsZero() || now.Sub(b.LastUpdated) > threshold {
				out = append(out, b)
			}
		}
	}
	return out
}
