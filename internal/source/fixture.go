package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/awexport/internal/event"
)

// Dump is a recorded snapshot of ActivityWatch data: bucket metadata plus
// every bucket's samples over a range.
type Dump struct {
	Metadata Metadata                  `json:"metadata" yaml:"metadata"`
	Buckets  map[string]event.Bucket   `json:"buckets" yaml:"buckets"`
	Events   map[string][]event.Sample `json:"events" yaml:"events"`
}

// Metadata describes how a Dump was produced.
type Metadata struct {
	ExportTime time.Time `json:"export_time" yaml:"export_time"`
	StartTime  time.Time `json:"start_time" yaml:"start_time"`
	EndTime    time.Time `json:"end_time" yaml:"end_time"`
	Anonymized bool      `json:"anonymized" yaml:"anonymized"`
}

// Format of a dump file.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFor picks the format from a file extension, defaulting to JSON.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// ReadDump loads a dump file, JSON or YAML by extension.
func ReadDump(path string) (*Dump, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dump: %w", err)
	}
	return DecodeDump(data, FormatFor(path))
}

// DecodeDump parses a dump in the given format.
func DecodeDump(data []byte, format Format) (*Dump, error) {
	var d Dump
	var err error
	if format == FormatYAML {
		err = yaml.Unmarshal(data, &d)
	} else {
		err = json.Unmarshal(data, &d)
	}
	if err != nil {
		return nil, fmt.Errorf("decode dump: %w", err)
	}
	for id, b := range d.Buckets {
		if b.ID == "" {
			b.ID = id
			d.Buckets[id] = b
		}
	}
	return &d, nil
}

// Encode writes the dump in the given format.
func (d *Dump) Encode(w io.Writer, format Format) error {
	if format == FormatYAML {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(d); err != nil {
			return fmt.Errorf("encode dump: %w", err)
		}
		return enc.Close()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(d); err != nil {
		return fmt.Errorf("encode dump: %w", err)
	}
	return nil
}

// WriteDump writes the dump to path, choosing the format by extension.
func WriteDump(path string, d *Dump) error {
	var buf bytes.Buffer
	if err := d.Encode(&buf, FormatFor(path)); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// Capture reads every bucket of src over [start, end) into a Dump.
func Capture(ctx context.Context, src EventSource, start, end, now time.Time) (*Dump, error) {
	buckets, err := src.Buckets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list buckets: %w", err)
	}
	d := &Dump{
		Metadata: Metadata{ExportTime: now, StartTime: start, EndTime: end},
		Buckets:  map[string]event.Bucket{},
		Events:   map[string][]event.Sample{},
	}
	for _, b := range buckets {
		d.Buckets[b.ID] = b
		samples, err := src.Events(ctx, b.ID, start, end)
		if err != nil {
			return nil, fmt.Errorf("events of %s: %w", b.ID, err)
		}
		if len(samples) > 0 {
			d.Events[b.ID] = samples
		}
	}
	return d, nil
}

// FixtureSource serves a Dump as an EventSource.
type FixtureSource struct {
	dump *Dump
}

// NewFixtureSource wraps a dump. Buckets lacking a last-updated time get the
// end of their latest sample so freshness checks behave as they did live.
func NewFixtureSource(d *Dump) *FixtureSource {
	for id, b := range d.Buckets {
		b.ID = id
		if b.LastUpdated.IsZero() {
			for _, s := range d.Events[id] {
				if s.End().After(b.LastUpdated) {
					b.LastUpdated = s.End()
				}
			}
		}
		d.Buckets[id] = b
	}
	return &FixtureSource{dump: d}
}

// Buckets implements EventSource.
func (f *FixtureSource) Buckets(ctx context.Context) ([]event.Bucket, error) {
	out := make([]event.Bucket, 0, len(f.dump.Buckets))
	for _, b := range f.dump.Buckets {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Events implements EventSource. A sample is returned unless it ends
// before start or begins at or after end.
func (f *FixtureSource) Events(ctx context.Context, bucketID string, start, end time.Time) ([]event.Sample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []event.Sample
	for _, s := range f.dump.Events[bucketID] {
		if !start.IsZero() && s.End().Before(start) {
			continue
		}
		if !end.IsZero() && !s.Timestamp.Before(end) {
			continue
		}
		out = append(out, s.WithSpan(s.Timestamp, s.Duration))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// Range returns the earliest sample start and latest sample end in the dump.
func (f *FixtureSource) Range() (start, end time.Time) {
	for _, samples := range f.dump.Events {
		for _, s := range samples {
			if start.IsZero() || s.Timestamp.Before(start) {
				start = s.Timestamp
			}
			if s.End().After(end) {
				end = s.End()
			}
		}
	}
	return start, end
}
