package event

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"gopkg.in/yaml.v3"
)

// wireSample is the ActivityWatch representation: duration in float seconds.
type wireSample struct {
	ID        int64          `json:"id,omitempty" yaml:"id,omitempty"`
	Timestamp string         `json:"timestamp" yaml:"timestamp"`
	Duration  float64        `json:"duration" yaml:"duration"`
	Data      map[string]any `json:"data" yaml:"data"`
}

func (s Sample) toWire() wireSample {
	return wireSample{
		ID:        s.ID,
		Timestamp: s.Timestamp.UTC().Format(time.RFC3339Nano),
		Duration:  s.Duration.Seconds(),
		Data:      s.Data,
	}
}

func (s *Sample) fromWire(w wireSample) error {
	ts, err := ParseTime(w.Timestamp)
	if err != nil {
		return err
	}
	if w.Duration < 0 || math.IsNaN(w.Duration) {
		return fmt.Errorf("sample at %s: invalid duration %v", w.Timestamp, w.Duration)
	}
	s.ID = w.ID
	s.Timestamp = ts
	s.Duration = Seconds(w.Duration)
	s.Data = w.Data
	if s.Data == nil {
		s.Data = map[string]any{}
	}
	return nil
}

// MarshalJSON encodes the sample in ActivityWatch form.
func (s Sample) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.toWire())
}

// UnmarshalJSON decodes an ActivityWatch event.
func (s *Sample) UnmarshalJSON(b []byte) error {
	var w wireSample
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	return s.fromWire(w)
}

// MarshalYAML encodes the sample in ActivityWatch form.
func (s Sample) MarshalYAML() (any, error) {
	return s.toWire(), nil
}

// UnmarshalYAML decodes an ActivityWatch event from YAML.
func (s *Sample) UnmarshalYAML(node *yaml.Node) error {
	var w wireSample
	if err := node.Decode(&w); err != nil {
		return err
	}
	return s.fromWire(w)
}

// Seconds converts float seconds to a Duration, rounded to the microsecond.
func Seconds(f float64) time.Duration {
	return time.Duration(math.Round(f*1e6)) * time.Microsecond
}

// ParseTime accepts RFC 3339 timestamps with or without fractional seconds,
// as emitted by ActivityWatch and written in fixtures.
func ParseTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}
