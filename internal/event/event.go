// Package event defines the raw observation model shared by every awexport
// component: samples, buckets and the typed accessors over sample payloads.
//
// Samples are values. Splitting or trimming a sample produces a new Sample
// through WithSpan; the payload map is never shared between the copies.
package event

import (
	"fmt"
	"time"
)

// Client types reported by ActivityWatch watchers.
const (
	ClientWindow  = "aw-watcher-window"
	ClientAFK     = "aw-watcher-afk"
	ClientLid     = "aw-watcher-lid"
	ClientAskAway = "aw-watcher-ask-away"
	ClientWeb     = "aw-watcher-web"
	ClientTmux    = "aw-watcher-tmux"
)

// AFK statuses.
const (
	StatusAFK    = "afk"
	StatusNotAFK = "not-afk"
)

// Sample is one timestamped observation from a bucket.
type Sample struct {
	ID        int64          `json:"id,omitempty" yaml:"id,omitempty"`
	Timestamp time.Time      `json:"timestamp" yaml:"timestamp"`
	Duration  time.Duration  `json:"-" yaml:"-"`
	Data      map[string]any `json:"data" yaml:"data"`
}

// End returns Timestamp + Duration.
func (s Sample) End() time.Time {
	return s.Timestamp.Add(s.Duration)
}

// Overlaps reports whether s and o share a span of positive length.
func (s Sample) Overlaps(o Sample) bool {
	return s.Timestamp.Before(o.End()) && o.Timestamp.Before(s.End())
}

// Contains reports whether t lies in [Timestamp, End).
func (s Sample) Contains(t time.Time) bool {
	return !t.Before(s.Timestamp) && t.Before(s.End())
}

// WithSpan returns a copy of s with a new timestamp and duration. The payload
// is copied so the result can be mutated independently.
func (s Sample) WithSpan(start time.Time, d time.Duration) Sample {
	return Sample{
		ID:        s.ID,
		Timestamp: start,
		Duration:  d,
		Data:      copyData(s.Data),
	}
}

// Between returns a copy of s spanning [start, end).
func (s Sample) Between(start, end time.Time) Sample {
	return s.WithSpan(start, end.Sub(start))
}

// WithData returns a copy of s with the given payload.
func (s Sample) WithData(data map[string]any) Sample {
	out := s.WithSpan(s.Timestamp, s.Duration)
	out.Data = data
	return out
}

// String renders a compact description for logs.
func (s Sample) String() string {
	return fmt.Sprintf("%s+%s %v", s.Timestamp.Format(time.RFC3339), s.Duration, s.Data)
}

func copyData(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Str returns the string value stored under key, or "" when absent or not a string.
func (s Sample) Str(key string) string {
	v, ok := s.Data[key]
	if !ok {
		return ""
	}
	str, ok := v.(string)
	if !ok {
		return ""
	}
	return str
}

// Bool returns the boolean value stored under key.
func (s Sample) Bool(key string) bool {
	v, ok := s.Data[key]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

// Has reports whether key is present in the payload.
func (s Sample) Has(key string) bool {
	_, ok := s.Data[key]
	return ok
}

// Window payload.
func (s Sample) App() string   { return s.Str("app") }
func (s Sample) Title() string { return s.Str("title") }

// AFK payload. Status is "" for non-AFK samples.
func (s Sample) Status() string { return s.Str("status") }

// IsAFKStatus reports whether the sample carries an AFK status field.
func (s Sample) IsAFKStatus() bool { return s.Has("status") }

// IsAway reports whether the sample's status is afk.
func (s Sample) IsAway() bool { return s.Status() == StatusAFK }

// Browser payload.
func (s Sample) URL() string { return s.Str("url") }

// Editor payload.
func (s Sample) File() string     { return s.Str("file") }
func (s Sample) Project() string  { return s.Str("project") }
func (s Sample) Language() string { return s.Str("language") }

// Tmux payload.
func (s Sample) Session() string     { return s.Str("session_name") }
func (s Sample) WindowName() string  { return s.Str("window_name") }
func (s Sample) PaneTitle() string   { return s.Str("pane_title") }
func (s Sample) PaneCommand() string { return s.Str("pane_current_command") }
func (s Sample) PanePath() string    { return s.Str("pane_current_path") }

// Ask-away payload.
func (s Sample) Message() string { return s.Str("message") }

// Lid payload.
func (s Sample) LidState() string     { return s.Str("lid_state") }
func (s Sample) SuspendState() string { return s.Str("suspend_state") }
func (s Sample) BootGap() bool        { return s.Bool("boot_gap") }

// Source is "lid" for AFK samples derived from lid events.
func (s Sample) Source() string { return s.Str("source") }

// Bucket identifies a sample source.
type Bucket struct {
	ID          string    `json:"id" yaml:"id"`
	Client      string    `json:"client" yaml:"client"`
	Type        string    `json:"type,omitempty" yaml:"type,omitempty"`
	Hostname    string    `json:"hostname,omitempty" yaml:"hostname,omitempty"`
	LastUpdated time.Time `json:"last_updated" yaml:"last_updated"`
}
