// Package testutil builds deterministic ActivityWatch fixtures for tests.
//
// A Builder lays samples out relative to a fixed start time so scenarios
// read as offsets ("window at 5m for 10m") and produce byte-identical dumps
// on every run.
package testutil

import (
	"time"

	"github.com/roach88/awexport/internal/event"
	"github.com/roach88/awexport/internal/source"
)

// Start is the default fixture start, 2025-01-01 09:00 UTC.
var Start = time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

// Bucket ids used by the builder. The "_test" suffix stands in for the
// hostname.
const (
	WindowBucket  = "aw-watcher-window_test"
	AFKBucket     = "aw-watcher-afk_test"
	LidBucket     = "aw-watcher-lid_test"
	AskAwayBucket = "aw-watcher-ask-away_test"
	FirefoxBucket = "aw-watcher-web-firefox_test"
	TmuxBucket    = "aw-watcher-tmux_test"
)

// EditorBucket returns the editor watcher bucket for an editor short name
// such as "vscode" or "emacs".
func EditorBucket(editor string) string {
	return "aw-watcher-" + editor + "_test"
}

// Builder accumulates samples into a source.Dump.
//
// Thread-safety: Builder is not safe for concurrent use.
type Builder struct {
	start time.Time
	dump  *source.Dump
}

// NewBuilder creates a builder with the window and AFK buckets present.
func NewBuilder() *Builder {
	return NewBuilderAt(Start)
}

// NewBuilderAt creates a builder whose offsets count from start.
func NewBuilderAt(start time.Time) *Builder {
	b := &Builder{
		start: start,
		dump: &source.Dump{
			Buckets: map[string]event.Bucket{},
			Events:  map[string][]event.Sample{},
		},
	}
	b.Bucket(WindowBucket, event.ClientWindow)
	b.Bucket(AFKBucket, event.ClientAFK)
	return b
}

// At returns the absolute time of an offset.
func (b *Builder) At(off time.Duration) time.Time {
	return b.start.Add(off)
}

// Bucket declares a bucket. Adding a sample declares its bucket implicitly.
func (b *Builder) Bucket(id, client string) *Builder {
	if _, ok := b.dump.Buckets[id]; !ok {
		b.dump.Buckets[id] = event.Bucket{ID: id, Client: client}
	}
	return b
}

// Sample appends a raw sample to bucket.
func (b *Builder) Sample(bucket, client string, off, dur time.Duration, data map[string]any) *Builder {
	b.Bucket(bucket, client)
	b.dump.Events[bucket] = append(b.dump.Events[bucket], event.Sample{
		Timestamp: b.At(off),
		Duration:  dur,
		Data:      data,
	})
	return b
}

// Window adds a window sample.
func (b *Builder) Window(off, dur time.Duration, app, title string) *Builder {
	return b.Sample(WindowBucket, event.ClientWindow, off, dur, map[string]any{"app": app, "title": title})
}

// Active adds a not-afk sample.
func (b *Builder) Active(off, dur time.Duration) *Builder {
	return b.Sample(AFKBucket, event.ClientAFK, off, dur, map[string]any{"status": event.StatusNotAFK})
}

// Away adds an afk sample.
func (b *Builder) Away(off, dur time.Duration) *Builder {
	return b.Sample(AFKBucket, event.ClientAFK, off, dur, map[string]any{"status": event.StatusAFK})
}

// Lid adds a lid sample with state "open" or "closed".
func (b *Builder) Lid(off, dur time.Duration, state string) *Builder {
	return b.Sample(LidBucket, event.ClientLid, off, dur, map[string]any{"lid_state": state})
}

// AskAway adds an ask-away annotation.
func (b *Builder) AskAway(off, dur time.Duration, message string) *Builder {
	return b.Sample(AskAwayBucket, event.ClientAskAway, off, dur, map[string]any{"message": message})
}

// Page adds a firefox web watcher sample.
func (b *Builder) Page(off, dur time.Duration, url, title string) *Builder {
	return b.Sample(FirefoxBucket, event.ClientWeb, off, dur, map[string]any{"url": url, "title": title})
}

// Editor adds an editor watcher sample for editor ("vscode", "emacs", ...).
func (b *Builder) Editor(editor string, off, dur time.Duration, project, file string) *Builder {
	return b.Sample(EditorBucket(editor), "aw-watcher-"+editor, off, dur, map[string]any{"project": project, "file": file})
}

// Pane adds a tmux pane sample.
func (b *Builder) Pane(off, dur time.Duration, session, command, path string) *Builder {
	return b.Sample(TmuxBucket, event.ClientTmux, off, dur, map[string]any{
		"session_name":         session,
		"pane_current_command": command,
		"pane_current_path":    path,
	})
}

// Dump returns the built dump with metadata spanning its samples.
func (b *Builder) Dump() *source.Dump {
	var first, last time.Time
	for _, samples := range b.dump.Events {
		for _, s := range samples {
			if first.IsZero() || s.Timestamp.Before(first) {
				first = s.Timestamp
			}
			if s.End().After(last) {
				last = s.End()
			}
		}
	}
	b.dump.Metadata = source.Metadata{ExportTime: last, StartTime: first, EndTime: last}
	return b.dump
}

// Source returns a FixtureSource serving the built dump.
func (b *Builder) Source() *source.FixtureSource {
	return source.NewFixtureSource(b.Dump())
}
