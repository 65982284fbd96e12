package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/roach88/awexport/internal/clock"
	"github.com/roach88/awexport/internal/tags"
)

// timewTime is the timestamp layout of timew's JSON output.
const timewTime = "20060102T150405Z"

// cliTime is the layout timew accepts on its command line, in local time.
const cliTime = "2006-01-02T15:04:05"

// Runner executes a timew subcommand and returns its standard output.
type Runner interface {
	Run(ctx context.Context, args ...string) ([]byte, error)
}

// ExecRunner runs the timew binary.
type ExecRunner struct {
	// Binary defaults to "timew" looked up on PATH.
	Binary string
}

// Run executes the command. A non-zero exit returns the captured stderr in
// the error.
func (r ExecRunner) Run(ctx context.Context, args ...string) ([]byte, error) {
	bin := r.Binary
	if bin == "" {
		bin = "timew"
	}
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), fmt.Errorf("%s %s: %w: %s", bin, strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// Timew drives timewarrior through its command line.
type Timew struct {
	runner   Runner
	grace    time.Duration
	clock    clock.Clock
	loc      *time.Location
	announce func(args []string, grace time.Duration)
	logger   *slog.Logger
}

// TimewOption configures a Timew tracker.
type TimewOption func(*Timew)

// WithGrace sets the pause after each mutating command, giving the user a
// chance to interrupt and undo.
func WithGrace(d time.Duration) TimewOption {
	return func(t *Timew) { t.grace = d }
}

// WithClock sets the clock used for the grace pause.
func WithClock(c clock.Clock) TimewOption {
	return func(t *Timew) { t.clock = c }
}

// WithLocation sets the zone command line timestamps are written in.
func WithLocation(loc *time.Location) TimewOption {
	return func(t *Timew) { t.loc = loc }
}

// WithAnnounce sets a callback invoked before each mutating command.
func WithAnnounce(fn func(args []string, grace time.Duration)) TimewOption {
	return func(t *Timew) { t.announce = fn }
}

// WithTimewLogger sets the logger.
func WithTimewLogger(l *slog.Logger) TimewOption {
	return func(t *Timew) { t.logger = l }
}

// NewTimew creates a tracker running commands through r.
func NewTimew(r Runner, opts ...TimewOption) *Timew {
	t := &Timew{runner: r, clock: clock.System{}, loc: time.Local, logger: slog.Default()}
	for _, o := range opts {
		o(t)
	}
	return t
}

type timewEntry struct {
	ID    int      `json:"id"`
	Start string   `json:"start"`
	End   string   `json:"end,omitempty"`
	Tags  []string `json:"tags"`
}

func (w timewEntry) entry() (Entry, error) {
	start, err := time.Parse(timewTime, w.Start)
	if err != nil {
		return Entry{}, fmt.Errorf("parse start %q: %w", w.Start, err)
	}
	e := Entry{ID: fmt.Sprintf("@%d", w.ID), Start: start, Tags: tags.New(w.Tags...)}
	if w.End != "" {
		if e.End, err = time.Parse(timewTime, w.End); err != nil {
			return Entry{}, fmt.Errorf("parse end %q: %w", w.End, err)
		}
	}
	return e, nil
}

// Current returns the active interval. timew fails when nothing is
// tracked; that is reported as nil rather than an error.
func (t *Timew) Current(ctx context.Context) (*Entry, error) {
	out, err := t.runner.Run(ctx, "get", "dom.active.json")
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) || ctx.Err() != nil {
			return nil, err
		}
		t.logger.Debug("no active timew interval", "error", err)
		return nil, nil
	}
	if len(bytes.TrimSpace(out)) == 0 {
		return nil, nil
	}
	var w timewEntry
	if err := json.Unmarshal(out, &w); err != nil {
		return nil, fmt.Errorf("decode dom.active.json: %w", err)
	}
	e, err := w.entry()
	if err != nil {
		return nil, err
	}
	e.ID = "@1"
	return &e, nil
}

// Start runs `timew start TAGS SINCE`.
func (t *Timew) Start(ctx context.Context, s tags.Set, since time.Time) error {
	return t.mutate(ctx, StartArgs(s, since, t.loc))
}

// Retag runs `timew tag @1 TAGS`.
func (t *Timew) Retag(ctx context.Context, s tags.Set) error {
	return t.mutate(ctx, RetagArgs(s))
}

// Track runs `timew track START - END TAGS :adjust`.
func (t *Timew) Track(ctx context.Context, start, end time.Time, s tags.Set) error {
	return t.mutate(ctx, TrackArgs(start, end, s, t.loc))
}

// Intervals runs `timew export` and filters the result to [start, end).
func (t *Timew) Intervals(ctx context.Context, start, end time.Time) ([]Entry, error) {
	out, err := t.runner.Run(ctx, "export")
	if err != nil {
		return nil, fmt.Errorf("timew export: %w", err)
	}
	var raw []timewEntry
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, fmt.Errorf("decode timew export: %w", err)
	}
	var entries []Entry
	for _, w := range raw {
		e, err := w.entry()
		if err != nil {
			return nil, err
		}
		if e.Overlaps(start, end) {
			entries = append(entries, e)
		}
	}
	SortEntries(entries)
	return entries, nil
}

func (t *Timew) mutate(ctx context.Context, args []string) error {
	if t.announce != nil {
		t.announce(args, t.grace)
	}
	if _, err := t.runner.Run(ctx, args...); err != nil {
		return err
	}
	return t.clock.Sleep(ctx, t.grace)
}

// StartArgs builds the arguments of a start command.
func StartArgs(s tags.Set, since time.Time, loc *time.Location) []string {
	return append(append([]string{"start"}, s.Sorted()...), since.In(loc).Format(cliTime))
}

// RetagArgs builds the arguments of a tag command for the open interval.
func RetagArgs(s tags.Set) []string {
	return append([]string{"tag", "@1"}, s.Sorted()...)
}

// TrackArgs builds the arguments of a track command. :adjust lets the new
// interval win over the ones it overlaps.
func TrackArgs(start, end time.Time, s tags.Set, loc *time.Location) []string {
	args := append([]string{"track", start.In(loc).Format(cliTime), "-", end.In(loc).Format(cliTime)}, s.Sorted()...)
	return append(args, ":adjust")
}
