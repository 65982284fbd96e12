package tracker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/awexport/internal/tags"
)

// DryRun simulates a ledger: commands are recorded as the timew arguments
// they would have been and applied to an in-memory Timeline.
//
// Thread-safety: DryRun is safe for concurrent use.
type DryRun struct {
	*Timeline
	loc    *time.Location
	logger *slog.Logger

	mu       sync.Mutex
	commands [][]string
}

// NewDryRun creates a simulation seeded with entries, typically the real
// ledger's open entry so commit guards behave as they would live.
func NewDryRun(logger *slog.Logger, entries ...Entry) *DryRun {
	if logger == nil {
		logger = slog.Default()
	}
	return &DryRun{Timeline: NewTimeline(entries...), loc: time.UTC, logger: logger}
}

func (d *DryRun) capture(args []string) {
	d.mu.Lock()
	d.commands = append(d.commands, append([]string{"timew"}, args...))
	d.mu.Unlock()
	d.logger.Info("dry run: would run", "command", args)
}

// Start records and simulates a start command.
func (d *DryRun) Start(ctx context.Context, s tags.Set, since time.Time) error {
	d.capture(StartArgs(s, since, d.loc))
	return d.Timeline.Start(ctx, s, since)
}

// Retag records and simulates a tag command.
func (d *DryRun) Retag(ctx context.Context, s tags.Set) error {
	d.capture(RetagArgs(s))
	return d.Timeline.Retag(ctx, s)
}

// Track records and simulates a track command.
func (d *DryRun) Track(ctx context.Context, start, end time.Time, s tags.Set) error {
	d.capture(TrackArgs(start, end, s, d.loc))
	return d.Timeline.Track(ctx, start, end, s)
}

// Commands returns the captured commands, each starting with "timew".
func (d *DryRun) Commands() [][]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([][]string, len(d.commands))
	copy(out, d.commands)
	return out
}
