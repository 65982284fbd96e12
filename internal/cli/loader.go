package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/awexport/internal/config"
	"github.com/roach88/awexport/internal/source"
	"github.com/roach88/awexport/internal/store"
)

// SourceOptions selects where samples come from. Shared by the commands
// that read ActivityWatch data.
type SourceOptions struct {
	TestData string // recorded dump; empty means the live server
	AWURL    string
}

func (o *SourceOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.TestData, "test-data", "", "read samples from a recorded dump (JSON or YAML) instead of aw-server")
	cmd.Flags().StringVar(&o.AWURL, "aw-url", source.DefaultServerURL, "ActivityWatch server URL")
}

// Loaded is everything a run needs from its inputs.
type Loaded struct {
	Config   *config.Config
	Compiled *config.Compiled
	Source   source.EventSource
	Index    *source.Index

	// Fixture is set when samples come from a dump.
	Fixture *source.FixtureSource
}

// loadConfig reads the configuration file. Without --config a missing
// default file means built-in defaults.
func loadConfig(opts *RootOptions) (*config.Config, *config.Compiled, error) {
	path := opts.Config
	explicit := path != ""
	if !explicit {
		path = config.DefaultPath()
	}

	cfg, err := config.Load(path)
	switch {
	case err == nil:
	case !explicit && errors.Is(err, fs.ErrNotExist):
		opts.Logger().Debug("no config file, using defaults", "path", path)
		cfg = config.Default()
	case config.IsValidationError(err):
		return nil, nil, WrapExitError(ExitFailure, "invalid configuration", err)
	default:
		return nil, nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	for _, w := range cfg.Warnings {
		opts.Logger().Warn("config warning", "problem", w)
	}

	compiled, err := config.Compile(cfg)
	if err != nil {
		return nil, nil, WrapExitError(ExitFailure, "invalid configuration", err)
	}
	return cfg, compiled, nil
}

// openSource connects to the sample source and indexes its buckets.
func openSource(ctx context.Context, o SourceOptions, logger *slog.Logger) (source.EventSource, *source.FixtureSource, *source.Index, error) {
	var (
		src     source.EventSource
		fixture *source.FixtureSource
	)
	if o.TestData != "" {
		d, err := source.ReadDump(o.TestData)
		if err != nil {
			return nil, nil, nil, WrapExitError(ExitCommandError, "failed to read test data", err)
		}
		fixture = source.NewFixtureSource(d)
		src = fixture
	} else {
		src = source.NewAWClient(o.AWURL)
	}

	idx, err := source.LoadIndex(ctx, src)
	if err != nil {
		return nil, nil, nil, WrapExitError(ExitCommandError, "failed to list buckets", err)
	}
	for _, short := range idx.DuplicateShortNames() {
		logger.Warn("several buckets share a short name, using the first", "bucket", short)
	}
	return src, fixture, idx, nil
}

// load reads the config and opens the source.
func load(ctx context.Context, opts *RootOptions, so SourceOptions) (*Loaded, error) {
	cfg, compiled, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	src, fixture, idx, err := openSource(ctx, so, opts.Logger())
	if err != nil {
		return nil, err
	}
	return &Loaded{Config: cfg, Compiled: compiled, Source: src, Index: idx, Fixture: fixture}, nil
}

// openStore opens the history database. An empty path yields nil.
func openStore(path string) (*store.Store, error) {
	if path == "" {
		return nil, nil
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

// parseTime accepts RFC 3339, local "2006-01-02T15:04[:05]", "2006-01-02
// 15:04[:05]", a bare date, "now", or a negative duration relative to now
// such as "-2h".
func parseTime(s string, loc *time.Location, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if s == "now" {
		return now, nil
	}
	if strings.HasPrefix(s, "-") {
		d, err := time.ParseDuration(s)
		if err == nil {
			return now.Add(d), nil
		}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range []string{
		"2006-01-02T15:04:05",
		"2006-01-02T15:04",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04",
		"2006-01-02",
	} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse time %q", s)
}

// parseRange parses --from and --to. Both must be set together.
func parseRange(from, to string, now time.Time) (time.Time, time.Time, error) {
	f, err := parseTime(from, time.Local, now)
	if err != nil {
		return time.Time{}, time.Time{}, NewExitError(ExitCommandError, "--from: "+err.Error())
	}
	t, err := parseTime(to, time.Local, now)
	if err != nil {
		return time.Time{}, time.Time{}, NewExitError(ExitCommandError, "--to: "+err.Error())
	}
	if f.IsZero() != t.IsZero() {
		return time.Time{}, time.Time{}, NewExitError(ExitCommandError, "--from and --to must be given together")
	}
	if !f.IsZero() && !t.After(f) {
		return time.Time{}, time.Time{}, NewExitError(ExitCommandError, "--to must be after --from")
	}
	return f, t, nil
}
