package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/roach88/awexport/internal/classify"
	"github.com/roach88/awexport/internal/clock"
	"github.com/roach88/awexport/internal/config"
	"github.com/roach88/awexport/internal/engine"
	"github.com/roach88/awexport/internal/output"
	"github.com/roach88/awexport/internal/state"
	"github.com/roach88/awexport/internal/store"
	"github.com/roach88/awexport/internal/tracker"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	SourceOptions

	DryRun   bool
	Once     bool
	From     string
	To       string
	Database string
	Ledger   string // "timew" or "sqlite"
	Assert   string
	MaxTicks int

	// Runner overrides the timew runner (for testing).
	Runner tracker.Runner
	// Clock overrides the system clock (for testing).
	Clock clock.Clock
}

// ValidLedgers are the accepted --ledger values.
var ValidLedgers = []string{"timew", "sqlite"}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Keep the ledger in step with ActivityWatch",
		Long: `Classify ActivityWatch samples and commit the result to the ledger.

Without --from/--to sync runs live: it resumes from the open ledger entry and
polls until interrupted (or once with --once). With a range, or with
--test-data, it processes the range in batch mode and exits.

Every command run against timew is announced first and followed by a short
pause so it can be interrupted and undone.

Examples:
  awexport sync
  awexport sync --once --dry-run
  awexport sync --from 2025-01-01 --to 2025-01-02 --dry-run
  awexport sync --test-data day.json --ledger sqlite --db history.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(opts, cmd)
		},
	}

	opts.SourceOptions.addFlags(cmd)
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "print ledger commands instead of running them")
	cmd.Flags().BoolVar(&opts.Once, "once", false, "run a single live tick and exit")
	cmd.Flags().StringVar(&opts.From, "from", "", "start of a batch range")
	cmd.Flags().StringVar(&opts.To, "to", "", "end of a batch range")
	cmd.Flags().StringVar(&opts.Database, "db", "", "SQLite database for export history")
	cmd.Flags().StringVar(&opts.Ledger, "ledger", "timew", "ledger to commit to (timew|sqlite)")
	cmd.Flags().StringVar(&opts.Assert, "assert", "abort", "on consistency violations: abort, log or collect")
	cmd.Flags().IntVar(&opts.MaxTicks, "max-ticks", engine.DefaultMaxTicks, "tick limit of batch runs")

	return cmd
}

func runSync(opts *SyncOptions, cmd *cobra.Command) error {
	logger := opts.Logger()
	if !slices.Contains(ValidLedgers, opts.Ledger) {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid ledger %q: must be one of %v", opts.Ledger, ValidLedgers))
	}
	if opts.Ledger == "sqlite" && opts.Database == "" {
		return NewExitError(ExitCommandError, "--ledger sqlite needs --db")
	}
	mode, err := engine.ParseAssertMode(opts.Assert)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --assert", err)
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.System{}
	}
	from, to, err := parseRange(opts.From, opts.To, clk.Now())
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd.Context(), logger)
	defer stop()

	in, err := load(ctx, opts.RootOptions, opts.SourceOptions)
	if err != nil {
		return err
	}
	if in.Fixture != nil && from.IsZero() {
		from, to = in.Fixture.Range()
		if !to.After(from) {
			return NewExitError(ExitCommandError, "test data holds no samples")
		}
	}
	batch := !from.IsZero()

	st, err := openStore(opts.Database)
	if err != nil {
		return err
	}
	if st != nil {
		defer func() {
			if err := st.Close(); err != nil {
				logger.Error("error closing database", "error", err)
			}
		}()
	}

	p := opts.printer(cmd.OutOrStdout())
	ledger, dry, err := openLedger(ctx, opts, st, p, in.Compiled.Tuning.GraceTime, clk)
	if err != nil {
		return err
	}

	asserter := engine.NewAsserter(mode, logger)
	engOpts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithClock(clk),
		engine.WithAsserter(asserter),
		engine.WithMaxTicks(opts.MaxTicks),
		engine.WithCommitHook(func(c engine.Commit) {
			if c.Skipped != "" {
				p.Skipped(string(c.Kind), c.Tags, c.Skipped)
				return
			}
			p.Committed(string(c.Kind), c.Tags, c.Since)
		}),
	}
	engOpts = append(engOpts, engine.WithRetryPolicy(retryPolicy(batch, opts.DryRun, in.Compiled.Tuning)))

	var run *store.Run
	if st != nil {
		runMode := "live"
		switch {
		case opts.DryRun:
			runMode = "dry-run"
		case batch:
			runMode = "batch"
		}
		run, err = st.StartRun(ctx, uuid.Must(uuid.NewV7()).String(), runMode, clk.Now())
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to record run", err)
		}
		engOpts = append(engOpts, engine.WithRecorder(run), engine.WithExportHistory(state.UUIDv7Generator{}))
	}

	eng, err := engine.New(in.Compiled, in.Source, in.Index, ledger, engOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start", err)
	}

	switch {
	case batch:
		p.Infof("processing %s to %s", from.Local().Format(time.DateTime), to.Local().Format(time.DateTime))
		err = eng.RunRange(ctx, from, to)
	case opts.Once:
		err = eng.RunOnce(ctx)
	default:
		p.Infof("watching ActivityWatch, press Ctrl-C to stop")
		err = eng.Run(ctx)
	}
	if errors.Is(err, context.Canceled) {
		logger.Info("sync stopped")
		err = nil
	}

	sum := eng.State().Summary()
	if run != nil {
		// the run context may be cancelled already
		if ferr := run.Finish(context.WithoutCancel(ctx), clk.Now(), eng.Ticks(), sum); ferr != nil {
			logger.Error("failed to record run statistics", "error", ferr)
		}
	}
	for _, v := range asserter.Collected() {
		p.Warnf("consistency: %s", v.Error())
	}
	if dry != nil {
		for _, c := range dry.Commands() {
			p.Println(strings.Join(c, " "))
		}
	}
	if sum.Unknown > 0 || sum.IgnoredCount > 0 {
		p.Infof("unclassified %s, ignored %d short segment(s) totalling %s",
			output.Duration(sum.Unknown), sum.IgnoredCount, output.Duration(sum.Ignored))
	}
	return syncError(err)
}

// openLedger picks the tracker commits go to. A dry run simulates the
// chosen ledger, seeded with its open entry.
func openLedger(ctx context.Context, opts *SyncOptions, st *store.Store, p *output.Printer, grace time.Duration, clk clock.Clock) (tracker.Tracker, *tracker.DryRun, error) {
	var real tracker.Tracker
	switch opts.Ledger {
	case "sqlite":
		real = store.NewLedgerTracker(st, state.UUIDv7Generator{})
	default:
		runner := opts.Runner
		if runner == nil {
			runner = tracker.ExecRunner{}
		}
		real = tracker.NewTimew(runner,
			tracker.WithGrace(grace),
			tracker.WithClock(clk),
			tracker.WithAnnounce(p.Running),
			tracker.WithTimewLogger(opts.Logger()),
		)
	}
	if !opts.DryRun {
		return real, nil, nil
	}

	var seed []tracker.Entry
	cur, err := real.Current(ctx)
	if err != nil {
		p.Warnf("cannot read the open %s entry, simulating an empty ledger: %v", opts.Ledger, err)
	} else if cur != nil {
		seed = append(seed, *cur)
	}
	dry := tracker.NewDryRun(opts.Logger(), seed...)
	return dry, dry, nil
}

// retryPolicy waits for lagging watchers only in a live run that writes
// to the ledger.
func retryPolicy(batch, dryRun bool, t config.Tuning) classify.RetryPolicy {
	if batch || dryRun {
		return classify.NoRetry()
	}
	return classify.LivePolicy(t)
}

// syncError maps engine errors to exit codes.
func syncError(err error) error {
	switch {
	case err == nil:
		return nil
	case engine.IsSourceError(err):
		return WrapExitError(ExitCommandError, "cannot read ActivityWatch data", err)
	case engine.IsLedgerError(err):
		return WrapExitError(ExitFailure, "ledger command failed", err)
	case engine.IsTickLimitError(err):
		return WrapExitError(ExitFailure, "batch run did not finish", err)
	case state.IsConsistencyError(err, ""):
		return WrapExitError(ExitFailure, "consistency violation", err)
	}
	return WrapExitError(ExitFailure, "sync failed", err)
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context, logger *slog.Logger) (context.Context, func()) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}
