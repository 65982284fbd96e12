package cli

import (
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/awexport/internal/classify"
	"github.com/roach88/awexport/internal/clock"
	"github.com/roach88/awexport/internal/compare"
	"github.com/roach88/awexport/internal/config"
	"github.com/roach88/awexport/internal/engine"
	"github.com/roach88/awexport/internal/state"
	"github.com/roach88/awexport/internal/store"
	"github.com/roach88/awexport/internal/tags"
	"github.com/roach88/awexport/internal/tracker"
)

// DiffOptions holds flags for the diff command.
type DiffOptions struct {
	*RootOptions
	SourceOptions

	From     string
	To       string
	Database string
	Ledger   string
	Apply    bool

	// Runner overrides the timew runner (for testing).
	Runner tracker.Runner
	// Clock overrides the system clock (for testing).
	Clock clock.Clock
}

// DiffInterval is an interval in JSON output.
type DiffInterval struct {
	ID    string   `json:"id,omitempty"`
	Start string   `json:"start"`
	End   string   `json:"end,omitempty"`
	Tags  []string `json:"tags"`
}

// DiffPair is a covered part whose tags disagree.
type DiffPair struct {
	Entry     DiffInterval `json:"entry"`
	Suggested DiffInterval `json:"suggested"`
}

// DiffResult is the JSON form of a comparison.
type DiffResult struct {
	From             string         `json:"from"`
	To               string         `json:"to"`
	InSync           bool           `json:"in_sync"`
	Missing          []DiffInterval `json:"missing"`
	DifferentTags    []DiffPair     `json:"different_tags"`
	Extra            []DiffInterval `json:"extra"`
	PreviouslySynced []DiffInterval `json:"previously_synced"`
	Matching         int            `json:"matching"`
	Commands         []string       `json:"commands"`
	Applied          int            `json:"applied,omitempty"`
}

// NewDiffCommand creates the diff command.
func NewDiffCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DiffOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "diff",
		Short: "Compare the ledger with what awexport would have recorded",
		Long: `Simulate a batch sync over a range and compare the result with the ledger.

Differences are printed as timew commands that would fix them. Intervals
without the ~aw tag were entered by hand and are never overwritten; they are
listed as comments. With --apply the fixes are recorded.

Exit codes:
  0 - Ledger in sync (or fixes applied)
  1 - Ledger out of sync
  2 - Command error

Examples:
  awexport diff --from 2025-01-01 --to 2025-01-02
  awexport diff --from -8h --to now --apply
  awexport diff --from 2025-01-01 --to 2025-01-02 --test-data day.json --ledger sqlite --db history.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiff(opts, cmd)
		},
	}

	opts.SourceOptions.addFlags(cmd)
	cmd.Flags().StringVar(&opts.From, "from", "", "start of the compared range (required)")
	cmd.Flags().StringVar(&opts.To, "to", "", "end of the compared range (required)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "SQLite database (needed by --ledger sqlite)")
	cmd.Flags().StringVar(&opts.Ledger, "ledger", "timew", "ledger to compare against (timew|sqlite)")
	cmd.Flags().BoolVar(&opts.Apply, "apply", false, "record the fixes")

	return cmd
}

func runDiff(opts *DiffOptions, cmd *cobra.Command) error {
	logger := opts.Logger()
	if opts.From == "" || opts.To == "" {
		return NewExitError(ExitCommandError, "diff needs --from and --to")
	}
	if !slices.Contains(ValidLedgers, opts.Ledger) {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid ledger %q: must be one of %v", opts.Ledger, ValidLedgers))
	}
	if opts.Ledger == "sqlite" && opts.Database == "" {
		return NewExitError(ExitCommandError, "--ledger sqlite needs --db")
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
	var ledger tracker.Tracker
	if opts.Ledger == "sqlite" {
		ledger = store.NewLedgerTracker(st, state.UUIDv7Generator{})
	} else {
		runner := opts.Runner
		if runner == nil {
			runner = tracker.ExecRunner{}
		}
		ledger = tracker.NewTimew(runner,
			tracker.WithGrace(in.Compiled.Tuning.GraceTime),
			tracker.WithClock(clk),
			tracker.WithAnnounce(p.Running),
			tracker.WithTimewLogger(logger),
		)
	}

	// The simulation starts from an empty ledger so every interval in the
	// range is suggested.
	sim := tracker.NewDryRun(logger)
	eng, err := engine.New(in.Compiled, in.Source, in.Index, sim,
		engine.WithLogger(logger),
		engine.WithClock(clk),
		engine.WithAsserter(engine.NewAsserter(engine.AssertLog, logger)),
	)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start", err)
	}
	p.Infof("simulating %s to %s", from.Local().Format(time.DateTime), to.Local().Format(time.DateTime))
	if err := eng.RunRange(ctx, from, to); err != nil {
		return syncError(err)
	}
	suggested := compare.MergeConsecutive(compare.SuggestionsFrom(sim.Entries(), from, to))

	entries, err := ledger.Intervals(ctx, from, to)
	if err != nil {
		return WrapExitError(ExitFailure, "cannot read the ledger", err)
	}

	expand := retagExpander(in.Compiled, logger)
	r := compare.Compare(entries, suggested, expand)
	lines := compare.FixCommands(r, expand, time.Local)

	applied := 0
	if opts.Apply && !r.InSync() {
		applied, err = compare.NewPlan(r, expand).Apply(ctx, ledger)
		if err != nil {
			return WrapExitError(ExitFailure, fmt.Sprintf("applied %d fix(es) before failing", applied), err)
		}
	}

	f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if f.JSON() {
		res := diffResult(r, from, to, lines)
		res.Applied = applied
		if err := f.Success(res); err != nil {
			return err
		}
	} else {
		printDiff(cmd.OutOrStdout(), r, lines, applied)
	}

	if !r.InSync() && !opts.Apply {
		return NewExitError(ExitFailure, "ledger out of sync")
	}
	return nil
}

// retagExpander expands tag sets with the configured retag rules. Sets
// the rules cannot expand consistently are compared as they are.
func retagExpander(cfg *config.Compiled, logger *slog.Logger) compare.Expander {
	rt := classify.NewRetagger(cfg.Retag, cfg.Exclusive, 0, logger)
	return func(s tags.Set) tags.Set {
		out, err := rt.Apply(s)
		if err != nil {
			logger.Debug("retag expansion failed", "tags", s.String(), "error", err)
			return s
		}
		return out
	}
}

func printDiff(w io.Writer, r compare.Result, lines []string, applied int) {
	if r.InSync() {
		fmt.Fprintln(w, "Ledger is in sync.")
	}
	for _, l := range lines {
		fmt.Fprintln(w, l)
	}
	if applied > 0 {
		fmt.Fprintf(w, "\nApplied %d fix(es).\n", applied)
	}
}

func diffResult(r compare.Result, from, to time.Time, lines []string) DiffResult {
	res := DiffResult{
		From:             from.UTC().Format(time.RFC3339),
		To:               to.UTC().Format(time.RFC3339),
		InSync:           r.InSync(),
		Missing:          []DiffInterval{},
		DifferentTags:    []DiffPair{},
		Extra:            []DiffInterval{},
		PreviouslySynced: []DiffInterval{},
		Matching:         len(r.Matching),
		Commands:         []string{},
	}
	for _, s := range r.Missing {
		res.Missing = append(res.Missing, suggestedInterval(s))
	}
	for _, d := range r.DifferentTags {
		res.DifferentTags = append(res.DifferentTags, DiffPair{Entry: entryInterval(d.Entry), Suggested: suggestedInterval(d.Suggested)})
	}
	for _, e := range r.Extra {
		res.Extra = append(res.Extra, entryInterval(e))
	}
	for _, e := range r.PreviouslySynced {
		res.PreviouslySynced = append(res.PreviouslySynced, entryInterval(e))
	}
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" && !strings.HasPrefix(l, "#") {
			res.Commands = append(res.Commands, l)
		}
	}
	return res
}

func suggestedInterval(s compare.Suggested) DiffInterval {
	return DiffInterval{
		Start: s.Start.UTC().Format(time.RFC3339),
		End:   s.End.UTC().Format(time.RFC3339),
		Tags:  s.Tags.Sorted(),
	}
}

func entryInterval(e tracker.Entry) DiffInterval {
	d := DiffInterval{ID: e.ID, Start: e.Start.UTC().Format(time.RFC3339), Tags: e.Tags.Sorted()}
	if !e.Open() {
		d.End = e.End.UTC().Format(time.RFC3339)
	}
	return d
}
