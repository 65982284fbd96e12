package cli

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/awexport/internal/classify"
	"github.com/roach88/awexport/internal/clock"
	"github.com/roach88/awexport/internal/engine"
	"github.com/roach88/awexport/internal/event"
	"github.com/roach88/awexport/internal/output"
	"github.com/roach88/awexport/internal/state"
	"github.com/roach88/awexport/internal/store"
	"github.com/roach88/awexport/internal/tracker"
)

// ReportOptions holds flags for the report command.
type ReportOptions struct {
	*RootOptions
	SourceOptions

	From     string
	To       string
	Database string
	History  bool
	Runs     int
	Output   string

	// Clock overrides the system clock (for testing).
	Clock clock.Clock
}

// ValidReportOutputs are the accepted --output values.
var ValidReportOutputs = []string{"table", "csv", "ndjson"}

// ActivityRow is one line of the activity report: the time a rule
// attributed to a tag set.
type ActivityRow struct {
	Result   string        `json:"result"`
	Rule     string        `json:"rule,omitempty"`
	Tags     []string      `json:"tags"`
	Segments int           `json:"segments"`
	Duration time.Duration `json:"-"`
	Seconds  float64       `json:"seconds"`
}

// HistoryRow is an export record in report output.
type HistoryRow struct {
	ID       string   `json:"id"`
	Kind     string   `json:"kind"`
	Start    string   `json:"start"`
	Seconds  float64  `json:"seconds"`
	Tags     []string `json:"tags"`
	Decision string   `json:"decision_time"`
}

// RunRow is a run in report output.
type RunRow struct {
	ID             string  `json:"id"`
	Mode           string  `json:"mode"`
	StartedAt      string  `json:"started_at"`
	FinishedAt     string  `json:"finished_at,omitempty"`
	Ticks          int     `json:"ticks"`
	Exports        int     `json:"exports"`
	UnknownSeconds float64 `json:"unknown_seconds"`
	IgnoredSeconds float64 `json:"ignored_seconds"`
	IgnoredCount   int     `json:"ignored_count"`
}

// ReportResult is the JSON form of a report.
type ReportResult struct {
	From       string        `json:"from,omitempty"`
	To         string        `json:"to,omitempty"`
	Activity   []ActivityRow `json:"activity,omitempty"`
	Unknown    float64       `json:"unknown_seconds"`
	Ignored    float64       `json:"ignored_seconds"`
	Violations []string      `json:"violations,omitempty"`
	History    []HistoryRow  `json:"history,omitempty"`
	Runs       []RunRow      `json:"runs,omitempty"`
}

// NewReportCommand creates the report command.
func NewReportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarise how activity was classified",
		Long: `Classify a range without touching the ledger and summarise the time each
rule attributed, plus unclassified and ignored time.

Without --from/--to the report covers today. With --db the export history
(--history) and recent runs (--runs N) recorded by sync are shown too.

Examples:
  awexport report
  awexport report --from 2025-01-01 --to 2025-01-02 --output csv
  awexport report --db history.db --history --runs 5
  awexport report --test-data day.json --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(opts, cmd)
		},
	}

	opts.SourceOptions.addFlags(cmd)
	cmd.Flags().StringVar(&opts.From, "from", "", "start of the range (default: midnight)")
	cmd.Flags().StringVar(&opts.To, "to", "", "end of the range (default: now)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "SQLite database written by sync")
	cmd.Flags().BoolVar(&opts.History, "history", false, "list recorded exports in the range (needs --db)")
	cmd.Flags().IntVar(&opts.Runs, "runs", 0, "list the N most recent runs (needs --db)")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "table", "text layout (table|csv|ndjson)")

	return cmd
}

func runReport(opts *ReportOptions, cmd *cobra.Command) error {
	logger := opts.Logger()
	if !slices.Contains(ValidReportOutputs, opts.Output) {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid output %q: must be one of %v", opts.Output, ValidReportOutputs))
	}
	if (opts.History || opts.Runs > 0) && opts.Database == "" {
		return NewExitError(ExitCommandError, "--history and --runs need --db")
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.System{}
	}
	now := clk.Now()
	from, to, err := parseRange(opts.From, opts.To, now)
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd.Context(), logger)
	defer stop()

	in, err := load(ctx, opts.RootOptions, opts.SourceOptions)
	if err != nil {
		return err
	}
	if from.IsZero() {
		if in.Fixture != nil {
			from, to = in.Fixture.Range()
		} else {
			to = now
			y, m, d := now.Date()
			from = time.Date(y, m, d, 0, 0, 0, 0, now.Location())
		}
	}

	res := ReportResult{From: from.UTC().Format(time.RFC3339), To: to.UTC().Format(time.RFC3339)}
	if to.After(from) {
		agg := newActivityAggregate()
		asserter := engine.NewAsserter(engine.AssertCollect, logger)
		eng, err := engine.New(in.Compiled, in.Source, in.Index, tracker.NewDryRun(logger),
			engine.WithLogger(logger),
			engine.WithClock(clk),
			engine.WithAsserter(asserter),
			engine.WithSegmentHook(agg.add),
		)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to start", err)
		}
		if err := eng.RunRange(ctx, from, to); err != nil {
			return syncError(err)
		}
		sum := eng.State().Summary()
		res.Activity = agg.rows()
		res.Unknown = sum.Unknown.Seconds()
		res.Ignored = sum.Ignored.Seconds()
		for _, v := range asserter.Collected() {
			res.Violations = append(res.Violations, v.Error())
		}
	}

	if opts.Database != "" {
		st, err := openStore(opts.Database)
		if err != nil {
			return err
		}
		defer func() {
			if err := st.Close(); err != nil {
				logger.Error("error closing database", "error", err)
			}
		}()
		if opts.History {
			records, err := st.ReadExports(ctx, from, to)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to read export history", err)
			}
			for _, r := range records {
				res.History = append(res.History, historyRow(r))
			}
		}
		if opts.Runs > 0 {
			runs, err := st.ReadRuns(ctx, opts.Runs)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to read runs", err)
			}
			for _, r := range runs {
				res.Runs = append(res.Runs, runRow(r))
			}
		}
	}

	f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if f.JSON() {
		return f.Success(res)
	}
	w := cmd.OutOrStdout()
	switch opts.Output {
	case "csv":
		return writeReportCSV(w, res)
	case "ndjson":
		return writeReportNDJSON(w, res)
	}
	return writeReportTable(opts.printer(w), res, opts.History, opts.Runs > 0)
}

type segmentKey struct {
	start  int64
	status bool
}

// activityAggregate collects classified segments. The in-progress segment
// is reported again as it grows, so only its latest version counts.
type activityAggregate struct {
	seen map[segmentKey]int
	segs []activitySegment
}

type activitySegment struct {
	seg event.Sample
	c   classify.Classification
}

func newActivityAggregate() *activityAggregate {
	return &activityAggregate{seen: map[segmentKey]int{}}
}

func (a *activityAggregate) add(seg event.Sample, c classify.Classification, _ bool) {
	k := segmentKey{start: seg.Timestamp.UnixNano(), status: c.IsStatus()}
	if i, ok := a.seen[k]; ok {
		a.segs[i] = activitySegment{seg: seg, c: c}
		return
	}
	a.seen[k] = len(a.segs)
	a.segs = append(a.segs, activitySegment{seg: seg, c: c})
}

// rows groups window segments by result, rule and tags, longest first.
// AFK status samples overlap the window segments and are left out.
func (a *activityAggregate) rows() []ActivityRow {
	byKey := map[string]*ActivityRow{}
	for _, s := range a.segs {
		if s.c.IsStatus() {
			continue
		}
		key := s.c.Result.String() + "|" + s.c.Rule + "|" + s.c.Tags.String()
		row, ok := byKey[key]
		if !ok {
			row = &ActivityRow{Result: s.c.Result.String(), Rule: s.c.Rule, Tags: s.c.Tags.Sorted()}
			if row.Tags == nil {
				row.Tags = []string{}
			}
			byKey[key] = row
		}
		row.Segments++
		row.Duration += s.seg.Duration
	}

	out := make([]ActivityRow, 0, len(byKey))
	for _, r := range byKey {
		r.Seconds = r.Duration.Seconds()
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Duration != out[j].Duration {
			return out[i].Duration > out[j].Duration
		}
		if out[i].Rule != out[j].Rule {
			return out[i].Rule < out[j].Rule
		}
		return fmt.Sprint(out[i].Tags) < fmt.Sprint(out[j].Tags)
	})
	return out
}

func historyRow(r state.ExportRecord) HistoryRow {
	return HistoryRow{
		ID:       r.ID,
		Kind:     string(r.Kind),
		Start:    r.Start.UTC().Format(time.RFC3339),
		Seconds:  r.Duration.Seconds(),
		Tags:     r.Tags.Sorted(),
		Decision: r.DecisionTime.UTC().Format(time.RFC3339),
	}
}

func runRow(r store.RunStats) RunRow {
	row := RunRow{
		ID:             r.ID,
		Mode:           r.Mode,
		StartedAt:      r.StartedAt.UTC().Format(time.RFC3339),
		Ticks:          r.Ticks,
		Exports:        r.Exports,
		UnknownSeconds: r.Unknown.Seconds(),
		IgnoredSeconds: r.Ignored.Seconds(),
		IgnoredCount:   r.IgnoredCount,
	}
	if !r.FinishedAt.IsZero() {
		row.FinishedAt = r.FinishedAt.UTC().Format(time.RFC3339)
	}
	return row
}

func writeReportTable(p *output.Printer, res ReportResult, history, runs bool) error {
	p.Heading(fmt.Sprintf("Activity %s - %s", res.From, res.To))
	rows := make([][]string, 0, len(res.Activity))
	for _, r := range res.Activity {
		rows = append(rows, []string{output.Duration(r.Duration), strconv.Itoa(r.Segments), r.Result, r.Rule, fmt.Sprint(r.Tags)})
	}
	if err := p.Table([]string{"TIME", "SEGMENTS", "RESULT", "RULE", "TAGS"}, rows); err != nil {
		return err
	}
	p.Println(fmt.Sprintf("unknown %s, ignored %s",
		output.Duration(seconds(res.Unknown)), output.Duration(seconds(res.Ignored))))
	for _, v := range res.Violations {
		p.Warnf("consistency: %s", v)
	}

	if history {
		p.Println("")
		p.Heading("Exports")
		rows = rows[:0]
		for _, h := range res.History {
			rows = append(rows, []string{h.Start, output.Duration(seconds(h.Seconds)), h.Kind, fmt.Sprint(h.Tags), h.ID})
		}
		if err := p.Table([]string{"START", "DURATION", "KIND", "TAGS", "ID"}, rows); err != nil {
			return err
		}
	}
	if runs {
		p.Println("")
		p.Heading("Runs")
		rows = rows[:0]
		for _, r := range res.Runs {
			finished := r.FinishedAt
			if finished == "" {
				finished = "-"
			}
			rows = append(rows, []string{r.StartedAt, finished, r.Mode, strconv.Itoa(r.Ticks), strconv.Itoa(r.Exports),
				output.Duration(seconds(r.UnknownSeconds)), r.ID})
		}
		if err := p.Table([]string{"STARTED", "FINISHED", "MODE", "TICKS", "EXPORTS", "UNKNOWN", "ID"}, rows); err != nil {
			return err
		}
	}
	return nil
}

// writeReportCSV writes one record per activity row, then the unknown and
// ignored totals as rows of their own.
func writeReportCSV(w io.Writer, res ReportResult) error {
	cw := csv.NewWriter(w)
	records := [][]string{{"seconds", "segments", "result", "rule", "tags"}}
	for _, r := range res.Activity {
		records = append(records, []string{formatSeconds(r.Seconds), strconv.Itoa(r.Segments), r.Result, r.Rule, strings.Join(r.Tags, " ")})
	}
	records = append(records,
		[]string{formatSeconds(res.Unknown), "", "unknown", "", ""},
		[]string{formatSeconds(res.Ignored), "", "ignored", "", ""},
	)
	return cw.WriteAll(records)
}

// writeReportNDJSON writes each row as one JSON object per line.
func writeReportNDJSON(w io.Writer, res ReportResult) error {
	enc := json.NewEncoder(w)
	for _, r := range res.Activity {
		if err := enc.Encode(struct {
			Type string `json:"type"`
			ActivityRow
		}{"activity", r}); err != nil {
			return err
		}
	}
	for _, h := range res.History {
		if err := enc.Encode(struct {
			Type string `json:"type"`
			HistoryRow
		}{"export", h}); err != nil {
			return err
		}
	}
	for _, r := range res.Runs {
		if err := enc.Encode(struct {
			Type string `json:"type"`
			RunRow
		}{"run", r}); err != nil {
			return err
		}
	}
	return enc.Encode(map[string]any{"type": "totals", "unknown_seconds": res.Unknown, "ignored_seconds": res.Ignored})
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', -1, 64)
}

