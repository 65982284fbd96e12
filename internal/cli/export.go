package cli

import (
	"fmt"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/awexport/internal/clock"
	"github.com/roach88/awexport/internal/source"
)

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	SourceOptions

	From      string
	To        string
	Output    string
	Encoding  string
	Anonymize bool

	// Clock overrides the system clock (for testing).
	Clock clock.Clock
}

// ExportSummary is the JSON result of an export written to a file.
type ExportSummary struct {
	Path       string         `json:"path"`
	From       string         `json:"from"`
	To         string         `json:"to"`
	Anonymized bool           `json:"anonymized"`
	Buckets    map[string]int `json:"buckets"`
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Record ActivityWatch data to a file",
		Long: `Dump every bucket's samples over a range into a JSON or YAML file.

The file can be replayed with --test-data by sync, diff and report, and is
the input format of scenario fixtures. With --anonymize titles, URLs, paths
and project names are replaced so the file can be shared in bug reports.

Examples:
  awexport export --from 2025-01-01 --to 2025-01-02 -o day.json
  awexport export --from -2h --to now --anonymize -o repro.yaml
  awexport export --from -1h --to now --encoding yaml > last-hour.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(opts, cmd)
		},
	}

	opts.SourceOptions.addFlags(cmd)
	cmd.Flags().StringVar(&opts.From, "from", "", "start of the range (required)")
	cmd.Flags().StringVar(&opts.To, "to", "", "end of the range (required)")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "file to write; format from extension (default: stdout)")
	cmd.Flags().StringVar(&opts.Encoding, "encoding", "json", "stdout encoding (json|yaml)")
	cmd.Flags().BoolVar(&opts.Anonymize, "anonymize", false, "mask titles, URLs, paths and projects")

	return cmd
}

func runExport(opts *ExportOptions, cmd *cobra.Command) error {
	logger := opts.Logger()
	if opts.From == "" || opts.To == "" {
		return NewExitError(ExitCommandError, "export needs --from and --to")
	}
	encoding := source.Format(opts.Encoding)
	if !slices.Contains([]source.Format{source.FormatJSON, source.FormatYAML}, encoding) {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid encoding %q: must be json or yaml", opts.Encoding))
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

	src, _, _, err := openSource(ctx, opts.SourceOptions, logger)
	if err != nil {
		return err
	}
	d, err := source.Capture(ctx, src, from, to, now)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read ActivityWatch data", err)
	}
	if opts.Anonymize {
		d = source.Anonymize(d)
	}

	if opts.Output == "" {
		if err := d.Encode(cmd.OutOrStdout(), encoding); err != nil {
			return WrapExitError(ExitFailure, "failed to write export", err)
		}
		return nil
	}
	if err := source.WriteDump(opts.Output, d); err != nil {
		return WrapExitError(ExitFailure, "failed to write export", err)
	}
	logger.Info("export written", "path", opts.Output, "buckets", len(d.Buckets))

	sum := ExportSummary{
		Path:       opts.Output,
		From:       from.UTC().Format(time.RFC3339),
		To:         to.UTC().Format(time.RFC3339),
		Anonymized: d.Metadata.Anonymized,
		Buckets:    map[string]int{},
	}
	for id, samples := range d.Events {
		sum.Buckets[id] = len(samples)
	}
	f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if f.JSON() {
		return f.Success(sum)
	}
	p := opts.printer(cmd.OutOrStdout())
	total := 0
	for _, n := range sum.Buckets {
		total += n
	}
	p.Infof("wrote %d sample(s) from %d bucket(s) to %s", total, len(d.Buckets), opts.Output)
	return nil
}
