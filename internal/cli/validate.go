package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/awexport/internal/clock"
	"github.com/roach88/awexport/internal/config"
	"github.com/roach88/awexport/internal/event"
	"github.com/roach88/awexport/internal/source"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	SourceOptions

	Buckets bool

	// Clock overrides the system clock (for testing).
	Clock clock.Clock
}

// ValidationIssue is one finding in validate output.
type ValidationIssue struct {
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Path     string            `json:"path"`
	Valid    bool              `json:"valid"`
	Errors   []ValidationIssue `json:"errors,omitempty"`
	Warnings []string          `json:"warnings,omitempty"`
	Buckets  []BucketStatus    `json:"buckets,omitempty"`
}

// BucketStatus reports a watcher bucket found by --buckets.
type BucketStatus struct {
	ID          string `json:"id"`
	Client      string `json:"client"`
	LastUpdated string `json:"last_updated,omitempty"`
	Stale       bool   `json:"stale"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate [config-file]",
		Short: "Validate the configuration",
		Long: `Check a configuration file against the schema and the rule checks
without running anything. Defaults to --config or the default config path.

With --buckets the ActivityWatch buckets are listed as well and the run
fails when the window or AFK watcher is missing.

Exit codes:
  0 - Configuration valid
  1 - Configuration invalid or required buckets missing
  2 - Command error (unreadable file, unreachable server)

Examples:
  awexport validate
  awexport validate ~/dotfiles/awexport.yaml --format json
  awexport validate --buckets`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := opts.RootOptions.Config
			if len(args) == 1 {
				path = args[0]
			}
			return runValidate(opts, path, cmd)
		},
	}

	opts.SourceOptions.addFlags(cmd)
	cmd.Flags().BoolVar(&opts.Buckets, "buckets", false, "also check the ActivityWatch buckets")

	return cmd
}

func runValidate(opts *ValidateOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if path == "" {
		path = config.DefaultPath()
	}
	result := ValidationResult{Path: path, Valid: true}

	cfg, err := config.Load(path)
	var ve *config.ValidationError
	switch {
	case err == nil:
		result.Warnings = cfg.Warnings
		if _, cerr := config.Compile(cfg); cerr != nil {
			result.Valid = false
			result.Errors = append(result.Errors, ValidationIssue{Message: cerr.Error()})
		}
	case errors.As(err, &ve):
		result.Valid = false
		for _, p := range ve.Problems {
			result.Errors = append(result.Errors, ValidationIssue{Path: p.Path, Message: p.Message})
		}
	case errors.Is(err, fs.ErrNotExist):
		if err := reportJSONError(formatter, ErrCodeConfig, "config file not found: "+path); err != nil {
			return err
		}
		return NewExitError(ExitCommandError, "config file not found: "+path)
	default:
		if werr := reportJSONError(formatter, ErrCodeConfig, err.Error()); werr != nil {
			return werr
		}
		return WrapExitError(ExitCommandError, "failed to read config", err)
	}

	bucketsOK := true
	if opts.Buckets {
		clk := opts.Clock
		if clk == nil {
			clk = clock.System{}
		}
		threshold := config.DefaultTuning().AWWarnThreshold
		if cfg != nil {
			threshold = cfg.Tuning.AWWarnThreshold
		}
		statuses, err := checkBuckets(cmd.Context(), opts, clk.Now(), threshold)
		if err != nil {
			if werr := reportJSONError(formatter, ErrCodeSource, err.Error()); werr != nil {
				return werr
			}
			return WrapExitError(ExitCommandError, "cannot list buckets", err)
		}
		result.Buckets = statuses
		if err := source.NewIndex(bucketsOf(statuses)).Require(event.ClientWindow, event.ClientAFK); err != nil {
			bucketsOK = false
			result.Errors = append(result.Errors, ValidationIssue{Path: "buckets", Message: err.Error()})
		}
	}

	if formatter.JSON() {
		if err := formatter.Success(result); err != nil {
			return err
		}
	} else {
		printValidation(opts, cmd, result)
	}

	if !result.Valid {
		return NewExitError(ExitFailure, "invalid configuration")
	}
	if !bucketsOK {
		return NewExitError(ExitFailure, "required buckets missing")
	}
	return nil
}

func checkBuckets(ctx context.Context, opts *ValidateOptions, now time.Time, threshold time.Duration) ([]BucketStatus, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var src source.EventSource = source.NewAWClient(opts.AWURL)
	if opts.TestData != "" {
		d, err := source.ReadDump(opts.TestData)
		if err != nil {
			return nil, err
		}
		src = source.NewFixtureSource(d)
	}
	idx, err := source.LoadIndex(ctx, src)
	if err != nil {
		return nil, err
	}

	stale := map[string]bool{}
	for _, b := range idx.Stale(now, threshold, event.ClientWindow, event.ClientAFK) {
		stale[b.ID] = true
	}
	statuses := []BucketStatus{}
	for _, b := range idx.All() {
		s := BucketStatus{ID: b.ID, Client: b.Client, Stale: stale[b.ID]}
		if !b.LastUpdated.IsZero() {
			s.LastUpdated = b.LastUpdated.UTC().Format(time.RFC3339)
		}
		statuses = append(statuses, s)
	}
	return statuses, nil
}

func bucketsOf(statuses []BucketStatus) []event.Bucket {
	out := make([]event.Bucket, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, event.Bucket{ID: s.ID, Client: s.Client})
	}
	return out
}

func printValidation(opts *ValidateOptions, cmd *cobra.Command, result ValidationResult) {
	p := opts.printer(cmd.OutOrStdout())
	for _, w := range result.Warnings {
		p.Warnf("%s", w)
	}
	for _, b := range result.Buckets {
		if b.Stale {
			p.Warnf("bucket %s (%s) has not been updated recently (last %s)", b.ID, b.Client, orDash(b.LastUpdated))
			continue
		}
		p.Infof("bucket %s (%s)", b.ID, b.Client)
	}
	if len(result.Errors) == 0 {
		p.Println(fmt.Sprintf("✓ %s is valid", result.Path))
		return
	}
	p.Errorf("%s has %d problem(s):", result.Path, len(result.Errors))
	for _, e := range result.Errors {
		if e.Path != "" {
			p.Println(fmt.Sprintf("  %s: %s", e.Path, e.Message))
		} else {
			p.Println("  " + e.Message)
		}
	}
}

// reportJSONError writes an error response in JSON mode. In text mode the
// returned error is printed by main instead.
func reportJSONError(f *OutputFormatter, code, message string) error {
	if !f.JSON() {
		return nil
	}
	return f.Error(code, message, nil)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
