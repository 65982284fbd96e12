package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/awexport/internal/event"
	"github.com/roach88/awexport/internal/testutil"
)

// Scenario is one recorded stretch of activity replayed through the engine,
// together with what the ledger should end up receiving.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Config is an inline configuration document. Empty means defaults.
	Config string `yaml:"config,omitempty"`

	// ConfigFile points at a configuration file, relative to the scenario.
	// Mutually exclusive with Config.
	ConfigFile string `yaml:"config_file,omitempty"`

	// Start anchors the sample offsets. Defaults to testutil.Start.
	Start time.Time `yaml:"start,omitempty"`

	// Range limits the replay. Defaults to [0, end of the last sample).
	Range *Range `yaml:"range,omitempty"`

	// Ledger seeds the simulated ledger, typically with an open entry.
	Ledger []LedgerEntry `yaml:"ledger,omitempty"`

	// Samples are the raw watcher samples.
	Samples []SampleSpec `yaml:"samples"`

	// Assert selects how consistency violations are handled: abort
	// (default), log or collect.
	Assert string `yaml:"assert,omitempty"`

	// Assertions validate the commits and the stored export history.
	Assertions []Assertion `yaml:"assertions"`
}

// Range is a replay window as offsets from Start.
type Range struct {
	From time.Duration `yaml:"from"`
	To   time.Duration `yaml:"to"`
}

// LedgerEntry is a pre-existing ledger interval. A zero End leaves it open.
// Offsets may be negative.
type LedgerEntry struct {
	Start time.Duration  `yaml:"start"`
	End   *time.Duration `yaml:"end,omitempty"`
	Tags  []string       `yaml:"tags"`
}

// SampleSpec is one watcher sample.
type SampleSpec struct {
	// Bucket is a watcher alias: window, afk, lid, ask-away, firefox, tmux,
	// or editor/<name> such as editor/vscode.
	Bucket   string         `yaml:"bucket"`
	At       time.Duration  `yaml:"at"`
	Duration time.Duration  `yaml:"duration"`
	Data     map[string]any `yaml:"data"`
}

// Assertion validates the trace or the final store contents.
type Assertion struct {
	// Type specifies the assertion type:
	// - "commit_contains": an applied commit of Kind carries exactly Tags
	// - "commit_order": applied commit kinds appear in Kinds order
	// - "commit_count": exactly Count applied commits (of Kind, if set)
	// - "never_tagged": no applied commit carries Tag
	// - "command_count": exactly Count ledger commands were issued
	// - "final_state": query Table and verify expected values
	Type string `yaml:"type"`

	// Kind filters commits (export, flush, afk, long, unknown, retag).
	Kind string `yaml:"kind,omitempty"`

	// Tags are the expected final tags, marker included.
	Tags []string `yaml:"tags,omitempty"`

	// Tag is the tag that must never be committed.
	Tag string `yaml:"tag,omitempty"`

	// Kinds is the expected commit order.
	Kinds []string `yaml:"kinds,omitempty"`

	// Count is the expected number of occurrences.
	Count int `yaml:"count,omitempty"`

	// Table is the state table name (used by final_state).
	Table string `yaml:"table,omitempty"`

	// Where specifies query filters (used by final_state).
	// All fields must match exactly.
	Where map[string]any `yaml:"where,omitempty"`

	// Expect contains expected field values (used by final_state).
	// Subset match - only specified fields are validated.
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertCommitContains = "commit_contains"
	AssertCommitOrder    = "commit_order"
	AssertCommitCount    = "commit_count"
	AssertNeverTagged    = "never_tagged"
	AssertCommandCount   = "command_count"
	AssertFinalState     = "final_state"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving config_file relative to basePath.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	s, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}
	if s.ConfigFile != "" && !filepath.IsAbs(s.ConfigFile) && basePath != "" {
		s.ConfigFile = filepath.Join(basePath, s.ConfigFile)
	}
	if s.ConfigFile != "" {
		if _, err := os.Stat(s.ConfigFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("invalid scenario: config file not found: %s", s.ConfigFile)
		}
	}
	return s, nil
}

// ParseScenario decodes and validates a scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
	// Parse YAML with strict field validation (catches typos like "assertion:" vs "assertions:")
	var s Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Config != "" && s.ConfigFile != "" {
		return fmt.Errorf("config and config_file are mutually exclusive")
	}
	if len(s.Samples) == 0 {
		return fmt.Errorf("samples list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	switch s.Assert {
	case "", "abort", "log", "collect":
	default:
		return fmt.Errorf("assert: unknown mode %q", s.Assert)
	}
	if s.Range != nil && s.Range.To <= s.Range.From {
		return fmt.Errorf("range: to must be after from")
	}

	for i, e := range s.Ledger {
		if len(e.Tags) == 0 {
			return fmt.Errorf("ledger[%d]: tags are required", i)
		}
		if e.End != nil && *e.End <= e.Start {
			return fmt.Errorf("ledger[%d]: end must be after start", i)
		}
	}

	for i, sample := range s.Samples {
		if _, _, err := resolveBucket(sample.Bucket); err != nil {
			return fmt.Errorf("samples[%d]: %w", i, err)
		}
		if sample.Duration < 0 {
			return fmt.Errorf("samples[%d]: duration must be non-negative", i)
		}
		if sample.Data == nil {
			return fmt.Errorf("samples[%d]: data is required", i)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertCommitContains:
		if len(a.Tags) == 0 {
			return fmt.Errorf("assertions[%d]: tags are required for commit_contains", index)
		}
	case AssertCommitOrder:
		if len(a.Kinds) == 0 {
			return fmt.Errorf("assertions[%d]: kinds list is required for commit_order", index)
		}
	case AssertCommitCount, AssertCommandCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
	case AssertNeverTagged:
		if a.Tag == "" {
			return fmt.Errorf("assertions[%d]: tag is required for never_tagged", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

// resolveBucket maps a sample alias to a bucket id and client type.
func resolveBucket(alias string) (id, client string, err error) {
	switch alias {
	case "window":
		return testutil.WindowBucket, event.ClientWindow, nil
	case "afk":
		return testutil.AFKBucket, event.ClientAFK, nil
	case "lid":
		return testutil.LidBucket, event.ClientLid, nil
	case "ask-away":
		return testutil.AskAwayBucket, event.ClientAskAway, nil
	case "firefox":
		return testutil.FirefoxBucket, event.ClientWeb, nil
	case "tmux":
		return testutil.TmuxBucket, event.ClientTmux, nil
	}
	if editor, ok := strings.CutPrefix(alias, "editor/"); ok && editor != "" {
		return testutil.EditorBucket(editor), "aw-watcher-" + editor, nil
	}
	return "", "", fmt.Errorf("unknown bucket %q", alias)
}
