package harness

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// TraceSnapshot captures the commits and ledger commands of a scenario
// execution.
type TraceSnapshot struct {
	Scenario string       `json:"scenario"`
	Trace    []TraceEvent `json:"trace"`
	Commands [][]string   `json:"commands"`
}

// NewSnapshot builds the snapshot of result.
func NewSnapshot(name string, result *Result) TraceSnapshot {
	s := TraceSnapshot{
		Scenario: name,
		Trace:    result.Trace,
		Commands: result.Commands,
	}
	if s.Trace == nil {
		s.Trace = []TraceEvent{}
	}
	if s.Commands == nil {
		s.Commands = [][]string{}
	}
	return s
}

// Bytes renders the snapshot as indented JSON with a trailing newline.
// Field order is fixed by the struct and tags are sorted, so the output is
// stable across runs.
func (s TraceSnapshot) Bytes() ([]byte, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// GoldenDir is where golden files live, relative to the test's package.
const GoldenDir = "testdata/golden"

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares the given result's trace against a golden file.
// This is useful when you've already run a scenario and want to compare
// the result against a golden file without re-running.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := NewSnapshot(scenarioName, result).Bytes()
	if err != nil {
		return err
	}
	g := goldie.New(t,
		goldie.WithFixtureDir(GoldenDir),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
