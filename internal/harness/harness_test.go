package harness

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/roach88/awexport/internal/engine"
	"github.com/roach88/awexport/internal/state"
	"github.com/roach88/awexport/internal/tags"
)

const mailConfig = `
rules:
  app:
    - name: mail
      app_names: [thunderbird]
      tags: [mail]
`

func mailScenario(assertions ...Assertion) *Scenario {
	return &Scenario{
		Name:        "mail",
		Description: "five minutes of mail",
		Config:      mailConfig,
		Samples: []SampleSpec{
			{Bucket: "window", At: 0, Duration: 5 * time.Minute, Data: map[string]any{"app": "thunderbird", "title": "Inbox"}},
			{Bucket: "afk", At: 0, Duration: 5 * time.Minute, Data: map[string]any{"status": "not-afk"}},
		},
		Assertions: assertions,
	}
}

func TestRun_LongSegment(t *testing.T) {
	result, err := Run(mailScenario(
		Assertion{Type: AssertCommitContains, Kind: "long", Tags: []string{"mail", "not-afk", "~aw"}},
		Assertion{Type: AssertCommandCount, Count: 1},
	))
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)

	require.Len(t, result.Trace, 1)
	assert.Equal(t, TraceEvent{
		Seq:   1,
		Kind:  "long",
		Tags:  []string{"mail", "not-afk", "~aw"},
		Since: "2025-01-01T09:00:00Z",
	}, result.Trace[0])
	assert.Equal(t, [][]string{{"timew", "start", "mail", "not-afk", "~aw", "2025-01-01T09:00:00"}}, result.Commands)
	assert.Empty(t, result.Violations)
}

func TestRun_FailingAssertionsAreCollected(t *testing.T) {
	result, err := Run(mailScenario(
		Assertion{Type: AssertCommitCount, Count: 2},
		Assertion{Type: AssertNeverTagged, Tag: "mail"},
		Assertion{Type: AssertCommandCount, Count: 1},
	))
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "assertion 0 (commit_count)")
	assert.Contains(t, result.Errors[1], "assertion 1 (never_tagged)")
}

func TestRun_OverridePinsLedger(t *testing.T) {
	s := mailScenario(
		Assertion{Type: AssertCommandCount, Count: 0},
		Assertion{Type: AssertCommitCount, Count: 0},
	)
	s.Ledger = []LedgerEntry{{Start: -time.Hour, Tags: []string{"meeting", tags.Override}}}

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
	require.Len(t, result.Trace, 1)
	assert.Equal(t, "open entry is pinned with override", result.Trace[0].Skipped)
}

func TestRun_DefaultConfigLeavesTimeUnknown(t *testing.T) {
	s := mailScenario(Assertion{Type: AssertNeverTagged, Tag: "mail"})
	s.Config = ""

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
	assert.Empty(t, result.Commands, "five minutes of unknown time is below the forced export")
}

func TestRun_ConfigFile(t *testing.T) {
	s := mailScenario(Assertion{Type: AssertCommitCount, Kind: "long", Count: 1})
	s.Config = ""
	s.ConfigFile = filepath.Join("testdata", "mail.yaml")

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
}

func TestRun_EmptyRange(t *testing.T) {
	s := mailScenario(Assertion{Type: AssertCommandCount})
	s.Range = &Range{From: 5 * time.Minute, To: 5 * time.Minute}

	_, err := Run(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty range")
}

func TestRun_InvalidConfig(t *testing.T) {
	s := mailScenario(Assertion{Type: AssertCommandCount})
	s.Config = "tuning:\n  stickyness_factor: 2\n"

	_, err := Run(s)
	require.Error(t, err)
}

func TestRun_Deterministic(t *testing.T) {
	first, err := Run(mailScenario(Assertion{Type: AssertCommandCount, Count: 1}))
	require.NoError(t, err)
	second, err := Run(mailScenario(Assertion{Type: AssertCommandCount, Count: 1}))
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRun_FreshStorePerScenario(t *testing.T) {
	for i := 0; i < 2; i++ {
		result, err := Run(mailScenario(Assertion{
			Type:   AssertFinalState,
			Table:  "runs",
			Where:  map[string]any{"id": runID},
			Expect: map[string]any{"exports": 1, "mode": "batch"},
		}))
		require.NoError(t, err)
		assert.True(t, result.Pass, result.Errors)
	}
}

func TestResult_AddError(t *testing.T) {
	r := NewResult()
	assert.True(t, r.Pass)
	r.AddError("boom")
	assert.False(t, r.Pass)
	assert.Equal(t, []string{"boom"}, r.Errors)
}

func TestResult_AddCommit(t *testing.T) {
	r := NewResult()
	since := time.Date(2025, 1, 1, 10, 0, 0, 0, time.FixedZone("CET", 3600))
	r.AddCommit(engine.Commit{Kind: state.KindExport, Tags: tags.New("~aw", "mail"), Since: since})
	r.AddCommit(engine.Commit{Kind: state.KindAFK, Tags: tags.New("afk"), Since: since, Skipped: "already tracked"})

	require.Len(t, r.Trace, 2)
	assert.Equal(t, 1, r.Trace[0].Seq)
	assert.Equal(t, []string{"mail", "~aw"}, r.Trace[0].Tags)
	assert.Equal(t, "2025-01-01T09:00:00Z", r.Trace[0].Since)
	assert.Equal(t, 2, r.Trace[1].Seq)
	assert.Len(t, r.Applied(), 1)
}

// ScenarioSuite runs every scenario under testdata/scenarios and pins its
// trace with a golden file.
type ScenarioSuite struct {
	suite.Suite
	paths []string
}

func (s *ScenarioSuite) SetupSuite() {
	paths, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	s.Require().NoError(err)
	s.Require().NotEmpty(paths)
	s.paths = paths
}

func (s *ScenarioSuite) TestScenarios() {
	for _, p := range s.paths {
		s.Run(filepath.Base(p), func() {
			scenario, err := LoadScenario(p)
			s.Require().NoError(err)

			result, err := RunWithGolden(s.T(), scenario)
			s.Require().NoError(err)
			s.True(result.Pass, "assertion errors: %v", result.Errors)
			s.Empty(result.Violations)
		})
	}
}

func TestScenarioSuite(t *testing.T) {
	suite.Run(t, new(ScenarioSuite))
}
