package harness

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssertGolden_FromResult(t *testing.T) {
	result, err := Run(mailScenario(Assertion{Type: AssertCommandCount, Count: 1}))
	require.NoError(t, err)

	// go test ./internal/harness -run TestAssertGolden_FromResult -update
	require.NoError(t, AssertGolden(t, "mail_long", result))
}

func TestSnapshot_EmptyResultRendersEmptyLists(t *testing.T) {
	data, err := NewSnapshot("empty", &Result{}).Bytes()
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"scenario\": \"empty\",\n  \"trace\": [],\n  \"commands\": []\n}\n", string(data))
}

func TestSnapshot_Deterministic(t *testing.T) {
	r := NewResult()
	r.Trace = append(r.Trace, TraceEvent{Seq: 1, Kind: "afk", Tags: []string{"afk", "~aw"}, Since: "2025-01-01T09:00:00Z", Skipped: "already tracked"})
	r.Commands = append(r.Commands, []string{"timew", "start", "afk", "~aw", "2025-01-01T09:00:00"})

	first, err := NewSnapshot("x", r).Bytes()
	require.NoError(t, err)
	second, err := NewSnapshot("x", r).Bytes()
	require.NoError(t, err)
	require.Equal(t, first, second, "snapshot JSON must be deterministic")

	var decoded TraceSnapshot
	require.NoError(t, json.Unmarshal(first, &decoded))
	assert.Equal(t, "already tracked", decoded.Trace[0].Skipped)
	assert.Contains(t, string(first), `"skipped": "already tracked"`)
}

func TestSnapshot_AppliedCommitOmitsSkipped(t *testing.T) {
	r := NewResult()
	r.Trace = append(r.Trace, TraceEvent{Seq: 1, Kind: "long", Tags: []string{"mail"}, Since: "2025-01-01T09:00:00Z"})
	data, err := NewSnapshot("x", r).Bytes()
	require.NoError(t, err)
	assert.NotContains(t, string(data), "skipped")
}
