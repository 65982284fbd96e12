package cli

import (
	"encoding/csv"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/awexport/internal/classify"
	"github.com/roach88/awexport/internal/event"
	"github.com/roach88/awexport/internal/tags"
	"github.com/roach88/awexport/internal/testutil"
)

func TestReport_JSON(t *testing.T) {
	cfg := writeFile(t, "config.yaml", mailConfig)
	dump := writeDump(t, mailDump())

	out, err := execute(t, "report", "--format", "json", "-c", cfg, "--test-data", dump)
	require.NoError(t, err)

	var resp struct {
		Status string       `json:"status"`
		Data   ReportResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, mailFrom, resp.Data.From)
	assert.Equal(t, mailTo, resp.Data.To)

	var mail float64
	for _, r := range resp.Data.Activity {
		if r.Rule == "app:mail" {
			assert.Equal(t, []string{"mail"}, r.Tags)
			mail += r.Seconds
		}
	}
	assert.InDelta(t, 300, mail, 0.001)
	assert.Zero(t, resp.Data.Unknown)
	assert.Empty(t, resp.Data.Violations)
}

func TestReport_CSV(t *testing.T) {
	cfg := writeFile(t, "config.yaml", mailConfig)
	dump := writeDump(t, mailDump())

	out, err := execute(t, "report", "-c", cfg, "--test-data", dump, "--output", "csv")
	require.NoError(t, err)

	records, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(records), 3)
	assert.Equal(t, []string{"seconds", "segments", "result", "rule", "tags"}, records[0])
	assert.Equal(t, "unknown", records[len(records)-2][2])
	assert.Equal(t, "ignored", records[len(records)-1][2])
}

func TestReport_HistoryAfterSync(t *testing.T) {
	cfg := writeFile(t, "config.yaml", mailConfig)
	dump := writeDump(t, mailDump())
	db := filepath.Join(t.TempDir(), "history.db")

	_, err := execute(t, "sync", "-c", cfg, "--test-data", dump, "--ledger", "sqlite", "--db", db)
	require.NoError(t, err)

	out, err := execute(t, "report", "-c", cfg, "--test-data", dump, "--db", db, "--history", "--runs", "5", "--output", "ndjson")
	require.NoError(t, err)

	types := map[string]int{}
	var export map[string]any
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		var row map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &row), line)
		typ, _ := row["type"].(string)
		types[typ]++
		if typ == "export" {
			export = row
		}
	}
	assert.Equal(t, 1, types["export"])
	assert.Equal(t, 1, types["run"])
	assert.Equal(t, 1, types["totals"])
	require.NotNil(t, export)
	assert.Equal(t, "long", export["kind"])
	assert.Equal(t, mailFrom, export["start"])
}

func TestReport_FlagErrors(t *testing.T) {
	_, err := execute(t, "report", "--history")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "need --db")

	_, err = execute(t, "report", "--output", "xlsx")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid output")
}

func TestActivityAggregate(t *testing.T) {
	agg := newActivityAggregate()
	at := testutil.Start
	seg := func(off, dur time.Duration) event.Sample {
		return event.Sample{Timestamp: at.Add(off), Duration: dur}
	}
	mail := classify.Classification{Result: classify.Matched, Tags: tags.New("mail"), Rule: "app:mail"}
	unknown := classify.Classification{Result: classify.NoMatch}
	status := classify.Classification{Result: classify.Matched, Tags: tags.New("not-afk"), Rule: "afk:status"}

	agg.add(seg(0, time.Minute), mail, true)
	agg.add(seg(time.Minute, time.Minute), unknown, true)
	agg.add(seg(0, 10*time.Minute), status, true)
	// the in-progress segment grows between ticks
	agg.add(seg(2*time.Minute, time.Minute), mail, false)
	agg.add(seg(2*time.Minute, 3*time.Minute), mail, false)

	rows := agg.rows()
	require.Len(t, rows, 2)
	assert.Equal(t, "app:mail", rows[0].Rule)
	assert.Equal(t, 2, rows[0].Segments)
	assert.Equal(t, 4*time.Minute, rows[0].Duration)
	assert.Equal(t, "no-match", rows[1].Result)
	assert.Equal(t, []string{}, rows[1].Tags)
}
