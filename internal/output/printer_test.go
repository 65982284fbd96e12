package output

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/awexport/internal/tags"
)

var since = time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

func newPrinter(quiet bool) (*Printer, *bytes.Buffer) {
	var buf bytes.Buffer
	return New(&buf, WithQuiet(quiet), WithColor(false), WithLocation(time.UTC)), &buf
}

func TestPrinter_Progress(t *testing.T) {
	p, buf := newPrinter(false)

	p.Committed("export", tags.New("mail", "not-afk", "~aw"), since)
	p.Skipped("export", tags.New("mail"), "already tracked")
	p.Running([]string{"start", "mail", "2025-01-01T09:00:00"}, 10*time.Second)
	p.Running([]string{"tag", "@1", "4EMPLOYER"}, 0)
	p.Infof("%d ticks", 3)

	assert.Equal(t, ""+
		"✓ export  mail not-afk ~aw since 2025-01-01 09:00:00\n"+
		"- export  mail (already tracked)\n"+
		"→ timew start mail 2025-01-01T09:00:00 (pausing 10s, ctrl-c to abort)\n"+
		"→ timew tag @1 4EMPLOYER\n"+
		"3 ticks\n", buf.String())
}

func TestPrinter_QuietKeepsWarningsAndResults(t *testing.T) {
	p, buf := newPrinter(true)
	assert.True(t, p.Quiet())

	p.Committed("export", tags.New("mail"), since)
	p.Skipped("export", tags.New("mail"), "override")
	p.Running([]string{"start"}, time.Second)
	p.Infof("hidden")
	p.Warnf("bucket %s is stale", "aw-watcher-afk_host")
	p.Errorf("boom")
	p.Println("timew track a - b mail :adjust")

	assert.Equal(t, ""+
		"! bucket aw-watcher-afk_host is stale\n"+
		"✗ boom\n"+
		"timew track a - b mail :adjust\n", buf.String())
}

func TestPrinter_Table(t *testing.T) {
	p, buf := newPrinter(false)
	require.NoError(t, p.Table([]string{"TAG", "TIME"}, [][]string{
		{"mail", "2m0s"},
		{"not-afk", "10m0s"},
	}))
	assert.Equal(t, ""+
		"TAG      TIME\n"+
		"mail     2m0s\n"+
		"not-afk  10m0s\n", buf.String())
}

func TestDuration(t *testing.T) {
	assert.Equal(t, "1m31s", Duration(90*time.Second+700*time.Millisecond))
	assert.Equal(t, "0s", Duration(0))
}
