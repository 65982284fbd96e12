package cli

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/roach88/awexport/internal/source"
	"github.com/roach88/awexport/internal/testutil"
)

const mailConfig = `
rules:
  app:
    - name: mail
      app_names: [thunderbird]
      tags: [mail]
`

// mailDump is five minutes of active mail from 09:00 UTC.
func mailDump() *source.Dump {
	return testutil.NewBuilder().
		Window(0, 5*time.Minute, "thunderbird", "Inbox").
		Active(0, 5*time.Minute).
		Dump()
}

const (
	mailFrom = "2025-01-01T09:00:00Z"
	mailTo   = "2025-01-01T09:05:00Z"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func writeDump(t *testing.T, d *source.Dump) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dump.json")
	require.NoError(t, source.WriteDump(path, d))
	return path
}

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// testCommand returns a bare command writing to buf, for calling run
// functions directly.
func testCommand(buf *bytes.Buffer) *cobra.Command {
	cmd := &cobra.Command{}
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetContext(context.Background())
	return cmd
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeRunner stands in for the timew binary.
type fakeRunner struct {
	outputs map[string]string
	errs    map[string]error
	calls   [][]string
}

func (f *fakeRunner) Run(_ context.Context, args ...string) ([]byte, error) {
	f.calls = append(f.calls, args)
	key := strings.Join(args, " ")
	if err := f.errs[key]; err != nil {
		return nil, err
	}
	return []byte(f.outputs[key]), nil
}

func (f *fakeRunner) mutations() [][]string {
	var out [][]string
	for _, c := range f.calls {
		switch c[0] {
		case "start", "tag", "track":
			out = append(out, c)
		}
	}
	return out
}
