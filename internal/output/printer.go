// Package output prints user-facing progress lines: commits, timew commands
// about to run and warnings that need the user's attention. Diagnostics go
// through slog instead.
package output

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/roach88/awexport/internal/tags"
)

// Printer writes coloured status lines.
//
// Thread-safety: a Printer is not safe for concurrent use.
type Printer struct {
	w     io.Writer
	quiet bool
	loc   *time.Location

	ok    *color.Color
	skip  *color.Color
	warn  *color.Color
	fail  *color.Color
	faint *color.Color
}

// Option configures a Printer.
type Option func(*Printer)

// WithQuiet suppresses progress lines. Warnings, errors and results are
// still printed.
func WithQuiet(q bool) Option {
	return func(p *Printer) { p.quiet = q }
}

// WithColor forces colours on or off. By default fatih/color decides from
// the terminal and NO_COLOR.
func WithColor(on bool) Option {
	return func(p *Printer) {
		for _, c := range p.colors() {
			if on {
				c.EnableColor()
			} else {
				c.DisableColor()
			}
		}
	}
}

// WithLocation sets the zone timestamps are shown in.
//
// Default: time.Local
func WithLocation(loc *time.Location) Option {
	return func(p *Printer) { p.loc = loc }
}

// New creates a printer writing to w.
func New(w io.Writer, opts ...Option) *Printer {
	p := &Printer{
		w:     w,
		loc:   time.Local,
		ok:    color.New(color.FgGreen),
		skip:  color.New(color.FgHiBlack),
		warn:  color.New(color.FgYellow),
		fail:  color.New(color.FgRed),
		faint: color.New(color.FgHiBlack),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Printer) colors() []*color.Color {
	return []*color.Color{p.ok, p.skip, p.warn, p.fail, p.faint}
}

// Quiet reports whether progress lines are suppressed.
func (p *Printer) Quiet() bool { return p.quiet }

// Committed reports tags handed to the ledger.
func (p *Printer) Committed(kind string, t tags.Set, since time.Time) {
	if p.quiet {
		return
	}
	fmt.Fprintf(p.w, "%s %s %s since %s\n", p.ok.Sprint("✓"), p.faint.Sprintf("%-7s", kind), t.String(), p.stamp(since))
}

// Skipped reports a decision the ledger was spared.
func (p *Printer) Skipped(kind string, t tags.Set, reason string) {
	if p.quiet {
		return
	}
	fmt.Fprintf(p.w, "%s %s %s %s\n", p.skip.Sprint("-"), p.faint.Sprintf("%-7s", kind), t.String(), p.skip.Sprintf("(%s)", reason))
}

// Running announces a timew command and the pause that follows it, during
// which the user can still interrupt.
func (p *Printer) Running(args []string, grace time.Duration) {
	if p.quiet {
		return
	}
	line := "timew " + strings.Join(args, " ")
	if grace > 0 {
		fmt.Fprintf(p.w, "%s %s %s\n", p.ok.Sprint("→"), line, p.faint.Sprintf("(pausing %s, ctrl-c to abort)", grace))
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", p.ok.Sprint("→"), line)
}

// Infof prints a progress line.
func (p *Printer) Infof(format string, args ...any) {
	if p.quiet {
		return
	}
	fmt.Fprintf(p.w, format+"\n", args...)
}

// Warnf prints a warning. Never suppressed.
func (p *Printer) Warnf(format string, args ...any) {
	fmt.Fprintf(p.w, "%s %s\n", p.warn.Sprint("!"), fmt.Sprintf(format, args...))
}

// Errorf prints an error line. Never suppressed.
func (p *Printer) Errorf(format string, args ...any) {
	fmt.Fprintf(p.w, "%s %s\n", p.fail.Sprint("✗"), fmt.Sprintf(format, args...))
}

// Println prints a result line as is.
func (p *Printer) Println(line string) {
	fmt.Fprintln(p.w, line)
}

// Heading prints a section title.
func (p *Printer) Heading(title string) {
	fmt.Fprintln(p.w, p.ok.Sprint(title))
}

// Table prints rows aligned under header.
func (p *Printer) Table(header []string, rows [][]string) error {
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	for _, r := range rows {
		fmt.Fprintln(tw, strings.Join(r, "\t"))
	}
	return tw.Flush()
}

func (p *Printer) stamp(t time.Time) string {
	return t.In(p.loc).Format("2006-01-02 15:04:05")
}

// Duration renders d rounded to seconds, e.g. "1h2m3s".
func Duration(d time.Duration) string {
	return d.Round(time.Second).String()
}
