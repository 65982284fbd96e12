package classify

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/roach88/awexport/internal/config"
	"github.com/roach88/awexport/internal/event"
	"github.com/roach88/awexport/internal/source"
	"github.com/roach88/awexport/internal/tags"
)

// Outcome is a matcher's verdict. A matcher that does not claim the
// segment lets the next one try. A claimed outcome with no tags ends the
// chain as no-match: the segment belongs to this matcher but no rule fits.
type Outcome struct {
	Claimed bool
	Tags    tags.Set
	Rule    string
}

// Matcher is one link of the classification chain.
type Matcher interface {
	Match(ctx context.Context, seg event.Sample) (Outcome, error)
}

var (
	pass    = Outcome{}
	claimed = Outcome{Claimed: true}
)

func matched(kind, name string, t tags.Set) Outcome {
	return Outcome{Claimed: true, Tags: t, Rule: kind + ":" + name}
}

// afkMatcher claims AFK-status segments; their tags are the status itself.
type afkMatcher struct{}

func (afkMatcher) Match(_ context.Context, seg event.Sample) (Outcome, error) {
	if !seg.IsAFKStatus() {
		return pass, nil
	}
	return Outcome{Claimed: true, Tags: tags.New(seg.Status()), Rule: ruleAFKStatus}, nil
}

// tmuxMatcher classifies terminal windows by the tmux pane they showed.
// Pane state persists between tmux samples, so the lookup falls back to the
// most recent one.
type tmuxMatcher struct {
	terminals map[string]bool
	bucket    string
	rules     []config.CompiledTmuxRule
	lookup    *Lookup
	logger    *slog.Logger
}

func (m *tmuxMatcher) Match(ctx context.Context, seg event.Sample) (Outcome, error) {
	if m.bucket == "" || !m.terminals[strings.ToLower(seg.App())] {
		return pass, nil
	}
	pane, ok, err := m.lookup.Find(ctx, seg, m.bucket, LookupOptions{Ignorable: true, FallbackToRecent: true})
	if err != nil || !ok {
		return claimed, err
	}
	for _, r := range m.rules {
		if t, ok := matchTmux(r, pane); ok {
			return matched("tmux", r.Name, t), nil
		}
	}
	m.logger.Warn("unhandled tmux sample", "segment_start", seg.Timestamp,
		"session", pane.Session(), "command", pane.PaneCommand(), "path", pane.PanePath())
	return claimed, nil
}

func matchTmux(r config.CompiledTmuxRule, pane event.Sample) (tags.Set, bool) {
	if r.Session != nil && !r.Session.MatchString(pane.Session()) {
		return nil, false
	}
	if r.Window != nil && !r.Window.MatchString(pane.WindowName()) {
		return nil, false
	}
	subs := vars{}
	subs.set("session", pane.Session())
	subs.set("window", pane.WindowName())
	subs.set("title", pane.PaneTitle())
	subs.set("command", pane.PaneCommand())
	subs.set("path", pane.PanePath())

	n := 0
	if r.Command != nil {
		loc := r.Command.FindStringSubmatchIndex(pane.PaneCommand())
		if loc == nil {
			return nil, false
		}
		n = subs.groups(pane.PaneCommand(), loc, 0)
	}
	if r.Path != nil {
		loc := r.Path.FindStringSubmatchIndex(pane.PanePath())
		if loc == nil {
			return nil, false
		}
		subs.groups(pane.PanePath(), loc, n)
	}
	return buildTags(r.Tags, subs), true
}

// appMatcher classifies by exact application name and optional title.
type appMatcher struct {
	rules []config.CompiledAppRule
}

func (m *appMatcher) Match(_ context.Context, seg event.Sample) (Outcome, error) {
	app, title := seg.App(), seg.Title()
	for _, r := range m.rules {
		if !r.AppNames[app] {
			continue
		}
		subs := vars{}
		subs.set("app", app)
		if r.Title != nil {
			loc := r.Title.FindStringSubmatchIndex(title)
			if loc == nil {
				continue
			}
			subs.groups(title, loc, 0)
		}
		return matched("app", r.Name, buildTags(r.Tags, subs)), nil
	}
	return pass, nil
}

var newTabURLs = map[string]bool{
	"chrome://newtab/": true,
	"about:newtab":     true,
}

// browserMatcher classifies browser windows by the URL reported by the
// matching web watcher.
type browserMatcher struct {
	apps   map[string]bool
	idx    *source.Index
	rules  []config.CompiledBrowserRule
	lookup *Lookup
	logger *slog.Logger
}

func (m *browserMatcher) Match(ctx context.Context, seg event.Sample) (Outcome, error) {
	app := strings.ToLower(seg.App())
	if !m.apps[app] {
		return pass, nil
	}
	if app == "chromium" {
		app = "chrome"
	}
	bucket, ok := m.idx.ByShort("aw-watcher-web-" + app)
	if !ok {
		return claimed, nil
	}
	page, ok, err := m.lookup.Find(ctx, seg, bucket.ID, LookupOptions{})
	if err != nil || !ok || newTabURLs[page.URL()] {
		return claimed, err
	}
	url := page.URL()
	for _, r := range m.rules {
		loc := r.URL.FindStringSubmatchIndex(url)
		if loc == nil {
			continue
		}
		subs := vars{}
		subs.groups(url, loc, 0)
		return matched("browser", r.Name, buildTags(r.Tags, subs)), nil
	}
	m.logger.Warn("unhandled browser sample", "segment_start", seg.Timestamp, "url", url)
	return claimed, nil
}

var scratchTitle = regexp.MustCompile(`^( )?\*.*\*`)

// editorMatcher classifies editor windows by the project and file reported
// by the editor watcher. All rules are tried with one matcher kind before
// moving to the next: projects, project_regexp, path_regexp, file_regexp.
type editorMatcher struct {
	apps   map[string]bool
	idx    *source.Index
	rules  []config.CompiledEditorRule
	lookup *Lookup
	logger *slog.Logger
}

func (m *editorMatcher) Match(ctx context.Context, seg event.Sample) (Outcome, error) {
	app := strings.ToLower(seg.App())
	if !m.apps[app] {
		return pass, nil
	}
	short := app
	if short == "code" {
		short = "vscode"
	}
	bucket, ok := m.idx.ByShort("aw-watcher-" + short)
	if !ok {
		return claimed, nil
	}
	ignorable := app == "emacs" && scratchTitle.MatchString(seg.Title())
	ed, ok, err := m.lookup.Find(ctx, seg, bucket.ID, LookupOptions{Ignorable: ignorable})
	if err != nil || !ok {
		return claimed, err
	}

	for _, r := range m.rules {
		for _, p := range r.Projects {
			if p == ed.Project() {
				return matched("editor", r.Name, buildTags(r.Tags, editorVars(ed))), nil
			}
		}
	}
	for _, field := range []struct {
		re   func(config.CompiledEditorRule) *regexp.Regexp
		text string
	}{
		{func(r config.CompiledEditorRule) *regexp.Regexp { return r.Project }, ed.Project()},
		{func(r config.CompiledEditorRule) *regexp.Regexp { return r.Path }, ed.File()},
		{func(r config.CompiledEditorRule) *regexp.Regexp { return r.File }, ed.File()},
	} {
		for _, r := range m.rules {
			re := field.re(r)
			if re == nil {
				continue
			}
			loc := re.FindStringSubmatchIndex(field.text)
			if loc == nil {
				continue
			}
			subs := editorVars(ed)
			subs.groups(field.text, loc, 0)
			return matched("editor", r.Name, buildTags(r.Tags, subs)), nil
		}
	}
	m.logger.Warn("unhandled editor sample", "segment_start", seg.Timestamp,
		"project", ed.Project(), "file", ed.File())
	return claimed, nil
}

// editorVars exposes $project and $language when the watcher reported them.
func editorVars(ed event.Sample) vars {
	v := vars{}
	if p := ed.Project(); p != "" {
		v.set("project", p)
	}
	if l := ed.Language(); l != "" {
		v.set("language", l)
	}
	return v
}
