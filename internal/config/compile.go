package config

import (
	"fmt"
	"regexp"
	"strings"
)

// Compiled is the immutable, ready-to-match form of a Config.
type Compiled struct {
	Tuning       Tuning
	TerminalApps map[string]bool
	EditorApps   map[string]bool
	BrowserApps  map[string]bool

	App     []CompiledAppRule
	Browser []CompiledBrowserRule
	Editor  []CompiledEditorRule
	Tmux    []CompiledTmuxRule

	Retag     []RetagRule
	Exclusive []ExclusiveGroup
}

type CompiledAppRule struct {
	Name     string
	AppNames map[string]bool
	Title    *regexp.Regexp
	Tags     []string
}

type CompiledBrowserRule struct {
	Name string
	URL  *regexp.Regexp
	Tags []string
}

type CompiledEditorRule struct {
	Name     string
	Projects []string
	Project  *regexp.Regexp
	Path     *regexp.Regexp
	File     *regexp.Regexp
	Tags     []string
}

type CompiledTmuxRule struct {
	Name    string
	Session *regexp.Regexp
	Window  *regexp.Regexp
	Command *regexp.Regexp
	Path    *regexp.Regexp
	Tags    []string
}

// Additions returns the tags a retag rule adds, honouring the legacy
// prepend spelling when add is unset.
func (r RetagRule) Additions() []string {
	if len(r.Add) > 0 {
		return r.Add
	}
	return r.Prepend
}

// Compile builds the matcher tables. It fails on the first invalid
// expression; Parse has normally rejected those already.
func Compile(cfg *Config) (*Compiled, error) {
	c := &Compiled{
		Tuning:       cfg.Tuning,
		TerminalApps: lowerSet(cfg.TerminalApps, DefaultTerminalApps),
		EditorApps:   lowerSet(cfg.EditorApps, DefaultEditorApps),
		BrowserApps:  lowerSet(cfg.BrowserApps, DefaultBrowserApps),
		Retag:        cfg.Retag,
		Exclusive:    cfg.Exclusive,
	}

	var err error
	for _, r := range cfg.Rules.App {
		rule := CompiledAppRule{Name: r.Name, AppNames: map[string]bool{}, Tags: r.Tags}
		for _, a := range r.AppNames {
			rule.AppNames[a] = true
		}
		if rule.Title, err = optional(r.TitleRegexp); err != nil {
			return nil, fmt.Errorf("rules.app %s: %w", r.Name, err)
		}
		c.App = append(c.App, rule)
	}

	for _, r := range cfg.Rules.Browser {
		rule := CompiledBrowserRule{Name: r.Name, Tags: r.Tags}
		if rule.URL, err = regexp.Compile(r.URLRegexp); err != nil {
			return nil, fmt.Errorf("rules.browser %s: %w", r.Name, err)
		}
		c.Browser = append(c.Browser, rule)
	}

	for _, r := range cfg.Rules.Editor {
		rule := CompiledEditorRule{Name: r.Name, Projects: r.Projects, Tags: r.Tags}
		if rule.Project, err = optional(r.ProjectRegexp); err != nil {
			return nil, fmt.Errorf("rules.editor %s: %w", r.Name, err)
		}
		if rule.Path, err = optional(r.PathRegexp); err != nil {
			return nil, fmt.Errorf("rules.editor %s: %w", r.Name, err)
		}
		if rule.File, err = optional(r.FileRegexp); err != nil {
			return nil, fmt.Errorf("rules.editor %s: %w", r.Name, err)
		}
		c.Editor = append(c.Editor, rule)
	}

	for _, r := range cfg.Rules.Tmux {
		rule := CompiledTmuxRule{Name: r.Name, Tags: r.Tags}
		for _, f := range []struct {
			dst  **regexp.Regexp
			expr string
		}{
			{&rule.Session, r.Session},
			{&rule.Window, r.Window},
			{&rule.Command, r.Command},
			{&rule.Path, r.Path},
		} {
			if *f.dst, err = optional(f.expr); err != nil {
				return nil, fmt.Errorf("rules.tmux %s: %w", r.Name, err)
			}
		}
		c.Tmux = append(c.Tmux, rule)
	}

	return c, nil
}

// MustCompile is Compile for tests and static tables.
func MustCompile(cfg *Config) *Compiled {
	c, err := Compile(cfg)
	if err != nil {
		panic(err)
	}
	return c
}

func optional(expr string) (*regexp.Regexp, error) {
	if expr == "" {
		return nil, nil
	}
	return regexp.Compile(expr)
}

func lowerSet(values, fallback []string) map[string]bool {
	if len(values) == 0 {
		values = fallback
	}
	out := make(map[string]bool, len(values))
	for _, v := range values {
		out[strings.ToLower(v)] = true
	}
	return out
}
