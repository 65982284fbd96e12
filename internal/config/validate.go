package config

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Problem is a single validation finding.
type Problem struct {
	Path    string
	Message string
}

func (p Problem) String() string {
	if p.Path == "" {
		return p.Message
	}
	return p.Path + ": " + p.Message
}

// ValidationError reports every fatal problem found in a configuration.
type ValidationError struct {
	Problems []Problem
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 1 {
		return "invalid configuration: " + e.Problems[0].String()
	}
	lines := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		lines[i] = "  - " + p.String()
	}
	return fmt.Sprintf("invalid configuration (%d problems):\n%s", len(e.Problems), strings.Join(lines, "\n"))
}

// IsValidationError reports whether err wraps a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

var knownKeys = map[string][]string{
	"": {"tuning", "terminal_apps", "editor_apps", "browser_apps", "rules", "retag", "exclusive"},
	"tuning": {
		"ignore_interval", "min_recording_interval", "max_mixed_interval",
		"min_tag_recording_interval", "min_lid_duration", "poll_interval",
		"aw_warn_threshold", "grace_time", "stickyness_factor", "retry_attempts",
		"enable_afk_gap_workaround", "enable_lid_events",
	},
	"rules":         {"app", "browser", "editor", "tmux"},
	"rules.app":     {"name", "app_names", "title_regexp", "tags"},
	"rules.browser": {"name", "url_regexp", "tags"},
	"rules.editor":  {"name", "projects", "project_regexp", "path_regexp", "file_regexp", "tags"},
	"rules.tmux":    {"name", "session", "window", "command", "path", "tags"},
	"retag":         {"name", "source_tags", "add", "prepend", "remove", "replace"},
	"exclusive":     {"name", "tags"},
}

// unknownKeys walks the raw file and reports keys nothing reads.
func unknownKeys(raw map[string]any) []Problem {
	var out []Problem
	scan := func(section string, m map[string]any, where string) {
		allowed := map[string]bool{}
		for _, k := range knownKeys[section] {
			allowed[k] = true
		}
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if !allowed[k] {
				out = append(out, Problem{Path: joinPath(where, k), Message: "unknown key"})
			}
		}
	}
	list := func(section string, v any, where string) {
		items, _ := v.([]any)
		for i, item := range items {
			if m, ok := item.(map[string]any); ok {
				scan(section, m, fmt.Sprintf("%s[%d]", where, i))
			}
		}
	}

	scan("", raw, "")
	if m, ok := raw["tuning"].(map[string]any); ok {
		scan("tuning", m, "tuning")
	}
	if m, ok := raw["rules"].(map[string]any); ok {
		scan("rules", m, "rules")
		for _, kind := range knownKeys["rules"] {
			list("rules."+kind, m[kind], "rules."+kind)
		}
	}
	list("retag", raw["retag"], "retag")
	list("exclusive", raw["exclusive"], "exclusive")
	return out
}

func joinPath(a, b string) string {
	if a == "" {
		return b
	}
	return a + "." + b
}

// check performs the semantic checks the schema cannot express. It returns
// fatal problems and warnings separately.
func check(cfg *Config) (problems, warnings []Problem) {
	t := cfg.Tuning
	positive := map[string]int64{
		"tuning.min_recording_interval":     int64(t.MinRecordingInterval),
		"tuning.max_mixed_interval":         int64(t.MaxMixedInterval),
		"tuning.min_tag_recording_interval": int64(t.MinTagRecordingInterval),
		"tuning.poll_interval":              int64(t.PollInterval),
	}
	for _, path := range sortedKeys(positive) {
		if positive[path] <= 0 {
			problems = append(problems, Problem{Path: path, Message: "must be positive"})
		}
	}
	if t.IgnoreInterval < 0 || t.MinLidDuration < 0 || t.GraceTime < 0 || t.AWWarnThreshold < 0 {
		problems = append(problems, Problem{Path: "tuning", Message: "durations must not be negative"})
	}
	if t.StickynessFactor < 0 || t.StickynessFactor > 1 {
		problems = append(problems, Problem{Path: "tuning.stickyness_factor", Message: fmt.Sprintf("%v is outside [0, 1]", t.StickynessFactor)})
	}
	if t.RetryAttempts < 0 {
		problems = append(problems, Problem{Path: "tuning.retry_attempts", Message: "must not be negative"})
	}
	if t.MinTagRecordingInterval > t.MinRecordingInterval {
		warnings = append(warnings, Problem{Path: "tuning.min_tag_recording_interval", Message: "exceeds min_recording_interval"})
	}
	if t.MaxMixedInterval < t.MinRecordingInterval {
		warnings = append(warnings, Problem{Path: "tuning.max_mixed_interval", Message: "is shorter than min_recording_interval"})
	}

	re := func(path, expr string) {
		if expr == "" {
			return
		}
		if _, err := regexp.Compile(expr); err != nil {
			problems = append(problems, Problem{Path: path, Message: fmt.Sprintf("invalid regular expression: %v", err)})
		}
	}
	names := func(kind string, n int, name func(int) string, tagsOf func(int) []string) {
		seen := map[string]bool{}
		for i := 0; i < n; i++ {
			path := fmt.Sprintf("%s[%d]", kind, i)
			nm := name(i)
			if nm == "" {
				problems = append(problems, Problem{Path: path + ".name", Message: "is required"})
			} else if seen[nm] {
				problems = append(problems, Problem{Path: path + ".name", Message: fmt.Sprintf("duplicate rule name %q", nm)})
			}
			seen[nm] = true
			if tagsOf != nil && len(tagsOf(i)) == 0 {
				warnings = append(warnings, Problem{Path: path + ".tags", Message: "rule produces no tags"})
			}
		}
	}

	r := cfg.Rules
	names("rules.app", len(r.App), func(i int) string { return r.App[i].Name }, func(i int) []string { return r.App[i].Tags })
	for i, rule := range r.App {
		path := fmt.Sprintf("rules.app[%d]", i)
		if len(rule.AppNames) == 0 {
			problems = append(problems, Problem{Path: path + ".app_names", Message: "is required"})
		}
		re(path+".title_regexp", rule.TitleRegexp)
	}

	names("rules.browser", len(r.Browser), func(i int) string { return r.Browser[i].Name }, func(i int) []string { return r.Browser[i].Tags })
	for i, rule := range r.Browser {
		path := fmt.Sprintf("rules.browser[%d]", i)
		if rule.URLRegexp == "" {
			problems = append(problems, Problem{Path: path + ".url_regexp", Message: "is required"})
		}
		re(path+".url_regexp", rule.URLRegexp)
	}

	names("rules.editor", len(r.Editor), func(i int) string { return r.Editor[i].Name }, func(i int) []string { return r.Editor[i].Tags })
	for i, rule := range r.Editor {
		path := fmt.Sprintf("rules.editor[%d]", i)
		if len(rule.Projects) == 0 && rule.ProjectRegexp == "" && rule.PathRegexp == "" && rule.FileRegexp == "" {
			problems = append(problems, Problem{Path: path, Message: "needs one of projects, project_regexp, path_regexp, file_regexp"})
		}
		re(path+".project_regexp", rule.ProjectRegexp)
		re(path+".path_regexp", rule.PathRegexp)
		re(path+".file_regexp", rule.FileRegexp)
	}

	names("rules.tmux", len(r.Tmux), func(i int) string { return r.Tmux[i].Name }, func(i int) []string { return r.Tmux[i].Tags })
	for i, rule := range r.Tmux {
		path := fmt.Sprintf("rules.tmux[%d]", i)
		re(path+".session", rule.Session)
		re(path+".window", rule.Window)
		re(path+".command", rule.Command)
		re(path+".path", rule.Path)
	}

	names("retag", len(cfg.Retag), func(i int) string { return cfg.Retag[i].Name }, nil)
	for i, rule := range cfg.Retag {
		path := fmt.Sprintf("retag[%d]", i)
		if len(rule.SourceTags) == 0 {
			problems = append(problems, Problem{Path: path + ".source_tags", Message: "is required"})
		}
		if len(rule.Add)+len(rule.Prepend)+len(rule.Remove)+len(rule.Replace) == 0 {
			warnings = append(warnings, Problem{Path: path, Message: "has no add, remove or replace"})
		}
		if len(rule.Add) > 0 && len(rule.Prepend) > 0 {
			warnings = append(warnings, Problem{Path: path + ".prepend", Message: "ignored because add is set"})
		}
	}

	names("exclusive", len(cfg.Exclusive), func(i int) string { return cfg.Exclusive[i].Name }, nil)
	for i, g := range cfg.Exclusive {
		if len(g.Tags) < 2 {
			warnings = append(warnings, Problem{Path: fmt.Sprintf("exclusive[%d].tags", i), Message: "group with fewer than two tags has no effect"})
		}
	}
	return problems, warnings
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
