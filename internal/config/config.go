// Package config loads, validates and compiles the awexport configuration.
//
// The configuration is an immutable snapshot per run. Load reads a YAML file
// through viper (with AWEXPORT_* environment overrides), checks the raw file
// against an embedded CUE schema, applies Go-side semantic checks, and
// returns a *Config. Compile turns it into the regex tables the classifier
// consumes.
package config

import (
	"time"
)

// Config is the decoded configuration file.
type Config struct {
	Tuning       Tuning           `mapstructure:"tuning" yaml:"tuning"`
	TerminalApps []string         `mapstructure:"terminal_apps" yaml:"terminal_apps,omitempty"`
	EditorApps   []string         `mapstructure:"editor_apps" yaml:"editor_apps,omitempty"`
	BrowserApps  []string         `mapstructure:"browser_apps" yaml:"browser_apps,omitempty"`
	Rules        Rules            `mapstructure:"rules" yaml:"rules"`
	Retag        []RetagRule      `mapstructure:"retag" yaml:"retag,omitempty"`
	Exclusive    []ExclusiveGroup `mapstructure:"exclusive" yaml:"exclusive,omitempty"`

	// Warnings collects non-fatal findings from validation.
	Warnings []string `mapstructure:"-" yaml:"-"`
}

// Tuning holds the scalar knobs of the pipeline and the decision logic.
type Tuning struct {
	IgnoreInterval          time.Duration `mapstructure:"ignore_interval" yaml:"ignore_interval"`
	MinRecordingInterval    time.Duration `mapstructure:"min_recording_interval" yaml:"min_recording_interval"`
	MaxMixedInterval        time.Duration `mapstructure:"max_mixed_interval" yaml:"max_mixed_interval"`
	MinTagRecordingInterval time.Duration `mapstructure:"min_tag_recording_interval" yaml:"min_tag_recording_interval"`
	MinLidDuration          time.Duration `mapstructure:"min_lid_duration" yaml:"min_lid_duration"`
	PollInterval            time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	AWWarnThreshold         time.Duration `mapstructure:"aw_warn_threshold" yaml:"aw_warn_threshold"`
	GraceTime               time.Duration `mapstructure:"grace_time" yaml:"grace_time"`
	StickynessFactor        float64       `mapstructure:"stickyness_factor" yaml:"stickyness_factor"`
	RetryAttempts           int           `mapstructure:"retry_attempts" yaml:"retry_attempts"`
	EnableAFKGapWorkaround  bool          `mapstructure:"enable_afk_gap_workaround" yaml:"enable_afk_gap_workaround"`
	EnableLidEvents         bool          `mapstructure:"enable_lid_events" yaml:"enable_lid_events"`
}

// Rules groups the matcher tables by matcher type. Each table is ordered;
// the first matching rule wins.
type Rules struct {
	App     []AppRule     `mapstructure:"app" yaml:"app,omitempty"`
	Browser []BrowserRule `mapstructure:"browser" yaml:"browser,omitempty"`
	Editor  []EditorRule  `mapstructure:"editor" yaml:"editor,omitempty"`
	Tmux    []TmuxRule    `mapstructure:"tmux" yaml:"tmux,omitempty"`
}

// AppRule matches a window sample by application name and optional title.
type AppRule struct {
	Name        string   `mapstructure:"name" yaml:"name"`
	AppNames    []string `mapstructure:"app_names" yaml:"app_names"`
	TitleRegexp string   `mapstructure:"title_regexp" yaml:"title_regexp,omitempty"`
	Tags        []string `mapstructure:"tags" yaml:"tags"`
}

// BrowserRule matches the URL of the browser sample overlapping a window sample.
type BrowserRule struct {
	Name      string   `mapstructure:"name" yaml:"name"`
	URLRegexp string   `mapstructure:"url_regexp" yaml:"url_regexp"`
	Tags      []string `mapstructure:"tags" yaml:"tags"`
}

// EditorRule matches the editor sample overlapping a window sample. At least
// one of Projects, ProjectRegexp, PathRegexp or FileRegexp must be set.
type EditorRule struct {
	Name          string   `mapstructure:"name" yaml:"name"`
	Projects      []string `mapstructure:"projects" yaml:"projects,omitempty"`
	ProjectRegexp string   `mapstructure:"project_regexp" yaml:"project_regexp,omitempty"`
	PathRegexp    string   `mapstructure:"path_regexp" yaml:"path_regexp,omitempty"`
	FileRegexp    string   `mapstructure:"file_regexp" yaml:"file_regexp,omitempty"`
	Tags          []string `mapstructure:"tags" yaml:"tags"`
}

// TmuxRule matches the tmux pane sample overlapping a terminal window sample.
// Unset fields match anything.
type TmuxRule struct {
	Name    string   `mapstructure:"name" yaml:"name"`
	Session string   `mapstructure:"session" yaml:"session,omitempty"`
	Window  string   `mapstructure:"window" yaml:"window,omitempty"`
	Command string   `mapstructure:"command" yaml:"command,omitempty"`
	Path    string   `mapstructure:"path" yaml:"path,omitempty"`
	Tags    []string `mapstructure:"tags" yaml:"tags"`
}

// RetagRule expands a tag set when it intersects SourceTags.
// Prepend is the historical spelling of Add.
type RetagRule struct {
	Name       string   `mapstructure:"name" yaml:"name"`
	SourceTags []string `mapstructure:"source_tags" yaml:"source_tags"`
	Add        []string `mapstructure:"add" yaml:"add,omitempty"`
	Prepend    []string `mapstructure:"prepend" yaml:"prepend,omitempty"`
	Remove     []string `mapstructure:"remove" yaml:"remove,omitempty"`
	Replace    []string `mapstructure:"replace" yaml:"replace,omitempty"`
}

// ExclusiveGroup names tags of which at most one may be active.
type ExclusiveGroup struct {
	Name string   `mapstructure:"name" yaml:"name"`
	Tags []string `mapstructure:"tags" yaml:"tags"`
}

// DefaultTerminalApps are the window apps whose tags come from tmux.
var DefaultTerminalApps = []string{
	"foot", "kitty", "alacritty", "terminator", "gnome-terminal",
	"konsole", "xterm", "urxvt", "st",
}

// DefaultEditorApps are the window apps whose tags come from an editor watcher.
var DefaultEditorApps = []string{"emacs", "vi", "vim", "vscode", "code"}

// DefaultBrowserApps are the window apps whose tags come from a web watcher.
var DefaultBrowserApps = []string{"chromium", "chrome", "firefox"}

// DefaultTuning returns the tuning used when the file leaves a knob unset.
func DefaultTuning() Tuning {
	return Tuning{
		IgnoreInterval:          3 * time.Second,
		MinRecordingInterval:    90 * time.Second,
		MaxMixedInterval:        240 * time.Second,
		MinTagRecordingInterval: 50 * time.Second,
		MinLidDuration:          10 * time.Second,
		PollInterval:            30 * time.Second,
		AWWarnThreshold:         300 * time.Second,
		GraceTime:               10 * time.Second,
		StickynessFactor:        0.1,
		RetryAttempts:           6,
		EnableAFKGapWorkaround:  true,
		EnableLidEvents:         true,
	}
}

// Default returns a configuration with default tuning and no rules.
func Default() *Config {
	return &Config{
		Tuning:       DefaultTuning(),
		TerminalApps: append([]string(nil), DefaultTerminalApps...),
		EditorApps:   append([]string(nil), DefaultEditorApps...),
		BrowserApps:  append([]string(nil), DefaultBrowserApps...),
	}
}
