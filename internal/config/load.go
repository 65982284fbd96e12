package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides, e.g. AWEXPORT_TUNING_POLL_INTERVAL=10s.
const EnvPrefix = "AWEXPORT"

// DefaultPath returns the configuration file location under the user's
// config directory ($XDG_CONFIG_HOME/awexport/config.yaml on Linux).
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".", "awexport.yaml")
	}
	return filepath.Join(dir, "awexport", "config.yaml")
}

// Load reads and validates the configuration file at path. A missing file
// is an error; callers wanting defaults should use Default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse validates a YAML document and decodes it into a Config.
//
// The raw document is checked against the CUE schema first so that type
// errors are reported with their paths; viper then merges defaults and
// environment overrides; finally the semantic checks run on the merged value.
func Parse(data []byte) (*Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if raw == nil {
		raw = map[string]any{}
	}

	if problems := checkSchema(raw); len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}

	v := newViper()
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	problems, warnings := check(cfg)
	if len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}
	for _, w := range append(unknownKeys(raw), warnings...) {
		cfg.Warnings = append(cfg.Warnings, w.String())
	}
	return cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	d := DefaultTuning()
	v.SetDefault("tuning.ignore_interval", d.IgnoreInterval)
	v.SetDefault("tuning.min_recording_interval", d.MinRecordingInterval)
	v.SetDefault("tuning.max_mixed_interval", d.MaxMixedInterval)
	v.SetDefault("tuning.min_tag_recording_interval", d.MinTagRecordingInterval)
	v.SetDefault("tuning.min_lid_duration", d.MinLidDuration)
	v.SetDefault("tuning.poll_interval", d.PollInterval)
	v.SetDefault("tuning.aw_warn_threshold", d.AWWarnThreshold)
	v.SetDefault("tuning.grace_time", d.GraceTime)
	v.SetDefault("tuning.stickyness_factor", d.StickynessFactor)
	v.SetDefault("tuning.retry_attempts", d.RetryAttempts)
	v.SetDefault("tuning.enable_afk_gap_workaround", d.EnableAFKGapWorkaround)
	v.SetDefault("tuning.enable_lid_events", d.EnableLidEvents)
	v.SetDefault("terminal_apps", DefaultTerminalApps)
	v.SetDefault("editor_apps", DefaultEditorApps)
	v.SetDefault("browser_apps", DefaultBrowserApps)
	return v
}
