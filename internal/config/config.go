// Package config resolves spindle runtime settings from environment
// variables and an optional config file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the supervisor's runtime settings.
type Config struct {
	// Root is the persistence directory (default ~/.spindle).
	Root string `yaml:"root" mapstructure:"root"`

	// MaxConcurrent is the global in-flight ceiling across harnesses.
	MaxConcurrent int `yaml:"max_concurrent" mapstructure:"max_concurrent"`

	// PollInterval is the monitor loop cadence in seconds.
	PollInterval int `yaml:"poll_interval" mapstructure:"poll_interval"`

	// RetentionHours is the sweep horizon for terminal spools.
	RetentionHours int `yaml:"retention_hours" mapstructure:"retention_hours"`

	// DefaultHarness is used when a spin request names none.
	DefaultHarness string `yaml:"default_harness" mapstructure:"default_harness"`

	// WorkspaceTool optionally names a higher-level workspace command on
	// PATH that shard allocation delegates to before falling back to plain
	// git worktrees.
	WorkspaceTool string `yaml:"workspace_tool" mapstructure:"workspace_tool"`

	// HTTP serve defaults.
	Host string `yaml:"host" mapstructure:"host"`
	Port int    `yaml:"port" mapstructure:"port"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		MaxConcurrent:  15,
		PollInterval:   1,
		RetentionHours: 24,
		DefaultHarness: "claude",
		Host:           "127.0.0.1",
		Port:           8002,
	}
}

// Load resolves configuration in precedence order: built-in defaults, then
// an optional config.yaml under the spindle root, then SPINDLE_* environment
// variables (SPINDLE_DIR and SPINDLE_MAX_CONCURRENT being the documented
// ones).
func Load() (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetDefault("max_concurrent", cfg.MaxConcurrent)
	v.SetDefault("poll_interval", cfg.PollInterval)
	v.SetDefault("retention_hours", cfg.RetentionHours)
	v.SetDefault("default_harness", cfg.DefaultHarness)
	v.SetDefault("host", cfg.Host)
	v.SetDefault("port", cfg.Port)

	root := strings.TrimSpace(os.Getenv("SPINDLE_DIR"))
	if root == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("config: user home dir: %w", err)
		}
		root = filepath.Join(home, ".spindle")
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(root)

	v.SetEnvPrefix("SPINDLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: reading %s: %w", filepath.Join(root, "config.yaml"), err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	cfg.Root = root

	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = Default().MaxConcurrent
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = Default().PollInterval
	}
	if cfg.RetentionHours <= 0 {
		cfg.RetentionHours = Default().RetentionHours
	}

	return cfg, nil
}

// SpoolsDir returns the directory holding spool records.
func (c *Config) SpoolsDir() string {
	return filepath.Join(c.Root, "spools")
}

// TranscriptsDir returns the directory holding completion transcripts.
func (c *Config) TranscriptsDir() string {
	return filepath.Join(c.Root, "transcripts")
}

// ReloadSignalPath returns the mtime-based reload marker file.
func (c *Config) ReloadSignalPath() string {
	return filepath.Join(c.Root, "reload_signal")
}

// PollDuration returns the monitor cadence as a duration.
func (c *Config) PollDuration() time.Duration {
	return time.Duration(c.PollInterval) * time.Second
}

// Retention returns the sweep horizon as a duration.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionHours) * time.Hour
}
