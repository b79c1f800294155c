// Package config handles configuration loading and management for cascade.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ProjectFileName is the project-level config file searched for upwards from the working directory.
const ProjectFileName = ".cascade.yaml"

// Config holds all configuration for cascade.
type Config struct {
	Anthropic  AnthropicConfig  `mapstructure:"anthropic"`
	Bedrock    BedrockConfig    `mapstructure:"bedrock"`
	Workers    WorkersConfig    `mapstructure:"workers"`
	Recursion  RecursionConfig  `mapstructure:"recursion"`
	Generation GenerationConfig `mapstructure:"generation"`
	Roles      RolesConfig      `mapstructure:"roles"`
	Timeouts   TimeoutsConfig   `mapstructure:"timeouts"`
	Prompts    PromptsConfig    `mapstructure:"prompts"`
	Output     OutputConfig     `mapstructure:"output"`
	State      StateConfig      `mapstructure:"state"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey    string `mapstructure:"api_key"`
	Model     string `mapstructure:"model"`
	MaxTokens int64  `mapstructure:"max_tokens"`
}

// BedrockConfig selects AWS Bedrock as the backend.
type BedrockConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Region  string `mapstructure:"region"`
	Profile string `mapstructure:"profile"`
}

// WorkersConfig holds the concurrency bounds.
type WorkersConfig struct {
	// Root bounds the top-level graph.
	Root int `mapstructure:"root"`
	// Nested bounds every sub-graph.
	Nested int `mapstructure:"nested"`
	// MaxInFlight caps concurrent backend calls across all levels.
	MaxInFlight int `mapstructure:"max_in_flight"`
}

// RecursionConfig holds recursion settings.
type RecursionConfig struct {
	MaxDepth int `mapstructure:"max_depth"`
}

// GenerationConfig holds retry settings for backend calls.
type GenerationConfig struct {
	MaxAttempts int  `mapstructure:"max_attempts"`
	Strict      bool `mapstructure:"strict"`
}

// RolesConfig holds role matching settings.
type RolesConfig struct {
	FuzzyMatch bool `mapstructure:"fuzzy_match"`
}

// TimeoutsConfig holds timeout settings.
type TimeoutsConfig struct {
	// Generation bounds a single backend call.
	Generation time.Duration `mapstructure:"generation"`
}

// PromptsConfig points at a directory of prompt overrides.
type PromptsConfig struct {
	Dir string `mapstructure:"dir"`
}

// OutputConfig holds result file settings.
type OutputConfig struct {
	Dir string `mapstructure:"dir"`
}

// StateConfig holds run history settings.
type StateConfig struct {
	// Path is the SQLite database file. Empty uses the default under the user config dir.
	Path string `mapstructure:"path"`
}

// MetricsConfig holds the metrics endpoint. Empty disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// TracingConfig holds the span output file. Empty disables tracing, "-" writes to stdout.
type TracingConfig struct {
	File string `mapstructure:"file"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY, CASCADE_*)
// 2. Project config (.cascade.yaml in current directory or parent)
// 3. User config (~/.config/cascade/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Load user config from XDG path
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	// Load project config if present
	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading project config %s: %w", projectConfig, err)
		}
		// Merge project config (takes precedence)
		if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging project config: %w", err)
		}
	}

	bindEnv(v)

	return decode(v)
}

// LoadFromPath loads configuration from a specific path, still honoring
// environment overrides.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	bindEnv(v)

	return decode(v)
}

func bindEnv(v *viper.Viper) {
	// CASCADE_WORKERS_ROOT overrides workers.root, and so on.
	v.SetEnvPrefix("CASCADE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Expand ${VAR} references
	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)
	cfg.Prompts.Dir = expandEnv(cfg.Prompts.Dir)
	cfg.Output.Dir = expandEnv(cfg.Output.Dir)
	cfg.State.Path = expandEnv(cfg.State.Path)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Workers.Root < 1:
		return fmt.Errorf("workers.root must be at least 1, got %d", c.Workers.Root)
	case c.Workers.Nested < 1:
		return fmt.Errorf("workers.nested must be at least 1, got %d", c.Workers.Nested)
	case c.Workers.MaxInFlight < 0:
		return fmt.Errorf("workers.max_in_flight must not be negative, got %d", c.Workers.MaxInFlight)
	case c.Recursion.MaxDepth < 0:
		return fmt.Errorf("recursion.max_depth must not be negative, got %d", c.Recursion.MaxDepth)
	case c.Generation.MaxAttempts < 1:
		return fmt.Errorf("generation.max_attempts must be at least 1, got %d", c.Generation.MaxAttempts)
	}
	return nil
}

// Save writes the configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(filepath.Join(userConfigDir, "config.yaml"))

	for key, value := range cfg.Settings() {
		v.Set(key, value)
	}

	return v.WriteConfig()
}

// Settings flattens the configuration into dotted keys. The API key is omitted.
func (c *Config) Settings() map[string]any {
	return map[string]any{
		"anthropic.model":         c.Anthropic.Model,
		"anthropic.max_tokens":    c.Anthropic.MaxTokens,
		"bedrock.enabled":         c.Bedrock.Enabled,
		"bedrock.region":          c.Bedrock.Region,
		"bedrock.profile":         c.Bedrock.Profile,
		"workers.root":            c.Workers.Root,
		"workers.nested":          c.Workers.Nested,
		"workers.max_in_flight":   c.Workers.MaxInFlight,
		"recursion.max_depth":     c.Recursion.MaxDepth,
		"generation.max_attempts": c.Generation.MaxAttempts,
		"generation.strict":       c.Generation.Strict,
		"roles.fuzzy_match":       c.Roles.FuzzyMatch,
		"timeouts.generation":     c.Timeouts.Generation.String(),
		"prompts.dir":             c.Prompts.Dir,
		"output.dir":              c.Output.Dir,
		"state.path":              c.State.Path,
		"metrics.addr":            c.Metrics.Addr,
		"tracing.file":            c.Tracing.File,
	}
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// DefaultStatePath returns the run history database used when state.path is empty.
func DefaultStatePath() string {
	return filepath.Join(getUserConfigDir(), "cascade.db")
}

// StatePath returns the configured database path or the default.
func (c *Config) StatePath() string {
	if c.State.Path != "" {
		return c.State.Path
	}
	return DefaultStatePath()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("anthropic.api_key", "")
	for key, value := range d.Settings() {
		v.SetDefault(key, value)
	}
}

// getUserConfigDir returns the XDG config directory for cascade.
func getUserConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "cascade")
	}

	// Fall back to ~/.config/cascade
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "cascade")
	}
	return filepath.Join(home, ".config", "cascade")
}

// findProjectConfig searches for .cascade.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ProjectFileName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Anthropic: AnthropicConfig{
			Model:     "claude-sonnet-4-20250514",
			MaxTokens: 8192,
		},
		Workers: WorkersConfig{
			Root:        5,
			Nested:      3,
			MaxInFlight: 16,
		},
		Recursion: RecursionConfig{
			MaxDepth: 1,
		},
		Generation: GenerationConfig{
			MaxAttempts: 3,
		},
		Timeouts: TimeoutsConfig{
			Generation: 5 * time.Minute,
		},
		Output: OutputConfig{
			Dir: ".",
		},
	}
}
