// Package config handles configuration loading and management for Ensemble.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/ShayCichocki/ensemble/internal/pattern"
)

// Config holds all configuration for Ensemble.
type Config struct {
	Defaults DefaultsConfig           `mapstructure:"defaults"`
	Patterns PatternsConfig           `mapstructure:"patterns"`
	Timeouts map[string]time.Duration `mapstructure:"timeouts"`
	TUI      TUIConfig                `mapstructure:"tui"`
	Paths    PathsConfig              `mapstructure:"paths"`
	Workers  WorkersConfig            `mapstructure:"workers"`
}

// DefaultsConfig holds default values for Ensemble sessions.
type DefaultsConfig struct {
	Pattern    string `mapstructure:"pattern"`
	MaxWorkers int    `mapstructure:"max_workers"`
}

// PatternsConfig holds the strategy tuning knobs. Zero values fall back to
// the strategies' documented defaults.
type PatternsConfig struct {
	MaxRetries          int      `mapstructure:"max_retries"`
	MaxIterations       int      `mapstructure:"max_iterations"`
	StallRounds         int      `mapstructure:"stall_rounds"`
	VoterCount          int      `mapstructure:"voter_count"`
	QuorumRatio         float64  `mapstructure:"quorum_ratio"`
	ProposalRounds      int      `mapstructure:"proposal_rounds"`
	GateRetries         int      `mapstructure:"gate_retries"`
	LevelAttempts       int      `mapstructure:"level_attempts"`
	Levels              []string `mapstructure:"levels"`
	BlockedThreshold    int      `mapstructure:"blocked_threshold"`
	DiagnosisRounds     int      `mapstructure:"diagnosis_rounds"`
	SwarmSize           int      `mapstructure:"swarm_size"`
	ConfidenceThreshold float64  `mapstructure:"confidence_threshold"`
	CorrectionRounds    int      `mapstructure:"correction_rounds"`
	Increments          int      `mapstructure:"increments"`
	AggregateMode       string   `mapstructure:"aggregate_mode"`
	FanQuorum           float64  `mapstructure:"fan_quorum"`
	FanWidth            int      `mapstructure:"fan_width"`
}

// WorkersConfig describes how worker subprocesses are launched. Workers are
// opaque executables speaking the JSON-lines protocol on stdin/stdout.
type WorkersConfig struct {
	Command string   `mapstructure:"command"`
	Args    []string `mapstructure:"args"`
	Env     []string `mapstructure:"env"`
}

// TUIConfig holds TUI display settings.
type TUIConfig struct {
	RefreshRate time.Duration `mapstructure:"refresh_rate"`
}

// PathsConfig holds filesystem locations. Relative paths are resolved
// against the project root.
type PathsConfig struct {
	StateDB   string `mapstructure:"state_db"`
	RetroDB   string `mapstructure:"retro_db"`
	RolesFile string `mapstructure:"roles_file"`
	LogDir    string `mapstructure:"log_dir"`
}

// PatternConfig converts the loaded knobs into the strategies' config type.
func (c *Config) PatternConfig() pattern.Config {
	p := c.Patterns
	return pattern.Config{
		MaxRetries:          p.MaxRetries,
		MaxIterations:       p.MaxIterations,
		StallRounds:         p.StallRounds,
		VoterCount:          p.VoterCount,
		QuorumRatio:         p.QuorumRatio,
		ProposalRounds:      p.ProposalRounds,
		GateRetries:         p.GateRetries,
		LevelAttempts:       p.LevelAttempts,
		Levels:              p.Levels,
		BlockedThreshold:    p.BlockedThreshold,
		DiagnosisRounds:     p.DiagnosisRounds,
		SwarmSize:           p.SwarmSize,
		ConfidenceThreshold: p.ConfidenceThreshold,
		CorrectionRounds:    p.CorrectionRounds,
		Increments:          p.Increments,
		AggregateMode:       p.AggregateMode,
		FanQuorum:           p.FanQuorum,
		FanWidth:            p.FanWidth,
	}
}

// RoleTimeout returns the configured timeout for a role, or zero when the
// role has no override (callers fall back to the role registry default).
func (c *Config) RoleTimeout(role string) time.Duration {
	return c.Timeouts[role]
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (ENSEMBLE_*)
// 2. Project config (.ensemble/config.yaml in current directory or parent)
// 3. User config (~/.config/ensemble/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Load user config from XDG path
	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	// Load project config if present
	projectConfig := FindProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			// Merge project config (takes precedence)
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	// Environment variable overrides: ENSEMBLE_DEFAULTS_PATTERN etc.
	v.SetEnvPrefix("ENSEMBLE")
	v.SetEnvKeyReplacer(envKeyReplacer)
	v.AutomaticEnv()
	v.BindEnv(KeyDefaultPattern)
	v.BindEnv(KeyMaxWorkers)
	v.BindEnv(KeyStateDB)
	v.BindEnv(KeyRolesFile)
	v.BindEnv(KeyWorkerCommand)

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return cfg, nil
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyDefaultPattern, "pipeline")
	v.SetDefault(KeyMaxWorkers, 4)

	v.SetDefault(KeyRefreshRate, "500ms")

	v.SetDefault(KeyStateDB, filepath.Join(".ensemble", "state.db"))
	v.SetDefault(KeyRetroDB, filepath.Join(".ensemble", "retro.db"))
	v.SetDefault(KeyRolesFile, filepath.Join(".ensemble", "roles.yaml"))
	v.SetDefault(KeyLogDir, filepath.Join(".ensemble", "logs"))

	v.SetDefault(KeyWorkerCommand, "")

	for key, dur := range defaultTimeouts {
		v.SetDefault("timeouts."+key, dur.String())
	}

	d := pattern.DefaultConfig()
	v.SetDefault("patterns.max_retries", d.MaxRetries)
	v.SetDefault("patterns.max_iterations", d.MaxIterations)
	v.SetDefault("patterns.stall_rounds", d.StallRounds)
	v.SetDefault("patterns.voter_count", d.VoterCount)
	v.SetDefault("patterns.quorum_ratio", d.QuorumRatio)
	v.SetDefault("patterns.proposal_rounds", d.ProposalRounds)
	v.SetDefault("patterns.gate_retries", d.GateRetries)
	v.SetDefault("patterns.level_attempts", d.LevelAttempts)
	v.SetDefault("patterns.levels", d.Levels)
	v.SetDefault("patterns.blocked_threshold", d.BlockedThreshold)
	v.SetDefault("patterns.diagnosis_rounds", d.DiagnosisRounds)
	v.SetDefault("patterns.swarm_size", d.SwarmSize)
	v.SetDefault("patterns.confidence_threshold", d.ConfidenceThreshold)
	v.SetDefault("patterns.correction_rounds", d.CorrectionRounds)
	v.SetDefault("patterns.increments", d.Increments)
	v.SetDefault("patterns.aggregate_mode", d.AggregateMode)
	v.SetDefault("patterns.fan_quorum", d.FanQuorum)
	v.SetDefault("patterns.fan_width", d.FanWidth)
}

var defaultTimeouts = map[string]time.Duration{
	"planner":       5 * time.Minute,
	"builder":       15 * time.Minute,
	"reviewer":      10 * time.Minute,
	"verifier":      10 * time.Minute,
	"diagnostician": 5 * time.Minute,
	"consultant":    5 * time.Minute,
	"integrator":    10 * time.Minute,
}

// getUserConfigDir returns the XDG config directory for Ensemble.
func getUserConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "ensemble")
	}

	// Fall back to ~/.config/ensemble
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "ensemble")
	}
	return filepath.Join(home, ".config", "ensemble")
}

// FindProjectConfig searches for .ensemble/config.yaml in the current
// directory and parents.
func FindProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".ensemble", "config.yaml")
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

// Default returns a Config with default values.
func Default() *Config {
	d := pattern.DefaultConfig()
	return &Config{
		Defaults: DefaultsConfig{
			Pattern:    "pipeline",
			MaxWorkers: 4,
		},
		Patterns: PatternsConfig{
			MaxRetries:          d.MaxRetries,
			MaxIterations:       d.MaxIterations,
			StallRounds:         d.StallRounds,
			VoterCount:          d.VoterCount,
			QuorumRatio:         d.QuorumRatio,
			ProposalRounds:      d.ProposalRounds,
			GateRetries:         d.GateRetries,
			LevelAttempts:       d.LevelAttempts,
			Levels:              d.Levels,
			BlockedThreshold:    d.BlockedThreshold,
			DiagnosisRounds:     d.DiagnosisRounds,
			SwarmSize:           d.SwarmSize,
			ConfidenceThreshold: d.ConfidenceThreshold,
			CorrectionRounds:    d.CorrectionRounds,
			Increments:          d.Increments,
			AggregateMode:       d.AggregateMode,
			FanQuorum:           d.FanQuorum,
			FanWidth:            d.FanWidth,
		},
		Timeouts: defaultTimeouts,
		TUI: TUIConfig{
			RefreshRate: 500 * time.Millisecond,
		},
		Paths: PathsConfig{
			StateDB:   filepath.Join(".ensemble", "state.db"),
			RetroDB:   filepath.Join(".ensemble", "retro.db"),
			RolesFile: filepath.Join(".ensemble", "roles.yaml"),
			LogDir:    filepath.Join(".ensemble", "logs"),
		},
	}
}
