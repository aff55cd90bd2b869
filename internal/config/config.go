package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds the top-level hooksched configuration.
type Config struct {
	Scheduler   SchedulerConfig        `toml:"scheduler"`
	Priority    PriorityConfig         `toml:"priority"`
	Optimizer   OptimizerConfig        `toml:"optimizer"`
	Performance PerformanceConfig      `toml:"performance"`
	Phases      map[string]PhaseConfig `toml:"phases"`
	Log         LogConfig              `toml:"log"`
}

// SchedulerConfig controls execution and conflict handling.
type SchedulerConfig struct {
	MaxWorkers              int               `toml:"max_workers"`
	HookTimeout             string            `toml:"hook_timeout"`
	DefaultConflictStrategy string            `toml:"default_conflict_strategy"`
	ConflictStrategies      map[string]string `toml:"conflict_strategies"` // per trigger
	EnableRollback          *bool             `toml:"enable_rollback,omitempty"`
	DefaultRollbackScope    string            `toml:"default_rollback_scope"`
	EnableDynamicPriority   *bool             `toml:"enable_dynamic_priority,omitempty"`
	Seed                    uint64            `toml:"seed"` // weighted_random; 0 means time-seeded
}

// PriorityConfig tunes the priority calculator.
type PriorityConfig struct {
	SuccessWeight float64 `toml:"success_weight"`
	HistoryWindow int     `toml:"history_window"`
	LoadThreshold float64 `toml:"load_threshold"` // load_based conflict strategy
}

// OptimizerConfig tunes batch optimization.
type OptimizerConfig struct {
	Enabled         *bool   `toml:"enabled,omitempty"`
	MaxBatchSize    int     `toml:"max_batch_size"`
	CPUCeiling      float64 `toml:"cpu_ceiling"`
	MemoryCeilingMB float64 `toml:"memory_ceiling_mb"`
	HeavyCPU        float64 `toml:"heavy_cpu"`
}

// PerformanceConfig tunes history and the performance optimizer.
type PerformanceConfig struct {
	HistorySize      int     `toml:"history_size"`
	SuccessThreshold float64 `toml:"success_threshold"`
	TrendTolerance   float64 `toml:"trend_tolerance"`
	SlowThreshold    string  `toml:"slow_threshold"`
	Persist          *bool   `toml:"persist,omitempty"`
}

// PhaseConfig holds per-phase execution limits.
type PhaseConfig struct {
	Timeout        string `toml:"timeout"`
	MaxParallelism int    `toml:"max_parallelism"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"` // empty logs to stderr
}

// Paths returns standard XDG-compliant paths.
type Paths struct {
	ConfigDir  string
	DataDir    string
	CacheDir   string
	StateDir   string
	ConfigFile string
	DBFile     string
}

// GetPaths returns the resolved paths, respecting XDG env vars.
func GetPaths() Paths {
	home, _ := os.UserHomeDir()

	configDir := envOr("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	dataDir := envOr("XDG_DATA_HOME", filepath.Join(home, ".local", "share"))
	cacheDir := envOr("XDG_CACHE_HOME", filepath.Join(home, ".cache"))
	stateDir := envOr("XDG_STATE_HOME", filepath.Join(home, ".local", "state"))

	appConfig := filepath.Join(configDir, "hooksched")
	appData := filepath.Join(dataDir, "hooksched")

	return Paths{
		ConfigDir:  appConfig,
		DataDir:    appData,
		CacheDir:   filepath.Join(cacheDir, "hooksched"),
		StateDir:   filepath.Join(stateDir, "hooksched"),
		ConfigFile: filepath.Join(appConfig, "config.toml"),
		DBFile:     filepath.Join(appData, "hooksched.db"),
	}
}

// EnsureDirs creates all required directories.
func (p Paths) EnsureDirs() error {
	dirs := []string{p.ConfigDir, p.DataDir, p.CacheDir, p.StateDir}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// Load reads config from disk, returning defaults if not found. Values
// missing from the file keep their defaults.
func Load() (*Config, error) {
	paths := GetPaths()
	cfg := defaultConfig()

	data, err := os.ReadFile(paths.ConfigFile)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", paths.ConfigFile, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Save writes config to disk.
func Save(cfg *Config) error {
	paths := GetPaths()
	if err := paths.EnsureDirs(); err != nil {
		return err
	}

	f, err := os.Create(paths.ConfigFile)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

// Initialized returns true if a config file exists.
func Initialized() bool {
	paths := GetPaths()
	_, err := os.Stat(paths.ConfigFile)
	return err == nil
}

// BoolPtr returns a pointer to a bool value.
func BoolPtr(v bool) *bool {
	return &v
}

// Default returns a fresh default configuration.
func Default() *Config {
	return defaultConfig()
}

func defaultConfig() *Config {
	return &Config{
		Scheduler: SchedulerConfig{
			MaxWorkers:              8,
			HookTimeout:             "30s",
			DefaultConflictStrategy: "priority_based",
			ConflictStrategies:      map[string]string{},
			EnableRollback:          BoolPtr(true),
			DefaultRollbackScope:    "trigger_group",
			EnableDynamicPriority:   BoolPtr(true),
		},
		Priority: PriorityConfig{
			SuccessWeight: 0.5,
			HistoryWindow: 20,
			LoadThreshold: 80,
		},
		Optimizer: OptimizerConfig{
			Enabled:         BoolPtr(true),
			MaxBatchSize:    32,
			CPUCeiling:      100,
			MemoryCeilingMB: 4096,
			HeavyCPU:        20,
		},
		Performance: PerformanceConfig{
			HistorySize:      100,
			SuccessThreshold: 0.8,
			TrendTolerance:   0.25,
			SlowThreshold:    "5s",
			Persist:          BoolPtr(true),
		},
		Phases: map[string]PhaseConfig{
			"pre_validation":  {Timeout: "5s", MaxParallelism: 2},
			"initialization":  {Timeout: "10s", MaxParallelism: 4},
			"core_processing": {Timeout: "20s", MaxParallelism: 8},
			"post_processing": {Timeout: "15s", MaxParallelism: 6},
			"cleanup":         {Timeout: "8s", MaxParallelism: 4},
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Validate reports the first invalid value.
func (c *Config) Validate() error {
	if c.Scheduler.MaxWorkers < 1 {
		return fmt.Errorf("scheduler.max_workers must be at least 1")
	}
	if _, err := parsePositive(c.Scheduler.HookTimeout); err != nil {
		return fmt.Errorf("scheduler.hook_timeout: %w", err)
	}
	if c.Priority.SuccessWeight < 0 {
		return fmt.Errorf("priority.success_weight must not be negative")
	}
	if c.Priority.HistoryWindow < 1 {
		return fmt.Errorf("priority.history_window must be at least 1")
	}
	if c.Optimizer.MaxBatchSize < 1 {
		return fmt.Errorf("optimizer.max_batch_size must be at least 1")
	}
	if c.Optimizer.CPUCeiling <= 0 || c.Optimizer.MemoryCeilingMB <= 0 {
		return fmt.Errorf("optimizer ceilings must be positive")
	}
	if c.Performance.HistorySize < 1 {
		return fmt.Errorf("performance.history_size must be at least 1")
	}
	if t := c.Performance.SuccessThreshold; t < 0 || t > 1 {
		return fmt.Errorf("performance.success_threshold must be within [0, 1]")
	}
	if _, err := parsePositive(c.Performance.SlowThreshold); err != nil {
		return fmt.Errorf("performance.slow_threshold: %w", err)
	}
	for name, p := range c.Phases {
		if p.Timeout != "" {
			if _, err := parsePositive(p.Timeout); err != nil {
				return fmt.Errorf("phases.%s.timeout: %w", name, err)
			}
		}
		if p.MaxParallelism < 0 {
			return fmt.Errorf("phases.%s.max_parallelism must not be negative", name)
		}
	}
	return nil
}

// HookTimeout returns the parsed default hook timeout.
func (c *Config) HookTimeout() time.Duration {
	d, _ := parsePositive(c.Scheduler.HookTimeout)
	return d
}

// SlowThreshold returns the parsed slow-hook threshold.
func (c *Config) SlowThreshold() time.Duration {
	d, _ := parsePositive(c.Performance.SlowThreshold)
	return d
}

// PhaseTimeout returns the timeout configured for phase, or zero.
func (c *Config) PhaseTimeout(phase string) time.Duration {
	p, ok := c.Phases[phase]
	if !ok || p.Timeout == "" {
		return 0
	}
	d, _ := parsePositive(p.Timeout)
	return d
}

func parsePositive(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("%q must be positive", s)
	}
	return d, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
