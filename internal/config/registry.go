package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// KeyType represents the data type of a config key.
type KeyType string

const (
	KeyTypeString   KeyType = "string"
	KeyTypeInt      KeyType = "int"
	KeyTypeFloat    KeyType = "float"
	KeyTypeBool     KeyType = "bool"
	KeyTypeDuration KeyType = "duration"
)

// KeyEntry describes a known, settable config key.
type KeyEntry struct {
	// Type is the value's data type.
	Type KeyType
	// Desc is a human-readable description shown in `hooksched config show`.
	Desc string
	// DefaultStr is the string representation of the default value.
	DefaultStr string

	get func(*Config) string
	set func(cfg *Config, value string) error
}

// Get returns the current value of the key as a string.
func (e *KeyEntry) Get(cfg *Config) string { return e.get(cfg) }

// Set validates and sets the value, returning a descriptive error on type mismatch.
func (e *KeyEntry) Set(cfg *Config, value string) error { return e.set(cfg, value) }

// Unset resets the key to its schema default.
func (e *KeyEntry) Unset(cfg *Config) { _ = e.set(cfg, e.DefaultStr) }

func stringKey(desc, def string, field func(*Config) *string) *KeyEntry {
	return &KeyEntry{
		Type:       KeyTypeString,
		Desc:       desc,
		DefaultStr: def,
		get:        func(cfg *Config) string { return *field(cfg) },
		set:        func(cfg *Config, v string) error { *field(cfg) = v; return nil },
	}
}

func intKey(desc string, def int, minVal int, field func(*Config) *int) *KeyEntry {
	return &KeyEntry{
		Type:       KeyTypeInt,
		Desc:       desc,
		DefaultStr: strconv.Itoa(def),
		get:        func(cfg *Config) string { return strconv.Itoa(*field(cfg)) },
		set: func(cfg *Config, v string) error {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("not an integer: %q", v)
			}
			if n < minVal {
				return fmt.Errorf("must be at least %d", minVal)
			}
			*field(cfg) = n
			return nil
		},
	}
}

func floatKey(desc string, def float64, field func(*Config) *float64) *KeyEntry {
	return &KeyEntry{
		Type:       KeyTypeFloat,
		Desc:       desc,
		DefaultStr: strconv.FormatFloat(def, 'g', -1, 64),
		get:        func(cfg *Config) string { return strconv.FormatFloat(*field(cfg), 'g', -1, 64) },
		set: func(cfg *Config, v string) error {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return fmt.Errorf("not a number: %q", v)
			}
			if f < 0 {
				return fmt.Errorf("must not be negative")
			}
			*field(cfg) = f
			return nil
		},
	}
}

func boolKey(desc string, def bool, field func(*Config) **bool) *KeyEntry {
	return &KeyEntry{
		Type:       KeyTypeBool,
		Desc:       desc,
		DefaultStr: strconv.FormatBool(def),
		get: func(cfg *Config) string {
			p := *field(cfg)
			if p == nil {
				return strconv.FormatBool(def)
			}
			return strconv.FormatBool(*p)
		},
		set: func(cfg *Config, v string) error {
			b, err := ParseBoolValue(v)
			if err != nil {
				return err
			}
			*field(cfg) = BoolPtr(b)
			return nil
		},
	}
}

func durationKey(desc, def string, field func(*Config) *string) *KeyEntry {
	return &KeyEntry{
		Type:       KeyTypeDuration,
		Desc:       desc,
		DefaultStr: def,
		get:        func(cfg *Config) string { return *field(cfg) },
		set: func(cfg *Config, v string) error {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil || d <= 0 {
				return fmt.Errorf("not a positive duration: %q", v)
			}
			*field(cfg) = d.String()
			return nil
		},
	}
}

// SchemaKeys is the authoritative registry of all settable config keys.
// Keys use dot-notation matching the TOML section structure.
var SchemaKeys = map[string]*KeyEntry{
	"scheduler.max_workers": intKey("Process-wide concurrent hook limit", 8, 1,
		func(c *Config) *int { return &c.Scheduler.MaxWorkers }),
	"scheduler.hook_timeout": durationKey("Default per-hook timeout", "30s",
		func(c *Config) *string { return &c.Scheduler.HookTimeout }),
	"scheduler.default_conflict_strategy": stringKey("Conflict strategy when no per-trigger override exists", "priority_based",
		func(c *Config) *string { return &c.Scheduler.DefaultConflictStrategy }),
	"scheduler.enable_rollback": boolKey("Roll back completed hooks when a later hook fails", true,
		func(c *Config) **bool { return &c.Scheduler.EnableRollback }),
	"scheduler.default_rollback_scope": stringKey("Scope recorded on rollback transactions", "trigger_group",
		func(c *Config) *string { return &c.Scheduler.DefaultRollbackScope }),
	"scheduler.enable_dynamic_priority": boolKey("Let the performance optimizer adjust priorities", true,
		func(c *Config) **bool { return &c.Scheduler.EnableDynamicPriority }),
	"priority.success_weight": floatKey("Weight of recent success rate in scores", 0.5,
		func(c *Config) *float64 { return &c.Priority.SuccessWeight }),
	"priority.history_window": intKey("Records considered for recent success rate", 20, 1,
		func(c *Config) *int { return &c.Priority.HistoryWindow }),
	"priority.load_threshold": floatKey("System load at which load_based prefers light hooks", 80,
		func(c *Config) *float64 { return &c.Priority.LoadThreshold }),
	"optimizer.enabled": boolKey("Optimize batches before execution", true,
		func(c *Config) **bool { return &c.Optimizer.Enabled }),
	"optimizer.max_batch_size": intKey("Largest batch the optimizer keeps or builds", 32, 1,
		func(c *Config) *int { return &c.Optimizer.MaxBatchSize }),
	"optimizer.cpu_ceiling": floatKey("Aggregate CPU percent allowed per batch", 100,
		func(c *Config) *float64 { return &c.Optimizer.CPUCeiling }),
	"optimizer.memory_ceiling_mb": floatKey("Aggregate memory (MB) allowed per batch", 4096,
		func(c *Config) *float64 { return &c.Optimizer.MemoryCeilingMB }),
	"performance.history_size": intKey("Rolling window of records kept per hook", 100, 1,
		func(c *Config) *int { return &c.Performance.HistorySize }),
	"performance.success_threshold": floatKey("Success rate below which a hook is penalised", 0.8,
		func(c *Config) *float64 { return &c.Performance.SuccessThreshold }),
	"performance.slow_threshold": durationKey("Mean duration above which a hook is penalised", "5s",
		func(c *Config) *string { return &c.Performance.SlowThreshold }),
	"performance.persist": boolKey("Persist execution history to the database", true,
		func(c *Config) **bool { return &c.Performance.Persist }),
	"log.level": stringKey("Log level (debug, info, warn, error)", "info",
		func(c *Config) *string { return &c.Log.Level }),
	"log.file": stringKey("Log file path; empty logs to stderr", "",
		func(c *Config) *string { return &c.Log.File }),
}

// ValidKeyNames returns the sorted list of all known config key names.
func ValidKeyNames() []string {
	names := make([]string, 0, len(SchemaKeys))
	for k := range SchemaKeys {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// LookupKey returns the KeyEntry for a known config key.
func LookupKey(key string) (*KeyEntry, bool) {
	entry, ok := SchemaKeys[key]
	return entry, ok
}

// ParseBoolValue accepts common boolean string representations.
// Valid truthy values: true, 1, yes, on.
// Valid falsy values: false, 0, no, off.
func ParseBoolValue(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "on":
		return true, nil
	case "false", "0", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("not a boolean: %q (use one of: true/false, 1/0, yes/no, on/off)", s)
	}
}

// IsEnabled treats nil as the given default.
func IsEnabled(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}
