package hook

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"strconv"
	"strings"
	"time"
)

// Recognized context keys.
const (
	KeySystemLoad       = "systemLoad"
	KeyTimeSensitivity  = "timeSensitivity"
	KeyDependencyDepth  = "dependencyDepth"
	KeyEnableRollback   = "enableRollback"
	KeyConflictStrategy = "conflictStrategy"
	KeyRollbackScope    = "rollbackScope"
)

// Time sensitivity levels.
const (
	SensitivityLow    = "low"
	SensitivityNormal = "normal"
	SensitivityHigh   = "high"
	SensitivityUrgent = "urgent"
)

// Context carries the trigger and open key/value data through planning and
// into every hook invocation.
type Context struct {
	Trigger   string         `json:"trigger"`
	Values    map[string]any `json:"values"`
	Timestamp string         `json:"timestamp"`
}

// NewContext creates a Context for trigger.
func NewContext(trigger string, values map[string]any) *Context {
	if values == nil {
		values = map[string]any{}
	}
	return &Context{
		Trigger:   trigger,
		Values:    values,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// Clone returns a shallow copy with its own Values map.
func (c *Context) Clone() *Context {
	if c == nil {
		return NewContext("", nil)
	}
	out := *c
	out.Values = maps.Clone(c.Values)
	if out.Values == nil {
		out.Values = map[string]any{}
	}
	return &out
}

// Set stores a value and returns the context for chaining.
func (c *Context) Set(key string, v any) *Context {
	if c.Values == nil {
		c.Values = map[string]any{}
	}
	c.Values[key] = v
	return c
}

// Get returns the raw value for key.
func (c *Context) Get(key string) (any, bool) {
	if c == nil || c.Values == nil {
		return nil, false
	}
	v, ok := c.Values[key]
	return v, ok
}

// String returns the value for key as a string.
func (c *Context) String(key string) string {
	v, ok := c.Get(key)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Float returns the value for key as a float64.
func (c *Context) Float(key string) (float64, bool) {
	v, ok := c.Get(key)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

// Bool returns the value for key as a bool.
func (c *Context) Bool(key string) (bool, bool) {
	v, ok := c.Get(key)
	if !ok {
		return false, false
	}
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		return parsed, err == nil
	}
	return false, false
}

// SystemLoad returns the load percentage clamped to [0, 100].
func (c *Context) SystemLoad() float64 {
	load, _ := c.Float(KeySystemLoad)
	return min(max(load, 0), 100)
}

// TimeSensitivity returns the sensitivity level, normal when unset or unknown.
func (c *Context) TimeSensitivity() string {
	switch s := strings.ToLower(c.String(KeyTimeSensitivity)); s {
	case SensitivityLow, SensitivityHigh, SensitivityUrgent:
		return s
	default:
		return SensitivityNormal
	}
}

// MaxDependencyDepth caps the dependency depth hint.
const MaxDependencyDepth = 100

// DependencyDepth returns the dependency depth hint clamped to
// [0, MaxDependencyDepth].
func (c *Context) DependencyDepth() int {
	d, _ := c.Float(KeyDependencyDepth)
	switch {
	case math.IsNaN(d) || d < 0:
		return 0
	case d > MaxDependencyDepth:
		return MaxDependencyDepth
	}
	return int(d)
}

// RollbackEnabled reports the per-call rollback policy. Defaults to true.
func (c *Context) RollbackEnabled() bool {
	if b, ok := c.Bool(KeyEnableRollback); ok {
		return b
	}
	return true
}

// ConflictStrategy returns the per-call strategy override, if any.
func (c *Context) ConflictStrategy() string {
	return c.String(KeyConflictStrategy)
}

// RollbackScope returns the per-call rollback scope override, if any.
func (c *Context) RollbackScope() string {
	return c.String(KeyRollbackScope)
}

// JSON serializes the context for passing to hook executables.
func (c *Context) JSON() ([]byte, error) {
	return json.Marshal(c)
}

// ParseContext deserializes a Context from JSON.
func ParseContext(data []byte) (*Context, error) {
	var ctx Context
	if err := json.Unmarshal(data, &ctx); err != nil {
		return nil, fmt.Errorf("parsing hook context: %w", err)
	}
	if ctx.Values == nil {
		ctx.Values = map[string]any{}
	}
	return &ctx, nil
}

// Runner executes hook bodies on behalf of the scheduler.
type Runner interface {
	RunHook(ctx context.Context, name string, hctx *Context) (any, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, name string, hctx *Context) (any, error)

// RunHook calls f.
func (f RunnerFunc) RunHook(ctx context.Context, name string, hctx *Context) (any, error) {
	return f(ctx, name, hctx)
}

// Compensator is implemented by runners that can undo a completed hook.
type Compensator interface {
	Compensate(ctx context.Context, name string, output any) error
}
