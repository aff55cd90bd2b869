package hook

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// validHookName enforces kebab-case with optional dotted namespaces.
var validHookName = regexp.MustCompile(`^[a-z][a-z0-9]*([-_.][a-z0-9]+)*$`)

// Manifest is a parsed hook manifest file.
type Manifest struct {
	Hooks []HookDef `toml:"hooks" yaml:"hooks"`
}

// HookDef is one hook declaration in a manifest.
type HookDef struct {
	Name          string    `toml:"name" yaml:"name"`
	Priority      string    `toml:"priority" yaml:"priority"`
	Dependencies  []string  `toml:"dependencies" yaml:"dependencies"`
	Provides      []string  `toml:"provides" yaml:"provides"`
	Tags          []string  `toml:"tags" yaml:"tags"`
	Triggers      []string  `toml:"triggers" yaml:"triggers"`
	State         string    `toml:"state" yaml:"state"`
	Phase         string    `toml:"phase" yaml:"phase"`
	ConflictGroup string    `toml:"conflict_group" yaml:"conflict_group"`
	Resources     Resources `toml:"resources" yaml:"resources"`
	Timeout       string    `toml:"timeout" yaml:"timeout"`
	Exec          string    `toml:"exec" yaml:"exec"`
	Compensate    string    `toml:"compensate" yaml:"compensate"`
}

// ParseManifest reads a .toml, .yaml or .yml manifest.
func ParseManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	var m Manifest
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parsing manifest: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parsing manifest: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported manifest format: %s", filepath.Base(path))
	}

	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest %s: %w", filepath.Base(path), err)
	}
	return &m, nil
}

// Validate checks that required fields are present and values are known.
func (m *Manifest) Validate() error {
	if len(m.Hooks) == 0 {
		return fmt.Errorf("at least one [[hooks]] entry is required")
	}
	seen := make(map[string]bool, len(m.Hooks))
	for i, h := range m.Hooks {
		if h.Name == "" {
			return fmt.Errorf("hooks[%d].name is required", i)
		}
		if !validHookName.MatchString(h.Name) {
			return fmt.Errorf("hooks[%d].name %q must be lowercase kebab-case", i, h.Name)
		}
		if seen[h.Name] {
			return fmt.Errorf("hooks[%d].name %q is duplicated", i, h.Name)
		}
		seen[h.Name] = true
		if h.Priority == "" {
			return fmt.Errorf("hooks[%d].priority is required", i)
		}
		if _, err := ParsePriority(h.Priority); err != nil {
			return fmt.Errorf("hooks[%d]: %w", i, err)
		}
		if _, err := ParseState(h.State); err != nil {
			return fmt.Errorf("hooks[%d]: %w", i, err)
		}
		if _, err := ParsePhase(h.Phase); err != nil {
			return fmt.Errorf("hooks[%d]: %w", i, err)
		}
		if h.Resources.CPUPercent < 0 || h.Resources.MemoryMB < 0 {
			return fmt.Errorf("hooks[%d].resources must not be negative", i)
		}
		if h.Timeout != "" {
			if d, err := time.ParseDuration(h.Timeout); err != nil || d <= 0 {
				return fmt.Errorf("hooks[%d].timeout %q is not a positive duration", i, h.Timeout)
			}
		}
	}
	return nil
}

// Descriptor converts a validated HookDef. Relative exec paths resolve
// against dir.
func (h HookDef) Descriptor(dir string) Descriptor {
	state, _ := ParseState(h.State)
	var timeout time.Duration
	if h.Timeout != "" {
		timeout, _ = time.ParseDuration(h.Timeout)
	}
	return Descriptor{
		Name:          h.Name,
		Priority:      Priority(h.Priority),
		Dependencies:  h.Dependencies,
		Provides:      h.Provides,
		Tags:          h.Tags,
		Triggers:      h.Triggers,
		State:         state,
		Phase:         Phase(h.Phase),
		ConflictGroup: h.ConflictGroup,
		Resources:     h.Resources,
		Timeout:       timeout,
		Exec:          resolvePath(dir, h.Exec),
		Compensate:    resolvePath(dir, h.Compensate),
	}
}

func resolvePath(dir, p string) string {
	if p == "" || filepath.IsAbs(p) || dir == "" {
		return p
	}
	return filepath.Join(dir, p)
}
