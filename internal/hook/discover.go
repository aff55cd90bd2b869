package hook

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rnwolfe/hooksched/internal/config"
)

// HooksDir returns the directory scanned for hook manifests.
func HooksDir() string {
	return filepath.Join(config.GetPaths().ConfigDir, "hooks")
}

// Discover returns the manifest files in dir in lexical order.
// A missing directory is not an error.
func Discover(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading hooks dir: %w", err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".toml", ".yaml", ".yml":
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// LoadDir registers every hook declared in dir's manifests. Files are read in
// lexical order so registration order is stable across runs.
func LoadDir(dir string, reg *Registry) (int, error) {
	paths, err := Discover(dir)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, p := range paths {
		m, err := ParseManifest(p)
		if err != nil {
			return n, err
		}
		for _, h := range m.Hooks {
			if err := reg.Register(h.Descriptor(filepath.Dir(p))); err != nil {
				return n, fmt.Errorf("registering hooks from %s: %w", filepath.Base(p), err)
			}
			n++
		}
	}
	return n, nil
}

// CreateManifest scaffolds a starter manifest for a hook called name.
func CreateManifest(name string) (string, error) {
	if strings.ContainsAny(name, "/\\") {
		return "", fmt.Errorf("name %q must not contain path separators", name)
	}
	if strings.Contains(name, "..") {
		return "", fmt.Errorf("name %q must not contain path traversal", name)
	}
	if !validHookName.MatchString(name) {
		return "", fmt.Errorf("name %q must be lowercase kebab-case", name)
	}

	dir := HooksDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating hooks dir: %w", err)
	}

	path := filepath.Join(dir, name+".toml")

	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving hooks dir: %w", err)
	}
	if !strings.HasPrefix(absPath, absDir+string(filepath.Separator)) {
		return "", fmt.Errorf("manifest path escapes hooks directory")
	}

	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("manifest already exists: %s", path)
	}

	manifest := fmt.Sprintf(`# hooksched manifest: %s
# Created: %s
#
# The exec script receives the hook context as JSON on stdin:
# {"trigger": "user_prompt", "values": {"systemLoad": 40}, "timestamp": "..."}
# Anything written to stdout becomes the hook output. compensate, when set,
# is run with {"hook": ..., "output": ...} if a later hook fails.

[[hooks]]
name = %q
priority = "normal"
triggers = ["manual"]
dependencies = []
provides = []
tags = []
# phase = "core_processing"
# conflict_group = ""
# timeout = "30s"
# resources = { cpu_percent = 10, memory_mb = 50 }
exec = "%s.sh"
# compensate = "%s.undo.sh"
`, name, time.Now().Format("2006-01-02"), name, name, name)

	if err := os.WriteFile(path, []byte(manifest), 0o644); err != nil {
		return "", fmt.Errorf("writing manifest: %w", err)
	}
	return path, nil
}
