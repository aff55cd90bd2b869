package hook

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const tomlManifest = `
[[hooks]]
name = "lint"
priority = "high"
triggers = ["commit"]
tags = ["validation"]
exec = "lint.sh"
timeout = "3s"

[[hooks]]
name = "notify"
priority = "low"
dependencies = ["lint"]
triggers = ["commit"]
resources = { cpu_percent = 5, memory_mb = 10 }
`

const yamlManifest = `
hooks:
  - name: archive
    priority: maintenance
    state: inactive
    triggers: [nightly]
    conflict_group: storage
    exec: /usr/local/bin/archive
`

func TestParseManifestTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ci.toml")
	if err := os.WriteFile(path, []byte(tomlManifest), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := ParseManifest(path)
	if err != nil {
		t.Fatalf("ParseManifest() error: %v", err)
	}
	if len(m.Hooks) != 2 {
		t.Fatalf("got %d hooks, want 2", len(m.Hooks))
	}

	d := m.Hooks[0].Descriptor(dir)
	if d.Exec != filepath.Join(dir, "lint.sh") {
		t.Errorf("Exec = %q, want resolved against manifest dir", d.Exec)
	}
	if d.Timeout != 3*time.Second {
		t.Errorf("Timeout = %v, want 3s", d.Timeout)
	}
	if d.State != StateActive {
		t.Errorf("State = %q, want active", d.State)
	}

	n := m.Hooks[1].Descriptor(dir)
	if n.Resources.CPUPercent != 5 || n.Resources.MemoryMB != 10 {
		t.Errorf("Resources = %+v", n.Resources)
	}
	if len(n.Dependencies) != 1 || n.Dependencies[0] != "lint" {
		t.Errorf("Dependencies = %v", n.Dependencies)
	}
}

func TestParseManifestYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nightly.yaml")
	if err := os.WriteFile(path, []byte(yamlManifest), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := ParseManifest(path)
	if err != nil {
		t.Fatalf("ParseManifest() error: %v", err)
	}
	d := m.Hooks[0].Descriptor(dir)
	if d.State != StateInactive {
		t.Errorf("State = %q, want inactive", d.State)
	}
	if d.ConflictGroup != "storage" {
		t.Errorf("ConflictGroup = %q, want storage", d.ConflictGroup)
	}
	if d.Exec != "/usr/local/bin/archive" {
		t.Errorf("absolute Exec rewritten to %q", d.Exec)
	}
}

func TestParseManifestInvalid(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"no hooks", "a.toml", ""},
		{"missing priority", "a.toml", "[[hooks]]\nname = \"x\"\n"},
		{"bad name", "a.toml", "[[hooks]]\nname = \"Bad Name\"\npriority = \"low\"\n"},
		{"duplicate", "a.toml", "[[hooks]]\nname = \"x\"\npriority = \"low\"\n[[hooks]]\nname = \"x\"\npriority = \"low\"\n"},
		{"bad timeout", "a.toml", "[[hooks]]\nname = \"x\"\npriority = \"low\"\ntimeout = \"never\"\n"},
		{"negative resources", "a.toml", "[[hooks]]\nname = \"x\"\npriority = \"low\"\nresources = { cpu_percent = -1 }\n"},
		{"bad phase", "a.yml", "hooks:\n  - name: x\n    priority: low\n    phase: later\n"},
		{"unsupported", "a.json", "{}"},
		{"syntax", "a.toml", "[[hooks]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.file)
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := ParseManifest(path); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	for name, content := range map[string]string{
		"b.toml":       tomlManifest,
		"a.yaml":       yamlManifest,
		"README.md":    "docs",
		".hidden.toml": tomlManifest,
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "sub.toml"), 0o755); err != nil {
		t.Fatal(err)
	}

	paths, err := Discover(dir)
	if err != nil {
		t.Fatalf("Discover() error: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("Discover() found %v, want 2 manifests", paths)
	}
	if filepath.Base(paths[0]) != "a.yaml" || filepath.Base(paths[1]) != "b.toml" {
		t.Errorf("Discover() order = %v", paths)
	}
}

func TestDiscoverMissingDir(t *testing.T) {
	paths, err := Discover(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatalf("Discover() error: %v", err)
	}
	if paths != nil {
		t.Errorf("Discover() = %v, want nil", paths)
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(yamlManifest), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "b.toml"), []byte(tomlManifest), 0o644); err != nil {
		t.Fatal(err)
	}

	reg := NewRegistry()
	n, err := LoadDir(dir, reg)
	if err != nil {
		t.Fatalf("LoadDir() error: %v", err)
	}
	if n != 3 {
		t.Fatalf("LoadDir() = %d, want 3", n)
	}
	got := names(reg.All())
	want := []string{"archive", "lint", "notify"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("registration order = %v, want %v", got, want)
	}
}

func TestLoadDirDuplicateAcrossFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.toml", "b.toml"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(tomlManifest), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := LoadDir(dir, NewRegistry()); err == nil {
		t.Fatal("expected duplicate registration error")
	}
}

func TestCreateManifest(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	path, err := CreateManifest("backup-db")
	if err != nil {
		t.Fatalf("CreateManifest() error: %v", err)
	}
	if filepath.Dir(path) != filepath.Join(dir, "hooksched", "hooks") {
		t.Errorf("manifest written to %s", path)
	}

	m, err := ParseManifest(path)
	if err != nil {
		t.Fatalf("scaffolded manifest does not parse: %v", err)
	}
	if m.Hooks[0].Name != "backup-db" {
		t.Errorf("Name = %q, want backup-db", m.Hooks[0].Name)
	}

	if _, err := CreateManifest("backup-db"); err == nil {
		t.Error("expected error creating duplicate manifest")
	}
}

func TestCreateManifestRejectsBadNames(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	for _, name := range []string{"../escape", "a/b", `a\b`, "Upper", ""} {
		if _, err := CreateManifest(name); err == nil {
			t.Errorf("CreateManifest(%q): expected error", name)
		}
	}
}
