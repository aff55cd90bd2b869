package cmd

import (
	"bytes"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/rnwolfe/hooksched/internal/config"
)

// configTestEnv points every XDG directory at a fresh temp dir.
func configTestEnv(t *testing.T) {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmpDir+"/config")
	t.Setenv("XDG_DATA_HOME", tmpDir+"/data")
	t.Setenv("XDG_CACHE_HOME", tmpDir+"/cache")
	t.Setenv("XDG_STATE_HOME", tmpDir+"/state")
}

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	os.Stdout = w
	defer func() {
		os.Stdout = old
		r.Close()
	}()

	done := make(chan string)
	go func() {
		var buf bytes.Buffer
		_, _ = io.Copy(&buf, r)
		done <- buf.String()
	}()

	fn()

	w.Close()
	return <-done
}

func TestRunConfigGet_KnownKey(t *testing.T) {
	configTestEnv(t)

	cfg := config.Default()
	cfg.Scheduler.DefaultConflictStrategy = "round_robin"
	if err := config.Save(cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	out := captureStdout(t, func() {
		if err := runConfigGet(nil, []string{"scheduler.default_conflict_strategy"}); err != nil {
			t.Errorf("runConfigGet: %v", err)
		}
	})

	if got := strings.TrimSpace(out); got != "round_robin" {
		t.Fatalf("got %q, want %q", got, "round_robin")
	}
}

func TestRunConfigGet_UnknownKey(t *testing.T) {
	configTestEnv(t)

	err := runConfigGet(nil, []string{"not.a.real.key"})
	if err == nil {
		t.Fatal("expected error for unknown key")
	}
	if !strings.Contains(err.Error(), "unknown config key") {
		t.Errorf("expected 'unknown config key' in error, got: %v", err)
	}
	// Error should include list of valid keys.
	if !strings.Contains(err.Error(), "scheduler.max_workers") {
		t.Errorf("expected valid key hint in error, got: %v", err)
	}
}

func TestRunConfigGet_Defaults(t *testing.T) {
	configTestEnv(t)

	tests := []struct {
		key  string
		want string
	}{
		{"scheduler.max_workers", "8"},
		{"scheduler.enable_rollback", "true"},
		{"scheduler.hook_timeout", "30s"},
		{"priority.load_threshold", "80"},
		{"log.level", "info"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			out := captureStdout(t, func() {
				if err := runConfigGet(nil, []string{tt.key}); err != nil {
					t.Errorf("runConfigGet: %v", err)
				}
			})
			if got := strings.TrimSpace(out); got != tt.want {
				t.Errorf("%s = %q, want %q", tt.key, got, tt.want)
			}
		})
	}
}

func TestRunConfigSet_KnownKey(t *testing.T) {
	configTestEnv(t)

	out := captureStdout(t, func() {
		if err := runConfigSet(nil, []string{"scheduler.max_workers", "3"}); err != nil {
			t.Errorf("runConfigSet: %v", err)
		}
	})
	if !strings.Contains(out, "scheduler.max_workers") {
		t.Errorf("expected key name in output, got: %q", out)
	}

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Scheduler.MaxWorkers != 3 {
		t.Fatalf("MaxWorkers = %d, want 3", cfg.Scheduler.MaxWorkers)
	}
}

func TestRunConfigSet_Rejects(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"unknown key", []string{"fake.key", "value"}},
		{"bool mismatch", []string{"scheduler.enable_rollback", "notabool"}},
		{"int below minimum", []string{"scheduler.max_workers", "0"}},
		{"bad duration", []string{"scheduler.hook_timeout", "soon"}},
		{"unknown strategy", []string{"scheduler.default_conflict_strategy", "coin_flip"}},
		{"unknown scope", []string{"scheduler.default_rollback_scope", "galaxy"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configTestEnv(t)
			if err := runConfigSet(nil, tt.args); err == nil {
				t.Fatalf("runConfigSet(%v) succeeded, want error", tt.args)
			}
			if _, err := os.Stat(config.GetPaths().ConfigFile); err == nil {
				t.Error("config file written despite invalid value")
			}
		})
	}
}

func TestRunConfigSet_BoolKey_ValidValues(t *testing.T) {
	for _, val := range []string{"true", "false", "1", "0", "yes", "no"} {
		t.Run(val, func(t *testing.T) {
			configTestEnv(t)
			if err := runConfigSet(nil, []string{"scheduler.enable_rollback", val}); err != nil {
				t.Errorf("runConfigSet enable_rollback=%q: %v", val, err)
			}
		})
	}
}

func TestRunConfigUnset_KnownKey(t *testing.T) {
	configTestEnv(t)

	cfg := config.Default()
	cfg.Log.Level = "debug"
	if err := config.Save(cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	out := captureStdout(t, func() {
		if err := runConfigUnset(nil, []string{"log.level"}); err != nil {
			t.Errorf("runConfigUnset: %v", err)
		}
	})
	if !strings.Contains(out, "log.level") {
		t.Errorf("expected key name in output, got: %q", out)
	}

	loaded, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Log.Level != "info" {
		t.Fatalf("Log.Level = %q after unset, want info", loaded.Log.Level)
	}
}

func TestRunConfigUnset_UnknownKey(t *testing.T) {
	configTestEnv(t)

	err := runConfigUnset(nil, []string{"ghost.key"})
	if err == nil {
		t.Fatal("expected error for unknown key")
	}
	if !strings.Contains(err.Error(), "unknown config key") {
		t.Errorf("expected 'unknown config key' error, got: %v", err)
	}
}

func TestRunConfigShow_ListsKeys(t *testing.T) {
	configTestEnv(t)

	out := captureStdout(t, func() {
		if err := runConfigShow(nil, nil); err != nil {
			t.Errorf("runConfigShow: %v", err)
		}
	})

	for _, key := range []string{"scheduler.max_workers", "optimizer.enabled", "log.file", "config.toml"} {
		if !strings.Contains(out, key) {
			t.Errorf("expected %q in output, got:\n%s", key, out)
		}
	}
}
