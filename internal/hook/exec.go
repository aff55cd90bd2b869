package hook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ExecRunner runs hooks as external executables. The hook context JSON is
// passed on stdin; stdout becomes the hook output.
type ExecRunner struct {
	Store Store
	// Timeout bounds compensations; hook runs are bounded by the caller's ctx.
	Timeout time.Duration
}

// NewExecRunner creates an ExecRunner resolving executables through store.
func NewExecRunner(store Store) *ExecRunner {
	return &ExecRunner{Store: store, Timeout: DefaultTimeout}
}

// RunHook runs the hook's Exec path.
func (r *ExecRunner) RunHook(ctx context.Context, name string, hctx *Context) (any, error) {
	d, err := r.Store.Hook(name)
	if err != nil {
		return nil, err
	}
	if d.Exec == "" {
		return nil, fmt.Errorf("hook %q has no exec path", name)
	}

	input, err := hctx.JSON()
	if err != nil {
		return nil, fmt.Errorf("serializing context: %w", err)
	}
	out, err := runExecutable(ctx, d.Exec, input)
	if err != nil {
		return nil, err
	}
	return decodeOutput(out), nil
}

// Compensate runs the hook's Compensate path with the original output on stdin.
// Hooks without a compensation executable have nothing to undo.
func (r *ExecRunner) Compensate(ctx context.Context, name string, output any) error {
	d, err := r.Store.Hook(name)
	if err != nil {
		return err
	}
	if d.Compensate == "" {
		return nil
	}

	input, err := json.Marshal(map[string]any{"hook": name, "output": output})
	if err != nil {
		return fmt.Errorf("serializing compensation input: %w", err)
	}

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, err = runExecutable(execCtx, d.Compensate, input)
	return err
}

func runExecutable(ctx context.Context, path string, input []byte) ([]byte, error) {
	cmd := exec.CommandContext(ctx, path)
	cmd.Stdin = bytes.NewReader(input)
	// Don't wait on orphaned children holding stdout open after a kill.
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("hook timed out: %w", ctx.Err())
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("hook failed: %s", msg)
		}
		return nil, fmt.Errorf("hook failed: %w", err)
	}
	return stdout.Bytes(), nil
}

// decodeOutput returns parsed JSON when stdout is JSON, else the raw text.
func decodeOutput(out []byte) any {
	trimmed := bytes.TrimSpace(out)
	if len(trimmed) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(trimmed, &v); err == nil {
		return v
	}
	return string(trimmed)
}
