package containers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// ErrNotConfigured is returned when a converter binary is needed but no
// path was configured.
var ErrNotConfigured = errors.New("tool binary is not configured")

// ToolError reports a converter that exited non-zero.
type ToolError struct {
	Binary string
	Output []byte
	Err    error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s failed: %v: %s", e.Binary, e.Err, strings.TrimSpace(string(e.Output)))
}

func (e *ToolError) Unwrap() error { return e.Err }

// Tool runs an external converter.
type Tool struct {
	Binary string
	Logger *slog.Logger
}

// Configured reports whether a binary path is set.
func (t Tool) Configured() bool {
	return t.Binary != ""
}

// Run executes the tool in dir and returns its combined output.
func (t Tool) Run(ctx context.Context, dir string, args ...string) ([]byte, error) {
	if t.Binary == "" {
		return nil, ErrNotConfigured
	}

	cmd := exec.CommandContext(ctx, t.Binary, args...)
	cmd.Dir = dir
	if t.Logger != nil {
		t.Logger.Debug("running tool", "binary", t.Binary, "args", args)
	}

	out, err := cmd.CombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return out, &ToolError{Binary: t.Binary, Output: out, Err: err}
		}
		return out, fmt.Errorf("running %s: %w", t.Binary, err)
	}
	return out, nil
}
