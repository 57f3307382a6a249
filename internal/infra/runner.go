// Package infra implements infrastructure concerns: process enumeration,
// window detection, firewall and hosts-file control, session control,
// durable caches and the encrypted secret store.
package infra

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Runner executes an external command and returns its combined output.
// OS-facing managers take a Runner so tests can fake system tools.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// ExecRunner runs commands via os/exec with a hard timeout.
type ExecRunner struct {
	Timeout time.Duration
}

// NewExecRunner creates a runner with a 30s default timeout.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{Timeout: 30 * time.Second}
}

// Run executes the command and returns trimmed combined output.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	if err := cmd.Run(); err != nil {
		return strings.TrimSpace(buf.String()), fmt.Errorf("%s: %w: %s", name, err, firstLine(buf.String()))
	}
	return strings.TrimSpace(buf.String()), nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// Ensure ExecRunner implements Runner.
var _ Runner = (*ExecRunner)(nil)
