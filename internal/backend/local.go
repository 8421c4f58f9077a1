package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"github.com/roach88/expkit/internal/job"
)

// Local runs tools with os/exec.
type Local struct {
	// Env is appended to the process environment as KEY=VALUE pairs.
	Env map[string]string

	// Stdout and Stderr receive tool output. Nil discards stdout and keeps
	// the tail of stderr for error messages only.
	Stdout io.Writer
	Stderr io.Writer

	Logger *slog.Logger

	mu    sync.Mutex
	ready map[string]bool
}

// NewLocal creates a Local backend.
func NewLocal(env map[string]string, logger *slog.Logger) *Local {
	if logger == nil {
		logger = slog.Default()
	}
	return &Local{Env: env, Logger: logger, ready: make(map[string]bool)}
}

// SetUp implements job.Backend. Repeated calls for one job are no-ops.
func (l *Local) SetUp(_ context.Context, tool *job.ToolDescriptor, jobID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ready == nil {
		l.ready = make(map[string]bool)
	}
	if l.ready[jobID] {
		return nil
	}
	if dir := tool.Dir(); dir != "" {
		if _, err := os.Stat(dir); err != nil {
			return fmt.Errorf("set up %s: tool directory: %w", tool.FullName(), err)
		}
	}
	l.ready[jobID] = true
	l.log().Debug("backend ready", "tool", tool.FullName(), "job", jobID)
	return nil
}

// Execute implements job.Backend. A non-zero exit status is an error that
// includes the last lines of stderr.
func (l *Local) Execute(ctx context.Context, tool *job.ToolDescriptor, argv []string, jobID string) error {
	if len(argv) == 0 {
		return fmt.Errorf("execute %s: empty command", tool.FullName())
	}
	l.mu.Lock()
	ready := l.ready[jobID]
	l.mu.Unlock()
	if !ready {
		return fmt.Errorf("execute %s: job %s is not set up", tool.FullName(), jobID)
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = tool.Dir()
	cmd.Env = os.Environ()
	for k, v := range l.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	var stderr tailBuffer
	cmd.Stdout = l.Stdout
	cmd.Stderr = &stderr
	if l.Stderr != nil {
		cmd.Stderr = io.MultiWriter(l.Stderr, &stderr)
	}

	l.log().Debug("executing", "tool", tool.FullName(), "job", jobID, "argv", argv)
	if err := cmd.Run(); err != nil {
		if msg := stderr.String(); msg != "" {
			return fmt.Errorf("execute %s: %w: %s", tool.FullName(), err, msg)
		}
		return fmt.Errorf("execute %s: %w", tool.FullName(), err)
	}
	return nil
}

// TearDown implements job.Backend.
func (l *Local) TearDown(_ context.Context, tool *job.ToolDescriptor, jobID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.ready, jobID)
	l.log().Debug("backend released", "tool", tool.FullName(), "job", jobID)
	return nil
}

func (l *Local) log() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}

// tailBuffer keeps the last tailSize bytes written to it.
type tailBuffer struct {
	buf bytes.Buffer
}

const tailSize = 2048

func (t *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	t.buf.Write(p)
	if over := t.buf.Len() - tailSize; over > 0 {
		t.buf.Next(over)
	}
	return n, nil
}

func (t *tailBuffer) String() string {
	return string(bytes.TrimSpace(t.buf.Bytes()))
}
