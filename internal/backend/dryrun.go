package backend

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/roach88/expkit/internal/job"
)

// DryRun records command lines without executing them.
type DryRun struct {
	Logger *slog.Logger

	mu       sync.Mutex
	commands [][]string
}

// NewDryRun creates a DryRun backend.
func NewDryRun(logger *slog.Logger) *DryRun {
	if logger == nil {
		logger = slog.Default()
	}
	return &DryRun{Logger: logger}
}

// SetUp implements job.Backend.
func (d *DryRun) SetUp(context.Context, *job.ToolDescriptor, string) error { return nil }

// Execute implements job.Backend.
func (d *DryRun) Execute(_ context.Context, tool *job.ToolDescriptor, argv []string, jobID string) error {
	d.mu.Lock()
	d.commands = append(d.commands, append([]string(nil), argv...))
	d.mu.Unlock()
	if d.Logger != nil {
		d.Logger.Info("dry run", "tool", tool.FullName(), "job", jobID, "command", strings.Join(argv, " "))
	}
	return nil
}

// TearDown implements job.Backend.
func (d *DryRun) TearDown(context.Context, *job.ToolDescriptor, string) error { return nil }

// Commands returns the recorded command lines.
func (d *DryRun) Commands() [][]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([][]string, len(d.commands))
	copy(out, d.commands)
	return out
}
