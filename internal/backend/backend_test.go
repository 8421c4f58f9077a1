package backend

import (
	"bytes"
	"context"
	"log/slog"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/expkit/internal/job"
	"github.com/roach88/expkit/internal/testutil"
)

var _ job.Backend = (*Local)(nil)
var _ job.Backend = (*DryRun)(nil)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestLocal_ExecuteWritesOutput(t *testing.T) {
	requireShell(t)
	ctx := context.Background()
	tool := &job.ToolDescriptor{Name: "copy"}
	l := NewLocal(map[string]string{"EXPKIT_TEST_VALUE": "42"}, slog.New(slog.DiscardHandler))

	out := filepath.Join(t.TempDir(), "out.txt")
	require.NoError(t, l.SetUp(ctx, tool, "job-1"))
	require.NoError(t, l.SetUp(ctx, tool, "job-1"))
	require.NoError(t, l.Execute(ctx, tool, []string{"sh", "-c", `printf "$EXPKIT_TEST_VALUE" > "$1"`, "sh", out}, "job-1"))
	require.NoError(t, l.TearDown(ctx, tool, "job-1"))

	assert.Equal(t, "42", testutil.ReadFile(t, out))
}

func TestLocal_FailureIncludesStderr(t *testing.T) {
	requireShell(t)
	ctx := context.Background()
	tool := &job.ToolDescriptor{Name: "broken"}
	var stderr bytes.Buffer
	l := NewLocal(nil, slog.New(slog.DiscardHandler))
	l.Stderr = &stderr

	require.NoError(t, l.SetUp(ctx, tool, "job-1"))
	err := l.Execute(ctx, tool, []string{"sh", "-c", "echo cannot read input >&2; exit 3"}, "job-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exit status 3")
	assert.Contains(t, err.Error(), "cannot read input")
	assert.Contains(t, stderr.String(), "cannot read input")
}

func TestLocal_RequiresSetUp(t *testing.T) {
	l := NewLocal(nil, slog.New(slog.DiscardHandler))
	err := l.Execute(context.Background(), &job.ToolDescriptor{Name: "x"}, []string{"true"}, "job-9")
	assert.ErrorContains(t, err, "not set up")
}

func TestLocal_SetUpChecksToolDirectory(t *testing.T) {
	l := NewLocal(nil, slog.New(slog.DiscardHandler))
	tool := &job.ToolDescriptor{Name: "x", URI: filepath.Join(t.TempDir(), "missing", "tool.cue")}
	assert.Error(t, l.SetUp(context.Background(), tool, "job-1"))
}

func TestTailBuffer_KeepsTail(t *testing.T) {
	var tb tailBuffer
	for range 300 {
		_, _ = tb.Write([]byte("0123456789"))
	}
	assert.Len(t, tb.String(), tailSize)
}

func TestDryRun_RecordsCommands(t *testing.T) {
	ctx := context.Background()
	d := NewDryRun(slog.New(slog.DiscardHandler))
	tool := &job.ToolDescriptor{Name: "x"}

	require.NoError(t, d.SetUp(ctx, tool, "j"))
	require.NoError(t, d.Execute(ctx, tool, []string{"x", "-i", "a"}, "j"))
	require.NoError(t, d.Execute(ctx, tool, []string{"x", "-i", "b"}, "j"))
	require.NoError(t, d.TearDown(ctx, tool, "j"))

	assert.Equal(t, [][]string{{"x", "-i", "a"}, {"x", "-i", "b"}}, d.Commands())
}
