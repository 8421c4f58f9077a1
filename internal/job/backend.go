package job

import "context"

// Backend runs tools. Implementations live in internal/backend.
//
// SetUp must be idempotent for a given jobID. Execute blocks until the tool
// exits and returns a non-nil error if it did not succeed.
type Backend interface {
	SetUp(ctx context.Context, tool *ToolDescriptor, jobID string) error
	Execute(ctx context.Context, tool *ToolDescriptor, argv []string, jobID string) error
	TearDown(ctx context.Context, tool *ToolDescriptor, jobID string) error
}
