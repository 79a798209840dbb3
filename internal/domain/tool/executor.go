package tool

import (
	"context"
	"encoding/json"
)

// Executor defines the runtime contract for executable tools.
// Tools are opaque actions with JSON input and JSON output.
type Executor interface {
	Execute(ctx context.Context, params json.RawMessage) (json.RawMessage, error)
}

// ExecutorFunc adapts a plain function to the Executor interface.
type ExecutorFunc func(ctx context.Context, params json.RawMessage) (json.RawMessage, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	return f(ctx, params)
}
