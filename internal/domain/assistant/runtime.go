package assistant

import (
	"context"
	"encoding/json"
)

// RawEvent is an arbitrary, provider-shaped upstream event payload.
type RawEvent = json.RawMessage

// InputMessage is one sanitized turn handed to the runtime.
type InputMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// RuntimeRequest starts an agent run.
type RuntimeRequest struct {
	RequestID  string
	StartAgent string
	Model      string
	MaxTurns   int
	Input      []InputMessage
}

// Stream is the asynchronous raw-event source of one agent run.
// Next returns io.EOF when the run is exhausted. AppendToolResult feeds a
// fully materialized tool output back into the run's conversation history so
// the following model turn can see it.
type Stream interface {
	Next(ctx context.Context) (RawEvent, error)
	AppendToolResult(msg ToolMessage) error
	Close() error
}

// Runtime is the pluggable agent run abstraction. It is a third-party,
// non-deterministic event source; keeping it behind this narrow interface is
// what lets the engine run against a scripted fake in tests.
type Runtime interface {
	Run(ctx context.Context, req RuntimeRequest) (Stream, error)
}
