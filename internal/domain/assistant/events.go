// Package assistant contains the streaming agent core: the canonical event
// union the wire protocol speaks, the normalizer that maps arbitrary upstream
// runtime events onto it, and the orchestrator engine that drives a bounded
// multi-turn, tool-calling run.
package assistant

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventVersion is stamped on every canonical event.
const EventVersion = "1"

// Type discriminates the canonical event union on the wire.
type Type string

const (
	TypeAssistantDelta Type = "assistant_delta"
	TypeAssistantDone  Type = "assistant_done"
	TypeHandoff        Type = "handoff"
	TypeToolStart      Type = "tool_start"
	TypeToolResult     Type = "tool_result"
	TypeToolAppend     Type = "tool_append"
	TypeError          Type = "error"
)

// Event is one canonical event. Every variant carries the version and the
// request it belongs to.
type Event interface {
	EventType() Type
}

// Envelope is embedded in every variant.
type Envelope struct {
	Type      Type   `json:"type"`
	Version   string `json:"version"`
	RequestID string `json:"request_id"`
}

// EventType implements Event.
func (e Envelope) EventType() Type { return e.Type }

func newEnvelope(t Type, requestID string) Envelope {
	return Envelope{Type: t, Version: EventVersion, RequestID: requestID}
}

// AssistantDelta is an incremental fragment of assistant text.
type AssistantDelta struct {
	Envelope
	Content string `json:"content"`
}

// AssistantDone is the terminal success marker: at most one per stream,
// always the last non-error event.
type AssistantDone struct {
	Envelope
}

// Handoff records control transferring to a named sub-agent.
type Handoff struct {
	Envelope
	To string `json:"to,omitempty"`
}

// ToolStart announces that a tool invocation began.
type ToolStart struct {
	Envelope
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Args      json.RawMessage `json:"args,omitempty"`
	StartedAt time.Time       `json:"started_at"`
}

// ToolResult is the outcome of a previously started tool. ID always equals a
// prior ToolStart.ID in the same stream.
type ToolResult struct {
	Envelope
	ID         string          `json:"id"`
	Name       string          `json:"name,omitempty"`
	Success    bool            `json:"success"`
	Result     json.RawMessage `json:"result,omitempty"`
	FinishedAt time.Time       `json:"finished_at"`
}

// ToolMessage is the conversation-history form of a tool's output.
type ToolMessage struct {
	Role       string `json:"role"`
	Name       string `json:"name,omitempty"`
	ToolCallID string `json:"tool_call_id,omitempty"`
	Content    string `json:"content"`
}

// ToolAppend re-injects a tool's raw output into conversation history.
// Unlike ToolResult, its content keeps the outer envelope intact.
type ToolAppend struct {
	Envelope
	Message ToolMessage `json:"message"`
}

// ErrorEvent is the terminal failure marker. Tool and Path are best-effort
// diagnostics, never required for correctness.
type ErrorEvent struct {
	Envelope
	Message string `json:"message"`
	Tool    string `json:"tool,omitempty"`
	Path    string `json:"path,omitempty"`
}

// NewAssistantDelta builds an AssistantDelta for requestID.
func NewAssistantDelta(requestID, content string) *AssistantDelta {
	return &AssistantDelta{Envelope: newEnvelope(TypeAssistantDelta, requestID), Content: content}
}

// NewAssistantDone builds the terminal success event.
func NewAssistantDone(requestID string) *AssistantDone {
	return &AssistantDone{Envelope: newEnvelope(TypeAssistantDone, requestID)}
}

// NewHandoff builds a Handoff to the named sub-agent.
func NewHandoff(requestID, to string) *Handoff {
	return &Handoff{Envelope: newEnvelope(TypeHandoff, requestID), To: to}
}

// NewError builds the terminal failure event.
func NewError(requestID, message, toolName, path string) *ErrorEvent {
	return &ErrorEvent{
		Envelope: newEnvelope(TypeError, requestID),
		Message:  message,
		Tool:     toolName,
		Path:     path,
	}
}

// ParseEvent decodes a canonical event from its wire JSON, dispatching on the
// type tag. The client-side counterpart of json.Marshal on the variants.
func ParseEvent(raw []byte) (Event, error) {
	var probe struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("event parse: %w", err)
	}

	var ev Event
	switch probe.Type {
	case TypeAssistantDelta:
		ev = &AssistantDelta{}
	case TypeAssistantDone:
		ev = &AssistantDone{}
	case TypeHandoff:
		ev = &Handoff{}
	case TypeToolStart:
		ev = &ToolStart{}
	case TypeToolResult:
		ev = &ToolResult{}
	case TypeToolAppend:
		ev = &ToolAppend{}
	case TypeError:
		ev = &ErrorEvent{}
	default:
		return nil, fmt.Errorf("event parse: unknown type %q", probe.Type)
	}
	if err := json.Unmarshal(raw, ev); err != nil {
		return nil, fmt.Errorf("event parse: %w", err)
	}
	return ev, nil
}
