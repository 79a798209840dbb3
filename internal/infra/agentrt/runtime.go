// Package agentrt adapts the chat-completion providers into the agent runtime
// the orchestrator drives. Each model turn is one non-streaming completion;
// tool calls and handoffs are recognized from a JSON directive the model is
// instructed to emit, everything else is assistant text that ends the run.
package agentrt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hondana-dev/hondana/internal/domain/assistant"
	"github.com/hondana-dev/hondana/internal/domain/tool"
	"github.com/hondana-dev/hondana/internal/infra/llm"
	"github.com/hondana-dev/hondana/pkg/uuid"
)

// ProviderRuntime implements assistant.Runtime over the llm Router.
type ProviderRuntime struct {
	router *llm.Router
	defs   []tool.Definition
}

// New creates a ProviderRuntime exposing the given tool definitions to the model.
func New(router *llm.Router, defs []tool.Definition) *ProviderRuntime {
	return &ProviderRuntime{router: router, defs: defs}
}

// Run implements assistant.Runtime.
func (r *ProviderRuntime) Run(ctx context.Context, req assistant.RuntimeRequest) (assistant.Stream, error) {
	provider, err := r.router.Route(ctx)
	if err != nil {
		return nil, err
	}

	maxTurns := req.MaxTurns
	if maxTurns <= 0 {
		maxTurns = assistant.DefaultMaxTurns
	}

	messages := make([]llm.Message, 0, len(req.Input)+2)
	messages = append(messages, llm.Message{Role: "system", Content: r.toolInstruction()})
	for _, in := range req.Input {
		messages = append(messages, llm.Message{Role: in.Role, Content: in.Content})
	}

	return &providerStream{
		provider: provider,
		model:    req.Model,
		messages: messages,
		maxTurns: maxTurns,
	}, nil
}

// toolInstruction tells the model how to call tools and hand off. The
// directive format is what providerStream parses back out.
func (r *ProviderRuntime) toolInstruction() string {
	var b strings.Builder
	b.WriteString("You can call these tools. To call one, reply with ONLY a JSON object ")
	b.WriteString(`{"tool_call":{"name":"<tool>","arguments":{...}}}. `)
	b.WriteString(`To hand control to a sub-agent, reply with ONLY {"handoff":{"to":"<agent>"}}. `)
	b.WriteString("Otherwise reply with plain text for the user.\n\nTools:\n")
	for _, def := range r.defs {
		fmt.Fprintf(&b, "- %s: %s (input schema: %s)\n", def.Name, def.Description, def.InputSchema)
	}
	return b.String()
}

// modelDirective is the structured reply shape for tool calls and handoffs.
type modelDirective struct {
	ToolCall *struct {
		ID        string          `json:"id"`
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"tool_call"`
	Handoff *struct {
		To string `json:"to"`
	} `json:"handoff"`
}

// providerStream drives the turn loop lazily from Next. The orchestrator is a
// single-threaded consumer, so no internal synchronization is needed: a tool
// result is always appended before the next Next call.
type providerStream struct {
	provider llm.LLMProvider
	model    string
	messages []llm.Message
	maxTurns int

	pending []assistant.RawEvent
	turns   int
	done    bool
}

// Next implements assistant.Stream. io.EOF-style termination is signalled by
// returning io.EOF from the final call.
func (s *providerStream) Next(ctx context.Context) (assistant.RawEvent, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(s.pending) > 0 {
			ev := s.pending[0]
			s.pending = s.pending[1:]
			return ev, nil
		}
		if s.done {
			return nil, io.EOF
		}
		if s.turns >= s.maxTurns {
			return nil, fmt.Errorf("agent run exceeded %d turns", s.maxTurns)
		}
		if err := s.advance(ctx); err != nil {
			return nil, err
		}
	}
}

// advance runs one model turn and queues its raw events.
func (s *providerStream) advance(ctx context.Context) error {
	s.turns++
	resp, err := s.provider.ChatCompletion(ctx, llm.ChatRequest{
		Model:    s.model,
		Messages: s.messages,
	})
	if err != nil {
		return fmt.Errorf("model turn %d: %w", s.turns, err)
	}

	content := strings.TrimSpace(resp.Content)
	if directive := parseDirective(content); directive != nil {
		s.messages = append(s.messages, llm.Message{Role: "assistant", Content: content})

		if directive.Handoff != nil {
			s.queueRaw(map[string]any{"type": "handoff", "to": directive.Handoff.To})
			return nil
		}

		id := directive.ToolCall.ID
		if id == "" {
			id = uuid.NewV7()
		}
		args := directive.ToolCall.Arguments
		if len(args) == 0 {
			args = json.RawMessage(`{}`)
		}
		s.queueRaw(map[string]any{
			"type": "tool_called",
			"id":   id,
			"name": directive.ToolCall.Name,
			"args": args,
		})
		return nil
	}

	// Plain text: the model's final answer ends the run.
	s.messages = append(s.messages, llm.Message{Role: "assistant", Content: resp.Content})
	s.queueRaw(map[string]any{"delta": resp.Content})
	s.done = true
	return nil
}

func (s *providerStream) queueRaw(v map[string]any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	s.pending = append(s.pending, assistant.RawEvent(b))
}

// AppendToolResult implements assistant.Stream.
func (s *providerStream) AppendToolResult(msg assistant.ToolMessage) error {
	s.messages = append(s.messages, llm.Message{Role: "tool", Content: msg.Content})
	return nil
}

// Close implements assistant.Stream.
func (s *providerStream) Close() error {
	s.done = true
	return nil
}

// parseDirective returns nil unless content is exactly one directive object.
func parseDirective(content string) *modelDirective {
	if !strings.HasPrefix(content, "{") {
		return nil
	}
	var d modelDirective
	if err := json.Unmarshal([]byte(content), &d); err != nil {
		return nil
	}
	if d.ToolCall == nil && d.Handoff == nil {
		return nil
	}
	if d.ToolCall != nil && d.ToolCall.Name == "" {
		return nil
	}
	return &d
}
