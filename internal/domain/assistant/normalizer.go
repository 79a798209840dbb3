package assistant

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// AllowList decides which tool names may surface to clients. The tool
// registry satisfies it.
type AllowList interface {
	Allowed(name string) bool
}

// allowAll is the fallback when no allow-list is configured (tests).
type allowAll struct{}

func (allowAll) Allowed(string) bool { return true }

// Normalizer translates arbitrary upstream runtime events into the canonical
// union. Upstream shapes are duck-typed and drift with provider versions, so
// classification is exhaustive-with-fallback: anything unrecognized is
// counted, logged at debug, and skipped. Normalize never fails.
type Normalizer struct {
	allow   AllowList
	log     *zap.Logger
	skipped atomic.Int64

	// dropped holds call ids of filtered invocations so their later outputs
	// are filtered too; otherwise a ToolResult would surface with no prior
	// ToolStart. Guarded by mu: one Normalizer serves concurrent runs.
	mu      sync.Mutex
	dropped map[string]struct{}
}

// NewNormalizer creates a Normalizer filtering tool invocations through allow.
func NewNormalizer(allow AllowList, log *zap.Logger) *Normalizer {
	if allow == nil {
		allow = allowAll{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Normalizer{allow: allow, log: log, dropped: make(map[string]struct{})}
}

// Skipped returns how many raw events could not be classified.
func (n *Normalizer) Skipped() int64 { return n.skipped.Load() }

// rawShape is the union of all field names the recognized upstream shapes use.
type rawShape struct {
	Type string `json:"type"`

	// tool invocation
	ID        string          `json:"id"`
	CallID    string          `json:"call_id"`
	Name      string          `json:"name"`
	Tool      string          `json:"tool"`
	Args      json.RawMessage `json:"args"`
	Arguments json.RawMessage `json:"arguments"`

	// tool output
	ToolCallID string          `json:"tool_call_id"`
	Output     json.RawMessage `json:"output"`

	// assistant text
	Content json.RawMessage `json:"content"`
	Delta   json.RawMessage `json:"delta"`
	Text    string          `json:"text"`

	// handoff
	To     string `json:"to"`
	Agent  string `json:"agent"`
	Target string `json:"target"`
}

// Normalize converts one raw upstream event into zero, one, or two canonical
// events (a tool output yields both a ToolResult and a ToolAppend).
func (n *Normalizer) Normalize(requestID string, raw RawEvent) []Event {
	var shape rawShape
	if err := json.Unmarshal(raw, &shape); err != nil {
		n.skip(raw, "not a json object")
		return nil
	}

	switch {
	case shape.isHandoff():
		return []Event{NewHandoff(requestID, shape.handoffTarget())}

	case shape.isToolInvocation():
		name := firstNonEmpty(shape.Name, shape.Tool)
		if !n.allow.Allowed(name) {
			// Non-domain tool chatter never reaches the client.
			n.log.Debug("tool invocation filtered", zap.String("tool", name))
			n.markDropped(firstNonEmpty(shape.ID, shape.CallID))
			return nil
		}
		return []Event{&ToolStart{
			Envelope:  newEnvelope(TypeToolStart, requestID),
			ID:        firstNonEmpty(shape.ID, shape.CallID),
			Name:      name,
			Args:      firstNonNil(shape.Args, shape.Arguments),
			StartedAt: time.Now().UTC(),
		}}

	case shape.isToolOutput():
		if id := firstNonEmpty(shape.ToolCallID, shape.CallID, shape.ID); n.consumeDropped(id) {
			n.log.Debug("tool output filtered", zap.String("call_id", id))
			return nil
		}
		return normalizeToolOutput(requestID, shape)

	default:
		if deltas := extractTextFragments(requestID, shape); len(deltas) > 0 {
			return deltas
		}
		n.skip(raw, "unclassifiable shape")
		return nil
	}
}

func (n *Normalizer) skip(raw RawEvent, reason string) {
	n.skipped.Add(1)
	n.log.Debug("raw event skipped",
		zap.String("reason", reason),
		zap.ByteString("raw", truncateBytes(raw, 256)))
}

func (n *Normalizer) markDropped(id string) {
	if id == "" {
		return
	}
	n.mu.Lock()
	n.dropped[id] = struct{}{}
	n.mu.Unlock()
}

// consumeDropped reports whether id belongs to a filtered invocation, removing
// it from the set. A tool produces at most one output per call id.
func (n *Normalizer) consumeDropped(id string) bool {
	if id == "" {
		return false
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.dropped[id]; !ok {
		return false
	}
	delete(n.dropped, id)
	return true
}

func (s *rawShape) isHandoff() bool {
	if s.Type == "handoff" || s.Type == "agent_updated" {
		return true
	}
	return s.Type == "" && s.handoffTarget() != "" && s.Name == "" && s.Content == nil
}

func (s *rawShape) handoffTarget() string {
	return firstNonEmpty(s.To, s.Agent, s.Target)
}

func (s *rawShape) isToolInvocation() bool {
	switch s.Type {
	case "tool_called", "tool_call", "function_call":
		return true
	}
	// Duck-typed: a name plus arguments plus a call identifier.
	return firstNonEmpty(s.Name, s.Tool) != "" &&
		firstNonNil(s.Args, s.Arguments) != nil &&
		firstNonEmpty(s.ID, s.CallID) != ""
}

func (s *rawShape) isToolOutput() bool {
	switch s.Type {
	case "tool_output", "tool_result", "function_call_output":
		return true
	}
	return s.ToolCallID != "" && s.Output != nil
}

// toolEnvelope is the optional {success, message, data} wrapper tools emit.
type toolEnvelope struct {
	Success *bool           `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// normalizeToolOutput yields the ToolResult/ToolAppend pair. The result
// unwraps one envelope layer (data if present); the append keeps the full
// outer JSON for conversation-history fidelity.
func normalizeToolOutput(requestID string, shape rawShape) []Event {
	id := firstNonEmpty(shape.ToolCallID, shape.CallID, shape.ID)
	payload := firstNonNil(shape.Output, shape.Content)
	if payload == nil {
		payload = json.RawMessage("null")
	}

	success := true
	result := payload
	var env toolEnvelope
	if err := json.Unmarshal(payload, &env); err == nil && env.Success != nil {
		success = *env.Success
		if env.Data != nil {
			result = env.Data
		} else if !success {
			result, _ = json.Marshal(map[string]string{"message": env.Message})
		}
	}

	name := firstNonEmpty(shape.Name, shape.Tool)
	return []Event{
		&ToolResult{
			Envelope:   newEnvelope(TypeToolResult, requestID),
			ID:         id,
			Name:       name,
			Success:    success,
			Result:     result,
			FinishedAt: time.Now().UTC(),
		},
		&ToolAppend{
			Envelope: newEnvelope(TypeToolAppend, requestID),
			Message: ToolMessage{
				Role:       "tool",
				Name:       name,
				ToolCallID: id,
				Content:    string(payload),
			},
		},
	}
}

// contentPart is one element of a content-array text shape.
type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// extractTextFragments handles the three assistant-text shapes: content-array
// of typed parts, single delta object, and nested delta-of-delta. One
// AssistantDelta per extractable fragment, order preserved.
func extractTextFragments(requestID string, shape rawShape) []Event {
	var out []Event

	if len(shape.Content) > 0 {
		var parts []contentPart
		if err := json.Unmarshal(shape.Content, &parts); err == nil {
			for _, p := range parts {
				if (p.Type == "text" || p.Type == "output_text") && p.Text != "" {
					out = append(out, NewAssistantDelta(requestID, p.Text))
				}
			}
			return out
		}
		var text string
		if err := json.Unmarshal(shape.Content, &text); err == nil && text != "" {
			return []Event{NewAssistantDelta(requestID, text)}
		}
	}

	if text := deltaText(shape.Delta, 0); text != "" {
		return []Event{NewAssistantDelta(requestID, text)}
	}
	return out
}

// deltaText unwraps a delta that is either a plain string, an object with a
// content/text field, or another delta layer. Depth-bounded.
func deltaText(delta json.RawMessage, depth int) string {
	if len(delta) == 0 || depth > 3 {
		return ""
	}

	var text string
	if err := json.Unmarshal(delta, &text); err == nil {
		return text
	}

	var nested struct {
		Content string          `json:"content"`
		Text    string          `json:"text"`
		Delta   json.RawMessage `json:"delta"`
	}
	if err := json.Unmarshal(delta, &nested); err != nil {
		return ""
	}
	if s := firstNonEmpty(nested.Content, nested.Text); s != "" {
		return s
	}
	return deltaText(nested.Delta, depth+1)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstNonNil(values ...json.RawMessage) json.RawMessage {
	for _, v := range values {
		if len(v) > 0 && string(v) != "null" {
			return v
		}
	}
	return nil
}

func truncateBytes(b []byte, max int) []byte {
	if len(b) <= max {
		return b
	}
	return b[:max]
}
