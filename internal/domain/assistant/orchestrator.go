package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"regexp"

	"go.uber.org/zap"

	"github.com/hondana-dev/hondana/internal/domain/tool"
)

// DefaultMaxTurns bounds the agent run when no configuration overrides it.
const DefaultMaxTurns = 12

// Dispatcher executes a surfaced tool call. The tool registry satisfies it.
// Dispatch never fails: tool errors come back as non-success outcomes.
type Dispatcher interface {
	Dispatch(ctx context.Context, name string, params json.RawMessage) tool.Outcome
}

// WriteFunc delivers one canonical event to the caller's sink. A non-nil
// error means the sink is gone (client disconnect); the engine stops writing.
type WriteFunc func(Event) error

// RunRequest describes one orchestration run.
type RunRequest struct {
	RequestID  string
	StartAgent string
	Model      string
	Messages   []ChatMessage
	Language   string
	Prelude    string
}

// RunMetrics is the read-only snapshot handed back on completion or failure.
type RunMetrics struct {
	Turns     int `json:"turns"`
	ToolCalls int `json:"tool_calls"`
	Handoffs  int `json:"handoffs"`
}

// Engine drives a bounded-turn agent run: it consumes the runtime's raw
// events, normalizes each one, executes surfaced tool calls through the
// dispatcher, appends tool results back into the run, and forwards every
// canonical event to the sink in arrival order. The engine itself executes no
// tool logic and issues no concurrent turn requests.
type Engine struct {
	runtime     Runtime
	dispatcher  Dispatcher
	normalizer  *Normalizer
	maxTurns    int
	toolNoteMax int
	log         *zap.Logger
}

// EngineOptions configures an Engine.
type EngineOptions struct {
	MaxTurns         int
	ToolNoteMaxChars int
}

// NewEngine creates an Engine over the given runtime and dispatcher.
func NewEngine(runtime Runtime, dispatcher Dispatcher, normalizer *Normalizer, opts EngineOptions, log *zap.Logger) *Engine {
	if opts.MaxTurns <= 0 {
		opts.MaxTurns = DefaultMaxTurns
	}
	if opts.ToolNoteMaxChars <= 0 {
		opts.ToolNoteMaxChars = DefaultToolNoteMaxChars
	}
	if normalizer == nil {
		normalizer = NewNormalizer(nil, log)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		runtime:     runtime,
		dispatcher:  dispatcher,
		normalizer:  normalizer,
		maxTurns:    opts.MaxTurns,
		toolNoteMax: opts.ToolNoteMaxChars,
		log:         log,
	}
}

// Run executes one orchestration run. The stream delivered through write
// terminates in exactly one of AssistantDone or Error — unless the context is
// cancelled, in which case writes cease immediately and the error is returned
// to the caller, who owns slot release.
func (e *Engine) Run(ctx context.Context, req RunRequest, write WriteFunc) (RunMetrics, error) {
	var metrics RunMetrics

	input := BuildInputSequence(req.Messages, req.Language, req.Prelude, e.toolNoteMax)
	stream, err := e.runtime.Run(ctx, RuntimeRequest{
		RequestID:  req.RequestID,
		StartAgent: req.StartAgent,
		Model:      req.Model,
		MaxTurns:   e.maxTurns,
		Input:      input,
	})
	if err != nil {
		e.writeError(ctx, write, req.RequestID, err)
		return metrics, err
	}
	defer stream.Close() //nolint:errcheck

	for {
		raw, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			metrics.Turns++ // the final model turn completed
			if werr := write(NewAssistantDone(req.RequestID)); werr != nil {
				return metrics, werr
			}
			return metrics, nil
		}
		if err != nil {
			e.writeError(ctx, write, req.RequestID, err)
			return metrics, err
		}

		for _, ev := range e.normalizer.Normalize(req.RequestID, raw) {
			if ctx.Err() != nil {
				return metrics, ctx.Err()
			}
			if werr := write(ev); werr != nil {
				return metrics, werr
			}

			switch ev := ev.(type) {
			case *Handoff:
				metrics.Handoffs++
			case *ToolStart:
				metrics.ToolCalls++
				if terr := e.executeTool(ctx, req.RequestID, ev, stream, write, &metrics); terr != nil {
					return metrics, terr
				}
			}
		}
	}
}

// executeTool runs one surfaced tool call through the dispatcher, wraps the
// outcome as a raw tool-output event, re-normalizes it into the
// ToolResult/ToolAppend pair, writes both, and appends the tool message back
// into the run so the next model turn sees it. The tool's work is fully
// materialized before the run resumes — a tool cycle is a completed turn.
func (e *Engine) executeTool(ctx context.Context, requestID string, start *ToolStart, stream Stream, write WriteFunc, metrics *RunMetrics) error {
	outcome := e.dispatcher.Dispatch(ctx, start.Name, start.Args)
	if !outcome.Success {
		e.log.Warn("tool execution failed",
			zap.String("tool", start.Name),
			zap.String("message", outcome.Message))
	}

	payload, err := json.Marshal(outcome)
	if err != nil {
		payload = json.RawMessage(`{"success":false,"message":"tool outcome not serializable"}`)
	}
	rawOutput, err := json.Marshal(map[string]any{
		"type":    "tool_output",
		"call_id": start.ID,
		"name":    start.Name,
		"output":  json.RawMessage(payload),
	})
	if err != nil {
		return err
	}

	for _, ev := range e.normalizer.Normalize(requestID, rawOutput) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if werr := write(ev); werr != nil {
			return werr
		}
		if appendEv, ok := ev.(*ToolAppend); ok {
			if aerr := stream.AppendToolResult(appendEv.Message); aerr != nil {
				return aerr
			}
		}
	}

	metrics.Turns++
	return nil
}

// writeError synthesizes the terminal Error event, unless the context is
// already cancelled (the client is gone; nothing may be written).
func (e *Engine) writeError(ctx context.Context, write WriteFunc, requestID string, cause error) {
	if ctx.Err() != nil {
		return
	}
	toolName, path := extractDiagnostics(cause.Error())
	if werr := write(NewError(requestID, cause.Error(), toolName, path)); werr != nil {
		e.log.Debug("error event not delivered", zap.Error(werr))
	}
}

var (
	// e.g. `tool "catalog_search" failed`, `tool=update_book`, `tool: foo`
	toolNameRe = regexp.MustCompile(`tool[\s:="']+([A-Za-z0-9_.-]+)`)
	// dotted JSON path, e.g. `result.data.items[0].title`
	jsonPathRe = regexp.MustCompile(`\b[a-zA-Z_][a-zA-Z0-9_]*(?:\[[0-9]+\])?(?:\.[a-zA-Z_][a-zA-Z0-9_]*(?:\[[0-9]+\])?)+\b`)
)

// extractDiagnostics pulls a best-effort tool name and dotted JSON path out of
// an error message. Operator diagnostics only; empty results are fine.
func extractDiagnostics(message string) (toolName, path string) {
	if m := toolNameRe.FindStringSubmatch(message); len(m) == 2 {
		toolName = m[1]
	}
	if m := jsonPathRe.FindString(message); m != "" && m != toolName {
		path = m
	}
	return toolName, path
}
