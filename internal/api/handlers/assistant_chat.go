// Streaming assistant endpoint. Authorization and admission are settled with
// plain HTTP status codes before the event stream opens; once streaming
// starts, failures travel inside the stream as terminal error events.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hondana-dev/hondana/internal/domain/admission"
	"github.com/hondana-dev/hondana/internal/domain/assistant"
	"github.com/hondana-dev/hondana/pkg/sse"
	"github.com/hondana-dev/hondana/pkg/uuid"
)

// RouteAssistantChat is the admission-control route key for the chat endpoint.
const RouteAssistantChat = "assistant_chat"

// ChatEngine runs one orchestrated agent conversation, pushing canonical
// events through the write callback.
type ChatEngine interface {
	Run(ctx context.Context, req assistant.RunRequest, write assistant.WriteFunc) (assistant.RunMetrics, error)
}

// Admitter is the slice of admission.Service the chat endpoint needs.
type Admitter interface {
	CheckRateLimit(ctx context.Context, route, owner string, weight int64) (*admission.RateDecision, error)
	AcquireConcurrency(ctx context.Context, route, owner string) (bool, error)
	ReleaseConcurrency(ctx context.Context, route, owner string) error
}

// AssistantChatHandler serves POST /api/v1/assistant/chat.
type AssistantChatHandler struct {
	engine   ChatEngine
	admitter Admitter
	log      *zap.Logger
}

// NewAssistantChatHandler creates the chat handler.
func NewAssistantChatHandler(engine ChatEngine, admitter Admitter, log *zap.Logger) *AssistantChatHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &AssistantChatHandler{engine: engine, admitter: admitter, log: log}
}

// chatMessage is one conversation turn in the request body.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatRequest is the request body for POST /api/v1/assistant/chat.
type chatRequest struct {
	Messages []chatMessage `json:"messages"`
	Language string        `json:"language,omitempty"`
	Agent    string        `json:"agent,omitempty"`
	Model    string        `json:"model,omitempty"`
	Prelude  string        `json:"system_prompt,omitempty"`
}

// Chat handles POST /api/v1/assistant/chat.
//
// Response codes:
//   - 200 OK: text/event-stream of canonical events
//   - 400 Bad Request: invalid JSON or empty message list
//   - 401 Unauthorized: no authenticated user in context
//   - 429 Too Many Requests: rate window exhausted or concurrency limit held
//   - 500 Internal Server Error: admission store failure or non-flushable writer
//
// 401 and 429 short-circuit before the stream opens; the orchestrator is
// never invoked for a rejected request.
func (h *AssistantChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, err := getUserID(ctx)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing user context")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages must not be empty")
		return
	}

	requestID := chimiddleware.GetReqID(ctx)
	if requestID == "" {
		requestID = uuid.NewV7()
	}
	w.Header().Set("X-Request-ID", requestID)

	decision, err := h.admitter.CheckRateLimit(ctx, RouteAssistantChat, userID, 1)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "admission check failed")
		return
	}
	setRateLimitHeaders(w, decision)
	if !decision.Allowed {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	acquired, err := h.admitter.AcquireConcurrency(ctx, RouteAssistantChat, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "admission check failed")
		return
	}
	if !acquired {
		writeError(w, http.StatusTooManyRequests, "too many concurrent streams")
		return
	}
	// The release must run on every exit path, including panics inside the
	// stream loop, or the owner's slot leaks until its TTL expires.
	defer func() {
		if relErr := h.admitter.ReleaseConcurrency(context.WithoutCancel(ctx), RouteAssistantChat, userID); relErr != nil {
			h.log.Warn("release concurrency slot", zap.String("owner", userID), zap.Error(relErr))
		}
	}()

	sw, err := sse.NewWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	messages := make([]assistant.ChatMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, assistant.ChatMessage{Role: m.Role, Content: m.Content})
	}

	metrics, runErr := h.engine.Run(ctx, assistant.RunRequest{
		RequestID:  requestID,
		StartAgent: req.Agent,
		Model:      req.Model,
		Messages:   messages,
		Language:   req.Language,
		Prelude:    req.Prelude,
	}, func(ev assistant.Event) error {
		return sw.Send(ev)
	})
	if runErr != nil {
		// The terminal error event already went down the stream (or the
		// client went away); the HTTP status is committed, so just log.
		h.log.Warn("assistant run ended with error",
			zap.String("request_id", requestID),
			zap.Error(runErr))
	}
	h.log.Info("assistant run finished",
		zap.String("request_id", requestID),
		zap.String("owner", userID),
		zap.Int("turns", metrics.Turns),
		zap.Int("tool_calls", metrics.ToolCalls),
		zap.Int("handoffs", metrics.Handoffs))
}

// setRateLimitHeaders reports the window state on both allowed and rejected
// responses.
func setRateLimitHeaders(w http.ResponseWriter, d *admission.RateDecision) {
	w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
}
