// Route registration and go-chi router setup.
// Public routes (/health, /auth/*) vs JWT-protected routes (/api/v1/*).
package api

import (
	"context"
	"database/sql"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hondana-dev/hondana/internal/api/handlers"
	apmiddleware "github.com/hondana-dev/hondana/internal/api/middleware"
	"github.com/hondana-dev/hondana/internal/domain/admission"
	"github.com/hondana-dev/hondana/internal/domain/assistant"
	domainaudit "github.com/hondana-dev/hondana/internal/domain/audit"
	domainauth "github.com/hondana-dev/hondana/internal/domain/auth"
	"github.com/hondana-dev/hondana/internal/domain/catalog"
	"github.com/hondana-dev/hondana/internal/domain/dedup"
	tooldomain "github.com/hondana-dev/hondana/internal/domain/tool"
	"github.com/hondana-dev/hondana/internal/infra/agentrt"
	"github.com/hondana-dev/hondana/internal/infra/config"
	"github.com/hondana-dev/hondana/internal/infra/counter"
	"github.com/hondana-dev/hondana/internal/infra/eventbus"
	"github.com/hondana-dev/hondana/internal/infra/llm"
	"github.com/hondana-dev/hondana/internal/infra/vision"
)

// NewRouter creates and configures a chi router with all routes, wiring the
// domain services over the shared database handle. Background workers spawned
// here (the catalog indexer) run until ctx is cancelled.
func NewRouter(ctx context.Context, db *sql.DB, cfg config.Config, log *zap.Logger) *chi.Mux {
	if log == nil {
		log = zap.NewNop()
	}

	r := chi.NewRouter()

	// Global middleware (runs on all routes)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	auditService := domainaudit.NewService(db)

	// ===== PUBLIC ROUTES (no auth required) =====

	// Health check, unauthenticated, used by load balancers and health probes
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`)) //nolint:errcheck
	})

	authHandler := handlers.NewAuthHandler(domainauth.NewServiceWithAudit(db, auditService))
	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", authHandler.Register) // POST /auth/register
		r.Post("/login", authHandler.Login)       // POST /auth/login
	})

	// ===== PROTECTED ROUTES (JWT required via AuthMiddleware) =====

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(apmiddleware.AuthMiddleware)
		r.Use(apmiddleware.AuditMiddleware(auditService))

		// Shared infrastructure for protected APIs
		bus := eventbus.New()
		llmProvider := llm.NewOllamaProvider(cfg.OllamaBaseURL, cfg.OllamaModel, cfg.OllamaChatModel)
		llmRouter := llm.NewRouter(map[string]llm.LLMProvider{cfg.LLMProvider: llmProvider}, cfg.LLMProvider)
		visionProvider := vision.NewHTTPProvider(cfg.VisionBaseURL)

		bookStore := catalog.NewStore(db, bus)
		vectorIndex := catalog.NewVectorIndex(db)
		indexer := catalog.NewIndexerService(bookStore, vectorIndex, llmProvider, visionProvider, log)
		go indexer.Start(ctx, bus)

		detector := dedup.NewDetector(vectorIndex, bookStore, llmProvider, visionProvider, dedupPolicy(cfg.Dedup), log)

		toolRegistry := tooldomain.NewRegistry()
		if err := tooldomain.RegisterBuiltins(toolRegistry, tooldomain.BuiltinServices{
			Books:    bookStore,
			Detector: detector,
		}); err != nil {
			log.Error("register builtin tools", zap.Error(err))
		}

		runtime := agentrt.New(llmRouter, toolRegistry.Definitions())
		normalizer := assistant.NewNormalizer(toolRegistry, log)
		engine := assistant.NewEngine(runtime, toolRegistry, normalizer, assistant.EngineOptions{
			MaxTurns:         cfg.MaxTurns,
			ToolNoteMaxChars: cfg.ToolNoteMaxChars,
		}, log)

		admitter := admission.NewService(counter.NewMemoryStore(), admission.Config{
			WindowSeconds:    cfg.Admission.WindowSeconds,
			RateLimit:        int64(cfg.Admission.RateLimit),
			ConcurrencyLimit: int64(cfg.Admission.ConcurrencyLimit),
			SlotTTLSeconds:   cfg.Admission.SlotTTLSeconds,
		})

		chatHandler := handlers.NewAssistantChatHandler(engine, admitter, log)
		duplicateHandler := handlers.NewDuplicateCheckHandler(detector)

		r.Route("/assistant", func(r chi.Router) {
			r.Post("/chat", chatHandler.Chat) // POST /api/v1/assistant/chat
		})

		r.Route("/catalog", func(r chi.Router) {
			r.Post("/duplicate-check", duplicateHandler.Check) // POST /api/v1/catalog/duplicate-check
		})
	})

	return r
}

// dedupPolicy maps the config knobs onto the detector policy.
func dedupPolicy(cfg config.DedupConfig) dedup.Policy {
	return dedup.Policy{
		TextWeight:       cfg.TextWeight,
		ImageWeight:      cfg.ImageWeight,
		VerifyThreshold:  cfg.VerifyThreshold,
		UseExistingFloor: cfg.UseExistingFloor,
		ReviewFloor:      cfg.ReviewFloor,
		KNNLimit:         cfg.KNNLimit,
		MaxVisionCalls:   int64(cfg.MaxVisionCalls),
	}
}
