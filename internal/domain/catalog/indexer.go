package catalog

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hondana-dev/hondana/internal/infra/eventbus"
	"github.com/hondana-dev/hondana/internal/infra/llm"
	"github.com/hondana-dev/hondana/internal/infra/vision"
)

const (
	embedMaxRetries = 3
	embedBaseDelay  = 100 * time.Millisecond
)

// IndexerService keeps book embeddings current. It consumes
// catalog.book.upserted events, embeds the book's metadata text via the LLM
// provider and its cover image via the vision provider, and stores both
// vectors in the index. Each modality fails independently: a missing cover or
// a vision outage never blocks the text vector.
type IndexerService struct {
	store  *Store
	index  *VectorIndex
	llm    llm.LLMProvider
	vision vision.Provider
	log    *zap.Logger
}

// NewIndexerService creates an IndexerService.
func NewIndexerService(store *Store, index *VectorIndex, llmProvider llm.LLMProvider, visionProvider vision.Provider, log *zap.Logger) *IndexerService {
	if log == nil {
		log = zap.NewNop()
	}
	return &IndexerService{
		store:  store,
		index:  index,
		llm:    llmProvider,
		vision: visionProvider,
		log:    log,
	}
}

// Start subscribes to TopicBookUpserted and indexes each upserted book.
// Runs in the calling goroutine — launch with: go svc.Start(ctx, bus)
// Stops when ctx is cancelled.
func (s *IndexerService) Start(ctx context.Context, bus eventbus.EventBus) {
	ch := bus.Subscribe(TopicBookUpserted)
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-ch:
			payload, ok := evt.Payload.(BookUpsertedPayload)
			if !ok {
				continue
			}
			// Best-effort: log error but keep running
			if err := s.IndexBook(ctx, payload.BookID); err != nil {
				s.log.Warn("book indexing failed",
					zap.String("book_id", payload.BookID),
					zap.Error(err))
			}
		}
	}
}

// IndexBook computes and stores both embeddings for a single book. Returns an
// error if either modality ultimately failed; partial success is still stored.
func (s *IndexerService) IndexBook(ctx context.Context, bookID string) error {
	book, err := s.store.GetByID(ctx, bookID)
	if err != nil {
		return fmt.Errorf("indexer: fetch book: %w", err)
	}

	textErr := s.indexText(ctx, book)
	imageErr := s.indexImage(ctx, book)

	if textErr != nil {
		return textErr
	}
	return imageErr
}

func (s *IndexerService) indexText(ctx context.Context, book *Book) error {
	vec, err := s.embedTextWithRetry(ctx, book.EmbedText())
	if err != nil {
		_ = s.index.MarkFailed(ctx, book.ID, SpaceText)
		return fmt.Errorf("indexer: embed text: %w", err)
	}
	if err := s.index.Upsert(ctx, book.ID, SpaceText, vec); err != nil {
		return fmt.Errorf("indexer: store text vector: %w", err)
	}
	return nil
}

func (s *IndexerService) indexImage(ctx context.Context, book *Book) error {
	if book.CoverImageRef == "" {
		return nil // nothing to embed
	}
	vec, err := s.embedImageWithRetry(ctx, book.CoverImageRef)
	if err != nil {
		_ = s.index.MarkFailed(ctx, book.ID, SpaceImage)
		return fmt.Errorf("indexer: embed image: %w", err)
	}
	if err := s.index.Upsert(ctx, book.ID, SpaceImage, vec); err != nil {
		return fmt.Errorf("indexer: store image vector: %w", err)
	}
	return nil
}

// embedTextWithRetry calls LLMProvider.Embed() with exponential backoff.
// Attempts: embedMaxRetries (100ms, 200ms, 400ms delays).
func (s *IndexerService) embedTextWithRetry(ctx context.Context, text string) ([]float32, error) {
	var lastErr error
	delay := embedBaseDelay
	for attempt := 0; attempt < embedMaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
				delay *= 2
			}
		}
		resp, err := s.llm.Embed(ctx, llm.EmbedRequest{Texts: []string{text}})
		if err == nil && len(resp.Embeddings) == 1 {
			return resp.Embeddings[0], nil
		}
		if err == nil {
			err = fmt.Errorf("expected 1 embedding, got %d", len(resp.Embeddings))
		}
		lastErr = err
	}
	return nil, fmt.Errorf("all %d retries failed: %w", embedMaxRetries, lastErr)
}

func (s *IndexerService) embedImageWithRetry(ctx context.Context, imageRef string) ([]float32, error) {
	var lastErr error
	delay := embedBaseDelay
	for attempt := 0; attempt < embedMaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
				delay *= 2
			}
		}
		vec, err := s.vision.EmbedImage(ctx, imageRef)
		if err == nil {
			return vec, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("all %d retries failed: %w", embedMaxRetries, lastErr)
}
