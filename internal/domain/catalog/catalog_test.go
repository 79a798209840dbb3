package catalog

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hondana-dev/hondana/internal/infra/eventbus"
	"github.com/hondana-dev/hondana/internal/infra/llm"
	"github.com/hondana-dev/hondana/internal/infra/sqlite"
	"github.com/hondana-dev/hondana/internal/infra/vision"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sqlite.NewDB(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := sqlite.MigrateUp(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestStore_CreateAndGet(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db, nil)
	ctx := context.Background()

	b, err := store.Create(ctx, CreateInput{
		Title:     "The Go Programming Language",
		Author:    "Donovan & Kernighan",
		Publisher: "Addison-Wesley",
		ISBN:      "978-0134190440",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if b.ID == "" {
		t.Error("expected generated ID")
	}

	got, err := store.GetByID(ctx, b.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Title != b.Title || got.ISBN != b.ISBN {
		t.Errorf("round-trip mismatch: got %+v", got)
	}
}

func TestStore_CreateRequiresTitle(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db, nil)

	if _, err := store.Create(context.Background(), CreateInput{Title: "   "}); err == nil {
		t.Error("expected error for blank title")
	}
}

func TestStore_GetByID_NotFound(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db, nil)

	_, err := store.GetByID(context.Background(), "no-such-id")
	if !errors.Is(err, ErrBookNotFound) {
		t.Errorf("expected ErrBookNotFound, got %v", err)
	}
}

func TestStore_SearchByText(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db, nil)
	ctx := context.Background()

	store.Create(ctx, CreateInput{Title: "Norwegian Wood", Author: "Haruki Murakami"})
	store.Create(ctx, CreateInput{Title: "Kafka on the Shore", Author: "Haruki Murakami"})
	store.Create(ctx, CreateInput{Title: "Snow Country", Author: "Yasunari Kawabata"})

	books, err := store.SearchByText(ctx, "murakami", 10)
	if err != nil {
		t.Fatalf("SearchByText: %v", err)
	}
	if len(books) != 2 {
		t.Errorf("expected 2 matches, got %d", len(books))
	}
}

func TestStore_UpdatePublishesEvent(t *testing.T) {
	db := newTestDB(t)
	bus := eventbus.New()
	store := NewStore(db, bus)
	ctx := context.Background()

	ch := bus.Subscribe(TopicBookUpserted)

	b, err := store.Create(ctx, CreateInput{Title: "Draft Title"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	drainOne(t, ch, b.ID)

	updated, err := store.Update(ctx, b.ID, CreateInput{Title: "Final Title"})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Title != "Final Title" {
		t.Errorf("expected updated title, got %q", updated.Title)
	}
	drainOne(t, ch, b.ID)
}

func drainOne(t *testing.T, ch <-chan eventbus.Event, wantBookID string) {
	t.Helper()
	select {
	case evt := <-ch:
		payload, ok := evt.Payload.(BookUpsertedPayload)
		if !ok || payload.BookID != wantBookID {
			t.Errorf("unexpected event payload: %+v", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("expected upsert event")
	}
}

func TestVectorIndex_SearchOrdersByDistance(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db, nil)
	index := NewVectorIndex(db)
	ctx := context.Background()

	// Three books with text vectors at decreasing similarity to the query.
	vecs := map[string][]float32{
		"closest":  {1, 0, 0},
		"middle":   {0.7, 0.7, 0},
		"farthest": {0, 1, 0},
	}
	ids := map[string]string{}
	for name, vec := range vecs {
		b, err := store.Create(ctx, CreateInput{Title: name})
		if err != nil {
			t.Fatalf("Create %s: %v", name, err)
		}
		if err := index.Upsert(ctx, b.ID, SpaceText, vec); err != nil {
			t.Fatalf("Upsert %s: %v", name, err)
		}
		ids[name] = b.ID
	}

	neighbors, err := index.Search(ctx, SpaceText, []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(neighbors) != 2 {
		t.Fatalf("expected 2 neighbors, got %d", len(neighbors))
	}
	if neighbors[0].BookID != ids["closest"] {
		t.Errorf("expected closest book first, got %s", neighbors[0].BookID)
	}
	if neighbors[0].Distance > 1e-6 {
		t.Errorf("identical vector should have distance ~0, got %f", neighbors[0].Distance)
	}
	if neighbors[1].BookID != ids["middle"] {
		t.Errorf("expected middle book second, got %s", neighbors[1].BookID)
	}
	if neighbors[1].Distance <= neighbors[0].Distance {
		t.Error("distances must be ascending")
	}
}

func TestVectorIndex_SearchSkipsOtherSpacesAndFailed(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db, nil)
	index := NewVectorIndex(db)
	ctx := context.Background()

	textBook, _ := store.Create(ctx, CreateInput{Title: "text only"})
	imageBook, _ := store.Create(ctx, CreateInput{Title: "image only"})
	failedBook, _ := store.Create(ctx, CreateInput{Title: "failed"})

	index.Upsert(ctx, textBook.ID, SpaceText, []float32{1, 0})
	index.Upsert(ctx, imageBook.ID, SpaceImage, []float32{1, 0})
	index.Upsert(ctx, failedBook.ID, SpaceText, []float32{1, 0})
	index.MarkFailed(ctx, failedBook.ID, SpaceText)

	neighbors, err := index.Search(ctx, SpaceText, []float32{1, 0}, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(neighbors) != 1 || neighbors[0].BookID != textBook.ID {
		t.Errorf("expected only the embedded text book, got %+v", neighbors)
	}
}

// stubLLM returns a fixed vector for every text.
type stubLLM struct {
	vec     []float32
	embErr  error
	embReqs int
}

func (s *stubLLM) ChatCompletion(context.Context, llm.ChatRequest) (*llm.ChatResponse, error) {
	return &llm.ChatResponse{Content: "", StopReason: "stop"}, nil
}

func (s *stubLLM) Embed(_ context.Context, req llm.EmbedRequest) (*llm.EmbedResponse, error) {
	s.embReqs++
	if s.embErr != nil {
		return nil, s.embErr
	}
	out := make([][]float32, len(req.Texts))
	for i := range out {
		out[i] = s.vec
	}
	return &llm.EmbedResponse{Embeddings: out}, nil
}

func (s *stubLLM) ModelInfo() llm.ModelMeta { return llm.ModelMeta{ID: "stub", Provider: "test"} }

func (s *stubLLM) HealthCheck(context.Context) error { return nil }

// stubVision returns a fixed vector for every image ref.
type stubVision struct {
	vec    []float32
	embErr error
}

func (s *stubVision) EmbedImage(_ context.Context, ref string) ([]float32, error) {
	if s.embErr != nil {
		return nil, s.embErr
	}
	return s.vec, nil
}

func (s *stubVision) Compare(context.Context, string, string) (*vision.Comparison, error) {
	return nil, errors.New("not implemented")
}

func (s *stubVision) HealthCheck(context.Context) error { return nil }

func TestIndexerService_IndexBook_BothSpaces(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db, nil)
	index := NewVectorIndex(db)
	svc := NewIndexerService(store, index,
		&stubLLM{vec: []float32{0.1, 0.2}},
		&stubVision{vec: []float32{0.3, 0.4}},
		zap.NewNop())
	ctx := context.Background()

	b, err := store.Create(ctx, CreateInput{Title: "With Cover", CoverImageRef: "covers/abc.jpg"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := svc.IndexBook(ctx, b.ID); err != nil {
		t.Fatalf("IndexBook: %v", err)
	}

	for _, space := range []EmbeddingSpace{SpaceText, SpaceImage} {
		neighbors, searchErr := index.Search(ctx, space, []float32{0.1, 0.2}, 1)
		if searchErr != nil {
			t.Fatalf("Search %s: %v", space, searchErr)
		}
		if len(neighbors) != 1 || neighbors[0].BookID != b.ID {
			t.Errorf("space %s: expected indexed book, got %+v", space, neighbors)
		}
	}
}

func TestIndexerService_IndexBook_TextOnlyWhenNoCover(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db, nil)
	index := NewVectorIndex(db)
	svc := NewIndexerService(store, index,
		&stubLLM{vec: []float32{1}},
		&stubVision{embErr: errors.New("must not be called")},
		zap.NewNop())
	ctx := context.Background()

	b, _ := store.Create(ctx, CreateInput{Title: "No Cover"})
	if err := svc.IndexBook(ctx, b.ID); err != nil {
		t.Fatalf("IndexBook: %v", err)
	}

	neighbors, _ := index.Search(ctx, SpaceImage, []float32{1}, 1)
	if len(neighbors) != 0 {
		t.Errorf("expected no image vector, got %+v", neighbors)
	}
}

func TestIndexerService_ImageFailureStillStoresText(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db, nil)
	index := NewVectorIndex(db)
	svc := NewIndexerService(store, index,
		&stubLLM{vec: []float32{1}},
		&stubVision{embErr: errors.New("vision down")},
		zap.NewNop())
	ctx := context.Background()

	b, _ := store.Create(ctx, CreateInput{Title: "Half Indexed", CoverImageRef: "covers/x.jpg"})
	if err := svc.IndexBook(ctx, b.ID); err == nil {
		t.Error("expected error from failed image embedding")
	}

	textNeighbors, _ := index.Search(ctx, SpaceText, []float32{1}, 1)
	if len(textNeighbors) != 1 {
		t.Errorf("text vector should survive image failure, got %+v", textNeighbors)
	}
	imageNeighbors, _ := index.Search(ctx, SpaceImage, []float32{1}, 1)
	if len(imageNeighbors) != 0 {
		t.Errorf("failed image vector must not be searchable, got %+v", imageNeighbors)
	}
}

func TestIndexerService_StartConsumesEvents(t *testing.T) {
	db := newTestDB(t)
	bus := eventbus.New()
	store := NewStore(db, bus)
	index := NewVectorIndex(db)
	svc := NewIndexerService(store, index,
		&stubLLM{vec: []float32{0.5}},
		&stubVision{vec: []float32{0.5}},
		zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Start(ctx, bus)

	b, err := store.Create(ctx, CreateInput{Title: "Eventually Indexed"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		neighbors, _ := index.Search(ctx, SpaceText, []float32{0.5}, 1)
		if len(neighbors) == 1 && neighbors[0].BookID == b.ID {
			return
		}
		select {
		case <-deadline:
			t.Fatal("book was not indexed via event bus")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestIndexerService_StartStopsOnCancel(t *testing.T) {
	db := newTestDB(t)
	bus := eventbus.New()
	store := NewStore(db, bus)
	index := NewVectorIndex(db)
	svc := NewIndexerService(store, index,
		&stubLLM{vec: []float32{0.5}},
		&stubVision{vec: []float32{0.5}},
		zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Start(ctx, bus)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after context cancellation")
	}
}
