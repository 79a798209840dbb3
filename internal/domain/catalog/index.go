package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"
)

// Neighbor is a single KNN result. Distance is 1 - cosine similarity, so
// identical vectors score 0 and orthogonal vectors score 1.
type Neighbor struct {
	BookID   string
	Distance float64
}

// VectorIndex runs nearest-neighbor queries over the stored book embeddings.
// Vectors are JSON TEXT rows in book_embedding; similarity is computed
// in-memory, which is fine at catalog scale.
type VectorIndex struct {
	db *sql.DB
}

// NewVectorIndex creates a VectorIndex over the given DB.
func NewVectorIndex(db *sql.DB) *VectorIndex {
	return &VectorIndex{db: db}
}

// Search returns the n nearest books to queryVec within the given space,
// ordered by ascending distance. Failed embeddings are excluded.
func (ix *VectorIndex) Search(ctx context.Context, space EmbeddingSpace, queryVec []float32, n int) ([]Neighbor, error) {
	if n <= 0 {
		return nil, nil
	}

	rows, err := ix.db.QueryContext(ctx,
		`SELECT book_id, embedding FROM book_embedding WHERE space = ? AND status = ?`,
		string(space), string(EmbeddingStatusEmbedded))
	if err != nil {
		return nil, fmt.Errorf("vector search fetch: %w", err)
	}
	defer rows.Close()

	var neighbors []Neighbor
	for rows.Next() {
		var bookID, embJSON string
		if scanErr := rows.Scan(&bookID, &embJSON); scanErr != nil {
			return nil, fmt.Errorf("vector search scan: %w", scanErr)
		}
		vec, decodeErr := decodeEmbedding(embJSON)
		if decodeErr != nil {
			continue // skip malformed vectors
		}
		neighbors = append(neighbors, Neighbor{
			BookID:   bookID,
			Distance: 1 - cosineSimilarity(queryVec, vec),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(neighbors, func(i, j int) bool {
		return neighbors[i].Distance < neighbors[j].Distance
	})
	if len(neighbors) > n {
		neighbors = neighbors[:n]
	}
	return neighbors, nil
}

// Upsert stores or replaces the vector for (bookID, space) and marks it embedded.
func (ix *VectorIndex) Upsert(ctx context.Context, bookID string, space EmbeddingSpace, vec []float32) error {
	embJSON, err := encodeEmbedding(vec)
	if err != nil {
		return fmt.Errorf("encode embedding: %w", err)
	}
	now := time.Now().UTC()
	_, err = ix.db.ExecContext(ctx,
		`INSERT INTO book_embedding (book_id, space, embedding, status, embedded_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(book_id, space) DO UPDATE SET
		   embedding = excluded.embedding,
		   status = excluded.status,
		   embedded_at = excluded.embedded_at`,
		bookID, string(space), embJSON, string(EmbeddingStatusEmbedded), now)
	if err != nil {
		return fmt.Errorf("upsert embedding: %w", err)
	}
	return nil
}

// MarkFailed records that embedding bookID in the given space did not succeed.
// The previous vector, if any, is cleared so stale matches cannot surface.
func (ix *VectorIndex) MarkFailed(ctx context.Context, bookID string, space EmbeddingSpace) error {
	_, err := ix.db.ExecContext(ctx,
		`INSERT INTO book_embedding (book_id, space, embedding, status, embedded_at)
		 VALUES (?, ?, '[]', ?, NULL)
		 ON CONFLICT(book_id, space) DO UPDATE SET
		   embedding = '[]',
		   status = excluded.status,
		   embedded_at = NULL`,
		bookID, string(space), string(EmbeddingStatusFailed))
	if err != nil {
		return fmt.Errorf("mark embedding failed: %w", err)
	}
	return nil
}

// cosineSimilarity computes cosine similarity between two float32 vectors.
// Returns 0 if either vector has zero magnitude or lengths differ.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return dot / denom
}

// encodeEmbedding serialises a float32 slice to JSON TEXT for storage.
// e.g. [0.1, 0.2, 0.3] → "[0.1,0.2,0.3]"
func encodeEmbedding(vec []float32) (string, error) {
	b, err := json.Marshal(vec)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// decodeEmbedding deserialises a JSON TEXT vector back to []float32.
func decodeEmbedding(jsonStr string) ([]float32, error) {
	var vec []float32
	if err := json.Unmarshal([]byte(jsonStr), &vec); err != nil {
		return nil, fmt.Errorf("decodeEmbedding: %w", err)
	}
	return vec, nil
}
