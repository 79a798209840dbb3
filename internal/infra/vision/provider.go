// Package vision defines the vision-service abstraction: image embeddings for
// the cover index and pairwise cover comparison for duplicate verification.
// Adapters implement Provider so the duplicate pipeline is never coupled to a
// specific vision backend.
package vision

import "context"

// Comparison is the outcome of a pairwise cover comparison.
// All scores are in [0, 1].
type Comparison struct {
	LayoutSimilarity  float64 `json:"layout_similarity"`
	ContentSimilarity float64 `json:"content_similarity"`
	Confidence        float64 `json:"confidence"`
}

// Provider is the model-agnostic interface for vision operations.
type Provider interface {
	// EmbedImage computes a dense vector for the image at ref
	// (a stored object path or URL).
	EmbedImage(ctx context.Context, ref string) ([]float32, error)

	// Compare scores the visual similarity of two images.
	Compare(ctx context.Context, refA, refB string) (*Comparison, error)

	// HealthCheck returns nil if the vision service is reachable.
	HealthCheck(ctx context.Context) error
}
