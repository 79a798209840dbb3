// Package catalog owns the book records and their embedding index. Books are
// the entities the assistant searches and the duplicate detector matches
// against; each book carries up to two vectors, one per embedding space
// (text metadata and cover image).
package catalog

import "time"

// EmbeddingSpace identifies which modality a stored vector belongs to.
type EmbeddingSpace string

const (
	SpaceText  EmbeddingSpace = "text"
	SpaceImage EmbeddingSpace = "image"
)

// EmbeddingStatus tracks the lifecycle of a book_embedding row.
type EmbeddingStatus string

const (
	EmbeddingStatusEmbedded EmbeddingStatus = "embedded"
	EmbeddingStatusFailed   EmbeddingStatus = "failed"
)

// TopicBookUpserted is published on the event bus whenever a book is created
// or updated; the IndexerService consumes it to (re)embed the book.
const TopicBookUpserted = "catalog.book.upserted"

// BookUpsertedPayload is the event payload for TopicBookUpserted.
type BookUpsertedPayload struct {
	BookID string
}

// Book is a catalog record.
type Book struct {
	ID            string
	Title         string
	Author        string
	Publisher     string
	ISBN          string
	CoverImageRef string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// EmbedText returns the canonical text used for the book's text-space vector.
func (b *Book) EmbedText() string {
	s := b.Title
	if b.Author != "" {
		s += " " + b.Author
	}
	if b.Publisher != "" {
		s += " " + b.Publisher
	}
	return s
}
