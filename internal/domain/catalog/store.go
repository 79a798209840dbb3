package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hondana-dev/hondana/internal/infra/eventbus"
	"github.com/hondana-dev/hondana/pkg/uuid"
)

// ErrBookNotFound is returned when a book ID does not exist.
var ErrBookNotFound = errors.New("book not found")

// Store persists books and publishes upsert events for the indexer.
type Store struct {
	db  *sql.DB
	bus eventbus.EventBus
}

// NewStore creates a Store backed by the given DB. bus may be nil, in which
// case upsert events are not published.
func NewStore(db *sql.DB, bus eventbus.EventBus) *Store {
	return &Store{db: db, bus: bus}
}

// CreateInput carries the fields for a new book.
type CreateInput struct {
	Title         string
	Author        string
	Publisher     string
	ISBN          string
	CoverImageRef string
}

// Create inserts a book and publishes TopicBookUpserted.
func (s *Store) Create(ctx context.Context, in CreateInput) (*Book, error) {
	if strings.TrimSpace(in.Title) == "" {
		return nil, errors.New("title is required")
	}

	now := time.Now().UTC()
	b := &Book{
		ID:            uuid.NewV7(),
		Title:         in.Title,
		Author:        in.Author,
		Publisher:     in.Publisher,
		ISBN:          in.ISBN,
		CoverImageRef: in.CoverImageRef,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO book (id, title, author, publisher, isbn, cover_image_ref, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.Title, b.Author, b.Publisher, b.ISBN, b.CoverImageRef, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert book: %w", err)
	}

	s.publishUpserted(b.ID)
	return b, nil
}

// GetByID fetches a single book.
func (s *Store) GetByID(ctx context.Context, id string) (*Book, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, author, publisher, isbn, cover_image_ref, created_at, updated_at
		 FROM book WHERE id = ?`, id)
	return scanBook(row)
}

// SearchByText returns books whose title, author or ISBN contains the query,
// most recently updated first. Used by the catalog_search tool.
func (s *Store) SearchByText(ctx context.Context, query string, limit int) ([]*Book, error) {
	if limit <= 0 {
		limit = 20
	}
	like := "%" + strings.TrimSpace(query) + "%"
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, author, publisher, isbn, cover_image_ref, created_at, updated_at
		 FROM book
		 WHERE title LIKE ? OR author LIKE ? OR isbn LIKE ?
		 ORDER BY updated_at DESC
		 LIMIT ?`, like, like, like, limit)
	if err != nil {
		return nil, fmt.Errorf("search books: %w", err)
	}
	defer rows.Close()

	var books []*Book
	for rows.Next() {
		b, scanErr := scanBook(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		books = append(books, b)
	}
	return books, rows.Err()
}

// Update overwrites the mutable fields of a book and publishes
// TopicBookUpserted so its embeddings are refreshed.
func (s *Store) Update(ctx context.Context, id string, in CreateInput) (*Book, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE book SET title = ?, author = ?, publisher = ?, isbn = ?, cover_image_ref = ?, updated_at = ?
		 WHERE id = ?`,
		in.Title, in.Author, in.Publisher, in.ISBN, in.CoverImageRef, now, id)
	if err != nil {
		return nil, fmt.Errorf("update book: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrBookNotFound
	}

	s.publishUpserted(id)
	return s.GetByID(ctx, id)
}

func (s *Store) publishUpserted(bookID string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(TopicBookUpserted, BookUpsertedPayload{BookID: bookID})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBook(row rowScanner) (*Book, error) {
	var b Book
	var author, publisher, isbn, coverRef sql.NullString
	err := row.Scan(&b.ID, &b.Title, &author, &publisher, &isbn, &coverRef, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBookNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan book: %w", err)
	}
	b.Author = author.String
	b.Publisher = publisher.String
	b.ISBN = isbn.String
	b.CoverImageRef = coverRef.String
	return &b, nil
}
