package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hondana-dev/hondana/internal/domain/catalog"
	"github.com/hondana-dev/hondana/internal/domain/dedup"
)

// Names of the built-in domain tools.
const (
	BuiltinCatalogSearch   = "catalog_search"
	BuiltinGetBook         = "get_book"
	BuiltinUpdateBook      = "update_book"
	BuiltinCheckDuplicates = "check_duplicates"
)

// BuiltinServices carries the domain services the built-in tools execute against.
type BuiltinServices struct {
	Books    *catalog.Store
	Detector duplicateChecker
}

type duplicateChecker interface {
	CheckDuplicates(ctx context.Context, item dedup.Item) (*dedup.Result, error)
}

// RegisterBuiltins registers all built-in tools on the registry.
func RegisterBuiltins(registry *Registry, services BuiltinServices) error {
	registrations := []struct {
		def      Definition
		executor Executor
	}{
		{
			def: Definition{
				Name:        BuiltinCatalogSearch,
				Description: "Search books by title, author or ISBN",
				InputSchema: schemaFor(catalogSearchParams{}),
			},
			executor: newCatalogSearchExecutor(services.Books),
		},
		{
			def: Definition{
				Name:        BuiltinGetBook,
				Description: "Fetch a single book by id",
				InputSchema: schemaFor(getBookParams{}),
			},
			executor: newGetBookExecutor(services.Books),
		},
		{
			def: Definition{
				Name:        BuiltinUpdateBook,
				Description: "Update a book's bibliographic fields",
				InputSchema: schemaFor(updateBookParams{}),
			},
			executor: newUpdateBookExecutor(services.Books),
		},
		{
			def: Definition{
				Name:        BuiltinCheckDuplicates,
				Description: "Check whether a described book duplicates an existing catalog entry",
				InputSchema: schemaFor(dedup.Item{}),
			},
			executor: newCheckDuplicatesExecutor(services.Detector),
		},
	}

	for _, reg := range registrations {
		if err := registry.Register(reg.def, reg.executor); err != nil && err != ErrExecutorAlreadyRegistered {
			return err
		}
	}
	return nil
}

type catalogSearchParams struct {
	Query string `json:"query" jsonschema:"required"`
	Limit int    `json:"limit,omitempty"`
}

func newCatalogSearchExecutor(books *catalog.Store) Executor {
	return ExecutorFunc(func(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
		var p catalogSearchParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("catalog_search: %w", err)
		}
		results, err := books.SearchByText(ctx, p.Query, p.Limit)
		if err != nil {
			return nil, fmt.Errorf("catalog_search: %w", err)
		}
		return marshalBooks(results)
	})
}

type getBookParams struct {
	BookID string `json:"book_id" jsonschema:"required"`
}

func newGetBookExecutor(books *catalog.Store) Executor {
	return ExecutorFunc(func(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
		var p getBookParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("get_book: %w", err)
		}
		book, err := books.GetByID(ctx, p.BookID)
		if err != nil {
			return nil, fmt.Errorf("get_book: %w", err)
		}
		return json.Marshal(bookView(book))
	})
}

type updateBookParams struct {
	BookID        string `json:"book_id" jsonschema:"required"`
	Title         string `json:"title,omitempty"`
	Author        string `json:"author,omitempty"`
	Publisher     string `json:"publisher,omitempty"`
	ISBN          string `json:"isbn,omitempty"`
	CoverImageRef string `json:"cover_image_ref,omitempty"`
}

// newUpdateBookExecutor updates only the bibliographic fields. The params
// struct is the field allow-list: anything else the model tries to set is
// rejected by schema validation before execution.
func newUpdateBookExecutor(books *catalog.Store) Executor {
	return ExecutorFunc(func(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
		var p updateBookParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("update_book: %w", err)
		}

		current, err := books.GetByID(ctx, p.BookID)
		if err != nil {
			return nil, fmt.Errorf("update_book: %w", err)
		}

		in := catalog.CreateInput{
			Title:         orDefault(p.Title, current.Title),
			Author:        orDefault(p.Author, current.Author),
			Publisher:     orDefault(p.Publisher, current.Publisher),
			ISBN:          orDefault(p.ISBN, current.ISBN),
			CoverImageRef: orDefault(p.CoverImageRef, current.CoverImageRef),
		}
		updated, err := books.Update(ctx, p.BookID, in)
		if err != nil {
			return nil, fmt.Errorf("update_book: %w", err)
		}
		return json.Marshal(bookView(updated))
	})
}

func newCheckDuplicatesExecutor(detector duplicateChecker) Executor {
	return ExecutorFunc(func(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
		var item dedup.Item
		if err := json.Unmarshal(params, &item); err != nil {
			return nil, fmt.Errorf("check_duplicates: %w", err)
		}
		result, err := detector.CheckDuplicates(ctx, item)
		if err != nil {
			return nil, fmt.Errorf("check_duplicates: %w", err)
		}
		return json.Marshal(result)
	})
}

// bookJSON is the wire shape of a book in tool outputs.
type bookJSON struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Author        string `json:"author,omitempty"`
	Publisher     string `json:"publisher,omitempty"`
	ISBN          string `json:"isbn,omitempty"`
	CoverImageRef string `json:"cover_image_ref,omitempty"`
}

func bookView(b *catalog.Book) bookJSON {
	return bookJSON{
		ID:            b.ID,
		Title:         b.Title,
		Author:        b.Author,
		Publisher:     b.Publisher,
		ISBN:          b.ISBN,
		CoverImageRef: b.CoverImageRef,
	}
}

func marshalBooks(books []*catalog.Book) (json.RawMessage, error) {
	views := make([]bookJSON, 0, len(books))
	for _, b := range books {
		views = append(views, bookView(b))
	}
	return json.Marshal(map[string]any{"books": views, "count": len(views)})
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
