// Duplicate-check endpoint: runs the ranking/verification pipeline over the
// submitted item description and returns the full detection result. A clean
// catalog is a normal outcome, so "nothing found" is still a 200.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/hondana-dev/hondana/internal/domain/dedup"
)

// DuplicateChecker runs one duplicate check (satisfied by dedup.Detector).
type DuplicateChecker interface {
	CheckDuplicates(ctx context.Context, item dedup.Item) (*dedup.Result, error)
}

// DuplicateCheckHandler serves POST /api/v1/catalog/duplicate-check.
type DuplicateCheckHandler struct {
	detector DuplicateChecker
}

// NewDuplicateCheckHandler creates the duplicate-check handler.
func NewDuplicateCheckHandler(detector DuplicateChecker) *DuplicateCheckHandler {
	return &DuplicateCheckHandler{detector: detector}
}

// duplicateCheckRequest is the request body: the item's textual fields plus
// an optional cover-image reference.
type duplicateCheckRequest struct {
	Title         string `json:"title"`
	Author        string `json:"author,omitempty"`
	Publisher     string `json:"publisher,omitempty"`
	CoverImageRef string `json:"cover_image_ref,omitempty"`
}

// Check handles POST /api/v1/catalog/duplicate-check.
//
// Response codes:
//   - 200 OK: dedup.Result (empty matches when nothing is similar)
//   - 400 Bad Request: invalid JSON or missing title
//   - 500 Internal Server Error: pipeline failure
func (h *DuplicateCheckHandler) Check(w http.ResponseWriter, r *http.Request) {
	var req duplicateCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}

	result, err := h.detector.CheckDuplicates(r.Context(), dedup.Item{
		Title:         req.Title,
		Author:        req.Author,
		Publisher:     req.Publisher,
		CoverImageRef: req.CoverImageRef,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "duplicate check failed")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
