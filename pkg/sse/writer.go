// Package sse implements the line-oriented event-stream framing used by the
// assistant endpoints: each event is one `data: <json>` block terminated by a
// blank line. The Reader half tolerates the boundary styles real proxies
// produce (`\n\n`, `\r\n\r\n`, `\r\r`) and reassembles frames across
// arbitrary network read boundaries.
// This is a leaf package with no domain dependencies.
package sse

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
)

// ErrStreamingUnsupported is returned when the ResponseWriter cannot flush.
var ErrStreamingUnsupported = fmt.Errorf("response writer does not implement http.Flusher")

// Writer frames JSON payloads as `data:` blocks over an http.ResponseWriter.
// Not safe for concurrent use; the orchestrator writes events one at a time.
type Writer struct {
	bw      *bufio.Writer
	flusher http.Flusher
}

// NewWriter prepares w for event streaming (content type, no caching) and
// returns a Writer. Fails if w does not support flushing — streaming through
// a buffering-only writer would defeat incremental delivery.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}

	return &Writer{bw: bufio.NewWriter(w), flusher: flusher}, nil
}

// Send marshals v as JSON and writes it as a single frame, flushing
// immediately so the client sees the event without delay.
func (w *Writer) Send(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("sse: marshal event: %w", err)
	}
	return w.SendRaw(b)
}

// SendRaw writes an already-serialized JSON payload as a single frame.
func (w *Writer) SendRaw(payload []byte) error {
	if _, err := fmt.Fprintf(w.bw, "data: %s\n\n", payload); err != nil {
		return fmt.Errorf("sse: write frame: %w", err)
	}
	if err := w.bw.Flush(); err != nil {
		return fmt.Errorf("sse: flush frame: %w", err)
	}
	w.flusher.Flush()
	return nil
}
