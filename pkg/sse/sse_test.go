package sse

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

// oneByteReader forces the Reader to reassemble frames across reads by
// delivering the stream a single byte at a time.
type oneByteReader struct {
	s   string
	pos int
}

func (r *oneByteReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.s) {
		return 0, io.EOF
	}
	p[0] = r.s[r.pos]
	r.pos++
	return 1, nil
}

func TestWriter_FramesAndFlushes(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	w, err := NewWriter(rec)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}

	if sendErr := w.Send(map[string]string{"type": "delta", "content": "hi"}); sendErr != nil {
		t.Fatalf("Send failed: %v", sendErr)
	}

	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("expected event-stream content type, got %q", got)
	}
	body := rec.Body.String()
	if !strings.HasPrefix(body, "data: ") || !strings.HasSuffix(body, "\n\n") {
		t.Errorf("unexpected frame format: %q", body)
	}
}

func TestReader_BoundaryStyles(t *testing.T) {
	t.Parallel()

	payloads := []string{`{"seq":1}`, `{"seq":2}`, `{"seq":3}`}

	tests := []struct {
		name     string
		boundary string
	}{
		{name: "LF LF", boundary: "\n\n"},
		{name: "CRLF CRLF", boundary: "\r\n\r\n"},
		{name: "CR CR", boundary: "\r\r"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var sb strings.Builder
			for _, p := range payloads {
				sb.WriteString("data: " + p + tt.boundary)
			}

			r := NewReader(&oneByteReader{s: sb.String()})
			for i, want := range payloads {
				got, err := r.Next()
				if err != nil {
					t.Fatalf("frame %d: %v", i, err)
				}
				if string(got) != want {
					t.Errorf("frame %d: got %q, want %q", i, got, want)
				}
			}
			if _, err := r.Next(); err != io.EOF {
				t.Fatalf("expected io.EOF after last frame, got %v", err)
			}
		})
	}
}

func TestReader_MultipleDataLinesJoined(t *testing.T) {
	t.Parallel()

	// A single frame split across two data lines must reassemble into one
	// payload, joined with '\n'.
	stream := "data: {\"a\":\ndata: 1}\n\n"
	r := NewReader(strings.NewReader(stream))

	got, err := r.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	var decoded map[string]int
	if err := json.Unmarshal(got, &decoded); err != nil {
		t.Fatalf("joined payload is not valid JSON: %v", err)
	}
	if decoded["a"] != 1 {
		t.Errorf("expected a=1, got %v", decoded)
	}
}

func TestReader_DiscardsInvalidPayloads(t *testing.T) {
	t.Parallel()

	stream := "data: not-json\n\ndata: {\"ok\":true}\n\n"
	r := NewReader(strings.NewReader(stream))

	got, err := r.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if string(got) != `{"ok":true}` {
		t.Errorf("expected the valid frame, got %q", got)
	}
	if r.Skipped() != 1 {
		t.Errorf("expected 1 skipped frame, got %d", r.Skipped())
	}
}

func TestReader_IgnoresNonDataFields(t *testing.T) {
	t.Parallel()

	stream := ": keepalive comment\nevent: message\nid: 7\ndata: {\"x\":1}\n\n"
	r := NewReader(strings.NewReader(stream))

	got, err := r.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if string(got) != `{"x":1}` {
		t.Errorf("expected data payload only, got %q", got)
	}
}

func TestWriterReader_RoundTrip(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	w, err := NewWriter(rec)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}

	type event struct {
		Version   string `json:"version"`
		RequestID string `json:"request_id"`
		Type      string `json:"type"`
		Content   string `json:"content,omitempty"`
	}
	sent := []event{
		{Version: "1", RequestID: "r1", Type: "assistant_delta", Content: "Hello"},
		{Version: "1", RequestID: "r1", Type: "assistant_done"},
	}
	for _, ev := range sent {
		if err := w.Send(ev); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
	}

	r := NewReader(&oneByteReader{s: rec.Body.String()})
	for i, want := range sent {
		raw, err := r.Next()
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		var got event
		if err := json.Unmarshal(raw, &got); err != nil {
			t.Fatalf("frame %d decode: %v", i, err)
		}
		if got != want {
			t.Errorf("frame %d: got %+v, want %+v", i, got, want)
		}
	}
}

func ExampleReader() {
	stream := "data: {\"type\":\"assistant_delta\",\"content\":\"hi\"}\r\n\r\n"
	r := NewReader(strings.NewReader(stream))
	payload, _ := r.Next()
	fmt.Println(string(payload))
	// Output: {"type":"assistant_delta","content":"hi"}
}
