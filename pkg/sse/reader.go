package sse

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
)

// Reader reassembles `data:` frames from a raw event stream.
//
// Frames are separated by a blank line. Line endings may be `\n`, `\r\n` or a
// bare `\r`, so all three boundary styles (`\n\n`, `\r\n\r\n`, `\r\r`) are
// recognized, including when a boundary is split across two network reads.
// Frames whose payload is not valid JSON are discarded, never surfaced — a
// malformed event must not kill the stream consumer.
type Reader struct {
	br      *bufio.Reader
	skipped int
}

// NewReader wraps r for frame-by-frame consumption.
func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReader(r)}
}

// Next returns the payload of the next well-formed frame, or io.EOF when the
// stream is exhausted. Invalid frames are skipped and counted.
func (r *Reader) Next() (json.RawMessage, error) {
	for {
		payload, err := r.nextFrame()
		if err != nil {
			return nil, err
		}
		if len(payload) == 0 {
			continue // frame carried no data lines
		}
		if !json.Valid(payload) {
			r.skipped++
			continue
		}
		return json.RawMessage(payload), nil
	}
}

// Skipped reports how many frames were discarded as invalid.
func (r *Reader) Skipped() int {
	return r.skipped
}

// nextFrame accumulates data lines until a blank line (frame boundary) or EOF.
// Multiple data lines in one frame are joined with '\n' per the event-stream
// convention. An EOF that terminates a non-empty frame still yields the frame;
// the following call returns io.EOF.
func (r *Reader) nextFrame() ([]byte, error) {
	var data [][]byte
	sawLine := false

	for {
		line, err := r.readLine()
		if err != nil {
			if err == io.EOF && sawLine {
				break
			}
			return nil, err
		}
		sawLine = true

		if len(line) == 0 {
			if len(data) == 0 {
				// Leading blank line between frames — keep scanning.
				continue
			}
			break
		}

		if value, ok := dataField(line); ok {
			data = append(data, value)
		}
		// Non-data fields (event:, id:, comments) are ignored.
	}

	return bytes.Join(data, []byte{'\n'}), nil
}

// readLine reads one line, treating '\n', '\r\n' and bare '\r' as
// terminators. Returns the line without its terminator.
func (r *Reader) readLine() ([]byte, error) {
	var line []byte
	for {
		b, err := r.br.ReadByte()
		if err != nil {
			if err == io.EOF && len(line) > 0 {
				return line, nil
			}
			return nil, err
		}

		switch b {
		case '\n':
			return line, nil
		case '\r':
			// Swallow a following '\n' (CRLF); a bare '\r' is a terminator too.
			next, peekErr := r.br.Peek(1)
			if peekErr == nil && next[0] == '\n' {
				_, _ = r.br.ReadByte()
			}
			return line, nil
		default:
			line = append(line, b)
		}
	}
}

// dataField extracts the value of a `data:` line, trimming the single
// optional space after the colon.
func dataField(line []byte) ([]byte, bool) {
	if !bytes.HasPrefix(line, []byte("data:")) {
		return nil, false
	}
	value := line[len("data:"):]
	if len(value) > 0 && value[0] == ' ' {
		value = value[1:]
	}
	return value, true
}
