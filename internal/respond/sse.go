package respond

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
)

// SSEWriter writes Server-Sent Events with a named event type, flushing
// after every write so streamed chunks reach the client without buffering
// delay. flush is nil-safe: callers without a flushable writer (tests using
// a plain buffer) just skip flushing.
type SSEWriter struct {
	w     *bufio.Writer
	flush func()
}

func NewSSEWriter(w io.Writer, flush func()) *SSEWriter {
	return &SSEWriter{w: bufio.NewWriter(w), flush: flush}
}

func (s *SSEWriter) Event(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal sse payload: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	if err := s.w.Flush(); err != nil {
		return err
	}
	if s.flush != nil {
		s.flush()
	}
	return nil
}

// DataOnly writes an SSE frame with no named event field, the shape
// OpenAI's streaming API uses (unlike Anthropic's, every frame is just
// `data: <json>`).
func (s *SSEWriter) DataOnly(payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal sse payload: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	if err := s.w.Flush(); err != nil {
		return err
	}
	if s.flush != nil {
		s.flush()
	}
	return nil
}

// Raw writes a pre-formatted SSE line (used for the OpenAI "data: [DONE]"
// terminator, which is not a JSON payload).
func (s *SSEWriter) Raw(line string) error {
	if _, err := fmt.Fprint(s.w, line); err != nil {
		return err
	}
	if err := s.w.Flush(); err != nil {
		return err
	}
	if s.flush != nil {
		s.flush()
	}
	return nil
}
