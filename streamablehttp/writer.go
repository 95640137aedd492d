package streamablehttp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// sseWriter serializes SSE frame writes onto one HTTP response. The mutex
// also covers the response prolog (headers + flush), so a frame can never
// reach the wire ahead of the stream headers. Writes after the request
// context ends fail fast instead of blocking on a dead connection.
type sseWriter struct {
	mu  sync.Mutex
	w   io.Writer
	f   http.Flusher
	ctx context.Context
}

func newSSEWriter(w http.ResponseWriter, ctx context.Context) (*sseWriter, bool) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	return &sseWriter{w: w, f: f, ctx: ctx}, true
}

// writeEvent formats and enqueues one frame: "event: message", an optional
// "id: <eventID>" when resumability stamped one, and the JSON payload as
// "data:". UTF-8 throughout; the payload is JSON and carries no raw
// newlines.
func (sw *sseWriter) writeEvent(eventID string, data []byte) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.writeEventLocked(eventID, data)
}

func (sw *sseWriter) writeEventLocked(eventID string, data []byte) error {
	if err := sw.ctx.Err(); err != nil {
		return fmt.Errorf("failed to write SSE frame: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("event: message\n")
	if eventID != "" {
		fmt.Fprintf(&buf, "id: %s\n", eventID)
	}
	buf.WriteString("data: ")
	buf.Write(data)
	buf.WriteString("\n\n")

	if _, err := sw.w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write SSE frame: %w", err)
	}
	sw.f.Flush()
	return nil
}
