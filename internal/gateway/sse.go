// ABOUTME: Server-Sent Events writer for streamed turns and transcript events
// ABOUTME: Splits multi-line payloads into one data line per line

package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// sseWriter writes SSE frames and flushes after each one.
type sseWriter struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

// newSSEWriter sets the SSE headers. The status line is written by start.
func newSSEWriter(w http.ResponseWriter) *sseWriter {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	return &sseWriter{w: w, rc: http.NewResponseController(w)}
}

// start commits the headers so the client sees the stream open.
func (s *sseWriter) start() error {
	s.w.WriteHeader(http.StatusOK)
	return s.flush()
}

// writeData writes an unnamed event carrying text.
func (s *sseWriter) writeData(text string) error {
	return s.writeEvent("", text)
}

// writeEvent writes a named event. An empty name writes a default message event.
func (s *sseWriter) writeEvent(event, text string) error {
	if _, err := fmt.Fprint(s.w, formatSSEEvent(event, text)); err != nil {
		return err
	}
	return s.flush()
}

// writeJSON writes a named event whose data is the JSON encoding of v.
func (s *sseWriter) writeJSON(event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.writeEvent(event, string(data))
}

// writeHeartbeat writes a comment line that keeps idle proxies from closing
// the connection.
func (s *sseWriter) writeHeartbeat() error {
	if _, err := fmt.Fprint(s.w, ": heartbeat\n\n"); err != nil {
		return err
	}
	return s.flush()
}

func (s *sseWriter) flush() error {
	return s.rc.Flush()
}

// formatSSEEvent formats one event. Each line of data becomes its own data
// field so that clients rejoin it with newlines.
func formatSSEEvent(event, data string) string {
	var b strings.Builder
	if event != "" {
		b.WriteString("event: ")
		b.WriteString(event)
		b.WriteByte('\n')
	}
	data = strings.ReplaceAll(data, "\r\n", "\n")
	for _, line := range strings.Split(data, "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	return b.String()
}
