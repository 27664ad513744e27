// ABOUTME: Tests for SSE event formatting and the SSE writer
// ABOUTME: Checks multi-line splitting and named events

package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatSSEEvent(t *testing.T) {
	tests := []struct {
		name  string
		event string
		data  string
		want  string
	}{
		{"plain", "", "hello", "data: hello\n\n"},
		{"named", "error", "boom", "event: error\ndata: boom\n\n"},
		{"multi-line", "", "a\nb", "data: a\ndata: b\n\n"},
		{"crlf", "", "a\r\nb", "data: a\ndata: b\n\n"},
		{"trailing newline", "", "a\n", "data: a\ndata: \n\n"},
		{"empty", "", "", "data: \n\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatSSEEvent(tt.event, tt.data); got != tt.want {
				t.Errorf("formatSSEEvent(%q, %q) = %q, want %q", tt.event, tt.data, got, tt.want)
			}
		})
	}
}

func TestSSEWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	sse := newSSEWriter(rec)

	require.NoError(t, sse.start())
	require.NoError(t, sse.writeData("hi"))
	require.NoError(t, sse.writeJSON("message", map[string]string{"role": "user"}))
	require.NoError(t, sse.writeHeartbeat())

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.True(t, rec.Flushed)
	assert.Equal(t,
		"data: hi\n\nevent: message\ndata: {\"role\":\"user\"}\n\n: heartbeat\n\n",
		rec.Body.String())
}

func TestSSEWriterRejectsUnencodableJSON(t *testing.T) {
	sse := newSSEWriter(httptest.NewRecorder())
	assert.Error(t, sse.writeJSON("message", make(chan int)))
}
