package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"omnirelay-go/internal/apierr"
	"omnirelay-go/internal/dialect"
)

// sseWriter emits server-sent-event frames with headers written lazily on
// the first frame, so pre-stream failures can still fall back to a plain
// JSON error response.
type sseWriter struct {
	c         *gin.Context
	wroteHead bool
}

func newSSEWriter(c *gin.Context) *sseWriter {
	return &sseWriter{c: c}
}

func (w *sseWriter) head() {
	if w.wroteHead {
		return
	}
	w.wroteHead = true
	h := w.c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.c.Writer.WriteHeader(http.StatusOK)
}

func (w *sseWriter) write(frame []byte) {
	if len(frame) == 0 {
		return
	}
	w.head()
	if _, err := w.c.Writer.Write(frame); err != nil {
		return
	}
	w.c.Writer.Flush()
}

func (w *sseWriter) frames(frames [][]byte) {
	for _, f := range frames {
		w.write(f)
	}
}

// errorFrame renders a mid-stream error as one SSE frame in the client's
// dialect.
func errorFrame(d dialect.Dialect, e *apierr.APIError) []byte {
	payload, err := json.Marshal(e.Render(apiDialect(d)))
	if err != nil {
		return nil
	}
	if d == dialect.Anthropic {
		return []byte("event: error\ndata: " + string(payload) + "\n\n")
	}
	return []byte("data: " + string(payload) + "\n\n")
}
