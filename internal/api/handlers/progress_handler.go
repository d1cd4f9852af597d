package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/markdave123-py/knosi/internal/core"
	"github.com/markdave123-py/knosi/internal/core/progress"
)

type ProgressHandler struct {
	hub       *progress.Hub
	keepalive time.Duration
	log       *slog.Logger
}

func NewProgressHandler(hub *progress.Hub, keepalive time.Duration, log *slog.Logger) *ProgressHandler {
	if log == nil {
		log = slog.Default()
	}
	if keepalive <= 0 {
		keepalive = 30 * time.Second
	}
	return &ProgressHandler{hub: hub, keepalive: keepalive, log: log}
}

// Stream relays the status updates of one upload as server-sent events until a terminal status
// has been sent or the client disconnects.
func (h *ProgressHandler) Stream(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, h.log, core.InternalError(nil, "streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := h.hub.Subscribe(jobID)
	defer h.hub.Unsubscribe(jobID, sub)
	h.log.Info("progress client connected", "job_id", jobID)
	defer h.log.Info("progress client disconnected", "job_id", jobID)

	for {
		ev, ok, err := sub.Next(r.Context(), h.keepalive)
		if err != nil {
			return
		}
		if !ok {
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
			continue
		}
		if _, err := fmt.Fprintf(w, "event: progress\ndata: %s\n\n", oneLine(ev.Status)); err != nil {
			return
		}
		flusher.Flush()
		if ev.Terminal() {
			return
		}
	}
}

// oneLine keeps a status inside a single SSE data field.
func oneLine(s string) string {
	return strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(s)
}
