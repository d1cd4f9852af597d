package handlers

import (
	"log/slog"
	"net/http"

	"github.com/markdave123-py/knosi/internal/services"
)

// Version is reported by the root endpoint.
const Version = "1.0.0"

type StatusHandler struct {
	docs *services.DocumentService
	log  *slog.Logger
}

func NewStatusHandler(docs *services.DocumentService, log *slog.Logger) *StatusHandler {
	if log == nil {
		log = slog.Default()
	}
	return &StatusHandler{docs: docs, log: log}
}

func (h *StatusHandler) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"name":    "Knosi",
		"version": Version,
		"status":  "/api/status",
	})
}

type statusResponse struct {
	Status        string `json:"status"`
	DocumentCount int    `json:"document_count"`
	ChunkCount    int    `json:"chunk_count"`
}

func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	stats, err := h.docs.Stats(r.Context())
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok", DocumentCount: stats.DocumentCount, ChunkCount: stats.ChunkCount})
}
