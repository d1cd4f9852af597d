package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/markdave123-py/knosi/internal/core"
	"github.com/markdave123-py/knosi/internal/services"
)

type ChatHandler struct {
	retrieval *services.RetrievalService
	log       *slog.Logger
}

func NewChatHandler(retrieval *services.RetrievalService, log *slog.Logger) *ChatHandler {
	if log == nil {
		log = slog.Default()
	}
	return &ChatHandler{retrieval: retrieval, log: log}
}

type chatRequest struct {
	Message        string `json:"message"`
	IncludeSources *bool  `json:"include_sources"`
}

func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.log, core.ValidationError("invalid request body"))
		return
	}
	includeSources := req.IncludeSources == nil || *req.IncludeSources

	answer, err := h.retrieval.Chat(r.Context(), req.Message, includeSources)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, answer)
}

// Search serves GET /search?q=...&limit=...
func (h *ChatHandler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, h.log, core.ValidationError("limit must be an integer"))
			return
		}
		limit = n
	}

	hits, err := h.retrieval.Search(r.Context(), q.Get("q"), limit)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, hits)
}
