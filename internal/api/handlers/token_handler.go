package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/markdave123-py/knosi/internal/core"
)

const tokenTTL = 15 * time.Minute

// TokenIssuer checks API keys and signs bearer tokens.
type TokenIssuer interface {
	Enabled() bool
	CheckAPIKey(key string) bool
	IssueToken(ttl time.Duration) (string, time.Time, error)
}

type TokenHandler struct {
	auth TokenIssuer
	log  *slog.Logger
}

func NewTokenHandler(auth TokenIssuer, log *slog.Logger) *TokenHandler {
	if log == nil {
		log = slog.Default()
	}
	return &TokenHandler{auth: auth, log: log}
}

type tokenResponse struct {
	Token     string    `json:"token"`
	TokenType string    `json:"token_type"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Issue exchanges the X-API-Key header for a short-lived token that EventSource clients pass as ?token=.
func (h *TokenHandler) Issue(w http.ResponseWriter, r *http.Request) {
	if !h.auth.Enabled() {
		writeError(w, h.log, core.ValidationError("authentication is disabled"))
		return
	}
	if !h.auth.CheckAPIKey(r.Header.Get("X-API-Key")) {
		writeError(w, h.log, core.AuthError("Invalid or missing API key"))
		return
	}
	tok, exp, err := h.auth.IssueToken(tokenTTL)
	if err != nil {
		writeError(w, h.log, core.InternalError(err, "could not issue token"))
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Token: tok, TokenType: "Bearer", ExpiresAt: exp})
}
