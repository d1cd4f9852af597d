package middleware

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/markdave123-py/knosi/internal/config"
)

const tokenSubject = "knosi"

var errNoCredentials = errors.New("missing credentials")

// Authenticator checks API keys and the short-lived bearer tokens issued in exchange for them.
type Authenticator struct {
	apiKey  string
	keyHash []byte
	secret  []byte
	enabled bool
}

func NewAuthenticator(cfg *config.Config) *Authenticator {
	a := &Authenticator{
		apiKey:  cfg.PlainAPIKey(),
		secret:  []byte(cfg.JWTSecret),
		enabled: cfg.AuthEnabled(),
	}
	if cfg.APIKeyHash != "" {
		a.keyHash = []byte(cfg.APIKeyHash)
	}
	if len(a.secret) == 0 || string(a.secret) == config.InsecureDefaultKey {
		// Tokens then only survive until restart.
		a.secret = make([]byte, 32)
		_, _ = rand.Read(a.secret)
	}
	return a
}

// Enabled reports whether requests must carry credentials.
func (a *Authenticator) Enabled() bool { return a.enabled }

// CheckAPIKey accepts the configured key, or any key matching the configured bcrypt hash.
func (a *Authenticator) CheckAPIKey(key string) bool {
	if key == "" {
		return false
	}
	if a.apiKey != "" && subtle.ConstantTimeCompare([]byte(key), []byte(a.apiKey)) == 1 {
		return true
	}
	if len(a.keyHash) > 0 && bcrypt.CompareHashAndPassword(a.keyHash, []byte(key)) == nil {
		return true
	}
	return false
}

// IssueToken signs an HS256 token valid for ttl.
func (a *Authenticator) IssueToken(ttl time.Duration) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(ttl)
	claims := jwt.RegisteredClaims{
		Subject:   tokenSubject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return tok, exp, nil
}

// CheckToken validates signature, algorithm, expiry and subject.
func (a *Authenticator) CheckToken(tokenStr string) error {
	if tokenStr == "" {
		return errNoCredentials
	}
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithSubject(tokenSubject))
	if err != nil {
		return err
	}
	if !token.Valid {
		return errors.New("invalid token")
	}
	return nil
}

// Authorize checks the credentials carried by r: an X-API-Key header, a bearer token,
// or the api_key / token query parameters used by EventSource clients.
func (a *Authenticator) Authorize(r *http.Request) error {
	if !a.enabled {
		return nil
	}
	key := r.Header.Get("X-API-Key")
	if key == "" {
		key = r.URL.Query().Get("api_key")
	}
	if key != "" {
		if a.CheckAPIKey(key) {
			return nil
		}
		return errors.New("invalid API key")
	}

	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return a.CheckToken(strings.TrimPrefix(auth, "Bearer "))
	}
	return a.CheckToken(r.URL.Query().Get("token"))
}

// Middleware rejects requests that fail Authorize with 401.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := a.Authorize(r); err != nil {
			unauthorized(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="knosi"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"detail": "Invalid or missing API key"})
}
