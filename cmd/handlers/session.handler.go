package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/EasyLZU/EasyLZUMail/internal/utils/redact"
)

var logAPI = logrus.WithField("pkg", "server/api") //nolint:gochecknoglobals

// SessionStore is the view of the session registry the API exposes.
type SessionStore interface {
	ActiveCount() int
	Accounts() []string
	DroppedMessages() int64
	EvictAccount(account string) int
}

type SessionHandler struct {
	store   SessionStore
	apiKey  string // Simple API key for authentication
	limiter *rate.Limiter
}

// NewSessionHandler creates the handler of the session endpoints. With an
// empty apiKey the protected endpoints always answer 403.
func NewSessionHandler(store SessionStore, apiKey string) *SessionHandler {
	return &SessionHandler{
		store:   store,
		apiKey:  apiKey,
		limiter: rate.NewLimiter(10, 50), // 10 req/sec, burst of 50
	}
}

// Protect wraps next with the API key check and the rate limiter.
func (h *SessionHandler) Protect(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.limiter.Allow() {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		key := r.Header.Get("X-API-Key")
		if h.apiKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(h.apiKey)) != 1 {
			logAPI.WithField("remote", r.RemoteAddr).Warn("Rejected API request with a bad key")
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next(w, r)
	}
}

type statusResponse struct {
	ActiveSessions  int      `json:"activeSessions"`
	Accounts        []string `json:"accounts"`
	DroppedMessages int64    `json:"droppedMessages"`
}

// Status reports the cached upstream sessions with masked accounts.
func (h *SessionHandler) Status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		ActiveSessions:  h.store.ActiveCount(),
		Accounts:        h.store.Accounts(),
		DroppedMessages: h.store.DroppedMessages(),
	})
}

type evictResponse struct {
	Evicted int `json:"evicted"`
}

// Evict drops every cached session of the account query parameter.
func (h *SessionHandler) Evict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	account := r.URL.Query().Get("account")
	if account == "" {
		http.Error(w, "missing account", http.StatusBadRequest)
		return
	}
	n := h.store.EvictAccount(account)
	logAPI.WithFields(logrus.Fields{"account": redact.MaskEmail(account), "evicted": n}).Info("Sessions evicted through the API")
	writeJSON(w, http.StatusOK, evictResponse{Evicted: n})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logAPI.WithError(err).Error("Failed to write response")
	}
}
