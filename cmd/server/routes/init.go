package routes

import (
	"net/http"

	"github.com/EasyLZU/EasyLZUMail/cmd/handlers"
)

func InitRoutes(h *handlers.Handlers) *http.ServeMux {
	mux := http.NewServeMux()
	sessions := h.SessionHandler

	mux.HandleFunc("/api/imap/status", sessions.Protect(sessions.Status))
	mux.HandleFunc("/api/imap/sessions/evict", sessions.Protect(sessions.Evict))

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return mux
}
