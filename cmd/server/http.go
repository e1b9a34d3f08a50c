package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/EasyLZU/EasyLZUMail/cmd/server/routes"
	"github.com/EasyLZU/EasyLZUMail/cmd/wireframe"
)

// RunHttpApi serves the status API on PORT until ctx is cancelled.
func RunHttpApi(ctx context.Context, app *wireframe.AppWireframe) {
	mux := routes.InitRoutes(app.Handler)

	port := ":" + app.Config.API.PORT
	server := &http.Server{
		Addr:              port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Println("🚀 HTTP API running on", port)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("❌ HTTP server failed: %v", err)
	}
}
