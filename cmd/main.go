package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/EasyLZU/EasyLZUMail/cmd/imap"
	api "github.com/EasyLZU/EasyLZUMail/cmd/server"
	"github.com/EasyLZU/EasyLZUMail/cmd/wireframe"
)

// main starts the IMAP server and the status API in parallel and shuts both
// down on Ctrl+C or SIGTERM.
func main() {
	app := wireframe.InitWireframe()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		imap.RunImap(ctx, app)
	}()
	go api.RunHttpApi(ctx, app)

	log.Println("🧩 Services started. Press Ctrl+C to stop.")
	<-ctx.Done()

	log.Println("🛑 Shutting down gracefully...")
	select {
	case <-done:
	case <-time.After(5 * time.Second):
	}
}
