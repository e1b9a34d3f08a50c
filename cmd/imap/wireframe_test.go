package imap

import (
	"testing"

	"github.com/EasyLZU/EasyLZUMail/cmd/handlers"
	"github.com/EasyLZU/EasyLZUMail/cmd/wireframe"
	"github.com/EasyLZU/EasyLZUMail/config"
	"github.com/EasyLZU/EasyLZUMail/internal/core/session"
	"github.com/EasyLZU/EasyLZUMail/internal/core/webmail"
)

func testWireframe(t *testing.T) *wireframe.AppWireframe {
	t.Helper()
	cfg, err := config.FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	registry, err := session.NewRegistry(session.WebmailDialer(webmail.Options{}))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return &wireframe.AppWireframe{
		Config:   cfg,
		Registry: registry,
		Handler:  handlers.NewHandlers(registry, ""),
	}
}
