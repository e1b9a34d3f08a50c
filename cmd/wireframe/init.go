package wireframe

import (
	"log"

	"github.com/sirupsen/logrus"

	"github.com/EasyLZU/EasyLZUMail/cmd/handlers"
	"github.com/EasyLZU/EasyLZUMail/config"
	"github.com/EasyLZU/EasyLZUMail/internal/core/session"
)

type AppWireframe struct {
	Config   config.Config
	Registry *session.Registry
	Handler  *handlers.Handlers
}

// InitWireframe loads the configuration and builds the session registry
// and the status API handlers on top of it. Invalid configuration is fatal.
func InitWireframe() *AppWireframe {
	cfg := config.GetConfig()
	logrus.SetLevel(cfg.LogLevel)

	opts, err := cfg.WebmailOptions()
	if err != nil {
		log.Fatal("❌ Invalid webmail configuration: ", err)
	}
	registry, err := session.NewRegistry(session.WebmailDialer(opts))
	if err != nil {
		log.Fatal("❌ Failed to create session registry: ", err)
	}

	return &AppWireframe{
		Config:   cfg,
		Registry: registry,
		Handler:  handlers.NewHandlers(registry, cfg.API.IMAP_API_KEY),
	}
}
