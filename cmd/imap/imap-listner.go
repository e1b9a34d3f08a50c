package imap

import (
	"context"
	"errors"
	"flag"
	"log"
	"net"

	"github.com/emersion/go-imap/server"
	"github.com/pkg/profile"
	"github.com/sirupsen/logrus"

	"github.com/EasyLZU/EasyLZUMail/cmd/wireframe"
)

var (
	cpuProfileFlag   = flag.Bool("profile-cpu", false, "Enable CPU profiling.")
	memProfileFlag   = flag.Bool("profile-mem", false, "Enable Memory profiling.")
	blockProfileFlag = flag.Bool("profile-lock", false, "Enable lock profiling.")
	profilePathFlag  = flag.String("profile-path", "", "Path where to write profile data.")
)

// NewServer builds the IMAP server for app without starting it.
func NewServer(app *wireframe.AppWireframe) (*server.Server, error) {
	cfg := app.Config
	be := NewBackend(app.Registry, Options{
		AccountPattern: cfg.IMAP.AccountPattern,
		OpTimeout:      cfg.IMAP.OpTimeout,
	})

	s := server.New(be)
	s.Addr = net.JoinHostPort(cfg.IMAP.IMAP_HOST, cfg.IMAP.IMAP_PORT)
	s.ErrorLog = logIMAP
	if cfg.IMAP.Debug {
		s.Debug = logrus.StandardLogger().WriterLevel(logrus.TraceLevel)
	}

	switch {
	case cfg.HasTLS():
		tlsConfig, err := cfg.LoadTLS()
		if err != nil {
			return nil, err
		}
		// without implicit TLS this enables STARTTLS
		s.TLSConfig = tlsConfig
	case cfg.IMAP.IMAP_TLS:
		return nil, errors.New("IMAP_TLS is set but no certificate is configured")
	default:
		logIMAP.Warn("No TLS material configured, accepting plaintext logins")
		s.AllowInsecureAuth = true
	}
	return s, nil
}

// RunImap serves IMAP until ctx is cancelled.
func RunImap(ctx context.Context, app *wireframe.AppWireframe) {
	log.Println("🧩 Starting IMAP server...")

	flag.Parse()
	if *cpuProfileFlag {
		p := profile.Start(profile.CPUProfile, profile.ProfilePath(*profilePathFlag))
		defer p.Stop()
	}

	if *memProfileFlag {
		p := profile.Start(profile.MemProfile, profile.MemProfileAllocs, profile.ProfilePath(*profilePathFlag))
		defer p.Stop()
	}

	if *blockProfileFlag {
		p := profile.Start(profile.BlockProfile, profile.ProfilePath(*profilePathFlag))
		defer p.Stop()
	}

	s, err := NewServer(app)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to create server")
	}

	go func() {
		<-ctx.Done()
		if err := s.Close(); err != nil {
			logIMAP.WithError(err).Error("Failed to close server")
		}
	}()

	logIMAP.WithFields(logrus.Fields{
		"addr":        s.Addr,
		"implicitTLS": app.Config.IMAP.IMAP_TLS,
	}).Info("Server is listening")

	if app.Config.IMAP.IMAP_TLS {
		err = s.ListenAndServeTLS()
	} else {
		err = s.ListenAndServe()
	}
	if err != nil && ctx.Err() == nil {
		logrus.WithError(err).Fatal("Failed to serve")
	}
}
