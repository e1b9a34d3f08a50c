package config

import (
	"crypto/tls"
	"errors"
)

// ErrNoTLSMaterial is returned when no certificate pair is configured.
var ErrNoTLSMaterial = errors.New("TLS_CERT_FILE and TLS_KEY_FILE are not set")

func (c *Config) HasTLS() bool {
	return c.IMAP.TLS_CERT_FILE != "" && c.IMAP.TLS_KEY_FILE != ""
}

func (c *Config) LoadTLS() (*tls.Config, error) {
	if !c.HasTLS() {
		return nil, ErrNoTLSMaterial
	}
	cert, err := tls.LoadX509KeyPair(c.IMAP.TLS_CERT_FILE, c.IMAP.TLS_KEY_FILE)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}
