package config

import (
	"log"
	"os"
	"regexp"
	"strconv"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/EasyLZU/EasyLZUMail/internal/core/webmail"
)

// DefaultAccountPattern accepts the university's mailbox addresses.
const DefaultAccountPattern = `^[a-zA-Z0-9]+@lzu\.edu\.cn$`

type ServerConfig struct {
	PORT         string
	IMAP_API_KEY string
}

type IMAPConfig struct {
	IMAP_HOST      string
	IMAP_PORT      string
	IMAP_TLS       bool
	TLS_CERT_FILE  string
	TLS_KEY_FILE   string
	OpTimeout      time.Duration
	Debug          bool
	AccountPattern *regexp.Regexp
}

type WebmailConfig struct {
	BaseURL   string
	Timeout   time.Duration
	Retries   int
	Rate      float64
	Burst     int
	Extractor string
	Timezone  string
}

type Config struct {
	API      ServerConfig
	IMAP     IMAPConfig
	Webmail  WebmailConfig
	LogLevel logrus.Level
}

// GetConfig reads the configuration from the environment, after loading
// .env when one exists.
func GetConfig() Config {
	if err := godotenv.Load(".env"); err != nil {
		log.Println("⚠️ No .env file loaded, using the process environment")
	}
	cfg, err := FromEnv()
	if err != nil {
		log.Fatal("❌ Invalid configuration: ", err)
	}
	log.Println("✅ Config loaded")
	return cfg
}

// FromEnv builds the configuration from environment variables only.
func FromEnv() (Config, error) {
	var p parser
	cfg := Config{
		API: ServerConfig{
			PORT:         getEnv("PORT", "8080"),
			IMAP_API_KEY: os.Getenv("IMAP_API_KEY"),
		},
		IMAP: IMAPConfig{
			IMAP_HOST:     getEnv("IMAP_HOST", "0.0.0.0"),
			IMAP_PORT:     getEnv("IMAP_PORT", "993"),
			IMAP_TLS:      p.bool("IMAP_TLS", true),
			TLS_CERT_FILE: os.Getenv("TLS_CERT_FILE"),
			TLS_KEY_FILE:  os.Getenv("TLS_KEY_FILE"),
			OpTimeout:     p.duration("IMAP_OP_TIMEOUT", 2*time.Minute),
			Debug:         p.bool("IMAP_DEBUG", false),
		},
		Webmail: WebmailConfig{
			BaseURL:   getEnv("WEBMAIL_BASE_URL", webmail.DefaultBaseURL),
			Timeout:   p.duration("WEBMAIL_TIMEOUT", webmail.DefaultTimeout),
			Retries:   p.int("WEBMAIL_RETRIES", webmail.DefaultRetries),
			Rate:      p.float("WEBMAIL_RATE", webmail.DefaultRate),
			Burst:     p.int("WEBMAIL_BURST", webmail.DefaultBurst),
			Extractor: getEnv("WEBMAIL_EXTRACTOR", "regex"),
			Timezone:  getEnv("WEBMAIL_TIMEZONE", "Asia/Shanghai"),
		},
	}
	if p.err != nil {
		return Config{}, p.err
	}

	re, err := regexp.Compile(getEnv("ACCOUNT_PATTERN", DefaultAccountPattern))
	if err != nil {
		return Config{}, err
	}
	cfg.IMAP.AccountPattern = re

	level, err := logrus.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		return Config{}, err
	}
	cfg.LogLevel = level
	return cfg, nil
}

// WebmailOptions converts the webmail section into client options.
func (c *Config) WebmailOptions() (webmail.Options, error) {
	loc, err := time.LoadLocation(c.Webmail.Timezone)
	if err != nil {
		return webmail.Options{}, err
	}
	return webmail.Options{
		BaseURL:   c.Webmail.BaseURL,
		Timeout:   c.Webmail.Timeout,
		Retries:   c.Webmail.Retries,
		Rate:      c.Webmail.Rate,
		Burst:     c.Webmail.Burst,
		Extractor: webmail.ExtractorByName(c.Webmail.Extractor),
		Location:  loc,
	}, nil
}

// getEnv returns the value of the environment variable named by the key.
// If the variable is not set, it returns the fallback value.
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// parser keeps the first conversion error.
type parser struct {
	err error
}

func (p *parser) fail(key string, err error) {
	if p.err == nil {
		p.err = &EnvError{Key: key, Err: err}
	}
}

func (p *parser) bool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, err)
		return fallback
	}
	return b
}

func (p *parser) int(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, err)
		return fallback
	}
	return n
}

func (p *parser) float(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.fail(key, err)
		return fallback
	}
	return f
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, err)
		return fallback
	}
	return d
}

// EnvError reports an environment variable that could not be parsed.
type EnvError struct {
	Key string
	Err error
}

func (e *EnvError) Error() string { return e.Key + ": " + e.Err.Error() }

func (e *EnvError) Unwrap() error { return e.Err }
