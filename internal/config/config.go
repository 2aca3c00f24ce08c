package config

import (
	"fmt"
	"os"
	"time"
)

// Engine tuning. These values are part of the documented sync behavior and
// are deliberately not configurable per deployment.
const (
	// StartupDelay spaces out listener starts so a restart with many
	// accounts does not open all provider connections at once.
	StartupDelay = 1500 * time.Millisecond

	// ReconnectBase and ReconnectMax bound the supervisor's exponential
	// reconnect backoff.
	ReconnectBase = 5 * time.Second
	ReconnectMax  = 60 * time.Second

	// PollInterval is both the IMAP idle fallback timer and the Graph
	// delta inter-cycle sleep.
	PollInterval = 30 * time.Second

	// AlignScanBatch is the UID window fetched per round while resolving
	// the emails_since threshold to a cursor. ResolveScanBatch is the
	// sequence window used by the Message-ID lookup endpoint.
	AlignScanBatch   = 500
	ResolveScanBatch = 500

	// StoreTimeout bounds each cursor persistence call.
	StoreTimeout = 10 * time.Second

	// DedupTTL and DedupMaxEntries bound the feed provider's
	// already-forwarded cache.
	DedupTTL        = 24 * time.Hour
	DedupMaxEntries = 10000
)

// Config is the process configuration, read once at startup from the
// environment.
type Config struct {
	// Account/cursor store. StoreURL+StoreServiceKey select the REST
	// store; SQLitePath selects the embedded store when StoreURL is
	// unset. One of the two must be present.
	StoreURL        string
	StoreServiceKey string
	SQLitePath      string

	// Delivery sink. WebhookURL may be empty, in which case every
	// forward is a logged no-op failure. NATSURL switches delivery to
	// JetStream instead.
	WebhookURL string
	NATSURL    string

	// Client credential shared by all Graph feed accounts.
	GraphClientID     string
	GraphClientSecret string

	// HTTP action surface.
	ListenAddr string
	JWKSURL    string
}

// Load reads the process configuration. It fails only on combinations the
// process cannot run with; degraded-but-runnable settings (missing sink
// URL) are handled by the components that own them.
func Load() (*Config, error) {
	cfg := &Config{
		StoreURL:          os.Getenv("STORE_URL"),
		StoreServiceKey:   os.Getenv("STORE_SERVICE_KEY"),
		SQLitePath:        os.Getenv("STORE_SQLITE_PATH"),
		WebhookURL:        os.Getenv("SINK_WEBHOOK_URL"),
		NATSURL:           os.Getenv("SINK_NATS_URL"),
		GraphClientID:     os.Getenv("OUTLOOK_CLIENT_ID"),
		GraphClientSecret: os.Getenv("OUTLOOK_CLIENT_SECRET"),
		ListenAddr:        ":" + envOr("WORKER_PORT", "3005"),
		JWKSURL:           os.Getenv("API_JWKS_URL"),
	}

	if cfg.StoreURL == "" && cfg.SQLitePath == "" {
		return nil, fmt.Errorf("missing required env: STORE_URL or STORE_SQLITE_PATH")
	}
	if cfg.StoreURL != "" && cfg.StoreServiceKey == "" {
		return nil, fmt.Errorf("missing required env: STORE_SERVICE_KEY")
	}

	return cfg, nil
}

func envOr(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

// ParseSince parses an account's emails_since threshold. The store hands
// timestamps back in a few shapes depending on how the column was written,
// so several layouts are accepted. Unparseable or empty values mean "no
// threshold".
func ParseSince(value string) *time.Time {
	if value == "" {
		return nil
	}
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, value); err == nil {
			return &t
		}
	}
	return nil
}
