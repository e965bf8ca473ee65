package config

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Sync modes. Only "live" mirrors grants to the platform; "dry" keeps the
// local ledger authoritative without any outbound score writes.
const (
	SyncModeLive = "live"
	SyncModeDry  = "dry"
)

// ArchiveConfig holds the optional S3-compatible bucket used to archive
// season close-out snapshots. An empty bucket disables archiving.
type ArchiveConfig struct {
	AccountID       string
	AccessKeyID     string
	AccessKeySecret string
	Bucket          string
}

func (a ArchiveConfig) Enabled() bool {
	return a.Bucket != ""
}

// Config is the full environment-backed configuration, constructed once in
// main and passed into every component.
type Config struct {
	DatabaseURL     string
	ListenAddr      string
	PlatformBaseURL string
	PlatformToken   string
	ServiceToken    string
	SyncMode        string
	StateDir        string

	// TestAccountLogins are campus test accounts excluded from scoring.
	TestAccountLogins []string

	Archive ArchiveConfig
}

// LiveSync reports whether grants should be mirrored to the platform.
func (c *Config) LiveSync() bool {
	return c.SyncMode == SyncModeLive
}

// IsTestAccount reports whether login is a configured test account.
func (c *Config) IsTestAccount(login string) bool {
	for _, l := range c.TestAccountLogins {
		if l == login {
			return true
		}
	}
	return false
}

// Load reads configuration from the environment, optionally seeded from a
// .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	cfg := &Config{
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		ListenAddr:      getenvDefault("LISTEN_ADDR", ":5300"),
		PlatformBaseURL: os.Getenv("PLATFORM_BASE_URL"),
		PlatformToken:   os.Getenv("PLATFORM_TOKEN"),
		ServiceToken:    os.Getenv("SERVICE_TOKEN"),
		SyncMode:        getenvDefault("SYNC_MODE", SyncModeDry),
		StateDir:        getenvDefault("STATE_DIR", "./state"),
		Archive: ArchiveConfig{
			AccountID:       os.Getenv("CLOUDFLARE_ACCOUNT_ID"),
			AccessKeyID:     os.Getenv("R2_ACCESS_KEY_ID"),
			AccessKeySecret: os.Getenv("R2_ACCESS_KEY_SECRET"),
			Bucket:          os.Getenv("R2_BUCKET_NAME"),
		},
	}

	if logins := os.Getenv("TEST_ACCOUNT_LOGINS"); logins != "" {
		for _, l := range strings.Split(logins, ",") {
			if l = strings.TrimSpace(l); l != "" {
				cfg.TestAccountLogins = append(cfg.TestAccountLogins, l)
			}
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable not set")
	}
	if cfg.PlatformBaseURL == "" {
		return nil, fmt.Errorf("PLATFORM_BASE_URL environment variable not set")
	}
	if cfg.ServiceToken == "" {
		return nil, fmt.Errorf("SERVICE_TOKEN environment variable not set")
	}
	if cfg.SyncMode != SyncModeLive && cfg.SyncMode != SyncModeDry {
		return nil, fmt.Errorf("SYNC_MODE must be %q or %q, got %q", SyncModeLive, SyncModeDry, cfg.SyncMode)
	}

	return cfg, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
