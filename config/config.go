// config/config.go
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the process configuration, read from the environment after .env is loaded.
type Config struct {
	Port           string
	DatabaseURL    string
	ServiceToken   string // shared secret presented by the gateway
	AllowedOrigins []string

	AuthServiceURL         string
	SubscriptionServiceURL string
	PremiumPollInterval    time.Duration

	R2AccountID     string
	R2AccessKeyID   string
	R2AccessSecret  string
	R2Bucket        string
	ArchiveDisabled bool

	DispatchShards int
	DispatchInbox  int

	BalanceFile string
	Balance     Balance
}

// Default returns a configuration usable for local runs and tests.
func Default() Config {
	return Config{
		Port:                "5200",
		AllowedOrigins:      []string{"http://localhost:3000"},
		PremiumPollInterval: 30 * time.Second,
		DispatchShards:      16,
		DispatchInbox:       256,
		Balance:             DefaultBalance(),
	}
}

// Load reads .env (if present) and the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Warn("⚠️  No .env file found, reading environment variables directly")
	}

	cfg := Default()
	cfg.Port = envOr("PORT", cfg.Port)
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.ServiceToken = os.Getenv("GAME_SERVICE_TOKEN")
	cfg.AuthServiceURL = os.Getenv("AUTH_SERVICE_URL")
	cfg.SubscriptionServiceURL = os.Getenv("SUBSCRIPTION_SERVICE_URL")

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = cfg.AllowedOrigins[:0]
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
			}
		}
	}

	cfg.R2AccountID = os.Getenv("CLOUDFLARE_ACCOUNT_ID")
	cfg.R2AccessKeyID = os.Getenv("R2_ACCESS_KEY_ID")
	cfg.R2AccessSecret = os.Getenv("R2_ACCESS_KEY_SECRET")
	cfg.R2Bucket = os.Getenv("R2_BUCKET_NAME")
	cfg.ArchiveDisabled = cfg.R2Bucket == ""

	var err error
	if cfg.DispatchShards, err = envInt("DISPATCH_SHARDS", cfg.DispatchShards); err != nil {
		return cfg, err
	}
	if cfg.DispatchInbox, err = envInt("DISPATCH_INBOX", cfg.DispatchInbox); err != nil {
		return cfg, err
	}
	if v := os.Getenv("PREMIUM_POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("PREMIUM_POLL_INTERVAL: %w", err)
		}
		cfg.PremiumPollInterval = d
	}

	cfg.BalanceFile = os.Getenv("PROGRESSION_BALANCE_FILE")
	if cfg.BalanceFile != "" {
		b, err := LoadBalance(cfg.BalanceFile)
		if err != nil {
			return cfg, err
		}
		cfg.Balance = b
	}

	return cfg, nil
}

// Validate checks the settings the serve command cannot run without.
func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL environment variable not set")
	}
	if c.ServiceToken == "" {
		return fmt.Errorf("GAME_SERVICE_TOKEN is not set, service cannot authenticate gateway")
	}
	if c.DispatchShards < 1 || c.DispatchInbox < 1 {
		return fmt.Errorf("dispatch shards and inbox must be positive (got %d/%d)", c.DispatchShards, c.DispatchInbox)
	}
	return c.Balance.Validate()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
