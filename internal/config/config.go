package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// Server
	Port            int           `envconfig:"PORT" default:"3000"`
	Environment     string        `envconfig:"ENV" default:"development"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`
	MaxBodyBytes    int           `envconfig:"MAX_BODY_BYTES" default:"1048576"`

	// Storage
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	RedisURL    string `envconfig:"REDIS_URL"`

	// Notifications
	NATSURL             string `envconfig:"NATS_URL"`
	NotifyWebhookURL    string `envconfig:"NOTIFY_WEBHOOK_URL"`
	NotifyWebhookSecret string `envconfig:"NOTIFY_WEBHOOK_SECRET"`

	// Security
	QueryAPIKeyHashes []string `envconfig:"QUERY_API_KEY_HASH" required:"true"`
	// vendor:secret,vendor:secret
	WebhookSecrets   map[string]string `envconfig:"WEBHOOK_SECRETS" required:"true"`
	WebhookRateLimit int               `envconfig:"WEBHOOK_RATE_LIMIT" default:"6000"`

	// Processing
	ProcessTimeout      time.Duration `envconfig:"PROCESS_TIMEOUT" default:"5s"`
	RetryMaxAttempts    int           `envconfig:"RETRY_MAX_ATTEMPTS" default:"8"`
	RetryInitialBackoff time.Duration `envconfig:"RETRY_INITIAL_BACKOFF" default:"2s"`
	RetryMaxBackoff     time.Duration `envconfig:"RETRY_MAX_BACKOFF" default:"10m"`

	// Supervisor
	SweepInterval    time.Duration `envconfig:"SWEEP_INTERVAL" default:"30s"`
	SweepBatchSize   int           `envconfig:"SWEEP_BATCH_SIZE" default:"100"`
	SweepConcurrency int           `envconfig:"SWEEP_CONCURRENCY" default:"8"`
	PendingGrace     time.Duration `envconfig:"PENDING_GRACE" default:"1m"`
	BacklogInterval  time.Duration `envconfig:"BACKLOG_INTERVAL" default:"15s"`

	// Alerts; a threshold of 0 disables the rule
	AlertPermanentThreshold int           `envconfig:"ALERT_PERMANENT_THRESHOLD" default:"1"`
	AlertBacklogThreshold   int           `envconfig:"ALERT_BACKLOG_THRESHOLD" default:"500"`
	AlertInterval           time.Duration `envconfig:"ALERT_INTERVAL" default:"1m"`
	AlertCooldown           time.Duration `envconfig:"ALERT_COOLDOWN" default:"15m"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return &cfg, nil
}

// DatabaseConfig is the subset needed by tools that only touch the schema.
type DatabaseConfig struct {
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
}

func LoadDatabase() (*DatabaseConfig, error) {
	var cfg DatabaseConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load database config: %w", err)
	}
	return &cfg, nil
}

// Validate checks what envconfig tags cannot express.
func (c *Config) Validate() error {
	var errs []error

	if len(c.WebhookSecrets) == 0 {
		errs = append(errs, errors.New("WEBHOOK_SECRETS: at least one vendor secret is required"))
	}
	for vendor, secret := range c.WebhookSecrets {
		if strings.TrimSpace(vendor) == "" || strings.TrimSpace(secret) == "" {
			errs = append(errs, fmt.Errorf("WEBHOOK_SECRETS: empty vendor or secret in %q", vendor))
		}
	}

	if len(c.QueryAPIKeyHashes) == 0 {
		errs = append(errs, errors.New("QUERY_API_KEY_HASH: at least one hash is required"))
	}
	for _, h := range c.QueryAPIKeyHashes {
		if !isSHA256Hex(strings.TrimSpace(h)) {
			errs = append(errs, fmt.Errorf("QUERY_API_KEY_HASH: %q is not a hex sha256", h))
		}
	}

	if c.NotifyWebhookURL != "" && c.NotifyWebhookSecret == "" {
		errs = append(errs, errors.New("NOTIFY_WEBHOOK_SECRET is required when NOTIFY_WEBHOOK_URL is set"))
	}

	positive := map[string]int{
		"RETRY_MAX_ATTEMPTS": c.RetryMaxAttempts,
		"SWEEP_BATCH_SIZE":   c.SweepBatchSize,
		"SWEEP_CONCURRENCY":  c.SweepConcurrency,
		"WEBHOOK_RATE_LIMIT": c.WebhookRateLimit,
		"MAX_BODY_BYTES":     c.MaxBodyBytes,
	}
	for name, v := range positive {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, v))
		}
	}

	if c.ProcessTimeout <= 0 || c.SweepInterval <= 0 {
		errs = append(errs, errors.New("PROCESS_TIMEOUT and SWEEP_INTERVAL must be positive"))
	}
	if c.RetryInitialBackoff <= 0 || c.RetryInitialBackoff > c.RetryMaxBackoff {
		errs = append(errs, fmt.Errorf("RETRY_INITIAL_BACKOFF (%s) must be positive and not exceed RETRY_MAX_BACKOFF (%s)",
			c.RetryInitialBackoff, c.RetryMaxBackoff))
	}

	return errors.Join(errs...)
}

// Secrets returns the webhook secrets keyed by lowercased vendor namespace.
func (c *Config) Secrets() map[string][]byte {
	out := make(map[string][]byte, len(c.WebhookSecrets))
	for vendor, secret := range c.WebhookSecrets {
		out[strings.ToLower(strings.TrimSpace(vendor))] = []byte(strings.TrimSpace(secret))
	}
	return out
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func isSHA256Hex(s string) bool {
	if len(s) != 64 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
