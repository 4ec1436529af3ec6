package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Storage backends.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Config holds the complete application configuration, loadable from
// environment variables (KART_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	Storage      string `default:"postgres" usage:"Storage backend: postgres or memory"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (KART_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (KART_API_KEY_PEPPER)" flag:"api-key-pepper"`
	Order        OrderConfig
	Sweeper      SweeperConfig
	Notify       NotifyConfig
	Seed         SeedConfig
	RateLimit    RateLimitConfig
	Graceful     GracefulConfig
}

// OrderConfig controls the payment window and the per-operation time budgets.
type OrderConfig struct {
	PaymentWindow time.Duration `default:"24h" usage:"Time a customer has to pay" flag:"payment-window"`
	CreateTimeout time.Duration `default:"3s" usage:"Budget for checkout" flag:"create-timeout"`
	UpdateTimeout time.Duration `default:"2s" usage:"Budget for payment and status updates" flag:"update-timeout"`
	ReadTimeout   time.Duration `default:"2s" usage:"Budget for order reads" flag:"read-timeout"`
}

// SweeperConfig controls the expiration sweeper.
type SweeperConfig struct {
	Interval time.Duration `default:"1h" usage:"Expiration sweep interval" flag:"sweep-interval"`
}

// NotifyConfig controls the notification dispatcher.
type NotifyConfig struct {
	Buffer        int    `default:"256" usage:"Notification buffer size"`
	DedupCapacity uint   `default:"100000" usage:"Expected distinct notification keys"`
	SenderAddress string `default:"orders@kart.local" usage:"From address of notifications" flag:"notify-sender"`
}

// SeedConfig populates the memory backend at startup.
type SeedConfig struct {
	CatalogFile string `default:"db/seed/catalog.json" usage:"Catalog loaded into the memory backend" flag:"seed-catalog"`
	APIKey      string `usage:"Customer API key created in the memory backend" flag:"seed-api-key"`
	CustomerID  int64  `default:"1" usage:"Customer bound to the seeded API key" flag:"seed-customer-id"`
	AdminAPIKey string `usage:"Admin API key created in the memory backend" flag:"seed-admin-api-key"`
	AdminEmail  string `default:"admin@kart.local" usage:"Email of the seeded admin" flag:"seed-admin-email"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window, 0 disables"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "KART",
		Files:     []string{"config.yaml", "/etc/kart/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings that have no usable default.
func (c *Config) Validate() error {
	switch c.Storage {
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return errors.New("database URL is required: set KART_DATABASE_URL or DATABASE_URL")
		}
	case StorageMemory:
	default:
		return errors.Errorf("unknown storage %q: want %s or %s", c.Storage, StoragePostgres, StorageMemory)
	}
	if c.Order.PaymentWindow <= 0 {
		return errors.New("payment window must be positive")
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's KART_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
