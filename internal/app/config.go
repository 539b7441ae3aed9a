package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds the complete application configuration, loadable from
// environment variables (SHOP_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (SHOP_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Auth        AuthConfig
	Delivery    DeliveryConfig
	Notify      NotifyConfig
	Idempotency IdempotencyConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	Graceful    GracefulConfig
}

// AuthConfig holds the bearer token settings shared with the auth service.
type AuthConfig struct {
	JWTSecret string        `usage:"HMAC secret for HS256 bearer tokens (SHOP_AUTH_JWT_SECRET)" flag:"jwt-secret"`
	TokenTTL  time.Duration `default:"24h" usage:"Lifetime of tokens issued by seed-db" flag:"token-ttl"`
}

// DeliveryConfig sets the delivery fee applied to every order.
type DeliveryConfig struct {
	Fee string `default:"200.00" usage:"Flat delivery fee" flag:"delivery-fee"`
}

// NotifyConfig controls order confirmation events. Without brokers events
// are only logged.
type NotifyConfig struct {
	Brokers   []string      `usage:"Kafka bootstrap brokers" flag:"kafka-brokers"`
	Topic     string        `default:"storefront.orders" usage:"Kafka topic for order events" flag:"kafka-topic"`
	QueueSize int           `default:"1024" usage:"Pending notification queue size" flag:"notify-queue"`
	Timeout   time.Duration `default:"5s" usage:"Per-event delivery timeout" flag:"notify-timeout"`
}

// IdempotencyConfig enables Idempotency-Key support when Addr is set.
type IdempotencyConfig struct {
	Addr     string        `usage:"Redis address for idempotency keys" flag:"redis-addr"`
	Password string        `usage:"Redis password" flag:"redis-password"`
	DB       int           `default:"0" usage:"Redis database" flag:"redis-db"`
	TTL      time.Duration `default:"24h" usage:"How long responses are replayed" flag:"idempotency-ttl"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max      int           `default:"100" usage:"Max read requests per window"`
	WriteMax int           `default:"30" usage:"Max write requests per window, 0 shares the read budget" flag:"rate-limit-write-max"`
	Window   time.Duration `default:"1m" usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads an optional .env file, then configuration from
// environment variables and YAML config files, and applies platform defaults.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, errors.Wrap(err, "load .env")
	}

	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "SHOP",
		Files:     []string{"config.yaml", "/etc/storefront/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set SHOP_DATABASE_URL or DATABASE_URL")
	}
	if len(c.Auth.JWTSecret) < 32 {
		return errors.New("SHOP_AUTH_JWT_SECRET must be at least 32 bytes")
	}
	if _, err := c.DeliveryFee(); err != nil {
		return err
	}
	return nil
}

// DeliveryFee parses the configured flat fee.
func (c *Config) DeliveryFee() (decimal.Decimal, error) {
	fee, err := decimal.NewFromString(c.Delivery.Fee)
	if err != nil {
		return decimal.Decimal{}, errors.Wrapf(err, "parse delivery fee %q", c.Delivery.Fee)
	}
	if fee.IsNegative() {
		return decimal.Decimal{}, errors.Errorf("delivery fee %s is negative", fee)
	}
	return fee, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's SHOP_-prefixed configuration.
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
