package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (SHOP_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (SHOP_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	// PublicBaseURL is the externally reachable base URL used to build
	// gateway callback URLs.
	PublicBaseURL string `default:"http://localhost:8080" usage:"Externally reachable base URL" flag:"public-base-url"`
	// PaymentReturnURL is where gateways send the customer's browser after
	// paying.
	PaymentReturnURL string `default:"http://localhost:8080/payment/return" usage:"Post-payment browser return URL" flag:"payment-return-url"`
	JWTSecret        string `usage:"HS256 secret for bearer tokens (SHOP_JWT_SECRET)" flag:"jwt-secret"`

	Card      GatewayConfig
	Wallet    GatewayConfig
	Checkout  CheckoutConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Graceful  GracefulConfig
}

// GatewayConfig holds the connection settings for one payment provider.
type GatewayConfig struct {
	BaseURL string        `usage:"Provider API base URL"`
	APIKey  string        `usage:"Provider API key" flag:"api-key"`
	Secret  string        `usage:"HMAC secret for callback signatures"`
	Timeout time.Duration `default:"10s" usage:"Provider HTTP timeout"`
}

// CheckoutConfig bounds the order-creation transaction.
type CheckoutConfig struct {
	AcquireTimeout time.Duration `default:"2s"  usage:"Max wait for a transactional connection" flag:"acquire-timeout"`
	ExecTimeout    time.Duration `default:"10s" usage:"Max transaction execution time" flag:"exec-timeout"`
	// ExpectedOrders sizes the order-reference Bloom filter.
	ExpectedOrders uint `default:"1000000" usage:"Expected order volume for reference generation" flag:"expected-orders"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
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

// LoadConfig loads configuration from environment variables, YAML config
// files, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "SHOP",
		Files:     []string{"config.yaml", "/etc/shop/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set SHOP_DATABASE_URL or DATABASE_URL")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT secret is required: set SHOP_JWT_SECRET")
	}

	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables
// (Railway, Render, etc.) that use standard names like DATABASE_URL and PORT
// to the application's SHOP_-prefixed configuration.
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
