package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"

	"github.com/xenking/course-checkout/internal/domain/schedule"
)

// Config holds the complete application configuration, loadable from
// environment variables (CHECKOUT_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (CHECKOUT_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Currency     string `default:"EUR" usage:"Currency for all payments"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing" flag:"api-key-pepper"`
	Payment      PaymentConfig
	Signature    SignatureConfig
	Schedule     ScheduleConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// PaymentConfig controls the payment provider integration.
type PaymentConfig struct {
	WebhookSecret  string        `usage:"Shared secret verifying payment notifications" flag:"payment-webhook-secret"`
	GatewayTimeout time.Duration `default:"10s" usage:"Deadline for outbound provider calls" flag:"payment-gateway-timeout"`
	ChargeWorkers  int           `default:"4" usage:"Parallel zero-click charges in the batch job" flag:"charge-workers"`
}

// SignatureConfig controls the e-signature provider integration.
type SignatureConfig struct {
	WebhookSecret  string        `usage:"Shared secret verifying signature notifications" flag:"signature-webhook-secret"`
	Validity       time.Duration `default:"168h" usage:"How long an unsigned submission stays current" flag:"signature-validity"`
	RecipientEmail string        `usage:"Recipient address for signature invitations" flag:"signature-recipient"`
}

// ScheduleConfig controls installment due dates. The tier table itself is
// fixed in code; see schedule.DefaultConfig.
type ScheduleConfig struct {
	FirstDueDays int `default:"16" usage:"Days between submission and the first installment of a split plan" flag:"first-due-days"`
	IntervalDays int `default:"30" usage:"Days between subsequent installments" flag:"interval-days"`
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
		EnvPrefix: "CHECKOUT",
		Files:     []string{"config.yaml", "/etc/checkout/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set CHECKOUT_DATABASE_URL or DATABASE_URL")
	}

	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's CHECKOUT_-prefixed configuration.
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

// ScheduleCalculatorConfig builds the calculator configuration: the standard
// tier table plus the configured due date offsets.
func (c *Config) ScheduleCalculatorConfig() schedule.Config {
	sc := schedule.DefaultConfig()
	sc.FirstDueDays = c.Schedule.FirstDueDays
	sc.IntervalDays = c.Schedule.IntervalDays
	return sc
}
