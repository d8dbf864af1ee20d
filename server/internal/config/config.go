// Package config handles server configuration loading and validation.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// knownWeakSecrets is a blocklist of secrets that must never be used in production.
var knownWeakSecrets = map[string]bool{
	"local-dev-secret-for-testing-only-32chars!": true,
	"changeme": true,
	"secret":   true,
}

// GenerateRandomSecret returns a cryptographically random 64-character hex string
// suitable for use as a session signing secret.
func GenerateRandomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Config is the top-level server configuration. Values come from an optional
// JSON file and are then overridden by environment variables.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Auth      AuthConfig      `json:"auth"`
	Storage   StorageConfig   `json:"storage"`
	Billing   BillingConfig   `json:"billing"`
	Generator GeneratorConfig `json:"generator,omitempty"`
	Mail      MailConfig      `json:"mail,omitempty"`
	Logging   LoggingConfig   `json:"logging"`
	RateLimit RateLimitConfig `json:"rate_limit,omitempty"`
}

// ServerConfig defines the listener settings.
type ServerConfig struct {
	Addr           string   `json:"addr,omitempty"`                                             // e.g. ":3000"
	Port           int      `json:"port,omitempty" env:"PORT"`                                  // overrides Addr when set
	Environment    string   `json:"environment,omitempty" env:"APP_ENV"`                        // "development" or "production"
	AllowedOrigins []string `json:"allowed_origins,omitempty" env:"TRUSTED_ORIGINS" envSeparator:","` // CORS origins, credentials allowed
	ClientURL      string   `json:"client_url,omitempty" env:"CLIENT_URL"`                      // base URL of the web client
	TLSCert        string   `json:"tls_cert,omitempty"`
	TLSKey         string   `json:"tls_key,omitempty"`
	MaxBodyBytes   int64    `json:"max_body_bytes,omitempty"` // default 1MB
}

// AuthConfig defines authentication settings.
type AuthConfig struct {
	Provider      string        `json:"provider,omitempty" env:"AUTH_PROVIDER"` // "builtin" (default) or "clerk"
	Secret        string        `json:"secret,omitempty" env:"AUTH_SECRET"`
	BaseURL       string        `json:"base_url,omitempty" env:"AUTH_URL"`
	SessionExpiry Duration      `json:"session_expiry,omitempty" env:"AUTH_SESSION_EXPIRY"`
	CookieName    string        `json:"cookie_name,omitempty"`
	ClerkIssuer   string        `json:"clerk_issuer,omitempty" env:"CLERK_ISSUER"`
	SignupCredits int           `json:"signup_credits,omitempty" env:"SIGNUP_CREDITS"`
	InitialAdmin  *InitialAdmin `json:"initial_admin,omitempty"`
}

// InitialAdmin is used to bootstrap the first admin user.
type InitialAdmin struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
}

// StorageConfig defines database settings.
type StorageConfig struct {
	Driver         string   `json:"driver,omitempty" env:"DATABASE_DRIVER"` // "sqlite" (default) or "postgres"
	DSN            string   `json:"dsn,omitempty" env:"DATABASE_URL"`       // e.g. "sitesmith.db" or "postgres://..."
	AuditRetention Duration `json:"audit_retention,omitempty"`
}

// BillingConfig defines the payment provider and the credit plan catalog.
type BillingConfig struct {
	Provider    string       `json:"provider,omitempty" env:"BILLING_PROVIDER"` // "stripe" (default) or "paddle"
	Currency    string       `json:"currency,omitempty"`
	ProjectCost int          `json:"project_cost,omitempty" env:"PROJECT_CREDIT_COST"`
	SuccessURL  string       `json:"success_url,omitempty" env:"BILLING_SUCCESS_URL"`
	CancelURL   string       `json:"cancel_url,omitempty" env:"BILLING_CANCEL_URL"`
	Plans       []PlanConfig `json:"plans,omitempty"`

	StripeSecretKey     string `json:"stripe_secret_key,omitempty" env:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `json:"stripe_webhook_secret,omitempty" env:"STRIPE_WEBHOOK_SECRET"`
	StripeAPIURL        string `json:"stripe_api_url,omitempty" env:"STRIPE_API_URL"` // stripe-mock or proxy

	PaddleAPIKey        string `json:"paddle_api_key,omitempty" env:"PADDLE_API_KEY"`
	PaddleWebhookSecret string `json:"paddle_webhook_secret,omitempty" env:"PADDLE_WEBHOOK_SECRET"`
	PaddleEnvironment   string `json:"paddle_environment,omitempty" env:"PADDLE_ENVIRONMENT"` // "production" or "sandbox"
	PaddleCheckoutURL   string `json:"paddle_checkout_url,omitempty" env:"PADDLE_CHECKOUT_URL"`
}

// PlanConfig is one entry of the credit plan catalog.
type PlanConfig struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Price         int64    `json:"price"` // minor units
	Credits       int      `json:"credits"`
	Description   string   `json:"description,omitempty"`
	Features      []string `json:"features,omitempty"`
	StripePriceID string   `json:"stripe_price_id,omitempty"`
	PaddlePriceID string   `json:"paddle_price_id,omitempty"`
}

// GeneratorConfig selects the site generator backend.
type GeneratorConfig struct {
	Provider string   `json:"provider,omitempty" env:"GENERATOR_PROVIDER"` // "openai" or "static"
	APIKey   string   `json:"api_key,omitempty" env:"OPENAI_API_KEY"`
	BaseURL  string   `json:"base_url,omitempty" env:"OPENAI_BASE_URL"`
	Model    string   `json:"model,omitempty" env:"OPENAI_MODEL"`
	Timeout  Duration `json:"timeout,omitempty" env:"GENERATOR_TIMEOUT"`
}

// MailConfig defines transactional email settings.
type MailConfig struct {
	Provider             string `json:"provider,omitempty" env:"MAIL_PROVIDER"` // "postmark" or "log"
	PostmarkServerToken  string `json:"postmark_server_token,omitempty" env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string `json:"postmark_account_token,omitempty" env:"POSTMARK_ACCOUNT_TOKEN"`
	From                 string `json:"from,omitempty" env:"MAIL_FROM"`
	ReplyTo              string `json:"reply_to,omitempty" env:"MAIL_REPLY_TO"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level  string `json:"level,omitempty" env:"LOG_LEVEL"`
	Format string `json:"format,omitempty" env:"LOG_FORMAT"` // "json" or "text"
}

// RateLimitConfig defines rate limiting settings.
type RateLimitConfig struct {
	RequestsPerSecond float64 `json:"requests_per_second,omitempty"` // default 10
	Burst             int     `json:"burst,omitempty"`               // default 20
}

// Duration is a JSON and environment friendly time.Duration.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case string:
		dur, err := time.ParseDuration(val)
		if err != nil {
			return err
		}
		d.Duration = dur
	case float64:
		d.Duration = time.Duration(val) * time.Second
	default:
		return fmt.Errorf("invalid duration: %v", v)
	}
	return nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	dur, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = dur
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// IsProduction reports whether the server runs with APP_ENV=production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Server.Environment, "production")
}

// LoadDotEnv loads a .env file from the working directory unless APP_ENV is
// production. A missing file is not an error.
func LoadDotEnv() error {
	if strings.EqualFold(os.Getenv("APP_ENV"), "production") {
		return nil
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// Load reads an optional config file, applies environment overrides and
// validates the result. An empty path configures the server from the
// environment alone.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	cfg.normalize()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) normalize() {
	if c.Server.Port != 0 {
		c.Server.Addr = fmt.Sprintf(":%d", c.Server.Port)
	}

	origins := c.Server.AllowedOrigins[:0]
	for _, o := range c.Server.AllowedOrigins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o != "" {
			origins = append(origins, o)
		}
	}
	c.Server.AllowedOrigins = origins

	if c.Storage.Driver == "" {
		dsn := strings.ToLower(c.Storage.DSN)
		if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
			c.Storage.Driver = "postgres"
		}
	}

	if a := c.Auth.InitialAdmin; a != nil && a.Email == "" {
		c.Auth.InitialAdmin = nil
	}
}

func (c *Config) validate() error {
	// The secret is only required for the builtin session provider.
	if (c.Auth.Provider == "" || c.Auth.Provider == "builtin") && c.Auth.Secret == "" {
		return fmt.Errorf("auth.secret (AUTH_SECRET) is required")
	}
	if c.Auth.Secret != "" && len(c.Auth.Secret) < 32 {
		return fmt.Errorf("auth.secret must be at least 32 characters")
	}
	if knownWeakSecrets[c.Auth.Secret] {
		return fmt.Errorf("auth.secret is a well-known weak secret, generate a new one")
	}
	switch c.Auth.Provider {
	case "", "builtin":
	case "clerk":
		if c.Auth.ClerkIssuer == "" {
			return fmt.Errorf("auth.clerk_issuer is required when provider is clerk")
		}
	default:
		return fmt.Errorf("unknown auth provider %q", c.Auth.Provider)
	}

	switch c.Storage.Driver {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported storage driver %q", c.Storage.Driver)
	}
	if c.Storage.Driver == "postgres" && c.Storage.DSN == "" {
		return fmt.Errorf("storage.dsn (DATABASE_URL) is required for postgres")
	}

	switch c.Billing.Provider {
	case "", "stripe", "paddle":
	default:
		return fmt.Errorf("unknown billing provider %q", c.Billing.Provider)
	}
	seen := make(map[string]bool, len(c.Billing.Plans))
	for i, p := range c.Billing.Plans {
		if p.ID == "" {
			return fmt.Errorf("billing.plans[%d].id is required", i)
		}
		if seen[p.ID] {
			return fmt.Errorf("billing.plans: duplicate plan id %q", p.ID)
		}
		seen[p.ID] = true
		if p.Credits <= 0 {
			return fmt.Errorf("billing.plans[%d].credits must be positive", i)
		}
		if p.Price <= 0 {
			return fmt.Errorf("billing.plans[%d].price must be positive", i)
		}
	}
	if c.Billing.ProjectCost < 0 || c.Auth.SignupCredits < 0 {
		return fmt.Errorf("credit amounts must not be negative")
	}

	if c.Auth.InitialAdmin != nil && len(c.Auth.InitialAdmin.Password) < 8 {
		return fmt.Errorf("auth.initial_admin.password must be at least 8 characters")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":3000"
	}
	if c.Server.Environment == "" {
		c.Server.Environment = "development"
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"http://localhost:5173"}
	}
	if c.Server.ClientURL == "" {
		c.Server.ClientURL = c.Server.AllowedOrigins[0]
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = 1024 * 1024 // 1MB
	}

	if c.Auth.Provider == "" {
		c.Auth.Provider = "builtin"
	}
	if c.Auth.BaseURL == "" {
		c.Auth.BaseURL = "http://localhost" + c.Server.Addr
	}
	if c.Auth.SessionExpiry.Duration == 0 {
		c.Auth.SessionExpiry.Duration = 7 * 24 * time.Hour
	}
	if c.Auth.CookieName == "" {
		c.Auth.CookieName = "sitesmith.session_token"
	}
	if c.Auth.SignupCredits == 0 {
		c.Auth.SignupCredits = 20
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.DSN == "" {
		c.Storage.DSN = "sitesmith.db"
	}
	if c.Storage.AuditRetention.Duration == 0 {
		c.Storage.AuditRetention.Duration = 90 * 24 * time.Hour
	}

	if c.Billing.Provider == "" {
		c.Billing.Provider = "stripe"
	}
	if c.Billing.Currency == "" {
		c.Billing.Currency = "usd"
	}
	if c.Billing.ProjectCost == 0 {
		c.Billing.ProjectCost = 5
	}
	client := strings.TrimRight(c.Server.ClientURL, "/")
	if c.Billing.SuccessURL == "" {
		c.Billing.SuccessURL = client + "/loading"
	}
	if c.Billing.CancelURL == "" {
		c.Billing.CancelURL = client + "/pricing"
	}
	if c.Billing.PaddleEnvironment == "" {
		c.Billing.PaddleEnvironment = "production"
	}

	if c.Generator.Provider == "" {
		if c.Generator.APIKey != "" {
			c.Generator.Provider = "openai"
		} else {
			c.Generator.Provider = "static"
		}
	}
	if c.Generator.Model == "" {
		c.Generator.Model = "gpt-4o-mini"
	}
	if c.Generator.Timeout.Duration == 0 {
		c.Generator.Timeout.Duration = 2 * time.Minute
	}

	if c.Mail.Provider == "" {
		if c.Mail.PostmarkServerToken != "" {
			c.Mail.Provider = "postmark"
		} else {
			c.Mail.Provider = "log"
		}
	}
	if c.Mail.From == "" {
		c.Mail.From = "billing@sitesmith.dev"
	}
	if c.Mail.ReplyTo == "" {
		c.Mail.ReplyTo = c.Mail.From
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.RateLimit.RequestsPerSecond == 0 {
		c.RateLimit.RequestsPerSecond = 10
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 20
	}
}
