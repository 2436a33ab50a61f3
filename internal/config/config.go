// Package config loads and validates service configuration from the
// environment and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// Addr is the address the API server listens on (e.g. :8080).
	Addr string `mapstructure:"ADDR"`
	// FrontendOrigins is a comma-separated list of browser origins allowed
	// to call the API with credentials (e.g. "http://localhost:5173").
	FrontendOrigins string `mapstructure:"FRONTEND_ORIGINS"`

	// GoogleClientID is the OAuth2 client id for the identity provider.
	GoogleClientID string `mapstructure:"GOOGLE_CLIENT_ID"`
	// GoogleClientSecret is the OAuth2 client secret.
	GoogleClientSecret string `mapstructure:"GOOGLE_CLIENT_SECRET"`
	// GoogleRedirectURL is the registered redirect URI for the
	// authorization-code flow (e.g. http://localhost:8080/redirect).
	GoogleRedirectURL string `mapstructure:"GOOGLE_REDIRECT_URL"`

	// SessionSecret signs session cookies so a tampered cookie is rejected
	// before any store lookup.
	SessionSecret string `mapstructure:"SESSION_SECRET"`
	// SessionTimeout is the idle session lifetime (e.g. "24h").
	SessionTimeout string `mapstructure:"SESSION_TIMEOUT"`
	// CookieSecure marks the session cookie Secure + SameSite=None for
	// cross-site frontends served over HTTPS.
	CookieSecure bool `mapstructure:"COOKIE_SECURE"`

	// GeminiAPIKey authenticates against the analysis service.
	GeminiAPIKey string `mapstructure:"GEMINI_API_KEY"`
	// GeminiModel selects the analysis model.
	GeminiModel string `mapstructure:"GEMINI_MODEL"`

	// MailPageSize bounds how many messages one fetch returns.
	MailPageSize int64 `mapstructure:"MAIL_PAGE_SIZE"`
	// AnalysisConcurrency bounds the per-request analysis fan-out.
	AnalysisConcurrency int `mapstructure:"ANALYSIS_CONCURRENCY"`

	// MetricsEnabled starts the dedicated metrics server.
	MetricsEnabled bool `mapstructure:"METRICS_ENABLED"`
	// MetricsAddr is the metrics server address.
	MetricsAddr string `mapstructure:"METRICS_ADDR"`
}

// Load reads .env (if present), then builds and validates Config from the
// environment via Viper. Missing .env is ignored (e.g. in CI); env vars
// override .env. Missing provider credentials are a hard failure here, so
// a misconfigured process refuses to start instead of failing deep inside
// a request.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("ADDR", ":8080")
	v.SetDefault("FRONTEND_ORIGINS", "http://localhost:5173")
	v.SetDefault("GOOGLE_CLIENT_ID", "")
	v.SetDefault("GOOGLE_CLIENT_SECRET", "")
	v.SetDefault("GOOGLE_REDIRECT_URL", "http://localhost:8080/redirect")
	v.SetDefault("SESSION_SECRET", "")
	v.SetDefault("SESSION_TIMEOUT", "24h")
	v.SetDefault("COOKIE_SECURE", false)
	v.SetDefault("GEMINI_API_KEY", "")
	v.SetDefault("GEMINI_MODEL", "gemini-2.0-flash")
	v.SetDefault("MAIL_PAGE_SIZE", 10)
	v.SetDefault("ANALYSIS_CONCURRENCY", 8)
	v.SetDefault("METRICS_ENABLED", true)
	v.SetDefault("METRICS_ADDR", ":9090")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the required fields.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return errors.New("config: ADDR must be set")
	}
	if c.GoogleClientID == "" {
		return errors.New("config: GOOGLE_CLIENT_ID must be set")
	}
	if c.GoogleClientSecret == "" {
		return errors.New("config: GOOGLE_CLIENT_SECRET must be set")
	}
	if c.GoogleRedirectURL == "" {
		return errors.New("config: GOOGLE_REDIRECT_URL must be set")
	}
	if c.SessionSecret == "" {
		return errors.New("config: SESSION_SECRET must be set")
	}
	if c.GeminiAPIKey == "" {
		return errors.New("config: GEMINI_API_KEY must be set")
	}
	if c.MailPageSize <= 0 {
		return errors.New("config: MAIL_PAGE_SIZE must be positive")
	}
	if c.AnalysisConcurrency <= 0 {
		return errors.New("config: ANALYSIS_CONCURRENCY must be positive")
	}
	return nil
}

// Origins splits FrontendOrigins into a cleaned list.
func (c *Config) Origins() []string {
	parts := strings.Split(c.FrontendOrigins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// SessionTTL parses SessionTimeout as a time.Duration. Returns 24h if
// unset or invalid.
func (c *Config) SessionTTL() time.Duration {
	d, err := time.ParseDuration(c.SessionTimeout)
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
}
