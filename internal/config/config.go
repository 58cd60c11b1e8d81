package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/shindakun/mockportal/internal/models"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Provider ProviderConfig `yaml:"provider"`
	Session  SessionConfig  `yaml:"session"`
	Storage  StorageConfig  `yaml:"storage"`
	Refresh  RefreshConfig  `yaml:"refresh"`
	Notify   NotifyConfig   `yaml:"notify"`
	Portal   PortalConfig   `yaml:"portal"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port            int            `yaml:"port" env:"PORT"`
	Host            string         `yaml:"host"`
	BaseURL         string         `yaml:"base_url" env:"BASE_URL"` // Optional: public URL (e.g., https://your-domain.com)
	ReadTimeout     time.Duration  `yaml:"read_timeout"`
	WriteTimeout    time.Duration  `yaml:"write_timeout"`
	IdleTimeout     time.Duration  `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration  `yaml:"shutdown_timeout"`
	Security        SecurityConfig `yaml:"security"`
}

// SecurityConfig contains security-related settings
type SecurityConfig struct {
	CSRFEnabled     bool                  `yaml:"csrf_enabled"`
	CSRFFieldName   string                `yaml:"csrf_field_name"`
	MaxRequestBytes int64                 `yaml:"max_request_bytes"`
	Headers         SecurityHeadersConfig `yaml:"headers"`
}

// SecurityHeadersConfig contains HTTP security header settings
type SecurityHeadersConfig struct {
	XFrameOptions           string `yaml:"x_frame_options"`
	XContentTypeOptions     string `yaml:"x_content_type_options"`
	ReferrerPolicy          string `yaml:"referrer_policy"`
	ContentSecurityPolicy   string `yaml:"content_security_policy"`
	StrictTransportSecurity string `yaml:"strict_transport_security"`
}

// ProviderConfig points at the hosted auth project
type ProviderConfig struct {
	URL            string        `yaml:"url" env:"PROVIDER_URL"`
	AnonKey        string        `yaml:"anon_key" env:"PROVIDER_ANON_KEY"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// SessionConfig contains browser cookie settings
type SessionConfig struct {
	Secret         string `yaml:"secret" env:"SESSION_SECRET"`
	MaxAge         int    `yaml:"max_age"`
	CookieSecure   string `yaml:"cookie_secure"`   // "auto", "true", "false"
	CookieSameSite string `yaml:"cookie_samesite"` // "strict", "lax", "none"
}

// StorageConfig contains token storage settings
type StorageConfig struct {
	DBPath string `yaml:"db_path" env:"DB_PATH"`
}

// RefreshConfig controls the background token refresher
type RefreshConfig struct {
	Interval      time.Duration `yaml:"interval"`
	Margin        time.Duration `yaml:"margin"`
	Concurrency   int           `yaml:"concurrency"`
	BatchSize     int           `yaml:"batch_size"`
	RatePerSecond float64       `yaml:"rate_per_second"` // 0 disables the limit
}

// NotifyConfig selects how instances share state. With a Redis URL both the
// token store and session-change notifications live in Redis; without one
// tokens stay in the SQLite file and notifications in-process.
type NotifyConfig struct {
	RedisURL string `yaml:"redis_url" env:"REDIS_URL"`
}

// PortalConfig contains screen settings
type PortalConfig struct {
	Title        string            `yaml:"title"`
	InitWait     time.Duration     `yaml:"init_wait"`
	DefaultEmail string            `yaml:"default_email"`
	Tests        []models.MockTest `yaml:"tests"`
}

// Load reads configuration from the specified file path.
// A .env file next to the process is loaded first when present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse builds a Config from YAML, then applies defaults and environment overrides
func Parse(data []byte) (*Config, error) {
	// Expand environment variables in the config
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Override with environment variables if set
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if len(cfg.Portal.Tests) == 0 {
		cfg.Portal.Tests = models.DefaultCatalog()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Default returns the configuration used for any value the file leaves out
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			Security: SecurityConfig{
				CSRFEnabled:     true,
				CSRFFieldName:   "csrf_token",
				MaxRequestBytes: 64 << 10,
				Headers: SecurityHeadersConfig{
					XFrameOptions:           "DENY",
					XContentTypeOptions:     "nosniff",
					ReferrerPolicy:          "strict-origin-when-cross-origin",
					ContentSecurityPolicy:   "default-src 'self'; script-src 'self' https://unpkg.com; style-src 'self' 'unsafe-inline'; connect-src 'self'",
					StrictTransportSecurity: "max-age=31536000; includeSubDomains",
				},
			},
		},
		Provider: ProviderConfig{
			RequestTimeout: 30 * time.Second,
		},
		Session: SessionConfig{
			MaxAge:         30 * 24 * 60 * 60,
			CookieSecure:   "auto",
			CookieSameSite: "lax",
		},
		Storage: StorageConfig{
			DBPath: "./data/portal.db",
		},
		Refresh: RefreshConfig{
			Interval:      30 * time.Second,
			Margin:        2 * time.Minute,
			Concurrency:   4,
			BatchSize:     100,
			RatePerSecond: 5,
		},
		Portal: PortalConfig{
			Title:    "JEE B.Arch",
			InitWait: 2 * time.Second,
		},
	}
}

// Validate checks that all required configuration fields are set
func (c *Config) Validate() error {
	// Provider validation
	if c.Provider.URL == "" || strings.Contains(c.Provider.URL, "${") {
		return fmt.Errorf("provider.url is required (set PROVIDER_URL environment variable)")
	}
	if u, err := url.Parse(c.Provider.URL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("provider.url must be an absolute URL")
	}
	if c.Provider.AnonKey == "" || strings.Contains(c.Provider.AnonKey, "${") {
		return fmt.Errorf("provider.anon_key is required (set PROVIDER_ANON_KEY environment variable)")
	}
	if c.Provider.RequestTimeout <= 0 {
		return fmt.Errorf("provider.request_timeout must be positive")
	}

	// Session validation
	if c.Session.Secret == "" || strings.Contains(c.Session.Secret, "${") {
		return fmt.Errorf("session.secret is required (set SESSION_SECRET environment variable)")
	}
	if len(c.Session.Secret) < 32 {
		return fmt.Errorf("session.secret must be at least 32 characters")
	}
	switch strings.ToLower(c.Session.CookieSecure) {
	case "auto", "true", "false":
	default:
		return fmt.Errorf("session.cookie_secure must be auto, true or false")
	}
	switch strings.ToLower(c.Session.CookieSameSite) {
	case "strict", "lax", "none":
	default:
		return fmt.Errorf("session.cookie_samesite must be strict, lax or none")
	}

	// Server validation
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	// Storage validation; with Redis the SQLite file is unused
	if c.Storage.DBPath == "" && c.Notify.RedisURL == "" {
		return fmt.Errorf("storage.db_path is required unless notify.redis_url is set")
	}

	// Refresh validation
	if c.Refresh.Interval <= 0 {
		return fmt.Errorf("refresh.interval must be positive")
	}
	if c.Refresh.Margin < c.Refresh.Interval {
		return fmt.Errorf("refresh.margin must be at least refresh.interval")
	}
	if c.Refresh.Concurrency < 1 {
		return fmt.Errorf("refresh.concurrency must be at least 1")
	}
	if c.Refresh.RatePerSecond < 0 {
		return fmt.Errorf("refresh.rate_per_second must not be negative")
	}

	if c.Portal.InitWait < 0 {
		return fmt.Errorf("portal.init_wait must not be negative")
	}

	return nil
}

// GetAddr returns the full server address (host:port)
func (c *Config) GetAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// GetBaseURL returns the public base URL
// Uses base_url if set, otherwise constructs from host:port
func (c *Config) GetBaseURL() string {
	if c.Server.BaseURL != "" {
		return c.Server.BaseURL
	}
	return fmt.Sprintf("http://%s", c.GetAddr())
}

// IsHTTPS returns true if the base URL uses HTTPS
func (c *Config) IsHTTPS() bool {
	return strings.HasPrefix(strings.ToLower(c.GetBaseURL()), "https://")
}

// CookieSecure resolves session.cookie_secure, where "auto" follows the base URL scheme
func (c *Config) CookieSecure() bool {
	switch strings.ToLower(c.Session.CookieSecure) {
	case "true":
		return true
	case "false":
		return false
	default:
		return c.IsHTTPS()
	}
}

// CookieSameSite maps session.cookie_samesite to its http constant
func (c *Config) CookieSameSite() http.SameSite {
	switch strings.ToLower(c.Session.CookieSameSite) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}
