// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultBaseURL           = "https://api.nowpayments.io/v1"
	DefaultIPNCallbackURL    = "https://your-domain.com/nowpayments/callback"
	DefaultPayoutCallbackURL = "https://your-domain.com/nowpayments/payout-callback"
	DefaultSuccessURL        = "https://your-domain.com/deposit/success"
	DefaultCancelURL         = "https://your-domain.com/deposit/cancel"
)

type RuntimeConfig struct {
	Dev bool
}

type ServerConfig struct {
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type RedisConfig struct {
	URL      string        `yaml:"url"` // empty disables the min-amount cache
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"` // empty leaves operator routes closed
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

type NowPaymentsConfig struct {
	APIKey            string        `yaml:"api_key"`
	BaseURL           string        `yaml:"base_url"`
	IPNCallbackURL    string        `yaml:"ipn_callback_url"`
	PayoutCallbackURL string        `yaml:"payout_callback_url"`
	SuccessURL        string        `yaml:"success_url"`
	CancelURL         string        `yaml:"cancel_url"`
	Timeout           time.Duration `yaml:"timeout"`
}

type PaymentConfig struct {
	NowPayments      NowPaymentsConfig `yaml:"nowpayments"`
	EnforceMinAmount bool              `yaml:"enforce_min_amount"`
	MinAmountRefresh time.Duration     `yaml:"min_amount_refresh"` // 0 disables the cache warmer
}

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
	Redis   RedisConfig   `yaml:"redis"`
	Auth    AuthConfig    `yaml:"auth"`
	Payment PaymentConfig `yaml:"payment"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the YAML file at path, applies environment overrides and defaults,
// and validates the result.
func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(b)
	if err != nil {
		return nil, err
	}
	cfg.Runtime.Dev = dev
	return cfg, nil
}

// Parse builds a Config from raw YAML. Exposed for tests.
func Parse(b []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// secrets may come from the environment instead of the file
func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("NOWPAYMENTS_API_KEY")); v != "" {
		cfg.Payment.NowPayments.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("GATEWAY_JWT_SECRET")); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_URL")); v != "" {
		cfg.Redis.URL = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RequestTimeout <= 0 {
		cfg.Server.RequestTimeout = 30 * time.Second
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	cfg.Redis.TTL = normalizeTTL(cfg.Redis.TTL, 10*time.Minute)
	cfg.Auth.TokenTTL = normalizeTTL(cfg.Auth.TokenTTL, 30*time.Minute)

	np := &cfg.Payment.NowPayments
	np.BaseURL = strings.TrimRight(orDefault(np.BaseURL, DefaultBaseURL), "/")
	np.IPNCallbackURL = orDefault(np.IPNCallbackURL, DefaultIPNCallbackURL)
	np.PayoutCallbackURL = orDefault(np.PayoutCallbackURL, DefaultPayoutCallbackURL)
	np.SuccessURL = orDefault(np.SuccessURL, DefaultSuccessURL)
	np.CancelURL = orDefault(np.CancelURL, DefaultCancelURL)
	np.Timeout = normalizeTTL(np.Timeout, 15*time.Second)
}

func (c *Config) validate() error {
	np := c.Payment.NowPayments
	if np.APIKey == "" {
		return errors.New("payment.nowpayments.api_key is required")
	}
	for name, raw := range map[string]string{
		"base_url":            np.BaseURL,
		"ipn_callback_url":    np.IPNCallbackURL,
		"payout_callback_url": np.PayoutCallbackURL,
		"success_url":         np.SuccessURL,
		"cancel_url":          np.CancelURL,
	} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("payment.nowpayments.%s: invalid url %q", name, raw)
		}
	}
	return nil
}

// PathOf returns the path portion of raw, or fallback when raw has none.
func PathOf(raw, fallback string) string {
	if u, err := url.Parse(strings.TrimSpace(raw)); err == nil && u.Path != "" {
		return u.Path
	}
	return fallback
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return strings.TrimSpace(v)
}

func normalizeTTL(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
