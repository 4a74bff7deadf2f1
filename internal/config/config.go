package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Provider struct {
	BaseURL        string `yaml:"base_url"`
	APIKeyEnv      string `yaml:"api_key_env"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	// Smoothing limit for the provider HTTP client, requests per minute.
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`
}

type Providers struct {
	Finnhub      Provider `yaml:"finnhub"`
	TWSE         Provider `yaml:"twse"`
	ExchangeRate Provider `yaml:"exchangerate"`
}

type Quota struct {
	Tier string `yaml:"tier"` // free | premium
}

type Breaker struct {
	FailureThreshold int `yaml:"failure_threshold"`
	CooldownSeconds  int `yaml:"cooldown_seconds"`
}

type Refresh struct {
	IntervalMinutes    int    `yaml:"interval_minutes"`
	MaintenanceMinutes int    `yaml:"maintenance_minutes"`
	HomeCurrency       string `yaml:"home_currency"`
	BaseCurrency       string `yaml:"base_currency"`
}

type Root struct {
	Providers  Providers `yaml:"providers"`
	Quota      Quota     `yaml:"quota"`
	Breaker    Breaker   `yaml:"breaker"`
	Refresh    Refresh   `yaml:"refresh"`
	ListenAddr string    `yaml:"listen_addr"`
}

func Load(path string) (Root, error) {
	var c Root
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("parsing %s: %w", path, err)
	}
	c.applyDefaults()
	return c, nil
}

// Default returns the configuration used when no file is supplied.
func Default() Root {
	var c Root
	c.applyDefaults()
	return c
}

func (c *Root) applyDefaults() {
	if c.Providers.Finnhub.BaseURL == "" {
		c.Providers.Finnhub.BaseURL = "https://finnhub.io/api/v1"
	}
	if c.Providers.Finnhub.APIKeyEnv == "" {
		c.Providers.Finnhub.APIKeyEnv = "FINNHUB_API_KEY"
	}
	if c.Providers.TWSE.BaseURL == "" {
		c.Providers.TWSE.BaseURL = "https://openapi.twse.com.tw/v1"
	}
	if c.Providers.ExchangeRate.BaseURL == "" {
		c.Providers.ExchangeRate.BaseURL = "https://v6.exchangerate-api.com"
	}
	if c.Providers.ExchangeRate.APIKeyEnv == "" {
		c.Providers.ExchangeRate.APIKeyEnv = "EXCHANGERATE_API_KEY"
	}
	for _, p := range []*Provider{&c.Providers.Finnhub, &c.Providers.TWSE, &c.Providers.ExchangeRate} {
		if p.TimeoutSeconds <= 0 {
			p.TimeoutSeconds = 10
		}
		if p.RateLimitPerMinute <= 0 {
			p.RateLimitPerMinute = 30
		}
	}
	if c.Quota.Tier == "" {
		c.Quota.Tier = "free"
	}
	if c.Breaker.FailureThreshold <= 0 {
		c.Breaker.FailureThreshold = 5
	}
	if c.Breaker.CooldownSeconds <= 0 {
		c.Breaker.CooldownSeconds = 60
	}
	if c.Refresh.IntervalMinutes <= 0 {
		c.Refresh.IntervalMinutes = 15
	}
	if c.Refresh.MaintenanceMinutes <= 0 {
		c.Refresh.MaintenanceMinutes = 10
	}
	if c.Refresh.HomeCurrency == "" {
		c.Refresh.HomeCurrency = "TWD"
	}
	if c.Refresh.BaseCurrency == "" {
		c.Refresh.BaseCurrency = "USD"
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":8090"
	}
}

// APIKey resolves a provider's key from its configured environment variable.
func (p Provider) APIKey() string {
	if p.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(p.APIKeyEnv)
}
