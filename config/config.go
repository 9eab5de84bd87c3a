package config

import (
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// DefaultWebhookURL is the chat trigger of the reference n8n deployment.
const DefaultWebhookURL = "http://54.226.128.109:5678/webhook/c66dd826-8130-4504-b5f6-4e7545821613/chat"

type Config struct {
	// WebhookURL is the n8n chat trigger every /chat call is forwarded to.
	WebhookURL string `env:"N8N_WEBHOOK_URL" envDefault:"http://54.226.128.109:5678/webhook/c66dd826-8130-4504-b5f6-4e7545821613/chat"`
	// BaseURL overrides the health probe target. Derived from WebhookURL when empty.
	BaseURL string `env:"N8N_BASE_URL"`

	Host      string `env:"HOST" envDefault:"0.0.0.0"`
	Port      int    `env:"PORT" envDefault:"8000"`
	StaticDir string `env:"STATIC_DIR" envDefault:"static"`

	ChatTimeout   time.Duration `env:"CHAT_TIMEOUT" envDefault:"30s"`
	HealthTimeout time.Duration `env:"HEALTH_TIMEOUT" envDefault:"5s"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console"`
	LogFile   string `env:"LOG_FILE"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, errors.Wrap(err, "load .env")
	}
	return Parse()
}

// Parse builds a Config from the process environment only.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	u, err := url.Parse(c.WebhookURL)
	if err != nil {
		return errors.Wrapf(err, "invalid webhook url %q", c.WebhookURL)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.Errorf("webhook url must be an absolute http(s) url, got %q", c.WebhookURL)
	}
	if c.BaseURL != "" {
		b, err := url.Parse(c.BaseURL)
		if err != nil || b.Host == "" {
			return errors.Errorf("invalid n8n base url %q", c.BaseURL)
		}
	}
	if c.Port < 1 || c.Port > 65535 {
		return errors.Errorf("port out of range: %d", c.Port)
	}
	if c.ChatTimeout <= 0 {
		return errors.New("chat timeout must be positive")
	}
	if c.HealthTimeout <= 0 {
		return errors.New("health timeout must be positive")
	}
	switch strings.ToLower(c.LogFormat) {
	case "console", "json":
	default:
		return errors.Errorf("unknown log format %q", c.LogFormat)
	}
	return nil
}

// ProbeURL is the address the health check hits: BaseURL if set, otherwise
// the scheme and host of the webhook without its path.
func (c *Config) ProbeURL() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	u, err := url.Parse(c.WebhookURL)
	if err != nil {
		return c.WebhookURL
	}
	return (&url.URL{Scheme: u.Scheme, Host: u.Host}).String()
}

func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
