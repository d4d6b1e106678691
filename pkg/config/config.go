package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Provider names accepted in LLM_PROVIDER.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

type Config struct {
	Gateway  GatewayConfig
	Session  SessionConfig
	LLM      LLMConfig
	Telegram TelegramConfig
}

type GatewayConfig struct {
	Host       string `env:"RELAY_HOST" envDefault:"0.0.0.0"`
	Port       int    `env:"RELAY_PORT" envDefault:"3001"`
	CORSOrigin string `env:"CORS_ORIGIN" envDefault:"http://localhost:5173"`
	// PublicWSURL overrides the websocket URL advertised in session-creation
	// responses. When empty the URL is derived from the request host.
	PublicWSURL string `env:"PUBLIC_WS_URL"`
}

type SessionConfig struct {
	TTLMinutes   int `env:"SESSION_TTL_MINUTES" envDefault:"30"`
	SweepMinutes int `env:"SESSION_SWEEP_MINUTES" envDefault:"5"`
}

type LLMConfig struct {
	Provider       string `env:"LLM_PROVIDER" envDefault:"openai"`
	OpenAIKey      string `env:"OPENAI_API_KEY"`
	OpenAIModel    string `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	AnthropicKey   string `env:"ANTHROPIC_API_KEY"`
	AnthropicModel string `env:"ANTHROPIC_MODEL" envDefault:"claude-sonnet-4-5"`
	TimeoutSeconds int    `env:"LLM_TIMEOUT_SECONDS" envDefault:"30"`
	// SystemPrompt replaces the built-in operator prompt when set.
	SystemPrompt string `env:"SYSTEM_PROMPT"`
}

type TelegramConfig struct {
	// BotToken is optional. Without it the Telegram channel stays disabled
	// and replies are delivered over websocket only.
	BotToken string `env:"TELEGRAM_BOT_TOKEN"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Gateway.Port)
	}
	if c.Session.TTLMinutes <= 0 {
		return fmt.Errorf("session TTL must be positive, got %d", c.Session.TTLMinutes)
	}
	if c.Session.SweepMinutes <= 0 {
		return fmt.Errorf("session sweep interval must be positive, got %d", c.Session.SweepMinutes)
	}
	switch c.LLM.Provider {
	case ProviderOpenAI, ProviderAnthropic:
	default:
		return fmt.Errorf("unknown LLM provider %q", c.LLM.Provider)
	}
	return nil
}

func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Session.TTLMinutes) * time.Minute
}

func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Session.SweepMinutes) * time.Minute
}

func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLM.TimeoutSeconds) * time.Second
}

func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Gateway.Host, c.Gateway.Port)
}
