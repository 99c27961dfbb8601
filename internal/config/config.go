package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// ConnectionConfig contains the websocket client scalars.
type ConnectionConfig struct {
	URI            string        `envconfig:"CHAT_WEBSOCKET_URI" default:"ws://127.0.0.1:8000/ws/chat"`
	ConnectTimeout time.Duration `envconfig:"CHAT_CONNECT_TIMEOUT" default:"10s"`
	SendTimeout    time.Duration `envconfig:"CHAT_CONNECTION_TIMEOUT" default:"30s"`
	TestTimeout    time.Duration `envconfig:"CHAT_TEST_TIMEOUT" default:"5s"`
	MaxRetries     int           `envconfig:"CHAT_MAX_RETRIES" default:"3"`
	RetryDelay     time.Duration `envconfig:"CHAT_RETRY_DELAY" default:"1s"`
}

// HealthConfig controls the application-level keepalive loop.
type HealthConfig struct {
	Enabled      bool          `envconfig:"CHAT_HEALTH_CHECK" default:"true"`
	PingInterval time.Duration `envconfig:"CHAT_PING_INTERVAL" default:"120s"`
	Timeout      time.Duration `envconfig:"CHAT_HEALTH_TIMEOUT" default:"240s"`
}

// ChatConfig holds outbound message policy and history limits.
type ChatConfig struct {
	MaxHistory       int           `envconfig:"CHAT_MAX_MESSAGES" default:"100"`
	MaxMessageLength int           `envconfig:"CHAT_MAX_MESSAGE_LENGTH" default:"4000"`
	RateLimit        int           `envconfig:"CHAT_RATE_LIMIT" default:"10"`
	RateWindow       time.Duration `envconfig:"CHAT_RATE_WINDOW" default:"60s"`
	AssistantName    string        `envconfig:"CHAT_AI_NAME" default:"Assistant"`
}

// LoggingConfig defines runtime logging behavior. An empty File disables
// the log-file mirror.
type LoggingConfig struct {
	Level string `envconfig:"CHAT_LOG_LEVEL" default:"info"`
	File  string `envconfig:"CHAT_LOG_FILE" default:""`
}

// NotificationsConfig stores desktop notification preferences.
type NotificationsConfig struct {
	Enabled      bool `envconfig:"CHAT_NOTIFICATIONS" default:"false"`
	OnReply      bool `envconfig:"CHAT_NOTIFY_REPLIES" default:"true"`
	OnConnection bool `envconfig:"CHAT_NOTIFY_CONNECTION" default:"true"`
}

// MetricsConfig controls the optional Prometheus endpoint. An empty Listen
// address disables it.
type MetricsConfig struct {
	Listen string `envconfig:"CHAT_METRICS_LISTEN" default:""`
}

// Config is the root runtime configuration, resolved from CHAT_* env vars.
type Config struct {
	Connection    ConnectionConfig
	Health        HealthConfig
	Chat          ChatConfig
	Logging       LoggingConfig
	Notifications NotificationsConfig
	Metrics       MetricsConfig
}

func Default() Config {
	return Config{
		Connection: ConnectionConfig{
			URI:            "ws://127.0.0.1:8000/ws/chat",
			ConnectTimeout: 10 * time.Second,
			SendTimeout:    30 * time.Second,
			TestTimeout:    5 * time.Second,
			MaxRetries:     3,
			RetryDelay:     time.Second,
		},
		Health: HealthConfig{
			Enabled:      true,
			PingInterval: 120 * time.Second,
			Timeout:      240 * time.Second,
		},
		Chat: ChatConfig{
			MaxHistory:       100,
			MaxMessageLength: 4000,
			RateLimit:        10,
			RateWindow:       time.Minute,
			AssistantName:    "Assistant",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Notifications: NotificationsConfig{
			Enabled:      false,
			OnReply:      true,
			OnConnection: true,
		},
		Metrics: MetricsConfig{},
	}
}

// Load resolves the configuration from the environment. Unset variables
// fall back to their defaults; validation is the caller's step so that
// flag overrides can be applied first.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("read environment: %w", err)
	}

	return cfg, nil
}

func (c Config) Validate() error {
	if err := validateURI(c.Connection.URI); err != nil {
		return err
	}
	if c.Connection.ConnectTimeout <= 0 {
		return errors.New("connect timeout must be positive")
	}
	if c.Connection.SendTimeout <= 0 {
		return errors.New("send timeout must be positive")
	}
	if c.Connection.TestTimeout <= 0 {
		return errors.New("test timeout must be positive")
	}
	if c.Connection.MaxRetries < 0 {
		return errors.New("max retries must not be negative")
	}
	if c.Connection.RetryDelay <= 0 {
		return errors.New("retry delay must be positive")
	}
	if c.Health.Enabled {
		if c.Health.PingInterval <= 0 {
			return errors.New("ping interval must be positive")
		}
		if c.Health.Timeout <= 0 {
			return errors.New("health timeout must be positive")
		}
	}
	if c.Chat.MaxHistory <= 0 {
		return errors.New("max history must be positive")
	}
	if c.Chat.MaxMessageLength <= 0 {
		return errors.New("max message length must be positive")
	}
	if c.Chat.RateLimit <= 0 {
		return errors.New("rate limit must be positive")
	}
	if c.Chat.RateWindow <= 0 {
		return errors.New("rate window must be positive")
	}

	return nil
}

func validateURI(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return errors.New("websocket uri is required")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse websocket uri: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("websocket uri must use ws or wss scheme, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("websocket uri is missing a host")
	}

	return nil
}
