package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const insecureSecret = "change-me-in-production"

type Config struct {
	Port           string   `envconfig:"PORT" default:"8080"`
	Environment    string   `envconfig:"ENVIRONMENT" default:"development"`
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:3000,http://localhost:5173"`
	JWTSecret      string   `envconfig:"JWT_SECRET" default:"change-me-in-production"`
	LogLevel       string   `envconfig:"LOG_LEVEL" default:"info"`

	Redis   RedisConfig   `envconfig:"REDIS"`
	Meeting MeetingConfig `envconfig:"MEETING"`
	Session SessionConfig `envconfig:"SESSION"`
	Relay   RelayConfig   `envconfig:"RELAY"`
}

type RedisConfig struct {
	Host     string `envconfig:"HOST" default:"localhost"`
	Port     string `envconfig:"PORT" default:"6379"`
	Password string `envconfig:"PASSWORD"`
	DB       int    `envconfig:"DB" default:"0"`
}

// MeetingConfig bounds meeting capacity and how long finished meetings stay readable.
type MeetingConfig struct {
	DefaultMaxParticipants int           `envconfig:"DEFAULT_MAX_PARTICIPANTS" default:"100"`
	MaxParticipantsLimit   int           `envconfig:"MAX_PARTICIPANTS_LIMIT" default:"500"`
	Retention              time.Duration `envconfig:"RETENTION" default:"720h"`
}

type SessionConfig struct {
	StaleAfter    time.Duration `envconfig:"STALE_AFTER" default:"30m"`
	SweepInterval time.Duration `envconfig:"SWEEP_INTERVAL" default:"5m"`
	Retention     time.Duration `envconfig:"RETENTION" default:"720h"`
	GuestTokenTTL time.Duration `envconfig:"GUEST_TOKEN_TTL" default:"12h"`
	StoreTimeout  time.Duration `envconfig:"STORE_TIMEOUT" default:"5s"`
}

// RelayConfig tunes the WebSocket connection layer.
type RelayConfig struct {
	PingPeriod     time.Duration `envconfig:"PING_PERIOD" default:"54s"`
	PongWait       time.Duration `envconfig:"PONG_WAIT" default:"60s"`
	WriteWait      time.Duration `envconfig:"WRITE_WAIT" default:"10s"`
	SendBuffer     int           `envconfig:"SEND_BUFFER" default:"256"`
	MaxMessageSize int64         `envconfig:"MAX_MESSAGE_SIZE" default:"65536"`
	SignalRate     float64       `envconfig:"SIGNAL_RATE" default:"50"`
	SignalBurst    int           `envconfig:"SIGNAL_BURST" default:"100"`
	ChatRate       float64       `envconfig:"CHAT_RATE" default:"5"`
	ChatBurst      int           `envconfig:"CHAT_BURST" default:"10"`
	MaxChatLength  int           `envconfig:"MAX_CHAT_LENGTH" default:"2000"`
}

// Load reads an optional .env file, then the process environment.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.Redis.Host, c.Redis.Port)
}

func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.IsProduction() && c.JWTSecret == insecureSecret {
		return errors.New("JWT_SECRET must be changed in production")
	}
	if c.Meeting.DefaultMaxParticipants < 1 {
		return errors.New("MEETING_DEFAULT_MAX_PARTICIPANTS must be positive")
	}
	if c.Meeting.MaxParticipantsLimit < c.Meeting.DefaultMaxParticipants {
		return errors.New("MEETING_MAX_PARTICIPANTS_LIMIT must be >= MEETING_DEFAULT_MAX_PARTICIPANTS")
	}
	if c.Session.StaleAfter <= 0 || c.Session.SweepInterval <= 0 {
		return errors.New("SESSION_STALE_AFTER and SESSION_SWEEP_INTERVAL must be positive")
	}
	if c.Relay.PingPeriod >= c.Relay.PongWait {
		return errors.New("RELAY_PING_PERIOD must be shorter than RELAY_PONG_WAIT")
	}
	if c.Relay.SendBuffer < 1 || c.Relay.MaxChatLength < 1 {
		return errors.New("RELAY_SEND_BUFFER and RELAY_MAX_CHAT_LENGTH must be positive")
	}
	return nil
}
