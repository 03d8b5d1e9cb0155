// Package config provides YAML-based configuration loading for Huddle.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level Huddle configuration, loaded from huddle.yaml.
type Config struct {
	Env       string          `yaml:"env"`
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Mentions  MentionsConfig  `yaml:"mentions"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Relay     RelayConfig     `yaml:"relay"`
	Retention RetentionConfig `yaml:"retention"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// DatabaseConfig selects and addresses the persistence store.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // "sqlite" (default) or "mysql"
	DSN      string `yaml:"dsn"`    // raw DSN; overrides the fields below
	Path     string `yaml:"path"`   // sqlite file path
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

// AuthConfig holds the shared secret used to verify bearer tokens.
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

// MentionsConfig tunes mention resolution and notification previews.
type MentionsConfig struct {
	LookupTimeout time.Duration `yaml:"lookup_timeout"`
	PreviewLength int           `yaml:"preview_length"`
}

// WebSocketConfig tunes per-connection buffers and keepalives.
type WebSocketConfig struct {
	SendBuffer      int           `yaml:"send_buffer"`
	WriteWait       time.Duration `yaml:"write_wait"`
	PongWait        time.Duration `yaml:"pong_wait"`
	PingPeriod      time.Duration `yaml:"ping_period"`
	MaxMessageBytes int64         `yaml:"max_message_bytes"`
}

// RelayConfig enables cross-process fan-out through Redis pub/sub.
// An empty RedisURL keeps fan-out in-process.
type RelayConfig struct {
	RedisURL string `yaml:"redis_url"`
	Channel  string `yaml:"channel"`
}

// RetentionConfig controls the purge of old, read notifications.
// An empty Schedule disables the job.
type RetentionConfig struct {
	Schedule string        `yaml:"schedule"`
	MaxAge   time.Duration `yaml:"max_age"`
}

// Load reads a YAML config file from path and returns a validated Config.
// A .env file in the working directory is loaded first so its values can
// override the file through HUDDLE_* variables.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// IsDevelopment reports whether the server runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// applyEnv overlays HUDDLE_* environment variables onto file values.
func (c *Config) applyEnv() error {
	if v := os.Getenv("HUDDLE_ENV"); v != "" {
		c.Env = v
	}
	if v := os.Getenv("HUDDLE_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: HUDDLE_PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v := os.Getenv("HUDDLE_DATABASE_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("HUDDLE_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("HUDDLE_REDIS_URL"); v != "" {
		c.Relay.RedisURL = v
	}
	return nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Env == "" {
		c.Env = "development"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 5000
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			c.Database.Path = "huddle.db"
		}
	case "mysql":
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
		if c.Database.User == "" {
			c.Database.User = "root"
		}
		if c.Database.Name == "" {
			c.Database.Name = "huddle"
		}
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = 7 * 24 * time.Hour
	}
	if c.Mentions.LookupTimeout == 0 {
		c.Mentions.LookupTimeout = 2 * time.Second
	}
	if c.Mentions.PreviewLength == 0 {
		c.Mentions.PreviewLength = 100
	}
	if c.WebSocket.SendBuffer == 0 {
		c.WebSocket.SendBuffer = 64
	}
	if c.WebSocket.WriteWait == 0 {
		c.WebSocket.WriteWait = 10 * time.Second
	}
	if c.WebSocket.PongWait == 0 {
		c.WebSocket.PongWait = 60 * time.Second
	}
	if c.WebSocket.PingPeriod == 0 {
		c.WebSocket.PingPeriod = c.WebSocket.PongWait * 9 / 10
	}
	if c.WebSocket.MaxMessageBytes == 0 {
		c.WebSocket.MaxMessageBytes = 8192
	}
	if c.Relay.Channel == "" {
		c.Relay.Channel = "huddle:rooms"
	}
	if c.Retention.MaxAge == 0 {
		c.Retention.MaxAge = 30 * 24 * time.Hour
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Auth.JWTSecret == "" {
		errs = append(errs, "auth.jwt_secret is required")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	switch c.Database.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q is not supported (want sqlite or mysql)", c.Database.Driver))
	}
	if c.Mentions.LookupTimeout < 0 {
		errs = append(errs, "mentions.lookup_timeout must be positive")
	}
	if c.Mentions.PreviewLength < 0 {
		errs = append(errs, "mentions.preview_length must be positive")
	}
	if c.WebSocket.PingPeriod >= c.WebSocket.PongWait {
		errs = append(errs, "websocket.ping_period must be shorter than websocket.pong_wait")
	}
	if c.Retention.MaxAge < 0 {
		errs = append(errs, "retention.max_age must be positive")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
