// Package config loads the gateway configuration from config/streamgate.yaml
// with environment variable overrides applied on top.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration of the gateway process.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Redis  RedisConfig  `yaml:"redis"`
	Auth   AuthConfig   `yaml:"auth"`
	Stream StreamConfig `yaml:"stream"`
	Log    LogConfig    `yaml:"log"`
}

// ServerConfig covers the HTTP/websocket listener.
type ServerConfig struct {
	Addr              string        `yaml:"addr" env:"STREAMGATE_ADDR"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" env:"STREAMGATE_HEARTBEAT_INTERVAL"`
	WriteTimeout      time.Duration `yaml:"write_timeout" env:"STREAMGATE_WRITE_TIMEOUT"`
	AuthWorkers       int           `yaml:"auth_workers" env:"STREAMGATE_AUTH_WORKERS"`
	AuthQueueCapacity int           `yaml:"auth_queue_capacity" env:"STREAMGATE_AUTH_QUEUE_CAPACITY"`
	CommandsPerSecond int           `yaml:"commands_per_second" env:"STREAMGATE_COMMANDS_PER_SECOND"`
	CommandBurst      int           `yaml:"command_burst" env:"STREAMGATE_COMMAND_BURST"`
}

// RedisConfig covers the backing store. When Addr is empty the gateway
// falls back to the in-memory store, which is only suitable for a single
// process.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"STREAMGATE_REDIS_ADDR"`
	Password string `yaml:"password" env:"STREAMGATE_REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"STREAMGATE_REDIS_DB"`
}

// AuthConfig covers session resolution. JWTSecret enables the JWT
// resolver; without it every connection is a guest.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" env:"STREAMGATE_JWT_SECRET"`
}

// StreamConfig covers the durable stream log and presence maintenance.
type StreamConfig struct {
	MessageTTL time.Duration `yaml:"message_ttl" env:"STREAMGATE_MESSAGE_TTL"`
	GCInterval time.Duration `yaml:"gc_interval" env:"STREAMGATE_GC_INTERVAL"`
}

// LogConfig covers structured logging output.
type LogConfig struct {
	Level  string `yaml:"level" env:"STREAMGATE_LOG_LEVEL"`
	Format string `yaml:"format" env:"STREAMGATE_LOG_FORMAT"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:              ":8080",
			HeartbeatInterval: 25 * time.Second,
			WriteTimeout:      10 * time.Second,
			AuthWorkers:       16,
			AuthQueueCapacity: 2048,
			CommandsPerSecond: 20,
			CommandBurst:      40,
		},
		Stream: StreamConfig{
			MessageTTL: 5 * time.Hour,
			GCInterval: 5 * time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads config/streamgate.yaml relative to the working directory,
// falling back to defaults when the file does not exist. Environment
// variables override values from the file either way.
func Load() (*Config, error) {
	return LoadFromPath(filepath.Join("config", "streamgate.yaml"))
}

// LoadFromPath reads the configuration from a specific path.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case os.IsNotExist(err):
		// Defaults plus environment only.
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := envdecode.Decode(cfg); err != nil && err != envdecode.ErrNoTargetFieldsAreSet {
		return nil, fmt.Errorf("failed to decode environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server addr is required")
	}
	if c.Server.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive")
	}
	if c.Server.AuthWorkers <= 0 || c.Server.AuthQueueCapacity <= 0 {
		return fmt.Errorf("auth pool sizing must be positive")
	}
	if c.Stream.MessageTTL <= 0 {
		return fmt.Errorf("message ttl must be positive")
	}
	return nil
}
