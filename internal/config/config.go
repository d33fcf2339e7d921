// Package config loads flowsync settings from defaults, an optional config
// file, FLOWSYNC_* environment variables and command-line flags, in rising
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// Realtime transports.
const (
	TransportNone      = "none"
	TransportWebsocket = "websocket"
	TransportPostgres  = "postgres"
	TransportRedis     = "redis"
)

// Config is the resolved configuration.
type Config struct {
	Local    LocalConfig    `mapstructure:"local" yaml:"local"`
	Remote   RemoteConfig   `mapstructure:"remote" yaml:"remote"`
	Realtime RealtimeConfig `mapstructure:"realtime" yaml:"realtime"`
	Retry    RetryConfig    `mapstructure:"retry" yaml:"retry"`
	Session  SessionConfig  `mapstructure:"session" yaml:"session"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
	Relay    RelayConfig    `mapstructure:"relay" yaml:"relay"`
}

// LocalConfig configures the local store.
type LocalConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// RemoteConfig configures the remote backend.
type RemoteConfig struct {
	DSN      string `mapstructure:"dsn" yaml:"dsn"`
	MaxConns int32  `mapstructure:"max_conns" yaml:"max_conns"`
}

// RealtimeConfig configures change notifications.
type RealtimeConfig struct {
	Transport     string        `mapstructure:"transport" yaml:"transport"`
	URL           string        `mapstructure:"url" yaml:"url"`
	APIKey        string        `mapstructure:"api_key" yaml:"api_key"`
	RedisAddr     string        `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password" yaml:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db" yaml:"redis_db"`
	Debounce      time.Duration `mapstructure:"debounce" yaml:"debounce"`
}

// RetryConfig configures the retry budget for remote calls.
type RetryConfig struct {
	MaxAttempts  int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
	InitialDelay time.Duration `mapstructure:"initial_delay" yaml:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
}

// SessionConfig configures how the current user is resolved.
type SessionConfig struct {
	File   string `mapstructure:"file" yaml:"file"`
	UserID string `mapstructure:"user_id" yaml:"user_id"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// RelayConfig configures `flowsync relay`.
type RelayConfig struct {
	Addr      string `mapstructure:"addr" yaml:"addr"`
	JWTSecret string `mapstructure:"jwt_secret" yaml:"jwt_secret"`
}

// FlagBinding lets a command-line flag override a config key.
type FlagBinding struct {
	Key  string
	Flag *pflag.Flag
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("local.path", filepath.Join(".flowsync", "local.db"))

	v.SetDefault("remote.dsn", "")
	v.SetDefault("remote.max_conns", 10)

	v.SetDefault("realtime.transport", TransportNone)
	v.SetDefault("realtime.url", "")
	v.SetDefault("realtime.api_key", "")
	v.SetDefault("realtime.redis_addr", "localhost:6379")
	v.SetDefault("realtime.redis_password", "")
	v.SetDefault("realtime.redis_db", 0)
	v.SetDefault("realtime.debounce", 250*time.Millisecond)

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.timeout", 30*time.Second)
	v.SetDefault("retry.initial_delay", time.Second)
	v.SetDefault("retry.max_delay", 10*time.Second)

	v.SetDefault("session.file", DefaultSessionFile())
	v.SetDefault("session.user_id", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 50)
	v.SetDefault("log.max_backups", 3)

	v.SetDefault("metrics.addr", "")

	v.SetDefault("relay.addr", ":4000")
	v.SetDefault("relay.jwt_secret", "")
}

// Load resolves the configuration. An explicit path must exist; without one,
// config.yaml (or .toml) is looked up in ./.flowsync and the user config
// directory, and a missing file is not an error.
func Load(path string, flags ...FlagBinding) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("FLOWSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".flowsync")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "flowsync"))
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	for _, b := range flags {
		if b.Flag == nil {
			continue
		}
		if err := v.BindPFlag(b.Key, b.Flag); err != nil {
			return nil, fmt.Errorf("failed to bind flag %s: %w", b.Flag.Name, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	switch c.Realtime.Transport {
	case TransportNone, TransportWebsocket, TransportPostgres, TransportRedis:
	default:
		return fmt.Errorf("invalid realtime.transport %q (want none, websocket, postgres or redis)", c.Realtime.Transport)
	}
	if c.Realtime.Transport == TransportWebsocket && c.Realtime.URL == "" {
		return errors.New("realtime.url is required for the websocket transport")
	}
	if c.Local.Path == "" {
		return errors.New("local.path cannot be empty")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log.level: %w", err)
	}
	return nil
}

// DefaultSessionFile is where `flowsync login` stores the session.
func DefaultSessionFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".flowsync", "session.toml")
	}
	return filepath.Join(dir, "flowsync", "session.toml")
}
