// Package config loads server configuration from a YAML file with
// environment overrides. There is no global configuration state:
// Load returns a struct that is passed explicitly into every
// constructor that needs it.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Store   StoreConfig   `mapstructure:"store"`
	Room    RoomConfig    `mapstructure:"room"`
	Relay   RelayConfig   `mapstructure:"relay"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig configures the HTTP/WebSocket transport.
type ServerConfig struct {
	Address         string        `mapstructure:"address"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StoreConfig selects and configures the room store.
type StoreConfig struct {
	// Driver is "memory" or "postgres".
	Driver string `mapstructure:"driver"`
	// DSN is the postgres connection string; ignored for memory.
	DSN string `mapstructure:"dsn"`
}

// RoomConfig tunes the lifecycle manager.
type RoomConfig struct {
	// AutoStart skips the ready handshake and starts the match the
	// moment the guest slot fills.
	AutoStart bool `mapstructure:"auto_start"`
	// StaleAfter is the age past which a waiting room is reclaimed.
	// Known deployments have run this at both 5m and 10m.
	StaleAfter time.Duration `mapstructure:"stale_after"`
	// SweepInterval is how often the reclamation job runs.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	// JoinMaxAttempts bounds the auto-join retry loop.
	JoinMaxAttempts int `mapstructure:"join_max_attempts"`
	// JoinBaseDelay seeds the exponential backoff between attempts.
	JoinBaseDelay time.Duration `mapstructure:"join_base_delay"`
	// JoinMaxDelay caps the backoff.
	JoinMaxDelay time.Duration `mapstructure:"join_max_delay"`
}

// RelayConfig selects the turn delivery strategy.
type RelayConfig struct {
	// Mode is "push" or "poll".
	Mode string `mapstructure:"mode"`
	// Backlog caps the per-room message backlog; older entries are
	// pruned and lost.
	Backlog int `mapstructure:"backlog"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.dsn", "")
	v.SetDefault("room.auto_start", false)
	v.SetDefault("room.stale_after", 5*time.Minute)
	v.SetDefault("room.sweep_interval", time.Minute)
	v.SetDefault("room.join_max_attempts", 3)
	v.SetDefault("room.join_base_delay", 100*time.Millisecond)
	v.SetDefault("room.join_max_delay", 2*time.Second)
	v.SetDefault("relay.mode", "push")
	v.SetDefault("relay.backlog", 20)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Load reads configuration from path. A missing file is not an
// error; defaults and DUEL_* environment variables still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("DUEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case "memory":
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	switch c.Relay.Mode {
	case "push", "poll":
	default:
		return fmt.Errorf("unknown relay mode %q", c.Relay.Mode)
	}
	if c.Room.StaleAfter <= 0 {
		return fmt.Errorf("room.stale_after must be positive")
	}
	return nil
}
