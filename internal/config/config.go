package config

import (
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Playtime PlaytimeConfig `mapstructure:"playtime"`
	Sweeper  SweeperConfig  `mapstructure:"sweeper"`
}

// ServerConfig defines listener settings
type ServerConfig struct {
	BindAddress string `mapstructure:"bind_address"`
	MetricsPort int    `mapstructure:"metrics_port"`
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Type  string      `mapstructure:"type"` // only "redis"
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Host             string `mapstructure:"host"`
	Port             int    `mapstructure:"port"`
	Password         string `mapstructure:"password"`
	DB               int    `mapstructure:"db"`
	PoolSize         int    `mapstructure:"pool_size"`
	MinIdleConns     int    `mapstructure:"min_idle_conns"`
	DialTimeout      string `mapstructure:"dial_timeout"`
	ReadTimeout      string `mapstructure:"read_timeout"`
	WriteTimeout     string `mapstructure:"write_timeout"`
	HandleCacheSize  int    `mapstructure:"handle_cache_size"`
	ClosedSessionTTL string `mapstructure:"closed_session_ttl"`
	LockTTL          string `mapstructure:"lock_ttl"`
	LockWait         string `mapstructure:"lock_wait"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// PlaytimeConfig defines session and budget settings
type PlaytimeConfig struct {
	SessionTTL string `mapstructure:"session_ttl"`
	Timezone   string `mapstructure:"timezone"`
}

// SweeperConfig defines the enforcement sweep schedule
type SweeperConfig struct {
	Interval     string `mapstructure:"interval"`
	CloseExpired bool   `mapstructure:"close_expired"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	SetDefaults(v)

	// Configure viper
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("PLAYCLOCK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if !isNotFound(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and environment variables
	}

	// Unmarshal config
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate config
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Default returns the configuration produced by defaults alone.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// SetDefaults sets default configuration values
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.bind_address", "0.0.0.0")
	v.SetDefault("server.metrics_port", 9090)

	// Storage defaults
	v.SetDefault("storage.type", "redis")
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 5)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")
	v.SetDefault("storage.redis.handle_cache_size", 1024)
	v.SetDefault("storage.redis.closed_session_ttl", "2160h")
	v.SetDefault("storage.redis.lock_ttl", "30s")
	v.SetDefault("storage.redis.lock_wait", "10s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Playtime defaults
	v.SetDefault("playtime.session_ttl", "24h")
	v.SetDefault("playtime.timezone", "Local")

	// Sweeper defaults
	v.SetDefault("sweeper.interval", "60s")
	v.SetDefault("sweeper.close_expired", true)
}

// ValidKeys returns the set of recognised configuration keys.
func ValidKeys() map[string]bool {
	v := viper.New()
	SetDefaults(v)

	keys := make(map[string]bool)
	for _, key := range v.AllKeys() {
		keys[key] = true
	}
	return keys
}

// UnknownKeys reads the file at path and returns, sorted, every key it sets
// that ValidKeys does not recognise.
func UnknownKeys(path string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	valid := ValidKeys()
	var unknown []string
	for _, key := range v.AllKeys() {
		if !valid[key] {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)
	return unknown, nil
}

// isNotFound reports whether err means the config file does not exist.
// SetConfigFile bypasses viper's search path, so a missing file surfaces
// as an fs error rather than ConfigFileNotFoundError.
func isNotFound(err error) bool {
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		return true
	}
	return errors.Is(err, fs.ErrNotExist)
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Server.MetricsPort <= 0 || cfg.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.Server.MetricsPort)
	}

	// The server and the operator commands share state only through Redis
	switch cfg.Storage.Type {
	case "":
		cfg.Storage.Type = "redis"
	case "redis":
	default:
		return fmt.Errorf("unsupported storage type: %s (only 'redis' is supported)", cfg.Storage.Type)
	}

	if cfg.Storage.Redis.Host == "" {
		return fmt.Errorf("storage.redis.host is required")
	}
	if cfg.Storage.Redis.HandleCacheSize <= 0 {
		return fmt.Errorf("invalid storage.redis.handle_cache_size: %d", cfg.Storage.Redis.HandleCacheSize)
	}
	for name, value := range map[string]string{
		"storage.redis.dial_timeout":       cfg.Storage.Redis.DialTimeout,
		"storage.redis.read_timeout":       cfg.Storage.Redis.ReadTimeout,
		"storage.redis.write_timeout":      cfg.Storage.Redis.WriteTimeout,
		"storage.redis.closed_session_ttl": cfg.Storage.Redis.ClosedSessionTTL,
	} {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}
	for name, value := range map[string]string{
		"storage.redis.lock_ttl":  cfg.Storage.Redis.LockTTL,
		"storage.redis.lock_wait": cfg.Storage.Redis.LockWait,
	} {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	ttl, err := time.ParseDuration(cfg.Playtime.SessionTTL)
	if err != nil {
		return fmt.Errorf("invalid playtime.session_ttl: %w", err)
	}
	if ttl <= 0 {
		return fmt.Errorf("playtime.session_ttl must be positive")
	}

	if cfg.Playtime.Timezone != "" && cfg.Playtime.Timezone != "Local" {
		if _, err := time.LoadLocation(cfg.Playtime.Timezone); err != nil {
			return fmt.Errorf("invalid playtime.timezone: %w", err)
		}
	}

	interval, err := time.ParseDuration(cfg.Sweeper.Interval)
	if err != nil {
		return fmt.Errorf("invalid sweeper.interval: %w", err)
	}
	if interval <= 0 {
		return fmt.Errorf("sweeper.interval must be positive")
	}

	switch cfg.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level: %s", cfg.Logging.Level)
	}

	switch cfg.Logging.Format {
	case "", "json", "text":
	default:
		return fmt.Errorf("invalid logging.format: %s (must be json or text)", cfg.Logging.Format)
	}

	return nil
}
