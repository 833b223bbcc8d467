// Package config loads reliablectl and service configuration from a YAML file
// and RELIABLE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fortressi/reliable/idempotency"
)

// EnvPrefix is prepended to every environment override, e.g.
// RELIABLE_STORE_DSN overrides store.dsn.
const EnvPrefix = "RELIABLE"

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Config is the root configuration.
type Config struct {
	Idempotency PolicyConfig  `mapstructure:"idempotency"`
	Store       StoreConfig   `mapstructure:"store"`
	Journal     JournalConfig `mapstructure:"journal"`
	Log         LogConfig     `mapstructure:"log"`
	Metrics     MetricsConfig `mapstructure:"metrics"`
}

// PolicyConfig mirrors idempotency.Policy.
type PolicyConfig struct {
	TTL         time.Duration `mapstructure:"ttl"`
	OnPending   string        `mapstructure:"on_pending"`
	WaitTimeout time.Duration `mapstructure:"wait_timeout"`
	LockTimeout time.Duration `mapstructure:"lock_timeout"`
	StoreFailed bool          `mapstructure:"store_failed"`
	FailedTTL   time.Duration `mapstructure:"failed_ttl"`
}

// Policy converts the configuration into an idempotency.Policy.
func (c PolicyConfig) Policy() (idempotency.Policy, error) {
	onPending, err := idempotency.ParseOnPending(c.OnPending)
	if err != nil {
		return idempotency.Policy{}, err
	}
	return idempotency.NewPolicy().
		WithTTL(c.TTL).
		WithOnPending(onPending).
		WithWaitTimeout(c.WaitTimeout).
		WithLockTimeout(c.LockTimeout).
		WithStoreFailed(c.StoreFailed).
		WithFailedTTL(c.FailedTTL), nil
}

// StoreConfig selects and configures the record store.
type StoreConfig struct {
	Driver string      `mapstructure:"driver"`
	DSN    string      `mapstructure:"dsn"`
	Table  string      `mapstructure:"table"`
	Redis  RedisConfig `mapstructure:"redis"`
}

// RedisConfig configures the redis store.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	DB       int    `mapstructure:"db"`
	Password string `mapstructure:"password"`
	Prefix   string `mapstructure:"prefix"`
}

// JournalConfig configures saga journal persistence. An empty Dir disables it.
type JournalConfig struct {
	Dir string `mapstructure:"dir"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Namespace string `mapstructure:"namespace"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("idempotency.ttl", 24*time.Hour)
	v.SetDefault("idempotency.on_pending", idempotency.OnPendingWait.String())
	v.SetDefault("idempotency.wait_timeout", idempotency.DefaultPendingWaitTimeout)
	v.SetDefault("idempotency.lock_timeout", idempotency.DefaultLockAcquireTimeout)
	v.SetDefault("idempotency.store_failed", false)
	v.SetDefault("idempotency.failed_ttl", time.Duration(0))

	v.SetDefault("store.driver", DriverMemory)
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.table", "idempotency_records")
	v.SetDefault("store.redis.addr", "localhost:6379")
	v.SetDefault("store.redis.db", 0)
	v.SetDefault("store.redis.password", "")
	v.SetDefault("store.redis.prefix", "idem:")

	v.SetDefault("journal.dir", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("metrics.namespace", "reliable")
}

// Load reads path, if non-empty, on top of the defaults and applies
// environment overrides. The result is validated.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the values that cannot be verified by decoding alone.
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.Idempotency.Policy(); err != nil {
		errs = append(errs, fmt.Errorf("idempotency.on_pending: %w", err))
	}
	switch c.Store.Driver {
	case DriverMemory, DriverRedis:
	case DriverSQLite, DriverPostgres:
		if c.Store.DSN == "" {
			errs = append(errs, fmt.Errorf("store.dsn is required for driver %s", c.Store.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver: unknown driver %q", c.Store.Driver))
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	return errors.Join(errs...)
}

// NewLogger builds a zap logger from the log section.
func NewLogger(c LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}

	zc := zap.NewProductionConfig()
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
