// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ipc

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// EnvPrefix prefixes the environment variables read by LoadConfig, e.g.
// IPC_TRANSPORT or IPC_RETRY_MAX_ATTEMPTS.
const EnvPrefix = "IPC"

// Config is the endpoint configuration shared by the command line tool and
// embedding programs.
type Config struct {
	Transport      string        `mapstructure:"transport"`
	Address        string        `mapstructure:"address"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
	LogLevel       string        `mapstructure:"log_level"`
	Retry          RetryConfig   `mapstructure:"retry"`
}

// RetryConfig controls retries of the JSON-RPC transport.
type RetryConfig struct {
	MaxAttempts uint64 `mapstructure:"max_attempts"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config {
	return Config{
		Transport:      DefaultTransport,
		Address:        "127.0.0.1:9650",
		DefaultTimeout: DefaultCallTimeout,
		LogLevel:       "info",
		Retry:          RetryConfig{MaxAttempts: maxRetries},
	}
}

// LoadConfig reads the configuration file at path, if any, then applies
// IPC_* environment overrides over the defaults.
func LoadConfig(path string) (Config, error) {
	def := DefaultConfig()
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("transport", def.Transport)
	v.SetDefault("address", def.Address)
	v.SetDefault("default_timeout", def.DefaultTimeout)
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("retry.max_attempts", def.Retry.MaxAttempts)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks that the configured transport is available.
func (c Config) Validate() error {
	if !HasTransport(c.Transport) {
		return fmt.Errorf("unknown transport: %s (available: %s)", c.Transport, strings.Join(AvailableTransports(), ", "))
	}
	if c.DefaultTimeout < 0 {
		return fmt.Errorf("negative default timeout %s", c.DefaultTimeout)
	}
	return nil
}

// DialOptions returns the options dialing Address with this configuration.
func (c Config) DialOptions() []DialOption {
	return []DialOption{
		WithTransport(c.Transport),
		WithDefaultTimeout(c.DefaultTimeout),
	}
}

// JSONRPCOptions returns the JSON-RPC proxy options for this configuration.
func (c Config) JSONRPCOptions() []Option {
	return []Option{
		WithMaxRetries(c.Retry.MaxAttempts),
		WithCallTimeout(c.DefaultTimeout),
	}
}

// NewLogger builds a production zap logger at the configured level.
func (c Config) NewLogger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = level
	return cfg.Build()
}
