// Package config loads broker settings from the environment and an optional
// YAML file using Viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/iammorganparry/clive/apps/remote/internal/pin"
)

type Config struct {
	ControlAddr string `mapstructure:"CONTROL_ADDR"`
	MobileAddr  string `mapstructure:"MOBILE_ADDR"`
	DBPath      string `mapstructure:"BROKER_DB_PATH"`
	DeviceName  string `mapstructure:"DEVICE_NAME"`
	APIKey      string `mapstructure:"API_KEY"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`
	// Pairing
	PinTTL                time.Duration `mapstructure:"PIN_TTL"`
	PinLength             int           `mapstructure:"PIN_LENGTH"`
	PinSweepInterval      time.Duration `mapstructure:"PIN_SWEEP_INTERVAL"`
	PairAttemptsPerMinute int           `mapstructure:"PAIR_ATTEMPTS_PER_MINUTE"`
	// Liveness
	HeartbeatInterval time.Duration `mapstructure:"HEARTBEAT_INTERVAL"`
	HeartbeatTimeout  time.Duration `mapstructure:"HEARTBEAT_TIMEOUT"`
	ArmTimeout        time.Duration `mapstructure:"ARM_TIMEOUT"`
	// State feed
	SubscriberBuffer int `mapstructure:"SUBSCRIBER_BUFFER"`
}

// Load builds a Config from defaults, the YAML file named by BROKER_CONFIG
// (if set), and the environment, in increasing precedence.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path := os.Getenv("BROKER_CONFIG"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "desktop"
	}

	v.SetDefault("CONTROL_ADDR", "127.0.0.1:8742")
	v.SetDefault("MOBILE_ADDR", ":8743")
	v.SetDefault("BROKER_DB_PATH", defaultDBPath())
	v.SetDefault("DEVICE_NAME", hostname)
	v.SetDefault("API_KEY", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("PIN_TTL", pin.DefaultTTL)
	v.SetDefault("PIN_LENGTH", pin.DefaultLength)
	v.SetDefault("PIN_SWEEP_INTERVAL", time.Second)
	v.SetDefault("PAIR_ATTEMPTS_PER_MINUTE", 10)
	v.SetDefault("HEARTBEAT_INTERVAL", 15*time.Second)
	v.SetDefault("HEARTBEAT_TIMEOUT", 45*time.Second)
	v.SetDefault("ARM_TIMEOUT", 5*time.Second)
	v.SetDefault("SUBSCRIBER_BUFFER", 64)
}

func defaultDBPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "remote.db"
	}
	return filepath.Join(dir, "clive-remote", "remote.db")
}

func (c *Config) validate() error {
	if c.ControlAddr == "" {
		return errors.New("CONTROL_ADDR must not be empty")
	}
	if c.MobileAddr == "" {
		return errors.New("MOBILE_ADDR must not be empty")
	}
	if c.DBPath == "" {
		return errors.New("BROKER_DB_PATH must not be empty")
	}
	if c.DeviceName == "" {
		return errors.New("DEVICE_NAME must not be empty")
	}
	if c.PinLength < pin.MinLength || c.PinLength > pin.MaxLength {
		return fmt.Errorf("PIN_LENGTH must be between %d and %d, got %d", pin.MinLength, pin.MaxLength, c.PinLength)
	}
	if c.PinTTL <= 0 {
		return fmt.Errorf("PIN_TTL must be positive, got %s", c.PinTTL)
	}
	if c.PinSweepInterval <= 0 || c.PinSweepInterval > c.PinTTL {
		return fmt.Errorf("PIN_SWEEP_INTERVAL must be positive and at most PIN_TTL, got %s", c.PinSweepInterval)
	}
	if c.PairAttemptsPerMinute < 1 {
		return fmt.Errorf("PAIR_ATTEMPTS_PER_MINUTE must be positive, got %d", c.PairAttemptsPerMinute)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("HEARTBEAT_INTERVAL must be positive, got %s", c.HeartbeatInterval)
	}
	if c.HeartbeatTimeout <= c.HeartbeatInterval {
		return fmt.Errorf("HEARTBEAT_TIMEOUT (%s) must exceed HEARTBEAT_INTERVAL (%s)", c.HeartbeatTimeout, c.HeartbeatInterval)
	}
	if c.ArmTimeout <= 0 {
		return fmt.Errorf("ARM_TIMEOUT must be positive, got %s", c.ArmTimeout)
	}
	if c.SubscriberBuffer < 1 {
		return fmt.Errorf("SUBSCRIBER_BUFFER must be positive, got %d", c.SubscriberBuffer)
	}
	return nil
}

// Debug reports whether LOG_LEVEL asks for debug logging.
func (c *Config) Debug() bool {
	return c.LogLevel == "debug"
}
