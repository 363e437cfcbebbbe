// Package logging builds the zap loggers used across protorpc.
package logging

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	EnvLogLevel    = "PROTORPC_LOG_LEVEL"
	EnvLogEncoding = "PROTORPC_LOG_ENCODING"
)

type Profile int

const (
	ProfileRuntime Profile = iota
	ProfileTest
)

// Config is the [log] table of the server and client configuration files.
type Config struct {
	Level       string `toml:"level"`
	Encoding    string `toml:"encoding"` // "console" or "json"
	Development bool   `toml:"development"`
}

func DefaultConfig(profile Profile) Config {
	switch profile {
	case ProfileTest:
		return Config{Level: "debug", Encoding: "console", Development: true}
	default:
		return Config{Level: "info", Encoding: "json"}
	}
}

// ApplyEnv overrides cfg from PROTORPC_LOG_LEVEL and PROTORPC_LOG_ENCODING when they are set.
func ApplyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.Level = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogEncoding)); v != "" {
		cfg.Encoding = v
	}
}

func parseLevel(raw string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zapcore.InfoLevel, nil
	case "trace":
		return zapcore.DebugLevel, nil
	case "warning":
		return zapcore.WarnLevel, nil
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(raw)))); err != nil {
		return lvl, fmt.Errorf("logging: unknown level %q", raw)
	}
	return lvl, nil
}

// Validate reports a level or encoding zap does not understand.
func (c Config) Validate() error {
	if _, err := parseLevel(c.Level); err != nil {
		return err
	}
	switch c.Encoding {
	case "", "console", "json":
		return nil
	default:
		return fmt.Errorf("logging: unknown encoding %q", c.Encoding)
	}
}

// New builds a logger writing to stderr.
func New(cfg Config) (*zap.Logger, error) {
	lvl, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	var zc zap.Config
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	switch cfg.Encoding {
	case "":
	case "console", "json":
		zc.Encoding = cfg.Encoding
	default:
		return nil, fmt.Errorf("logging: unknown encoding %q", cfg.Encoding)
	}
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zc.Build()
}

// NewFromEnv builds a logger from the profile defaults and the environment.
func NewFromEnv(profile Profile) (*zap.Logger, error) {
	cfg := DefaultConfig(profile)
	ApplyEnv(&cfg)
	return New(cfg)
}
