// Package config loads the TOML configuration of protorpcd and the protorpc client.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"go.uber.org/multierr"

	"protorpc/codec"
	"protorpc/logging"
)

type Mode string

const (
	ModeBlocking Mode = "blocking"
	ModeAsync    Mode = "async"
)

// Duration is a time.Duration written as a Go duration string ("5s", "250ms").
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

type ServerConfig struct {
	Addr              string         `toml:"addr"`
	Mode              Mode           `toml:"mode"`
	Codec             string         `toml:"codec"`
	MaxFrameSize      uint32         `toml:"max_frame_size"`
	ShutdownTimeout   Duration       `toml:"shutdown_timeout"`
	HandlerTimeout    Duration       `toml:"handler_timeout"`
	RateLimit         float64        `toml:"rate_limit"` // calls per second, 0 disables
	RateBurst         int            `toml:"rate_burst"`
	HeartbeatInterval Duration       `toml:"heartbeat_interval"`
	MetricsAddr       string         `toml:"metrics_addr"`
	Log               logging.Config `toml:"log"`
}

type ClientConfig struct {
	Addr        string         `toml:"addr"`
	Mode        Mode           `toml:"mode"`
	Codec       string         `toml:"codec"`
	PoolSize    int            `toml:"pool_size"`
	CallTimeout Duration       `toml:"call_timeout"`
	Log         logging.Config `toml:"log"`
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:            "127.0.0.1:8080",
		Mode:            ModeBlocking,
		Codec:           "json",
		ShutdownTimeout: Duration{5 * time.Second},
		Log:             logging.DefaultConfig(logging.ProfileRuntime),
	}
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Addr:        "127.0.0.1:8080",
		Mode:        ModeBlocking,
		Codec:       "json",
		PoolSize:    1,
		CallTimeout: Duration{10 * time.Second},
		Log:         logging.DefaultConfig(logging.ProfileRuntime),
	}
}

// LoadServerConfig reads path over the defaults. An empty path yields the defaults.
func LoadServerConfig(path string) (ServerConfig, error) {
	cfg := DefaultServerConfig()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return ServerConfig{}, fmt.Errorf("load server config: %w", err)
		}
	}
	logging.ApplyEnv(&cfg.Log)
	if err := cfg.Validate(); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

func LoadClientConfig(path string) (ClientConfig, error) {
	cfg := DefaultClientConfig()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return ClientConfig{}, fmt.Errorf("load client config: %w", err)
		}
	}
	logging.ApplyEnv(&cfg.Log)
	if err := cfg.Validate(); err != nil {
		return ClientConfig{}, err
	}
	return cfg, nil
}

func (c ServerConfig) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Addr) == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	errs = append(errs, validateMode(c.Mode), validateCodec(c.Codec), c.Log.Validate())
	if c.RateLimit < 0 {
		errs = append(errs, errors.New("rate_limit must not be negative"))
	}
	if c.RateLimit > 0 && c.RateBurst < 1 {
		errs = append(errs, errors.New("rate_burst must be at least 1 when rate_limit is set"))
	}
	if c.HeartbeatInterval.Duration > 0 && c.Mode != ModeAsync {
		errs = append(errs, errors.New("heartbeat_interval needs mode = \"async\""))
	}
	return wrap("server config", multierr.Combine(errs...))
}

func (c ClientConfig) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Addr) == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	errs = append(errs, validateMode(c.Mode), validateCodec(c.Codec), c.Log.Validate())
	if c.PoolSize < 1 {
		errs = append(errs, errors.New("pool_size must be at least 1"))
	}
	return wrap("client config", multierr.Combine(errs...))
}

// CodecType resolves the configured payload codec.
func (c ServerConfig) CodecType() codec.CodecType {
	t, _ := codec.ParseCodecType(c.Codec)
	return t
}

func (c ClientConfig) CodecType() codec.CodecType {
	t, _ := codec.ParseCodecType(c.Codec)
	return t
}

func validateMode(m Mode) error {
	switch m {
	case ModeBlocking, ModeAsync:
		return nil
	default:
		return fmt.Errorf("unknown mode %q", m)
	}
}

func validateCodec(name string) error {
	_, err := codec.ParseCodecType(name)
	return err
}

func wrap(what string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", what, err)
}
