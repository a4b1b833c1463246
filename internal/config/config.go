// Package config loads the runtime configuration of the streamer binaries
// from the environment. A .env file in the working directory is read first
// when present; real environment variables win over it.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Addr           string        `env:"ADDR" envDefault:":3000"`
	WebsocketPath  string        `env:"WS_PATH" envDefault:"/websocket"`
	NATSURL        string        `env:"NATS_URL"`
	NATSPrefix     string        `env:"NATS_PREFIX" envDefault:"streamer"`
	NATSHeartbeat  time.Duration `env:"NATS_HEARTBEAT" envDefault:"30s"`
	Streams        []string      `env:"STREAMS" envDefault:"notifications" envSeparator:","`
	Retransmission bool          `env:"RETRANSMISSION" envDefault:"true"`
	Timestamps     bool          `env:"TIMESTAMPS" envDefault:"true"`
	SendBuffer     int           `env:"SEND_BUFFER" envDefault:"64"`
	LogLevel       slog.Level    `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat      string        `env:"LOG_FORMAT" envDefault:"console"`
}

// Prefix is prepended to every variable name.
const Prefix = "STREAMER_"

// Load reads the optional dotenv files and parses the environment into a Config.
func Load(dotenv ...string) (Config, error) {
	if err := godotenv.Load(dotenv...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load dotenv: %w", err)
	}
	return Parse(env.Options{})
}

// Parse parses the environment described by opts into a Config. The
// variable prefix is always applied.
func Parse(opts env.Options) (Config, error) {
	opts.Prefix = Prefix
	cfg, err := env.ParseAsWithOptions[Config](opts)
	if err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports configuration values that cannot work.
func (c Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("STREAMER_ADDR must not be empty"))
	}
	if !strings.HasPrefix(c.WebsocketPath, "/") {
		errs = append(errs, fmt.Errorf("STREAMER_WS_PATH must start with /, got %q", c.WebsocketPath))
	}
	if c.SendBuffer <= 0 {
		errs = append(errs, fmt.Errorf("STREAMER_SEND_BUFFER must be positive, got %d", c.SendBuffer))
	}
	if c.NATSHeartbeat < 0 {
		errs = append(errs, fmt.Errorf("STREAMER_NATS_HEARTBEAT must not be negative, got %s", c.NATSHeartbeat))
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("STREAMER_LOG_FORMAT must be console or json, got %q", c.LogFormat))
	}
	for _, name := range c.Streams {
		if strings.TrimSpace(name) == "" {
			errs = append(errs, errors.New("STREAMER_STREAMS must not contain empty names"))
			break
		}
	}
	return errors.Join(errs...)
}
