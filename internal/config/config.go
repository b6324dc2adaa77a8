// Package config loads apsync settings from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Prefix is prepended to every variable name.
const Prefix = "APSYNC_"

// Config holds settings shared by the commands. Command-line flags
// override these values.
type Config struct {
	Server   string `env:"SERVER"`
	Slot     string `env:"SLOT"`
	Password string `env:"PASSWORD"`

	Database string `env:"DB" envDefault:"apsync.db"`
	CertFile string `env:"CERT_FILE"`

	Game          string   `env:"GAME" envDefault:"Okami HD"`
	ClientVersion string   `env:"CLIENT_VERSION"`
	Tags          []string `env:"TAGS" envSeparator:","`

	Tick             time.Duration `env:"TICK" envDefault:"16ms"`
	PollConnecting   time.Duration `env:"POLL_CONNECTING" envDefault:"200ms"`
	PollConnected    time.Duration `env:"POLL_CONNECTED" envDefault:"1s"`
	HandshakeTimeout time.Duration `env:"HANDSHAKE_TIMEOUT" envDefault:"10s"`
	ScoutTimeout     time.Duration `env:"SCOUT_TIMEOUT" envDefault:"5s"`
	AutoReconnect    bool          `env:"AUTO_RECONNECT" envDefault:"true"`

	MetricsAddr string `env:"METRICS_ADDR"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load reads the process environment.
func Load() (Config, error) {
	return parse(env.Options{Prefix: Prefix})
}

// LoadFrom reads vars instead of the process environment. Keys carry the prefix.
func LoadFrom(vars map[string]string) (Config, error) {
	return parse(env.Options{Prefix: Prefix, Environment: vars})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Validate checks the settings a connection needs.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Server) == "" {
		errs = append(errs, errors.New("server is required"))
	}
	if strings.TrimSpace(c.Slot) == "" {
		errs = append(errs, errors.New("slot is required"))
	}
	for name, d := range map[string]time.Duration{
		"tick":              c.Tick,
		"poll interval":     c.PollConnecting,
		"connected poll":    c.PollConnected,
		"handshake timeout": c.HandshakeTimeout,
		"scout timeout":     c.ScoutTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Level parses LogLevel.
func (c Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log level %q: %w", c.LogLevel, err)
	}
	return level, nil
}
