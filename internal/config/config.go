// Package config holds the diskcached daemon configuration and its TOML
// encoding.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/dreamware/diskcache/internal/logger"
)

const (
	// DefaultDir is the default store directory.
	DefaultDir = "./data"

	// DefaultShards is the default number of shards.
	DefaultShards = 4

	// DefaultListen is the default HTTP listen address.
	DefaultListen = ":8081"
)

// Config is the daemon configuration.
type Config struct {
	Dir           string        `toml:"dir"`
	Shards        int           `toml:"shards"`
	FlushInterval Duration      `toml:"flush-interval"`
	HTTP          HTTPConfig    `toml:"http"`
	Logging       logger.Config `toml:"logging"`
}

// HTTPConfig configures the HTTP listener.
type HTTPConfig struct {
	Listen          string   `toml:"listen"`
	ShutdownTimeout Duration `toml:"shutdown-timeout"`
}

// NewConfig returns a Config with default values.
func NewConfig() Config {
	return Config{
		Dir:    DefaultDir,
		Shards: DefaultShards,
		HTTP: HTTPConfig{
			Listen:          DefaultListen,
			ShutdownTimeout: Duration(5 * time.Second),
		},
		Logging: logger.NewConfig(),
	}
}

// Load reads a TOML file over the defaults. Keys missing from the file keep
// their default values; unknown keys are an error.
func Load(path string) (Config, error) {
	c := NewConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("read config: %w", err)
	}

	md, err := toml.Decode(string(data), &c)
	if err != nil {
		return c, fmt.Errorf("parse config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return c, fmt.Errorf("config %s: unknown key %q", path, undecoded[0].String())
	}
	return c, nil
}

// Validate returns an error if the config is invalid.
func (c Config) Validate() error {
	if c.Dir == "" {
		return errors.New("dir must not be empty")
	}
	if c.Shards < 1 {
		return fmt.Errorf("shards must be at least 1, got %d", c.Shards)
	}
	if c.FlushInterval < 0 {
		return errors.New("flush-interval must not be negative")
	}
	if c.HTTP.Listen == "" {
		return errors.New("http listen address must not be empty")
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		return errors.New("http shutdown-timeout must be positive")
	}
	return nil
}

// Duration is a time.Duration that encodes to and from TOML as a string
// such as "1m30s".
type Duration time.Duration

// String returns the string representation of the duration.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// UnmarshalText parses a TOML value into a duration value.
func (d *Duration) UnmarshalText(text []byte) error {
	// Ignore if there is no value set.
	if len(text) == 0 {
		return nil
	}

	duration, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(duration)
	return nil
}

// MarshalText converts a duration to a string for encoding to TOML.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}
