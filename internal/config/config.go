// Package config loads framedump settings from YAML or TOML files.
package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/goccy/go-yaml"
	"github.com/pkg/errors"

	"github.com/Zereker/framing"
)

// Output formats.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
	FormatRaw  = "raw"
)

// Config is the framedump configuration file.
type Config struct {
	Reader ReaderConfig `yaml:"reader" toml:"reader"`
	Server ServerConfig `yaml:"server" toml:"server"`
	Output OutputConfig `yaml:"output" toml:"output"`
	Log    LogConfig    `yaml:"log" toml:"log"`
}

// ReaderConfig maps onto framing options.
type ReaderConfig struct {
	ChunkSize      int  `yaml:"chunk_size,omitempty" toml:"chunk_size"`
	MaxHeaderSize  int  `yaml:"max_header_size,omitempty" toml:"max_header_size"`
	MaxMessageSize int  `yaml:"max_message_size,omitempty" toml:"max_message_size"`
	ReadSize       int  `yaml:"read_size,omitempty" toml:"read_size"`
	QueueSize      int  `yaml:"queue_size,omitempty" toml:"queue_size"`
	UseNumber      bool `yaml:"use_number,omitempty" toml:"use_number"`

	// Heartbeat is a Go duration string such as "30s".
	Heartbeat string `yaml:"heartbeat,omitempty" toml:"heartbeat"`

	// StopOnError closes the stream at the first malformed frame instead
	// of skipping it.
	StopOnError bool `yaml:"stop_on_error,omitempty" toml:"stop_on_error"`
}

// ServerConfig configures `framedump listen`.
type ServerConfig struct {
	// ShutdownTimeout is a Go duration string such as "5s".
	ShutdownTimeout string `yaml:"shutdown_timeout,omitempty" toml:"shutdown_timeout"`
}

// OutputConfig controls how decoded messages are printed.
type OutputConfig struct {
	Format string `yaml:"format,omitempty" toml:"format"`
	Query  string `yaml:"query,omitempty" toml:"query"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level string `yaml:"level,omitempty" toml:"level"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Output: OutputConfig{Format: FormatJSON},
		Log:    LogConfig{Level: "info"},
	}
}

// Load reads path on top of Default. Files ending in .toml are parsed as
// TOML, everything else as YAML (which also covers JSON).
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, errors.Wrapf(err, "parse %s", path)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "parse %s", path)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid config %s", path)
	}
	return cfg, nil
}

// Validate checks values that cannot be caught by the decoders.
func (c *Config) Validate() error {
	switch c.Output.Format {
	case "", FormatJSON, FormatYAML, FormatRaw:
	default:
		return errors.Errorf("unsupported output format %q", c.Output.Format)
	}
	if _, err := c.HeartbeatDuration(); err != nil {
		return err
	}
	if _, err := c.ShutdownTimeout(); err != nil {
		return err
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	return nil
}

// HeartbeatDuration parses Reader.Heartbeat. Zero means the default.
func (c *Config) HeartbeatDuration() (time.Duration, error) {
	return parseDuration("reader.heartbeat", c.Reader.Heartbeat)
}

// ShutdownTimeout parses Server.ShutdownTimeout.
func (c *Config) ShutdownTimeout() (time.Duration, error) {
	return parseDuration("server.shutdown_timeout", c.Server.ShutdownTimeout)
}

// LogLevel parses Log.Level; empty means info.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if c.Log.Level == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, errors.Wrap(err, "log.level")
	}
	return level, nil
}

// Options converts the reader settings into framing options.
func (c *Config) Options() []framing.Option {
	heartbeat, _ := c.HeartbeatDuration()

	opts := []framing.Option{
		framing.ChunkSizeOption(c.Reader.ChunkSize),
		framing.HeaderMaxSize(c.Reader.MaxHeaderSize),
		framing.MessageMaxSize(c.Reader.MaxMessageSize),
		framing.ReadSizeOption(c.Reader.ReadSize),
		framing.BufferSizeOption(c.Reader.QueueSize),
		framing.HeartbeatOption(heartbeat),
	}
	if c.Reader.UseNumber {
		opts = append(opts, framing.DecoderOption(framing.JSONDecoder{UseNumber: true}))
	}
	return opts
}

// ErrorAction is what the reader should do with a malformed frame.
func (c *Config) ErrorAction() framing.ErrorAction {
	if c.Reader.StopOnError {
		return framing.Disconnect
	}
	return framing.Continue
}

func parseDuration(name, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, errors.Wrap(err, name)
	}
	return d, nil
}
