// Package config loads worker settings from the environment.
package config

import (
	"fmt"
	"strings"

	"go-bridge/internal/otel"
	"go-bridge/relay"

	"github.com/caarlos0/env/v11"
	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

// Config holds the BRIDGE_* environment settings shared by the binaries.
type Config struct {
	LogLevel     string `env:"BRIDGE_LOG_LEVEL" envDefault:"info"`
	LogFormat    string `env:"BRIDGE_LOG_FORMAT" envDefault:"json"`
	Codec        string `env:"BRIDGE_CODEC" envDefault:"json"`
	StrictFrames bool   `env:"BRIDGE_STRICT_FRAMES" envDefault:"false"`
	// MaxFrameSize accepts human sizes such as "10MiB" or "512kB".
	MaxFrameSize string `env:"BRIDGE_MAX_FRAME_SIZE" envDefault:"10MiB"`

	OTelEndpoint string `env:"BRIDGE_OTEL_ENDPOINT"`
	OTelEnabled  bool   `env:"BRIDGE_OTEL_ENABLED" envDefault:"true"`
	ServiceName  string `env:"BRIDGE_SERVICE_NAME" envDefault:"go-bridge-worker"`
	// OTelSampleRatio is the share of root spans kept, between 0 and 1.
	OTelSampleRatio float64 `env:"BRIDGE_OTEL_SAMPLE_RATIO" envDefault:"1"`

	maxFrameBytes int
}

func defaultConfig() *Config {
	return &Config{
		LogLevel:        "info",
		LogFormat:       "json",
		Codec:           "json",
		MaxFrameSize:    "10MiB",
		OTelEnabled:     true,
		ServiceName:     "go-bridge-worker",
		OTelSampleRatio: 1,
		maxFrameBytes:   relay.DefaultMaxFrameSize,
	}
}

// Load parses the environment. Invalid values are logged and replaced by
// their defaults; only a failure to parse the environment at all is an error.
func Load(log *zap.SugaredLogger) (*Config, error) {
	cfg := defaultConfig()
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.validate(log)
	return cfg, nil
}

// Tracing returns the tracing settings for otel.Setup.
func (c *Config) Tracing() otel.Tracing {
	return otel.Tracing{
		ServiceName: c.ServiceName,
		Endpoint:    c.OTelEndpoint,
		Enabled:     c.OTelEnabled,
		SampleRatio: c.OTelSampleRatio,
	}
}

// MaxFrameBytes returns MaxFrameSize in bytes.
func (c *Config) MaxFrameBytes() int {
	return c.maxFrameBytes
}

func (c *Config) validate(log *zap.SugaredLogger) {
	def := defaultConfig()

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
		c.LogLevel = strings.ToLower(c.LogLevel)
	default:
		log.Warnf("[config] BRIDGE_LOG_LEVEL=%q is invalid, falling back to %s", c.LogLevel, def.LogLevel)
		c.LogLevel = def.LogLevel
	}

	switch strings.ToLower(c.LogFormat) {
	case "json", "console":
		c.LogFormat = strings.ToLower(c.LogFormat)
	default:
		log.Warnf("[config] BRIDGE_LOG_FORMAT=%q is invalid, falling back to %s", c.LogFormat, def.LogFormat)
		c.LogFormat = def.LogFormat
	}

	switch strings.ToLower(c.Codec) {
	case "json", "cbor":
		c.Codec = strings.ToLower(c.Codec)
	default:
		log.Warnf("[config] BRIDGE_CODEC=%q is invalid, falling back to %s", c.Codec, def.Codec)
		c.Codec = def.Codec
	}

	n, err := humanize.ParseBytes(c.MaxFrameSize)
	if err != nil || n == 0 || n > 1<<31 {
		log.Warnf("[config] BRIDGE_MAX_FRAME_SIZE=%q is invalid, falling back to %s", c.MaxFrameSize, def.MaxFrameSize)
		c.MaxFrameSize = def.MaxFrameSize
		c.maxFrameBytes = def.maxFrameBytes
	} else {
		c.maxFrameBytes = int(n)
	}

	if c.OTelSampleRatio < 0 || c.OTelSampleRatio > 1 {
		log.Warnf("[config] BRIDGE_OTEL_SAMPLE_RATIO=%v is outside [0,1], falling back to %v", c.OTelSampleRatio, def.OTelSampleRatio)
		c.OTelSampleRatio = def.OTelSampleRatio
	}

	if c.ServiceName == "" {
		c.ServiceName = def.ServiceName
	}
}
