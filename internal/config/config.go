// Package config loads otn settings from an optional YAML file overlaid
// with OTN_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/caarlos0/env/v11"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/OpenTraceLab/OpenTraceNAND/pkg/capture"
	"github.com/OpenTraceLab/OpenTraceNAND/pkg/joiner"
	"github.com/OpenTraceLab/OpenTraceNAND/pkg/pipeline"
	"github.com/OpenTraceLab/OpenTraceNAND/pkg/registry"
	"github.com/OpenTraceLab/OpenTraceNAND/pkg/resync"
)

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "OTN_"

// Config holds all tunables.
type Config struct {
	Resync  ResyncConfig  `yaml:"resync" envPrefix:"RESYNC_"`
	Sync    SyncConfig    `yaml:"sync" envPrefix:"SYNC_"`
	Fudge   FudgeConfig   `yaml:"fudge" envPrefix:"FUDGE_"`
	Decoder DecoderConfig `yaml:"decoder" envPrefix:"DECODER_"`
	Log     LogConfig     `yaml:"log" envPrefix:"LOG_"`
}

type ResyncConfig struct {
	Capacity      int `yaml:"capacity" env:"CAPACITY"`
	WindowPercent int `yaml:"window_percent" env:"WINDOW_PERCENT"`
	Tolerance     int `yaml:"tolerance" env:"TOLERANCE"`
	MaxLiveOffset int `yaml:"max_live_offset" env:"MAX_LIVE_OFFSET"`
}

// SyncConfig names the host command treated as a sync marker.
type SyncConfig struct {
	Command  string `yaml:"command" env:"COMMAND"`
	Argument uint32 `yaml:"argument" env:"ARGUMENT"`
}

// FudgeConfig pins the timestamp of the reset card command.
type FudgeConfig struct {
	Enabled          bool   `yaml:"enabled" env:"ENABLED"`
	ResetCardCommand string `yaml:"reset_card_command" env:"RESET_CARD_COMMAND"`
	ResetCardSec     uint32 `yaml:"reset_card_sec" env:"RESET_CARD_SEC"`
	ResetCardNsec    uint32 `yaml:"reset_card_nsec" env:"RESET_CARD_NSEC"`
}

type DecoderConfig struct {
	RegistryCapacity int `yaml:"registry_capacity" env:"REGISTRY_CAPACITY"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	rc := resync.DefaultConfig()
	return Config{
		Resync: ResyncConfig{
			Capacity:      rc.Capacity,
			WindowPercent: rc.WindowPercent,
			Tolerance:     rc.Tolerance,
			MaxLiveOffset: rc.MaxLiveOffset,
		},
		Sync: SyncConfig{
			Command:  joiner.DefaultSyncCommand,
			Argument: joiner.DefaultSyncArgument,
		},
		Fudge: FudgeConfig{
			Enabled:          true,
			ResetCardCommand: joiner.DefaultResetCardCommand,
		},
		Decoder: DecoderConfig{RegistryCapacity: registry.DefaultCapacity},
		Log:     LogConfig{Level: "info", Format: "console"},
	}
}

// Load returns the defaults overlaid with the YAML file at path, if path is
// not empty, and then with the environment.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("config: %w", err)
		}
		defer f.Close()
		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return cfg, fmt.Errorf("config: parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	if _, err := c.Joiner(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Decoder.RegistryCapacity <= 0 {
		return fmt.Errorf("config: decoder.registry_capacity must be positive, got %d", c.Decoder.RegistryCapacity)
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config: log.level: %w", err)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("config: log.format %q must be json or console", c.Log.Format)
	}
	return nil
}

// Joiner converts the settings into a controller configuration.
func (c Config) Joiner() (joiner.Config, error) {
	jc := joiner.Config{
		Resync: resync.Config{
			Capacity:      c.Resync.Capacity,
			WindowPercent: c.Resync.WindowPercent,
			Tolerance:     c.Resync.Tolerance,
			MaxLiveOffset: c.Resync.MaxLiveOffset,
		},
		SyncArgument:   c.Sync.Argument,
		FudgeResetCard: c.Fudge.Enabled,
		ResetCardTime:  capture.Timestamp{Sec: c.Fudge.ResetCardSec, Nsec: c.Fudge.ResetCardNsec},
	}
	var err error
	if jc.SyncCommand, err = joiner.CommandName(c.Sync.Command); err != nil {
		return jc, err
	}
	if jc.ResetCardCommand, err = joiner.CommandName(c.Fudge.ResetCardCommand); err != nil {
		return jc, err
	}
	return jc, jc.Validate()
}

// Pipeline returns session options logging to log.
func (c Config) Pipeline(log *zap.Logger) (pipeline.Options, error) {
	jc, err := c.Joiner()
	if err != nil {
		return pipeline.Options{}, fmt.Errorf("config: %w", err)
	}
	return pipeline.Options{
		Joiner:           jc,
		RegistryCapacity: c.Decoder.RegistryCapacity,
		Logger:           log,
	}, nil
}
