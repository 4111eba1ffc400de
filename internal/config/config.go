// ABOUTME: Application configuration from defaults, file, .env and environment
// ABOUTME: Environment variables use the TRACKDECK_ prefix with _ for nesting
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. TRACKDECK_AUDIO_BACKEND
const EnvPrefix = "TRACKDECK"

// Config is the complete application configuration
type Config struct {
	Catalog    CatalogConfig    `mapstructure:"catalog"`
	Playback   PlaybackConfig   `mapstructure:"playback"`
	Audio      AudioConfig      `mapstructure:"audio"`
	Waveform   WaveformConfig   `mapstructure:"waveform"`
	Visualizer VisualizerConfig `mapstructure:"visualizer"`
	Remote     RemoteConfig     `mapstructure:"remote"`
	Log        LogConfig        `mapstructure:"log"`
	Artwork    ArtworkConfig    `mapstructure:"artwork"`
	UI         UIConfig         `mapstructure:"ui"`
}

type CatalogConfig struct {
	URL              string        `mapstructure:"url"`
	File             string        `mapstructure:"file"`
	DiscoveryTimeout time.Duration `mapstructure:"discovery_timeout"`
}

type PlaybackConfig struct {
	QualityOrder []string `mapstructure:"quality_order"`
}

type AudioConfig struct {
	Backend    string `mapstructure:"backend"` // oto, malgo or null
	SampleRate int    `mapstructure:"sample_rate"`
	Channels   int    `mapstructure:"channels"`
	MaxGraphs  int    `mapstructure:"max_graphs"`
}

type WaveformConfig struct {
	Bins       int `mapstructure:"bins"`
	SampleRate int `mapstructure:"sample_rate"`
}

type VisualizerConfig struct {
	FPS     int `mapstructure:"fps"`
	FFTSize int `mapstructure:"fft_size"`
}

type RemoteConfig struct {
	Addr string `mapstructure:"addr"` // empty disables the remote server
}

type LogConfig struct {
	File  string `mapstructure:"file"`
	Level string `mapstructure:"level"`
}

type ArtworkConfig struct {
	Dir string `mapstructure:"dir"`
}

type UIConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Options selects the sources Load reads
type Options struct {
	// File is an optional YAML or TOML config file
	File string

	// EnvFile is loaded into the environment when present (default .env)
	EnvFile string
}

// setDefaults registers every key so environment overrides bind
func setDefaults(v *viper.Viper) {
	v.SetDefault("catalog.url", "")
	v.SetDefault("catalog.file", "")
	v.SetDefault("catalog.discovery_timeout", 5*time.Second)
	v.SetDefault("playback.quality_order", []string{"medium", "high", "low"})
	v.SetDefault("audio.backend", "oto")
	v.SetDefault("audio.sample_rate", 44100)
	v.SetDefault("audio.channels", 2)
	v.SetDefault("audio.max_graphs", 1)
	v.SetDefault("waveform.bins", 150)
	v.SetDefault("waveform.sample_rate", 22050)
	v.SetDefault("visualizer.fps", 60)
	v.SetDefault("visualizer.fft_size", 2048)
	v.SetDefault("remote.addr", "")
	v.SetDefault("log.file", "trackdeck.log")
	v.SetDefault("log.level", "info")
	v.SetDefault("artwork.dir", "")
	v.SetDefault("ui.enabled", true)
}

// Load builds the configuration. Precedence from lowest: defaults, config
// file, .env file, environment.
func Load(opts Options) (*Config, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	// godotenv never overrides variables already set
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.File != "" {
		v.SetConfigFile(opts.File)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges
func (c *Config) Validate() error {
	switch c.Audio.Backend {
	case "oto", "malgo", "null":
	default:
		return fmt.Errorf("invalid audio.backend %q: must be oto, malgo or null", c.Audio.Backend)
	}
	if c.Audio.SampleRate <= 0 || c.Audio.Channels <= 0 {
		return fmt.Errorf("invalid audio format: %d Hz, %d channels", c.Audio.SampleRate, c.Audio.Channels)
	}
	if c.Audio.MaxGraphs <= 0 {
		return fmt.Errorf("audio.max_graphs must be positive, got %d", c.Audio.MaxGraphs)
	}
	if c.Waveform.Bins <= 0 || c.Waveform.SampleRate <= 0 {
		return fmt.Errorf("invalid waveform settings: %d bins at %d Hz", c.Waveform.Bins, c.Waveform.SampleRate)
	}
	if c.Visualizer.FPS <= 0 || c.Visualizer.FPS > 240 {
		return fmt.Errorf("visualizer.fps must be in 1..240, got %d", c.Visualizer.FPS)
	}
	if n := c.Visualizer.FFTSize; n < 32 || n&(n-1) != 0 {
		return fmt.Errorf("visualizer.fft_size must be a power of two >= 32, got %d", n)
	}
	if c.Catalog.URL != "" && c.Catalog.File != "" {
		return errors.New("catalog.url and catalog.file are mutually exclusive")
	}
	return nil
}
