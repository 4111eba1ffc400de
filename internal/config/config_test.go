// ABOUTME: Tests for configuration loading
// ABOUTME: Covers defaults, files, .env and environment precedence
package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

// noEnvFile points Load at a .env that does not exist
func noEnvFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "missing.env")
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(Options{EnvFile: noEnvFile(t)})
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Audio.Backend != "oto" || cfg.Audio.SampleRate != 44100 || cfg.Audio.MaxGraphs != 1 {
		t.Errorf("unexpected audio defaults: %+v", cfg.Audio)
	}
	if cfg.Waveform.Bins != 150 || cfg.Waveform.SampleRate != 22050 {
		t.Errorf("unexpected waveform defaults: %+v", cfg.Waveform)
	}
	if cfg.Visualizer.FPS != 60 || cfg.Visualizer.FFTSize != 2048 {
		t.Errorf("unexpected visualizer defaults: %+v", cfg.Visualizer)
	}
	if want := []string{"medium", "high", "low"}; !reflect.DeepEqual(cfg.Playback.QualityOrder, want) {
		t.Errorf("expected quality order %v, got %v", want, cfg.Playback.QualityOrder)
	}
	if cfg.Catalog.DiscoveryTimeout != 5*time.Second {
		t.Errorf("unexpected discovery timeout %v", cfg.Catalog.DiscoveryTimeout)
	}
	if !cfg.UI.Enabled {
		t.Error("expected UI enabled by default")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trackdeck.yaml")
	content := `
catalog:
  url: http://catalog.local:8000
playback:
  quality_order: [high, low]
audio:
  backend: "null"
waveform:
  bins: 300
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(Options{File: path, EnvFile: noEnvFile(t)})
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Catalog.URL != "http://catalog.local:8000" {
		t.Errorf("unexpected catalog url %q", cfg.Catalog.URL)
	}
	if !reflect.DeepEqual(cfg.Playback.QualityOrder, []string{"high", "low"}) {
		t.Errorf("unexpected quality order %v", cfg.Playback.QualityOrder)
	}
	if cfg.Audio.Backend != "null" || cfg.Waveform.Bins != 300 {
		t.Errorf("file values not applied: %+v %+v", cfg.Audio, cfg.Waveform)
	}
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trackdeck.yaml")
	if err := os.WriteFile(path, []byte("audio:\n  backend: malgo\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TRACKDECK_AUDIO_BACKEND", "null")
	t.Setenv("TRACKDECK_VISUALIZER_FPS", "30")

	cfg, err := Load(Options{File: path, EnvFile: noEnvFile(t)})
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Audio.Backend != "null" {
		t.Errorf("expected env backend, got %q", cfg.Audio.Backend)
	}
	if cfg.Visualizer.FPS != 30 {
		t.Errorf("expected env fps, got %d", cfg.Visualizer.FPS)
	}
}

func TestEnvFile(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(envFile, []byte("TRACKDECK_REMOTE_ADDR=127.0.0.1:9000\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	// godotenv sets variables directly; register cleanup before loading
	t.Setenv("TRACKDECK_REMOTE_ADDR", "")
	os.Unsetenv("TRACKDECK_REMOTE_ADDR")

	cfg, err := Load(Options{EnvFile: envFile})
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Remote.Addr != "127.0.0.1:9000" {
		t.Errorf("expected .env value, got %q", cfg.Remote.Addr)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(Options{File: filepath.Join(t.TempDir(), "nope.yaml"), EnvFile: noEnvFile(t)})
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load(Options{EnvFile: noEnvFile(t)})
		if err != nil {
			t.Fatal(err)
		}
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"backend", func(c *Config) { c.Audio.Backend = "alsa" }, "audio.backend"},
		{"graphs", func(c *Config) { c.Audio.MaxGraphs = 0 }, "max_graphs"},
		{"bins", func(c *Config) { c.Waveform.Bins = 0 }, "waveform"},
		{"fps", func(c *Config) { c.Visualizer.FPS = 0 }, "fps"},
		{"fft", func(c *Config) { c.Visualizer.FFTSize = 1000 }, "fft_size"},
		{"catalog", func(c *Config) { c.Catalog.URL, c.Catalog.File = "http://x", "a.yaml" }, "mutually exclusive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
