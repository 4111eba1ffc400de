// ABOUTME: Entry point for the trackdeck player
// ABOUTME: Parses the CLI and runs the player or a remote control command
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"go.uber.org/zap"

	"github.com/Resonate-Protocol/trackdeck/internal/app"
	"github.com/Resonate-Protocol/trackdeck/internal/config"
	"github.com/Resonate-Protocol/trackdeck/internal/logger"
	"github.com/Resonate-Protocol/trackdeck/internal/remote"
	"github.com/Resonate-Protocol/trackdeck/internal/version"
	"github.com/Resonate-Protocol/trackdeck/pkg/player"
)

// CLI is the command line interface
type CLI struct {
	Play    PlayCmd    `cmd:"" default:"withargs" help:"Browse the catalog and play tracks (default)"`
	Ctl     CtlCmd     `cmd:"" help:"Control a running player over its remote endpoint"`
	Version VersionCmd `cmd:"" help:"Show version information"`
}

// PlayCmd runs the player
type PlayCmd struct {
	Config      string `short:"c" help:"Config file (YAML or TOML)" type:"path"`
	EnvFile     string `help:"Dotenv file loaded before the environment" default:".env"`
	CatalogURL  string `name:"catalog-url" help:"Catalog API base URL (skips mDNS)"`
	CatalogFile string `name:"catalog-file" help:"Local JSON or YAML catalog" type:"path"`
	Backend     string `help:"Audio backend: oto, malgo or null"`
	Remote      string `help:"Remote control listen address, e.g. :8930"`
	LogFile     string `name:"log-file" help:"Log file path"`
	LogLevel    string `name:"log-level" help:"Log level: debug, info, warn or error"`
	NoTUI       bool   `name:"no-tui" help:"Disable the TUI and log to stdout"`
	Autoplay    int    `help:"Track index to play on start" default:"-1"`
}

// apply overlays flags that were set onto the loaded configuration
func (c *PlayCmd) apply(cfg *config.Config) {
	if c.CatalogURL != "" {
		cfg.Catalog.URL = c.CatalogURL
		cfg.Catalog.File = ""
	}
	if c.CatalogFile != "" {
		cfg.Catalog.File = c.CatalogFile
		cfg.Catalog.URL = ""
	}
	if c.Backend != "" {
		cfg.Audio.Backend = c.Backend
	}
	if c.Remote != "" {
		cfg.Remote.Addr = c.Remote
	}
	if c.LogFile != "" {
		cfg.Log.File = c.LogFile
	}
	if c.LogLevel != "" {
		cfg.Log.Level = c.LogLevel
	}
	if c.NoTUI {
		cfg.UI.Enabled = false
	}
}

// Run starts the player
func (c *PlayCmd) Run() error {
	cfg, err := config.Load(config.Options{File: c.Config, EnvFile: c.EnvFile})
	if err != nil {
		return err
	}
	c.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	logCfg := logger.Config{Level: cfg.Log.Level, File: cfg.Log.File}
	if !cfg.UI.Enabled {
		// TUI owns the terminal; headless runs also log to stdout
		logCfg.Console = os.Stdout
	}
	log, closeLog, err := logger.New(logCfg)
	if err != nil {
		return err
	}
	defer closeLog()

	log.Info("starting",
		zap.String("version", version.Version),
		zap.String("backend", cfg.Audio.Backend),
		zap.Bool("tui", cfg.UI.Enabled))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.New(cfg, app.Options{Autoplay: c.Autoplay}, log).Run(ctx); err != nil {
		log.Error("player failed", zap.Error(err))
		return err
	}
	return nil
}

// CtlCmd groups remote control commands
type CtlCmd struct {
	Addr string `help:"Remote control address" default:"127.0.0.1:8930"`

	Select CtlSelectCmd `cmd:"" help:"Select a track by index"`
	Toggle CtlToggleCmd `cmd:"" help:"Toggle play and pause"`
	Scrub  CtlScrubCmd  `cmd:"" help:"Seek to a fraction of the track"`
	Status CtlStatusCmd `cmd:"" help:"Print the current state"`
	Watch  CtlWatchCmd  `cmd:"" help:"Stream state changes until interrupted"`
}

func (c *CtlCmd) dial(ctx context.Context) (*remote.Client, error) {
	return remote.Dial(ctx, remote.ClientConfig{Addr: c.Addr})
}

type CtlSelectCmd struct {
	Index int `arg:"" help:"Track index"`
}

func (c *CtlSelectCmd) Run(ctl *CtlCmd) error {
	return withClient(ctl, func(_ context.Context, rc *remote.Client) error {
		return rc.Select(c.Index)
	})
}

type CtlToggleCmd struct{}

func (c *CtlToggleCmd) Run(ctl *CtlCmd) error {
	return withClient(ctl, func(_ context.Context, rc *remote.Client) error {
		return rc.Toggle()
	})
}

type CtlScrubCmd struct {
	Ratio float64 `arg:"" help:"Position as a fraction of the duration, 0 to 1"`
}

func (c *CtlScrubCmd) Run(ctl *CtlCmd) error {
	return withClient(ctl, func(_ context.Context, rc *remote.Client) error {
		return rc.Scrub(c.Ratio)
	})
}

type CtlStatusCmd struct{}

func (c *CtlStatusCmd) Run(ctl *CtlCmd) error {
	return withClient(ctl, func(_ context.Context, rc *remote.Client) error {
		printState(rc.Hello().State)
		return nil
	})
}

type CtlWatchCmd struct{}

func (c *CtlWatchCmd) Run(ctl *CtlCmd) error {
	return withClient(ctl, func(ctx context.Context, rc *remote.Client) error {
		printState(rc.Hello().State)
		for {
			select {
			case s := <-rc.States:
				printState(s)
			case e := <-rc.Errors:
				fmt.Fprintf(os.Stderr, "%s rejected: %s\n", e.Command, e.Error)
			case <-rc.Done():
				return nil
			case <-ctx.Done():
				return nil
			}
		}
	})
}

// withClient dials the player, runs fn and closes the connection
func withClient(ctl *CtlCmd, fn func(context.Context, *remote.Client) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rc, err := ctl.dial(ctx)
	if err != nil {
		return err
	}
	defer rc.Close()
	return fn(ctx, rc)
}

func printState(s player.State) {
	line := fmt.Sprintf("%-8s", s.Phase)
	if s.Track != nil {
		line += fmt.Sprintf(" #%d %s  %.1f/%.1fs", s.ActiveIndex, s.Track.DisplayName(), s.CurrentTime, s.Duration)
	}
	if s.Quality != "" {
		line += "  [" + s.Quality + "]"
	}
	if s.Error != "" {
		line += "  error: " + s.Error
	}
	fmt.Println(line)
}

// VersionCmd prints version information
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("%s %s (%s)\n", version.Product, version.Version, version.Manufacturer)
	return nil
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name(version.Product),
		kong.Description("Adaptive audio playback and visualization for a track catalog."),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true}),
	)
	ctx.FatalIfErrorf(ctx.Run())
}
