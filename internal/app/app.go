// ABOUTME: Application orchestration for the trackdeck player
// ABOUTME: Coordinates catalog, audio context, player, TUI and remote control
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Resonate-Protocol/trackdeck/internal/artwork"
	"github.com/Resonate-Protocol/trackdeck/internal/config"
	"github.com/Resonate-Protocol/trackdeck/internal/discovery"
	"github.com/Resonate-Protocol/trackdeck/internal/remote"
	"github.com/Resonate-Protocol/trackdeck/internal/ui"
	"github.com/Resonate-Protocol/trackdeck/internal/version"
	"github.com/Resonate-Protocol/trackdeck/pkg/audio/graph"
	"github.com/Resonate-Protocol/trackdeck/pkg/audio/output"
	"github.com/Resonate-Protocol/trackdeck/pkg/catalog"
	"github.com/Resonate-Protocol/trackdeck/pkg/player"
	"github.com/Resonate-Protocol/trackdeck/pkg/source"
	"github.com/Resonate-Protocol/trackdeck/pkg/waveform"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

// Options holds run options that are not part of the configuration file
type Options struct {
	// Autoplay selects this track index on start; negative disables it
	Autoplay int

	HTTPClient *http.Client

	// Context overrides the shared audio context, used by tests
	Context *graph.Context
}

// App represents the running application
type App struct {
	config *config.Config
	opts   Options
	log    *zap.Logger

	registry *prometheus.Registry
	player   *player.Player
	remote   *remote.Server

	mu  sync.Mutex
	tui *ui.Program
}

// New creates the application
func New(cfg *config.Config, opts Options, log *zap.Logger) *App {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &App{
		config: cfg,
		opts:   opts,
		log:    log,
	}
}

// Run starts the application and blocks until ctx is done or the TUI quits
func (a *App) Run(ctx context.Context) error {
	lister, err := a.lister(ctx)
	if err != nil {
		return err
	}
	tracks, err := lister.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}
	a.log.Info("catalog ready", zap.Int("tracks", len(tracks)))

	if err := a.setup(); err != nil {
		return err
	}
	defer a.shutdown()

	a.player.SetTracks(tracks)

	if a.config.Remote.Addr != "" {
		if err := a.startRemote(); err != nil {
			return err
		}
	}

	if a.opts.Autoplay >= 0 {
		if err := a.player.SelectTrack(ctx, a.opts.Autoplay); err != nil {
			a.log.Warn("autoplay failed", zap.Int("index", a.opts.Autoplay), zap.Error(err))
		}
	}

	if !a.config.UI.Enabled {
		<-ctx.Done()
		return nil
	}
	return a.runTUI(ctx, tracks)
}

// lister picks the catalog source: a file, a URL, or the first server
// found over mDNS
func (a *App) lister(ctx context.Context) (catalog.Lister, error) {
	cc := a.config.Catalog
	switch {
	case cc.File != "":
		return catalog.FileLister{Path: cc.File, Logger: a.log.Named("catalog")}, nil
	case cc.URL != "":
		return a.catalogClient(cc.URL), nil
	}

	a.log.Info("browsing for catalog servers", zap.Duration("timeout", cc.DiscoveryTimeout))
	mgr := discovery.NewManager(discovery.Config{Logger: a.log.Named("discovery")})
	server, err := mgr.Discover(ctx, cc.DiscoveryTimeout)
	if err != nil {
		return nil, fmt.Errorf("catalog discovery failed: %w", err)
	}
	a.log.Info("discovered catalog",
		zap.String("name", server.Name),
		zap.String("url", server.BaseURL()),
		zap.String("version", server.Version))
	return a.catalogClient(server.BaseURL()), nil
}

func (a *App) catalogClient(baseURL string) *catalog.Client {
	return catalog.NewClient(catalog.Config{
		BaseURL:    baseURL,
		UserAgent:  version.UserAgent(),
		HTTPClient: a.opts.HTTPClient,
		Logger:     a.log.Named("catalog"),
	})
}

// setup builds metrics, the audio context, artwork cache and player
func (a *App) setup() error {
	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := player.NewMetrics(a.registry)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	audioCtx := a.opts.Context
	if audioCtx == nil {
		graph.Configure(graph.Config{
			Backend:    a.config.Audio.Backend,
			SampleRate: a.config.Audio.SampleRate,
			Channels:   a.config.Audio.Channels,
			MaxGraphs:  a.config.Audio.MaxGraphs,
			FFTSize:    a.config.Visualizer.FFTSize,
			Logger:     a.log.Named("audio"),
		})
		audioCtx = graph.Shared()
	}

	art, err := artwork.NewDownloader(artwork.Config{
		Dir:        a.config.Artwork.Dir,
		HTTPClient: a.opts.HTTPClient,
		UserAgent:  version.UserAgent(),
		Logger:     a.log.Named("artwork"),
	})
	if err != nil {
		return err
	}

	pcfg := player.Config{
		Resolver:           source.NewResolver(a.config.Playback.QualityOrder),
		Context:            audioCtx,
		HTTPClient:         a.opts.HTTPClient,
		WaveformBins:       a.config.Waveform.Bins,
		WaveformSampleRate: a.config.Waveform.SampleRate,
		Artwork:            art,
		FPS:                a.config.Visualizer.FPS,
		Metrics:            metrics,
		OnStateChange:      a.stateChanged,
		OnWaveform:         a.waveformReady,
		OnError: func(err error) {
			a.log.Warn("playback error", zap.Error(err))
		},
		Logger: a.log.Named("player"),
	}
	if a.config.UI.Enabled {
		pcfg.OnFrame = a.frame
	}
	a.player = player.New(pcfg)
	return nil
}

func (a *App) startRemote() error {
	a.remote = remote.NewServer(remote.Config{
		Addr:     a.config.Remote.Addr,
		Gatherer: a.registry,
		Logger:   a.log.Named("remote"),
	}, a.player)
	return a.remote.Start()
}

func (a *App) runTUI(ctx context.Context, tracks []catalog.Track) error {
	prog := ui.New(ctx, a.player, ui.Options{
		Tracks: tracks,
		Volume: outputVolume{audio: a.audioContext()},
	})
	a.mu.Lock()
	a.tui = prog
	a.mu.Unlock()

	a.player.Visualizer().Start(ctx)
	err := prog.Run()

	a.mu.Lock()
	a.tui = nil
	a.mu.Unlock()
	return err
}

func (a *App) audioContext() *graph.Context {
	if a.opts.Context != nil {
		return a.opts.Context
	}
	return graph.Shared()
}

// shutdown stops components in reverse order of creation
func (a *App) shutdown() {
	if a.remote != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := a.remote.Shutdown(ctx); err != nil {
			a.log.Warn("remote shutdown failed", zap.Error(err))
		}
		cancel()
	}
	a.player.Close()
	if a.opts.Context == nil {
		if err := graph.CloseShared(); err != nil && !errors.Is(err, graph.ErrClosed) {
			a.log.Warn("audio context close failed", zap.Error(err))
		}
	}
	a.log.Info("stopped")
}

func (a *App) currentTUI() *ui.Program {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tui
}

func (a *App) stateChanged(s player.State) {
	if t := a.currentTUI(); t != nil {
		t.State(s)
	}
	if a.remote != nil {
		a.remote.BroadcastState(s)
	}
}

func (a *App) waveformReady(prof *waveform.Profile) {
	if t := a.currentTUI(); t != nil {
		t.Waveform(prof)
	}
	if a.remote != nil {
		a.remote.BroadcastWaveform(prof)
	}
}

func (a *App) frame(f player.Frame) {
	if t := a.currentTUI(); t != nil {
		t.Frame(f)
	}
}

// outputVolume applies TUI volume changes to the opened output device
type outputVolume struct {
	audio *graph.Context
}

func (v outputVolume) SetVolume(volume int) {
	if out, ok := v.audio.Output().(output.Volume); ok {
		out.SetVolume(volume)
	}
}

func (v outputVolume) SetMuted(muted bool) {
	if out, ok := v.audio.Output().(output.Volume); ok {
		out.SetMuted(muted)
	}
}
