// ABOUTME: Playback session manager driving one session at a time
// ABOUTME: Serializes track selection, play/pause and scrubbing over element events
package player

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Resonate-Protocol/trackdeck/pkg/audio/graph"
	"github.com/Resonate-Protocol/trackdeck/pkg/catalog"
	"github.com/Resonate-Protocol/trackdeck/pkg/hls"
	"github.com/Resonate-Protocol/trackdeck/pkg/media"
	"github.com/Resonate-Protocol/trackdeck/pkg/source"
	"github.com/Resonate-Protocol/trackdeck/pkg/waveform"
)

var (
	// ErrTrackIndex is returned for an index outside the track list
	ErrTrackIndex = errors.New("track index out of range")

	// ErrNoSession is returned by operations that need an active session
	ErrNoSession = errors.New("no active session")

	// ErrClosed is returned after Close
	ErrClosed = errors.New("player closed")

	// ErrStartInterrupted is returned by a play request that another control
	// operation canceled while the source was still opening
	ErrStartInterrupted = errors.New("playback start interrupted")
)

// ArtworkFetcher downloads a cover image and returns a local path
type ArtworkFetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Config holds player configuration
type Config struct {
	// Resolver picks sources (default preference medium, high, low)
	Resolver *source.Resolver

	// Context is the audio context graphs are built in (default graph.Shared())
	Context *graph.Context

	// NewElement creates the media element for a session
	NewElement func() Element

	// NewStreamingClient creates the adaptive streaming client for a session
	NewStreamingClient func() StreamingClient

	// StreamingSupported reports whether the streaming client can run
	StreamingSupported func() bool

	HTTPClient *http.Client

	// Waveform analysis settings
	WaveformBins       int
	WaveformSampleRate int

	// Artwork is optional; cover images are fetched on selection when set
	Artwork ArtworkFetcher

	// FPS is the visualizer rate (default 60)
	FPS int

	Metrics *Metrics

	// OnStateChange receives a snapshot after every state change
	OnStateChange func(State)

	// OnError receives playback start failures
	OnError func(error)

	// OnWaveform receives the profile of the active track
	OnWaveform func(*waveform.Profile)

	// OnFrame receives visualization frames
	OnFrame func(Frame)

	Logger *zap.Logger
}

// Player manages the single playback session
type Player struct {
	config     Config
	log        *zap.Logger
	audio      *graph.Context
	resolver   *source.Resolver
	waveform   *waveform.Precomputer
	visualizer *Visualizer

	// switchMu serializes control operations
	switchMu sync.Mutex

	mu          sync.Mutex
	tracks      []catalog.Track
	session     *session
	nextGen     uint64
	state       State
	waveformURL string
	profile     *waveform.Profile
	closed      bool
	// pending play request and the control calls waiting to cancel it
	startCancel       context.CancelFunc
	interruptWaiters  int
	interruptedStarts uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a player
func New(config Config) *Player {
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.Resolver == nil {
		config.Resolver = source.NewResolver(nil)
	}
	if config.Context == nil {
		config.Context = graph.Shared()
	}
	if config.NewElement == nil {
		httpClient, log := config.HTTPClient, config.Logger
		config.NewElement = func() Element {
			return media.New(media.Config{HTTPClient: httpClient, Logger: log})
		}
	}
	if config.NewStreamingClient == nil {
		httpClient, log := config.HTTPClient, config.Logger
		config.NewStreamingClient = func() StreamingClient {
			return hls.NewClient(hls.Config{HTTPClient: httpClient, Logger: log})
		}
	}
	if config.StreamingSupported == nil {
		config.StreamingSupported = hls.IsSupported
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Player{
		config:   config,
		log:      config.Logger,
		audio:    config.Context,
		resolver: config.Resolver,
		state:    State{ActiveIndex: -1, Phase: PhaseIdle},
		ctx:      ctx,
		cancel:   cancel,
	}
	p.waveform = waveform.New(waveform.Config{
		BinCount:   config.WaveformBins,
		SampleRate: config.WaveformSampleRate,
		HTTPClient: config.HTTPClient,
		OnReady:    p.waveformReady,
		Observer:   config.Metrics,
		Logger:     config.Logger.Named("waveform"),
	})
	p.visualizer = NewVisualizer(p, config.FPS, config.OnFrame)
	return p
}

// SetTracks replaces the track listing. The active session is kept.
func (p *Player) SetTracks(tracks []catalog.Track) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tracks = append([]catalog.Track(nil), tracks...)
}

// Tracks returns the track listing
func (p *Player) Tracks() []catalog.Track {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]catalog.Track(nil), p.tracks...)
}

// State returns a snapshot of the observable state
func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

func (p *Player) snapshotLocked() State {
	st := p.state
	if st.Track != nil {
		t := *st.Track
		st.Track = &t
	}
	return st
}

// Waveform returns the profile of the active track, or nil
func (p *Player) Waveform() *waveform.Profile {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.profile
}

// Analyser returns the current session's analysis node, or nil
func (p *Player) Analyser() *graph.Analyser {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == nil || p.session.graph == nil {
		return nil
	}
	return p.session.graph.Analyser()
}

// Visualizer returns the player's visualization loop
func (p *Player) Visualizer() *Visualizer {
	return p.visualizer
}

// Levels returns the adaptive levels of the active session. Non-adaptive
// sessions have none.
func (p *Player) Levels() ([]hls.Level, error) {
	p.mu.Lock()
	s := p.session
	p.mu.Unlock()
	if s == nil {
		return nil, ErrNoSession
	}
	if s.adapter == nil || s.adapter.client == nil {
		return nil, nil
	}
	return s.adapter.client.Levels(), nil
}

// SelectTrack plays the track at index. Selecting the active track toggles
// play/pause on the existing session.
func (p *Player) SelectTrack(ctx context.Context, index int) error {
	interrupted := p.interruptStart()
	p.switchMu.Lock()
	defer p.switchMu.Unlock()
	wasInterrupted := interrupted()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if index < 0 || index >= len(p.tracks) {
		n := len(p.tracks)
		p.mu.Unlock()
		return fmt.Errorf("index %d of %d: %w", index, n, ErrTrackIndex)
	}
	track := p.tracks[index]
	cur := p.session
	phase := p.state.Phase
	p.mu.Unlock()

	if cur != nil && cur.index == index && phase != PhaseErrored {
		if wasInterrupted {
			// canceling the pending start was the toggle
			return nil
		}
		return p.toggleLocked(ctx)
	}

	p.teardownLocked()

	s, err := p.buildLocked(index, track)
	if err != nil {
		return p.abortLocked(s, index, err)
	}
	return p.startLocked(ctx, s)
}

// buildLocked constructs the element, adaptive attachment and graph. A
// partially built session is returned with the error for cleanup.
func (p *Player) buildLocked(index int, track catalog.Track) (*session, error) {
	resolved, err := p.resolver.Resolve(track)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve track: %w", err)
	}

	p.mu.Lock()
	p.nextGen++
	s := &session{
		id:       uuid.New(),
		gen:      p.nextGen,
		index:    index,
		track:    track,
		resolved: resolved,
	}
	p.mu.Unlock()

	log := p.log.With(zap.String("session", s.id.String()), zap.Int("index", index))
	log.Info("building session", zap.String("track", track.DisplayName()), zap.Stringer("source", resolved))

	s.element = p.config.NewElement()
	s.element.SetListener(p.listener(s.gen))

	if resolved.Adaptive {
		a, quality, err := attachAdaptive(s.element, resolved.URL, p.adapterConfig(s.gen, log))
		if err != nil {
			return s, err
		}
		s.adapter = a
		if quality != "" {
			s.resolved.Quality = quality
		}
	} else {
		s.element.SetSource(resolved.URL)
	}

	g, err := p.audio.NewGraph(s.element)
	if err != nil {
		return s, fmt.Errorf("failed to build audio graph: %w", err)
	}
	s.graph = g
	p.config.Metrics.graphStats(p.audio.Stats())

	if err := s.element.Connect(g); err != nil {
		return s, fmt.Errorf("failed to connect element: %w", err)
	}
	return s, nil
}

// abortLocked releases a partially built session and records the failure
func (p *Player) abortLocked(s *session, index int, err error) error {
	if s != nil {
		s.teardown()
		p.config.Metrics.graphStats(p.audio.Stats())
	}

	p.mu.Lock()
	p.transitionLocked(PhaseErrored)
	p.state.Playing = false
	p.state.Error = err.Error()
	p.mu.Unlock()

	p.log.Warn("failed to build session", zap.Int("index", index), zap.Error(err))
	p.config.Metrics.startFailed()
	p.notify()
	p.reportError(err)
	return err
}

// startLocked publishes a built session and starts playback
func (p *Player) startLocked(ctx context.Context, s *session) error {
	track := s.track

	p.mu.Lock()
	p.session = s
	p.transitionLocked(PhaseLoading)
	p.state.ActiveIndex = s.index
	p.state.Playing = false
	p.state.CurrentTime = 0
	p.state.Duration = track.KnownDuration()
	p.state.Quality = s.resolved.Quality
	p.state.SessionID = s.id.String()
	p.state.Error = ""
	p.state.CoverArt = ""
	p.state.Track = &track
	p.waveformURL = source.WaveformURL(track, s.resolved)
	p.profile = nil
	wurl := p.waveformURL
	p.mu.Unlock()

	p.config.Metrics.sessionCreated()
	p.notify()

	if wurl != "" {
		p.waveform.Request(wurl, seconds(track.KnownDuration()))
	}
	p.fetchArtwork(s)

	if err := p.startPlayback(ctx, s); err != nil {
		return err
	}

	p.mu.Lock()
	if p.session == s && p.transitionLocked(PhasePlaying) {
		p.state.Playing = true
	}
	p.mu.Unlock()
	p.notify()
	return nil
}

// play resumes the audio context if suspended and starts the element
func (p *Player) play(ctx context.Context, s *session) error {
	if p.audio.Suspended() {
		if err := p.audio.Resume(); err != nil {
			return fmt.Errorf("failed to resume audio context: %w", err)
		}
	}
	if err := s.element.Play(ctx); err != nil {
		return fmt.Errorf("failed to start playback: %w", err)
	}
	return nil
}

// startPlayback runs play with a context that other control operations can
// cancel through interruptStart. A rejected start is reported; an
// interrupted one only reverts to paused.
func (p *Player) startPlayback(ctx context.Context, s *session) error {
	startCtx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.startCancel = cancel
	if p.interruptWaiters > 0 {
		cancel()
	}
	p.mu.Unlock()

	err := p.play(startCtx, s)

	p.mu.Lock()
	p.startCancel = nil
	p.mu.Unlock()
	interrupted := err != nil && startCtx.Err() != nil && ctx.Err() == nil
	cancel()

	switch {
	case err == nil:
		return nil
	case interrupted:
		p.mu.Lock()
		p.interruptedStarts++
		if p.session == s {
			if p.state.Phase != PhasePaused {
				p.transitionLocked(PhasePaused)
			}
			p.state.Playing = false
		}
		p.mu.Unlock()
		p.log.Debug("playback start interrupted", zap.String("session", s.id.String()))
		p.notify()
		return ErrStartInterrupted
	default:
		return p.rejectLocked(s, err)
	}
}

// interruptStart cancels a play request that is opening its source, or the
// next one to begin, so the caller does not queue behind it on switchMu.
// The returned func must be called once switchMu is held; it reports
// whether a start was interrupted in the meantime.
func (p *Player) interruptStart() func() bool {
	p.mu.Lock()
	p.interruptWaiters++
	seen := p.interruptedStarts
	if p.startCancel != nil {
		p.startCancel()
	}
	p.mu.Unlock()

	return func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.interruptWaiters--
		return p.interruptedStarts != seen
	}
}

// rejectLocked reverts a session whose playback did not start to paused
func (p *Player) rejectLocked(s *session, err error) error {
	p.mu.Lock()
	if p.session == s {
		if p.state.Phase != PhasePaused {
			p.transitionLocked(PhasePaused)
		}
		p.state.Playing = false
		p.state.Error = err.Error()
	}
	p.mu.Unlock()

	p.log.Warn("playback rejected", zap.String("session", s.id.String()), zap.Error(err))
	p.config.Metrics.startFailed()
	p.notify()
	p.reportError(err)
	return err
}

// TogglePlayPause pauses a playing session or resumes a paused one. It is a
// no-op without a session.
func (p *Player) TogglePlayPause(ctx context.Context) error {
	interrupted := p.interruptStart()
	p.switchMu.Lock()
	defer p.switchMu.Unlock()
	wasInterrupted := interrupted()
	if wasInterrupted {
		// canceling the pending start leaves the session paused
		return nil
	}
	return p.toggleLocked(ctx)
}

func (p *Player) toggleLocked(ctx context.Context) error {
	p.mu.Lock()
	s := p.session
	phase := p.state.Phase
	p.mu.Unlock()

	if s == nil {
		return nil
	}

	switch phase {
	case PhasePlaying:
		s.element.Pause()
		p.mu.Lock()
		if p.session == s && p.transitionLocked(PhasePaused) {
			p.state.Playing = false
		}
		p.mu.Unlock()
		p.notify()
		return nil

	case PhasePaused, PhaseEnded:
		if err := p.startPlayback(ctx, s); err != nil {
			return err
		}
		p.mu.Lock()
		if p.session == s && p.transitionLocked(PhasePlaying) {
			p.state.Playing = true
			p.state.Error = ""
		}
		p.mu.Unlock()
		p.notify()
		return nil

	default:
		p.log.Debug("toggle ignored", zap.Stringer("phase", phase))
		return nil
	}
}

// Scrub seeks to ratio × duration. The ratio is clamped to [0, 1] and the
// observed time updates immediately. No-op without a session or when errored.
// A scrub that cancels a pending start resumes from the new position.
func (p *Player) Scrub(ctx context.Context, ratio float64) error {
	interrupted := p.interruptStart()
	p.switchMu.Lock()
	defer p.switchMu.Unlock()
	wasInterrupted := interrupted()

	ratio = clampRatio(ratio)

	p.mu.Lock()
	s := p.session
	if s == nil || !p.state.Phase.Seekable() {
		p.mu.Unlock()
		return nil
	}
	pos := ratio * p.state.Duration
	p.state.CurrentTime = pos
	p.mu.Unlock()
	p.notify()

	if err := s.element.Seek(ctx, seconds(pos)); err != nil {
		p.log.Warn("seek failed", zap.Float64("position", pos), zap.Error(err))
		return fmt.Errorf("failed to seek: %w", err)
	}
	if wasInterrupted {
		// restart the canceled play request from the new position
		return p.toggleLocked(ctx)
	}
	return nil
}

func clampRatio(r float64) float64 {
	if r < 0 || math.IsNaN(r) {
		return 0
	}
	if r > 1 {
		return 1
	}
	return r
}

// teardownLocked destroys the current session, if any, and resets state
func (p *Player) teardownLocked() {
	p.mu.Lock()
	s := p.session
	p.session = nil
	if p.state.Phase != PhaseIdle {
		p.transitionLocked(PhaseIdle)
	}
	p.state = State{ActiveIndex: -1, Phase: PhaseIdle}
	p.waveformURL = ""
	p.profile = nil
	p.mu.Unlock()

	p.waveform.Reset()
	if s == nil {
		return
	}

	s.teardown()
	p.config.Metrics.sessionReleased()
	p.config.Metrics.graphStats(p.audio.Stats())
	p.log.Info("session released", zap.String("session", s.id.String()), zap.Int("index", s.index))
}

// failSession ends a session whose stream cannot continue
func (p *Player) failSession(gen uint64, err error) {
	p.switchMu.Lock()
	defer p.switchMu.Unlock()

	p.mu.Lock()
	current := p.currentLocked(gen)
	p.mu.Unlock()
	if !current {
		return
	}

	p.teardownLocked()

	p.mu.Lock()
	p.transitionLocked(PhaseErrored)
	p.state.Error = err.Error()
	p.mu.Unlock()

	p.log.Error("track failed", zap.Error(err))
	p.notify()
}

// Close stops the visualizer, tears down the session and discards waveform
// state. The shared audio context is left to the application.
func (p *Player) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.visualizer.Stop()

	interrupted := p.interruptStart()
	p.switchMu.Lock()
	interrupted()
	p.teardownLocked()
	p.switchMu.Unlock()

	p.cancel()
	p.waveform.Close()
	p.wg.Wait()
}

// currentLocked reports whether gen is the live session
func (p *Player) currentLocked(gen uint64) bool {
	return p.session != nil && p.session.gen == gen
}

// transitionLocked moves to phase to when the table allows it
func (p *Player) transitionLocked(to Phase) bool {
	from := p.state.Phase
	if !from.CanTransition(to) {
		p.log.Warn("illegal media state transition",
			zap.Stringer("from", from), zap.Stringer("to", to))
		return false
	}
	p.state.Phase = to
	return true
}

func (p *Player) listener(gen uint64) media.Listener {
	return media.Listener{
		OnLoadedMetadata: func(d time.Duration) {
			p.mu.Lock()
			if !p.currentLocked(gen) {
				p.mu.Unlock()
				return
			}
			p.state.Duration = d.Seconds()
			wurl := p.waveformURL
			p.mu.Unlock()

			if wurl != "" && d > 0 {
				p.waveform.Request(wurl, d)
			}
			p.notify()
		},
		OnTimeUpdate: func(pos time.Duration) {
			p.mu.Lock()
			if !p.currentLocked(gen) {
				p.mu.Unlock()
				return
			}
			p.state.CurrentTime = pos.Seconds()
			p.mu.Unlock()
			p.notify()
		},
		OnEnded: func() {
			p.mu.Lock()
			if !p.currentLocked(gen) {
				p.mu.Unlock()
				return
			}
			if p.transitionLocked(PhaseEnded) {
				p.state.Playing = false
				p.state.CurrentTime = 0
			}
			p.mu.Unlock()
			p.notify()
		},
		OnError: func(err error) {
			p.mu.Lock()
			if !p.currentLocked(gen) {
				p.mu.Unlock()
				return
			}
			if p.transitionLocked(PhaseErrored) {
				p.state.Playing = false
				p.state.Error = err.Error()
			}
			p.mu.Unlock()
			p.log.Warn("media element error", zap.Error(err))
			p.notify()
		},
	}
}

func (p *Player) adapterConfig(gen uint64, log *zap.Logger) adapterConfig {
	return adapterConfig{
		supported: p.config.StreamingSupported,
		newClient: p.config.NewStreamingClient,
		log:       log,
		metrics:   p.config.Metrics,
		onQuality: func(label string) {
			p.mu.Lock()
			if !p.currentLocked(gen) {
				p.mu.Unlock()
				return
			}
			p.state.Quality = label
			p.mu.Unlock()
			p.notify()
		},
		onTerminal: func(a *adaptiveAdapter, err error) {
			p.wg.Add(1)
			go func() {
				defer p.wg.Done()
				// Destroy first so an element blocked opening the stream
				// returns before the session is torn down.
				a.release()
				p.failSession(gen, err)
			}()
		},
	}
}

func (p *Player) waveformReady(prof *waveform.Profile) {
	p.mu.Lock()
	if prof.SourceURL != p.waveformURL {
		p.mu.Unlock()
		return
	}
	p.profile = prof
	p.mu.Unlock()

	if p.config.OnWaveform != nil {
		p.config.OnWaveform(prof)
	}
}

func (p *Player) fetchArtwork(s *session) {
	if p.config.Artwork == nil || s.track.ImageURL == "" {
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		path, err := p.config.Artwork.Fetch(p.ctx, s.track.ImageURL)
		if err != nil {
			p.log.Debug("cover art unavailable", zap.String("url", s.track.ImageURL), zap.Error(err))
			return
		}
		p.mu.Lock()
		if !p.currentLocked(s.gen) {
			p.mu.Unlock()
			return
		}
		p.state.CoverArt = path
		p.mu.Unlock()
		p.notify()
	}()
}

func (p *Player) notify() {
	if p.config.OnStateChange == nil {
		return
	}
	p.config.OnStateChange(p.State())
}

func (p *Player) reportError(err error) {
	if p.config.OnError != nil {
		p.config.OnError(err)
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
