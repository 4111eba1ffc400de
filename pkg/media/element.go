// ABOUTME: Media element decoding a source into a connected audio graph
// ABOUTME: Emits metadata, time update, ended and error events from its pump goroutine
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/Resonate-Protocol/trackdeck/pkg/audio"
	"github.com/Resonate-Protocol/trackdeck/pkg/audio/decode"
	"go.uber.org/zap"
)

var (
	// ErrNoSource is returned when playing an element without a source
	ErrNoSource = errors.New("media element has no source")

	// ErrNotConnected is returned when playing an element without a sink
	ErrNotConnected = errors.New("media element is not connected")

	// ErrAlreadyConnected is returned by a second Connect
	ErrAlreadyConnected = errors.New("media element already connected")

	// ErrStopped is returned by an element after Stop
	ErrStopped = errors.New("media element stopped")
)

// Sink receives decoded audio from an element
type Sink interface {
	Process(ctx context.Context, buf audio.Buffer) error
}

// Listener receives element events. Callbacks run on the element's pump
// goroutine and must not call back into the element synchronously.
type Listener struct {
	OnLoadedMetadata func(duration time.Duration)
	OnTimeUpdate     func(position time.Duration)
	OnEnded          func()
	OnError          func(err error)
}

// Config holds element configuration
type Config struct {
	// HTTPClient is used for URL sources
	HTTPClient *http.Client

	// TimeUpdateInterval throttles OnTimeUpdate (default 250ms)
	TimeUpdateInterval time.Duration

	// ChunkFrames is the number of frames decoded per pump step (default 1024)
	ChunkFrames int

	// ExtraTypes are additional MIME types reported by CanPlayType
	ExtraTypes []string

	Logger *zap.Logger
}

// Element plays one source at a time into its connected sink
type Element struct {
	config Config
	log    *zap.Logger

	mu       sync.Mutex
	src      Source
	sink     Sink
	listener Listener
	playing  bool
	stopped  bool
	position time.Duration
	duration time.Duration
	announce bool // metadata not yet delivered for the current source
	run      int
	cancel   context.CancelFunc
	done     chan struct{}
}

// New creates an element
func New(config Config) *Element {
	if config.TimeUpdateInterval <= 0 {
		config.TimeUpdateInterval = 250 * time.Millisecond
	}
	if config.ChunkFrames <= 0 {
		config.ChunkFrames = 1024
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	return &Element{
		config: config,
		log:    config.Logger,
	}
}

// SetListener registers event callbacks
func (e *Element) SetListener(l Listener) {
	e.mu.Lock()
	e.listener = l
	e.mu.Unlock()
}

// Connect routes decoded audio into sink. An element can be connected once.
func (e *Element) Connect(sink Sink) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sink != nil {
		return ErrAlreadyConnected
	}
	e.sink = sink
	return nil
}

// CanPlayType reports whether the element decodes the given MIME type
func (e *Element) CanPlayType(mime string) bool {
	t := normalizeType(mime)
	if playableTypes[t] {
		return true
	}
	for _, extra := range e.config.ExtraTypes {
		if normalizeType(extra) == t {
			return true
		}
	}
	return false
}

// SetSource loads a plain URL or path
func (e *Element) SetSource(url string) {
	e.SetMediaSource(&URLSource{URL: url, Client: e.config.HTTPClient})
}

// SetMediaSource loads a source, halting any current playback
func (e *Element) SetMediaSource(src Source) {
	e.halt()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.src = src
	e.position = 0
	e.duration = src.Duration()
	e.announce = true
}

// Play starts or resumes playback. Opening the source happens before Play
// returns; events are delivered later from the pump goroutine.
func (e *Element) Play(ctx context.Context) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return ErrStopped
	}
	if e.playing {
		e.mu.Unlock()
		return nil
	}
	if e.src == nil {
		e.mu.Unlock()
		return ErrNoSource
	}
	if e.sink == nil {
		e.mu.Unlock()
		return ErrNotConnected
	}
	src, sink, position := e.src, e.sink, e.position
	e.run++
	run := e.run
	e.mu.Unlock()

	pumpCtx, cancel := context.WithCancel(context.Background())
	stopOpen := context.AfterFunc(ctx, cancel)
	stream, err := e.open(pumpCtx, src, position)
	stopOpen()
	if err != nil {
		cancel()
		return err
	}

	e.mu.Lock()
	if e.stopped || e.run != run {
		e.mu.Unlock()
		cancel()
		stream.Close()
		return ErrStopped
	}
	if e.duration <= 0 {
		e.duration = src.Duration()
	}
	if d := stream.Duration(); d > 0 && e.duration <= 0 {
		e.duration = d
	}
	e.playing = true
	e.cancel = cancel
	done := make(chan struct{})
	e.done = done
	e.mu.Unlock()

	go e.pump(pumpCtx, run, stream, sink, position, done)
	return nil
}

// open opens and decodes the source, skipping to position
func (e *Element) open(ctx context.Context, src Source, position time.Duration) (decode.Stream, error) {
	body, skip, err := src.Open(ctx, position)
	if err != nil {
		return nil, err
	}
	stream, err := decode.Open(body)
	if err != nil {
		body.Close()
		return nil, fmt.Errorf("failed to decode source: %w", err)
	}
	if skip > 0 {
		if err := decode.Skip(stream, skip); err != nil && !errors.Is(err, io.EOF) {
			stream.Close()
			return nil, fmt.Errorf("failed to seek source: %w", err)
		}
	}
	return stream, nil
}

func (e *Element) pump(ctx context.Context, run int, stream decode.Stream, sink Sink, position time.Duration, done chan struct{}) {
	defer close(done)
	defer stream.Close()

	e.mu.Lock()
	listener := e.listener
	announce := e.announce
	duration := e.duration
	e.announce = false
	e.mu.Unlock()

	if announce && listener.OnLoadedMetadata != nil {
		listener.OnLoadedMetadata(duration)
	}

	format := audio.Format{SampleRate: stream.SampleRate(), Channels: stream.Channels()}
	buf := make([]int32, e.config.ChunkFrames*format.Channels)
	lastUpdate := position - e.config.TimeUpdateInterval

	for {
		if ctx.Err() != nil {
			return
		}

		n, readErr := stream.Read(buf)
		if n > 0 {
			samples := make([]int32, n)
			copy(samples, buf[:n])
			if err := sink.Process(ctx, audio.Buffer{Position: position, Samples: samples, Format: format}); err != nil {
				if ctx.Err() != nil {
					return
				}
				e.fail(run, listener, fmt.Errorf("audio graph error: %w", err))
				return
			}
			position += format.DurationOf(n)

			if !e.advance(run, position) {
				return
			}
			if position-lastUpdate >= e.config.TimeUpdateInterval && listener.OnTimeUpdate != nil {
				lastUpdate = position
				listener.OnTimeUpdate(position)
			}
		}

		if errors.Is(readErr, io.EOF) {
			if ctx.Err() != nil {
				return
			}
			e.end(run, position, listener)
			return
		}
		if readErr != nil {
			if ctx.Err() != nil {
				return
			}
			e.fail(run, listener, fmt.Errorf("decode error: %w", readErr))
			return
		}
	}
}

// advance records the position of a live run
func (e *Element) advance(run int, position time.Duration) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.run != run || !e.playing {
		return false
	}
	e.position = position
	return true
}

func (e *Element) end(run int, position time.Duration, listener Listener) {
	e.mu.Lock()
	if e.run != run {
		e.mu.Unlock()
		return
	}
	e.playing = false
	e.position = 0
	if e.duration <= 0 {
		e.duration = position
	}
	e.mu.Unlock()

	e.log.Debug("media ended", zap.Duration("position", position))
	if listener.OnEnded != nil {
		listener.OnEnded()
	}
}

func (e *Element) fail(run int, listener Listener, err error) {
	e.mu.Lock()
	if e.run != run {
		e.mu.Unlock()
		return
	}
	e.playing = false
	e.mu.Unlock()

	e.log.Warn("media error", zap.Error(err))
	if listener.OnError != nil {
		listener.OnError(err)
	}
}

// Pause halts playback, keeping the position
func (e *Element) Pause() {
	e.halt()
}

// halt cancels the pump and waits for it to exit
func (e *Element) halt() {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.cancel, e.done = nil, nil
	e.playing = false
	e.run++
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Seek moves the playback position, restarting the pump when playing
func (e *Element) Seek(ctx context.Context, position time.Duration) error {
	if position < 0 {
		position = 0
	}

	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return ErrStopped
	}
	if e.duration > 0 && position > e.duration {
		position = e.duration
	}
	wasPlaying := e.playing
	e.mu.Unlock()

	if wasPlaying {
		e.halt()
	}

	e.mu.Lock()
	e.position = position
	e.mu.Unlock()

	if wasPlaying {
		return e.Play(ctx)
	}
	return nil
}

// Stop halts playback and detaches the source. The element cannot be
// reused afterwards.
func (e *Element) Stop() {
	e.halt()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopped = true
	e.src = nil
	e.sink = nil
	e.listener = Listener{}
}

// Paused reports whether the element is not playing
func (e *Element) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.playing
}

// CurrentTime returns the decode position
func (e *Element) CurrentTime() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.position
}

// Duration returns the known duration, or 0
func (e *Element) Duration() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.duration
}
