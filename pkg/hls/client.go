// ABOUTME: HLS client with automatic level selection and error recovery hooks
// ABOUTME: Loads the manifest, feeds a media element and reports lifecycle events
package hls

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/Resonate-Protocol/trackdeck/pkg/media"
	"go.uber.org/zap"
)

// Config holds client configuration
type Config struct {
	HTTPClient *http.Client

	// FragLoadingMaxRetry is the number of retries before a segment load
	// failure becomes fatal (default 3)
	FragLoadingMaxRetry int

	// RetryDelay is the wait between load retries (default 500ms)
	RetryDelay time.Duration

	// DefaultEstimate is the bandwidth assumed before the first measurement
	// in bits per second (default 500000)
	DefaultEstimate float64

	// BandwidthFactor scales the estimate when picking a level (default 0.8)
	BandwidthFactor float64

	// EWMAWeight is the weight of each new throughput sample (default 0.5)
	EWMAWeight float64

	Logger *zap.Logger
}

func (c *Config) applyDefaults() {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if c.FragLoadingMaxRetry <= 0 {
		c.FragLoadingMaxRetry = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 500 * time.Millisecond
	}
	if c.DefaultEstimate <= 0 {
		c.DefaultEstimate = 500000
	}
	if c.BandwidthFactor <= 0 {
		c.BandwidthFactor = 0.8
	}
	if c.EWMAWeight <= 0 || c.EWMAWeight > 1 {
		c.EWMAWeight = 0.5
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// Handlers receive client events. They run on loader goroutines.
type Handlers struct {
	OnManifestParsed func(levels []Level)
	OnLevelSwitched  func(level Level)
	OnError          func(data ErrorData)
}

// Media is the element the client feeds
type Media interface {
	SetMediaSource(src media.Source)
}

// IsSupported reports whether the client can run on this platform
func IsSupported() bool { return true }

type recoveryAction int

const (
	actionNone recoveryAction = iota
	actionRetry
	actionSkip
)

// Client streams one HLS presentation
type Client struct {
	config    Config
	log       *zap.Logger
	bandwidth *bandwidthEstimator

	mu            sync.Mutex
	handlers      Handlers
	manifestURL   string
	renditions    []rendition
	manifestReady chan struct{} // closed when renditions are loaded or destroyed
	manifestFatal bool
	current       int // level last delivered, -1 before the first segment
	manual        int // -1 for automatic selection
	forceLowest   bool
	stalled       bool
	resume        chan struct{}
	pending       recoveryAction
	awaiting      bool // a fatal loader error is being reported
	loaderCancel  context.CancelFunc
	destroyed     bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewClient creates a client in automatic level mode
func NewClient(config Config) *Client {
	config.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		config:        config,
		log:           config.Logger,
		bandwidth:     newBandwidthEstimator(config.DefaultEstimate, config.EWMAWeight),
		manifestReady: make(chan struct{}),
		resume:        make(chan struct{}),
		current:       -1,
		manual:        -1,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// SetHandlers registers event handlers
func (c *Client) SetHandlers(h Handlers) {
	c.mu.Lock()
	c.handlers = h
	c.mu.Unlock()
}

// LoadSource starts loading the manifest
func (c *Client) LoadSource(manifestURL string) {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.manifestURL = manifestURL
	c.startManifestLoadLocked()
	c.mu.Unlock()
}

// startManifestLoadLocked must hold c.mu so Destroy cannot race the wait group
func (c *Client) startManifestLoadLocked() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.loadManifest()
	}()
}

func (c *Client) loadManifest() {
	c.mu.Lock()
	manifestURL := c.manifestURL
	c.mu.Unlock()

	var renditions []rendition
	var err error
	for attempt := 0; ; attempt++ {
		renditions, err = loadManifest(c.ctx, c.config.HTTPClient, manifestURL)
		if err == nil || c.ctx.Err() != nil {
			break
		}
		var perr parseError
		if errors.As(err, &perr) || attempt >= c.config.FragLoadingMaxRetry {
			break
		}
		c.emitError(ErrorData{Type: NetworkError, Details: ManifestLoadError, Err: err})
		if !c.sleep(c.config.RetryDelay) {
			return
		}
	}
	if c.ctx.Err() != nil {
		return
	}

	if err != nil {
		data := ErrorData{Type: NetworkError, Details: ManifestLoadError, Fatal: true, Err: err}
		var perr parseError
		if errors.As(err, &perr) {
			data = ErrorData{Type: OtherError, Details: ManifestParsingError, Fatal: true, Err: err}
		}
		c.mu.Lock()
		c.manifestFatal = true
		c.mu.Unlock()
		c.log.Warn("manifest load failed", zap.String("url", manifestURL), zap.Error(err))
		c.emitError(data)
		return
	}

	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.renditions = renditions
	c.manifestFatal = false
	ready := c.manifestReady
	handler := c.handlers.OnManifestParsed
	c.mu.Unlock()
	close(ready)

	levels := make([]Level, len(renditions))
	for i, r := range renditions {
		levels[i] = r.Level
	}
	c.log.Debug("manifest parsed", zap.String("url", manifestURL), zap.Int("levels", len(levels)))
	if handler != nil {
		handler(levels)
	}
}

// AttachMedia hands the client's stream to the element
func (c *Client) AttachMedia(m Media) {
	m.SetMediaSource(&stream{client: c})
}

// StartLoad restarts loading after a fatal network error: the manifest is
// reloaded if it failed, and a stalled segment loader retries
func (c *Client) StartLoad() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	if c.manifestFatal {
		c.manifestFatal = false
		c.startManifestLoadLocked()
	}
	if c.stalled {
		c.signalLocked(actionRetry)
	} else if c.awaiting {
		c.pending = actionRetry
	}
	c.mu.Unlock()
}

// RecoverMediaError skips the failed segment and continues from the lowest
// level
func (c *Client) RecoverMediaError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return
	}
	c.forceLowest = true
	if c.stalled {
		c.signalLocked(actionSkip)
	} else if c.awaiting {
		c.pending = actionSkip
	}
}

func (c *Client) signalLocked(action recoveryAction) {
	c.pending = action
	c.stalled = false
	close(c.resume)
	c.resume = make(chan struct{})
}

// Levels returns the loaded levels, ordered by bandwidth
func (c *Client) Levels() []Level {
	c.mu.Lock()
	defer c.mu.Unlock()
	levels := make([]Level, len(c.renditions))
	for i, r := range c.renditions {
		levels[i] = r.Level
	}
	return levels
}

// CurrentLevel returns the index of the last delivered level, or -1
func (c *Client) CurrentLevel() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// SetLevel pins a level; -1 returns to automatic selection
func (c *Client) SetLevel(index int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.manual = index
}

// BandwidthEstimate returns the current throughput estimate in bits/s
func (c *Client) BandwidthEstimate() float64 {
	return c.bandwidth.get()
}

// Destroy stops all loading. Safe to call more than once.
func (c *Client) Destroy() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.destroyed = true
	if c.renditions == nil {
		close(c.manifestReady)
	}
	if c.loaderCancel != nil {
		c.loaderCancel()
	}
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
	c.log.Debug("hls client destroyed")
}

func (c *Client) emitError(data ErrorData) {
	c.mu.Lock()
	handler := c.handlers.OnError
	destroyed := c.destroyed
	c.mu.Unlock()
	if destroyed {
		return
	}
	if data.Fatal {
		c.log.Warn("hls error", zap.String("type", string(data.Type)), zap.String("details", data.Details), zap.Error(data.Err))
	} else {
		c.log.Debug("hls error", zap.String("type", string(data.Type)), zap.String("details", data.Details), zap.Error(data.Err))
	}
	if handler != nil {
		handler(data)
	}
}

func (c *Client) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-c.ctx.Done():
		return false
	}
}

// waitManifest blocks until the manifest is loaded or the client destroyed
func (c *Client) waitManifest(ctx context.Context) ([]rendition, error) {
	c.mu.Lock()
	ready := c.manifestReady
	c.mu.Unlock()

	select {
	case <-ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return nil, ErrDestroyed
	}
	return c.renditions, nil
}

// stream is the media.Source handed to the element
type stream struct {
	client *Client
}

// Open streams segments from the one containing offset
func (s *stream) Open(ctx context.Context, offset time.Duration) (io.ReadCloser, time.Duration, error) {
	c := s.client
	renditions, err := c.waitManifest(ctx)
	if err != nil {
		return nil, 0, err
	}

	level := c.chooseLevel(renditions)
	start := renditions[level]
	index := start.segmentAt(offset)
	residual := time.Duration(0)
	if index < len(start.segments) {
		residual = offset - start.segments[index].Start
	}

	pr, pw := io.Pipe()
	loaderCtx, cancel := context.WithCancel(c.ctx)

	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		cancel()
		return nil, 0, ErrDestroyed
	}
	if c.loaderCancel != nil {
		c.loaderCancel()
	}
	c.loaderCancel = cancel
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		c.runLoader(loaderCtx, offset-residual, level, index, pw)
	}()

	return &pipeReader{PipeReader: pr, cancel: cancel}, residual, nil
}

// Duration is the length of the lowest level, or 0 before the manifest loads
func (s *stream) Duration() time.Duration {
	c := s.client
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.renditions) == 0 {
		return 0
	}
	return c.renditions[0].duration()
}

// pipeReader stops the loader when the element closes the stream
type pipeReader struct {
	*io.PipeReader
	cancel context.CancelFunc
}

func (p *pipeReader) Close() error {
	p.cancel()
	return p.PipeReader.Close()
}

var errClientDestroyed = fmt.Errorf("loader stopped: %w", ErrDestroyed)
