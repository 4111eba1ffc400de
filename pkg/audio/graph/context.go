// ABOUTME: Process-wide audio context owning the output device and decode graphs
// ABOUTME: Starts suspended, opens the output on first resume, caps live graphs
package graph

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Resonate-Protocol/trackdeck/pkg/audio/output"
	"go.uber.org/zap"
)

var (
	// ErrGraphLimit is returned when the context already holds MaxGraphs graphs
	ErrGraphLimit = errors.New("audio graph limit reached")

	// ErrAlreadyConnected is returned when an element already has a graph
	ErrAlreadyConnected = errors.New("element already connected to a graph")

	// ErrClosed is returned by a closed context
	ErrClosed = errors.New("audio context closed")
)

// Config holds audio context configuration
type Config struct {
	// Backend selects the output: oto, malgo or null
	Backend string

	SampleRate int // Output sample rate (default 44100)
	Channels   int // Output channels (default 2)
	BitDepth   int // Output bit depth (default 16)

	// MaxGraphs limits concurrently live graphs (default 1)
	MaxGraphs int

	// Analyser settings
	FFTSize     int     // default 2048
	Smoothing   float64 // default 0.8
	MinDecibels float64 // default -100
	MaxDecibels float64 // default -30

	// NewOutput overrides backend construction
	NewOutput func() (output.Output, error)

	Logger *zap.Logger
}

func (c *Config) applyDefaults() {
	if c.SampleRate == 0 {
		c.SampleRate = 44100
	}
	if c.Channels == 0 {
		c.Channels = 2
	}
	if c.BitDepth == 0 {
		c.BitDepth = 16
	}
	if c.MaxGraphs <= 0 {
		c.MaxGraphs = 1
	}
	if c.FFTSize == 0 {
		c.FFTSize = DefaultFFTSize
	}
	if c.Smoothing == 0 {
		c.Smoothing = DefaultSmoothing
	}
	if c.MinDecibels == 0 && c.MaxDecibels == 0 {
		c.MinDecibels = DefaultMinDecibels
		c.MaxDecibels = DefaultMaxDecibels
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.NewOutput == nil {
		backend, log := c.Backend, c.Logger
		c.NewOutput = func() (output.Output, error) {
			return output.New(backend, log)
		}
	}
}

// Stats counts graph lifecycle events
type Stats struct {
	Acquired int
	Released int
	Active   int
}

// Context owns the output device. It is created suspended and the output
// device is opened on the first Resume.
type Context struct {
	config Config
	log    *zap.Logger

	mu        sync.Mutex
	out       output.Output
	running   chan struct{} // closed while not suspended
	suspended bool
	closed    bool
	graphs    map[any]*Graph
	acquired  int
	released  int
}

// NewContext creates a suspended audio context
func NewContext(config Config) *Context {
	config.applyDefaults()
	return &Context{
		config:    config,
		log:       config.Logger,
		running:   make(chan struct{}),
		suspended: true,
		graphs:    make(map[any]*Graph),
	}
}

// SampleRate returns the output sample rate
func (c *Context) SampleRate() int { return c.config.SampleRate }

// Channels returns the output channel count
func (c *Context) Channels() int { return c.config.Channels }

// Suspended reports whether the context is suspended
func (c *Context) Suspended() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.suspended
}

// Resume starts audio output, opening the device on first use
func (c *Context) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if !c.suspended {
		return nil
	}

	if c.out == nil {
		out, err := c.config.NewOutput()
		if err != nil {
			return fmt.Errorf("failed to create audio output: %w", err)
		}
		if err := out.Open(c.config.SampleRate, c.config.Channels, c.config.BitDepth); err != nil {
			return fmt.Errorf("failed to open audio output: %w", err)
		}
		c.out = out
	} else if err := c.out.Resume(); err != nil {
		return fmt.Errorf("failed to resume audio output: %w", err)
	}

	c.suspended = false
	close(c.running)
	c.log.Debug("audio context resumed")
	return nil
}

// Suspend pauses audio output. Graph writes block until Resume.
func (c *Context) Suspend() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.suspended {
		return nil
	}
	c.suspended = true
	c.running = make(chan struct{})
	if c.out != nil {
		if err := c.out.Suspend(); err != nil {
			return fmt.Errorf("failed to suspend audio output: %w", err)
		}
	}
	c.log.Debug("audio context suspended")
	return nil
}

// NewGraph builds a graph for the given element. Each element may be
// connected once, and at most MaxGraphs graphs may be live.
func (c *Context) NewGraph(element any) (*Graph, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	if _, ok := c.graphs[element]; ok {
		return nil, ErrAlreadyConnected
	}
	if len(c.graphs) >= c.config.MaxGraphs {
		return nil, fmt.Errorf("%d of %d graphs live: %w", len(c.graphs), c.config.MaxGraphs, ErrGraphLimit)
	}

	g := &Graph{
		ctx:     c,
		element: element,
		analyser: NewAnalyser(AnalyserConfig{
			FFTSize:     c.config.FFTSize,
			Smoothing:   c.config.Smoothing,
			MinDecibels: c.config.MinDecibels,
			MaxDecibels: c.config.MaxDecibels,
		}),
	}
	c.graphs[element] = g
	c.acquired++
	c.log.Debug("audio graph created", zap.Int("active", len(c.graphs)))
	return g, nil
}

// release removes a graph. Safe to call more than once.
func (c *Context) release(g *Graph) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.graphs[g.element]; ok && cur == g {
		delete(c.graphs, g.element)
		c.released++
		c.log.Debug("audio graph released", zap.Int("active", len(c.graphs)))
	}
}

// Stats returns graph lifecycle counters
func (c *Context) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Acquired: c.acquired, Released: c.released, Active: len(c.graphs)}
}

// Output returns the opened output device, or nil before the first Resume
func (c *Context) Output() output.Output {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out
}

// write blocks while the context is suspended, then writes to the output
func (c *Context) write(ctx context.Context, samples []int32) error {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return ErrClosed
		}
		running := c.running
		suspended := c.suspended
		out := c.out
		c.mu.Unlock()

		if !suspended && out != nil {
			return out.Write(samples)
		}

		select {
		case <-running:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close releases the output device. Live graphs stop accepting audio.
func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	if c.suspended {
		close(c.running)
	}
	c.graphs = make(map[any]*Graph)

	if c.out != nil {
		if err := c.out.Close(); err != nil {
			return fmt.Errorf("failed to close audio output: %w", err)
		}
	}
	c.log.Debug("audio context closed")
	return nil
}
