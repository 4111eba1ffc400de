// ABOUTME: Full-track waveform precomputation for the scrub bar
// ABOUTME: Decodes a track once, bins peak amplitudes and caches profiles per URL
package waveform

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/Resonate-Protocol/trackdeck/pkg/audio"
	"github.com/Resonate-Protocol/trackdeck/pkg/audio/decode"
	"github.com/Resonate-Protocol/trackdeck/pkg/audio/resample"
	"github.com/Resonate-Protocol/trackdeck/pkg/media"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// ErrNoAudio is returned when a source decodes to zero samples
var ErrNoAudio = errors.New("source contains no audio")

// Profile is the precomputed waveform of one source
type Profile struct {
	SourceURL string
	Bins      []float64 // peak amplitude per bin, in [0, 1]
	BinCount  int
	Duration  time.Duration // length of audio analyzed

	known time.Duration // truncation requested for this profile
}

// Observer receives computation outcomes, used for metrics
type Observer interface {
	WaveformComputed(url string, elapsed time.Duration)
	WaveformFailed(url string, err error)
}

// Config holds precomputer configuration
type Config struct {
	// BinCount is the number of bins per profile (default 150)
	BinCount int

	// SampleRate is the analysis rate (default 22050)
	SampleRate int

	HTTPClient *http.Client

	// OnReady receives profiles produced by Request
	OnReady func(p *Profile)

	Observer Observer
	Logger   *zap.Logger
}

// Precomputer computes waveform profiles. Profiles are cached per source URL
// until Close.
type Precomputer struct {
	config Config
	log    *zap.Logger
	cache  *cache.Cache

	mu           sync.Mutex
	lastURL      string
	lastDuration time.Duration
	gen          int
	closed       bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a precomputer
func New(config Config) *Precomputer {
	if config.BinCount <= 0 {
		config.BinCount = 150
	}
	if config.SampleRate <= 0 {
		config.SampleRate = 22050
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Precomputer{
		config: config,
		log:    config.Logger,
		// no expiration and no janitor goroutine
		cache:  cache.New(cache.NoExpiration, 0),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Cached returns a cached profile for url
func (p *Precomputer) Cached(url string) (*Profile, bool) {
	v, ok := p.cache.Get(url)
	if !ok {
		return nil, false
	}
	return v.(*Profile), true
}

// lookup returns a cached profile usable for the given known duration
func (p *Precomputer) lookup(url string, known time.Duration) (*Profile, bool) {
	prof, ok := p.Cached(url)
	if !ok {
		return nil, false
	}
	if known > 0 && prof.known != known {
		return nil, false
	}
	return prof, true
}

// Compute returns the profile for url, computing it when not cached.
// knownDuration truncates analysis when > 0.
func (p *Precomputer) Compute(ctx context.Context, url string, knownDuration time.Duration) (*Profile, error) {
	if prof, ok := p.lookup(url, knownDuration); ok {
		return prof, nil
	}
	prof, err := p.compute(ctx, url, knownDuration)
	if err != nil {
		return nil, err
	}
	p.cache.SetDefault(url, prof)
	return prof, nil
}

// Request schedules an asynchronous computation. It recomputes when the URL
// changes or when the duration becomes known. Only the result of the latest
// request is delivered to OnReady; failures are logged and dropped.
func (p *Precomputer) Request(url string, knownDuration time.Duration) {
	if url == "" {
		return
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	durationArrived := p.lastDuration <= 0 && knownDuration > 0
	if url == p.lastURL && !durationArrived {
		p.mu.Unlock()
		return
	}
	p.lastURL = url
	p.lastDuration = knownDuration
	p.gen++
	gen := p.gen
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()

		prof, ok := p.lookup(url, knownDuration)
		if !ok {
			var err error
			prof, err = p.compute(p.ctx, url, knownDuration)
			if err != nil {
				if p.ctx.Err() == nil {
					p.log.Warn("waveform computation failed", zap.String("url", url), zap.Error(err))
				}
				return
			}
		}

		p.mu.Lock()
		current := gen == p.gen && !p.closed
		p.mu.Unlock()
		if !current {
			p.log.Debug("discarding stale waveform", zap.String("url", url))
			return
		}

		p.cache.SetDefault(url, prof)
		if p.config.OnReady != nil {
			p.config.OnReady(prof)
		}
	}()
}

// Reset forgets the last request so the next Request always computes.
// Results of in-flight requests are discarded.
func (p *Precomputer) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastURL = ""
	p.lastDuration = 0
	p.gen++
}

// Close cancels pending work and flushes the cache
func (p *Precomputer) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
	p.cache.Flush()
}

func (p *Precomputer) compute(ctx context.Context, url string, knownDuration time.Duration) (*Profile, error) {
	start := time.Now()
	prof, err := p.analyze(ctx, url, knownDuration)
	if p.config.Observer != nil {
		if err != nil {
			p.config.Observer.WaveformFailed(url, err)
		} else {
			p.config.Observer.WaveformComputed(url, time.Since(start))
		}
	}
	return prof, err
}

func (p *Precomputer) analyze(ctx context.Context, url string, knownDuration time.Duration) (*Profile, error) {
	src := &media.URLSource{URL: url, Client: p.config.HTTPClient}
	body, _, err := src.Open(ctx, 0)
	if err != nil {
		return nil, err
	}

	stream, err := decode.Open(body)
	if err != nil {
		body.Close()
		return nil, fmt.Errorf("failed to decode waveform source: %w", err)
	}
	defer stream.Close()

	rate := p.config.SampleRate
	limit := math.MaxInt
	if knownDuration > 0 {
		limit = int(knownDuration.Seconds() * float64(rate))
	}

	channels := stream.Channels()
	rs := resample.New(stream.SampleRate(), rate, channels)
	buf := make([]int32, 8192*channels)
	var mono []float64

	for len(mono) < limit {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, readErr := stream.Read(buf)
		if n > 0 {
			mono = append(mono, audio.DownmixMono(rs.Process(buf[:n]), channels)...)
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return nil, fmt.Errorf("failed to decode waveform source: %w", readErr)
		}
		if n == 0 {
			break
		}
	}

	if len(mono) > limit {
		mono = mono[:limit]
	}
	if len(mono) == 0 {
		return nil, ErrNoAudio
	}

	bins := peakBins(mono, p.config.BinCount)
	return &Profile{
		SourceURL: url,
		Bins:      bins,
		BinCount:  len(bins),
		Duration:  time.Duration(float64(len(mono)) / float64(rate) * float64(time.Second)),
		known:     knownDuration,
	}, nil
}

// peakBins partitions samples into count equal-width bins and returns the
// peak absolute amplitude of each, clamped to [0, 1]
func peakBins(samples []float64, count int) []float64 {
	bins := make([]float64, count)
	n := len(samples)
	for i := 0; i < count; i++ {
		start := i * n / count
		end := (i + 1) * n / count
		var peak float64
		for _, s := range samples[start:end] {
			if a := math.Abs(s); a > peak {
				peak = a
			}
		}
		if peak > 1 {
			peak = 1
		}
		bins[i] = peak
	}
	return bins
}
