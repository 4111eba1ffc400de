// ABOUTME: Analysis node exposing time-domain and frequency byte data
// ABOUTME: Keeps a ring of recent samples and runs a windowed FFT with gofft
package graph

import (
	"math"
	"sync"

	"github.com/argusdusty/gofft"
)

// Analyser defaults
const (
	DefaultFFTSize     = 2048
	DefaultSmoothing   = 0.8
	DefaultMinDecibels = -100.0
	DefaultMaxDecibels = -30.0
)

// AnalyserConfig configures an Analyser
type AnalyserConfig struct {
	FFTSize     int // rounded up to a power of two
	Smoothing   float64
	MinDecibels float64
	MaxDecibels float64
}

// Analyser holds the last FFTSize mono samples written through a graph
type Analyser struct {
	fftSize   int
	smoothing float64
	minDb     float64
	maxDb     float64
	window    []float64

	mu      sync.Mutex
	ring    []float64
	pos     int
	prevMag []float64
	scratch []complex128
}

// NewAnalyser creates an analyser
func NewAnalyser(config AnalyserConfig) *Analyser {
	size := config.FFTSize
	if size <= 0 {
		size = DefaultFFTSize
	}
	size = nextPowerOfTwo(size)

	smoothing := config.Smoothing
	if smoothing < 0 || smoothing >= 1 {
		smoothing = DefaultSmoothing
	}
	minDb, maxDb := config.MinDecibels, config.MaxDecibels
	if minDb >= maxDb {
		minDb, maxDb = DefaultMinDecibels, DefaultMaxDecibels
	}

	return &Analyser{
		fftSize:   size,
		smoothing: smoothing,
		minDb:     minDb,
		maxDb:     maxDb,
		window:    blackman(size),
		ring:      make([]float64, size),
		prevMag:   make([]float64, size/2),
		scratch:   make([]complex128, size),
	}
}

// FFTSize returns the analysis window length
func (a *Analyser) FFTSize() int { return a.fftSize }

// FrequencyBinCount returns half the FFT size
func (a *Analyser) FrequencyBinCount() int { return a.fftSize / 2 }

// Write appends mono samples in [-1, 1]
func (a *Analyser) Write(samples []float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(samples) > a.fftSize {
		samples = samples[len(samples)-a.fftSize:]
	}
	for _, s := range samples {
		a.ring[a.pos] = s
		a.pos = (a.pos + 1) % a.fftSize
	}
}

// Reset clears samples and smoothing state
func (a *Analyser) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.ring {
		a.ring[i] = 0
	}
	for i := range a.prevMag {
		a.prevMag[i] = 0
	}
	a.pos = 0
}

// ByteTimeDomainData copies the most recent waveform into dst as unsigned
// bytes centred on 128, oldest first
func (a *Analyser) ByteTimeDomainData(dst []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := len(dst)
	if n > a.fftSize {
		n = a.fftSize
	}
	start := a.pos - n
	if start < 0 {
		start += a.fftSize
	}
	for i := 0; i < n; i++ {
		s := a.ring[(start+i)%a.fftSize]
		dst[i] = clampByte(128 + 128*s)
	}
}

// ByteFrequencyData fills dst with smoothed magnitudes mapped from the
// decibel range to 0..255
func (a *Analyser) ByteFrequencyData(dst []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := 0; i < a.fftSize; i++ {
		s := a.ring[(a.pos+i)%a.fftSize]
		a.scratch[i] = complex(s*a.window[i], 0)
	}
	if err := gofft.FFT(a.scratch); err != nil {
		return
	}

	bins := a.fftSize / 2
	scale := 1 / float64(a.fftSize)
	dbRange := a.maxDb - a.minDb
	for k := 0; k < bins; k++ {
		c := a.scratch[k]
		mag := math.Hypot(real(c), imag(c)) * scale
		smoothed := a.smoothing*a.prevMag[k] + (1-a.smoothing)*mag
		a.prevMag[k] = smoothed

		if k >= len(dst) {
			continue
		}
		db := math.Inf(-1)
		if smoothed > 0 {
			db = 20 * math.Log10(smoothed)
		}
		dst[k] = clampByte(255 * (db - a.minDb) / dbRange)
	}
}

func clampByte(v float64) byte {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return byte(v)
}

// blackman returns a Blackman window of length n
func blackman(n int) []float64 {
	const a0, a1, a2 = 0.42, 0.5, 0.08
	w := make([]float64, n)
	for i := range w {
		x := 2 * math.Pi * float64(i) / float64(n)
		w[i] = a0 - a1*math.Cos(x) + a2*math.Cos(2*x)
	}
	return w
}

func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
