// ABOUTME: Malgo-based audio output with 16, 24 and 32-bit device formats
// ABOUTME: Packs PCM into a byte ring buffer drained by the miniaudio callback
package output

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Resonate-Protocol/trackdeck/pkg/audio"
	"github.com/gen2brain/malgo"
	"github.com/smallnest/ringbuffer"
	"go.uber.org/zap"
)

// bufferDuration is the amount of audio queued ahead of the device
const bufferDuration = 500 * time.Millisecond

var deviceFormats = map[int]malgo.FormatType{
	16: malgo.FormatS16,
	24: malgo.FormatS24,
	32: malgo.FormatS32,
}

// Malgo plays through miniaudio. Write packs samples in the device format
// so the data callback only copies bytes.
type Malgo struct {
	level

	log    *zap.Logger
	mu     sync.Mutex
	ctx    *malgo.AllocatedContext
	device *malgo.Device
	ring   *ringbuffer.RingBuffer
	format audio.Format
	buf    []byte
}

// NewMalgo creates a new Malgo output
func NewMalgo(log *zap.Logger) *Malgo {
	return &Malgo{level: level{volume: 100}, log: log}
}

// Open initializes the device, reinitializing it when the format changes
func (m *Malgo) Open(sampleRate, channels, bitDepth int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	want := audio.Format{SampleRate: sampleRate, Channels: channels, BitDepth: bitDepth}
	if m.device != nil && m.format == want {
		return nil
	}
	devFormat, ok := deviceFormats[bitDepth]
	if !ok {
		return fmt.Errorf("unsupported bit depth: %d (supported: 16, 24, 32)", bitDepth)
	}
	if m.device != nil {
		m.log.Info("format change, reinitializing device",
			zap.Int("sample_rate", sampleRate), zap.Int("channels", channels), zap.Int("bit_depth", bitDepth))
		m.closeDevice()
	}

	if m.ctx == nil {
		ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
		if err != nil {
			return fmt.Errorf("failed to initialize malgo context: %w", err)
		}
		m.ctx = ctx
	}

	frameBytes := channels * bitDepth / 8
	ring := ringbuffer.New(int(bufferDuration.Seconds()*float64(sampleRate)) * frameBytes)

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = devFormat
	cfg.Playback.Channels = uint32(channels)
	cfg.SampleRate = uint32(sampleRate)
	cfg.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(m.ctx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(out, _ []byte, _ uint32) { fill(ring, out) },
	})
	if err != nil {
		return fmt.Errorf("failed to initialize playback device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("failed to start device: %w", err)
	}

	m.device = device
	m.ring = ring
	m.format = want

	m.log.Info("audio output initialized",
		zap.String("backend", BackendMalgo),
		zap.Int("sample_rate", sampleRate),
		zap.Int("channels", channels),
		zap.Int("bit_depth", bitDepth))
	return nil
}

// fill copies queued PCM into the device buffer and pads an underrun with silence
func fill(ring *ringbuffer.RingBuffer, out []byte) {
	n, _ := ring.Read(out)
	clear(out[n:])
}

// Write queues samples, waiting for the device to drain a full buffer
func (m *Malgo) Write(samples []int32) error {
	m.mu.Lock()
	ring := m.ring
	if m.device == nil || ring == nil {
		m.mu.Unlock()
		return fmt.Errorf("output not initialized")
	}
	m.buf = packPCM(m.buf, m.scale(samples), m.format.BitDepth)
	data := m.buf
	m.mu.Unlock()

	for len(data) > 0 {
		n, err := ring.Write(data)
		data = data[n:]
		if n > 0 {
			continue
		}
		if err != nil && !errors.Is(err, ringbuffer.ErrIsFull) {
			return fmt.Errorf("failed to queue audio: %w", err)
		}
		m.mu.Lock()
		closed := m.ring != ring
		m.mu.Unlock()
		if closed {
			return fmt.Errorf("output closed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return nil
}

// Suspend stops the device, keeping queued audio
func (m *Malgo) Suspend() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.device == nil {
		return nil
	}
	return m.device.Stop()
}

// Resume restarts a stopped device
func (m *Malgo) Resume() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.device == nil {
		return nil
	}
	return m.device.Start()
}

// Close releases the device and the miniaudio context
func (m *Malgo) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closeDevice()
	if m.ctx != nil {
		if err := m.ctx.Uninit(); err != nil {
			m.log.Warn("malgo context uninit error", zap.Error(err))
		}
		m.ctx.Free()
		m.ctx = nil
	}
	return nil
}

// closeDevice must hold m.mu
func (m *Malgo) closeDevice() {
	if m.device == nil {
		return
	}
	if err := m.device.Stop(); err != nil {
		m.log.Warn("device stop error", zap.Error(err))
	}
	m.device.Uninit()
	m.device = nil
	m.ring = nil
}
