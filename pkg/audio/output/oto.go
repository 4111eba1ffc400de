// ABOUTME: Oto-based audio output implementation
// ABOUTME: Streams 16-bit PCM through a pipe into a persistent oto player
package output

import (
	"fmt"
	"io"
	"sync"

	"github.com/Resonate-Protocol/trackdeck/pkg/audio"
	"github.com/ebitengine/oto/v3"
	"go.uber.org/zap"
)

// Oto plays through ebitengine/oto. Only 16-bit output is supported and the
// process may hold a single oto context, so the first format sticks.
type Oto struct {
	level

	log    *zap.Logger
	mu     sync.Mutex
	ctx    *oto.Context
	player *oto.Player
	pr     *io.PipeReader
	pw     *io.PipeWriter
	format audio.Format
	buf    []byte
}

// NewOto creates a new Oto output
func NewOto(log *zap.Logger) *Oto {
	return &Oto{level: level{volume: 100}, log: log}
}

// Open initializes the output device
func (o *Oto) Open(sampleRate, channels, bitDepth int) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if bitDepth != 16 {
		o.log.Debug("oto plays 16-bit only", zap.Int("requested_bit_depth", bitDepth))
	}

	if o.ctx != nil {
		if o.format.SampleRate != sampleRate || o.format.Channels != channels {
			o.log.Warn("oto cannot change format, keeping existing context",
				zap.Int("sample_rate", o.format.SampleRate), zap.Int("channels", o.format.Channels))
		}
		if o.player == nil {
			o.startPlayer()
		}
		return nil
	}

	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channels,
		Format:       oto.FormatSignedInt16LE,
	})
	if err != nil {
		return fmt.Errorf("failed to create oto context: %w", err)
	}
	<-ready

	o.ctx = ctx
	o.format = audio.Format{SampleRate: sampleRate, Channels: channels, BitDepth: 16}
	o.startPlayer()

	o.log.Info("audio output initialized",
		zap.String("backend", BackendOto),
		zap.Int("sample_rate", sampleRate),
		zap.Int("channels", channels))
	return nil
}

// startPlayer attaches a fresh pipe and player to the context (must hold o.mu)
func (o *Oto) startPlayer() {
	o.pr, o.pw = io.Pipe()
	o.player = o.ctx.NewPlayer(o.pr)
	o.player.Play()
}

// Write blocks until oto has consumed the samples
func (o *Oto) Write(samples []int32) error {
	o.mu.Lock()
	w := o.pw
	if w == nil {
		o.mu.Unlock()
		return fmt.Errorf("output not initialized")
	}
	o.buf = packPCM(o.buf, o.scale(samples), 16)
	buf := o.buf
	o.mu.Unlock()

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("failed to write audio: %w", err)
	}
	return nil
}

// Suspend pauses the oto context
func (o *Oto) Suspend() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ctx == nil {
		return nil
	}
	return o.ctx.Suspend()
}

// Resume resumes the oto context
func (o *Oto) Resume() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ctx == nil {
		return nil
	}
	return o.ctx.Resume()
}

// Close stops the player. The oto context cannot be recreated, so it is
// only suspended.
func (o *Oto) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.pw != nil {
		o.pw.Close()
		o.pw = nil
	}
	if o.player != nil {
		o.player.Close()
		o.player = nil
	}
	if o.pr != nil {
		o.pr.Close()
		o.pr = nil
	}
	if o.ctx != nil {
		return o.ctx.Suspend()
	}
	return nil
}
