// ABOUTME: WAV stream decoder
// ABOUTME: Buffers the RIFF payload and decodes it with go-audio/wav
package decode

import (
	"bytes"
	"fmt"
	"io"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAVStream decodes RIFF/WAVE PCM audio
type WAVStream struct {
	decoder  *wav.Decoder
	closer   io.Closer
	buf      *goaudio.IntBuffer
	bitDepth int
	channels int
	rate     int
	duration time.Duration
}

// NewWAV creates a WAV stream decoder. The wav decoder needs to seek, so the
// whole payload is read into memory first.
func NewWAV(r io.Reader, closer io.Closer) (*WAVStream, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read wav data: %w", err)
	}

	decoder := wav.NewDecoder(bytes.NewReader(data))
	if !decoder.IsValidFile() {
		return nil, fmt.Errorf("invalid wav file: %w", ErrUnsupportedFormat)
	}

	if err := decoder.FwdToPCM(); err != nil {
		return nil, fmt.Errorf("failed to seek to PCM data: %w", err)
	}

	channels := int(decoder.NumChans)
	rate := int(decoder.SampleRate)

	var duration time.Duration
	frameBytes := channels * int(decoder.BitDepth) / 8
	if frameBytes > 0 && rate > 0 {
		frames := decoder.PCMSize / frameBytes
		duration = time.Duration(float64(frames) / float64(rate) * float64(time.Second))
	}

	return &WAVStream{
		decoder:  decoder,
		closer:   closer,
		bitDepth: int(decoder.BitDepth),
		channels: channels,
		rate:     rate,
		duration: duration,
		buf: &goaudio.IntBuffer{
			Format: &goaudio.Format{NumChannels: channels, SampleRate: rate},
		},
	}, nil
}

// Read decodes up to len(samples) interleaved samples
func (s *WAVStream) Read(samples []int32) (int, error) {
	if cap(s.buf.Data) < len(samples) {
		s.buf.Data = make([]int, len(samples))
	}
	s.buf.Data = s.buf.Data[:len(samples)]

	n, err := s.decoder.PCMBuffer(s.buf)
	if err != nil && err != io.EOF {
		return 0, fmt.Errorf("failed to read PCM buffer: %w", err)
	}
	for i := 0; i < n; i++ {
		samples[i] = scaleTo24(int32(s.buf.Data[i]), s.bitDepth)
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (s *WAVStream) SampleRate() int         { return s.rate }
func (s *WAVStream) Channels() int           { return s.channels }
func (s *WAVStream) Duration() time.Duration { return s.duration }

func (s *WAVStream) Close() error {
	return closeIf(s.closer)
}
