// ABOUTME: Ogg Opus stream decoder
// ABOUTME: Decodes Ogg Opus via hraban/opus streams at 48kHz stereo
package decode

import (
	"fmt"
	"io"
	"time"

	"github.com/Resonate-Protocol/trackdeck/pkg/audio"
	"gopkg.in/hraban/opus.v2"
)

const (
	opusSampleRate = 48000
	opusChannels   = 2
)

// OpusStream decodes Ogg Opus audio
type OpusStream struct {
	stream *opus.Stream
	closer io.Closer
	pcm16  []int16
}

// NewOpus creates an Ogg Opus stream decoder
func NewOpus(r io.Reader, closer io.Closer) (*OpusStream, error) {
	stream, err := opus.NewStream(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus stream: %w", err)
	}
	return &OpusStream{stream: stream, closer: closer}, nil
}

// Read decodes up to len(samples) interleaved samples
func (s *OpusStream) Read(samples []int32) (int, error) {
	if cap(s.pcm16) < len(samples) {
		s.pcm16 = make([]int16, len(samples))
	}
	pcm := s.pcm16[:len(samples)]

	n, err := s.stream.Read(pcm)
	if err == io.EOF {
		return 0, io.EOF
	}
	if err != nil {
		return 0, fmt.Errorf("opus decode failed: %w", err)
	}

	count := n * opusChannels
	if count > len(samples) {
		count = len(samples)
	}
	for i := 0; i < count; i++ {
		samples[i] = audio.SampleFromInt16(pcm[i])
	}
	return count, nil
}

func (s *OpusStream) SampleRate() int         { return opusSampleRate }
func (s *OpusStream) Channels() int           { return opusChannels }
func (s *OpusStream) Duration() time.Duration { return 0 }

func (s *OpusStream) Close() error {
	err := s.stream.Close()
	if cerr := closeIf(s.closer); err == nil {
		err = cerr
	}
	return err
}
