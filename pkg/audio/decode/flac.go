// ABOUTME: FLAC stream decoder
// ABOUTME: Decodes FLAC frames via mewkiz/flac to interleaved 24-bit samples
package decode

import (
	"fmt"
	"io"
	"time"

	"github.com/mewkiz/flac"
)

// FLACStream decodes FLAC audio frame by frame
type FLACStream struct {
	stream  *flac.Stream
	closer  io.Closer
	pending []int32
}

// NewFLAC creates a FLAC stream decoder
func NewFLAC(r io.Reader, closer io.Closer) (*FLACStream, error) {
	stream, err := flac.New(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create flac decoder: %w", err)
	}
	return &FLACStream{stream: stream, closer: closer}, nil
}

// Read decodes up to len(samples) interleaved samples
func (s *FLACStream) Read(samples []int32) (int, error) {
	n := 0
	for n < len(samples) {
		if len(s.pending) == 0 {
			frame, err := s.stream.ParseNext()
			if err == io.EOF {
				return n, io.EOF
			}
			if err != nil {
				return n, fmt.Errorf("failed to parse flac frame: %w", err)
			}

			channels := len(frame.Subframes)
			blockSize := int(frame.BlockSize)
			bps := int(frame.BitsPerSample)
			for i := 0; i < blockSize; i++ {
				for ch := 0; ch < channels; ch++ {
					s.pending = append(s.pending, scaleTo24(frame.Subframes[ch].Samples[i], bps))
				}
			}
		}

		copied := copy(samples[n:], s.pending)
		n += copied
		s.pending = s.pending[copied:]
	}
	return n, nil
}

func (s *FLACStream) SampleRate() int { return int(s.stream.Info.SampleRate) }
func (s *FLACStream) Channels() int   { return int(s.stream.Info.NChannels) }

func (s *FLACStream) Duration() time.Duration {
	info := s.stream.Info
	if info.NSamples == 0 || info.SampleRate == 0 {
		return 0
	}
	return time.Duration(float64(info.NSamples) / float64(info.SampleRate) * float64(time.Second))
}

func (s *FLACStream) Close() error {
	err := s.stream.Close()
	if cerr := closeIf(s.closer); err == nil {
		err = cerr
	}
	return err
}
