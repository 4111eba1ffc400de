// ABOUTME: MP3 stream decoder
// ABOUTME: Decodes MP3 via go-mp3 to 24-bit range int32 samples
package decode

import (
	"fmt"
	"io"
	"time"

	"github.com/hajimehoshi/go-mp3"
)

// MP3Stream decodes MP3 audio. go-mp3 always outputs 16-bit stereo.
type MP3Stream struct {
	decoder *mp3.Decoder
	closer  io.Closer
	buf     []byte
}

// NewMP3 creates an MP3 stream decoder
func NewMP3(r io.Reader, closer io.Closer) (*MP3Stream, error) {
	decoder, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create mp3 decoder: %w", err)
	}
	return &MP3Stream{decoder: decoder, closer: closer}, nil
}

// Read decodes up to len(samples) interleaved samples
func (s *MP3Stream) Read(samples []int32) (int, error) {
	need := len(samples) * 2
	if cap(s.buf) < need {
		s.buf = make([]byte, need)
	}
	buf := s.buf[:need]

	n, err := io.ReadFull(s.decoder, buf)
	count := pcm16ToSamples(buf[:n-n%2], samples)
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	}
	if err != nil && err != io.EOF {
		return count, fmt.Errorf("mp3 decode error: %w", err)
	}
	return count, err
}

func (s *MP3Stream) SampleRate() int { return s.decoder.SampleRate() }
func (s *MP3Stream) Channels() int   { return 2 }

// Duration is known only when the underlying reader is seekable
func (s *MP3Stream) Duration() time.Duration {
	length := s.decoder.Length()
	if length <= 0 {
		return 0
	}
	frames := length / 4
	return time.Duration(float64(frames) / float64(s.decoder.SampleRate()) * float64(time.Second))
}

func (s *MP3Stream) Close() error {
	return closeIf(s.closer)
}
