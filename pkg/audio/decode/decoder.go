// ABOUTME: Streaming decoder interface and container sniffing
// ABOUTME: Opens MP3, FLAC, WAV and Ogg Opus byte streams as PCM sample streams
package decode

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrUnsupportedFormat is returned when a byte stream is not a known codec
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// Codec names returned by Sniff
const (
	CodecMP3  = "mp3"
	CodecFLAC = "flac"
	CodecWAV  = "wav"
	CodecOpus = "opus"
)

// sniffLen is the number of leading bytes inspected by Sniff
const sniffLen = 64

// Stream decodes an encoded byte stream into interleaved PCM samples in the
// 24-bit range (see audio.Max24Bit)
type Stream interface {
	// Read fills samples with interleaved PCM. Returns io.EOF at the end.
	Read(samples []int32) (int, error)

	SampleRate() int
	Channels() int

	// Duration is the total stream length, or 0 when the container does not say
	Duration() time.Duration

	Close() error
}

// Sniff identifies the codec from the first bytes of a stream
func Sniff(header []byte) (string, error) {
	switch {
	case len(header) >= 4 && string(header[:4]) == "fLaC":
		return CodecFLAC, nil
	case len(header) >= 12 && string(header[:4]) == "RIFF" && string(header[8:12]) == "WAVE":
		return CodecWAV, nil
	case len(header) >= 4 && string(header[:4]) == "OggS":
		if bytes.Contains(header, []byte("OpusHead")) {
			return CodecOpus, nil
		}
		return "", fmt.Errorf("ogg stream without opus header: %w", ErrUnsupportedFormat)
	case len(header) >= 3 && string(header[:3]) == "ID3":
		return CodecMP3, nil
	case len(header) >= 2 && header[0] == 0xFF && header[1]&0xE0 == 0xE0:
		return CodecMP3, nil
	}
	return "", ErrUnsupportedFormat
}

// Open sniffs the stream and returns a decoder for it. The returned Stream
// closes r when closed if r is an io.Closer.
func Open(r io.Reader) (Stream, error) {
	br := bufio.NewReaderSize(r, 4096)
	header, err := br.Peek(sniffLen)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, fmt.Errorf("failed to read stream header: %w", err)
	}

	codec, err := Sniff(header)
	if err != nil {
		return nil, err
	}

	closer, _ := r.(io.Closer)

	switch codec {
	case CodecMP3:
		return NewMP3(br, closer)
	case CodecFLAC:
		return NewFLAC(br, closer)
	case CodecWAV:
		return NewWAV(br, closer)
	case CodecOpus:
		return NewOpus(br, closer)
	}
	return nil, ErrUnsupportedFormat
}

// ReadAll decodes the remainder of a stream
func ReadAll(s Stream) ([]int32, error) {
	var out []int32
	buf := make([]int32, 8192)
	for {
		n, err := s.Read(buf)
		out = append(out, buf[:n]...)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		if n == 0 {
			return out, nil
		}
	}
}

// Skip decodes and discards d worth of audio. Returns io.EOF when the stream
// ends first.
func Skip(s Stream, d time.Duration) error {
	remaining := int(d.Seconds()*float64(s.SampleRate())) * s.Channels()
	buf := make([]int32, 8192)
	for remaining > 0 {
		chunk := buf
		if remaining < len(chunk) {
			chunk = chunk[:remaining]
		}
		n, err := s.Read(chunk)
		remaining -= n
		if err != nil {
			return err
		}
		if n == 0 {
			return io.EOF
		}
	}
	return nil
}

func closeIf(c io.Closer) error {
	if c == nil {
		return nil
	}
	return c.Close()
}
