// ABOUTME: Tests for stream decoders and codec sniffing
// ABOUTME: Round-trips generated WAV files and checks header detection
package decode

import (
	"bytes"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// writeTestWAV writes a 16-bit WAV sine tone and returns its path
func writeTestWAV(t *testing.T, rate, channels int, seconds float64) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tone.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}

	enc := wav.NewEncoder(f, rate, 16, channels, 1)
	frames := int(float64(rate) * seconds)
	data := make([]int, frames*channels)
	for i := 0; i < frames; i++ {
		v := int(math.Sin(2*math.Pi*440*float64(i)/float64(rate)) * 16000)
		for ch := 0; ch < channels; ch++ {
			data[i*channels+ch] = v
		}
	}
	buf := &goaudio.IntBuffer{
		Data:           data,
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: rate},
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestSniff(t *testing.T) {
	tests := []struct {
		name   string
		header []byte
		codec  string
	}{
		{"flac", []byte("fLaC\x00\x00\x00\x22"), CodecFLAC},
		{"wav", []byte("RIFF\x24\x00\x00\x00WAVEfmt "), CodecWAV},
		{"id3", []byte("ID3\x04\x00"), CodecMP3},
		{"mpeg frame sync", []byte{0xFF, 0xFB, 0x90, 0x64}, CodecMP3},
		{"ogg opus", append([]byte("OggS\x00\x02"), []byte("....OpusHead")...), CodecOpus},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			codec, err := Sniff(tt.header)
			if err != nil {
				t.Fatalf("sniff failed: %v", err)
			}
			if codec != tt.codec {
				t.Errorf("expected %s, got %s", tt.codec, codec)
			}
		})
	}
}

func TestSniffUnsupported(t *testing.T) {
	for _, header := range [][]byte{
		nil,
		[]byte("<html>"),
		[]byte("OggS\x00\x02vorbis"),
		[]byte("#EXTM3U\n"),
	} {
		if _, err := Sniff(header); !errors.Is(err, ErrUnsupportedFormat) {
			t.Errorf("expected ErrUnsupportedFormat for %q, got %v", header, err)
		}
	}
}

func TestOpenUnsupported(t *testing.T) {
	_, err := Open(bytes.NewReader([]byte("not audio at all")))
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestOpenWAV(t *testing.T) {
	path := writeTestWAV(t, 8000, 2, 0.5)
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}

	stream, err := Open(f)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer stream.Close()

	if stream.SampleRate() != 8000 {
		t.Errorf("expected 8000Hz, got %d", stream.SampleRate())
	}
	if stream.Channels() != 2 {
		t.Errorf("expected 2 channels, got %d", stream.Channels())
	}
	if d := stream.Duration(); d < 490*time.Millisecond || d > 510*time.Millisecond {
		t.Errorf("expected ~500ms, got %v", d)
	}

	samples, err := ReadAll(stream)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if len(samples) != 8000 {
		t.Errorf("expected 8000 interleaved samples, got %d", len(samples))
	}

	// 16-bit input is scaled into the 24-bit range
	var peak int32
	for _, s := range samples {
		if s > peak {
			peak = s
		}
	}
	if peak < 15000<<8 || peak > 16000<<8 {
		t.Errorf("unexpected peak %d", peak)
	}
}

func TestSkip(t *testing.T) {
	path := writeTestWAV(t, 8000, 1, 1.0)
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	stream, err := Open(f)
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Close()

	if err := Skip(stream, 250*time.Millisecond); err != nil {
		t.Fatalf("skip failed: %v", err)
	}
	rest, err := ReadAll(stream)
	if err != nil {
		t.Fatal(err)
	}
	if len(rest) != 6000 {
		t.Errorf("expected 6000 remaining samples, got %d", len(rest))
	}

	if err := Skip(stream, time.Second); err != io.EOF {
		t.Errorf("expected io.EOF skipping past end, got %v", err)
	}
}

func TestScaleTo24(t *testing.T) {
	if got := scaleTo24(1, 16); got != 256 {
		t.Errorf("16-bit: got %d", got)
	}
	if got := scaleTo24(256, 32); got != 0 {
		t.Errorf("32-bit: got %d", got)
	}
	if got := scaleTo24(-5, 24); got != -5 {
		t.Errorf("24-bit: got %d", got)
	}
}
