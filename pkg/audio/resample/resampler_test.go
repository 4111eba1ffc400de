// ABOUTME: Tests for audio resampler
// ABOUTME: Tests linear interpolation and chunk continuity
package resample

import (
	"testing"
)

func TestNew(t *testing.T) {
	r := New(44100, 48000, 2)

	if r.inputRate != 44100 {
		t.Errorf("expected inputRate 44100, got %d", r.inputRate)
	}
	if r.outputRate != 48000 {
		t.Errorf("expected outputRate 48000, got %d", r.outputRate)
	}
	if r.channels != 2 {
		t.Errorf("expected channels 2, got %d", r.channels)
	}
}

func TestResampleDownsampling(t *testing.T) {
	r := New(44100, 22050, 1)

	input := make([]int32, 1000)
	for i := range input {
		input[i] = int32(i * 10)
	}

	out := r.Process(input)
	if len(out) < 495 || len(out) > 505 {
		t.Fatalf("expected ~500 samples, got %d", len(out))
	}

	// Every second input sample is picked
	for i := 0; i < 10; i++ {
		if out[i] != int32(i*20) {
			t.Errorf("sample %d: expected %d, got %d", i, i*20, out[i])
		}
	}
}

func TestResampleUpsamplingInterpolates(t *testing.T) {
	r := New(24000, 48000, 2)
	input := []int32{0, 0, 100, -100, 200, -200}

	output := make([]int32, 16)
	n := r.Resample(input, output)
	if n != 8 {
		t.Fatalf("expected 4 frames, got %d samples", n)
	}
	if output[2] != 50 || output[3] != -50 {
		t.Errorf("expected midpoint 50/-50, got %d/%d", output[2], output[3])
	}
}

func TestResampleChunksAreContinuous(t *testing.T) {
	whole := New(44100, 22050, 1)
	chunked := New(44100, 22050, 1)

	input := make([]int32, 4410)
	for i := range input {
		input[i] = int32(i)
	}

	a := whole.Process(input)

	var b []int32
	for start := 0; start < len(input); start += 441 {
		b = append(b, chunked.Process(input[start:start+441])...)
	}

	if len(a) != len(b) {
		t.Fatalf("length mismatch: whole %d, chunked %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("sample %d differs: %d vs %d", i, a[i], b[i])
		}
	}
}

func TestResampleSameRateCopies(t *testing.T) {
	r := New(48000, 48000, 2)
	in := []int32{1, 2, 3, 4}
	out := r.Process(in)
	if len(out) != 4 || out[3] != 4 {
		t.Errorf("unexpected output %v", out)
	}
}

func TestReset(t *testing.T) {
	r := New(44100, 48000, 2)
	r.Process([]int32{5, 5, 6, 6, 7, 7})
	r.Reset()
	if r.position != 0 || r.primed || r.lastSample[0] != 0 {
		t.Error("reset did not clear state")
	}
}
