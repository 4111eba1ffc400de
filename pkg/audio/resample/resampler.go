// ABOUTME: Linear interpolation resampler for interleaved PCM
// ABOUTME: Carries the last frame across chunks so streamed conversion is seamless
package resample

// Resampler performs linear interpolation to convert between sample rates.
// It keeps the last frame of each chunk so consecutive chunks join without
// gaps.
type Resampler struct {
	inputRate  int
	outputRate int
	channels   int
	ratio      float64
	position   float64
	lastSample []int32 // one sample per channel
	primed     bool
}

// New creates a new resampler
func New(inputRate, outputRate, channels int) *Resampler {
	return &Resampler{
		inputRate:  inputRate,
		outputRate: outputRate,
		channels:   channels,
		ratio:      float64(inputRate) / float64(outputRate),
		position:   0.0,
		lastSample: make([]int32, channels),
	}
}

// Resample converts input samples to output sample rate using linear interpolation
// input: interleaved samples at inputRate
// output: interleaved samples at outputRate
func (r *Resampler) Resample(input []int32, output []int32) int {
	inputFrames := len(input) / r.channels
	if inputFrames == 0 {
		return 0
	}

	// Virtual frame 0 is the carried frame from the previous chunk
	offset := 0
	if r.primed {
		offset = 1
	}
	virtualFrames := inputFrames + offset
	frameAt := func(i, ch int) int32 {
		if i < offset {
			return r.lastSample[ch]
		}
		return input[(i-offset)*r.channels+ch]
	}

	outputFrames := len(output) / r.channels
	outIdx := 0

	for outIdx < outputFrames {
		inputIdx := int(r.position)
		if inputIdx+1 >= virtualFrames {
			break
		}

		// Linear interpolation factor
		frac := r.position - float64(inputIdx)

		for ch := 0; ch < r.channels; ch++ {
			sample1 := frameAt(inputIdx, ch)
			sample2 := frameAt(inputIdx+1, ch)
			interpolated := float64(sample1)*(1.0-frac) + float64(sample2)*frac
			output[outIdx*r.channels+ch] = int32(interpolated)
		}

		outIdx++
		r.position += r.ratio
	}

	// The last input frame becomes virtual frame 0 of the next chunk
	last := (inputFrames - 1) * r.channels
	copy(r.lastSample, input[last:last+r.channels])
	r.position -= float64(virtualFrames - 1)
	if r.position < 0 {
		r.position = 0
	}
	r.primed = true

	return outIdx * r.channels
}

// Process resamples a chunk into a newly allocated slice
func (r *Resampler) Process(input []int32) []int32 {
	if r.inputRate == r.outputRate {
		out := make([]int32, len(input))
		copy(out, input)
		return out
	}
	output := make([]int32, r.OutputSamplesNeeded(len(input))+2*r.channels)
	n := r.Resample(input, output)
	return output[:n]
}

// Reset resets the resampler state
func (r *Resampler) Reset() {
	r.position = 0.0
	r.primed = false
	for i := range r.lastSample {
		r.lastSample[i] = 0
	}
}

// OutputSamplesNeeded calculates how many output samples will be produced from input samples
func (r *Resampler) OutputSamplesNeeded(inputSamples int) int {
	inputFrames := inputSamples / r.channels
	outputFrames := int(float64(inputFrames) / r.ratio)
	return outputFrames * r.channels
}

// InputSamplesNeeded calculates how many input samples are needed to produce output samples
func (r *Resampler) InputSamplesNeeded(outputSamples int) int {
	outputFrames := outputSamples / r.channels
	inputFrames := int(float64(outputFrames) * r.ratio)
	return inputFrames * r.channels
}
