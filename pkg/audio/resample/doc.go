// ABOUTME: Sample rate conversion for decoded PCM
// ABOUTME: Used by decode graphs and waveform analysis
// Package resample converts interleaved PCM between sample rates by linear
// interpolation. A Resampler keeps the fractional read position between
// calls so consecutive chunks of one stream join without clicks.
//
//	r := resample.New(44100, 22050, 1)
//	mono := r.Process(chunk)
package resample
