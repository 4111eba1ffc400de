// ABOUTME: Audio output package for playing audio
// ABOUTME: Provides Output interface with oto, malgo and null backends
// Package output provides audio playback backends.
//
// Backends: oto (default), malgo (miniaudio, 16/24/32-bit) and null
// (discards samples, for headless use and tests).
//
// Example:
//
//	out, err := output.New(output.BackendOto, logger)
//	err = out.Open(44100, 2, 16)
//	err = out.Write(samples)
package output
