// ABOUTME: Audio decoder package for multiple codec support
// ABOUTME: Provides the Stream interface and sniffing for MP3, FLAC, WAV, Ogg Opus
// Package decode turns encoded audio byte streams into PCM sample streams.
//
// Supports: MP3, FLAC, WAV (PCM), Ogg Opus
//
// The codec is sniffed from the first bytes of the stream, so callers do
// not need to know the file type. All streams output interleaved int32
// samples in 24-bit range.
//
// Example:
//
//	stream, err := decode.Open(resp.Body)
//	n, err := stream.Read(samples)
package decode
