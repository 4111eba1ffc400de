// ABOUTME: Shared PCM types for decoders, graphs, outputs and analysis
// ABOUTME: Samples travel as int32 in the 24-bit range
// Package audio holds the PCM vocabulary shared by the decode, graph,
// output and waveform packages.
//
// A Buffer is a run of interleaved samples tagged with its Format and the
// media time of its first frame, so a graph can report playback position
// without counting samples itself.
//
//	buf := audio.Buffer{Position: 3 * time.Second, Samples: pcm, Format: f}
//	mono := audio.DownmixMono(buf.Samples, buf.Format.Channels)
package audio
