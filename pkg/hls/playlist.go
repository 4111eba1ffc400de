// ABOUTME: Manifest fetching and parsing with grafov/m3u8
// ABOUTME: Turns master and media playlists into levels with segment lists
package hls

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/grafov/m3u8"
)

// segment is one media segment of a level
type segment struct {
	URL      string
	Start    time.Duration
	Duration time.Duration
}

// rendition is a level with its loaded segment list
type rendition struct {
	Level
	segments []segment
}

func (r rendition) duration() time.Duration {
	if len(r.segments) == 0 {
		return 0
	}
	last := r.segments[len(r.segments)-1]
	return last.Start + last.Duration
}

// segmentAt returns the index of the segment containing offset
func (r rendition) segmentAt(offset time.Duration) int {
	for i, s := range r.segments {
		if offset < s.Start+s.Duration {
			return i
		}
	}
	return len(r.segments)
}

// segmentFrom returns the index of the segment to continue with after
// position. A segment that starts slightly before position (misaligned level
// boundaries) is taken only when less than half of it was already played.
func (r rendition) segmentFrom(position time.Duration) int {
	i := r.segmentAt(position)
	if i < len(r.segments) {
		s := r.segments[i]
		if position-s.Start > s.Duration/2 {
			i++
		}
	}
	return i
}

// parseError marks manifests that were fetched but could not be parsed
type parseError struct{ err error }

func (p parseError) Error() string { return p.err.Error() }
func (p parseError) Unwrap() error { return p.err }

func fetch(ctx context.Context, client *http.Client, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: HTTP %d", target, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func resolveURL(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return b.ResolveReference(r).String(), nil
}

// loadManifest fetches the manifest and every media playlist it references
func loadManifest(ctx context.Context, client *http.Client, manifestURL string) ([]rendition, error) {
	data, err := fetch(ctx, client, manifestURL)
	if err != nil {
		return nil, err
	}

	playlist, listType, err := m3u8.DecodeFrom(bytes.NewReader(data), false)
	if err != nil {
		return nil, parseError{fmt.Errorf("failed to parse manifest: %w", err)}
	}

	switch listType {
	case m3u8.MEDIA:
		media := playlist.(*m3u8.MediaPlaylist)
		segments, err := mediaSegments(manifestURL, media)
		if err != nil {
			return nil, err
		}
		return []rendition{{Level: Level{URL: manifestURL}, segments: segments}}, nil

	case m3u8.MASTER:
		master := playlist.(*m3u8.MasterPlaylist)
		var renditions []rendition
		for _, v := range master.Variants {
			if v == nil || v.Iframe {
				continue
			}
			levelURL, err := resolveURL(manifestURL, v.URI)
			if err != nil {
				return nil, parseError{fmt.Errorf("invalid variant uri %q: %w", v.URI, err)}
			}
			segments, err := loadMediaPlaylist(ctx, client, levelURL)
			if err != nil {
				return nil, err
			}
			renditions = append(renditions, rendition{
				Level: Level{
					Bandwidth: int(v.Bandwidth),
					Name:      v.Name,
					Codecs:    v.Codecs,
					URL:       levelURL,
				},
				segments: segments,
			})
		}
		if len(renditions) == 0 {
			return nil, parseError{fmt.Errorf("manifest has no variants")}
		}
		sort.SliceStable(renditions, func(i, j int) bool {
			return renditions[i].Bandwidth < renditions[j].Bandwidth
		})
		for i := range renditions {
			renditions[i].Index = i
		}
		return renditions, nil
	}

	return nil, parseError{fmt.Errorf("unknown playlist type")}
}

func loadMediaPlaylist(ctx context.Context, client *http.Client, levelURL string) ([]segment, error) {
	data, err := fetch(ctx, client, levelURL)
	if err != nil {
		return nil, err
	}
	playlist, listType, err := m3u8.DecodeFrom(bytes.NewReader(data), false)
	if err != nil {
		return nil, parseError{fmt.Errorf("failed to parse level playlist: %w", err)}
	}
	if listType != m3u8.MEDIA {
		return nil, parseError{fmt.Errorf("level playlist %s is not a media playlist", levelURL)}
	}
	return mediaSegments(levelURL, playlist.(*m3u8.MediaPlaylist))
}

func mediaSegments(base string, media *m3u8.MediaPlaylist) ([]segment, error) {
	var segments []segment
	var start time.Duration
	for _, s := range media.Segments {
		if s == nil {
			continue
		}
		segURL, err := resolveURL(base, s.URI)
		if err != nil {
			return nil, parseError{fmt.Errorf("invalid segment uri %q: %w", s.URI, err)}
		}
		d := time.Duration(s.Duration * float64(time.Second))
		segments = append(segments, segment{URL: segURL, Start: start, Duration: d})
		start += d
	}
	if len(segments) == 0 {
		return nil, parseError{fmt.Errorf("media playlist %s has no segments", base)}
	}
	return segments, nil
}
