// ABOUTME: Source resolution from a track descriptor to one playable URL
// ABOUTME: Prefers the adaptive manifest, then a quality map entry, then the file URL
package source

import (
	"fmt"
	"sort"

	"github.com/Resonate-Protocol/trackdeck/pkg/catalog"
)

// Quality labels assigned by the resolver
const (
	QualityAuto     = "auto"
	QualityOriginal = "original"
)

// DefaultQualityOrder is the preference used when none is configured
var DefaultQualityOrder = []string{"medium", "high", "low"}

// Resolved is the outcome of resolving a track. It is recomputed on every
// selection and never cached.
type Resolved struct {
	URL      string
	Adaptive bool
	Quality  string
}

func (r Resolved) String() string {
	if r.Adaptive {
		return fmt.Sprintf("%s (adaptive)", r.URL)
	}
	return fmt.Sprintf("%s (%s)", r.URL, r.Quality)
}

// Resolver picks the source for a track
type Resolver struct {
	order []string
}

// NewResolver creates a resolver with the given quality preference. An empty
// order uses DefaultQualityOrder.
func NewResolver(order []string) *Resolver {
	if len(order) == 0 {
		order = DefaultQualityOrder
	}
	o := make([]string, len(order))
	copy(o, order)
	return &Resolver{order: o}
}

// Resolve returns the source for a track. The result has a non-empty URL and
// label for every descriptor that passes catalog validation.
func (r *Resolver) Resolve(t catalog.Track) (Resolved, error) {
	if t.HLSURL != "" {
		return Resolved{URL: t.HLSURL, Adaptive: true, Quality: QualityAuto}, nil
	}

	for _, q := range r.order {
		if u := t.Formats[q]; u != "" {
			return Resolved{URL: u, Quality: q}, nil
		}
	}

	if len(t.Formats) > 0 {
		keys := make([]string, 0, len(t.Formats))
		for k, u := range t.Formats {
			if u != "" && k != "" {
				keys = append(keys, k)
			}
		}
		if len(keys) > 0 {
			sort.Strings(keys)
			return Resolved{URL: t.Formats[keys[0]], Quality: keys[0]}, nil
		}
	}

	if t.FileURL != "" {
		return Resolved{URL: t.FileURL, Quality: QualityOriginal}, nil
	}

	return Resolved{}, fmt.Errorf("resolve track %q: %w", t.ID, catalog.ErrInvalidTrack)
}

// WaveformURL returns the URL the waveform is computed from: the track file
// URL, else the resolved URL when it is not adaptive. Manifest-only tracks
// have none.
func WaveformURL(t catalog.Track, r Resolved) string {
	if t.FileURL != "" {
		return t.FileURL
	}
	if !r.Adaptive {
		return r.URL
	}
	return ""
}
