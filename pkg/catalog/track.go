// ABOUTME: Track descriptor types supplied by the catalog backend
// ABOUTME: Defines Track, analysis metadata and the source invariant
package catalog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ErrInvalidTrack is returned when a descriptor has no playable source
var ErrInvalidTrack = errors.New("track has no playable source")

// Track describes a single catalog entry. Tracks are immutable once listed.
type Track struct {
	ID       TrackID           `json:"id" yaml:"id"`
	Title    string            `json:"title" yaml:"title"`
	Artist   string            `json:"artist" yaml:"artist"`
	FileURL  string            `json:"file_url,omitempty" yaml:"file_url,omitempty"`
	Formats  map[string]string `json:"formats,omitempty" yaml:"formats,omitempty"`
	HLSURL   string            `json:"hls_url,omitempty" yaml:"hls_url,omitempty"`
	ImageURL string            `json:"image_url,omitempty" yaml:"image_url,omitempty"`

	Analysis `yaml:",inline"`
}

// TrackID is the backend identifier. The listing API emits numeric ids, local
// catalog files usually use strings; both decode into the same value.
type TrackID string

// UnmarshalJSON accepts both JSON numbers and strings
func (id *TrackID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = TrackID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid track id %s: %w", data, err)
	}
	*id = TrackID(n.String())
	return nil
}

// Analysis holds the optional values computed by the backend at upload time.
// They are displayed only.
type Analysis struct {
	BPM          *float64 `json:"bpm,omitempty" yaml:"bpm,omitempty"`
	Key          string   `json:"key,omitempty" yaml:"key,omitempty"`
	Scale        string   `json:"scale,omitempty" yaml:"scale,omitempty"`
	Loudness     *float64 `json:"loudness,omitempty" yaml:"loudness,omitempty"`
	Danceability *float64 `json:"danceability,omitempty" yaml:"danceability,omitempty"`
	DurationSec  *float64 `json:"duration_sec,omitempty" yaml:"duration_sec,omitempty"`
}

// Validate checks that at least one of file URL, manifest or a labeled
// quality URL is present
func (t Track) Validate() error {
	if t.FileURL != "" || t.HLSURL != "" {
		return nil
	}
	for label, u := range t.Formats {
		if label != "" && u != "" {
			return nil
		}
	}
	return fmt.Errorf("track %q (%s): %w", t.ID, t.Title, ErrInvalidTrack)
}

// Qualities returns the labels of the non-empty quality URLs, sorted
func (t Track) Qualities() []string {
	labels := make([]string, 0, len(t.Formats))
	for label, u := range t.Formats {
		if label != "" && u != "" {
			labels = append(labels, label)
		}
	}
	sort.Strings(labels)
	return labels
}

// KnownDuration returns the catalog duration in seconds, or 0 when unknown
func (t Track) KnownDuration() float64 {
	if t.DurationSec == nil || *t.DurationSec <= 0 {
		return 0
	}
	return *t.DurationSec
}

// DisplayName returns "Artist - Title", falling back to whichever is set
func (t Track) DisplayName() string {
	switch {
	case t.Artist != "" && t.Title != "":
		return t.Artist + " - " + t.Title
	case t.Title != "":
		return t.Title
	case t.Artist != "":
		return t.Artist
	default:
		return string(t.ID)
	}
}
