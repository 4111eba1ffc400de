// ABOUTME: Remote control message type definitions
// ABOUTME: JSON envelopes exchanged over the /ws endpoint
package remote

import (
	"encoding/json"
	"fmt"

	"github.com/Resonate-Protocol/trackdeck/pkg/catalog"
	"github.com/Resonate-Protocol/trackdeck/pkg/player"
)

// Message types sent by the server
const (
	TypeHello    = "server/hello"
	TypeState    = "player/state"
	TypeWaveform = "player/waveform"
	TypeTracks   = "player/tracks"
	TypeError    = "server/error"
)

// Message types sent by clients
const (
	TypeSelect = "player/select"
	TypeToggle = "player/toggle"
	TypeScrub  = "player/scrub"
)

// Message is the top-level wrapper for all messages
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// envelope is a Message whose payload is decoded on demand
type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (e envelope) decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s: missing payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%s: invalid payload: %w", e.Type, err)
	}
	return nil
}

// Hello is sent once per connection
type Hello struct {
	Product  string          `json:"product"`
	Version  string          `json:"version"`
	Tracks   []catalog.Track `json:"tracks"`
	State    player.State    `json:"state"`
	Waveform *Waveform       `json:"waveform,omitempty"`
}

// Waveform carries a precomputed profile
type Waveform struct {
	SourceURL string    `json:"source_url"`
	Bins      []float64 `json:"bins"`
	Duration  float64   `json:"duration"` // seconds
}

// Select asks the player to select a track
type Select struct {
	Index int `json:"index"`
}

// Scrub asks the player to seek to a fraction of the duration
type Scrub struct {
	Ratio float64 `json:"ratio"`
}

// ErrorPayload reports a rejected command
type ErrorPayload struct {
	Command string `json:"command"`
	Error   string `json:"error"`
}
