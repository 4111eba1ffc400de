// ABOUTME: Media phase state machine and the externally observed player state
// ABOUTME: Illegal phase transitions are rejected by the transition table
package player

import (
	"fmt"

	"github.com/Resonate-Protocol/trackdeck/pkg/catalog"
)

// Phase is the media state of the active session
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseLoading
	PhasePlaying
	PhasePaused
	PhaseEnded
	PhaseErrored
)

var phaseNames = map[Phase]string{
	PhaseIdle:    "idle",
	PhaseLoading: "loading",
	PhasePlaying: "playing",
	PhasePaused:  "paused",
	PhaseEnded:   "ended",
	PhaseErrored: "errored",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// MarshalText encodes the phase by name
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText decodes a phase name
func (p *Phase) UnmarshalText(text []byte) error {
	for phase, name := range phaseNames {
		if name == string(text) {
			*p = phase
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", text)
}

// transitions lists the phases reachable from each phase. Every phase can
// return to idle when its session is torn down.
var transitions = map[Phase][]Phase{
	PhaseIdle:    {PhaseLoading, PhaseErrored},
	PhaseLoading: {PhasePlaying, PhasePaused, PhaseEnded, PhaseErrored, PhaseIdle},
	PhasePlaying: {PhasePaused, PhaseEnded, PhaseErrored, PhaseIdle},
	PhasePaused:  {PhasePlaying, PhaseErrored, PhaseIdle},
	PhaseEnded:   {PhasePlaying, PhasePaused, PhaseErrored, PhaseIdle},
	PhaseErrored: {PhaseIdle},
}

// CanTransition reports whether to is reachable from p
func (p Phase) CanTransition(to Phase) bool {
	for _, next := range transitions[p] {
		if next == to {
			return true
		}
	}
	return false
}

// Seekable reports whether scrubbing applies in this phase
func (p Phase) Seekable() bool {
	return p != PhaseIdle && p != PhaseErrored
}

// State is a snapshot of what the UI layer observes
type State struct {
	ActiveIndex int            `json:"active_index"` // -1 when no session
	Playing     bool           `json:"playing"`
	Phase       Phase          `json:"phase"`
	CurrentTime float64        `json:"current_time"` // seconds
	Duration    float64        `json:"duration"`     // seconds, 0 until known
	Quality     string         `json:"quality"`
	SessionID   string         `json:"session_id,omitempty"`
	Error       string         `json:"error,omitempty"`
	CoverArt    string         `json:"cover_art,omitempty"`
	Track       *catalog.Track `json:"track,omitempty"`
}
