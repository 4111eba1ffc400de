// ABOUTME: Bubbletea model for the player TUI
// ABOUTME: Mirrors player state and turns key presses into player commands
package ui

import (
	"context"
	"errors"
	"time"

	"github.com/Resonate-Protocol/trackdeck/pkg/catalog"
	"github.com/Resonate-Protocol/trackdeck/pkg/player"
	"github.com/Resonate-Protocol/trackdeck/pkg/waveform"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
)

// seekStep is the arrow key scrub distance
const seekStep = 5 * time.Second

// Controller is the subset of the player the TUI drives
type Controller interface {
	SelectTrack(ctx context.Context, index int) error
	TogglePlayPause(ctx context.Context) error
	Scrub(ctx context.Context, ratio float64) error
}

// VolumeControl adjusts the output device. It is optional.
type VolumeControl interface {
	SetVolume(volume int)
	SetMuted(muted bool)
}

// StateMsg carries a player state snapshot
type StateMsg player.State

// WaveformMsg carries the profile of the active track
type WaveformMsg struct {
	Profile *waveform.Profile
}

// FrameMsg carries one visualization frame
type FrameMsg player.Frame

// TracksMsg replaces the track listing
type TracksMsg []catalog.Track

// ErrMsg reports a failed command
type ErrMsg struct {
	Err error
}

// Model represents the TUI state
type Model struct {
	ctx    context.Context
	ctrl   Controller
	volCtl VolumeControl
	keys   keyMap

	// Catalog
	tracks []catalog.Track
	cursor int

	// Playback
	state   player.State
	bins    []float64
	frame   player.Frame
	lastErr string

	// Output
	volume int
	muted  bool

	showSpectrum bool

	// Dimensions
	width  int
	height int
}

// NewModel creates a model. ctrl may be nil in tests.
func NewModel(ctx context.Context, ctrl Controller, volCtl VolumeControl, tracks []catalog.Track) Model {
	if ctx == nil {
		ctx = context.Background()
	}
	return Model{
		ctx:          ctx,
		ctrl:         ctrl,
		volCtl:       volCtl,
		keys:         defaultKeys(),
		tracks:       tracks,
		state:        player.State{ActiveIndex: -1, Phase: player.PhaseIdle},
		volume:       100,
		showSpectrum: true,
	}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case StateMsg:
		m.applyState(player.State(msg))
	case WaveformMsg:
		if msg.Profile != nil {
			m.bins = msg.Profile.Bins
		}
	case FrameMsg:
		m.frame = player.Frame(msg)
	case TracksMsg:
		m.tracks = msg
		if m.cursor >= len(m.tracks) {
			m.cursor = max(len(m.tracks)-1, 0)
		}
	case ErrMsg:
		if msg.Err != nil {
			m.lastErr = msg.Err.Error()
		}
	}
	return m, nil
}

// applyState updates the model from a player snapshot. A new session drops
// the previous waveform and frame.
func (m *Model) applyState(s player.State) {
	if s.SessionID != m.state.SessionID {
		m.bins = nil
		m.frame = player.Frame{}
	}
	m.state = s
	m.lastErr = s.Error
}

// handleKey handles keyboard input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(msg, m.keys.Down):
		if m.cursor < len(m.tracks)-1 {
			m.cursor++
		}
	case key.Matches(msg, m.keys.Select):
		if len(m.tracks) == 0 {
			return m, nil
		}
		index := m.cursor
		return m, m.command(func(ctx context.Context, c Controller) error {
			return c.SelectTrack(ctx, index)
		})
	case key.Matches(msg, m.keys.Toggle):
		return m, m.command(func(ctx context.Context, c Controller) error {
			return c.TogglePlayPause(ctx)
		})
	case key.Matches(msg, m.keys.Back):
		return m, m.seekBy(-seekStep)
	case key.Matches(msg, m.keys.Forward):
		return m, m.seekBy(seekStep)
	case key.Matches(msg, m.keys.Jump):
		ratio := float64(msg.String()[0]-'0') / 10
		return m, m.scrub(ratio)
	case key.Matches(msg, m.keys.VolUp):
		m.volume = min(m.volume+5, 100)
		m.applyVolume()
	case key.Matches(msg, m.keys.VolDown):
		m.volume = max(m.volume-5, 0)
		m.applyVolume()
	case key.Matches(msg, m.keys.Mute):
		m.muted = !m.muted
		if m.volCtl != nil {
			m.volCtl.SetMuted(m.muted)
		}
	case key.Matches(msg, m.keys.Spectrum):
		m.showSpectrum = !m.showSpectrum
	}
	return m, nil
}

func (m Model) applyVolume() {
	if m.volCtl != nil {
		m.volCtl.SetVolume(m.volume)
	}
}

// seekBy scrubs relative to the current position once the duration is known
func (m Model) seekBy(d time.Duration) tea.Cmd {
	if m.state.Duration <= 0 {
		return nil
	}
	return m.scrub((m.state.CurrentTime + d.Seconds()) / m.state.Duration)
}

func (m Model) scrub(ratio float64) tea.Cmd {
	if m.state.ActiveIndex < 0 {
		return nil
	}
	return m.command(func(ctx context.Context, c Controller) error {
		return c.Scrub(ctx, ratio)
	})
}

// command runs a player operation off the update loop
func (m Model) command(fn func(context.Context, Controller) error) tea.Cmd {
	if m.ctrl == nil {
		return nil
	}
	ctx, ctrl := m.ctx, m.ctrl
	return func() tea.Msg {
		// a start canceled by a later key press is not a failure
		if err := fn(ctx, ctrl); err != nil && !errors.Is(err, player.ErrStartInterrupted) {
			return ErrMsg{Err: err}
		}
		return nil
	}
}
