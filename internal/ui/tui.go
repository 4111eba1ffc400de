// ABOUTME: TUI initialization and control
// ABOUTME: Wraps the bubbletea program and forwards player events to it
package ui

import (
	"context"
	"errors"

	"github.com/Resonate-Protocol/trackdeck/pkg/catalog"
	"github.com/Resonate-Protocol/trackdeck/pkg/player"
	"github.com/Resonate-Protocol/trackdeck/pkg/waveform"
	tea "github.com/charmbracelet/bubbletea"
)

// Options configures the TUI
type Options struct {
	Tracks []catalog.Track
	Volume VolumeControl

	// ProgramOptions default to the alternate screen
	ProgramOptions []tea.ProgramOption
}

// Program is a running TUI. Its methods are safe to call from any goroutine.
type Program struct {
	prog *tea.Program
}

// New creates the TUI program
func New(ctx context.Context, ctrl Controller, opts Options) *Program {
	popts := opts.ProgramOptions
	if popts == nil {
		popts = []tea.ProgramOption{tea.WithAltScreen()}
	}
	popts = append(popts, tea.WithContext(ctx))
	model := NewModel(ctx, ctrl, opts.Volume, opts.Tracks)
	return &Program{prog: tea.NewProgram(model, popts...)}
}

// Run blocks until the user quits or the context ends
func (p *Program) Run() error {
	_, err := p.prog.Run()
	if errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}

// State forwards a player state snapshot
func (p *Program) State(s player.State) { p.prog.Send(StateMsg(s)) }

// Waveform forwards the active track profile
func (p *Program) Waveform(prof *waveform.Profile) { p.prog.Send(WaveformMsg{Profile: prof}) }

// Frame forwards a visualization frame
func (p *Program) Frame(f player.Frame) { p.prog.Send(FrameMsg(f)) }

// Tracks replaces the track list
func (p *Program) Tracks(tracks []catalog.Track) { p.prog.Send(TracksMsg(tracks)) }

// Quit stops the program
func (p *Program) Quit() { p.prog.Quit() }
