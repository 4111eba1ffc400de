// ABOUTME: Key bindings for the player TUI
// ABOUTME: Uses bubbles/key so help text and matching share one definition
package ui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Up       key.Binding
	Down     key.Binding
	Select   key.Binding
	Toggle   key.Binding
	Back     key.Binding
	Forward  key.Binding
	Jump     key.Binding
	VolUp    key.Binding
	VolDown  key.Binding
	Mute     key.Binding
	Spectrum key.Binding
	Quit     key.Binding
}

func defaultKeys() keyMap {
	return keyMap{
		Up:       key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
		Down:     key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
		Select:   key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "play")),
		Toggle:   key.NewBinding(key.WithKeys(" ", "p"), key.WithHelp("space", "pause")),
		Back:     key.NewBinding(key.WithKeys("left", "h"), key.WithHelp("←", "-5s")),
		Forward:  key.NewBinding(key.WithKeys("right", "l"), key.WithHelp("→", "+5s")),
		Jump:     key.NewBinding(key.WithKeys("0", "1", "2", "3", "4", "5", "6", "7", "8", "9"), key.WithHelp("0-9", "jump")),
		VolUp:    key.NewBinding(key.WithKeys("+", "="), key.WithHelp("+", "vol")),
		VolDown:  key.NewBinding(key.WithKeys("-"), key.WithHelp("-", "vol")),
		Mute:     key.NewBinding(key.WithKeys("m"), key.WithHelp("m", "mute")),
		Spectrum: key.NewBinding(key.WithKeys("v"), key.WithHelp("v", "scope")),
		Quit:     key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

func (k keyMap) help() []key.Binding {
	return []key.Binding{k.Select, k.Toggle, k.Back, k.Forward, k.Jump, k.VolDown, k.Mute, k.Spectrum, k.Quit}
}
