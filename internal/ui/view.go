// ABOUTME: Rendering for the player TUI
// ABOUTME: Draws the track list, waveform progress bar and spectrum with lipgloss
package ui

import (
	"fmt"
	"math"
	"strings"

	"github.com/Resonate-Protocol/trackdeck/pkg/catalog"
	"github.com/charmbracelet/lipgloss"
)

const (
	defaultWidth   = 72
	spectrumHeight = 6
	listHeight     = 10
)

var levels = []rune(" ▁▂▃▄▅▆▇█")

var (
	accent = lipgloss.AdaptiveColor{Light: "#5A56E0", Dark: "#7D79F6"}
	subtle = lipgloss.AdaptiveColor{Light: "#A49FA5", Dark: "#777777"}
	danger = lipgloss.AdaptiveColor{Light: "#D93F3F", Dark: "#FF6B6B"}

	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(accent)
	boxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(subtle).Padding(0, 1)
	dimStyle    = lipgloss.NewStyle().Foreground(subtle)
	activeStyle = lipgloss.NewStyle().Foreground(accent).Bold(true)
	cursorStyle = lipgloss.NewStyle().Reverse(true)
	playedStyle = lipgloss.NewStyle().Foreground(accent)
	errorStyle  = lipgloss.NewStyle().Foreground(danger)
)

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	inner := m.innerWidth()
	sections := []string{
		m.renderHeader(inner),
		m.renderTracks(inner),
		m.renderNowPlaying(inner),
		m.renderWaveform(inner),
	}
	if m.showSpectrum {
		sections = append(sections, m.renderSpectrum(inner))
	}
	if m.lastErr != "" {
		sections = append(sections, errorStyle.Render(truncate(m.lastErr, inner)))
	}

	body := boxStyle.Width(inner + 2).Render(lipgloss.JoinVertical(lipgloss.Left, sections...))
	return body + "\n" + m.renderHelp()
}

func (m Model) innerWidth() int {
	w := m.width - 4
	if w <= 0 {
		w = defaultWidth
	}
	return w
}

// renderHeader renders the title and output status
func (m Model) renderHeader(width int) string {
	title := titleStyle.Render("trackdeck")
	vol := fmt.Sprintf("vol %3d%%", m.volume)
	if m.muted {
		vol = "muted"
	}
	status := dimStyle.Render(fmt.Sprintf("%s  %s", m.state.Phase, vol))
	gap := width - lipgloss.Width(title) - lipgloss.Width(status)
	if gap < 1 {
		gap = 1
	}
	return title + strings.Repeat(" ", gap) + status
}

// renderTracks renders a window of the track list around the cursor
func (m Model) renderTracks(width int) string {
	if len(m.tracks) == 0 {
		return dimStyle.Render("No tracks")
	}

	start := 0
	if m.cursor >= listHeight {
		start = m.cursor - listHeight + 1
	}
	end := min(start+listHeight, len(m.tracks))

	lines := make([]string, 0, end-start)
	for i := start; i < end; i++ {
		marker := "  "
		if i == m.state.ActiveIndex {
			marker = "▶ "
			if !m.state.Playing {
				marker = "‖ "
			}
		}
		line := marker + truncate(trackLine(m.tracks[i]), width-2)
		switch {
		case i == m.cursor:
			line = cursorStyle.Render(line)
		case i == m.state.ActiveIndex:
			line = activeStyle.Render(line)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func trackLine(t catalog.Track) string {
	s := t.DisplayName()
	var tags []string
	if t.BPM != nil {
		tags = append(tags, fmt.Sprintf("%.0f bpm", *t.BPM))
	}
	if t.Key != "" {
		tags = append(tags, strings.TrimSpace(t.Key+" "+t.Scale))
	}
	if d := t.KnownDuration(); d > 0 {
		tags = append(tags, formatTime(d))
	}
	if len(tags) > 0 {
		s += "  (" + strings.Join(tags, ", ") + ")"
	}
	return s
}

// renderNowPlaying renders the active track, position and quality
func (m Model) renderNowPlaying(width int) string {
	if m.state.Track == nil {
		return dimStyle.Render("Nothing playing")
	}
	name := truncate(m.state.Track.DisplayName(), width)
	pos := fmt.Sprintf("%s / %s", formatTime(m.state.CurrentTime), formatTime(m.state.Duration))
	if m.state.Quality != "" {
		pos += "  " + m.state.Quality
	}
	return activeStyle.Render(name) + "\n" + dimStyle.Render(pos)
}

// renderWaveform renders the precomputed peaks as a progress bar. Without a
// profile a plain bar is drawn.
func (m Model) renderWaveform(width int) string {
	progress := 0.0
	if m.state.Duration > 0 {
		progress = math.Min(m.state.CurrentTime/m.state.Duration, 1)
	}
	played := int(progress * float64(width))

	cells := make([]rune, width)
	if len(m.bins) == 0 {
		for i := range cells {
			cells[i] = '─'
		}
	} else {
		for i, v := range resample(m.bins, width) {
			cells[i] = levels[1+int(v*float64(len(levels)-2))]
		}
	}
	return playedStyle.Render(string(cells[:played])) + dimStyle.Render(string(cells[played:]))
}

// renderSpectrum renders frequency data as vertical bars
func (m Model) renderSpectrum(width int) string {
	if len(m.frame.Frequency) == 0 {
		return dimStyle.Render(strings.Repeat("\n", spectrumHeight-1))
	}

	values := make([]float64, len(m.frame.Frequency))
	for i, b := range m.frame.Frequency {
		values[i] = float64(b) / 255
	}
	cols := resample(values, width)

	steps := len(levels) - 1
	rows := make([]string, spectrumHeight)
	for r := 0; r < spectrumHeight; r++ {
		// rows are drawn top down; each holds steps levels
		base := float64(spectrumHeight-1-r) * float64(steps)
		line := make([]rune, width)
		for c, v := range cols {
			fill := int(v*float64(spectrumHeight*steps)) - int(base)
			switch {
			case fill <= 0:
				line[c] = ' '
			case fill >= steps:
				line[c] = levels[steps]
			default:
				line[c] = levels[fill]
			}
		}
		rows[r] = playedStyle.Render(string(line))
	}
	return strings.Join(rows, "\n")
}

// renderHelp renders keyboard shortcuts
func (m Model) renderHelp() string {
	parts := make([]string, 0, len(m.keys.help()))
	for _, b := range m.keys.help() {
		h := b.Help()
		parts = append(parts, h.Key+":"+h.Desc)
	}
	return dimStyle.Render(strings.Join(parts, "  "))
}

// resample maps values onto n columns taking the peak of each span
func resample(values []float64, n int) []float64 {
	out := make([]float64, n)
	if len(values) == 0 || n <= 0 {
		return out
	}
	for i := range out {
		lo := i * len(values) / n
		hi := (i + 1) * len(values) / n
		if hi <= lo {
			hi = lo + 1
		}
		peak := 0.0
		for _, v := range values[lo:min(hi, len(values))] {
			peak = math.Max(peak, v)
		}
		out[i] = math.Min(math.Max(peak, 0), 1)
	}
	return out
}

func formatTime(sec float64) string {
	if sec <= 0 || math.IsNaN(sec) {
		return "0:00"
	}
	s := int(sec)
	return fmt.Sprintf("%d:%02d", s/60, s%60)
}

func truncate(s string, length int) string {
	r := []rune(s)
	if length <= 3 || len(r) <= length {
		return s
	}
	return string(r[:length-3]) + "..."
}
