// Package tui is the live watch view used by the tui sink. It shows the
// composed status line as it is published, together with per-slot producer
// statistics.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"gitlab.com/tinyland/lab/pulsebar/internal/format"
	"gitlab.com/tinyland/lab/pulsebar/status"
)

// lineMsg carries one published line into the program.
type lineMsg struct {
	line  string
	at    time.Time
	slots []status.SlotStats
}

// Model is the Bubbletea model for the watch view.
type Model struct {
	line        string
	slots       []status.SlotStats
	updates     uint64
	lastUpdated time.Time
	width       int
	height      int
	showSlots   bool
	ready       bool
	help        help.Model
}

// NewModel returns an empty Model with the slot table hidden.
func NewModel() Model {
	return Model{help: help.New()}
}

// Init implements tea.Model. No initial commands are needed.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, keys.Slots):
			m.showSlots = !m.showSlots
		case key.Matches(msg, keys.Help):
			m.help.ShowAll = !m.help.ShowAll
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.ready = true

	case lineMsg:
		m.line = msg.line
		m.lastUpdated = msg.at
		if msg.slots != nil {
			m.slots = msg.slots
		}
		m.updates++
	}

	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	if !m.ready {
		return "Initializing..."
	}

	parts := []string{m.renderHeader(), m.renderLine()}
	if m.showSlots {
		parts = append(parts, m.renderSlots())
	}
	parts = append(parts, m.renderFooter())
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m Model) renderHeader() string {
	title := styleTitle.Render("pulsebar")
	count := styleMuted.Render(fmt.Sprintf("  %d updates", m.updates))
	return styleHeader.Width(m.width).Render(title + count)
}

func (m Model) renderLine() string {
	if m.updates == 0 {
		return styleMuted.Render("waiting for first update")
	}
	// Two columns of padding on the line style.
	return styleLine.Render(format.TruncateWithEllipsis(m.line, m.width-2))
}

func (m Model) renderSlots() string {
	if len(m.slots) == 0 {
		return styleMuted.Render("no slot statistics")
	}

	nameWidth := 4
	for _, s := range m.slots {
		nameWidth = max(nameWidth, len(s.Name))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%-*s %6s %6s %10s %-16s  %s\n", nameWidth, "slot", "runs", "fails", "last", "circuit", "error")
	for _, s := range m.slots {
		row := fmt.Sprintf("%-*s %6d %6d %10s %-16s", nameWidth, s.Name, s.Runs, s.Failures,
			s.LastDuration.Round(time.Microsecond), circuitLabel(s.Circuit))
		if s.LastError == "" {
			b.WriteString(styleOK.Render(row))
		} else {
			b.WriteString(row)
			b.WriteString("  ")
			b.WriteString(styleFailed.Render(format.TruncateWithEllipsis(s.LastError, m.width-len(row)-2)))
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

// circuitLabel is "-" for unguarded slots and the breaker state otherwise,
// with the retry timeout while the circuit is not closed.
func circuitLabel(c *status.Circuit) string {
	switch {
	case c == nil:
		return "-"
	case c.State == "closed":
		return c.State
	default:
		return c.State + " " + format.Duration(c.Timeout)
	}
}

func (m Model) renderFooter() string {
	footer := m.help.View(keys)
	if !m.lastUpdated.IsZero() {
		footer += fmt.Sprintf("  Updated: %s (%s)",
			m.lastUpdated.Format("15:04:05"), format.Ago(m.lastUpdated, time.Now()))
	}
	return styleFooter.Width(m.width).Render(footer)
}
