// Package monitor renders received channel frames as a live terminal view.
package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"rasprc/protocol"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("57")).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Width(6)

	barStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	emptyBarStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("238"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Italic(true)

	staleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("1")).
			Bold(true)
)

const (
	refreshInterval = 250 * time.Millisecond
	staleAfter      = time.Second
	defaultBarWidth = 40
)

// FrameMsg carries one received frame into the model.
type FrameMsg struct {
	Frame protocol.ChannelFrame
	At    time.Time
}

type tickMsg time.Time

// Model is the bubbletea model for the channel monitor.
type Model struct {
	port     string
	frame    protocol.ChannelFrame
	hasFrame bool
	received uint64
	lastAt   time.Time
	now      time.Time
	width    int
}

// New returns a Model titled with the port being monitored.
func New(port string) Model {
	return Model{port: port, now: time.Now()}
}

func (m Model) Init() tea.Cmd {
	return tick()
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
		return m, nil

	case tickMsg:
		m.now = time.Time(msg)
		return m, tick()

	case FrameMsg:
		m.frame = msg.Frame
		m.hasFrame = true
		m.received++
		m.lastAt = msg.At
		if msg.At.After(m.now) {
			m.now = msg.At
		}
		return m, nil
	}
	return m, nil
}

func (m Model) barWidth() int {
	// label, value and margins take about 16 columns
	if m.width > 16+10 {
		return m.width - 16
	}
	return defaultBarWidth
}

func (m Model) View() string {
	var sb strings.Builder

	sb.WriteString(titleStyle.Render(fmt.Sprintf(" rasprc monitor  %s ", m.port)))
	sb.WriteString("\n\n")

	if !m.hasFrame {
		sb.WriteString(dimStyle.Render("waiting for frames..."))
		sb.WriteString("\n")
		return sb.String()
	}

	width := m.barWidth()
	for i, v := range m.frame {
		filled := protocol.MapRange(v, protocol.ChannelMin, protocol.ChannelMax, 0, width)
		filled = max(0, min(width, filled))
		sb.WriteString(labelStyle.Render(fmt.Sprintf("CH%d", i+1)))
		sb.WriteString(barStyle.Render(strings.Repeat("█", filled)))
		sb.WriteString(emptyBarStyle.Render(strings.Repeat("░", width-filled)))
		sb.WriteString(fmt.Sprintf(" %4d\n", v))
	}

	sb.WriteString("\n")
	status := fmt.Sprintf("%d frames", m.received)
	if hex, err := m.frame.Encode(); err == nil {
		if groups, err := protocol.FormatFrameGroups(hex); err == nil {
			status += "  " + groups
		}
	}
	sb.WriteString(dimStyle.Render(status))
	if m.now.Sub(m.lastAt) > staleAfter {
		sb.WriteString("  ")
		sb.WriteString(staleStyle.Render("STALE"))
	}
	sb.WriteString("\n")
	sb.WriteString(dimStyle.Render("q to quit"))
	sb.WriteString("\n")
	return sb.String()
}

// Sink forwards received frames to a running program. Use it as the
// receiver worker's FrameSink with tea.Program.Send.
type Sink struct {
	send func(tea.Msg)
}

func NewSink(send func(tea.Msg)) *Sink {
	return &Sink{send: send}
}

func (s *Sink) Apply(_ context.Context, frame protocol.ChannelFrame) error {
	s.send(FrameMsg{Frame: frame, At: time.Now()})
	return nil
}
