package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#626262")).Render

// ProgressMsg updates the bar. Percent is in [0, 1].
type ProgressMsg struct {
	Percent float64
	Message string
}

// ProgressDoneMsg stops the bar.
type ProgressDoneMsg struct{}

// ProgressModel renders a live progress bar for a long-running operation.
type ProgressModel struct {
	progress progress.Model
	percent  float64
	message  string
}

// NewProgressModel creates a progress bar model
func NewProgressModel() ProgressModel {
	return ProgressModel{
		progress: progress.New(progress.WithDefaultGradient()),
	}
}

// Init initializes the progress model
func (m ProgressModel) Init() tea.Cmd {
	return nil
}

// Update handles messages and updates the progress model
func (m ProgressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m, tea.Quit
	case tea.WindowSizeMsg:
		m.progress.Width = msg.Width - 4
		if m.progress.Width > 80 {
			m.progress.Width = 80
		}
		return m, nil
	case ProgressMsg:
		m.percent = msg.Percent
		m.message = msg.Message
		return m, nil
	case ProgressDoneMsg:
		return m, tea.Quit
	default:
		return m, nil
	}
}

// View renders the progress bar
func (m ProgressModel) View() string {
	pad := strings.Repeat(" ", 2)
	return "\n" +
		pad + m.progress.ViewAs(m.percent) + "\n" +
		pad + helpStyle(m.message) + "\n"
}

// StartProgress starts a progress bar program. The caller sends ProgressMsg
// updates and a final ProgressDoneMsg, then waits on the returned program.
func StartProgress() *tea.Program {
	return tea.NewProgram(NewProgressModel())
}

// SimpleProgress formats a text-based progress line for quiet terminals
func SimpleProgress(current, total int64, message string) string {
	if total <= 0 {
		return fmt.Sprintf("%s (%d)", message, current)
	}
	percent := float64(current) / float64(total) * 100
	bar := "["
	filled := int(percent / 5)
	for i := 0; i < 20; i++ {
		if i < filled {
			bar += "="
		} else {
			bar += " "
		}
	}
	bar += "]"
	return fmt.Sprintf("%s %s %.0f%% (%d/%d)", message, bar, percent, current, total)
}
