package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/Diegomcha/netquery/internal/domain"
)

const progressPadding = 4

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if m.cancelRequested {
				// Second request: stop waiting for in-flight devices.
				m.interrupted = true
				return m, tea.Quit
			}
			m.cancelRequested = true
			m.cancel()
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.progress.Width = max(10, min(msg.Width-progressPadding*2-20, 80))

	case TickMsg:
		if m.done {
			return m, nil
		}
		m.elapsed = time.Time(msg).Sub(m.started)
		return m, tickCmd()

	case NotificationMsg:
		n := domain.Notification(msg)
		if n.Final {
			m.done = true
			m.final = n
			m.completed = n.Completed
			m.elapsed = time.Since(m.started)
			return m, tea.Quit
		}
		m.completed = n.Completed
		if n.Total > 0 {
			m.total = n.Total
		}
		m.percent = n.Progress
		var cmds []tea.Cmd
		if n.Record != nil {
			if n.Record.Failed() {
				m.failed++
			}
			cmds = append(cmds, tea.Println(formatRecordLine(*n.Record)))
		}
		cmds = append(cmds, m.progress.SetPercent(n.Progress), waitForNotification(m.notifications))
		return m, tea.Batch(cmds...)

	case closedMsg:
		m.done = true
		m.elapsed = time.Since(m.started)
		return m, tea.Quit

	case progress.FrameMsg:
		updated, cmd := m.progress.Update(msg)
		m.progress = updated.(progress.Model)
		return m, cmd
	}

	return m, nil
}
