// Package tui renders job progress and result tables in the terminal.
package tui

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/Diegomcha/netquery/internal/domain"
)

// Source is the job a progress view attaches to
type Source interface {
	Observe(ctx context.Context) (<-chan domain.Notification, error)
	Cancel() bool
}

// Model is the progress view of one running job
type Model struct {
	// Data
	notifications <-chan domain.Notification
	cancel        func() bool
	title         string

	// Stats
	total     int
	completed int
	failed    int
	percent   float64
	started   time.Time
	elapsed   time.Duration

	// UI state
	progress        progress.Model
	width           int
	cancelRequested bool
	interrupted     bool
	done            bool
	final           domain.Notification
}

// ModelConfig holds initial data for the progress model
type ModelConfig struct {
	Title         string
	Total         int
	Notifications <-chan domain.Notification
	// Cancel requests the job stop dispatching. Optional.
	Cancel func() bool
	// Started defaults to now
	Started time.Time
}

// NewModel creates a new progress model
func NewModel(cfg ModelConfig) Model {
	started := cfg.Started
	if started.IsZero() {
		started = time.Now()
	}
	cancel := cfg.Cancel
	if cancel == nil {
		cancel = func() bool { return false }
	}
	return Model{
		notifications: cfg.Notifications,
		cancel:        cancel,
		title:         cfg.Title,
		total:         cfg.Total,
		started:       started,
		progress:      progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
	}
}

// Init starts waiting for the first notification
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		waitForNotification(m.notifications),
		tickCmd(),
	)
}

// NotificationMsg carries one job notification
type NotificationMsg domain.Notification

// closedMsg is sent when the notification channel closes without a final notification
type closedMsg struct{}

// TickMsg refreshes the elapsed time
type TickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func waitForNotification(ch <-chan domain.Notification) tea.Cmd {
	return func() tea.Msg {
		n, ok := <-ch
		if !ok {
			return closedMsg{}
		}
		return NotificationMsg(n)
	}
}

// Final is the terminal notification, valid once Done reports true
func (m Model) Final() (domain.Notification, bool) {
	return m.final, m.done && m.final.Final
}

// Done reports whether the job stream ended
func (m Model) Done() bool {
	return m.done
}

// CancelRequested reports whether the user asked the job to stop
func (m Model) CancelRequested() bool {
	return m.cancelRequested
}

// Interrupted reports whether the user left the view before the job ended
func (m Model) Interrupted() bool {
	return m.interrupted
}
