package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/Diegomcha/netquery/internal/artifact"
	"github.com/Diegomcha/netquery/internal/domain"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	failureStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	dimmedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("255")).
			Padding(0, 1)

	cellStyle = lipgloss.NewStyle().Padding(0, 1)
)

// View renders the progress bar, counters and key hints
func (m Model) View() string {
	var b strings.Builder

	title := m.title
	if title == "" {
		title = "Querying devices"
	}
	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n\n")

	b.WriteString(strings.Repeat(" ", progressPadding))
	b.WriteString(m.progress.View())
	b.WriteString("\n\n")

	counts := fmt.Sprintf("%d/%d devices", m.completed, m.total)
	if m.failed > 0 {
		counts += "  " + failureStyle.Render(fmt.Sprintf("%d failed", m.failed))
	}
	counts += "  " + dimmedStyle.Render(formatElapsed(m.elapsed))
	b.WriteString(strings.Repeat(" ", progressPadding))
	b.WriteString(counts)
	b.WriteString("\n\n")

	switch {
	case m.done:
	case m.cancelRequested:
		b.WriteString(warningStyle.Render("Stopping: waiting for devices in flight (q again to leave)"))
		b.WriteString("\n")
	default:
		b.WriteString(dimmedStyle.Render("q: stop dispatching"))
		b.WriteString("\n")
	}
	return b.String()
}

// formatRecordLine is the one-line summary printed above the bar per device
func formatRecordLine(rec domain.Record) string {
	mark := successStyle.Render("✔")
	if rec.Failed() {
		mark = failureStyle.Render("✘")
	}
	return fmt.Sprintf("%s %s  %s", mark, rec.Device(), truncate(flatten(rec.Result), 60))
}

// RenderTable renders records as a bordered table of the on-screen columns,
// sorted for display. Failed rows are highlighted.
func RenderTable(records []domain.Record) string {
	if len(records) == 0 {
		return dimmedStyle.Render("No results")
	}
	cols := artifact.DisplayColumns(records)
	sorted := artifact.SortForDisplay(records)

	rows := make([][]string, len(sorted))
	for i, rec := range sorted {
		row := make([]string, len(cols))
		for j, col := range cols {
			row[j] = flatten(artifact.Value(rec, col))
		}
		rows[i] = row
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimmedStyle).
		Headers(cols...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if row >= 0 && row < len(sorted) && sorted[row].Failed() {
				return cellStyle.Foreground(lipgloss.Color("196"))
			}
			return cellStyle
		})
	return t.Render()
}

// flatten keeps multi-line results on one table row
func flatten(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}

func formatElapsed(d time.Duration) string {
	return d.Truncate(time.Second).String()
}
