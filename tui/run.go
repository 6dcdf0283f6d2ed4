package tui

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"

	"github.com/Diegomcha/netquery/internal/domain"
)

// Outcome is what a progress run observed
type Outcome struct {
	Final           domain.Notification
	Completed       int
	CancelRequested bool
	// Interrupted is set when the view was left before the final notification.
	Interrupted bool
	Elapsed     time.Duration
}

// Run shows the interactive progress view until src delivers its final
// notification or the user leaves. Cancelling ctx, as a signal does, requests
// the job stop and reports the run as interrupted.
func Run(ctx context.Context, src Source, title string, total int, opts ...tea.ProgramOption) (Outcome, error) {
	parent := ctx
	ctx, detach := context.WithCancel(ctx)
	defer detach()

	ch, err := src.Observe(ctx)
	if err != nil {
		return Outcome{}, err
	}

	model := NewModel(ModelConfig{
		Title:         title,
		Total:         total,
		Notifications: ch,
		Cancel:        src.Cancel,
	})
	p := tea.NewProgram(model, append([]tea.ProgramOption{tea.WithContext(ctx)}, opts...)...)

	finalModel, err := p.Run()
	if parent.Err() != nil {
		out := Outcome{CancelRequested: src.Cancel(), Interrupted: true}
		if m, ok := finalModel.(Model); ok {
			out.Completed = m.completed
			out.CancelRequested = out.CancelRequested || m.cancelRequested
			out.Elapsed = m.elapsed
		}
		return out, nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("progress UI error: %w", err)
	}
	m, ok := finalModel.(Model)
	if !ok {
		return Outcome{}, fmt.Errorf("progress UI returned %T", finalModel)
	}
	final, done := m.Final()
	return Outcome{
		Final:           final,
		Completed:       m.completed,
		CancelRequested: m.cancelRequested,
		Interrupted:     !done,
		Elapsed:         m.elapsed,
	}, nil
}

// RunPlain is the non-interactive variant: one log line per device.
// Cancelling ctx requests the job stop and keeps draining until the end.
func RunPlain(ctx context.Context, src Source, logger *slog.Logger) (Outcome, error) {
	started := time.Now()
	ch, err := src.Observe(context.WithoutCancel(ctx))
	if err != nil {
		return Outcome{}, err
	}

	var out Outcome
	stop := ctx.Done()
	for {
		select {
		case <-stop:
			stop = nil
			out.CancelRequested = true
			src.Cancel()
			logger.Warn("Stop requested, waiting for devices in flight")
		case n, ok := <-ch:
			if !ok {
				out.Interrupted = !out.Final.Final
				out.Elapsed = time.Since(started)
				return out, nil
			}
			out.Completed = n.Completed
			if n.Final {
				out.Final = n
				continue
			}
			if n.Record == nil {
				continue
			}
			level := slog.LevelInfo
			if n.Record.Failed() {
				level = slog.LevelWarn
			}
			logger.Log(ctx, level, "Device done",
				"device", n.Record.Device().String(),
				"result", flatten(n.Record.Result),
				"progress", fmt.Sprintf("%d/%d", n.Completed, n.Total))
		}
	}
}

// WriteSummary prints the closing line of a query run
func WriteSummary(w io.Writer, out Outcome, failed int, artifactPath string, size int64) {
	state := out.Final.State
	if state == "" {
		state = domain.JobCancelled
	}
	line := fmt.Sprintf("%s: %s devices (%d failed) in %s",
		state, humanize.Comma(int64(out.Completed)), failed, formatElapsed(out.Elapsed))
	style := successStyle
	switch {
	case state != domain.JobFinished:
		style = warningStyle
	case failed > 0:
		style = failureStyle
	}
	fmt.Fprintln(w, style.Render(line))
	if artifactPath != "" {
		fmt.Fprintf(w, "Saved %s (%s)\n", artifactPath, humanize.Bytes(uint64(size)))
	}
}
