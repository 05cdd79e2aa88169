package tui

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"ab-av1-batch/encoder"
	"ab-av1-batch/worker"
)

// State represents the current application state
type State int

const (
	StateIdle State = iota
	StateScanning
	StateConverting
	StateDone
	StateError
)

// maxLogLines bounds the in-memory event log fed to the viewport.
const maxLogLines = 200

// maxResults bounds the per-file result list shown under the stats.
const maxResults = 100

// EventMsg wraps a worker event for the Bubble Tea loop.
type EventMsg encoder.Event

// BatchDoneMsg is sent when the worker finishes the whole batch.
type BatchDoneMsg struct {
	Summary worker.Summary
	Err     error
}

// TickMsg is sent periodically to update the UI
type TickMsg time.Time

// result is one finished file for the result list.
type result struct {
	symbol string
	text   string
}

// Model is the Bubble Tea model for the TUI
type Model struct {
	Worker *worker.Worker

	State        State
	Overall      progress.Model
	Quality      progress.Model
	Encoding     progress.Model
	LogViewport  viewport.Model
	ShowLogs     bool
	Width        int
	Height       int
	StartTime    time.Time
	ErrorMessage string

	CurrentFile     string
	CurrentSize     int64
	CurrentProgress encoder.ProgressInfo
	RetryBanner     string

	Summary worker.Summary

	converted int
	skipped   int
	notWorth  int
	failed    int

	results  []result
	logLines []string

	events chan encoder.Event
	cancel context.CancelFunc
	ctx    context.Context

	stopRequested bool
}

// NewModel creates a new TUI model wired to the worker. The worker's
// Callback is replaced: events flow through the model's channel.
func NewModel(w *worker.Worker) *Model {
	newBar := func() progress.Model {
		return progress.New(
			progress.WithGradient("#7C3AED", "#10B981"),
			progress.WithWidth(50),
			progress.WithoutPercentage(),
		)
	}

	vp := viewport.New(80, 12)
	vp.SetContent("")

	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan encoder.Event, 64)
	w.Callback = func(ev encoder.Event) { events <- ev }

	return &Model{
		Worker:      w,
		State:       StateIdle,
		Overall:     newBar(),
		Quality:     newBar(),
		Encoding:    newBar(),
		LogViewport: vp,
		events:      events,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Init initializes the Bubble Tea program
func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		tea.EnterAltScreen,
		m.startBatch(),
		m.waitForEvent(),
		tickCmd(),
	)
}

// startBatch runs the worker in its own goroutine; the Cmd blocks on it.
func (m *Model) startBatch() tea.Cmd {
	return func() tea.Msg {
		sum, err := m.Worker.Run(m.ctx)
		return BatchDoneMsg{Summary: sum, Err: err}
	}
}

// waitForEvent delivers the next worker event; it re-arms itself in Update.
func (m *Model) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		return EventMsg(<-m.events)
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(200*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// Update handles messages and updates the model
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if m.State == StateDone || m.State == StateError {
				return m, tea.Quit
			}
			if m.stopRequested {
				// Second press: kill the running ab-av1 directly.
				if pid := m.Worker.CurrentPID(); pid > 0 {
					if proc, err := os.FindProcess(pid); err == nil {
						_ = proc.Kill()
					}
				}
				return m, tea.Quit
			}
			m.stopRequested = true
			m.cancel()
			m.appendLog("Stopping after the current file (press again to kill)")
		case "l":
			m.ShowLogs = !m.ShowLogs
		}

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		barWidth := msg.Width - 24
		if barWidth < 10 {
			barWidth = 10
		}
		m.Overall.Width = barWidth
		m.Quality.Width = barWidth
		m.Encoding.Width = barWidth
		m.LogViewport.Width = msg.Width - 4

		logHeight := msg.Height - 24
		if logHeight < 0 {
			logHeight = 0
		}
		m.LogViewport.Height = logHeight

	case EventMsg:
		m.applyEvent(encoder.Event(msg))
		cmds = append(cmds, m.waitForEvent())

	case BatchDoneMsg:
		m.drainEvents()
		m.Summary = msg.Summary
		if msg.Err != nil && !errors.Is(msg.Err, context.Canceled) {
			m.State = StateError
			m.ErrorMessage = msg.Err.Error()
		} else {
			m.State = StateDone
			if msg.Err != nil {
				m.appendLog("Batch cancelled")
			}
		}
		return m, nil

	case TickMsg:
		if m.State != StateDone && m.State != StateError {
			if m.State == StateIdle {
				m.State = StateScanning
			}
			cmds = append(cmds, tickCmd())
		}
	}

	if m.ShowLogs {
		var cmd tea.Cmd
		m.LogViewport, cmd = m.LogViewport.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

// drainEvents empties any events buffered behind the done message.
func (m *Model) drainEvents() {
	for {
		select {
		case ev := <-m.events:
			m.applyEvent(ev)
		default:
			return
		}
	}
}

func (m *Model) applyEvent(ev encoder.Event) {
	switch ev.Status {
	case encoder.StatusFileInfo:
		m.State = StateConverting
		m.CurrentFile = ev.File
		m.RetryBanner = ""
		m.CurrentProgress = encoder.ProgressInfo{}
		if ev.Info != nil {
			m.CurrentSize = ev.Info.SizeBytes
		}
		if m.StartTime.IsZero() {
			m.StartTime = time.Now()
		}
		m.appendLog(fmt.Sprintf("%s: converting (%s)", ev.File, formatBytes(m.CurrentSize)))

	case encoder.StatusStarting:
		if ev.Progress != nil {
			m.CurrentProgress = *ev.Progress
			m.appendLog(fmt.Sprintf("%s: %s", ev.File, ev.Progress.Message))
		}

	case encoder.StatusProgress:
		if ev.Progress != nil {
			m.CurrentProgress = *ev.Progress
		}

	case encoder.StatusRetrying:
		if ev.Retry != nil {
			m.RetryBanner = ev.Retry.Message
			m.appendLog(fmt.Sprintf("%s: %s", ev.File, ev.Retry.Message))
		}

	case encoder.StatusCompleted:
		m.converted++
		m.RetryBanner = ""
		text := ev.File
		if ev.Completed != nil {
			text = fmt.Sprintf("%s  %s", ev.File, ev.Completed.Message)
		}
		m.appendResult(result{symbol: "✓", text: text})
		m.appendLog("✓ " + text)

	case encoder.StatusFailed:
		m.failed++
		m.RetryBanner = ""
		text := ev.File
		if ev.Error != nil {
			text = fmt.Sprintf("%s  %s", ev.File, ev.Error.Message)
		}
		m.appendResult(result{symbol: "✗", text: text})
		m.appendLog("✗ " + text)

	case encoder.StatusSkipped:
		m.skipped++
		if ev.Skip != nil {
			m.appendLog(fmt.Sprintf("%s: skipped (%s)", ev.File, ev.Skip.Reason))
		}

	case encoder.StatusSkippedNotWorth:
		m.notWorth++
		m.RetryBanner = ""
		text := ev.File + "  not worthwhile"
		if ev.Skip != nil && ev.Skip.MinVMAFAttempted > 0 {
			text = fmt.Sprintf("%s  not worthwhile down to VMAF %d", ev.File, ev.Skip.MinVMAFAttempted)
		}
		m.appendResult(result{symbol: "⊘", text: text})
		m.appendLog("⊘ " + text)
	}
}

func (m *Model) appendResult(r result) {
	m.results = append(m.results, r)
	if len(m.results) > maxResults {
		m.results = m.results[len(m.results)-maxResults:]
	}
}

func (m *Model) appendLog(line string) {
	m.logLines = append(m.logLines, line)
	if len(m.logLines) > maxLogLines {
		m.logLines = m.logLines[len(m.logLines)-maxLogLines:]
	}
	m.LogViewport.SetContent(strings.Join(m.logLines, "\n"))
	m.LogViewport.GotoBottom()
}

// Run drives a full-screen batch session and returns the final summary.
func Run(w *worker.Worker) (worker.Summary, error) {
	model := NewModel(w)
	p := tea.NewProgram(model, tea.WithAltScreen())
	final, err := p.Run()
	if err != nil {
		return worker.Summary{}, err
	}
	if m, ok := final.(*Model); ok {
		if m.State == StateError {
			return m.Summary, fmt.Errorf("batch failed: %s", m.ErrorMessage)
		}
		return m.Summary, nil
	}
	return worker.Summary{}, nil
}
