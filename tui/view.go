package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"

	"ab-av1-batch/encoder"
)

// Color palette - modern, readable
var (
	colorPrimary   = lipgloss.Color("#7C3AED") // Violet
	colorSecondary = lipgloss.Color("#06B6D4") // Cyan
	colorSuccess   = lipgloss.Color("#10B981") // Emerald
	colorError     = lipgloss.Color("#EF4444") // Red
	colorWarning   = lipgloss.Color("#F59E0B") // Amber
	colorMuted     = lipgloss.Color("#6B7280") // Gray
	colorText      = lipgloss.Color("#F9FAFB") // White
	colorTextDim   = lipgloss.Color("#9CA3AF") // Light gray
	colorBorder    = lipgloss.Color("#374151") // Dark gray
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorText).
			Background(colorPrimary).
			Padding(0, 2).
			MarginBottom(1)

	sectionHeaderStyle = lipgloss.NewStyle().
				Foreground(colorSecondary).
				Bold(true).
				MarginTop(1)

	statsBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(1, 2).
			MarginTop(1)

	statLabelStyle = lipgloss.NewStyle().
			Foreground(colorMuted).
			Width(11)

	statValueStyle = lipgloss.NewStyle().
			Foreground(colorText).
			Bold(true)

	barLabelStyle = lipgloss.NewStyle().
			Foreground(colorMuted).
			Width(10)

	filePathStyle = lipgloss.NewStyle().
			Foreground(colorTextDim)

	successStyle = lipgloss.NewStyle().
			Foreground(colorSuccess).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(colorError).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(colorWarning).
			Bold(true)

	mutedStyle = lipgloss.NewStyle().
			Foreground(colorTextDim)

	helpStyle = lipgloss.NewStyle().
			Foreground(colorMuted).
			MarginTop(1)

	logBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1).
			MarginTop(1)

	retryBannerStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(colorWarning).
				Foreground(colorWarning).
				Padding(0, 2).
				MarginTop(1)
)

// View renders the TUI
func (m *Model) View() string {
	var b strings.Builder

	title := titleStyle.Render(" ⚡ ab-av1 batch converter ")
	b.WriteString(title + "\n")

	switch m.State {
	case StateIdle, StateScanning:
		b.WriteString(m.renderScanningView())
	case StateConverting:
		b.WriteString(m.renderConvertingView())
	case StateDone:
		b.WriteString(m.renderDoneView())
	case StateError:
		b.WriteString(m.renderErrorView())
	}

	help := helpStyle.Render("  [L] Toggle logs  •  [Q] Stop")
	b.WriteString("\n" + help + "\n")

	return b.String()
}

func (m *Model) renderScanningView() string {
	var b strings.Builder
	b.WriteString("\n" + statValueStyle.Render("  Scanning library...") + "\n")
	if m.skipped > 0 {
		b.WriteString(mutedStyle.Render(fmt.Sprintf("  %d skipped so far", m.skipped)) + "\n")
	}
	if m.ShowLogs {
		b.WriteString(logBoxStyle.Render(m.LogViewport.View()))
	}
	return b.String()
}

func (m *Model) renderConvertingView() string {
	var b strings.Builder

	done, found := m.Worker.Processed()

	b.WriteString("\n")
	b.WriteString("  " + filePathStyle.Render(truncatePath(m.CurrentFile, m.pathBudget())) + "\n\n")

	b.WriteString(renderBar(m.Overall, "Batch", overallRatio(done, found)))
	b.WriteString("  " + mutedStyle.Render(fmt.Sprintf("%d / %d files", done, found)) + "\n")
	b.WriteString(renderBar(m.Quality, "Quality", m.CurrentProgress.Quality/100))
	b.WriteString("\n")
	b.WriteString(renderBar(m.Encoding, "Encoding", m.CurrentProgress.Encoding/100))
	b.WriteString("\n")

	if m.RetryBanner != "" {
		b.WriteString(retryBannerStyle.Render("↻ "+m.RetryBanner) + "\n")
	}

	elapsed := time.Since(m.StartTime).Round(time.Second)
	b.WriteString(statsBoxStyle.Render(m.buildStatsGrid(m.CurrentProgress, elapsed)))
	b.WriteString("\n")

	if tail := m.renderResultTail(5); tail != "" {
		b.WriteString(sectionHeaderStyle.Render("  Recent") + "\n")
		b.WriteString(tail)
	}

	if m.ShowLogs {
		b.WriteString("\n")
		b.WriteString(sectionHeaderStyle.Render("  Activity") + "\n")
		b.WriteString(logBoxStyle.Render(m.LogViewport.View()))
	}

	return b.String()
}

func renderBar(bar progress.Model, label string, ratio float64) string {
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	return "  " + barLabelStyle.Render(label) + bar.ViewAs(ratio) + "\n"
}

func overallRatio(done, found int) float64 {
	if found == 0 {
		return 0
	}
	return float64(done) / float64(found)
}

func (m *Model) buildStatsGrid(prog encoder.ProgressInfo, elapsed time.Duration) string {
	spacer := lipgloss.NewStyle().Width(6).Render("")

	line1 := lipgloss.JoinHorizontal(lipgloss.Top,
		statLabelStyle.Render("VMAF"),
		statValueStyle.Render(formatVMAF(prog.VMAF)),
		spacer,
		statLabelStyle.Render("CRF"),
		statValueStyle.Render(formatCRF(prog.CRF)),
	)

	line2 := lipgloss.JoinHorizontal(lipgloss.Top,
		statLabelStyle.Render("Reduction"),
		statValueStyle.Render(formatReduction(prog.SizeReduction, prog.IsEstimate)),
		spacer,
		statLabelStyle.Render("Size"),
		statValueStyle.Render(formatSizeDisplay(m.CurrentSize, prog.OutputSize)),
	)

	line3 := lipgloss.JoinHorizontal(lipgloss.Top,
		statLabelStyle.Render("ETA"),
		statValueStyle.Render(formatETADisplay(prog.ETAText)),
		spacer,
		statLabelStyle.Render("FPS"),
		statValueStyle.Render(formatFPS(prog.FPS)),
	)

	line4 := lipgloss.JoinHorizontal(lipgloss.Top,
		statLabelStyle.Render("Elapsed"),
		statValueStyle.Render(formatDuration(elapsed)),
		spacer,
		statLabelStyle.Render("Done"),
		statValueStyle.Render(fmt.Sprintf("%d ✓  %d ⊘  %d ✗", m.converted, m.notWorth, m.failed)),
	)

	return lipgloss.JoinVertical(lipgloss.Left, line1, line2, line3, line4)
}

func (m *Model) renderResultTail(n int) string {
	if len(m.results) == 0 {
		return ""
	}
	start := len(m.results) - n
	if start < 0 {
		start = 0
	}
	var b strings.Builder
	for _, r := range m.results[start:] {
		style := mutedStyle
		switch r.symbol {
		case "✓":
			style = successStyle
		case "✗":
			style = errorStyle
		case "⊘":
			style = warningStyle
		}
		b.WriteString("  " + style.Render(r.symbol) + " " + filePathStyle.Render(truncatePath(r.text, m.pathBudget())) + "\n")
	}
	return b.String()
}

func (m *Model) renderDoneView() string {
	var b strings.Builder

	b.WriteString("\n")
	if m.stopRequested {
		b.WriteString(warningStyle.Render("  ⊘ Batch stopped") + "\n")
	} else {
		b.WriteString(successStyle.Render("  ✓ Batch complete") + "\n")
	}

	elapsed := time.Duration(0)
	if !m.StartTime.IsZero() {
		elapsed = time.Since(m.StartTime).Round(time.Second)
	}

	sum := m.Summary
	lines := []string{
		statLabelStyle.Render("Found") + statValueStyle.Render(fmt.Sprintf("%d", sum.Found)),
		statLabelStyle.Render("Converted") + statValueStyle.Render(fmt.Sprintf("%d", sum.Converted)),
		statLabelStyle.Render("Skipped") + statValueStyle.Render(fmt.Sprintf("%d", sum.Skipped)),
		statLabelStyle.Render("Not worth") + statValueStyle.Render(fmt.Sprintf("%d", sum.NotWorthwhile)),
		statLabelStyle.Render("Failed") + statValueStyle.Render(fmt.Sprintf("%d", sum.Failed)),
		statLabelStyle.Render("Elapsed") + statValueStyle.Render(formatDuration(elapsed)),
	}
	if sum.BytesIn > 0 && sum.BytesOut > 0 {
		saved := sum.BytesIn - sum.BytesOut
		lines = append(lines,
			statLabelStyle.Render("Saved")+statValueStyle.Render(
				fmt.Sprintf("%s (%s → %s)", formatBytes(saved), formatBytes(sum.BytesIn), formatBytes(sum.BytesOut))))
	}
	b.WriteString(statsBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...)))
	b.WriteString("\n")

	if tail := m.renderResultTail(maxResults); tail != "" {
		b.WriteString(sectionHeaderStyle.Render("  Results") + "\n")
		b.WriteString(tail)
	}

	return b.String()
}

func (m *Model) renderErrorView() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(errorStyle.Render("  ✗ Batch failed") + "\n\n")

	errBox := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorError).
		Padding(0, 2).
		Foreground(colorError).
		Render(m.ErrorMessage)
	b.WriteString(errBox + "\n")

	if m.ShowLogs && m.LogViewport.TotalLineCount() > 0 {
		b.WriteString("\n")
		b.WriteString(sectionHeaderStyle.Render("  Activity") + "\n")
		b.WriteString(logBoxStyle.Render(m.LogViewport.View()))
	}

	return b.String()
}

func (m *Model) pathBudget() int {
	budget := m.Width - 8
	if budget < 20 {
		budget = 60
	}
	return budget
}

// formatVMAF shows the latest measured VMAF, or a placeholder during the
// first probe passes when none exists yet.
func formatVMAF(v *float64) string {
	if v == nil {
		return "—"
	}
	return fmt.Sprintf("%.1f", *v)
}

func formatCRF(c *int) string {
	if c == nil {
		return "—"
	}
	return fmt.Sprintf("%d", *c)
}

func formatReduction(r *float64, estimate bool) string {
	if r == nil {
		return "—"
	}
	s := fmt.Sprintf("%.1f%%", *r)
	if estimate {
		s += " ~"
	}
	return s
}

func formatETADisplay(eta string) string {
	if eta == "" {
		return "—"
	}
	return eta
}

func formatFPS(fps string) string {
	if fps == "" {
		return "—"
	}
	return fps
}

// formatSizeDisplay shows the source size, with the projected output size
// alongside once the encoder has reported a reduction.
func formatSizeDisplay(size, projected int64) string {
	if size <= 0 {
		return "—"
	}
	if projected > 0 {
		return fmt.Sprintf("%s (~%s)", formatBytes(size), formatBytes(projected))
	}
	return formatBytes(size)
}

func truncatePath(path string, maxLen int) string {
	if len(path) <= maxLen {
		return path
	}
	if maxLen < 20 {
		return path[:maxLen-3] + "..."
	}
	half := (maxLen - 5) / 2
	return path[:half] + " ... " + path[len(path)-half:]
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func formatDuration(d time.Duration) string {
	if d < 0 {
		return "—"
	}
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
