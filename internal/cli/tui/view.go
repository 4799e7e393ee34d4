package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

const visibleRuns = 8

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var sections []string
	sections = append(sections, m.renderTitleBar())

	if m.err != nil {
		sections = append(sections, errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
	}

	if m.status != nil {
		sections = append(sections, m.renderPipeline(), m.renderActive())
		if m.status.Resources != nil {
			sections = append(sections, m.renderResources())
		}
	}

	if len(m.runs) > 0 {
		sections = append(sections, m.renderRuns())
	}

	sections = append(sections, m.renderFooter())

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderTitleBar() string {
	title := titleStyle.Render("PETMOOD RETRAINING")

	refreshInfo := fmt.Sprintf("↻ %s", m.config.RefreshInterval)
	if m.loading {
		refreshInfo = "↻ loading..."
	}

	help := helpStyle.Render("q:quit r:refresh ↑↓:scroll")

	rightPart := fmt.Sprintf("%s | %s", refreshInfo, help)
	spacing := m.width - lipgloss.Width(title) - lipgloss.Width(rightPart) - 2
	if spacing < 1 {
		spacing = 1
	}

	return fmt.Sprintf("%s%s%s", title, strings.Repeat(" ", spacing), helpStyle.Render(rightPart))
}

func (m Model) renderPipeline() string {
	st := m.status
	lines := []string{sectionHeaderStyle.Render("  Pipeline")}

	phase := phaseStyle(st.Phase).Render(string(st.Phase))
	if st.Busy {
		phase += helpStyle.Render(" (busy)")
	}
	lines = append(lines, fmt.Sprintf("  %s %s    %s %s",
		labelStyle.Render("Phase"), phase,
		labelStyle.Render("Today"), m.renderQuota(st.DailyRetrainCount, st.MaxDailyRetrains)))

	last := "-"
	if st.LastRetrainAt != nil {
		last = st.LastRetrainAt.Local().Format("2006-01-02 15:04")
	}
	lines = append(lines, fmt.Sprintf("  %s %s    %s %s",
		labelStyle.Render("Last retrain"), valueStyle.Render(last),
		labelStyle.Render("Recommended"), valueStyle.Render(dash(st.RecommendedVersion))))

	if r := st.LastResult; r != nil {
		style := successStyle
		if !r.Success {
			style = errorStyle
		}
		if r.Skipped {
			style = helpStyle
		}
		lines = append(lines, fmt.Sprintf("  %s %s", labelStyle.Render("Last result"), style.Render(truncate(r.Message, m.width-16))))
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderQuota(used, limit int) string {
	s := fmt.Sprintf("%d/%d", used, limit)
	if limit > 0 && used >= limit {
		return errorStyle.Render(s)
	}
	return valueStyle.Render(s)
}

func (m Model) renderActive() string {
	a := m.status.Active
	header := sectionHeaderStyle.Render("  Active model")
	if !a.Exists {
		return header + "\n  " + errorStyle.Render("no active artifact")
	}
	return fmt.Sprintf("%s\n  %s %s    %s %s    %s %s", header,
		labelStyle.Render("Version"), valueStyle.Render(dash(a.VersionID)),
		labelStyle.Render("Size"), valueStyle.Render(fmt.Sprintf("%.1f MB", float64(a.Size)/1024/1024)),
		labelStyle.Render("Updated"), valueStyle.Render(a.UpdatedAt.Local().Format("2006-01-02 15:04")))
}

func (m Model) renderResources() string {
	res := m.status.Resources
	lines := []string{sectionHeaderStyle.Render("  Resources")}

	cpuBar := m.renderProgressBar("CPU", res.CPU.UsagePercent, 20)
	memBar := m.renderProgressBar("Memory", res.Memory.UsagePercent, 20)
	lines = append(lines, fmt.Sprintf("  %s    %s", cpuBar, memBar))

	paths := make([]string, 0, len(res.Storage))
	for path := range res.Storage {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		disk := res.Storage[path]
		freeGB := float64(disk.FreeBytes) / 1024 / 1024 / 1024
		totalGB := float64(disk.TotalBytes) / 1024 / 1024 / 1024

		label := fmt.Sprintf("%-6s", truncate(path, 6))
		bar := m.renderProgressBar(label, disk.UsagePercent, 20)
		info := fmt.Sprintf("(%.1f GB free of %.1f GB)", freeGB, totalGB)
		lines = append(lines, fmt.Sprintf("  %s  %s", bar, valueStyle.Render(info)))
	}

	return strings.Join(lines, "\n")
}

func (m Model) renderProgressBar(label string, percent float64, width int) string {
	filled := int(percent / 100 * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}

	color := usageColor(percent)
	filledBar := lipgloss.NewStyle().Foreground(color).Render(strings.Repeat("█", filled))
	emptyBar := progressBarEmptyStyle.Render(strings.Repeat("░", width-filled))

	return fmt.Sprintf("%s [%s%s] %5.1f%%", labelStyle.Render(label), filledBar, emptyBar, percent)
}

func (m Model) renderRuns() string {
	lines := []string{sectionHeaderStyle.Render("  Recent runs")}

	header := fmt.Sprintf("  %-8s │ %-9s │ %-8s │ %-16s │ %-8s │ %7s │ %8s",
		"Run", "Status", "Trigger", "Started", "Version", "Samples", "Accuracy")
	lines = append(lines, tableHeaderStyle.Render(header))

	start, end := window(m.tableOffset, visibleRuns, len(m.runs))
	for _, r := range m.runs[start:end] {
		row := fmt.Sprintf("  %-8s │ %s │ %-8s │ %-16s │ %-8s │ %7d │ %8s",
			truncate(r.ID, 8),
			runStatusStyle(r.Status).Render(fmt.Sprintf("%-9s", r.Status)),
			r.Trigger,
			r.StartedAt.Local().Format("01-02 15:04:05"),
			truncate(dash(r.ProducedVersionID), 8),
			r.SampleCount,
			formatAccuracy(r.FinalAccuracy))
		lines = append(lines, tableCellStyle.Render(row))
	}

	if len(m.runs) > visibleRuns {
		lines = append(lines, helpStyle.Render(fmt.Sprintf("  [%d-%d of %d runs]", start+1, end, len(m.runs))))
	}

	return strings.Join(lines, "\n")
}

// window returns the visible [start, end) slice bounds for a scroll offset.
func window(offset, size, total int) (int, int) {
	start := offset
	if start >= total || start < 0 {
		start = 0
	}
	end := start + size
	if end > total {
		end = total
	}
	return start, end
}

func formatAccuracy(acc float64) string {
	if acc == 0 {
		return "-"
	}
	return fmt.Sprintf("%.2f%%", acc*100)
}

func (m Model) renderFooter() string {
	if m.status == nil {
		return ""
	}
	return helpStyle.Render(fmt.Sprintf("  Runs: %d │ Updated: %s",
		len(m.runs), m.lastUpdated.Format(time.TimeOnly)))
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
