package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/goccy/go-json"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	tableHdStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
)

func header(title string) {
	fmt.Println(headerStyle.Render("=== " + title + " ==="))
}

func field(label string, value any) {
	fmt.Printf("  %s %v\n", labelStyle.Render(fmt.Sprintf("%-22s", label+":")), value)
}

func statusWord(success bool) string {
	if success {
		return okStyle.Render("ok")
	}
	return failStyle.Render("failed")
}

// result prints a one-line outcome message.
func result(success bool, msg string) {
	if success {
		fmt.Println(okStyle.Render("✓ " + msg))
		return
	}
	fmt.Println(warnStyle.Render("✗ " + msg))
}

// emit handles --json output and turns a failed envelope into an error.
// It reports whether the caller should go on to pretty-print.
func emit(env *Envelope, raw []byte) (bool, error) {
	if jsonOut {
		fmt.Println(strings.TrimSpace(string(raw)))
		if !env.Success {
			return false, errors.New(env.Message)
		}
		return false, nil
	}
	if !env.Success && len(env.Data) == 0 {
		return false, errors.New(env.Message)
	}
	return true, nil
}

// decodeData unmarshals the envelope payload.
func decodeData(env *Envelope, v any) error {
	if len(env.Data) == 0 {
		return errors.New("response has no data")
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func formatBytes(b uint64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := uint64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
