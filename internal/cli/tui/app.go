package tui

import (
	"errors"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// minRefresh keeps the dashboard from hammering the server.
const minRefresh = 500 * time.Millisecond

// Run opens the dashboard and blocks until the user quits.
func Run(cfg Config) error {
	if cfg.ServerURL == "" {
		return errors.New("server URL is required")
	}
	if cfg.RefreshInterval < minRefresh {
		cfg.RefreshInterval = minRefresh
	}

	if _, err := tea.NewProgram(NewModel(cfg), tea.WithAltScreen()).Run(); err != nil {
		return fmt.Errorf("dashboard exited: %w", err)
	}
	return nil
}
