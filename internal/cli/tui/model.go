package tui

import (
	"time"

	"github.com/haskel/petmood/internal/runlog"
	"github.com/haskel/petmood/internal/server"
)

// runsFetched is how many ledger entries the dashboard keeps.
const runsFetched = 50

// Config holds TUI configuration
type Config struct {
	ServerURL       string
	RefreshInterval time.Duration
	User            string
	Password        string
}

// Model represents the TUI state
type Model struct {
	config Config

	status *server.RetrainStatus
	runs   []runlog.Run

	width       int
	height      int
	loading     bool
	err         error
	lastUpdated time.Time

	// Runs table scroll position
	tableOffset int
}

func NewModel(cfg Config) Model {
	return Model{
		config:  cfg,
		loading: true,
	}
}
