package scheduler

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

const dateLayout = "2006-01-02"

// Summary is the compact form of the last cycle outcome kept in state.
type Summary struct {
	Success   bool      `json:"success"`
	Skipped   bool      `json:"skipped,omitempty"`
	Message   string    `json:"message"`
	VersionID string    `json:"version_id,omitempty"`
	Accuracy  float64   `json:"accuracy,omitempty"`
	At        time.Time `json:"at"`
}

// State is the scheduler's persisted document.
type State struct {
	LastRetrainAt      *time.Time `json:"last_retrain_at,omitempty"`
	DailyRetrainCount  int        `json:"daily_retrain_count"`
	CurrentDate        string     `json:"current_date"`
	IsRunning          bool       `json:"is_running"`
	RecommendedVersion string     `json:"recommended_version,omitempty"`
	LastResult         *Summary   `json:"last_result,omitempty"`
}

// StateStore persists State.
type StateStore interface {
	Load() (State, error)
	Save(State) error
}

// FileStateStore keeps state in a JSON file, replaced atomically on save.
type FileStateStore struct {
	path   string
	logger *slog.Logger
}

func NewFileStateStore(path string, logger *slog.Logger) *FileStateStore {
	return &FileStateStore{path: path, logger: logger}
}

// Load returns the stored state. A missing or unreadable file yields a zero
// State so the scheduler can start fresh.
func (f *FileStateStore) Load() (State, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			f.logger.Info("no scheduler state file, starting fresh", "path", f.path)
			return State{}, nil
		}
		return State{}, fmt.Errorf("failed to read scheduler state: %w", err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		f.logger.Warn("failed to decode scheduler state, starting fresh", "path", f.path, "error", err)
		return State{}, nil
	}
	return st, nil
}

func (f *FileStateStore) Save(st State) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode scheduler state: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write scheduler state: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace scheduler state: %w", err)
	}

	f.logger.Debug("scheduler state saved", "path", f.path)
	return nil
}

// MemoryStateStore keeps state in memory.
type MemoryStateStore struct {
	mu    sync.Mutex
	state State
	saves int
}

func NewMemoryStateStore(initial State) *MemoryStateStore {
	return &MemoryStateStore{state: initial}
}

func (m *MemoryStateStore) Load() (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, nil
}

func (m *MemoryStateStore) Save(st State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = st
	m.saves++
	return nil
}

// Saves returns how many times Save was called.
func (m *MemoryStateStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
