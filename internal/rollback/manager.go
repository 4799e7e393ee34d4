// Package rollback replaces the active artifact with a registered version,
// backing up the current one first and restoring it when any later step fails.
package rollback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/haskel/petmood/internal/artifact"
	"github.com/haskel/petmood/internal/backend"
)

var (
	ErrTargetNotFound    = errors.New("target not found")
	ErrPartialActivation = errors.New("artifact swapped but registry activation failed")
)

const defaultReason = "model rollback"

// Step is a state of the rollback state machine.
type Step string

const (
	StepStart             Step = "START"
	StepVersionLookup     Step = "VERSION_LOOKUP"
	StepBackupCurrent     Step = "BACKUP_CURRENT"
	StepLocateTarget      Step = "LOCATE_TARGET"
	StepRestoreFromBackup Step = "RESTORE_FROM_BACKUP"
	StepValidate          Step = "VALIDATE"
	StepSwap              Step = "SWAP"
	StepNotifyRegistry    Step = "NOTIFY_REGISTRY"
	StepDone              Step = "DONE"
	StepRollbackUndo      Step = "ROLLBACK_UNDO"
	StepFailed            Step = "FAILED"
)

// Registry is the version registry as seen by the rollback manager.
type Registry interface {
	GetVersion(ctx context.Context, id int64) (*backend.ModelVersion, error)
	RollbackCandidates(ctx context.Context) ([]backend.ModelVersion, error)
	ActivateVersion(ctx context.Context, id int64, reason string) error
}

// Result describes one rollback attempt.
type Result struct {
	Success      bool      `json:"success"`
	Message      string    `json:"message"`
	VersionID    int64     `json:"version_id"`
	Version      string    `json:"version,omitempty"`
	BackupPath   string    `json:"backup_path,omitempty"`
	TargetPath   string    `json:"target_path,omitempty"`
	RestoredPath string    `json:"restored_path,omitempty"`
	Steps        []Step    `json:"steps"`
	Inconsistent bool      `json:"inconsistent,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

func (r *Result) step(s Step) {
	r.Steps = append(r.Steps, s)
}

// Option customizes a Manager.
type Option func(*Manager)

// WithObserver is called with every finished result.
func WithObserver(fn func(*Result)) Option {
	return func(m *Manager) { m.observe = fn }
}

// Manager performs rollbacks. Calls are serialized.
type Manager struct {
	store    *artifact.Store
	registry Registry
	logger   *slog.Logger
	observe  func(*Result)

	mu sync.Mutex
}

func NewManager(store *artifact.Store, registry Registry, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		registry: registry,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RollbackTo makes registry version id the active artifact. The returned
// result is always non-nil; err is set whenever Success is false.
func (m *Manager) RollbackTo(ctx context.Context, id int64, reason string) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if reason == "" {
		reason = defaultReason
	}

	res := &Result{VersionID: id, Timestamp: time.Now()}
	res.step(StepStart)

	m.logger.Info("rollback started", "version_id", id, "reason", reason)

	err := m.run(ctx, res, id, reason)
	if err != nil {
		res.step(StepFailed)
		res.Message = err.Error()
		if errors.Is(err, ErrPartialActivation) {
			m.logger.Error("rollback left registry and artifact out of sync",
				"version_id", id,
				"error", err,
			)
		} else {
			m.logger.Warn("rollback failed", "version_id", id, "error", err)
		}
	} else {
		res.step(StepDone)
		res.Success = true
		res.Message = fmt.Sprintf("rolled back to %s", res.Version)
		m.logger.Info("rollback finished", "version_id", id, "version", res.Version, "backup", res.BackupPath)
	}

	if m.observe != nil {
		m.observe(res)
	}
	return res, err
}

func (m *Manager) run(ctx context.Context, res *Result, id int64, reason string) error {
	res.step(StepVersionLookup)
	v, err := m.registry.GetVersion(ctx, id)
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			return fmt.Errorf("%w: version %d is not registered", ErrTargetNotFound, id)
		}
		return fmt.Errorf("failed to look up version %d: %w", id, err)
	}
	res.Version = v.Version

	res.step(StepBackupCurrent)
	backup, err := m.store.BackupActive()
	if err != nil {
		return err
	}
	res.BackupPath = backup

	res.step(StepLocateTarget)
	target, err := m.locate(res, v, backup)
	if err != nil {
		if backup != "" {
			if rmErr := m.store.RemoveBackup(backup); rmErr != nil {
				m.logger.Warn("failed to remove unused backup", "path", backup, "error", rmErr)
			}
			res.BackupPath = ""
		}
		return err
	}
	res.TargetPath = target

	res.step(StepValidate)
	if err := m.store.Validate(target); err != nil {
		m.undo(res, backup)
		return err
	}

	res.step(StepSwap)
	if err := m.store.SwapActive(target); err != nil {
		m.undo(res, backup)
		return err
	}

	res.step(StepNotifyRegistry)
	if err := m.registry.ActivateVersion(ctx, id, reason); err != nil {
		res.Inconsistent = true
		m.undo(res, backup)
		return fmt.Errorf("%w: %w", ErrPartialActivation, err)
	}

	return nil
}

// locate finds the file holding version v. Registry modelPath wins, then the
// registry backupPath, then a backup found by name. Backups are first copied
// back to the version's own path.
func (m *Manager) locate(res *Result, v *backend.ModelVersion, freshBackup string) (string, error) {
	modelPath := m.store.Resolve(v.ModelPath)
	if modelPath != "" && exists(modelPath) {
		return modelPath, nil
	}

	source := ""
	if bp := m.store.Resolve(v.BackupPath); bp != "" && exists(bp) {
		source = bp
	} else if found, err := m.store.FindBackup(v.Version, freshBackup); err == nil {
		source = found
	}
	if source == "" {
		return "", fmt.Errorf("%w: no file for %s", ErrTargetNotFound, v.Version)
	}

	res.step(StepRestoreFromBackup)
	dest := modelPath
	if dest == "" {
		dest = m.store.CandidatePath(v.Version)
	}
	created := !exists(dest)
	if err := m.store.CopyTo(source, dest); err != nil {
		return "", fmt.Errorf("failed to restore %s from backup: %w", v.Version, err)
	}
	if created {
		res.RestoredPath = dest
	}

	m.logger.Info("version restored from backup", "version", v.Version, "backup", source, "path", dest)
	return dest, nil
}

// undo puts the pre-rollback artifact back. With no backup the call started
// without an active artifact, so the active file is removed. A version file
// that this call restored from a backup is removed as well.
func (m *Manager) undo(res *Result, backup string) {
	res.step(StepRollbackUndo)

	if res.RestoredPath != "" {
		if err := os.Remove(res.RestoredPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			m.logger.Error("failed to remove restored version file", "path", res.RestoredPath, "error", err)
		} else {
			res.RestoredPath = ""
		}
	}

	var err error
	if backup != "" {
		err = m.store.Restore(backup)
	} else {
		err = m.store.RemoveActive()
	}
	if err != nil {
		m.logger.Error("failed to undo rollback", "backup", backup, "error", err)
	}
}

// AvailableVersions lists registry versions eligible for rollback.
func (m *Manager) AvailableVersions(ctx context.Context) ([]backend.ModelVersion, error) {
	return m.registry.RollbackCandidates(ctx)
}

// CleanupBackups keeps the newest keep backups.
func (m *Manager) CleanupBackups(keep int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.CleanupBackups(keep)
}

func exists(path string) bool {
	stat, err := os.Stat(path)
	return err == nil && !stat.IsDir()
}
