// Package artifact owns the model files on disk: the single active artifact,
// candidate versions and the bounded backup directory.
package artifact

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/haskel/petmood/internal/classifier"
)

var (
	ErrInvalidArtifact  = errors.New("invalid artifact")
	ErrNoActiveArtifact = errors.New("no active artifact")
	ErrBackupNotFound   = errors.New("no matching backup")
)

const (
	backupPrefix = "rollback_backup_"
	backupTime   = "20060102_150405"
	fileExt      = ".json"
)

// Config holds artifact locations. Relative paths resolve against RootDir.
type Config struct {
	RootDir     string
	ActivePath  string
	VersionsDir string
	BackupDir   string
}

// Info describes an artifact file.
type Info struct {
	Exists    bool      `json:"exists"`
	Path      string    `json:"path"`
	Size      int64     `json:"size,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
	VersionID string    `json:"version_id,omitempty"`
}

// BackupInfo describes one backup file.
type BackupInfo struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
	VersionID string    `json:"version_id,omitempty"`
}

// Store manages artifact files.
type Store struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu sync.Mutex
}

// NewStore resolves paths and creates the directories it owns.
func NewStore(cfg Config, logger *slog.Logger) (*Store, error) {
	if cfg.RootDir == "" {
		return nil, fmt.Errorf("artifact root dir cannot be empty")
	}
	if cfg.ActivePath == "" {
		cfg.ActivePath = filepath.Join("active", "model"+fileExt)
	}
	if cfg.VersionsDir == "" {
		cfg.VersionsDir = "versions"
	}
	if cfg.BackupDir == "" {
		cfg.BackupDir = "backups"
	}

	s := &Store{cfg: cfg, logger: logger, now: time.Now}
	s.cfg.ActivePath = s.Resolve(cfg.ActivePath)
	s.cfg.VersionsDir = s.Resolve(cfg.VersionsDir)
	s.cfg.BackupDir = s.Resolve(cfg.BackupDir)

	for _, dir := range []string{filepath.Dir(s.cfg.ActivePath), s.cfg.VersionsDir, s.cfg.BackupDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create artifact directory: %w", err)
		}
	}

	return s, nil
}

// Paths returns the resolved locations.
func (s *Store) Paths() Config {
	return s.cfg
}

// ActivePath returns the active artifact location.
func (s *Store) ActivePath() string {
	return s.cfg.ActivePath
}

// Resolve makes p absolute relative to the root dir.
func (s *Store) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(s.cfg.RootDir, p)
}

// CandidatePath returns where a version's file lives.
func (s *Store) CandidatePath(versionID string) string {
	return filepath.Join(s.cfg.VersionsDir, versionID+fileExt)
}

// Load decodes the checkpoint at path without validating weights.
func (s *Store) Load(path string) (*classifier.Checkpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact: %w", err)
	}
	defer f.Close()

	ckpt, err := classifier.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidArtifact, path, err)
	}
	return ckpt, nil
}

// LoadActive loads the active checkpoint.
func (s *Store) LoadActive() (*classifier.Checkpoint, error) {
	if !fileExists(s.cfg.ActivePath) {
		return nil, ErrNoActiveArtifact
	}
	return s.Load(s.cfg.ActivePath)
}

// HasActive reports whether an active artifact exists.
func (s *Store) HasActive() bool {
	return fileExists(s.cfg.ActivePath)
}

// Validate checks that path holds a decodable checkpoint with a non-empty
// weight mapping.
func (s *Store) Validate(path string) error {
	ckpt, err := s.Load(path)
	if err != nil {
		if errors.Is(err, ErrInvalidArtifact) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrInvalidArtifact, err)
	}
	if err := ckpt.Validate(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidArtifact, path, err)
	}
	return nil
}

// WriteCandidate stores ckpt under the versions dir. The active file is never touched.
func (s *Store) WriteCandidate(ckpt *classifier.Checkpoint) (string, error) {
	if ckpt.VersionID == "" {
		return "", fmt.Errorf("%w: missing version id", ErrInvalidArtifact)
	}
	if err := ckpt.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidArtifact, err)
	}

	path := s.CandidatePath(ckpt.VersionID)
	err := writeAtomic(path, func(f *os.File) error {
		return classifier.Encode(f, ckpt)
	})
	if err != nil {
		return "", fmt.Errorf("failed to write candidate: %w", err)
	}

	s.logger.Info("candidate written", "version", ckpt.VersionID, "path", path)
	return path, nil
}

// BackupActive copies the active artifact into the backup dir and returns the
// backup path, or "" when there is no active artifact.
func (s *Store) BackupActive() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !fileExists(s.cfg.ActivePath) {
		return "", nil
	}

	name := backupPrefix + s.now().Format(backupTime)
	if ckpt, err := s.Load(s.cfg.ActivePath); err == nil && ckpt.VersionID != "" {
		name += "_" + ckpt.VersionID
	}

	path := filepath.Join(s.cfg.BackupDir, name+fileExt)
	for n := 1; fileExists(path); n++ {
		path = filepath.Join(s.cfg.BackupDir, fmt.Sprintf("%s_%d%s", name, n, fileExt))
	}

	if err := copyAtomic(s.cfg.ActivePath, path); err != nil {
		return "", fmt.Errorf("failed to back up active artifact: %w", err)
	}

	s.logger.Info("active artifact backed up", "path", path)
	return path, nil
}

// SwapActive validates path and atomically installs it as the active artifact.
func (s *Store) SwapActive(path string) error {
	if err := s.Validate(path); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := copyAtomic(path, s.cfg.ActivePath); err != nil {
		return fmt.Errorf("failed to swap active artifact: %w", err)
	}

	s.logger.Info("active artifact swapped", "source", path)
	return nil
}

// Restore puts a backup back in place without validating it.
func (s *Store) Restore(backupPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := copyAtomic(backupPath, s.cfg.ActivePath); err != nil {
		return fmt.Errorf("failed to restore backup: %w", err)
	}

	s.logger.Info("active artifact restored", "backup", backupPath)
	return nil
}

// RemoveActive deletes the active artifact.
func (s *Store) RemoveActive() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.cfg.ActivePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove active artifact: %w", err)
	}
	return nil
}

// CopyTo copies src to dst atomically.
func (s *Store) CopyTo(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return copyAtomic(src, dst)
}

// ActiveInfo describes the active artifact.
func (s *Store) ActiveInfo() Info {
	return s.info(s.cfg.ActivePath)
}

func (s *Store) info(path string) Info {
	info := Info{Path: path}

	stat, err := os.Stat(path)
	if err != nil {
		return info
	}

	info.Exists = true
	info.Size = stat.Size()
	info.UpdatedAt = stat.ModTime()
	if ckpt, err := s.Load(path); err == nil {
		info.VersionID = ckpt.VersionID
	}
	return info
}

// ListVersions returns candidate files, highest version first.
func (s *Store) ListVersions() ([]Info, error) {
	matches, err := filepath.Glob(filepath.Join(s.cfg.VersionsDir, "*"+fileExt))
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}

	versions := make([]Info, 0, len(matches))
	for _, m := range matches {
		info := s.info(m)
		if info.VersionID == "" {
			info.VersionID = strings.TrimSuffix(filepath.Base(m), fileExt)
		}
		versions = append(versions, info)
	}

	sort.Slice(versions, func(i, j int) bool {
		a, _ := ParseVersion(versions[i].VersionID)
		b, _ := ParseVersion(versions[j].VersionID)
		if a != b {
			return a > b
		}
		return versions[i].VersionID > versions[j].VersionID
	})
	return versions, nil
}

// NextVersionID returns one past the highest version seen in the active
// artifact or the versions dir.
func (s *Store) NextVersionID() string {
	highest := 0
	if info := s.ActiveInfo(); info.Exists {
		if n, ok := ParseVersion(info.VersionID); ok {
			highest = n
		}
	}
	if versions, err := s.ListVersions(); err == nil {
		for _, v := range versions {
			if n, ok := ParseVersion(v.VersionID); ok && n > highest {
				highest = n
			}
		}
	}
	return VersionName(highest + 1)
}

// ParseVersion extracts the number from "v12" or "12".
func ParseVersion(id string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimPrefix(strings.ToLower(id), "v"))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// VersionName formats a version number.
func VersionName(n int) string {
	return "v" + strconv.Itoa(n)
}

func fileExists(path string) bool {
	stat, err := os.Stat(path)
	return err == nil && !stat.IsDir()
}
