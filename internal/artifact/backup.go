package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ListBackups returns backups newest first. Ties on mtime order by name.
func (s *Store) ListBackups() ([]BackupInfo, error) {
	matches, err := filepath.Glob(filepath.Join(s.cfg.BackupDir, backupPrefix+"*"+fileExt))
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}

	backups := make([]BackupInfo, 0, len(matches))
	for _, m := range matches {
		stat, err := os.Stat(m)
		if err != nil {
			continue
		}
		b := BackupInfo{
			Name:      filepath.Base(m),
			Path:      m,
			Size:      stat.Size(),
			CreatedAt: stat.ModTime(),
		}
		if ckpt, err := s.Load(m); err == nil {
			b.VersionID = ckpt.VersionID
		}
		backups = append(backups, b)
	}

	sort.Slice(backups, func(i, j int) bool {
		if !backups[i].CreatedAt.Equal(backups[j].CreatedAt) {
			return backups[i].CreatedAt.After(backups[j].CreatedAt)
		}
		return backups[i].Name > backups[j].Name
	})
	return backups, nil
}

// FindBackup picks a backup for version. Preference order: a backup whose
// checkpoint metadata names the version, then a filename containing it, then
// the newest backup. Paths in exclude are never returned.
func (s *Store) FindBackup(version string, exclude ...string) (string, error) {
	backups, err := s.ListBackups()
	if err != nil {
		return "", err
	}

	skip := make(map[string]bool, len(exclude))
	for _, p := range exclude {
		skip[filepath.Clean(p)] = true
	}

	var candidates []BackupInfo
	for _, b := range backups {
		if !skip[filepath.Clean(b.Path)] {
			candidates = append(candidates, b)
		}
	}
	if len(candidates) == 0 {
		return "", ErrBackupNotFound
	}

	if version != "" {
		for _, b := range candidates {
			if b.VersionID == version {
				return b.Path, nil
			}
		}
		for _, b := range candidates {
			if strings.Contains(b.Name, version) {
				return b.Path, nil
			}
		}
	}

	s.logger.Warn("no backup matches version, using newest",
		"version", version,
		"backup", candidates[0].Path,
	)
	return candidates[0].Path, nil
}

// RemoveBackup deletes a backup file.
func (s *Store) RemoveBackup(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove backup: %w", err)
	}
	return nil
}

// CleanupBackups keeps the newest keep backups and deletes the rest.
func (s *Store) CleanupBackups(keep int) (int, error) {
	if keep < 0 {
		return 0, fmt.Errorf("keep must be non-negative, got %d", keep)
	}

	backups, err := s.ListBackups()
	if err != nil {
		return 0, err
	}
	if len(backups) <= keep {
		return 0, nil
	}

	deleted := 0
	for _, b := range backups[keep:] {
		if err := os.Remove(b.Path); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to delete backup", "path", b.Path, "error", err)
			continue
		}
		deleted++
	}

	s.logger.Info("backups cleaned up", "deleted", deleted, "kept", keep)
	return deleted, nil
}
