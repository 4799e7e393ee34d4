package rollback

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haskel/petmood/internal/artifact"
	"github.com/haskel/petmood/internal/backend"
	"github.com/haskel/petmood/internal/classifier"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeRegistry struct {
	versions    map[int64]*backend.ModelVersion
	activateErr error
	activated   []int64
	reasons     []string
}

func (f *fakeRegistry) GetVersion(ctx context.Context, id int64) (*backend.ModelVersion, error) {
	v, ok := f.versions[id]
	if !ok {
		return nil, backend.ErrNotFound
	}
	return v, nil
}

func (f *fakeRegistry) RollbackCandidates(ctx context.Context) ([]backend.ModelVersion, error) {
	var out []backend.ModelVersion
	for _, v := range f.versions {
		out = append(out, *v)
	}
	return out, nil
}

func (f *fakeRegistry) ActivateVersion(ctx context.Context, id int64, reason string) error {
	if f.activateErr != nil {
		return f.activateErr
	}
	f.activated = append(f.activated, id)
	f.reasons = append(f.reasons, reason)
	return nil
}

type fixture struct {
	store    *artifact.Store
	registry *fakeRegistry
	manager  *Manager
	results  []*Result
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := artifact.NewStore(artifact.Config{RootDir: t.TempDir()}, testLogger())
	require.NoError(t, err)

	f := &fixture{
		store:    store,
		registry: &fakeRegistry{versions: map[int64]*backend.ModelVersion{}},
	}
	f.manager = NewManager(store, f.registry, testLogger(), WithObserver(func(r *Result) {
		f.results = append(f.results, r)
	}))
	return f
}

func checkpoint(version string, seed int64) *classifier.Checkpoint {
	return classifier.NewCheckpoint(classifier.NewPretrained(classifier.DefaultArch(), seed), version, time.Now())
}

// activate installs version as the active artifact.
func (f *fixture) activate(t *testing.T, version string, seed int64) {
	t.Helper()
	path, err := f.store.WriteCandidate(checkpoint(version, seed))
	require.NoError(t, err)
	require.NoError(t, f.store.SwapActive(path))
}

func (f *fixture) activeVersion(t *testing.T) string {
	t.Helper()
	ckpt, err := f.store.LoadActive()
	require.NoError(t, err)
	return ckpt.VersionID
}

func TestRollback_FromModelPath(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.WriteCandidate(checkpoint("v3", 3))
	require.NoError(t, err)
	f.activate(t, "v4", 4)
	f.registry.versions[3] = &backend.ModelVersion{ID: 3, Version: "v3", ModelPath: "versions/v3.json"}

	res, err := f.manager.RollbackTo(context.Background(), 3, "")
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, "v3", res.Version)
	assert.Equal(t, "v3", f.activeVersion(t))
	assert.NotEmpty(t, res.BackupPath)
	assert.FileExists(t, res.BackupPath)
	assert.Equal(t, []Step{
		StepStart, StepVersionLookup, StepBackupCurrent, StepLocateTarget,
		StepValidate, StepSwap, StepNotifyRegistry, StepDone,
	}, res.Steps)
	assert.Equal(t, []int64{3}, f.registry.activated)
	assert.Equal(t, []string{defaultReason}, f.registry.reasons)
	require.Len(t, f.results, 1)
}

func TestRollback_RestoresFromMatchingBackup(t *testing.T) {
	f := newFixture(t)

	// v3 was active once and got backed up; its version file is gone.
	f.activate(t, "v3", 3)
	_, err := f.store.BackupActive()
	require.NoError(t, err)
	require.NoError(t, os.Remove(f.store.CandidatePath("v3")))
	f.activate(t, "v4", 4)

	f.registry.versions[3] = &backend.ModelVersion{ID: 3, Version: "v3", ModelPath: "versions/v3.json"}

	res, err := f.manager.RollbackTo(context.Background(), 3, "regression")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Contains(t, res.Steps, StepRestoreFromBackup)
	assert.Equal(t, "v3", f.activeVersion(t))
	assert.FileExists(t, f.store.CandidatePath("v3"))
	assert.Equal(t, []string{"regression"}, f.registry.reasons)
}

func TestRollback_PrefersRegistryBackupPath(t *testing.T) {
	f := newFixture(t)
	f.activate(t, "v4", 4)

	explicit := filepath.Join(t.TempDir(), "saved-v2.json")
	out, err := os.Create(explicit)
	require.NoError(t, err)
	require.NoError(t, classifier.Encode(out, checkpoint("v2", 2)))
	require.NoError(t, out.Close())

	f.registry.versions[2] = &backend.ModelVersion{ID: 2, Version: "v2", BackupPath: explicit}

	res, err := f.manager.RollbackTo(context.Background(), 2, "")
	require.NoError(t, err)
	assert.Equal(t, f.store.CandidatePath("v2"), res.TargetPath)
	assert.Equal(t, "v2", f.activeVersion(t))
}

func TestRollback_TargetNotFound(t *testing.T) {
	f := newFixture(t)
	f.activate(t, "v4", 4)
	f.registry.versions[3] = &backend.ModelVersion{ID: 3, Version: "v3", ModelPath: "versions/v3.json"}

	res, err := f.manager.RollbackTo(context.Background(), 3, "")
	assert.True(t, errors.Is(err, ErrTargetNotFound))
	assert.False(t, res.Success)
	assert.Empty(t, res.BackupPath)
	assert.Equal(t, StepFailed, res.Steps[len(res.Steps)-1])

	backups, err := f.store.ListBackups()
	require.NoError(t, err)
	assert.Empty(t, backups, "the backup taken for this call must be removed")
	assert.Equal(t, "v4", f.activeVersion(t))
	assert.Empty(t, f.registry.activated)

	_, err = f.manager.RollbackTo(context.Background(), 99, "")
	assert.True(t, errors.Is(err, ErrTargetNotFound))
}

func TestRollback_InvalidTargetKeepsActive(t *testing.T) {
	f := newFixture(t)
	f.activate(t, "v4", 4)

	bad := filepath.Join(f.store.Paths().VersionsDir, "v3.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"format":1,"version_id":"v3","model_state_dict":{}}`), 0644))
	f.registry.versions[3] = &backend.ModelVersion{ID: 3, Version: "v3", ModelPath: bad}

	res, err := f.manager.RollbackTo(context.Background(), 3, "")
	assert.True(t, errors.Is(err, artifact.ErrInvalidArtifact))
	assert.Contains(t, res.Steps, StepRollbackUndo)
	assert.Equal(t, "v4", f.activeVersion(t))
	require.NoError(t, f.store.Validate(f.store.ActivePath()))
}

func TestRollback_RegistryFailureUndoesSwap(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.WriteCandidate(checkpoint("v3", 3))
	require.NoError(t, err)
	f.activate(t, "v4", 4)
	f.registry.versions[3] = &backend.ModelVersion{ID: 3, Version: "v3", ModelPath: "versions/v3.json"}
	f.registry.activateErr = backend.ErrUnavailable

	res, err := f.manager.RollbackTo(context.Background(), 3, "")
	assert.True(t, errors.Is(err, ErrPartialActivation))
	assert.True(t, errors.Is(err, backend.ErrUnavailable))
	assert.False(t, res.Success)
	assert.True(t, res.Inconsistent)
	assert.Equal(t, "v4", f.activeVersion(t))
}

func TestRollback_CorruptBackupIsNotLeftBehind(t *testing.T) {
	f := newFixture(t)

	f.activate(t, "v3", 3)
	backup, err := f.store.BackupActive()
	require.NoError(t, err)
	require.NoError(t, os.Remove(f.store.CandidatePath("v3")))
	require.NoError(t, os.WriteFile(backup, []byte("{truncated"), 0o644))
	f.activate(t, "v4", 4)

	f.registry.versions[3] = &backend.ModelVersion{ID: 3, Version: "v3", ModelPath: "versions/v3.json"}

	res, err := f.manager.RollbackTo(context.Background(), 3, "")
	require.Error(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Steps, StepRestoreFromBackup)
	assert.Contains(t, res.Steps, StepRollbackUndo)
	assert.Empty(t, res.RestoredPath)
	assert.NoFileExists(t, f.store.CandidatePath("v3"))
	assert.Equal(t, "v4", f.activeVersion(t))

	// a repaired backup is picked up again on the next attempt
	out, err := os.Create(backup)
	require.NoError(t, err)
	require.NoError(t, classifier.Encode(out, checkpoint("v3", 3)))
	require.NoError(t, out.Close())

	res, err = f.manager.RollbackTo(context.Background(), 3, "")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "v3", f.activeVersion(t))
	assert.Equal(t, f.store.CandidatePath("v3"), res.RestoredPath)
}

func TestRollback_UndoKeepsExistingVersionFile(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.WriteCandidate(checkpoint("v3", 3))
	require.NoError(t, err)
	f.activate(t, "v4", 4)
	f.registry.versions[3] = &backend.ModelVersion{ID: 3, Version: "v3", ModelPath: "versions/v3.json"}
	f.registry.activateErr = backend.ErrUnavailable

	res, err := f.manager.RollbackTo(context.Background(), 3, "")
	require.Error(t, err)
	assert.NotContains(t, res.Steps, StepRestoreFromBackup)
	assert.FileExists(t, f.store.CandidatePath("v3"))
}

func TestRollback_RegistryFailureWithoutPriorActive(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.WriteCandidate(checkpoint("v3", 3))
	require.NoError(t, err)
	f.registry.versions[3] = &backend.ModelVersion{ID: 3, Version: "v3", ModelPath: "versions/v3.json"}
	f.registry.activateErr = errors.New("down")

	_, err = f.manager.RollbackTo(context.Background(), 3, "")
	assert.True(t, errors.Is(err, ErrPartialActivation))
	assert.False(t, f.store.HasActive())
}

func TestManager_AvailableVersionsAndCleanup(t *testing.T) {
	f := newFixture(t)
	f.registry.versions[1] = &backend.ModelVersion{ID: 1, Version: "v1"}

	versions, err := f.manager.AvailableVersions(context.Background())
	require.NoError(t, err)
	assert.Len(t, versions, 1)

	f.activate(t, "v1", 1)
	for i := 0; i < 3; i++ {
		_, err := f.store.BackupActive()
		require.NoError(t, err)
	}

	deleted, err := f.manager.CleanupBackups(1)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)
}
