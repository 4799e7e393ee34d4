package dataset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haskel/petmood/internal/imageload"
)

type fakeLoader struct {
	fail map[string]bool
}

func (f *fakeLoader) LoadFile(path string, mode imageload.Mode) (*imageload.Tensor, error) {
	if f.fail[filepath.Base(path)] {
		return nil, errors.New("corrupt")
	}
	return imageload.NewTensor(3, 2, 2), nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeCSV(t *testing.T, dir string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, "labels.csv")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644))
	return path
}

func TestLoadLabels(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sad"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.jpg"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sad", "b.jpg"), nil, 0644))

	csvPath := writeCSV(t, dir,
		"filename,emotion",
		"a.jpg,happy",
		"b.jpg,sad",
		"c.jpg,bored",
		"d.jpg,0",
	)

	items, skipped, err := LoadLabels(csvPath, dir)
	require.NoError(t, err)
	assert.Equal(t, 1, skipped)
	require.Len(t, items, 3)

	assert.Equal(t, filepath.Join(dir, "a.jpg"), items[0].Path)
	assert.Equal(t, 1, items[0].Label)
	assert.Equal(t, filepath.Join(dir, "sad", "b.jpg"), items[1].Path)
	assert.Equal(t, 0, items[2].Label)
}

func TestLoadLabels_MissingColumns(t *testing.T) {
	dir := t.TempDir()

	_, _, err := LoadLabels(writeCSV(t, dir, "filename,mood", "a.jpg,happy"), dir)
	assert.True(t, errors.Is(err, ErrNoLabelColumn))

	_, _, err = LoadLabels(writeCSV(t, dir, "name,label", "a.jpg,happy"), dir)
	assert.True(t, errors.Is(err, ErrNoFileColumn))
}

func TestStratifiedSplit(t *testing.T) {
	var items []Item
	for label := 0; label < 4; label++ {
		for i := 0; i < 20; i++ {
			items = append(items, Item{Path: fmt.Sprintf("%d-%d.jpg", label, i), Label: label})
		}
	}

	split := StratifiedSplit(items, 0.7, 0.15, 42)
	assert.Len(t, split.Train, 56)
	assert.Len(t, split.Val, 12)
	assert.Len(t, split.Test, 12)

	perClass := make(map[int]int)
	for _, it := range split.Val {
		perClass[it.Label]++
	}
	for label := 0; label < 4; label++ {
		assert.Equal(t, 3, perClass[label])
	}

	again := StratifiedSplit(items, 0.7, 0.15, 42)
	assert.Equal(t, split, again)

	other := StratifiedSplit(items, 0.7, 0.15, 7)
	assert.NotEqual(t, split.Val, other.Val)
}

func TestValidationSet_Examples(t *testing.T) {
	dir := t.TempDir()
	lines := []string{"filename,label"}
	for i := 0; i < 20; i++ {
		lines = append(lines, fmt.Sprintf("img%02d.jpg,happy", i))
	}
	csvPath := writeCSV(t, dir, lines...)

	loader := &fakeLoader{fail: map[string]bool{}}
	vs := NewValidationSet(Config{Dir: dir, LabelsCSV: csvPath, TrainRatio: 0.7, ValRatio: 0.15, Seed: 42}, loader, testLogger())

	examples, err := vs.Examples(context.Background())
	require.NoError(t, err)
	assert.Len(t, examples, 3)

	// cached: failures injected later are not observed until Reset
	for _, ex := range examples {
		loader.fail[filepath.Base(ex.Path)] = true
	}
	cached, err := vs.Examples(context.Background())
	require.NoError(t, err)
	assert.Len(t, cached, 3)

	vs.Reset()
	reloaded, err := vs.Examples(context.Background())
	require.NoError(t, err)
	assert.Empty(t, reloaded)
}

func TestValidationSet_NotConfigured(t *testing.T) {
	vs := NewValidationSet(Config{}, &fakeLoader{}, testLogger())
	_, err := vs.Examples(context.Background())
	assert.True(t, errors.Is(err, ErrNotConfigured))
}
