// Package dataset reads the labelled validation image directory and splits it
// deterministically into train/val/test partitions.
package dataset

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/haskel/petmood/internal/emotion"
	"github.com/haskel/petmood/internal/imageload"
)

var (
	ErrNotConfigured = errors.New("validation dataset not configured")
	ErrNoLabelColumn = errors.New("no label column (expected one of label, emotion, class, target)")
	ErrNoFileColumn  = errors.New("no filename column")
)

var (
	labelColumns = []string{"label", "emotion", "class", "target"}
	fileColumns  = []string{"filename", "file", "image", "path"}
)

// Item is one labelled image on disk.
type Item struct {
	Path  string
	Label int
}

// Example is a preprocessed validation image.
type Example struct {
	Path  string
	Image *imageload.Tensor
	Label int
}

// Split holds the three partitions.
type Split struct {
	Train []Item
	Val   []Item
	Test  []Item
}

// Config describes the dataset location and split ratios.
type Config struct {
	Dir        string
	LabelsCSV  string
	TrainRatio float64
	ValRatio   float64
	TestRatio  float64
	Seed       int64
}

// LoadLabels parses a labels CSV. Image paths resolve against rootDir, falling
// back to rootDir/<label>/<filename>. Rows with unknown labels are skipped.
func LoadLabels(csvPath, rootDir string) ([]Item, int, error) {
	f, err := os.Open(csvPath)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open labels file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read labels header: %w", err)
	}

	labelCol := findColumn(header, labelColumns)
	if labelCol < 0 {
		return nil, 0, ErrNoLabelColumn
	}
	fileCol := findColumn(header, fileColumns)
	if fileCol < 0 {
		return nil, 0, ErrNoFileColumn
	}

	var items []Item
	skipped := 0
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("failed to read labels row: %w", err)
		}
		if labelCol >= len(rec) || fileCol >= len(rec) {
			skipped++
			continue
		}

		label, ok := emotion.Index(rec[labelCol])
		if !ok {
			skipped++
			continue
		}

		name := strings.TrimSpace(rec[fileCol])
		path := filepath.Join(rootDir, name)
		if _, err := os.Stat(path); err != nil {
			path = filepath.Join(rootDir, emotion.Name(label), name)
		}

		items = append(items, Item{Path: path, Label: label})
	}

	return items, skipped, nil
}

func findColumn(header []string, names []string) int {
	for _, want := range names {
		for i, h := range header {
			if strings.EqualFold(strings.TrimSpace(h), want) {
				return i
			}
		}
	}
	return -1
}

// StratifiedSplit partitions items so each class keeps its proportion in every
// partition. The result depends only on the input order and seed.
func StratifiedSplit(items []Item, trainRatio, valRatio float64, seed int64) Split {
	byLabel := make(map[int][]Item)
	for _, it := range items {
		byLabel[it.Label] = append(byLabel[it.Label], it)
	}

	labels := make([]int, 0, len(byLabel))
	for l := range byLabel {
		labels = append(labels, l)
	}
	sort.Ints(labels)

	rng := rand.New(rand.NewSource(seed))
	var split Split

	for _, l := range labels {
		group := append([]Item(nil), byLabel[l]...)
		rng.Shuffle(len(group), func(i, j int) { group[i], group[j] = group[j], group[i] })

		n := len(group)
		nTrain := int(math.Round(float64(n) * trainRatio))
		nVal := int(math.Round(float64(n) * valRatio))
		if nTrain > n {
			nTrain = n
		}
		if nTrain+nVal > n {
			nVal = n - nTrain
		}

		split.Train = append(split.Train, group[:nTrain]...)
		split.Val = append(split.Val, group[nTrain:nTrain+nVal]...)
		split.Test = append(split.Test, group[nTrain+nVal:]...)
	}

	return split
}

// FileLoader decodes an image file into a tensor.
type FileLoader interface {
	LoadFile(path string, mode imageload.Mode) (*imageload.Tensor, error)
}

// ValidationSet lazily loads and caches the validation partition.
type ValidationSet struct {
	cfg    Config
	loader FileLoader
	logger *slog.Logger

	mu       sync.Mutex
	examples []Example
	loaded   bool
}

func NewValidationSet(cfg Config, loader FileLoader, logger *slog.Logger) *ValidationSet {
	return &ValidationSet{
		cfg:    cfg,
		loader: loader,
		logger: logger,
	}
}

// Examples returns the preprocessed validation partition, loading it on first use.
// Images that fail to decode are skipped.
func (v *ValidationSet) Examples(ctx context.Context) ([]Example, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.loaded {
		return v.examples, nil
	}
	if v.cfg.LabelsCSV == "" {
		return nil, ErrNotConfigured
	}

	items, skipped, err := LoadLabels(v.cfg.LabelsCSV, v.cfg.Dir)
	if err != nil {
		return nil, err
	}

	split := StratifiedSplit(items, v.cfg.TrainRatio, v.cfg.ValRatio, v.cfg.Seed)

	examples := make([]Example, 0, len(split.Val))
	failed := 0
	for _, it := range split.Val {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := v.loader.LoadFile(it.Path, imageload.ModeEval)
		if err != nil {
			v.logger.Warn("skipping validation image", "path", it.Path, "error", err)
			failed++
			continue
		}
		examples = append(examples, Example{Path: it.Path, Image: img, Label: it.Label})
	}

	v.logger.Info("validation set loaded",
		"rows", len(items),
		"skipped_rows", skipped,
		"train", len(split.Train),
		"val", len(examples),
		"test", len(split.Test),
		"failed_images", failed,
	)

	v.examples = examples
	v.loaded = true
	return examples, nil
}

// Reset drops the cached partition so the next call reloads from disk.
func (v *ValidationSet) Reset() {
	v.mu.Lock()
	v.examples = nil
	v.loaded = false
	v.mu.Unlock()
}
