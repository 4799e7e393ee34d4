// Package runlog keeps the durable history of training runs in BadgerDB.
package runlog

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

var (
	ErrRunNotFound  = errors.New("run not found")
	ErrRunImmutable = errors.New("run already finished")
)

// Key layout: runs are stored under a start-time ordered key, with an id
// index pointing at it.
const (
	runPrefix = "run:"
	idxPrefix = "run_id:"
)

// Status of a training run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Trigger names what started a run.
type Trigger string

const (
	TriggerSchedule Trigger = "schedule"
	TriggerManual   Trigger = "manual"
	TriggerAPI      Trigger = "api"
)

// Run is one training run record. It is immutable once terminal.
type Run struct {
	ID                string     `json:"run_id"`
	Trigger           Trigger    `json:"trigger"`
	Status            Status     `json:"status"`
	Message           string     `json:"message,omitempty"`
	StartedAt         time.Time  `json:"started_at"`
	FinishedAt        *time.Time `json:"finished_at,omitempty"`
	BaseVersionID     string     `json:"base_version_id,omitempty"`
	ProducedVersionID string     `json:"produced_version_id,omitempty"`
	SampleCount       int        `json:"sample_count"`
	SkippedSamples    int        `json:"skipped_samples"`
	Epochs            int        `json:"epochs"`
	LearningRate      float64    `json:"learning_rate"`
	FinalLoss         float64    `json:"final_loss,omitempty"`
	FinalAccuracy     float64    `json:"final_accuracy,omitempty"`
}

// Terminal reports whether the run has finished.
func (r *Run) Terminal() bool {
	return r.Status == StatusSucceeded || r.Status == StatusFailed
}

// Outcome is the terminal data recorded by Finish.
type Outcome struct {
	Status            Status
	Message           string
	ProducedVersionID string
	SkippedSamples    int
	FinalLoss         float64
	FinalAccuracy     float64
}

// Ledger stores runs.
type Ledger struct {
	db     *badger.DB
	logger *slog.Logger
	now    func() time.Time
}

// Open opens or creates a ledger in dir.
func Open(dir string, logger *slog.Logger) (*Ledger, error) {
	opts := badger.DefaultOptions(dir).
		WithLogger(&badgerLogger{logger: logger}).
		WithSyncWrites(true)
	return open(opts, logger)
}

// OpenInMemory opens a ledger that is lost on Close.
func OpenInMemory(logger *slog.Logger) (*Ledger, error) {
	opts := badger.DefaultOptions("").
		WithInMemory(true).
		WithLogger(nil)
	return open(opts, logger)
}

func open(opts badger.Options, logger *slog.Logger) (*Ledger, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open run ledger: %w", err)
	}

	logger.Info("run ledger opened", "dir", opts.Dir, "in_memory", opts.InMemory)
	return &Ledger{db: db, logger: logger, now: time.Now}, nil
}

// Close releases the database.
func (l *Ledger) Close() error {
	if err := l.db.Close(); err != nil {
		return fmt.Errorf("failed to close run ledger: %w", err)
	}
	return nil
}

// Begin records a new running run. ID and StartedAt are filled when empty.
func (l *Ledger) Begin(run *Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = l.now()
	}
	if run.Trigger == "" {
		run.Trigger = TriggerSchedule
	}
	run.Status = StatusRunning

	err := l.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(idxKey(run.ID)); err == nil {
			return fmt.Errorf("run %s already exists", run.ID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return put(txn, run)
	})
	if err != nil {
		return fmt.Errorf("failed to record run start: %w", err)
	}

	l.logger.Debug("run recorded", "run_id", run.ID, "trigger", run.Trigger)
	return nil
}

// Finish moves a running run to its terminal state.
func (l *Ledger) Finish(id string, out Outcome) (*Run, error) {
	if out.Status != StatusSucceeded && out.Status != StatusFailed {
		return nil, fmt.Errorf("invalid terminal status %q", out.Status)
	}

	var run *Run
	err := l.db.Update(func(txn *badger.Txn) error {
		r, err := get(txn, id)
		if err != nil {
			return err
		}
		if r.Terminal() {
			return fmt.Errorf("%w: %s is %s", ErrRunImmutable, id, r.Status)
		}

		finished := l.now()
		r.Status = out.Status
		r.Message = out.Message
		r.FinishedAt = &finished
		r.ProducedVersionID = out.ProducedVersionID
		r.SkippedSamples = out.SkippedSamples
		r.FinalLoss = out.FinalLoss
		r.FinalAccuracy = out.FinalAccuracy
		run = r
		return put(txn, r)
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

// Get returns one run.
func (l *Ledger) Get(id string) (*Run, error) {
	var run *Run
	err := l.db.View(func(txn *badger.Txn) error {
		r, err := get(txn, id)
		run = r
		return err
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

// List returns up to limit runs, newest first. limit <= 0 returns all.
func (l *Ledger) List(limit int) ([]*Run, error) {
	var runs []*Run

	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(runPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(runPrefix)
		for it.Seek(append([]byte(runPrefix), 0xFF)); it.ValidForPrefix(prefix); it.Next() {
			var r Run
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &r)
			}); err != nil {
				return err
			}
			runs = append(runs, &r)
			if limit > 0 && len(runs) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// Latest returns the most recently started run, or nil when the ledger is empty.
func (l *Ledger) Latest() (*Run, error) {
	runs, err := l.List(1)
	if err != nil || len(runs) == 0 {
		return nil, err
	}
	return runs[0], nil
}

// RunGC reclaims value log space until nothing is left to rewrite.
func (l *Ledger) RunGC(ratio float64) error {
	for {
		err := l.db.RunValueLogGC(ratio)
		if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrGCInMemoryMode) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to run ledger gc: %w", err)
		}
	}
}

func runKey(r *Run) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", runPrefix, r.StartedAt.UnixNano(), r.ID))
}

func idxKey(id string) []byte {
	return []byte(idxPrefix + id)
}

func put(txn *badger.Txn, r *Run) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode run: %w", err)
	}
	key := runKey(r)
	if err := txn.Set(key, data); err != nil {
		return err
	}
	return txn.Set(idxKey(r.ID), key)
}

func get(txn *badger.Txn, id string) (*Run, error) {
	item, err := txn.Get(idxKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	key, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}

	item, err = txn.Get(key)
	if err != nil {
		return nil, fmt.Errorf("run index for %s is dangling: %w", id, err)
	}

	var r Run
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &r)
	}); err != nil {
		return nil, fmt.Errorf("failed to decode run: %w", err)
	}
	return &r, nil
}
