package classifier

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/goccy/go-json"
)

// CheckpointFormat is the current on-disk format revision.
const CheckpointFormat = 1

var ErrInvalidCheckpoint = errors.New("invalid checkpoint")

// RetrainInfo records how a checkpoint was produced.
type RetrainInfo struct {
	Timestamp          time.Time `json:"timestamp"`
	RunID              string    `json:"run_id,omitempty"`
	BaseVersionID      string    `json:"base_version_id,omitempty"`
	NumFeedbackSamples int       `json:"num_feedback_samples"`
	SkippedSamples     int       `json:"skipped_samples"`
	LearningRate       float64   `json:"learning_rate"`
	WeightDecay        float64   `json:"weight_decay"`
	BatchSize          int       `json:"batch_size"`
	NumEpochs          int       `json:"num_epochs"`
	FinalAccuracy      float64   `json:"final_accuracy"`
	FinalLoss          float64   `json:"final_loss"`
}

// Checkpoint is the artifact payload: weights plus metadata.
type Checkpoint struct {
	Format          int                  `json:"format"`
	VersionID       string               `json:"version_id"`
	CreatedAt       time.Time            `json:"created_at"`
	ProducedByRunID string               `json:"produced_by_run_id,omitempty"`
	Arch            Arch                 `json:"arch"`
	ModelState      map[string][]float64 `json:"model_state_dict"`
	OptimizerState  *OptimizerState      `json:"optimizer_state_dict,omitempty"`
	RetrainInfo     *RetrainInfo         `json:"retrain_info,omitempty"`
}

// NewCheckpoint snapshots m under versionID.
func NewCheckpoint(m *Model, versionID string, createdAt time.Time) *Checkpoint {
	c := m.Clone()
	return &Checkpoint{
		Format:     CheckpointFormat,
		VersionID:  versionID,
		CreatedAt:  createdAt,
		Arch:       c.Arch,
		ModelState: c.Params,
	}
}

// Validate checks that the checkpoint carries a usable weight mapping.
func (c *Checkpoint) Validate() error {
	if len(c.ModelState) == 0 {
		return fmt.Errorf("%w: empty model state", ErrInvalidCheckpoint)
	}
	for name, v := range c.ModelState {
		if len(v) == 0 {
			return fmt.Errorf("%w: empty tensor %q", ErrInvalidCheckpoint, name)
		}
	}
	if err := c.Arch.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCheckpoint, err)
	}
	m := &Model{Arch: c.Arch, Params: c.ModelState}
	if err := m.checkShapes(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCheckpoint, err)
	}
	return nil
}

// Model returns a validated copy of the checkpoint's weights.
func (c *Checkpoint) Model() (*Model, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return (&Model{Arch: c.Arch, Params: c.ModelState}).Clone(), nil
}

// Encode writes c as JSON.
func Encode(w io.Writer, c *Checkpoint) error {
	if err := json.NewEncoder(w).Encode(c); err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	return nil
}

// Decode reads a checkpoint. It does not validate the weights.
func Decode(r io.Reader) (*Checkpoint, error) {
	var c Checkpoint
	if err := json.NewDecoder(r).Decode(&c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCheckpoint, err)
	}
	if c.Format > CheckpointFormat {
		return nil, fmt.Errorf("%w: format %d is newer than supported %d", ErrInvalidCheckpoint, c.Format, CheckpointFormat)
	}
	return &c, nil
}
