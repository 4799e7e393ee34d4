package training

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haskel/petmood/internal/classifier"
	"github.com/haskel/petmood/internal/imageload"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// classImage returns a 3x4x4 tensor whose channel k is bright for class k.
// Class 3 is uniformly dark.
func classImage(label int, jitter float32) *imageload.Tensor {
	t := imageload.NewTensor(3, 4, 4)
	for c := 0; c < 3; c++ {
		v := float32(-1)
		if c == label {
			v = 2
		}
		if label == 3 {
			v = 0
		}
		for y := 0; y < 4; y++ {
			for x := 0; x < 4; x++ {
				t.Set(c, y, x, v+jitter)
			}
		}
	}
	return t
}

func separableSamples(perClass int) []Sample {
	var samples []Sample
	for i := 0; i < perClass; i++ {
		for label := 0; label < 4; label++ {
			samples = append(samples, Sample{
				Image: classImage(label, float32(i%3)*0.05),
				Label: label,
			})
		}
	}
	return samples
}

func fastParams() Params {
	p := DefaultParams()
	p.Epochs = 40
	p.LearningRate = 0.05
	p.BatchSize = 8
	return p
}

type fakePreflight struct {
	err   error
	panic bool
	calls int
}

func (f *fakePreflight) Check() error {
	f.calls++
	if f.panic {
		panic("boom")
	}
	return f.err
}

func TestExecutor_LearnsSeparableData(t *testing.T) {
	pre := &fakePreflight{}
	e := NewExecutor(fastParams(), pre, testLogger())
	samples := separableSamples(10)

	res, err := e.Run(context.Background(), nil, samples, RunMeta{RunID: "run-1", VersionID: "v1"})
	require.NoError(t, err)
	assert.Equal(t, 1, pre.calls)

	require.Len(t, res.Epochs, 40)
	assert.Less(t, res.FinalLoss, res.Epochs[0].Loss)
	assert.GreaterOrEqual(t, res.FinalAccuracy, 0.75)

	ckpt := res.Checkpoint
	require.NoError(t, ckpt.Validate())
	assert.Equal(t, "v1", ckpt.VersionID)
	assert.Equal(t, "run-1", ckpt.ProducedByRunID)

	require.NotNil(t, ckpt.OptimizerState)
	assert.Equal(t, 40*5, ckpt.OptimizerState.Step)

	require.NotNil(t, ckpt.RetrainInfo)
	assert.Equal(t, 40, ckpt.RetrainInfo.NumFeedbackSamples)
	assert.Equal(t, 8, ckpt.RetrainInfo.BatchSize)
	assert.InDelta(t, res.FinalLoss, ckpt.RetrainInfo.FinalLoss, 1e-12)
}

func TestExecutor_DoesNotMutateBase(t *testing.T) {
	base := classifier.NewCheckpoint(classifier.NewPretrained(classifier.DefaultArch(), 3), "v1", time.Now())
	before := append([]float64(nil), base.ModelState[classifier.ParamWeight]...)

	e := NewExecutor(fastParams(), nil, testLogger())
	res, err := e.Run(context.Background(), base, separableSamples(3), RunMeta{VersionID: "v2", BaseVersionID: "v1"})
	require.NoError(t, err)

	assert.Equal(t, before, base.ModelState[classifier.ParamWeight])
	assert.NotEqual(t, before, res.Checkpoint.ModelState[classifier.ParamWeight])
	assert.Equal(t, "v1", res.Checkpoint.RetrainInfo.BaseVersionID)
}

func TestExecutor_Deterministic(t *testing.T) {
	e := NewExecutor(fastParams(), nil, testLogger())
	samples := separableSamples(4)

	a, err := e.Run(context.Background(), nil, samples, RunMeta{VersionID: "v1"})
	require.NoError(t, err)
	b, err := e.Run(context.Background(), nil, samples, RunMeta{VersionID: "v1"})
	require.NoError(t, err)

	assert.Equal(t, a.Checkpoint.ModelState, b.Checkpoint.ModelState)
}

func TestExecutor_BatchClampedToSampleCount(t *testing.T) {
	p := fastParams()
	p.Epochs = 2
	p.BatchSize = 64
	e := NewExecutor(p, nil, testLogger())

	res, err := e.Run(context.Background(), nil, separableSamples(2), RunMeta{VersionID: "v1"})
	require.NoError(t, err)
	assert.Equal(t, 8, res.Checkpoint.RetrainInfo.BatchSize)
	assert.Equal(t, 2, res.Checkpoint.OptimizerState.Step)
}

func TestExecutor_Failures(t *testing.T) {
	ctx := context.Background()

	t.Run("insufficient data", func(t *testing.T) {
		pre := &fakePreflight{}
		e := NewExecutor(fastParams(), pre, testLogger())
		_, err := e.Run(ctx, nil, separableSamples(1), RunMeta{})
		assert.True(t, errors.Is(err, ErrInsufficientData))
		assert.Zero(t, pre.calls)
	})

	t.Run("preflight", func(t *testing.T) {
		e := NewExecutor(fastParams(), &fakePreflight{err: errors.New("disk full")}, testLogger())
		_, err := e.Run(ctx, nil, separableSamples(2), RunMeta{})
		assert.True(t, errors.Is(err, ErrTrainingFailed))
		assert.Contains(t, err.Error(), "disk full")
	})

	t.Run("panic", func(t *testing.T) {
		e := NewExecutor(fastParams(), &fakePreflight{panic: true}, testLogger())
		res, err := e.Run(ctx, nil, separableSamples(2), RunMeta{})
		assert.Nil(t, res)
		assert.True(t, errors.Is(err, ErrTrainingFailed))
	})

	t.Run("bad label", func(t *testing.T) {
		samples := separableSamples(2)
		samples[0].Label = 9
		e := NewExecutor(fastParams(), nil, testLogger())
		_, err := e.Run(ctx, nil, samples, RunMeta{})
		assert.True(t, errors.Is(err, ErrTrainingFailed))
	})

	t.Run("invalid base", func(t *testing.T) {
		e := NewExecutor(fastParams(), nil, testLogger())
		_, err := e.Run(ctx, &classifier.Checkpoint{}, separableSamples(2), RunMeta{})
		assert.True(t, errors.Is(err, ErrTrainingFailed))
	})

	t.Run("cancelled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		e := NewExecutor(fastParams(), nil, testLogger())
		_, err := e.Run(cctx, nil, separableSamples(2), RunMeta{})
		assert.True(t, errors.Is(err, ErrTrainingFailed))
		assert.True(t, errors.Is(err, context.Canceled))
	})
}

func TestParams_Validate(t *testing.T) {
	assert.NoError(t, DefaultParams().Validate())

	p := DefaultParams()
	p.Epochs = 0
	p.PlateauFactor = 1
	err := p.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "epochs")
	assert.Contains(t, err.Error(), "plateau factor")
}
