package runlog

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := OpenInMemory(testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestLedger_BeginFinish(t *testing.T) {
	l := newLedger(t)

	run := &Run{Trigger: TriggerManual, BaseVersionID: "v2", SampleCount: 25, Epochs: 10, LearningRate: 1e-4}
	require.NoError(t, l.Begin(run))
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, StatusRunning, run.Status)
	assert.False(t, run.StartedAt.IsZero())

	got, err := l.Get(run.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status)
	assert.Nil(t, got.FinishedAt)
	assert.Equal(t, 25, got.SampleCount)

	done, err := l.Finish(run.ID, Outcome{
		Status:            StatusSucceeded,
		ProducedVersionID: "v3",
		FinalLoss:         0.4,
		FinalAccuracy:     0.9,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, done.Status)
	require.NotNil(t, done.FinishedAt)
	assert.Equal(t, "v3", done.ProducedVersionID)

	got, err = l.Get(run.ID)
	require.NoError(t, err)
	assert.Equal(t, "v3", got.ProducedVersionID)
	assert.Equal(t, TriggerManual, got.Trigger)

	_, err = l.Finish(run.ID, Outcome{Status: StatusFailed})
	assert.True(t, errors.Is(err, ErrRunImmutable))
}

func TestLedger_Errors(t *testing.T) {
	l := newLedger(t)

	_, err := l.Get("missing")
	assert.True(t, errors.Is(err, ErrRunNotFound))

	_, err = l.Finish("missing", Outcome{Status: StatusFailed})
	assert.True(t, errors.Is(err, ErrRunNotFound))

	run := &Run{}
	require.NoError(t, l.Begin(run))
	assert.Equal(t, TriggerSchedule, run.Trigger)

	_, err = l.Finish(run.ID, Outcome{Status: StatusRunning})
	assert.Error(t, err)

	dup := &Run{ID: run.ID}
	assert.Error(t, l.Begin(dup))
}

func TestLedger_ListNewestFirst(t *testing.T) {
	l := newLedger(t)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	var ids []string
	for i := 0; i < 5; i++ {
		run := &Run{StartedAt: base.Add(time.Duration(i) * time.Minute)}
		require.NoError(t, l.Begin(run))
		ids = append(ids, run.ID)
	}

	// finishing must not change ordering
	_, err := l.Finish(ids[1], Outcome{Status: StatusFailed, Message: "boom"})
	require.NoError(t, err)

	runs, err := l.List(0)
	require.NoError(t, err)
	require.Len(t, runs, 5)
	for i, r := range runs {
		assert.Equal(t, ids[4-i], r.ID)
	}
	assert.Equal(t, StatusFailed, runs[3].Status)

	runs, err = l.List(2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, ids[4], runs[0].ID)

	latest, err := l.Latest()
	require.NoError(t, err)
	assert.Equal(t, ids[4], latest.ID)
}

func TestLedger_EmptyAndGC(t *testing.T) {
	l := newLedger(t)

	latest, err := l.Latest()
	require.NoError(t, err)
	assert.Nil(t, latest)

	assert.NoError(t, l.RunGC(0.5))
}

func TestLedger_Persistent(t *testing.T) {
	dir := t.TempDir()

	l, err := Open(dir, testLogger())
	require.NoError(t, err)
	run := &Run{Trigger: TriggerAPI}
	require.NoError(t, l.Begin(run))
	require.NoError(t, l.Close())

	l, err = Open(dir, testLogger())
	require.NoError(t, err)
	defer l.Close()

	got, err := l.Get(run.ID)
	require.NoError(t, err)
	assert.Equal(t, TriggerAPI, got.Trigger)
}

func TestGCService_StopsOnCancel(t *testing.T) {
	l := newLedger(t)
	svc := NewGCService(l, 5*time.Millisecond, testLogger())
	assert.Equal(t, "runlog-gc", svc.String())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := svc.Serve(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
