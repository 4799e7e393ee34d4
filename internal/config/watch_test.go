package config

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestWatcher_CallsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 8090\n"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	var calls atomic.Int32
	w := NewWatcher(path, func() { calls.Add(1) }, slog.New(slog.NewTextHandler(io.Discard, nil)))
	w.debounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Serve(ctx) }()

	// give the watcher time to register
	time.Sleep(50 * time.Millisecond)

	// unrelated files are ignored
	if err := os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0644); err != nil {
			t.Fatalf("failed to rewrite config: %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	if calls.Load() == 0 {
		t.Error("expected a change notification")
	}
	if w.String() != "config-watch" {
		t.Errorf("unexpected service name %s", w.String())
	}
}
