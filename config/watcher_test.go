package config

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestWatcher_FiresOnceAfterBurstOfWrites(t *testing.T) {
	useConfigDir(t)

	var fires atomic.Int32
	fired := make(chan struct{}, 4)
	w, err := NewWatcher(func() {
		fires.Add(1)
		fired <- struct{}{}
	})
	if err != nil {
		t.Fatalf("NewWatcher() failed: %v", err)
	}
	defer w.Close()

	// A burst of writes within the debounce window coalesces into one reload.
	for i := 0; i < 3; i++ {
		if err := DefaultConfig().Save(); err != nil {
			t.Fatalf("Save() failed: %v", err)
		}
	}

	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for change callback")
	}

	time.Sleep(reloadDebounce + 300*time.Millisecond)
	if got := fires.Load(); got != 1 {
		t.Errorf("callback fired %d times for one burst, want 1", got)
	}
}

func TestWatcher_IgnoresUnrelatedFiles(t *testing.T) {
	dir := useConfigDir(t)

	fired := make(chan struct{}, 1)
	w, err := NewWatcher(func() { fired <- struct{}{} })
	if err != nil {
		t.Fatalf("NewWatcher() failed: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(filepath.Join(dir, "scratch.txt"), []byte("x"), 0644); err != nil {
		t.Fatalf("failed to write unrelated file: %v", err)
	}

	select {
	case <-fired:
		t.Fatal("callback fired for an unrelated file")
	case <-time.After(reloadDebounce + 300*time.Millisecond):
	}
}

func TestWatcher_CloseStopsPendingReload(t *testing.T) {
	useConfigDir(t)

	fired := make(chan struct{}, 1)
	w, err := NewWatcher(func() { fired <- struct{}{} })
	if err != nil {
		t.Fatalf("NewWatcher() failed: %v", err)
	}

	if err := DefaultConfig().Save(); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	w.Close()
	w.Close() // idempotent

	select {
	case <-fired:
		t.Fatal("callback fired after Close")
	case <-time.After(reloadDebounce + 300*time.Millisecond):
	}
}
