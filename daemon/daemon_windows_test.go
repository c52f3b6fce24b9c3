//go:build windows
// +build windows

package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestStopProcess_WritesStopFile(t *testing.T) {
	// StopProcess checks IsProcessRunning first, so target our own PID.
	pid := os.Getpid()

	path, err := stopFilePath(pid)
	if err != nil {
		t.Fatalf("stopFilePath() failed: %v", err)
	}

	_ = os.Remove(path)
	defer os.Remove(path)

	if err := StopProcess(pid); err != nil {
		t.Fatalf("StopProcess() failed: %v", err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Fatalf("stop file was not created at %s", path)
	}
}

func TestStopChannel_DetectsStopFile(t *testing.T) {
	pid := os.Getpid()

	path, err := stopFilePath(pid)
	if err != nil {
		t.Fatalf("stopFilePath() failed: %v", err)
	}

	// Remove any stale file before starting the channel.
	_ = os.Remove(path)

	ch := StopChannel()

	select {
	case <-ch:
		t.Fatal("StopChannel() fired before stop file was written")
	case <-time.After(100 * time.Millisecond):
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(fmt.Sprintf("%d\n", pid)), 0600); err != nil {
		t.Fatalf("failed to write stop file: %v", err)
	}

	select {
	case <-ch:
	case <-time.After(3 * time.Second):
		t.Fatal("StopChannel() did not fire after stop file was written")
	}

	// Detection consumes the stop file.
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("stop file was not removed after detection")
	}
}

func TestStopChannel_CleansStaleFile(t *testing.T) {
	pid := os.Getpid()

	path, err := stopFilePath(pid)
	if err != nil {
		t.Fatalf("stopFilePath() failed: %v", err)
	}

	// A leftover stop file from a previous run that reused this PID must not
	// shut the daemon down at startup.
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte("stale\n"), 0600); err != nil {
		t.Fatalf("failed to write stale stop file: %v", err)
	}

	ch := StopChannel()

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("stale stop file was not cleaned up on init")
	}

	select {
	case <-ch:
		t.Fatal("StopChannel() should not fire after cleaning a stale file")
	case <-time.After(stopPollInterval + 200*time.Millisecond):
	}
}
