package indexer

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestSyncError_Error(t *testing.T) {
	plain := NewSyncError(KindScan, "scan failed")
	if got := plain.Error(); got != "scan: scan failed" {
		t.Errorf("Error() = %q", got)
	}

	wrapped := WrapSyncError(KindManifest, "fetch failed", errors.New("timeout"))
	got := wrapped.Error()
	if !strings.Contains(got, "manifest") || !strings.Contains(got, "timeout") {
		t.Errorf("Error() = %q, want kind and cause", got)
	}
}

func TestSyncError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := WrapSyncError(KindFileUpsert, "upload failed", cause)

	if !errors.Is(err, cause) {
		t.Error("errors.Is() should find the wrapped cause")
	}

	// Wrapping again with fmt still unwraps to the SyncError.
	outer := fmt.Errorf("operation: %w", err)
	var se *SyncError
	if !errors.As(outer, &se) {
		t.Fatal("errors.As() should find the SyncError")
	}
	if se.Kind != KindFileUpsert {
		t.Errorf("Kind = %q, want %q", se.Kind, KindFileUpsert)
	}
}

func TestSyncError_WithContext(t *testing.T) {
	err := NewSyncError(KindFileUpsert, "upload failed").
		WithFile("src/main.go").
		WithBranch("feature/x").
		WithOperation("upsert").
		WithDetail("status", 422)

	if err.FilePath != "src/main.go" {
		t.Errorf("FilePath = %q", err.FilePath)
	}
	if err.Branch != "feature/x" {
		t.Errorf("Branch = %q", err.Branch)
	}
	if err.Operation != "upsert" {
		t.Errorf("Operation = %q", err.Operation)
	}
	if err.Details["status"] != 422 {
		t.Errorf("Details = %v", err.Details)
	}
	if err.Timestamp.IsZero() {
		t.Error("Timestamp not set")
	}
}

func TestKindOf(t *testing.T) {
	if got := KindOf(NewSyncError(KindGit, "x")); got != KindGit {
		t.Errorf("KindOf() = %q, want %q", got, KindGit)
	}
	if got := KindOf(fmt.Errorf("wrap: %w", NewSyncError(KindConfig, "x"))); got != KindConfig {
		t.Errorf("KindOf() on wrapped = %q, want %q", got, KindConfig)
	}
	if got := KindOf(errors.New("plain")); got != "" {
		t.Errorf("KindOf() on plain error = %q, want empty", got)
	}
	if got := KindOf(nil); got != "" {
		t.Errorf("KindOf(nil) = %q, want empty", got)
	}
}
