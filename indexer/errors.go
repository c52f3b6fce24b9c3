package indexer

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies sync failures for dispatch and display.
type ErrorKind string

const (
	KindSetup      ErrorKind = "setup"
	KindScan       ErrorKind = "scan"
	KindFileUpsert ErrorKind = "file-upsert"
	KindGit        ErrorKind = "git"
	KindManifest   ErrorKind = "manifest"
	KindConfig     ErrorKind = "config"
)

// SyncError is the error recorded on per-root state and returned from
// orchestrator operations. Context fields are optional and filled through
// the With* helpers.
type SyncError struct {
	Kind      ErrorKind
	Message   string
	Timestamp time.Time
	FilePath  string
	Branch    string
	Operation string
	Details   map[string]any
	Cause     error
}

func NewSyncError(kind ErrorKind, message string) *SyncError {
	return &SyncError{
		Kind:      kind,
		Message:   message,
		Timestamp: time.Now(),
	}
}

func WrapSyncError(kind ErrorKind, message string, cause error) *SyncError {
	e := NewSyncError(kind, message)
	e.Cause = cause
	return e
}

func (e *SyncError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *SyncError) Unwrap() error {
	return e.Cause
}

func (e *SyncError) WithFile(path string) *SyncError {
	e.FilePath = path
	return e
}

func (e *SyncError) WithBranch(branch string) *SyncError {
	e.Branch = branch
	return e
}

func (e *SyncError) WithOperation(op string) *SyncError {
	e.Operation = op
	return e
}

func (e *SyncError) WithDetail(key string, value any) *SyncError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// KindOf returns the kind of err when it is, or wraps, a SyncError; ""
// otherwise.
func KindOf(err error) ErrorKind {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}
