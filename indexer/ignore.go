package indexer

import (
	"os"
	"path/filepath"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"

	"github.com/ramhaidar/kilocode/logging"
)

// IgnoreFileName is the per-repository exclusion file. Paths listed there are
// never uploaded even though git tracks them.
const IgnoreFileName = ".kilocodeignore"

// SyncFilter decides which tracked files are eligible for upload: the
// extension allow-list, the repository's ignore file, and the size cap.
// A filter is immutable after construction.
type SyncFilter struct {
	matcher     *ignore.GitIgnore // nil when the repository has no ignore file
	extensions  map[string]bool   // empty allows every extension
	maxFileSize int64             // bytes; 0 = unlimited
}

func NewSyncFilter(repoRoot string, extensions map[string]bool, maxFileSize int64) *SyncFilter {
	f := &SyncFilter{
		extensions:  extensions,
		maxFileSize: maxFileSize,
	}

	path := filepath.Join(repoRoot, IgnoreFileName)
	if _, err := os.Stat(path); err == nil {
		matcher, err := ignore.CompileIgnoreFile(path)
		if err != nil {
			logging.Logger("indexer").WithError(err).WithField("path", path).Warn("failed to parse ignore file")
		} else {
			f.matcher = matcher
		}
	}
	return f
}

// Allows reports whether a repository-relative path is eligible for sync.
func (f *SyncFilter) Allows(relPath string) bool {
	if len(f.extensions) > 0 {
		if !f.extensions[strings.ToLower(filepath.Ext(relPath))] {
			return false
		}
	}
	if f.matcher != nil && f.matcher.MatchesPath(relPath) {
		return false
	}
	return true
}

// MaxFileSize returns the upload size cap in bytes, 0 meaning unlimited.
func (f *SyncFilter) MaxFileSize() int64 {
	return f.maxFileSize
}
