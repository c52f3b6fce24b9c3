// Package watcher converts a git working copy's on-disk state into a typed
// event stream. A GitWatcher owns one working-copy path, exposes an explicit
// scan operation with two strategies (full on the base branch, differential
// against it elsewhere), and monitors the repository's metadata files for
// branch switches and new commits.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/ramhaidar/kilocode/git"
	"github.com/ramhaidar/kilocode/logging"
)

const defaultDebounce = 500 * time.Millisecond

// GitState is the snapshot of git metadata a watcher compares against to
// detect changes. It is replaced wholesale, never partially mutated.
type GitState struct {
	Branch   string
	Commit   string
	Detached bool
}

// Option configures a GitWatcher.
type Option func(*GitWatcher)

// WithBaseBranch overrides base-branch auto-detection entirely; the detector
// is never invoked when an override is set.
func WithBaseBranch(branch string) Option {
	return func(w *GitWatcher) {
		w.baseOverride = branch
	}
}

// WithDebounce sets how long metadata events are allowed to settle before a
// change-handling cycle runs.
func WithDebounce(d time.Duration) Option {
	return func(w *GitWatcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

type handlerEntry struct {
	id int
	fn EventHandler
}

// GitWatcher watches one working copy. Construct with New, subscribe
// handlers, call Scan for an explicit pass, Start for live monitoring, and
// Dispose to release everything.
type GitWatcher struct {
	root      string // worktree root; ls-files paths are relative to it
	gitDir    string // holds HEAD
	commonDir string // holds refs/heads and packed-refs
	debounce  time.Duration
	log       *logrus.Entry

	baseOverride string
	baseMu       sync.Mutex
	baseBranch   string // cached detection result

	handlersMu sync.Mutex
	handlers   []handlerEntry
	nextID     int

	stateMu sync.Mutex
	state   GitState

	processing atomic.Bool // single-slot change-handling guard

	mu       sync.Mutex
	disposed bool
	fsw      *fsnotify.Watcher
	timer    *time.Timer
	done     chan struct{}
	runCtx   context.Context

	// git operations, swappable in tests
	currentBranch  func(string) (string, error)
	currentCommit  func(string) (string, error)
	isDetached     func(string) (bool, error)
	detectBase     func(string) (string, error)
	diffNameStatus func(string, string) (*git.ChangeSet, error)
	listTracked    func(string) ([]git.TrackedFile, error)
	listTrackedFor func(string, []string) ([]git.TrackedFile, error)
}

// New creates a watcher for the repository containing root.
func New(root string, opts ...Option) (*GitWatcher, error) {
	info, err := git.Detect(root)
	if err != nil {
		return nil, fmt.Errorf("failed to detect repository at %s: %w", root, err)
	}

	w := &GitWatcher{
		root:      info.GitRoot,
		gitDir:    info.GitDir,
		commonDir: info.GitCommonDir,
		debounce:  defaultDebounce,
		log:       logging.Logger("git-watcher").WithField("root", info.GitRoot),
		done:      make(chan struct{}),
		runCtx:    context.Background(),

		currentBranch:  git.CurrentBranch,
		currentCommit:  git.CurrentCommit,
		isDetached:     git.IsDetachedHead,
		detectBase:     git.BaseBranch,
		diffNameStatus: git.DiffNameStatus,
		listTracked:    git.ListTrackedFiles,
		listTrackedFor: git.ListTrackedFilesFor,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Root returns the worktree root the watcher operates on.
func (w *GitWatcher) Root() string {
	return w.root
}

// Subscribe registers a handler. Handlers are invoked synchronously, in
// registration order. The returned function removes the handler.
func (w *GitWatcher) Subscribe(h EventHandler) func() {
	w.handlersMu.Lock()
	defer w.handlersMu.Unlock()

	id := w.nextID
	w.nextID++
	w.handlers = append(w.handlers, handlerEntry{id: id, fn: h})

	return func() {
		w.handlersMu.Lock()
		defer w.handlersMu.Unlock()
		for i, entry := range w.handlers {
			if entry.id == id {
				w.handlers = append(w.handlers[:i], w.handlers[i+1:]...)
				break
			}
		}
	}
}

func (w *GitWatcher) emit(ev Event) {
	w.mu.Lock()
	disposed := w.disposed
	w.mu.Unlock()
	if disposed {
		return
	}

	ev.Watcher = w

	w.handlersMu.Lock()
	handlers := make([]handlerEntry, len(w.handlers))
	copy(handlers, w.handlers)
	w.handlersMu.Unlock()

	for _, entry := range handlers {
		entry.fn(ev)
	}
}

// BaseBranch returns the branch used as the diff baseline: the configured
// override when set, otherwise the detection result, resolved once and
// cached.
func (w *GitWatcher) BaseBranch() (string, error) {
	if w.baseOverride != "" {
		return w.baseOverride, nil
	}

	w.baseMu.Lock()
	defer w.baseMu.Unlock()
	if w.baseBranch != "" {
		return w.baseBranch, nil
	}

	base, err := w.detectBase(w.root)
	if err != nil {
		return "", fmt.Errorf("failed to detect base branch: %w", err)
	}
	w.baseBranch = base
	return base, nil
}

// Scan walks the working copy's git state and emits the resulting events.
// On the base branch it enumerates every tracked file; on any other branch
// it emits only the differences against the base. Detached HEAD emits
// nothing. Scan does not guard against concurrent invocation; callers
// serialize.
func (w *GitWatcher) Scan(ctx context.Context) error {
	detached, err := w.isDetached(w.root)
	if err != nil {
		return fmt.Errorf("failed to check HEAD state: %w", err)
	}
	if detached {
		w.log.Debug("detached HEAD, skipping scan")
		return nil
	}

	branch, err := w.currentBranch(w.root)
	if err != nil {
		return err
	}
	base, err := w.BaseBranch()
	if err != nil {
		return err
	}

	if strings.EqualFold(branch, base) {
		return w.fullScan(ctx, branch)
	}
	return w.diffScan(ctx, branch, base)
}

func (w *GitWatcher) fullScan(ctx context.Context, branch string) error {
	w.emit(Event{Type: EventScanStart, Branch: branch, IsBaseBranch: true})

	files, err := w.listTracked(w.root)
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		w.emit(Event{
			Type:         EventFileChanged,
			Branch:       branch,
			IsBaseBranch: true,
			FilePath:     f.Path,
			FileHash:     f.Hash,
		})
	}

	w.emit(Event{Type: EventScanEnd, Branch: branch, IsBaseBranch: true})
	w.log.WithFields(logrus.Fields{"branch": branch, "files": len(files)}).Debug("full scan complete")
	return nil
}

func (w *GitWatcher) diffScan(ctx context.Context, branch, base string) error {
	w.emit(Event{Type: EventScanStart, Branch: branch, IsBaseBranch: false})

	changes, err := w.diffNameStatus(w.root, base)
	if err != nil {
		return err
	}

	for _, p := range changes.Deleted {
		if err := ctx.Err(); err != nil {
			return err
		}
		w.emit(Event{
			Type:         EventFileDeleted,
			Branch:       branch,
			IsBaseBranch: false,
			FilePath:     p,
		})
	}

	// One batched lookup covers every added and modified path.
	toHash := append(append([]string{}, changes.Added...), changes.Modified...)
	if len(toHash) > 0 {
		files, err := w.listTrackedFor(w.root, toHash)
		if err != nil {
			return err
		}
		for _, f := range files {
			if err := ctx.Err(); err != nil {
				return err
			}
			w.emit(Event{
				Type:         EventFileChanged,
				Branch:       branch,
				IsBaseBranch: false,
				FilePath:     f.Path,
				FileHash:     f.Hash,
			})
		}
	}

	w.emit(Event{Type: EventScanEnd, Branch: branch, IsBaseBranch: false})
	w.log.WithFields(logrus.Fields{
		"branch":   branch,
		"base":     base,
		"added":    len(changes.Added),
		"modified": len(changes.Modified),
		"deleted":  len(changes.Deleted),
	}).Debug("differential scan complete")
	return nil
}

// Start captures the initial git state (skipped when detached) and installs
// metadata watches on HEAD, the refs/heads tree, and packed-refs. Individual
// watch failures are logged and do not abort the others.
func (w *GitWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.disposed {
		w.mu.Unlock()
		return fmt.Errorf("watcher is disposed")
	}
	w.mu.Unlock()

	detached, err := w.isDetached(w.root)
	if err != nil {
		return fmt.Errorf("failed to check HEAD state: %w", err)
	}
	if !detached {
		branch, err := w.currentBranch(w.root)
		if err != nil {
			return err
		}
		commit, err := w.currentCommit(w.root)
		if err != nil {
			return err
		}
		w.setState(GitState{Branch: branch, Commit: commit})
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create metadata watcher: %w", err)
	}

	// HEAD is replaced by rename, so the directory holding it is watched
	// rather than the file itself.
	if err := fsw.Add(w.gitDir); err != nil {
		w.log.WithError(err).Warn("failed to watch git dir")
	}
	if w.commonDir != w.gitDir {
		if err := fsw.Add(w.commonDir); err != nil {
			w.log.WithError(err).Warn("failed to watch git common dir")
		}
	}
	w.addRefDirs(fsw, w.refsDir())

	w.mu.Lock()
	if w.disposed {
		w.mu.Unlock()
		fsw.Close()
		return fmt.Errorf("watcher is disposed")
	}
	w.fsw = fsw
	w.runCtx = ctx
	w.mu.Unlock()

	go w.loop(ctx, fsw)
	return nil
}

func (w *GitWatcher) refsDir() string {
	return filepath.Join(w.commonDir, "refs", "heads")
}

// addRefDirs watches dir and every subdirectory beneath it. Branch names
// containing slashes create nested directories under refs/heads, so new
// directories are also added as they appear.
func (w *GitWatcher) addRefDirs(fsw *fsnotify.Watcher, dir string) {
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // skip inaccessible paths
		}
		if info.IsDir() {
			if err := fsw.Add(path); err != nil {
				w.log.WithError(err).WithField("path", path).Warn("failed to watch refs dir")
			}
		}
		return nil
	})
	if err != nil {
		w.log.WithError(err).WithField("path", dir).Warn("failed to walk refs dir")
	}
}

func (w *GitWatcher) loop(ctx context.Context, fsw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handleFsEvent(fsw, event)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Warn("metadata watch error")
		}
	}
}

func (w *GitWatcher) handleFsEvent(fsw *fsnotify.Watcher, event fsnotify.Event) {
	name := filepath.Clean(event.Name)
	base := filepath.Base(name)
	if strings.HasSuffix(base, ".lock") {
		return
	}

	refs := w.refsDir()
	switch {
	case name == filepath.Join(w.gitDir, "HEAD"):
	case name == filepath.Join(w.commonDir, "packed-refs"):
	case name == refs || strings.HasPrefix(name, refs+string(filepath.Separator)):
		if event.Has(fsnotify.Create) {
			if info, err := os.Stat(name); err == nil && info.IsDir() {
				w.addRefDirs(fsw, name)
			}
		}
	default:
		return
	}

	w.scheduleChange()
}

// scheduleChange arms (or re-arms) the debounce timer so a burst of metadata
// writes results in one change-handling cycle.
func (w *GitWatcher) scheduleChange() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.disposed {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.handleChange)
}

// handleChange re-resolves the git state and reacts to what changed. At most
// one cycle runs at a time; triggers arriving mid-cycle are dropped and the
// next filesystem event reconciles.
func (w *GitWatcher) handleChange() {
	w.mu.Lock()
	if w.disposed {
		w.mu.Unlock()
		return
	}
	ctx := w.runCtx
	w.mu.Unlock()

	if !w.processing.CompareAndSwap(false, true) {
		w.log.Debug("change handling already in progress, coalescing")
		return
	}
	defer w.processing.Store(false)

	detached, err := w.isDetached(w.root)
	if err != nil {
		w.log.WithError(err).Warn("failed to resolve HEAD state on change")
		return
	}
	if detached {
		w.setState(GitState{})
		w.log.Debug("detached HEAD, suspending monitoring until a branch is checked out")
		return
	}

	branch, err := w.currentBranch(w.root)
	if err != nil {
		w.log.WithError(err).Warn("failed to resolve branch on change")
		return
	}
	commit, err := w.currentCommit(w.root)
	if err != nil {
		w.log.WithError(err).Warn("failed to resolve commit on change")
		return
	}

	prev := w.getState()
	changed := prev.Branch != branch || prev.Commit != commit

	if prev.Branch != "" && prev.Branch != branch {
		base, err := w.BaseBranch()
		if err != nil {
			w.log.WithError(err).Warn("failed to resolve base branch on branch change")
		} else {
			w.emit(Event{
				Type:           EventBranchChanged,
				Branch:         branch,
				IsBaseBranch:   strings.EqualFold(branch, base),
				PreviousBranch: prev.Branch,
				NewBranch:      branch,
			})
		}
	}

	if changed {
		if err := w.Scan(ctx); err != nil {
			w.log.WithError(err).Error("rescan after git state change failed")
		}
	}

	// Replace the snapshot even when nothing changed, so the next cycle
	// compares against the latest observed state.
	w.setState(GitState{Branch: branch, Commit: commit})
}

func (w *GitWatcher) getState() GitState {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()
	return w.state
}

func (w *GitWatcher) setState(s GitState) {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()
	w.state = s
}

// Dispose unsubscribes all handlers and releases all watches. Safe to call
// multiple times.
func (w *GitWatcher) Dispose() {
	w.mu.Lock()
	if w.disposed {
		w.mu.Unlock()
		return
	}
	w.disposed = true
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	fsw := w.fsw
	w.fsw = nil
	close(w.done)
	w.mu.Unlock()

	if fsw != nil {
		if err := fsw.Close(); err != nil {
			w.log.WithError(err).Debug("failed to close metadata watcher")
		}
	}

	w.handlersMu.Lock()
	w.handlers = nil
	w.handlersMu.Unlock()
}
