// Package indexer keeps a remote code index synchronized with local git
// working copies. The Orchestrator owns one GitWatcher per workspace root,
// reconciles file events against the remote manifest, and drives uploads
// through a shared bounded-concurrency limiter.
package indexer

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/ramhaidar/kilocode/cloud"
	"github.com/ramhaidar/kilocode/git"
	"github.com/ramhaidar/kilocode/logging"
	"github.com/ramhaidar/kilocode/watcher"
)

const defaultMaxConcurrentUploads = 10

// ProjectResolver maps a workspace root and its repository URL to a remote
// project id. Empty id with nil error means the workspace is not linked.
type ProjectResolver func(root, repoURL string) (string, error)

// Options configures an Orchestrator.
type Options struct {
	Token                string
	OrganizationID       string
	Roots                []string
	Cloud                cloud.Service
	ResolveProject       ProjectResolver
	BaseBranch           string          // override for every root; empty = auto-detect
	Extensions           map[string]bool // allowed extensions; empty allows all
	MaxFileSize          int64           // bytes; 0 = unlimited
	MaxConcurrentUploads int
	Debounce             time.Duration
}

// rootState tracks one workspace root. Mutations happen only under the
// orchestrator mutex; filter and repoRoot are immutable after setup.
type rootState struct {
	root          string
	name          string
	repoRoot      string
	gitBranch     string
	baseBranch    string
	repositoryURL string
	projectID     string

	watcher     *watcher.GitWatcher
	unsubscribe func()
	filter      *SyncFilter

	manifest       *cloud.ServerManifest
	manifestIndex  map[string]string
	manifestBranch string

	isIndexing    bool
	filesUploaded int64
	filesSkipped  int64
	lastError     *SyncError
}

// Orchestrator fans out watchers across workspace roots and schedules
// uploads. Construct with New, then Start; Dispose tears everything down.
type Orchestrator struct {
	opts  Options
	cloud cloud.Service
	log   *logrus.Entry

	mu        sync.Mutex
	active    bool
	org       *cloud.Organization
	roots     map[string]*rootState
	byWatcher map[*watcher.GitWatcher]*rootState
	startedAt time.Time
	runCtx    context.Context

	manifests singleflight.Group
	sem       *semaphore.Weighted
	uploads   sync.WaitGroup

	// git and watcher operations, swappable in tests
	isGitRepo     func(string) bool
	currentBranch func(string) (string, error)
	remoteURL     func(string) (string, error)
	newWatcher    func(string, ...watcher.Option) (*watcher.GitWatcher, error)
	readFile      func(string) ([]byte, error)
}

func New(opts Options) *Orchestrator {
	if opts.MaxConcurrentUploads <= 0 {
		opts.MaxConcurrentUploads = defaultMaxConcurrentUploads
	}
	return &Orchestrator{
		opts:      opts,
		cloud:     opts.Cloud,
		log:       logging.Logger("indexer"),
		roots:     make(map[string]*rootState),
		byWatcher: make(map[*watcher.GitWatcher]*rootState),
		runCtx:    context.Background(),
		sem:       semaphore.NewWeighted(int64(opts.MaxConcurrentUploads)),

		isGitRepo:     git.IsGitRepo,
		currentBranch: git.CurrentBranch,
		remoteURL:     git.RemoteURL,
		newWatcher:    watcher.New,
		readFile:      os.ReadFile,
	}
}

// Start gates on the account configuration and the organization's indexing
// feature, then builds every root independently: a failure in one root is
// recorded on that root's state and never aborts the others.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.active {
		o.mu.Unlock()
		return NewSyncError(KindSetup, "orchestrator already started")
	}
	o.mu.Unlock()

	if o.opts.Token == "" {
		return NewSyncError(KindConfig, "api token is not configured")
	}
	if o.opts.OrganizationID == "" {
		return NewSyncError(KindConfig, "organization id is not configured")
	}
	if o.cloud == nil {
		return NewSyncError(KindConfig, "no api client configured")
	}

	org, err := o.cloud.FetchOrganization(ctx, o.opts.OrganizationID)
	if err != nil {
		return WrapSyncError(KindConfig, "failed to resolve organization", err)
	}
	if !org.CodeIndexingEnabled() {
		return NewSyncError(KindConfig, "code indexing is not enabled for this organization").
			WithDetail("organizationId", o.opts.OrganizationID)
	}

	o.mu.Lock()
	o.active = true
	o.org = org
	o.startedAt = time.Now()
	o.runCtx = ctx
	o.mu.Unlock()

	// Build all roots before any watcher starts delivering events. Workers
	// return nil unconditionally: per-root failures live on root state.
	states := make([]*rootState, len(o.opts.Roots))
	var eg errgroup.Group
	for i, root := range o.opts.Roots {
		i, root := i, root
		eg.Go(func() error {
			states[i] = o.setupRoot(ctx, root)
			return nil
		})
	}
	eg.Wait()

	o.mu.Lock()
	for _, st := range states {
		if st == nil {
			continue
		}
		o.roots[st.root] = st
		if st.watcher != nil {
			o.byWatcher[st.watcher] = st
		}
	}
	o.mu.Unlock()

	for _, st := range states {
		if st == nil || st.watcher == nil {
			continue
		}
		unsubscribe := st.watcher.Subscribe(o.handleEvent)
		o.mu.Lock()
		st.unsubscribe = unsubscribe
		o.mu.Unlock()

		if err := st.watcher.Scan(ctx); err != nil {
			o.setRootError(st, WrapSyncError(KindScan, "initial scan failed", err).WithBranch(st.gitBranch))
		}
		if err := st.watcher.Start(ctx); err != nil {
			o.setRootError(st, WrapSyncError(KindScan, "failed to start git monitoring", err))
		}
	}

	o.log.WithField("roots", len(o.opts.Roots)).Info("indexing orchestrator started")
	return nil
}

// setupRoot builds the state for one root up to the furthest stage it can
// reach. A nil return means the root is deliberately skipped.
func (o *Orchestrator) setupRoot(ctx context.Context, root string) *rootState {
	log := o.log.WithField("root", root)

	if !o.isGitRepo(root) {
		log.Debug("not a git repository, skipping")
		return nil
	}

	st := &rootState{root: root, name: filepath.Base(root)}

	branch, err := o.currentBranch(root)
	if err != nil {
		st.lastError = WrapSyncError(KindGit, "failed to resolve git branch", err)
		log.WithError(err).Warn("root setup stopped at git resolution")
		return st
	}
	st.gitBranch = branch

	repoURL, err := o.remoteURL(root)
	if err != nil {
		st.lastError = WrapSyncError(KindGit, "failed to resolve repository url", err)
		log.WithError(err).Warn("root setup stopped at git resolution")
		return st
	}
	st.repositoryURL = repoURL

	projectID, err := o.resolveProject(root, repoURL)
	if err != nil {
		st.lastError = WrapSyncError(KindConfig, "failed to resolve project id", err)
		return st
	}
	if projectID == "" {
		log.Debug("no project configured, skipping")
		return nil
	}
	st.projectID = projectID

	manifest, err := o.cloud.GetServerManifest(ctx, o.opts.OrganizationID, projectID, branch)
	if err != nil {
		st.lastError = WrapSyncError(KindManifest, "failed to fetch manifest", err).WithBranch(branch)
		log.WithError(err).Warn("root setup stopped at manifest fetch")
		return st
	}
	st.manifest = manifest
	st.manifestIndex = manifest.Index()
	st.manifestBranch = branch

	wopts := []watcher.Option{watcher.WithDebounce(o.opts.Debounce)}
	if o.opts.BaseBranch != "" {
		wopts = append(wopts, watcher.WithBaseBranch(o.opts.BaseBranch))
	}
	w, err := o.newWatcher(root, wopts...)
	if err != nil {
		st.lastError = WrapSyncError(KindScan, "failed to construct git watcher", err)
		log.WithError(err).Warn("root setup stopped at watcher construction")
		return st
	}
	st.watcher = w
	st.repoRoot = w.Root()
	st.filter = NewSyncFilter(st.repoRoot, o.opts.Extensions, o.opts.MaxFileSize)
	if base, err := w.BaseBranch(); err == nil {
		st.baseBranch = base
	}

	log.WithFields(logrus.Fields{"branch": branch, "project": projectID}).Info("workspace root ready")
	return st
}

func (o *Orchestrator) resolveProject(root, repoURL string) (string, error) {
	if o.opts.ResolveProject == nil {
		return "", nil
	}
	return o.opts.ResolveProject(root, repoURL)
}

// handleEvent is the single sink for every watcher event. Root state is
// looked up by watcher identity; events from unknown watchers are ignored.
func (o *Orchestrator) handleEvent(ev watcher.Event) {
	o.mu.Lock()
	if !o.active {
		o.mu.Unlock()
		return
	}
	st := o.byWatcher[ev.Watcher]
	if st == nil {
		o.mu.Unlock()
		o.log.Warn("event from unknown watcher, ignoring")
		return
	}

	switch ev.Type {
	case watcher.EventScanStart:
		st.isIndexing = true
		st.lastError = nil
		st.gitBranch = ev.Branch
		o.mu.Unlock()

	case watcher.EventScanEnd:
		st.isIndexing = false
		o.mu.Unlock()

	case watcher.EventFileDeleted:
		root := st.root
		o.mu.Unlock()
		// Deletions are not propagated to the remote index.
		o.log.WithFields(logrus.Fields{
			"root":   root,
			"path":   ev.FilePath,
			"branch": ev.Branch,
		}).Info("file deleted on branch, remote index left as-is")

	case watcher.EventBranchChanged:
		st.gitBranch = ev.NewBranch
		o.mu.Unlock()
		if _, err := o.manifestForBranch(st, ev.NewBranch); err != nil {
			o.log.WithError(err).WithFields(logrus.Fields{
				"root":   st.root,
				"branch": ev.NewBranch,
			}).Warn("manifest refresh after branch change failed")
		}

	case watcher.EventFileChanged:
		o.mu.Unlock()
		o.handleFileChanged(st, ev)

	default:
		o.mu.Unlock()
	}
}

func (o *Orchestrator) handleFileChanged(st *rootState, ev watcher.Event) {
	log := o.log.WithFields(logrus.Fields{"root": st.root, "path": ev.FilePath})

	if !st.filter.Allows(ev.FilePath) {
		o.mu.Lock()
		st.filesSkipped++
		o.mu.Unlock()
		log.Debug("file excluded from sync")
		return
	}

	idx, err := o.manifestForBranch(st, ev.Branch)
	if err != nil {
		log.WithError(err).Warn("skipping file, manifest unavailable")
		return
	}

	if hash, ok := idx[ev.FilePath]; ok && hash == ev.FileHash {
		o.mu.Lock()
		st.filesSkipped++
		o.mu.Unlock()
		log.Debug("file already indexed")
		return
	}

	o.scheduleUpload(st, ev)
}

// manifestForBranch returns the path→hash index for the root on one exact
// branch. The cached manifest is used only when it was fetched for that same
// branch; otherwise concurrent callers share a single fetch per
// (root, branch), and the project id is re-resolved on every fetch since the
// repository mapping may have changed between scans.
func (o *Orchestrator) manifestForBranch(st *rootState, branch string) (map[string]string, error) {
	o.mu.Lock()
	if st.manifest != nil && st.manifestBranch == branch {
		idx := st.manifestIndex
		o.mu.Unlock()
		return idx, nil
	}
	root := st.root
	repoURL := st.repositoryURL
	ctx := o.runCtx
	o.mu.Unlock()

	key := root + "\x00" + branch
	v, err, _ := o.manifests.Do(key, func() (any, error) {
		projectID, err := o.resolveProject(root, repoURL)
		if err != nil {
			return nil, WrapSyncError(KindConfig, "failed to resolve project id", err)
		}
		if projectID == "" {
			return nil, NewSyncError(KindConfig, "workspace is not linked to a project")
		}

		manifest, err := o.cloud.GetServerManifest(ctx, o.opts.OrganizationID, projectID, branch)
		if err != nil {
			serr := WrapSyncError(KindManifest, "failed to fetch manifest", err).WithBranch(branch)
			o.setRootError(st, serr)
			return nil, serr
		}

		idx := manifest.Index()
		o.mu.Lock()
		if cur, ok := o.roots[root]; ok && cur == st {
			st.manifest = manifest
			st.manifestIndex = idx
			st.manifestBranch = branch
			st.projectID = projectID
			if st.lastError != nil && st.lastError.Kind == KindManifest {
				st.lastError = nil
			}
		}
		o.mu.Unlock()
		return idx, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]string), nil
}

func (o *Orchestrator) scheduleUpload(st *rootState, ev watcher.Event) {
	o.mu.Lock()
	if !o.active {
		o.mu.Unlock()
		return
	}
	projectID := st.projectID
	repoRoot := st.repoRoot
	ctx := o.runCtx
	o.mu.Unlock()

	o.uploads.Add(1)
	go func() {
		defer o.uploads.Done()
		if err := o.sem.Acquire(ctx, 1); err != nil {
			return
		}
		defer o.sem.Release(1)
		o.uploadFile(ctx, st, projectID, repoRoot, ev)
	}()
}

func (o *Orchestrator) uploadFile(ctx context.Context, st *rootState, projectID, repoRoot string, ev watcher.Event) {
	log := o.log.WithFields(logrus.Fields{"root": st.root, "path": ev.FilePath, "branch": ev.Branch})
	abs := filepath.Join(repoRoot, filepath.FromSlash(ev.FilePath))

	if max := st.filter.MaxFileSize(); max > 0 {
		if info, err := os.Stat(abs); err == nil && info.Size() > max {
			o.mu.Lock()
			st.filesSkipped++
			o.mu.Unlock()
			log.WithField("size", info.Size()).Debug("file exceeds size cap, skipping")
			return
		}
	}

	data, err := o.readFile(abs)
	if err != nil {
		o.recordUploadError(st, ev, "read", err)
		return
	}

	req := cloud.UpsertFileRequest{
		FileHash:     ev.FileHash,
		FilePath:     ev.FilePath,
		GitBranch:    ev.Branch,
		IsBaseBranch: ev.IsBaseBranch,
		Content:      base64.StdEncoding.EncodeToString(data),
	}
	if err := o.cloud.UpsertFile(ctx, o.opts.OrganizationID, projectID, req); err != nil {
		o.recordUploadError(st, ev, "upsert", err)
		return
	}

	o.mu.Lock()
	st.filesUploaded++
	if st.lastError != nil && st.lastError.Kind == KindFileUpsert {
		st.lastError = nil
	}
	o.mu.Unlock()
	log.Debug("file uploaded")
}

func (o *Orchestrator) recordUploadError(st *rootState, ev watcher.Event, op string, err error) {
	serr := WrapSyncError(KindFileUpsert, "failed to upload file", err).
		WithFile(ev.FilePath).
		WithBranch(ev.Branch).
		WithOperation(op)
	o.setRootError(st, serr)
	o.log.WithError(err).WithFields(logrus.Fields{
		"root": st.root,
		"path": ev.FilePath,
	}).Error("file upload failed")
}

func (o *Orchestrator) setRootError(st *rootState, serr *SyncError) {
	o.mu.Lock()
	st.lastError = serr
	o.mu.Unlock()
}

// WaitUploads blocks until every scheduled upload has settled.
func (o *Orchestrator) WaitUploads() {
	o.uploads.Wait()
}

// Snapshot returns a copy of the orchestrator's observable state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	snap := Snapshot{
		Active:          o.active,
		OrganizationID:  o.opts.OrganizationID,
		IndexingEnabled: o.org.CodeIndexingEnabled(),
		StartedAt:       o.startedAt,
		UpdatedAt:       time.Now(),
		Roots:           make([]RootStatus, 0, len(o.roots)),
	}

	for _, st := range o.roots {
		rs := RootStatus{
			Root:           st.root,
			Name:           st.name,
			GitBranch:      st.gitBranch,
			BaseBranch:     st.baseBranch,
			ProjectID:      st.projectID,
			RepositoryURL:  st.repositoryURL,
			IsIndexing:     st.isIndexing,
			HasWatcher:     st.watcher != nil,
			HasManifest:    st.manifest != nil,
			ManifestBranch: st.manifestBranch,
			FilesUploaded:  st.filesUploaded,
			FilesSkipped:   st.filesSkipped,
		}
		if st.manifest != nil {
			rs.ManifestFiles = len(st.manifest.Files)
		}
		if st.lastError != nil {
			rs.LastError = st.lastError.Error()
			rs.LastErrorKind = string(st.lastError.Kind)
			ts := st.lastError.Timestamp
			rs.LastErrorAt = &ts
		}
		snap.Roots = append(snap.Roots, rs)
	}
	sort.Slice(snap.Roots, func(i, j int) bool { return snap.Roots[i].Root < snap.Roots[j].Root })
	return snap
}

// Dispose unsubscribes and disposes every watcher and clears all per-root
// state. Events delivered afterwards are no-ops; in-flight uploads and
// fetches run to completion and their results are discarded. Idempotent.
func (o *Orchestrator) Dispose() {
	o.mu.Lock()
	if !o.active {
		o.mu.Unlock()
		return
	}
	o.active = false
	states := make([]*rootState, 0, len(o.roots))
	for _, st := range o.roots {
		states = append(states, st)
	}
	o.roots = make(map[string]*rootState)
	o.byWatcher = make(map[*watcher.GitWatcher]*rootState)
	o.mu.Unlock()

	for _, st := range states {
		if st.unsubscribe != nil {
			st.unsubscribe()
		}
		if st.watcher != nil {
			st.watcher.Dispose()
		}
	}
	o.log.Info("indexing orchestrator disposed")
}
