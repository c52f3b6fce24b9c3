package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ramhaidar/kilocode/cloud"
	"github.com/ramhaidar/kilocode/config"
	"github.com/ramhaidar/kilocode/daemon"
	"github.com/ramhaidar/kilocode/indexer"
	"github.com/ramhaidar/kilocode/logging"
)

var (
	watchBackground bool
	watchLogDir     string
	watchUI         bool
)

var (
	watchIsInteractiveTerminal = isInteractiveTerminal
	watchForegroundRunner      = runWatchForeground
	watchUIRunner              = runWatchUI
)

var watchCmd = &cobra.Command{
	Use:   "watch [root...]",
	Short: "Watch git workspaces and sync them with the remote index",
	Long: `Start the sync daemon that monitors git metadata and uploads changed
file content to the remote code index.

Workspace roots are taken from the command line arguments; when none are
given, the 'workspaces' list from the global configuration is used, and
when that is empty too, the current directory.

For each root the daemon:
- Performs an initial scan (full on the base branch, differential against
  the base branch elsewhere)
- Watches .git metadata (HEAD, refs, packed-refs) for commits, branch
  switches and ref updates
- Uploads committed content not yet present in the server manifest,
  deduplicated by git content hash

Background mode:
  kilocode watch --background            Run in background with default log directory
  kilocode watch --background --log-dir /custom/path
  kilocode status                        Check if the daemon is running
  kilocode stop                          Stop the daemon

Default log directories:
  Linux:   ~/.local/state/kilocode/logs (or $XDG_STATE_HOME)
  macOS:   ~/Library/Logs/kilocode
  Windows: %LOCALAPPDATA%\kilocode\logs

Logs are not rotated automatically; truncate or archive the log file
periodically, or set up logrotate/newsyslog for automatic rotation.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().BoolVar(&watchBackground, "background", false, "Run in background mode")
	watchCmd.Flags().StringVar(&watchLogDir, "log-dir", "", "Directory for log and state files (default: OS-specific)")
	watchCmd.Flags().BoolVar(&watchUI, "ui", false, "Render a live per-root dashboard in the terminal")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	if watchBackground && watchUI {
		return fmt.Errorf("flags --background and --ui are mutually exclusive")
	}

	logDir := watchLogDir
	if logDir == "" {
		var err error
		logDir, err = daemon.GetDefaultLogDir()
		if err != nil {
			return fmt.Errorf("failed to get default log directory: %w", err)
		}
	}

	roots := append([]string(nil), args...)

	if watchBackground {
		return startBackgroundWatch(logDir, roots)
	}

	// Check if already running (automatically cleans up stale PID files).
	pid, err := daemon.GetRunningPID(logDir)
	if err != nil {
		return fmt.Errorf("failed to check running status: %w", err)
	}
	if pid > 0 && pid != os.Getpid() {
		return fmt.Errorf("sync daemon is already running (PID %d)\nUse 'kilocode stop' to stop it", pid)
	}

	sup := &watchSupervisor{logDir: logDir, roots: roots}

	if watchUI {
		if !watchIsInteractiveTerminal() {
			return fmt.Errorf("--ui requires an interactive terminal")
		}
		return watchUIRunner(sup)
	}

	return watchForegroundRunner(sup)
}

func startBackgroundWatch(logDir string, roots []string) error {
	pid, err := daemon.GetRunningPID(logDir)
	if err != nil {
		return fmt.Errorf("failed to check running status: %w", err)
	}
	if pid > 0 {
		return fmt.Errorf("sync daemon is already running (PID %d)", pid)
	}

	// Re-run the watch command without --background. Relative roots stay
	// valid because the child inherits the working directory.
	args := []string{"watch"}
	args = append(args, roots...)
	if watchLogDir != "" {
		args = append(args, "--log-dir", watchLogDir)
	}

	childPID, exitCh, err := daemon.SpawnBackground(logDir, args)
	if err != nil {
		return fmt.Errorf("failed to start background process: %w", err)
	}

	logFile := daemon.LogFilePath(logDir)

	// Poll for the ready marker, also checking for early child exit
	// (detects failures immediately, unlike kill(0) which reports zombies
	// as alive).
	const startupTimeout = 30 * time.Second
	const pollInterval = 250 * time.Millisecond
	deadline := time.Now().Add(startupTimeout)

	for time.Now().Before(deadline) {
		if daemon.IsReady(logDir) {
			fmt.Printf("Sync daemon started (PID %d)\n", childPID)
			fmt.Printf("Logs: %s\n", logFile)
			fmt.Printf("\nUse 'kilocode status' to check status\n")
			fmt.Printf("Use 'kilocode stop' to stop the daemon\n")
			return nil
		}

		select {
		case <-exitCh:
			return fmt.Errorf("background process failed to start (check logs at %s)", logFile)
		default:
		}

		time.Sleep(pollInterval)
	}

	return fmt.Errorf("timeout waiting for daemon to become ready after %v (check logs at %s)", startupTimeout, logFile)
}

func runWatchForeground(sup *watchSupervisor) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := logging.Logger("cli")
	isBackgroundChild := daemon.IsBackground()

	if isBackgroundChild {
		if err := daemon.WritePIDFile(sup.logDir); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() {
			if err := daemon.RemoveReadyFile(sup.logDir); err != nil {
				log.WithError(err).Warn("failed to remove ready file on exit")
			}
			if err := daemon.RemoveStatusFile(sup.logDir); err != nil {
				log.WithError(err).Warn("failed to remove status file on exit")
			}
			if err := daemon.RemovePIDFile(sup.logDir); err != nil {
				log.WithError(err).Warn("failed to remove PID file on exit")
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	stopCh := daemon.StopChannel()
	go func() {
		select {
		case <-sigChan:
			if isBackgroundChild {
				log.Info("shutdown signal received")
			} else {
				fmt.Println("\nShutting down...")
			}
			cancel()
		case <-stopCh:
			log.Info("stop file detected, shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()

	var readyOnce sync.Once
	sup.onReady = func() {
		readyOnce.Do(func() {
			if isBackgroundChild {
				if err := daemon.WriteReadyFile(sup.logDir); err != nil {
					log.WithError(err).Warn("failed to write ready file")
				}
				return
			}
			fmt.Println("\nWatching for git changes... (Press Ctrl+C to stop)")
		})
	}

	if !isBackgroundChild {
		fmt.Println("Starting kilocode sync")
	} else {
		log.Info("starting kilocode sync")
	}

	return sup.Run(ctx)
}

const statusWriteInterval = 2 * time.Second

// watchSupervisor owns the orchestrator across configuration reloads. A
// config change disposes the running orchestrator and builds a fresh one
// from the re-read configuration; nothing is reconciled incrementally.
type watchSupervisor struct {
	logDir  string
	roots   []string // explicit roots; empty = config workspaces, then cwd
	onReady func()

	mu   sync.Mutex
	orch *indexer.Orchestrator
}

// Snapshot returns the current orchestrator state, or an empty snapshot
// while no orchestrator generation is running.
func (s *watchSupervisor) Snapshot() indexer.Snapshot {
	s.mu.Lock()
	orch := s.orch
	s.mu.Unlock()
	if orch == nil {
		return indexer.Snapshot{UpdatedAt: time.Now()}
	}
	return orch.Snapshot()
}

func (s *watchSupervisor) setOrchestrator(orch *indexer.Orchestrator) {
	s.mu.Lock()
	s.orch = orch
	s.mu.Unlock()
}

func (s *watchSupervisor) Run(ctx context.Context) error {
	log := logging.Logger("cli")

	reload := make(chan struct{}, 1)
	cfgWatcher, err := config.NewWatcher(func() {
		select {
		case reload <- struct{}{}:
		default:
		}
	})
	if err != nil {
		log.WithError(err).Warn("config hot reload unavailable")
	} else {
		defer cfgWatcher.Close()
	}

	for first := true; ; first = false {
		restart, err := s.runOnce(ctx, reload, first)
		if err != nil {
			return err
		}
		if !restart {
			return nil
		}
		log.Info("configuration changed, restarting sync")
	}
}

// runOnce runs one orchestrator generation until shutdown or config change.
// It returns restart=true when the caller should build a fresh generation.
func (s *watchSupervisor) runOnce(ctx context.Context, reload <-chan struct{}, first bool) (bool, error) {
	log := logging.Logger("cli")

	orch, err := s.buildOrchestrator()
	if err == nil {
		err = orch.Start(ctx)
	}
	if err != nil {
		if first {
			return false, err
		}
		// A bad reload keeps the daemon alive: stay idle until the
		// configuration changes again.
		log.WithError(err).Error("restart failed, waiting for next configuration change")
		orch = nil
	}

	s.setOrchestrator(orch)
	defer func() {
		s.setOrchestrator(nil)
		if orch != nil {
			orch.Dispose()
			orch.WaitUploads()
		}
	}()

	if orch != nil && s.onReady != nil {
		s.onReady()
	}
	s.writeStatus(orch)

	ticker := time.NewTicker(statusWriteInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false, nil
		case <-reload:
			return true, nil
		case <-ticker.C:
			s.writeStatus(orch)
		}
	}
}

func (s *watchSupervisor) buildOrchestrator() (*indexer.Orchestrator, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	roots := s.roots
	if len(roots) == 0 {
		roots = cfg.Workspaces
	}
	if len(roots) == 0 {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		roots = []string{cwd}
	}
	absRoots := make([]string, 0, len(roots))
	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve workspace root %q: %w", root, err)
		}
		absRoots = append(absRoots, abs)
	}

	var copts []cloud.Option
	if cfg.Auth.Token != "" {
		copts = append(copts, cloud.WithToken(cfg.Auth.Token))
	}
	if cfg.Auth.Endpoint != "" {
		copts = append(copts, cloud.WithEndpoint(cfg.Auth.Endpoint))
	}
	if cfg.Auth.TesterOverride {
		copts = append(copts, cloud.WithTesterOverride(true))
	}
	client, err := cloud.NewClient(copts...)
	if err != nil {
		return nil, err
	}

	return indexer.New(indexer.Options{
		Token:                cfg.Auth.Token,
		OrganizationID:       cfg.Auth.OrganizationID,
		Roots:                absRoots,
		Cloud:                client,
		ResolveProject:       cfg.ResolveProjectID,
		BaseBranch:           cfg.Sync.BaseBranch,
		Extensions:           cfg.ExtensionSet(),
		MaxFileSize:          int64(cfg.Sync.MaxFileSizeKB) * 1024,
		MaxConcurrentUploads: cfg.Sync.MaxConcurrentUploads,
		Debounce:             time.Duration(cfg.Sync.DebounceMs) * time.Millisecond,
	}), nil
}

func (s *watchSupervisor) writeStatus(orch *indexer.Orchestrator) {
	if orch == nil {
		return
	}
	if err := daemon.WriteStatusFile(s.logDir, orch.Snapshot()); err != nil {
		logging.Logger("cli").WithError(err).Debug("failed to write status file")
	}
}
