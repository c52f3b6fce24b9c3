// Package daemon manages the lifecycle of the background sync process: PID
// file handling, ready markers, the status file consumed by `kilocode
// status` and the MCP server, and re-executing the binary detached.
//
// The PID file contains a single line with the process ID as a decimal
// integer. Richer state lives in the JSON status file next to it.
//
// PID file writes use file locking to prevent races when multiple processes
// attempt to start simultaneously. Platform-specific behavior lives in
// daemon_unix.go and daemon_windows.go.
package daemon

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/ramhaidar/kilocode/internal/fileutil"
)

const (
	pidFileName    = "kilocode-sync.pid"
	logFileName    = "kilocode-sync.log"
	readyFileName  = "kilocode-sync.ready"
	statusFileName = "kilocode-sync.status.json"

	// BackgroundEnv marks a process as the spawned background daemon.
	BackgroundEnv = "KILOCODE_BACKGROUND"
)

// GetDefaultLogDir returns the OS-specific state directory for PID, log,
// ready and status files.
//
//   - Linux:   $XDG_STATE_HOME/kilocode/logs or ~/.local/state/kilocode/logs
//   - macOS:   ~/Library/Logs/kilocode
//   - Windows: %LOCALAPPDATA%\kilocode\logs
//
// The directory may not exist yet; callers create it with os.MkdirAll.
func GetDefaultLogDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(homeDir, "Library", "Logs", "kilocode"), nil
	case "windows":
		if base := os.Getenv("LOCALAPPDATA"); base != "" {
			return filepath.Join(base, "kilocode", "logs"), nil
		}
		return filepath.Join(homeDir, "AppData", "Local", "kilocode", "logs"), nil
	default: // Linux and other Unix-like systems
		if base := os.Getenv("XDG_STATE_HOME"); base != "" {
			return filepath.Join(base, "kilocode", "logs"), nil
		}
		return filepath.Join(homeDir, ".local", "state", "kilocode", "logs"), nil
	}
}

// WritePIDFile writes the current process ID to the PID file. The companion
// lock file is held for the lifetime of the process and released by the OS
// on exit, so a second daemon cannot start while one is alive.
func WritePIDFile(logDir string) error {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	pidPath := filepath.Join(logDir, pidFileName)
	lockPath := pidPath + ".lock"

	lockFh, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("failed to create lock file: %w", err)
	}

	if err := fileutil.FlockExclusive(lockFh, true); err != nil {
		lockFh.Close()
		return fmt.Errorf("another kilocode sync process is starting (lock held)")
	}

	// Write PID atomically using temp file + rename
	pid := os.Getpid()
	tmpPath := pidPath + ".tmp"
	if err := os.WriteFile(tmpPath, []byte(fmt.Sprintf("%d\n", pid)), 0600); err != nil {
		lockFh.Close()
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	if err := fileutil.ReplaceFileAtomically(tmpPath, pidPath); err != nil {
		os.Remove(tmpPath)
		lockFh.Close()
		return fmt.Errorf("failed to rename PID file: %w", err)
	}

	// Keep lockFh open and locked until the process exits.
	return nil
}

// ReadPIDFile reads the process ID from the PID file.
//
//   - (0, nil):   no PID file exists
//   - (pid, nil): PID file exists and holds a valid process ID
//   - (0, error): PID file exists but is corrupt or unreadable
//
// It does not check whether the process is actually running; use
// GetRunningPID for stale-PID detection and cleanup.
func ReadPIDFile(logDir string) (int, error) {
	data, err := os.ReadFile(filepath.Join(logDir, pidFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in file: %w", err)
	}
	return pid, nil
}

// RemovePIDFile removes the PID file and its associated lock file.
func RemovePIDFile(logDir string) error {
	pidPath := filepath.Join(logDir, pidFileName)
	_ = os.Remove(pidPath + ".lock")

	if err := os.Remove(pidPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}
	return nil
}

// GetRunningPID returns the PID of the running sync daemon, or 0 when none
// is running. Stale PID files are cleaned up along the way.
func GetRunningPID(logDir string) (int, error) {
	pid, err := ReadPIDFile(logDir)
	if err != nil {
		return 0, err
	}
	if pid == 0 {
		return 0, nil
	}

	if !IsProcessRunning(pid) {
		_ = RemovePIDFile(logDir)
		return 0, nil
	}
	return pid, nil
}

// WriteReadyFile marks the daemon as fully initialized. Called once the
// orchestrator has started.
func WriteReadyFile(logDir string) error {
	readyPath := filepath.Join(logDir, readyFileName)
	content := fmt.Sprintf("ready\n%d\n", os.Getpid())
	if err := os.WriteFile(readyPath, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write ready file: %w", err)
	}
	return nil
}

// RemoveReadyFile removes the ready marker file.
func RemoveReadyFile(logDir string) error {
	readyPath := filepath.Join(logDir, readyFileName)
	if err := os.Remove(readyPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove ready file: %w", err)
	}
	return nil
}

// IsReady checks if the ready marker file exists.
func IsReady(logDir string) bool {
	_, err := os.Stat(filepath.Join(logDir, readyFileName))
	return err == nil
}

// StatusFilePath returns the path of the JSON status file.
func StatusFilePath(logDir string) string {
	return filepath.Join(logDir, statusFileName)
}

// WriteStatusFile serializes v to the status file atomically, so readers
// never observe a partial write.
func WriteStatusFile(logDir string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}

	path := StatusFilePath(logDir)
	if err := fileutil.EnsureParentDir(path); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write status file: %w", err)
	}
	if err := fileutil.ReplaceFileAtomically(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename status file: %w", err)
	}
	return nil
}

// ReadStatusFile decodes the status file into v. A missing file surfaces as
// an os.IsNotExist error for callers to translate.
func ReadStatusFile(logDir string, v any) error {
	data, err := os.ReadFile(StatusFilePath(logDir))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse status file: %w", err)
	}
	return nil
}

// RemoveStatusFile removes the status file.
func RemoveStatusFile(logDir string) error {
	if err := os.Remove(StatusFilePath(logDir)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove status file: %w", err)
	}
	return nil
}

// IsBackground reports whether this process was spawned by SpawnBackground.
func IsBackground() bool {
	return os.Getenv(BackgroundEnv) == "1"
}

// SpawnBackground re-executes the current binary as a detached background
// process with stdout/stderr redirected to the daemon log file and
// KILOCODE_BACKGROUND=1 set.
//
// Args are the command-line arguments for the child (e.g. []string{"watch"}).
// Returns the child PID and a channel closed when the child exits, so
// callers can detect early failures without relying on kill(0), which cannot
// distinguish zombie processes.
func SpawnBackground(logDir string, args []string) (int, <-chan struct{}, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return 0, nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	executable, err := os.Executable()
	if err != nil {
		return 0, nil, fmt.Errorf("failed to get executable path: %w", err)
	}

	logPath := filepath.Join(logDir, logFileName)
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to open log file: %w", err)
	}

	liveness, err := newLivenessCheck()
	if err != nil {
		logFile.Close()
		return 0, nil, err
	}

	cmd := exec.Command(executable, args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Stdin = nil
	cmd.Env = append(os.Environ(), BackgroundEnv+"=1")
	cmd.SysProcAttr = sysProcAttr()
	liveness.configureCmd(cmd)

	if err := cmd.Start(); err != nil {
		logFile.Close()
		liveness.cleanup()
		return 0, nil, fmt.Errorf("failed to start background process: %w", err)
	}

	logFile.Close()
	exitCh := liveness.start(cmd.Process.Pid)

	return cmd.Process.Pid, exitCh, nil
}

// LogFilePath returns the path of the daemon log file.
func LogFilePath(logDir string) string {
	return filepath.Join(logDir, logFileName)
}
