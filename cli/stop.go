package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ramhaidar/kilocode/daemon"
)

var stopLogDir string

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the background sync daemon",
	Long: `Stop the background sync daemon gracefully and wait for it to exit.

On Unix the daemon receives SIGINT; on Windows a stop file is placed in the
log directory, which the daemon polls for.`,
	RunE: runStop,
}

func init() {
	stopCmd.Flags().StringVar(&stopLogDir, "log-dir", "", "Directory holding the daemon's state files (default: OS-specific)")
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	logDir := stopLogDir
	if logDir == "" {
		var err error
		logDir, err = daemon.GetDefaultLogDir()
		if err != nil {
			return fmt.Errorf("failed to get default log directory: %w", err)
		}
	}

	// Get running PID (automatically cleans up stale PID files).
	pid, err := daemon.GetRunningPID(logDir)
	if err != nil {
		return fmt.Errorf("failed to read PID file: %w", err)
	}
	if pid == 0 {
		fmt.Println("No sync daemon is running")
		return nil
	}

	fmt.Printf("Stopping sync daemon (PID %d)...\n", pid)
	if err := daemon.StopProcess(pid); err != nil {
		return fmt.Errorf("failed to stop process: %w", err)
	}

	const shutdownTimeout = 30 * time.Second
	const shutdownPollInterval = 500 * time.Millisecond
	deadline := time.Now().Add(shutdownTimeout)
	lastProgress := time.Now()

	for time.Now().Before(deadline) {
		if !daemon.IsProcessRunning(pid) {
			break
		}

		if time.Since(lastProgress) >= 5*time.Second {
			fmt.Println("Waiting for graceful shutdown...")
			lastProgress = time.Now()
		}

		time.Sleep(shutdownPollInterval)
	}

	if daemon.IsProcessRunning(pid) {
		return fmt.Errorf("process did not stop within %v\nStill running? Try: kill -9 %d\nOr check logs at: %s",
			shutdownTimeout, pid, daemon.LogFilePath(logDir))
	}

	if err := daemon.RemovePIDFile(logDir); err != nil {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}

	fmt.Println("Sync daemon stopped")
	return nil
}
