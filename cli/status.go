package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/alpkeskin/gotoon"
	"github.com/spf13/cobra"

	"github.com/ramhaidar/kilocode/daemon"
	"github.com/ramhaidar/kilocode/indexer"
)

var (
	statusLogDir string
	statusFormat string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the sync daemon's state",
	Long: `Show whether the sync daemon is running and, when it is, the per-workspace
sync state it last reported: current branch, linked project, manifest size,
upload counters, and the most recent error.

The state is read from the daemon's PID and status files; no connection to
the daemon is needed.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusLogDir, "log-dir", "", "Directory holding the daemon's state files (default: OS-specific)")
	statusCmd.Flags().StringVar(&statusFormat, "format", "text", "Output format (text, json, or toon)")
	rootCmd.AddCommand(statusCmd)
}

// statusReport is the full introspection result: process liveness plus the
// last snapshot the daemon wrote.
type statusReport struct {
	Running  bool              `json:"running"`
	PID      int               `json:"pid,omitempty"`
	Ready    bool              `json:"ready"`
	LogFile  string            `json:"log_file,omitempty"`
	Snapshot *indexer.Snapshot `json:"status,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	logDir := statusLogDir
	if logDir == "" {
		var err error
		logDir, err = daemon.GetDefaultLogDir()
		if err != nil {
			return fmt.Errorf("failed to get default log directory: %w", err)
		}
	}

	report, err := collectStatus(logDir)
	if err != nil {
		return err
	}

	switch statusFormat {
	case "text", "":
		printStatusText(report, logDir)
		return nil
	case "json":
		out, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	case "toon":
		out, err := gotoon.Encode(report)
		if err != nil {
			return err
		}
		fmt.Println(out)
		return nil
	default:
		return fmt.Errorf("unknown format %q (expected text, json, or toon)", statusFormat)
	}
}

func collectStatus(logDir string) (*statusReport, error) {
	pid, err := daemon.GetRunningPID(logDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read PID file: %w", err)
	}

	report := &statusReport{
		Running: pid > 0,
		PID:     pid,
		Ready:   daemon.IsReady(logDir),
		LogFile: daemon.LogFilePath(logDir),
	}

	var snap indexer.Snapshot
	if err := daemon.ReadStatusFile(logDir, &snap); err == nil {
		report.Snapshot = &snap
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read status file: %w", err)
	}

	return report, nil
}

func printStatusText(report *statusReport, logDir string) {
	if !report.Running {
		fmt.Printf("%s not running\n", watchLabelStyle.Render("Status:"))
		fmt.Printf("%s %s\n", watchLabelStyle.Render("Log directory:"), logDir)
		return
	}

	fmt.Printf("%s %s (PID %d)\n", watchLabelStyle.Render("Status:"), watchOKStyle.Render("running"), report.PID)
	if report.Ready {
		fmt.Printf("%s yes\n", watchLabelStyle.Render("Ready:"))
	} else {
		fmt.Printf("%s no\n", watchLabelStyle.Render("Ready:"))
	}
	fmt.Printf("%s %s\n", watchLabelStyle.Render("Log file:"), report.LogFile)

	snap := report.Snapshot
	if snap == nil {
		fmt.Println("\nNo status file yet; the daemon may still be starting.")
		return
	}

	fmt.Printf("\n%s %s\n", watchLabelStyle.Render("Workspaces as of"), snap.UpdatedAt.Format(time.TimeOnly))
	if len(snap.Roots) == 0 {
		fmt.Println("  (none)")
		return
	}

	for _, root := range snap.Roots {
		marker := watchOKStyle.Render("●")
		if root.LastError != "" {
			marker = watchErrorStyle.Render("●")
		} else if !root.HasWatcher {
			marker = watchLabelStyle.Render("○")
		}

		fmt.Printf("  %s %s", marker, watchRootStyle.Render(root.Name))
		if root.GitBranch != "" {
			fmt.Printf("  %s", watchBranchStyle.Render(root.GitBranch))
		}
		if root.ProjectID != "" {
			fmt.Printf("  %s %s", watchLabelStyle.Render("project"), root.ProjectID)
		}
		fmt.Println()

		fmt.Printf("      %s", watchLabelStyle.Render("uploaded"))
		fmt.Printf(" %d", root.FilesUploaded)
		fmt.Printf("  %s", watchLabelStyle.Render("skipped"))
		fmt.Printf(" %d", root.FilesSkipped)
		if root.HasManifest {
			fmt.Printf("  %s %d files (%s)", watchLabelStyle.Render("manifest"), root.ManifestFiles, root.ManifestBranch)
		}
		fmt.Println()

		if root.LastError != "" {
			fmt.Printf("      %s\n", watchErrorStyle.Render(root.LastError))
		}
	}
}
