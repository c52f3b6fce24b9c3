package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ramhaidar/kilocode/daemon"
	"github.com/ramhaidar/kilocode/mcp"
)

var mcpServeLogDir string

var mcpServeCmd = &cobra.Command{
	Use:   "mcp-serve",
	Short: "Start kilocode as an MCP server",
	Long: `Start kilocode as an MCP (Model Context Protocol) server.

This allows AI agents to inspect the sync daemon through the MCP protocol.
The server communicates via stdio and exposes the following tools:

  - kilocode_sync_status: Sync daemon health and per-workspace state
  - kilocode_daemon_logs: Tail of the daemon's log file

The tools read the daemon's state files, so the server works whether the
daemon runs in the foreground or the background.

Configuration for Claude Code:
  claude mcp add kilocode -- kilocode mcp-serve

Configuration for Cursor (.cursor/mcp.json):
  {
    "mcpServers": {
      "kilocode": {
        "command": "kilocode",
        "args": ["mcp-serve"]
      }
    }
  }`,
	RunE: runMCPServe,
}

func init() {
	mcpServeCmd.Flags().StringVar(&mcpServeLogDir, "log-dir", "", "Directory holding the daemon's state files (default: OS-specific)")
	rootCmd.AddCommand(mcpServeCmd)
}

func runMCPServe(cmd *cobra.Command, args []string) error {
	logDir := mcpServeLogDir
	if logDir == "" {
		var err error
		logDir, err = daemon.GetDefaultLogDir()
		if err != nil {
			return fmt.Errorf("failed to get default log directory: %w", err)
		}
	}

	srv, err := mcp.NewServer(logDir)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	return srv.Serve()
}
