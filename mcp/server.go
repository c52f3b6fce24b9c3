// Package mcp provides an MCP (Model Context Protocol) server for kilocode.
// This lets AI agents inspect the sync daemon as a native tool.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/alpkeskin/gotoon"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ramhaidar/kilocode/daemon"
	"github.com/ramhaidar/kilocode/indexer"
)

// Server wraps the MCP server with kilocode functionality. Tools read the
// daemon's state files, so they work whether or not this process is the
// daemon itself.
type Server struct {
	mcpServer *server.MCPServer
	logDir    string
}

// SyncStatus is the output of the kilocode_sync_status tool.
type SyncStatus struct {
	Running bool              `json:"running"`
	PID     int               `json:"pid,omitempty"`
	Ready   bool              `json:"ready"`
	LogFile string            `json:"log_file,omitempty"`
	Status  *indexer.Snapshot `json:"status,omitempty"`
}

// encodeOutput encodes data in the specified format (json or toon).
func encodeOutput(data any, format string) (string, error) {
	switch format {
	case "toon":
		return gotoon.Encode(data)
	default: // "json"
		jsonBytes, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return "", err
		}
		return string(jsonBytes), nil
	}
}

// NewServer creates a new MCP server reading daemon state from logDir.
func NewServer(logDir string) (*Server, error) {
	s := &Server{
		logDir: logDir,
	}

	s.mcpServer = server.NewMCPServer(
		"kilocode",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	s.registerTools()

	return s, nil
}

// registerTools registers all kilocode tools with the MCP server.
func (s *Server) registerTools() {
	statusTool := mcp.NewTool("kilocode_sync_status",
		mcp.WithDescription("Check the health of the kilocode sync daemon. Returns whether it is running plus per-workspace state: branch, project, manifest size, upload counters, and the last error."),
		mcp.WithString("root",
			mcp.Description("Filter to one workspace root by path or directory name (optional)"),
		),
		mcp.WithString("format",
			mcp.Description("Output format: 'json' (default) or 'toon' (token-efficient)"),
		),
	)
	s.mcpServer.AddTool(statusTool, s.handleSyncStatus)

	logsTool := mcp.NewTool("kilocode_daemon_logs",
		mcp.WithDescription("Return the tail of the sync daemon's log file. Useful for diagnosing upload or git failures reported by kilocode_sync_status."),
		mcp.WithNumber("lines",
			mcp.Description("Number of trailing log lines to return (default: 50)"),
		),
	)
	s.mcpServer.AddTool(logsTool, s.handleDaemonLogs)
}

// handleSyncStatus handles the kilocode_sync_status tool call.
func (s *Server) handleSyncStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rootFilter := request.GetString("root", "")
	format := request.GetString("format", "json")

	if format != "json" && format != "toon" {
		return mcp.NewToolResultError("format must be 'json' or 'toon'"), nil
	}

	pid, err := daemon.GetRunningPID(s.logDir)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to check daemon state: %v", err)), nil
	}

	status := SyncStatus{
		Running: pid > 0,
		PID:     pid,
		Ready:   daemon.IsReady(s.logDir),
		LogFile: daemon.LogFilePath(s.logDir),
	}

	var snap indexer.Snapshot
	if err := daemon.ReadStatusFile(s.logDir, &snap); err != nil {
		if !os.IsNotExist(err) {
			return mcp.NewToolResultError(fmt.Sprintf("failed to read status file: %v", err)), nil
		}
		// No status file: the daemon has not run yet.
	} else {
		if rootFilter != "" {
			filtered := make([]indexer.RootStatus, 0, len(snap.Roots))
			for _, rs := range snap.Roots {
				if rs.Root == rootFilter || rs.Name == rootFilter {
					filtered = append(filtered, rs)
				}
			}
			snap.Roots = filtered
		}
		status.Status = &snap
	}

	output, err := encodeOutput(status, format)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode status: %v", err)), nil
	}

	return mcp.NewToolResultText(output), nil
}

// handleDaemonLogs handles the kilocode_daemon_logs tool call.
func (s *Server) handleDaemonLogs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	lines := request.GetInt("lines", 50)
	if lines <= 0 {
		lines = 50
	}

	data, err := os.ReadFile(daemon.LogFilePath(s.logDir))
	if err != nil {
		if os.IsNotExist(err) {
			return mcp.NewToolResultText("no daemon log file found"), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("failed to read log file: %v", err)), nil
	}

	return mcp.NewToolResultText(tailLines(string(data), lines)), nil
}

// tailLines returns the last n lines of text.
func tailLines(text string, n int) string {
	text = strings.TrimRight(text, "\n")
	if text == "" {
		return ""
	}
	all := strings.Split(text, "\n")
	if len(all) > n {
		all = all[len(all)-n:]
	}
	return strings.Join(all, "\n")
}

// Serve starts the MCP server using stdio transport.
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcpServer)
}
