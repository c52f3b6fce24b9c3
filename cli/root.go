package cli

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ramhaidar/kilocode/logging"
)

var rootVerbose bool

var rootCmd = &cobra.Command{
	Use:   "kilocode",
	Short: "Keep a remote code index in sync with local git workspaces",
	Long: `kilocode watches git metadata in your workspaces and keeps the remote
code index up to date: committed file content is uploaded whenever the
index state changes, deduplicated against the server manifest by git
content hash.

Typical setup:
  kilocode init                 Configure your API token and organization
  kilocode link <project-id>    Link the current repository to a project
  kilocode watch --background   Start the sync daemon
  kilocode status               Inspect the running daemon`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if rootVerbose {
			logging.SetLevel(logrus.DebugLevel)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&rootVerbose, "verbose", "v", false, "Enable debug logging")
}

// Execute runs the root command. It is the single entry point used by main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
