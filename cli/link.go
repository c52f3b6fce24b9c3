package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ramhaidar/kilocode/config"
	"github.com/ramhaidar/kilocode/git"
)

var (
	linkName   string
	linkGlobal bool
)

var linkCmd = &cobra.Command{
	Use:   "link <project-id>",
	Short: "Link the current repository to a remote project",
	Long: `Link the git repository containing the current directory to a remote
project. Linked repositories are picked up by the sync daemon; unlinked
ones are skipped.

By default the mapping is written to .kilocode/config.yml at the
repository root, so it can be committed and shared with the team. With
--global the mapping is stored in the global configuration instead, keyed
by the repository's origin URL.`,
	Args: cobra.ExactArgs(1),
	RunE: runLink,
}

func init() {
	linkCmd.Flags().StringVar(&linkName, "name", "", "Project display name stored alongside the id")
	linkCmd.Flags().BoolVar(&linkGlobal, "global", false, "Store the mapping in the global config, keyed by origin URL")
	rootCmd.AddCommand(linkCmd)
}

func runLink(cmd *cobra.Command, args []string) error {
	projectID := args[0]

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
	}

	info, err := git.Detect(cwd)
	if err != nil {
		return fmt.Errorf("not inside a git repository: %w", err)
	}

	if linkGlobal {
		repoURL, err := git.RemoteURL(info.GitRoot)
		if err != nil {
			return fmt.Errorf("failed to resolve the repository's origin URL: %w", err)
		}

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if cfg.Projects == nil {
			cfg.Projects = make(map[string]string)
		}
		cfg.Projects[repoURL] = projectID
		if err := cfg.Save(); err != nil {
			return fmt.Errorf("failed to save configuration: %w", err)
		}

		fmt.Printf("Linked %s to project %s (global config)\n", repoURL, projectID)
		return nil
	}

	pcfg := &config.ProjectConfig{}
	pcfg.Project.ID = projectID
	pcfg.Project.Name = linkName
	if err := config.SaveProjectConfig(info.GitRoot, pcfg); err != nil {
		return fmt.Errorf("failed to write project config: %w", err)
	}

	fmt.Printf("Linked %s to project %s\n", info.GitRoot, projectID)
	fmt.Printf("Wrote %s\n", config.ProjectConfigPath(info.GitRoot))
	fmt.Println("\nCommit this file to share the link with your team.")
	return nil
}
