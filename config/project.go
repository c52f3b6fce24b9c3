package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	ProjectDirName  = ".kilocode"
	ProjectFileName = "config.yml"
)

// ProjectConfig links one working copy to a remote project. It lives inside
// the repository so the link is shared with everyone who clones it.
type ProjectConfig struct {
	Project ProjectSettings `yaml:"project"`
}

type ProjectSettings struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name,omitempty"`
}

func ProjectConfigPath(root string) string {
	return filepath.Join(root, ProjectDirName, ProjectFileName)
}

// LoadProjectConfig reads the project link file under root. A missing file
// returns (nil, nil): the workspace is simply not linked.
func LoadProjectConfig(root string) (*ProjectConfig, error) {
	data, err := os.ReadFile(ProjectConfigPath(root))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read project config: %w", err)
	}

	var cfg ProjectConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse project config: %w", err)
	}
	return &cfg, nil
}

func SaveProjectConfig(root string, cfg *ProjectConfig) error {
	dir := filepath.Join(root, ProjectDirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create project config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal project config: %w", err)
	}

	if err := os.WriteFile(ProjectConfigPath(root), data, 0644); err != nil {
		return fmt.Errorf("failed to write project config: %w", err)
	}
	return nil
}

// ResolveProjectID maps a workspace root to its project ID: the in-repo link
// file wins, then the projects table in the global config, keyed by
// repository URL or by workspace root. An empty result means the workspace
// is not linked to any project.
func (c *Config) ResolveProjectID(root, repoURL string) (string, error) {
	pc, err := LoadProjectConfig(root)
	if err != nil {
		return "", err
	}
	if pc != nil && pc.Project.ID != "" {
		return pc.Project.ID, nil
	}

	if repoURL != "" {
		if id, ok := c.Projects[repoURL]; ok {
			return id, nil
		}
	}
	if id, ok := c.Projects[filepath.Clean(root)]; ok {
		return id, nil
	}
	return "", nil
}
