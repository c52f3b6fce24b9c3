// Package config holds the user-level configuration for the sync engine: the
// global file under ~/.kilocode/ with credentials, sync tuning, and the
// workspace list, plus per-project files linking a working copy to a remote
// project.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	GlobalDirName  = ".kilocode"
	ConfigFileName = "config.yaml"
)

type Config struct {
	Version    int               `yaml:"version"`
	Auth       AuthConfig        `yaml:"auth"`
	Sync       SyncConfig        `yaml:"sync"`
	Workspaces []string          `yaml:"workspaces,omitempty"`
	Projects   map[string]string `yaml:"projects,omitempty"` // repository URL or workspace root -> project ID
}

type AuthConfig struct {
	Token          string `yaml:"token,omitempty"`
	OrganizationID string `yaml:"organization_id,omitempty"`
	Endpoint       string `yaml:"endpoint,omitempty"`
	TesterOverride bool   `yaml:"tester_override,omitempty"`
}

type SyncConfig struct {
	BaseBranch           string   `yaml:"base_branch,omitempty"` // empty = auto-detect per repository
	Extensions           []string `yaml:"extensions"`
	MaxConcurrentUploads int      `yaml:"max_concurrent_uploads"`
	DebounceMs           int      `yaml:"debounce_ms"`
	MaxFileSizeKB        int      `yaml:"max_file_size_kb"`
}

func DefaultConfig() *Config {
	return &Config{
		Version: 1,
		Sync: SyncConfig{
			Extensions: []string{
				".go", ".js", ".ts", ".jsx", ".tsx", ".mjs", ".cjs",
				".py", ".rb", ".php", ".java", ".kt", ".scala", ".swift",
				".c", ".h", ".cpp", ".hpp", ".cc", ".cxx", ".cs",
				".rs", ".zig", ".lua", ".sh", ".bash",
				".html", ".css", ".scss", ".vue", ".svelte",
				".json", ".yaml", ".yml", ".toml", ".xml",
				".md", ".sql", ".proto", ".graphql", ".tf",
			},
			MaxConcurrentUploads: 10,
			DebounceMs:           500,
			MaxFileSizeKB:        1024,
		},
	}
}

// applyDefaults fills in missing configuration values so older config files
// keep working as fields are added.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()

	if len(c.Sync.Extensions) == 0 {
		c.Sync.Extensions = defaults.Sync.Extensions
	}
	if c.Sync.MaxConcurrentUploads <= 0 {
		c.Sync.MaxConcurrentUploads = defaults.Sync.MaxConcurrentUploads
	}
	if c.Sync.DebounceMs <= 0 {
		c.Sync.DebounceMs = defaults.Sync.DebounceMs
	}
	if c.Sync.MaxFileSizeKB <= 0 {
		c.Sync.MaxFileSizeKB = defaults.Sync.MaxFileSizeKB
	}
}

// ExtensionSet returns the allowed extensions as a lowercase lookup table.
func (c *Config) ExtensionSet() map[string]bool {
	set := make(map[string]bool, len(c.Sync.Extensions))
	for _, ext := range c.Sync.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		set[ext] = true
	}
	return set
}

// GlobalConfigDir returns the directory holding the global config file.
// KILOCODE_CONFIG_DIR overrides the default of ~/.kilocode.
func GlobalConfigDir() (string, error) {
	if dir := os.Getenv("KILOCODE_CONFIG_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, GlobalDirName), nil
}

func GlobalConfigPath() (string, error) {
	dir, err := GlobalConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ConfigFileName), nil
}

// Load reads the global config. A missing file yields the defaults rather
// than an error. Environment variables KILOCODE_TOKEN, KILOCODE_ORG_ID and
// KILOCODE_API_ENDPOINT override the stored auth values.
func Load() (*Config, error) {
	path, err := GlobalConfigPath()
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		cfg = &Config{}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		cfg.applyDefaults()
	}

	if token := os.Getenv("KILOCODE_TOKEN"); token != "" {
		cfg.Auth.Token = token
	}
	if org := os.Getenv("KILOCODE_ORG_ID"); org != "" {
		cfg.Auth.OrganizationID = org
	}
	if endpoint := os.Getenv("KILOCODE_API_ENDPOINT"); endpoint != "" {
		cfg.Auth.Endpoint = endpoint
	}

	return cfg, nil
}

// Save writes the global config file with owner-only permissions, since it
// may carry the API token.
func (c *Config) Save() error {
	dir, err := GlobalConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	path := filepath.Join(dir, ConfigFileName)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func Exists() bool {
	path, err := GlobalConfigPath()
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}
