package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadProjectConfig_Missing(t *testing.T) {
	cfg, err := LoadProjectConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadProjectConfig() failed: %v", err)
	}
	if cfg != nil {
		t.Errorf("LoadProjectConfig() = %+v, want nil for unlinked workspace", cfg)
	}
}

func TestSaveAndLoadProjectConfig(t *testing.T) {
	root := t.TempDir()

	in := &ProjectConfig{Project: ProjectSettings{ID: "proj-7", Name: "backend"}}
	if err := SaveProjectConfig(root, in); err != nil {
		t.Fatalf("SaveProjectConfig() failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(root, ProjectDirName, ProjectFileName)); err != nil {
		t.Fatalf("project config file not written: %v", err)
	}

	out, err := LoadProjectConfig(root)
	if err != nil {
		t.Fatalf("LoadProjectConfig() failed: %v", err)
	}
	if out == nil {
		t.Fatal("LoadProjectConfig() = nil after save")
	}
	if out.Project.ID != "proj-7" || out.Project.Name != "backend" {
		t.Errorf("project = %+v, want proj-7/backend", out.Project)
	}
}

func TestLoadProjectConfig_Malformed(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, ProjectDirName), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(ProjectConfigPath(root), []byte("{broken"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadProjectConfig(root); err == nil {
		t.Fatal("LoadProjectConfig() should fail on malformed YAML")
	}
}

func TestResolveProjectID_Precedence(t *testing.T) {
	root := t.TempDir()
	repoURL := "git@github.com:acme/app.git"

	cfg := &Config{Projects: map[string]string{
		repoURL:             "from-url",
		filepath.Clean(root): "from-root",
	}}

	// In-repo link file wins over everything.
	if err := SaveProjectConfig(root, &ProjectConfig{Project: ProjectSettings{ID: "from-file"}}); err != nil {
		t.Fatalf("SaveProjectConfig() failed: %v", err)
	}
	id, err := cfg.ResolveProjectID(root, repoURL)
	if err != nil {
		t.Fatalf("ResolveProjectID() failed: %v", err)
	}
	if id != "from-file" {
		t.Errorf("ResolveProjectID() = %q, want from-file", id)
	}

	// Without the file, the repository URL mapping wins.
	if err := os.Remove(ProjectConfigPath(root)); err != nil {
		t.Fatal(err)
	}
	id, err = cfg.ResolveProjectID(root, repoURL)
	if err != nil {
		t.Fatalf("ResolveProjectID() failed: %v", err)
	}
	if id != "from-url" {
		t.Errorf("ResolveProjectID() = %q, want from-url", id)
	}

	// Without a URL match, the workspace root mapping applies.
	id, err = cfg.ResolveProjectID(root, "git@github.com:acme/other.git")
	if err != nil {
		t.Fatalf("ResolveProjectID() failed: %v", err)
	}
	if id != "from-root" {
		t.Errorf("ResolveProjectID() = %q, want from-root", id)
	}
}

func TestResolveProjectID_Unlinked(t *testing.T) {
	cfg := &Config{}

	id, err := cfg.ResolveProjectID(t.TempDir(), "git@github.com:acme/app.git")
	if err != nil {
		t.Fatalf("ResolveProjectID() failed: %v", err)
	}
	if id != "" {
		t.Errorf("ResolveProjectID() = %q, want empty for unlinked workspace", id)
	}
}

func TestResolveProjectID_EmptyFileIDFallsThrough(t *testing.T) {
	root := t.TempDir()
	repoURL := "git@github.com:acme/app.git"

	// A link file with an empty id does not shadow the global mapping.
	if err := SaveProjectConfig(root, &ProjectConfig{}); err != nil {
		t.Fatalf("SaveProjectConfig() failed: %v", err)
	}

	cfg := &Config{Projects: map[string]string{repoURL: "from-url"}}
	id, err := cfg.ResolveProjectID(root, repoURL)
	if err != nil {
		t.Fatalf("ResolveProjectID() failed: %v", err)
	}
	if id != "from-url" {
		t.Errorf("ResolveProjectID() = %q, want from-url", id)
	}
}
