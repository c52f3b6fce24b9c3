package indexer

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSyncFilter_AllowsEverythingByDefault(t *testing.T) {
	f := NewSyncFilter(t.TempDir(), nil, 0)

	for _, p := range []string{"main.go", "README.md", "docs/read me.txt", "no-extension"} {
		if !f.Allows(p) {
			t.Errorf("Allows(%q) = false, want true", p)
		}
	}
	if f.MaxFileSize() != 0 {
		t.Errorf("MaxFileSize() = %d, want 0", f.MaxFileSize())
	}
}

func TestSyncFilter_ExtensionAllowList(t *testing.T) {
	f := NewSyncFilter(t.TempDir(), map[string]bool{".go": true, ".md": true}, 0)

	tests := []struct {
		path string
		want bool
	}{
		{"main.go", true},
		{"README.md", true},
		{"Main.GO", true}, // extension match ignores case
		{"image.png", false},
		{"no-extension", false},
	}
	for _, tt := range tests {
		if got := f.Allows(tt.path); got != tt.want {
			t.Errorf("Allows(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestSyncFilter_IgnoreFile(t *testing.T) {
	root := t.TempDir()
	ignoreFile := filepath.Join(root, IgnoreFileName)
	if err := os.WriteFile(ignoreFile, []byte("vendor/\n*.gen.go\n"), 0644); err != nil {
		t.Fatalf("failed to write ignore file: %v", err)
	}

	f := NewSyncFilter(root, nil, 0)

	tests := []struct {
		path string
		want bool
	}{
		{"main.go", true},
		{"vendor/lib.go", false},
		{"api.gen.go", false},
		{"nested/api.gen.go", false},
		{"generate.go", true},
	}
	for _, tt := range tests {
		if got := f.Allows(tt.path); got != tt.want {
			t.Errorf("Allows(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestSyncFilter_ExtensionAndIgnoreCombine(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, IgnoreFileName), []byte("internal/\n"), 0644); err != nil {
		t.Fatalf("failed to write ignore file: %v", err)
	}

	f := NewSyncFilter(root, map[string]bool{".go": true}, 0)

	// Must pass both the extension list and the ignore file.
	if !f.Allows("cmd/main.go") {
		t.Error("Allows(cmd/main.go) = false, want true")
	}
	if f.Allows("internal/secret.go") {
		t.Error("Allows(internal/secret.go) = true, want false")
	}
	if f.Allows("cmd/README.md") {
		t.Error("Allows(cmd/README.md) = true, want false")
	}
}

func TestSyncFilter_MissingIgnoreFile(t *testing.T) {
	f := NewSyncFilter(filepath.Join(t.TempDir(), "does-not-exist"), nil, 64)

	if !f.Allows("anything.go") {
		t.Error("Allows() = false without an ignore file, want true")
	}
	if f.MaxFileSize() != 64 {
		t.Errorf("MaxFileSize() = %d, want 64", f.MaxFileSize())
	}
}
