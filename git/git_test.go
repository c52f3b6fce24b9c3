package git

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"testing"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
}

func assertSamePath(t *testing.T, label, got, want string) {
	t.Helper()

	gotClean := filepath.Clean(got)
	wantClean := filepath.Clean(want)

	gotInfo, gotErr := os.Stat(gotClean)
	wantInfo, wantErr := os.Stat(wantClean)
	if gotErr == nil && wantErr == nil {
		if !os.SameFile(gotInfo, wantInfo) {
			t.Errorf("%s = %q, want same location as %q", label, got, want)
		}
		return
	}

	if runtime.GOOS == "windows" {
		if !strings.EqualFold(gotClean, wantClean) {
			t.Errorf("%s = %q, want %q", label, got, want)
		}
		return
	}

	if gotClean != wantClean {
		t.Errorf("%s = %q, want %q", label, got, want)
	}
}

func mustGit(t *testing.T, dir string, args ...string) {
	t.Helper()

	cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %v failed: %v\n%s", args, err, out)
	}
}

// setupGitRepo initializes a git repo on a branch named "main" with one
// empty commit.
func setupGitRepo(t *testing.T, path string) {
	t.Helper()
	requireGit(t)

	cmd := exec.Command("git", "init", path)
	if err := cmd.Run(); err != nil {
		t.Fatalf("failed to init git repo: %v", err)
	}

	// Pin the branch name regardless of the git version's init.defaultBranch.
	mustGit(t, path, "symbolic-ref", "HEAD", "refs/heads/main")
	mustGit(t, path, "config", "user.email", "test@test.com")
	mustGit(t, path, "config", "user.name", "Test")
	mustGit(t, path, "commit", "--allow-empty", "-m", "init")
}

func writeFile(t *testing.T, repo, name, content string) {
	t.Helper()

	path := filepath.Join(repo, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
}

func commitAll(t *testing.T, repo, message string) {
	t.Helper()

	mustGit(t, repo, "add", "-A")
	mustGit(t, repo, "commit", "-m", message)
}

func isHexHash(s string) bool {
	if len(s) != 40 {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}

func TestDetect_MainRepo(t *testing.T) {
	repoPath := t.TempDir()
	setupGitRepo(t, repoPath)

	info, err := Detect(repoPath)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	assertSamePath(t, "GitRoot", info.GitRoot, repoPath)
	assertSamePath(t, "GitDir", info.GitDir, filepath.Join(repoPath, ".git"))
	assertSamePath(t, "GitCommonDir", info.GitCommonDir, filepath.Join(repoPath, ".git"))
	if info.IsWorktree {
		t.Error("IsWorktree = true, want false for main repo")
	}

	// Detection from a subdirectory resolves to the same root.
	subDir := filepath.Join(repoPath, "sub", "dir")
	if err := os.MkdirAll(subDir, 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	subInfo, err := Detect(subDir)
	if err != nil {
		t.Fatalf("Detect from subdirectory failed: %v", err)
	}
	assertSamePath(t, "GitRoot from subdirectory", subInfo.GitRoot, repoPath)
}

func TestDetect_LinkedWorktree(t *testing.T) {
	mainPath := t.TempDir()
	setupGitRepo(t, mainPath)

	worktreePath := filepath.Join(t.TempDir(), "linked")
	mustGit(t, mainPath, "worktree", "add", "-b", "side", worktreePath)

	info, err := Detect(worktreePath)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	assertSamePath(t, "GitRoot", info.GitRoot, worktreePath)
	if !info.IsWorktree {
		t.Error("IsWorktree = false, want true for linked worktree")
	}

	// The shared directory is the main repo's .git; the per-worktree
	// directory lives under .git/worktrees.
	assertSamePath(t, "GitCommonDir", info.GitCommonDir, filepath.Join(mainPath, ".git"))
	if !strings.Contains(filepath.ToSlash(info.GitDir), ".git/worktrees/") {
		t.Errorf("GitDir = %q, want a path under .git/worktrees", info.GitDir)
	}
}

func TestDetect_NotGitRepo(t *testing.T) {
	requireGit(t)

	if _, err := Detect(t.TempDir()); err == nil {
		t.Error("Detect succeeded on a plain directory, want error")
	}
}

func TestIsGitRepo(t *testing.T) {
	repoPath := t.TempDir()
	setupGitRepo(t, repoPath)

	if !IsGitRepo(repoPath) {
		t.Error("IsGitRepo = false, want true for a git repo")
	}
	if IsGitRepo(t.TempDir()) {
		t.Error("IsGitRepo = true, want false for a plain directory")
	}
	if IsGitRepo(filepath.Join(t.TempDir(), "does-not-exist")) {
		t.Error("IsGitRepo = true, want false for a missing path")
	}
}

func TestCurrentBranchAndCommit(t *testing.T) {
	repoPath := t.TempDir()
	setupGitRepo(t, repoPath)

	branch, err := CurrentBranch(repoPath)
	if err != nil {
		t.Fatalf("CurrentBranch failed: %v", err)
	}
	if branch != "main" {
		t.Errorf("CurrentBranch = %q, want %q", branch, "main")
	}

	commit, err := CurrentCommit(repoPath)
	if err != nil {
		t.Fatalf("CurrentCommit failed: %v", err)
	}
	if !isHexHash(commit) {
		t.Errorf("CurrentCommit = %q, want a 40-char hex sha", commit)
	}
}

func TestIsDetachedHead(t *testing.T) {
	repoPath := t.TempDir()
	setupGitRepo(t, repoPath)

	detached, err := IsDetachedHead(repoPath)
	if err != nil {
		t.Fatalf("IsDetachedHead failed: %v", err)
	}
	if detached {
		t.Error("IsDetachedHead = true on a branch, want false")
	}

	mustGit(t, repoPath, "checkout", "-q", "--detach")

	detached, err = IsDetachedHead(repoPath)
	if err != nil {
		t.Fatalf("IsDetachedHead failed after detach: %v", err)
	}
	if !detached {
		t.Error("IsDetachedHead = false after checkout --detach, want true")
	}

	branch, err := CurrentBranch(repoPath)
	if err != nil {
		t.Fatalf("CurrentBranch failed after detach: %v", err)
	}
	if branch != "HEAD" {
		t.Errorf("CurrentBranch = %q in detached state, want %q", branch, "HEAD")
	}
}

func TestBaseBranch_LocalMain(t *testing.T) {
	repoPath := t.TempDir()
	setupGitRepo(t, repoPath)

	base, err := BaseBranch(repoPath)
	if err != nil {
		t.Fatalf("BaseBranch failed: %v", err)
	}
	if base != "main" {
		t.Errorf("BaseBranch = %q, want %q", base, "main")
	}
}

func TestBaseBranch_LocalMaster(t *testing.T) {
	requireGit(t)

	repoPath := t.TempDir()
	cmd := exec.Command("git", "init", repoPath)
	if err := cmd.Run(); err != nil {
		t.Fatalf("failed to init git repo: %v", err)
	}
	mustGit(t, repoPath, "symbolic-ref", "HEAD", "refs/heads/master")
	mustGit(t, repoPath, "config", "user.email", "test@test.com")
	mustGit(t, repoPath, "config", "user.name", "Test")
	mustGit(t, repoPath, "commit", "--allow-empty", "-m", "init")

	base, err := BaseBranch(repoPath)
	if err != nil {
		t.Fatalf("BaseBranch failed: %v", err)
	}
	if base != "master" {
		t.Errorf("BaseBranch = %q, want %q", base, "master")
	}
}

func TestBaseBranch_RemoteHeadWins(t *testing.T) {
	repoPath := t.TempDir()
	setupGitRepo(t, repoPath)

	// A configured remote HEAD takes precedence over the local "main".
	mustGit(t, repoPath, "symbolic-ref", "refs/remotes/origin/HEAD", "refs/remotes/origin/develop")

	base, err := BaseBranch(repoPath)
	if err != nil {
		t.Fatalf("BaseBranch failed: %v", err)
	}
	if base != "develop" {
		t.Errorf("BaseBranch = %q, want %q", base, "develop")
	}
}

func TestBaseBranch_NoCandidates(t *testing.T) {
	requireGit(t)

	repoPath := t.TempDir()
	cmd := exec.Command("git", "init", repoPath)
	if err := cmd.Run(); err != nil {
		t.Fatalf("failed to init git repo: %v", err)
	}
	mustGit(t, repoPath, "symbolic-ref", "HEAD", "refs/heads/trunk")
	mustGit(t, repoPath, "config", "user.email", "test@test.com")
	mustGit(t, repoPath, "config", "user.name", "Test")
	mustGit(t, repoPath, "commit", "--allow-empty", "-m", "init")

	if _, err := BaseBranch(repoPath); err == nil {
		t.Error("BaseBranch succeeded with no main, master, or remote HEAD, want error")
	}
}

func TestRemoteURL(t *testing.T) {
	repoPath := t.TempDir()
	setupGitRepo(t, repoPath)

	if _, err := RemoteURL(repoPath); err == nil {
		t.Error("RemoteURL succeeded with no origin remote, want error")
	}

	const url = "git@github.com:acme/app.git"
	mustGit(t, repoPath, "remote", "add", "origin", url)

	got, err := RemoteURL(repoPath)
	if err != nil {
		t.Fatalf("RemoteURL failed: %v", err)
	}
	if got != url {
		t.Errorf("RemoteURL = %q, want %q", got, url)
	}
}

func TestListTrackedFiles(t *testing.T) {
	repoPath := t.TempDir()
	setupGitRepo(t, repoPath)

	writeFile(t, repoPath, "main.go", "package main\n")
	writeFile(t, repoPath, "docs/read me.txt", "hello\n")
	writeFile(t, repoPath, "copy.go", "package main\n")
	commitAll(t, repoPath, "add files")

	files, err := ListTrackedFiles(repoPath)
	if err != nil {
		t.Fatalf("ListTrackedFiles failed: %v", err)
	}
	if len(files) != 3 {
		t.Fatalf("got %d tracked files, want 3: %v", len(files), files)
	}

	byPath := make(map[string]string, len(files))
	for _, f := range files {
		if !isHexHash(f.Hash) {
			t.Errorf("hash for %q = %q, want a 40-char hex sha", f.Path, f.Hash)
		}
		byPath[f.Path] = f.Hash
	}

	// Paths are repo-relative with forward slashes, whitespace intact.
	for _, want := range []string{"main.go", "docs/read me.txt", "copy.go"} {
		if _, ok := byPath[want]; !ok {
			t.Errorf("tracked files missing %q: %v", want, files)
		}
	}

	// Blob hashes are content-addressed: identical content, identical hash.
	if byPath["main.go"] != byPath["copy.go"] {
		t.Errorf("identical files hash differently: %q vs %q", byPath["main.go"], byPath["copy.go"])
	}
	if byPath["main.go"] == byPath["docs/read me.txt"] {
		t.Error("distinct files share a hash")
	}
}

func TestListTrackedFilesFor(t *testing.T) {
	repoPath := t.TempDir()
	setupGitRepo(t, repoPath)

	writeFile(t, repoPath, "a.go", "package a\n")
	writeFile(t, repoPath, "b.go", "package b\n")
	writeFile(t, repoPath, "docs/read me.txt", "hello\n")
	commitAll(t, repoPath, "add files")

	all, err := ListTrackedFiles(repoPath)
	if err != nil {
		t.Fatalf("ListTrackedFiles failed: %v", err)
	}
	wantHashes := make(map[string]string, len(all))
	for _, f := range all {
		wantHashes[f.Path] = f.Hash
	}

	files, err := ListTrackedFilesFor(repoPath, []string{"a.go", "docs/read me.txt"})
	if err != nil {
		t.Fatalf("ListTrackedFilesFor failed: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("got %d files, want 2: %v", len(files), files)
	}
	for _, f := range files {
		if f.Path != "a.go" && f.Path != "docs/read me.txt" {
			t.Errorf("unexpected path %q in batched lookup", f.Path)
		}
		if f.Hash != wantHashes[f.Path] {
			t.Errorf("hash for %q = %q, want %q", f.Path, f.Hash, wantHashes[f.Path])
		}
	}
}

func TestListTrackedFilesFor_EmptyInput(t *testing.T) {
	// No paths means no work; the repo is never touched.
	files, err := ListTrackedFilesFor(filepath.Join(t.TempDir(), "missing"), nil)
	if err != nil {
		t.Fatalf("ListTrackedFilesFor failed: %v", err)
	}
	if files != nil {
		t.Errorf("got %v, want nil for empty input", files)
	}
}

func TestDiffNameStatus(t *testing.T) {
	repoPath := t.TempDir()
	setupGitRepo(t, repoPath)

	writeFile(t, repoPath, "a.go", "package a\n")
	writeFile(t, repoPath, "b.go", "package b\n")
	writeFile(t, repoPath, "c.go", "package c\n")
	commitAll(t, repoPath, "base files")

	mustGit(t, repoPath, "checkout", "-q", "-b", "feature")
	writeFile(t, repoPath, "a.go", "package a // changed\n")
	writeFile(t, repoPath, "d.go", "package d\n")
	mustGit(t, repoPath, "rm", "-q", "b.go")
	mustGit(t, repoPath, "mv", "c.go", "renamed.go")
	commitAll(t, repoPath, "feature work")

	// A commit on main after the branch point must not leak into the
	// diff: the comparison runs against the merge base.
	mustGit(t, repoPath, "checkout", "-q", "main")
	writeFile(t, repoPath, "main-only.txt", "not on feature\n")
	commitAll(t, repoPath, "main moves on")
	mustGit(t, repoPath, "checkout", "-q", "feature")

	cs, err := DiffNameStatus(repoPath, "main")
	if err != nil {
		t.Fatalf("DiffNameStatus failed: %v", err)
	}

	sort.Strings(cs.Added)
	sort.Strings(cs.Modified)
	sort.Strings(cs.Deleted)

	assertStringSlice(t, "Added", cs.Added, []string{"d.go", "renamed.go"})
	assertStringSlice(t, "Modified", cs.Modified, []string{"a.go"})
	assertStringSlice(t, "Deleted", cs.Deleted, []string{"b.go", "c.go"})
}

func TestDiffNameStatus_UnknownBase(t *testing.T) {
	repoPath := t.TempDir()
	setupGitRepo(t, repoPath)

	if _, err := DiffNameStatus(repoPath, "no-such-branch"); err == nil {
		t.Error("DiffNameStatus succeeded against a missing base, want error")
	}
}

func assertStringSlice(t *testing.T, label string, got, want []string) {
	t.Helper()

	if len(got) != len(want) {
		t.Errorf("%s = %v, want %v", label, got, want)
		return
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("%s = %v, want %v", label, got, want)
			return
		}
	}
}
