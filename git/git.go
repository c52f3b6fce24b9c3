// Package git provides the subprocess-backed primitives the sync daemon
// builds on: repository detection (worktree-aware), branch and commit
// resolution, base-branch detection, diffs against the base branch, and
// tracked-file enumeration with content hashes.
package git

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const gitTimeout = 5 * time.Second

// DetectInfo holds the repository layout for a working copy.
type DetectInfo struct {
	GitRoot      string // Worktree root from: git rev-parse --show-toplevel
	GitDir       string // Per-worktree git directory (absolute): git rev-parse --git-dir
	GitCommonDir string // Shared .git directory (absolute): git rev-parse --git-common-dir
	IsWorktree   bool   // true if this is a linked worktree (not the main one)
}

// Detect resolves the repository layout for the given path. HEAD lives in
// GitDir; refs/heads and packed-refs live in GitCommonDir. Returns an error
// if git is not installed or path is not a git repository.
func Detect(path string) (*DetectInfo, error) {
	gitRoot, err := runGit(path, "rev-parse", "--show-toplevel")
	if err != nil {
		return nil, fmt.Errorf("not a git repository or git command failed: %w", err)
	}

	gitDir, err := runGit(path, "rev-parse", "--git-dir")
	if err != nil {
		return nil, fmt.Errorf("failed to get git directory: %w", err)
	}

	gitCommonDir, err := runGit(path, "rev-parse", "--git-common-dir")
	if err != nil {
		return nil, fmt.Errorf("failed to get git common directory: %w", err)
	}

	gitDir, err = absoluteTo(gitRoot, gitDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve git directory: %w", err)
	}

	gitCommonDir, err = absoluteTo(gitRoot, gitCommonDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve git common directory: %w", err)
	}

	// Main repo: GitCommonDir == <repo>/.git
	// Linked worktree: GitCommonDir points into the main repo's .git
	isWorktree := gitCommonDir != filepath.Join(gitRoot, ".git")

	return &DetectInfo{
		GitRoot:      gitRoot,
		GitDir:       gitDir,
		GitCommonDir: gitCommonDir,
		IsWorktree:   isWorktree,
	}, nil
}

// absoluteTo resolves dir relative to root when it is not already absolute,
// and cleans the result.
func absoluteTo(root, dir string) (string, error) {
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(root, dir)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	return filepath.Clean(abs), nil
}

// IsGitRepo returns true if the given path is within a git repository.
// Returns false on any error (git not installed, not a repo, etc.).
func IsGitRepo(path string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), gitTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", "-C", path, "rev-parse", "--git-dir")
	err := cmd.Run()
	return err == nil
}

// runGit runs a git command in the given path and returns its trimmed stdout.
func runGit(path string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), gitTimeout)
	defer cancel()

	fullArgs := append([]string{"-C", path}, args...)
	cmd := exec.CommandContext(ctx, "git", fullArgs...)
	output, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", fmt.Errorf("git %s failed: %w (stderr: %s)", args[0], err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("failed to execute git command (is git installed?): %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

// CurrentBranch returns the name of the checked-out branch. In detached-HEAD
// state git reports the literal "HEAD".
func CurrentBranch(path string) (string, error) {
	branch, err := runGit(path, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("failed to resolve current branch: %w", err)
	}
	return branch, nil
}

// CurrentCommit returns the SHA of the commit HEAD points at.
func CurrentCommit(path string) (string, error) {
	sha, err := runGit(path, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("failed to resolve current commit: %w", err)
	}
	return sha, nil
}

// IsDetachedHead reports whether the working copy points at a commit rather
// than a named branch.
func IsDetachedHead(path string) (bool, error) {
	branch, err := CurrentBranch(path)
	if err != nil {
		return false, err
	}
	return branch == "HEAD", nil
}

// BaseBranch detects the repository's default branch: the remote HEAD when
// one is configured, otherwise a local "main" or "master".
func BaseBranch(path string) (string, error) {
	const remotePrefix = "refs/remotes/origin/"
	if ref, err := runGit(path, "symbolic-ref", "refs/remotes/origin/HEAD"); err == nil {
		if strings.HasPrefix(ref, remotePrefix) {
			return strings.TrimPrefix(ref, remotePrefix), nil
		}
	}

	for _, candidate := range []string{"main", "master"} {
		if _, err := runGit(path, "rev-parse", "--verify", "--quiet", "refs/heads/"+candidate); err == nil {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("unable to determine base branch for %s", path)
}

// RemoteURL returns the origin remote URL. Errors when no origin remote is
// configured.
func RemoteURL(path string) (string, error) {
	url, err := runGit(path, "config", "--get", "remote.origin.url")
	if err != nil {
		return "", fmt.Errorf("failed to resolve remote url: %w", err)
	}
	if url == "" {
		return "", fmt.Errorf("no origin remote configured for %s", path)
	}
	return url, nil
}

// ChangeSet lists paths that differ from the comparison baseline.
type ChangeSet struct {
	Added    []string
	Modified []string
	Deleted  []string
}

// DiffNameStatus computes the files added, modified, and deleted on the
// current branch relative to the merge base with the given base branch.
// Renames count as a deletion of the old path plus an addition of the new.
func DiffNameStatus(path, base string) (*ChangeSet, error) {
	var records []string
	err := streamRecords(path, func(record string) error {
		records = append(records, record)
		return nil
	}, "diff", "--name-status", "-z", base+"...HEAD")
	if err != nil {
		return nil, fmt.Errorf("failed to diff against %s: %w", base, err)
	}

	cs := &ChangeSet{}
	for i := 0; i < len(records); i++ {
		status := records[i]
		if status == "" {
			continue
		}
		switch status[0] {
		case 'A', 'C':
			if i+1 < len(records) {
				i++
				cs.Added = append(cs.Added, records[i])
			}
		case 'M', 'T':
			if i+1 < len(records) {
				i++
				cs.Modified = append(cs.Modified, records[i])
			}
		case 'D':
			if i+1 < len(records) {
				i++
				cs.Deleted = append(cs.Deleted, records[i])
			}
		case 'R':
			// Rename records carry two paths: the old, then the new.
			if i+2 < len(records) {
				cs.Deleted = append(cs.Deleted, records[i+1])
				cs.Added = append(cs.Added, records[i+2])
			}
			i += 2
		default:
			// Unmerged and unknown statuses carry one path; skip it.
			i++
		}
	}
	return cs, nil
}

// TrackedFile pairs a repo-relative path with the blob hash of its content
// in the index.
type TrackedFile struct {
	Path string
	Hash string
}

// ListTrackedFiles enumerates every tracked file together with its content
// hash in a single pass.
func ListTrackedFiles(path string) ([]TrackedFile, error) {
	return lsFiles(path, nil)
}

// ListTrackedFilesFor resolves content hashes for an explicit set of paths
// in a single batched command. Paths are passed as separate arguments, so
// whitespace needs no quoting and round-trips verbatim.
func ListTrackedFilesFor(path string, paths []string) ([]TrackedFile, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	return lsFiles(path, paths)
}

func lsFiles(path string, paths []string) ([]TrackedFile, error) {
	args := []string{"ls-files", "-s", "-z"}
	if len(paths) > 0 {
		args = append(args, "--")
		args = append(args, paths...)
	}

	var files []TrackedFile
	err := streamRecords(path, func(record string) error {
		file, ok := parseIndexRecord(record)
		if ok {
			files = append(files, file)
		}
		return nil
	}, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tracked files: %w", err)
	}
	return files, nil
}

// parseIndexRecord parses one "mode hash stage\tpath" record as produced by
// git ls-files -s. The path follows the first tab and is kept verbatim.
func parseIndexRecord(record string) (TrackedFile, bool) {
	meta, filePath, found := strings.Cut(record, "\t")
	if !found {
		return TrackedFile{}, false
	}
	fields := strings.Fields(meta)
	if len(fields) < 3 {
		return TrackedFile{}, false
	}
	return TrackedFile{Path: filePath, Hash: fields[1]}, true
}

// streamRecords runs a git command and yields its NUL-delimited output
// records one at a time, without buffering the whole output.
func streamRecords(path string, fn func(record string) error, args ...string) error {
	ctx, cancel := context.WithTimeout(context.Background(), gitTimeout)
	defer cancel()

	fullArgs := append([]string{"-C", path}, args...)
	cmd := exec.CommandContext(ctx, "git", fullArgs...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open git output pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to execute git command (is git installed?): %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	scanner.Split(scanNull)
	var fnErr error
	for scanner.Scan() {
		if fnErr != nil {
			continue // drain so the subprocess can exit
		}
		fnErr = fn(scanner.Text())
	}
	scanErr := scanner.Err()

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("git %s failed: %w (stderr: %s)", args[0], err, strings.TrimSpace(stderr.String()))
	}
	if scanErr != nil {
		return fmt.Errorf("failed to read git output: %w", scanErr)
	}
	return fnErr
}

// scanNull is a bufio.SplitFunc for NUL-terminated records.
func scanNull(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexByte(data, 0); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
