// Package gitrepo maintains local checkouts of reviewed repositories so
// analysis can look beyond the diff. Clones live under the configured
// clone dir, one directory per repository.
package gitrepo

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// LocalPath returns the checkout directory for a repository.
// owner/name map to a flat "owner_name" directory.
func LocalPath(cloneDir, owner, name string) string {
	return filepath.Join(cloneDir, owner+"_"+name)
}

// runGit runs a git command in dir and returns stdout. Stderr is folded
// into the error.
func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// IsCloned reports whether a git checkout already exists at path.
func IsCloned(path string) bool {
	info, err := os.Stat(filepath.Join(path, ".git"))
	return err == nil && info.IsDir()
}

// CloneOrUpdate ensures a checkout of the repository exists at the clone
// dir and is current. Existing checkouts are fetched and reset to the
// remote branch; missing ones are cloned. Returns the checkout path.
func CloneOrUpdate(ctx context.Context, cloneDir, cloneURL, owner, name, branch string) (string, error) {
	path := LocalPath(cloneDir, owner, name)

	if !IsCloned(path) {
		if err := os.MkdirAll(cloneDir, 0755); err != nil {
			return "", fmt.Errorf("create clone dir: %w", err)
		}
		args := []string{"clone"}
		if branch != "" {
			args = append(args, "--branch", branch)
		}
		args = append(args, cloneURL, path)
		if _, err := runGit(ctx, "", args...); err != nil {
			return "", err
		}
		return path, nil
	}

	if _, err := runGit(ctx, path, "fetch", "origin"); err != nil {
		return "", err
	}
	if branch != "" {
		if _, err := runGit(ctx, path, "checkout", branch); err != nil {
			return "", err
		}
		if _, err := runGit(ctx, path, "reset", "--hard", "origin/"+branch); err != nil {
			return "", err
		}
	}
	return path, nil
}

// FetchSHA makes a specific commit available in the checkout and checks
// it out detached. PR head commits are often not on any local branch.
func FetchSHA(ctx context.Context, path, sha string) error {
	// Fetch is best-effort; the SHA may already be present
	_, _ = runGit(ctx, path, "fetch", "origin", sha)
	if _, err := runGit(ctx, path, "checkout", "--detach", sha); err != nil {
		return err
	}
	return nil
}

// HeadSHA returns the commit the checkout currently points at.
func HeadSHA(ctx context.Context, path string) (string, error) {
	out, err := runGit(ctx, path, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// DiffAgainst returns the unified diff from base to the current HEAD.
func DiffAgainst(ctx context.Context, path, base string) (string, error) {
	return runGit(ctx, path, "diff", base+"...HEAD")
}
