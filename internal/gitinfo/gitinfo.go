// Package gitinfo identifies the code revision of the trainer so that
// each recorded run names the commit that produced it.
//
// It shells out to the git CLI, as the rest of the tool's git handling
// does. Errors from git are returned as model.CLIError with ExitGitError.
package gitinfo

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/mmr-tortoise/svbrdf-run/internal/model"
)

// Info describes the repository containing a path. The zero Info means
// the path is not inside a git work tree.
type Info struct {
	Root   string `json:"root,omitempty"`
	Commit string `json:"commit,omitempty"`
	Branch string `json:"branch,omitempty"`
	Dirty  bool   `json:"dirty,omitempty"`
}

// ShortCommit returns the first 12 characters of the commit.
func (i Info) ShortCommit() string {
	if len(i.Commit) <= 12 {
		return i.Commit
	}
	return i.Commit[:12]
}

// Lookup resolves the repository that contains path, which may be a file
// or a directory. A path outside any repository, or a host without git,
// yields the zero Info and no error.
func Lookup(ctx context.Context, path string) (Info, error) {
	dir := path
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		dir = filepath.Dir(path)
	}

	if _, err := exec.LookPath("git"); err != nil {
		return Info{}, nil
	}
	if out, err := runGit(ctx, dir, "rev-parse", "--is-inside-work-tree"); err != nil || strings.TrimSpace(out) != "true" {
		return Info{}, nil
	}

	root, err := runGit(ctx, dir, "rev-parse", "--show-toplevel")
	if err != nil {
		return Info{}, err
	}
	info := Info{Root: strings.TrimSpace(root)}

	// A repository without commits has no HEAD yet.
	if commit, err := runGit(ctx, dir, "rev-parse", "--verify", "--quiet", "HEAD"); err == nil {
		info.Commit = strings.TrimSpace(commit)
		branch, err := runGit(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD")
		if err != nil {
			return Info{}, err
		}
		info.Branch = strings.TrimSpace(branch)
	}

	status, err := runGit(ctx, dir, "status", "--porcelain", "--untracked-files=no")
	if err != nil {
		return Info{}, err
	}
	info.Dirty = strings.TrimSpace(status) != ""
	return info, nil
}

// runGit runs git -C dir args... and returns its stdout.
func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	fullArgs := append([]string{"-C", dir}, args...)

	// #nosec G204 -- arguments are fixed by this package
	cmd := exec.CommandContext(ctx, "git", fullArgs...)

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		message := fmt.Sprintf("git %s failed", strings.Join(args, " "))
		if s := strings.TrimSpace(stderr.String()); s != "" {
			message = fmt.Sprintf("%s: %s", message, s)
		}
		return "", model.WrapCLIError(model.ExitGitError, message, err)
	}
	return stdout.String(), nil
}
