package gitinfo

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestRepo creates a repository with one committed trainer script.
func setupTestRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	dir := t.TempDir()
	runTestGit(t, dir, "init")
	runTestGit(t, dir, "config", "user.email", "test@example.com")
	runTestGit(t, dir, "config", "user.name", "Test User")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.py"), []byte("print('hi')\n"), 0o644))
	runTestGit(t, dir, "add", ".")
	runTestGit(t, dir, "commit", "-m", "initial commit")
	return dir
}

func runTestGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
	output, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v failed: %s", args, string(output))
	return string(output)
}

func TestLookup_CleanAndDirty(t *testing.T) {
	ctx := context.Background()
	dir := setupTestRepo(t)
	script := filepath.Join(dir, "main.py")

	info, err := Lookup(ctx, script)
	require.NoError(t, err)
	assert.Len(t, info.Commit, 40)
	assert.Len(t, info.ShortCommit(), 12)
	assert.NotEmpty(t, info.Branch)
	assert.False(t, info.Dirty)

	wantRoot, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	gotRoot, err := filepath.EvalSymlinks(info.Root)
	require.NoError(t, err)
	assert.Equal(t, wantRoot, gotRoot)

	require.NoError(t, os.WriteFile(script, []byte("print('changed')\n"), 0o644))
	info, err = Lookup(ctx, dir)
	require.NoError(t, err)
	assert.True(t, info.Dirty)
}

// TestLookup_UntrackedIsClean verifies that datasets or models dropped
// into the repository do not mark the code as modified.
func TestLookup_UntrackedIsClean(t *testing.T) {
	dir := setupTestRepo(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sample.png"), []byte("x"), 0o644))

	info, err := Lookup(context.Background(), dir)
	require.NoError(t, err)
	assert.False(t, info.Dirty)
}

func TestLookup_NotARepository(t *testing.T) {
	info, err := Lookup(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Info{}, info)
}

func TestLookup_NoCommits(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	runTestGit(t, dir, "init")

	info, err := Lookup(context.Background(), dir)
	require.NoError(t, err)
	assert.NotEmpty(t, info.Root)
	assert.Empty(t, info.Commit)
}

func TestShortCommit(t *testing.T) {
	assert.Equal(t, "abc", Info{Commit: "abc"}.ShortCommit())
	assert.Equal(t, "0123456789ab", Info{Commit: "0123456789abcdef"}.ShortCommit())
}
