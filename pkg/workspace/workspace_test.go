package workspace_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-murmur/pkg/workspace"
)

func mkdirs(t *testing.T, root string, dirs ...string) {
	t.Helper()
	for _, d := range dirs {
		require.NoError(t, os.MkdirAll(filepath.Join(root, d), 0o755))
	}
}

func touch(t *testing.T, root string, files ...string) {
	t.Helper()
	for _, f := range files {
		require.NoError(t, os.WriteFile(filepath.Join(root, f), []byte("x\n"), 0o644))
	}
}

func tree(t *testing.T) string {
	root := t.TempDir()
	mkdirs(t, root,
		"dev/go-murmur/pkg",
		"dev/social-app",
		"work/social",
		"work/notes",
		".hidden/social",
		"node_modules/social",
		"a/b/c/d/deep-social",
	)
	touch(t, root, "dev/go-murmur/go.mod", "dev/social-app/package.json", "README.md")
	return root
}

func TestScore(t *testing.T) {
	tests := []struct {
		query, name string
		want        float64
	}{
		{"social", "social", 1},
		{"Social", "SOCIAL", 1},
		{"social", "social-app", 0.9},
		{"murmur", "go-murmur", 0.7},
		{"go murmur", "murmur-go", 0.6},
		{"gmr", "go-murmur", 2 * 3.0 / 12},
		{"xyz", "go-murmur", 0},
		{"", "anything", 0},
	}
	for _, tt := range tests {
		t.Run(tt.query+"/"+tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, workspace.Score(tt.query, tt.name), 1e-9)
		})
	}
}

func TestWalkSkipsHiddenAndDependencies(t *testing.T) {
	root := tree(t)

	top, err := workspace.Walk(root, 1)
	require.NoError(t, err)
	names := make([]string, len(top))
	for i, d := range top {
		names[i] = filepath.Base(d)
	}
	assert.Equal(t, []string{"a", "dev", "work"}, names)

	all, err := workspace.Walk(root, 3)
	require.NoError(t, err)
	assert.Contains(t, all, filepath.Join(root, "dev", "go-murmur", "pkg"))
	assert.NotContains(t, all, filepath.Join(root, "a", "b", "c", "d"))

	_, err = workspace.Walk(filepath.Join(root, "README.md"), 1)
	assert.ErrorIs(t, err, workspace.ErrNotDirectory)
}

func TestFind(t *testing.T) {
	root := tree(t)
	ws, err := workspace.New(workspace.Config{SearchRoot: root})
	require.NoError(t, err)

	matches, err := ws.Find("social", "")
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, filepath.Join(root, "work", "social"), matches[0].Path)
	assert.Equal(t, 1.0, matches[0].Score)
	assert.Equal(t, "social-app", matches[1].Name)
	assert.True(t, matches[1].IsProject)

	under, err := ws.Find("social", "dev")
	require.NoError(t, err)
	require.Len(t, under, 1)
	assert.Equal(t, "social-app", under[0].Name)

	// An unmatched parent hint falls back to the whole tree.
	fallback, err := ws.Find("social", "qqqq")
	require.NoError(t, err)
	assert.Len(t, fallback, 2)

	none, err := ws.Find("kubernetes", "")
	require.NoError(t, err)
	assert.Empty(t, none)

	missing, err := workspace.New(workspace.Config{SearchRoot: filepath.Join(root, "nope")})
	require.NoError(t, err)
	got, err := missing.Find("social", "")
	assert.NoError(t, err)
	assert.Empty(t, got)
}

func TestListUnder(t *testing.T) {
	root := tree(t)
	ws, err := workspace.New(workspace.Config{SearchRoot: root})
	require.NoError(t, err)

	entries, err := ws.List("")
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	path, entries, err := ws.ListUnder("", "work")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "work"), path)
	require.Len(t, entries, 2)
	assert.Equal(t, "notes", entries[0].Name)
	assert.Equal(t, "social", entries[1].Name)
}

func TestDescribe(t *testing.T) {
	root := tree(t)
	dir := filepath.Join(root, "dev", "go-murmur")

	info, err := workspace.Describe(dir)
	require.NoError(t, err)
	assert.True(t, info.IsProject)
	assert.Equal(t, []string{"go.mod"}, info.Markers)
	assert.Equal(t, []string{"go.mod", "pkg/"}, info.Children)
	assert.Nil(t, info.Git)
	assert.Contains(t, info.Summary(), "Project files: go.mod.")
}

func TestDescribeGit(t *testing.T) {
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	info, err := workspace.Describe(dir)
	require.NoError(t, err)
	require.NotNil(t, info.Git)
	assert.True(t, info.Git.NoCommits)

	touch(t, dir, "main.go")
	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("main.go")
	require.NoError(t, err)
	_, err = wt.Commit("initial import\n\nlonger body", &git.CommitOptions{
		Author: &object.Signature{Name: "dev", Email: "dev@example.com", When: time.Now()},
	})
	require.NoError(t, err)
	touch(t, dir, "scratch.txt")

	mkdirs(t, dir, "cmd")
	info, err = workspace.Describe(filepath.Join(dir, "cmd"))
	require.NoError(t, err)
	require.NotNil(t, info.Git)
	assert.False(t, info.Git.NoCommits)
	assert.Equal(t, "master", info.Git.Branch)
	assert.Equal(t, "initial import", info.Git.Subject)
	assert.Len(t, info.Git.Head, 7)
	assert.Equal(t, 1, info.Git.Dirty)

	summary := info.Summary()
	assert.Contains(t, summary, "Git branch master")
	assert.Contains(t, summary, "1 uncommitted change(s).")
}
