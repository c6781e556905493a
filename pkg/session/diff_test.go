package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticChanges map[string][]string

func (s staticChanges) FilesChanged(_ context.Context, from, to string) ([]string, error) {
	files, ok := s[from+".."+to]
	if !ok {
		return nil, errors.Errorf("unknown range %s..%s", from, to)
	}
	return files, nil
}

func intPtr(v int) *int { return &v }
func floatPtr(v float64) *float64 { return &v }

func TestDiff(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	for _, e := range []Entry{
		{Name: "start", Revision: "r1"},
		{Name: "compact", Revision: "r2"},
		{Name: "end", Revision: "r2"},
		{Name: "scratch"},
	} {
		_, err := store.Append(ctx, e)
		require.NoError(t, err)
	}

	changes := staticChanges{"r1..r2": {"b.go", "a.go", "b.go", ""}}

	t.Run("files and deltas", func(t *testing.T) {
		signals := Signals{
			Before: Measurement{Tests: intPtr(40), Coverage: floatPtr(71.5)},
			After:  Measurement{Tests: intPtr(43), Coverage: floatPtr(70.0)},
		}
		cmp, err := store.Diff(ctx, "start", "#3", changes, signals)
		require.NoError(t, err)

		assert.Equal(t, "start", cmp.From.Name)
		assert.Equal(t, "end", cmp.To.Name)
		assert.Equal(t, []string{"a.go", "b.go"}, cmp.FilesChanged)
		require.NotNil(t, cmp.TestDelta)
		assert.Equal(t, 3, *cmp.TestDelta)
		require.NotNil(t, cmp.CoverageDelta)
		assert.InDelta(t, -1.5, *cmp.CoverageDelta, 1e-9)
	})

	t.Run("partial signals", func(t *testing.T) {
		signals := Signals{Before: Measurement{Tests: intPtr(1)}, After: Measurement{Coverage: floatPtr(50)}}
		cmp, err := store.Diff(ctx, "#1", "#2", nil, signals)
		require.NoError(t, err)
		assert.Empty(t, cmp.FilesChanged, "no change source")
		assert.Nil(t, cmp.TestDelta)
		assert.Nil(t, cmp.CoverageDelta)
	})

	t.Run("same revision", func(t *testing.T) {
		cmp, err := store.Diff(ctx, "compact", "end", changes, Signals{})
		require.NoError(t, err)
		assert.Empty(t, cmp.FilesChanged)
	})

	t.Run("missing revision", func(t *testing.T) {
		_, err := store.Diff(ctx, "start", "scratch", changes, Signals{})
		assert.ErrorContains(t, err, "has no revision")
	})

	t.Run("unknown checkpoint", func(t *testing.T) {
		_, err := store.Diff(ctx, "start", "nope", changes, Signals{})
		assert.ErrorContains(t, err, `checkpoint "nope" not found`)
	})

	t.Run("change source error", func(t *testing.T) {
		_, err := store.Diff(ctx, "compact", "start", changes, Signals{})
		assert.ErrorContains(t, err, "unknown range r2..r1")
	})
}

func commitFile(t *testing.T, repo *git.Repository, dir, name, content string) string {
	t.Helper()
	wt, err := repo.Worktree()
	require.NoError(t, err)

	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	_, err = wt.Add(name)
	require.NoError(t, err)

	hash, err := wt.Commit("update "+name, &git.CommitOptions{
		Author: &object.Signature{Name: "hookgate", Email: "hookgate@example.com", When: time.Now()},
	})
	require.NoError(t, err)
	return hash.String()
}

func TestGitChangeSource(t *testing.T) {
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	first := commitFile(t, repo, dir, "README.md", "hello\n")
	commitFile(t, repo, dir, "pkg/a.go", "package pkg\n")
	last := commitFile(t, repo, dir, "README.md", "hello world\n")

	head, err := HeadRevision(filepath.Join(dir, "pkg"))
	require.NoError(t, err)
	assert.Equal(t, last, head)

	files, err := GitChangeSource{Dir: dir}.FilesChanged(context.Background(), first, last)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"README.md", "pkg/a.go"}, files)

	files, err = GitChangeSource{Dir: dir}.FilesChanged(context.Background(), "HEAD~1", "HEAD")
	require.NoError(t, err)
	assert.Equal(t, []string{"README.md"}, files)

	_, err = GitChangeSource{Dir: dir}.FilesChanged(context.Background(), "nope", last)
	assert.ErrorContains(t, err, "failed to resolve revision nope")

	_, err = HeadRevision(t.TempDir())
	assert.Error(t, err)
}
