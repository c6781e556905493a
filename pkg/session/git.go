package session

import (
	"context"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/pkg/errors"
)

// GitChangeSource lists changed files from the git repository containing Dir
type GitChangeSource struct {
	Dir string
}

func openRepository(dir string) (*git.Repository, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open git repository at %s", dir)
	}
	return repo, nil
}

// HeadRevision returns the commit hash HEAD points to
func HeadRevision(dir string) (string, error) {
	repo, err := openRepository(dir)
	if err != nil {
		return "", err
	}
	head, err := repo.Head()
	if err != nil {
		return "", errors.Wrap(err, "failed to resolve HEAD")
	}
	return head.Hash().String(), nil
}

// FilesChanged implements ChangeSource by diffing the trees of two commits.
// Renamed files are reported under both names.
func (g GitChangeSource) FilesChanged(ctx context.Context, from, to string) ([]string, error) {
	repo, err := openRepository(g.Dir)
	if err != nil {
		return nil, err
	}

	fromTree, err := treeAt(repo, from)
	if err != nil {
		return nil, err
	}
	toTree, err := treeAt(repo, to)
	if err != nil {
		return nil, err
	}

	changes, err := object.DiffTreeWithOptions(ctx, fromTree, toTree, object.DefaultDiffTreeOptions)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to diff %s..%s", from, to)
	}

	var files []string
	for _, c := range changes {
		if c.From.Name != "" {
			files = append(files, c.From.Name)
		}
		if c.To.Name != "" && c.To.Name != c.From.Name {
			files = append(files, c.To.Name)
		}
	}
	return files, nil
}

func treeAt(repo *git.Repository, rev string) (*object.Tree, error) {
	hash, err := repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve revision %s", rev)
	}
	commit, err := repo.CommitObject(*hash)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load commit %s", rev)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load tree of %s", rev)
	}
	return tree, nil
}
