// Package mirror maintains local working copies of remote git repositories
// and detects upstream changes on a tracked branch.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/0xef53/unikcache/unikernel"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Mirror is a local checkout of a remote repository.
type Mirror struct {
	Path       string
	RemoteName string

	repo *git.Repository
}

// EnsureCloned clones url into localPath if the latter does not exist yet.
// Otherwise the existing checkout is opened and its "origin" remote is reused
// (and created if missing).
//
// The clone is done into a temporary directory next to localPath and renamed
// into place only on success, so a failed clone never leaves a half-filled
// localPath behind.
func EnsureCloned(ctx context.Context, url, localPath string) (*Mirror, error) {
	m := Mirror{
		Path:       localPath,
		RemoteName: unikernel.DEFAULT_REMOTE_NAME,
	}

	switch _, err := os.Stat(localPath); {
	case err == nil:
		if err := m.open(url); err != nil {
			return nil, err
		}
	case os.IsNotExist(err):
		if err := m.clone(ctx, url); err != nil {
			return nil, err
		}
	default:
		return nil, &unikernel.RepositoryError{Op: "stat", Path: localPath, Err: err}
	}

	return &m, nil
}

func (m *Mirror) clone(ctx context.Context, url string) error {
	if err := os.MkdirAll(filepath.Dir(m.Path), 0755); err != nil {
		return &unikernel.RepositoryError{Op: "clone", Path: m.Path, Err: err}
	}

	tmpdir, err := os.MkdirTemp(filepath.Dir(m.Path), "."+filepath.Base(m.Path)+".clone-")
	if err != nil {
		return &unikernel.RepositoryError{Op: "clone", Path: m.Path, Err: err}
	}

	_, err = git.PlainCloneContext(ctx, tmpdir, false, &git.CloneOptions{
		URL:        url,
		RemoteName: m.RemoteName,
	})
	if err != nil {
		os.RemoveAll(tmpdir)

		return &unikernel.RepositoryError{Op: "clone", Path: url, Err: err}
	}

	if err := os.Rename(tmpdir, m.Path); err != nil {
		os.RemoveAll(tmpdir)

		return &unikernel.RepositoryError{Op: "clone", Path: m.Path, Err: err}
	}

	repo, err := git.PlainOpen(m.Path)
	if err != nil {
		return &unikernel.RepositoryError{Op: "open", Path: m.Path, Err: err}
	}

	m.repo = repo

	return nil
}

func (m *Mirror) open(url string) error {
	repo, err := git.PlainOpen(m.Path)
	if err != nil {
		return &unikernel.RepositoryError{Op: "open", Path: m.Path, Err: err}
	}

	switch _, err := repo.Remote(m.RemoteName); {
	case err == nil:
	case errors.Is(err, git.ErrRemoteNotFound):
		_, err := repo.CreateRemote(&config.RemoteConfig{
			Name: m.RemoteName,
			URLs: []string{url},
		})
		if err != nil {
			return &unikernel.RepositoryError{Op: "create-remote", Path: m.Path, Err: err}
		}
	default:
		return &unikernel.RepositoryError{Op: "remote", Path: m.Path, Err: err}
	}

	m.repo = repo

	return nil
}

// FetchAndDiff fetches the remote refs and reports whether the local checkout
// differs from the tip of the remote branch. The trees are compared and
// tracked files of the worktree are checked against HEAD, so the result is
// the same as the emptiness of "git diff origin/<branch>".
func (m *Mirror) FetchAndDiff(ctx context.Context, branch string) (bool, error) {
	err := m.repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: m.RemoteName,
		RefSpecs: []config.RefSpec{
			config.RefSpec(fmt.Sprintf("+refs/heads/*:refs/remotes/%s/*", m.RemoteName)),
		},
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return false, &unikernel.RepositoryError{Op: "fetch", Path: m.Path, Err: err}
	}

	remoteCommit, err := m.remoteTip(branch)
	if err != nil {
		return false, err
	}

	head, err := m.repo.Head()
	if err != nil {
		return false, &unikernel.RepositoryError{Op: "diff", Path: m.Path, Err: err}
	}

	if head.Hash() == remoteCommit.Hash {
		// An interrupted pull may leave the branch at the tip
		// with the old files still in the worktree
		dirty, err := m.dirty()
		if err != nil {
			return false, &unikernel.RepositoryError{Op: "diff", Path: m.Path, Err: err}
		}

		return dirty, nil
	}

	localCommit, err := m.repo.CommitObject(head.Hash())
	if err != nil {
		return false, &unikernel.RepositoryError{Op: "diff", Path: m.Path, Err: err}
	}

	if localCommit.TreeHash != remoteCommit.TreeHash {
		return true, nil
	}

	dirty, err := m.dirty()
	if err != nil {
		return false, &unikernel.RepositoryError{Op: "diff", Path: m.Path, Err: err}
	}

	return dirty, nil
}

// Pull fast-forwards the local branch to the remote tip and checks it out.
// It is a no-op if the branch is already checked out at the remote tip.
func (m *Mirror) Pull(ctx context.Context, branch string) error {
	remoteCommit, err := m.remoteTip(branch)
	if err != nil {
		return err
	}

	localName := plumbing.NewBranchReferenceName(branch)

	if head, err := m.repo.Head(); err == nil && head.Name() == localName && head.Hash() == remoteCommit.Hash {
		if dirty, err := m.dirty(); err == nil && !dirty {
			return nil
		}
	}

	switch ref, err := m.repo.Reference(localName, true); {
	case err == nil:
		if ref.Hash() != remoteCommit.Hash {
			localCommit, err := m.repo.CommitObject(ref.Hash())
			if err != nil {
				return &unikernel.RepositoryError{Op: "pull", Path: m.Path, Err: err}
			}

			ok, err := localCommit.IsAncestor(remoteCommit)
			if err != nil {
				return &unikernel.RepositoryError{Op: "pull", Path: m.Path, Err: err}
			}
			if !ok {
				return &unikernel.RepositoryError{Op: "pull", Path: m.Path, Err: fmt.Errorf("%w: %s", unikernel.ErrNotFastForward, branch)}
			}
		}
	case errors.Is(err, plumbing.ErrReferenceNotFound):
		// The branch is checked out for the first time
	default:
		return &unikernel.RepositoryError{Op: "pull", Path: m.Path, Err: err}
	}

	if err := ctx.Err(); err != nil {
		return &unikernel.RepositoryError{Op: "pull", Path: m.Path, Err: err}
	}

	wt, err := m.repo.Worktree()
	if err != nil {
		return &unikernel.RepositoryError{Op: "pull", Path: m.Path, Err: err}
	}

	// The files are updated first, the branch is moved only after that.
	// Otherwise an interrupted checkout would leave the branch at the tip
	// over an old worktree.
	if err := wt.Checkout(&git.CheckoutOptions{Hash: remoteCommit.Hash, Force: true}); err != nil {
		return &unikernel.RepositoryError{Op: "checkout", Path: m.Path, Err: err}
	}

	if err := m.repo.Storer.SetReference(plumbing.NewHashReference(localName, remoteCommit.Hash)); err != nil {
		return &unikernel.RepositoryError{Op: "pull", Path: m.Path, Err: err}
	}

	if err := m.repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, localName)); err != nil {
		return &unikernel.RepositoryError{Op: "pull", Path: m.Path, Err: err}
	}

	return nil
}

// Head returns the hash of the checked out commit.
func (m *Mirror) Head() (string, error) {
	head, err := m.repo.Head()
	if err != nil {
		return "", err
	}

	return head.Hash().String(), nil
}

// dirty reports whether tracked files of the worktree or the index
// differ from HEAD. Untracked files are ignored.
func (m *Mirror) dirty() (bool, error) {
	wt, err := m.repo.Worktree()
	if err != nil {
		return false, err
	}

	st, err := wt.Status()
	if err != nil {
		return false, err
	}

	for _, fs := range st {
		if fs.Staging == git.Untracked && fs.Worktree == git.Untracked {
			continue
		}
		if fs.Staging != git.Unmodified || fs.Worktree != git.Unmodified {
			return true, nil
		}
	}

	return false, nil
}

func (m *Mirror) remoteTip(branch string) (*object.Commit, error) {
	ref, err := m.repo.Reference(plumbing.NewRemoteReferenceName(m.RemoteName, branch), true)
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			err = fmt.Errorf("%w: %s", unikernel.ErrUnknownBranch, branch)
		}
		return nil, &unikernel.RepositoryError{Op: "diff", Path: m.Path, Err: err}
	}

	commit, err := m.repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, &unikernel.RepositoryError{Op: "diff", Path: m.Path, Err: err}
	}

	return commit, nil
}
