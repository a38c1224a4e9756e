package mirror

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/0xef53/unikcache/unikernel"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

type upstream struct {
	t    *testing.T
	dir  string
	repo *git.Repository
}

// newUpstream creates a repository that plays the role of the remote side.
// go-git uses git-upload-pack for local transports, so git must be installed.
func newUpstream(t *testing.T) *upstream {
	t.Helper()

	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git is not installed")
	}

	dir := filepath.Join(t.TempDir(), "upstream")

	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatal(err)
	}

	u := upstream{t: t, dir: dir, repo: repo}

	u.commit("capstanfile", "base: cloudius/osv\n")

	return &u
}

func (u *upstream) commit(fname, content string) string {
	u.t.Helper()

	if err := os.WriteFile(filepath.Join(u.dir, fname), []byte(content), 0644); err != nil {
		u.t.Fatal(err)
	}

	wt, err := u.repo.Worktree()
	if err != nil {
		u.t.Fatal(err)
	}

	if _, err := wt.Add(fname); err != nil {
		u.t.Fatal(err)
	}

	hash, err := wt.Commit("update "+fname, &git.CommitOptions{
		Author: &object.Signature{Name: "Test User", Email: "test@example.com", When: time.Now()},
	})
	if err != nil {
		u.t.Fatal(err)
	}

	return hash.String()
}

func TestCloneFetchPull(t *testing.T) {
	up := newUpstream(t)
	ctx := context.Background()

	localPath := filepath.Join(t.TempDir(), "repos", "alpine-unikernel")

	m, err := EnsureCloned(ctx, up.dir, localPath)
	if err != nil {
		t.Fatalf("got unexpected error: %s", err)
	}

	if changed, err := m.FetchAndDiff(ctx, "master"); err != nil || changed {
		t.Fatalf("fresh clone must be up to date: changed = %v, err = %v", changed, err)
	}

	var tip string
	for _, s := range []string{"a", "b", "c"} {
		tip = up.commit("file-"+s, s)
	}

	changed, err := m.FetchAndDiff(ctx, "master")
	if err != nil {
		t.Fatalf("got unexpected error: %s", err)
	}
	if !changed {
		t.Fatalf("upstream has 3 new commits, but no changes were detected")
	}

	if err := m.Pull(ctx, "master"); err != nil {
		t.Fatalf("got unexpected error: %s", err)
	}

	if head, _ := m.Head(); head != tip {
		t.Fatalf("mirror is not at the upstream tip:\nwant:\t%s\ngot:\t%s", tip, head)
	}
	if b, err := os.ReadFile(filepath.Join(localPath, "file-c")); err != nil || string(b) != "c" {
		t.Fatalf("worktree is not updated: %q, %v", b, err)
	}

	// Idempotent
	if err := m.Pull(ctx, "master"); err != nil {
		t.Fatalf("got unexpected error on the second pull: %s", err)
	}

	if changed, err := m.FetchAndDiff(ctx, "master"); err != nil || changed {
		t.Fatalf("mirror must be up to date: changed = %v, err = %v", changed, err)
	}

	// Reopening reuses the checkout
	m2, err := EnsureCloned(ctx, up.dir, localPath)
	if err != nil {
		t.Fatalf("got unexpected error: %s", err)
	}
	if head, _ := m2.Head(); head != tip {
		t.Fatalf("reopened mirror has a different head: %s", head)
	}
}

func TestUnknownBranch(t *testing.T) {
	up := newUpstream(t)
	ctx := context.Background()

	m, err := EnsureCloned(ctx, up.dir, filepath.Join(t.TempDir(), "m"))
	if err != nil {
		t.Fatalf("got unexpected error: %s", err)
	}

	_, err = m.FetchAndDiff(ctx, "no-such-branch")
	if !unikernel.IsRepositoryError(err) || !errors.Is(err, unikernel.ErrUnknownBranch) {
		t.Fatalf("got unexpected error:\nwant error:\tRepositoryError(ErrUnknownBranch)\ngot error:\t%v", err)
	}
}

func TestFailedCloneLeavesNothing(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git is not installed")
	}

	parent := t.TempDir()
	localPath := filepath.Join(parent, "m")

	_, err := EnsureCloned(context.Background(), filepath.Join(parent, "does-not-exist"), localPath)
	if !unikernel.IsRepositoryError(err) {
		t.Fatalf("got unexpected error:\nwant error:\tRepositoryError\ngot error:\t%v", err)
	}

	if _, err := os.Stat(localPath); !os.IsNotExist(err) {
		t.Fatalf("local path must not exist after a failed clone: %v", err)
	}

	entries, err := os.ReadDir(parent)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("temporary clone directory is left behind: %v", entries)
	}
}

func TestFailedFetchKeepsCheckout(t *testing.T) {
	up := newUpstream(t)
	ctx := context.Background()

	localPath := filepath.Join(t.TempDir(), "m")

	m, err := EnsureCloned(ctx, up.dir, localPath)
	if err != nil {
		t.Fatalf("got unexpected error: %s", err)
	}

	before, _ := m.Head()

	if err := os.RemoveAll(up.dir); err != nil {
		t.Fatal(err)
	}

	if _, err := m.FetchAndDiff(ctx, "master"); !unikernel.IsRepositoryError(err) {
		t.Fatalf("got unexpected error:\nwant error:\tRepositoryError\ngot error:\t%v", err)
	}

	if after, _ := m.Head(); after != before {
		t.Fatalf("checkout has been changed by a failed fetch")
	}
	if _, err := os.Stat(filepath.Join(localPath, "capstanfile")); err != nil {
		t.Fatalf("worktree is damaged: %s", err)
	}
}

func TestMissingRemoteIsCreated(t *testing.T) {
	up := newUpstream(t)
	ctx := context.Background()

	localPath := filepath.Join(t.TempDir(), "m")

	m, err := EnsureCloned(ctx, up.dir, localPath)
	if err != nil {
		t.Fatalf("got unexpected error: %s", err)
	}

	if err := m.repo.DeleteRemote("origin"); err != nil {
		t.Fatal(err)
	}

	m, err = EnsureCloned(ctx, up.dir, localPath)
	if err != nil {
		t.Fatalf("got unexpected error: %s", err)
	}

	up.commit("capstanfile", "base: cloudius/osv-openjdk\n")

	if changed, err := m.FetchAndDiff(ctx, "master"); err != nil || !changed {
		t.Fatalf("got unexpected result: changed = %v, err = %v", changed, err)
	}
}

func TestNonFastForward(t *testing.T) {
	up := newUpstream(t)
	ctx := context.Background()

	m, err := EnsureCloned(ctx, up.dir, filepath.Join(t.TempDir(), "m"))
	if err != nil {
		t.Fatalf("got unexpected error: %s", err)
	}

	// A local commit that upstream does not have
	wt, _ := m.repo.Worktree()
	if err := os.WriteFile(filepath.Join(m.Path, "local"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	wt.Add("local")
	if _, err := wt.Commit("local", &git.CommitOptions{
		Author: &object.Signature{Name: "Test User", Email: "test@example.com", When: time.Now()},
	}); err != nil {
		t.Fatal(err)
	}

	up.commit("capstanfile", "base: cloudius/osv-base\n")

	if _, err := m.FetchAndDiff(ctx, "master"); err != nil {
		t.Fatalf("got unexpected error: %s", err)
	}

	if err := m.Pull(ctx, "master"); !errors.Is(err, unikernel.ErrNotFastForward) {
		t.Fatalf("got unexpected error:\nwant error:\tErrNotFastForward\ngot error:\t%v", err)
	}
}

func TestInterruptedPullIsRepaired(t *testing.T) {
	up := newUpstream(t)
	ctx := context.Background()

	m, err := EnsureCloned(ctx, up.dir, filepath.Join(t.TempDir(), "m"))
	if err != nil {
		t.Fatalf("got unexpected error: %s", err)
	}

	tip := up.commit("file-b", "b")

	if _, err := m.FetchAndDiff(ctx, "master"); err != nil {
		t.Fatalf("got unexpected error: %s", err)
	}

	// The branch is moved to the tip, but the worktree was never checked out
	if err := m.repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName("master"), plumbing.NewHash(tip))); err != nil {
		t.Fatal(err)
	}

	changed, err := m.FetchAndDiff(ctx, "master")
	if err != nil {
		t.Fatalf("got unexpected error: %s", err)
	}
	if !changed {
		t.Fatalf("worktree lacks upstream content, but no changes were detected")
	}

	if err := m.Pull(ctx, "master"); err != nil {
		t.Fatalf("got unexpected error: %s", err)
	}

	if b, err := os.ReadFile(filepath.Join(m.Path, "file-b")); err != nil || string(b) != "b" {
		t.Fatalf("worktree is not repaired: %q, %v", b, err)
	}

	if changed, err := m.FetchAndDiff(ctx, "master"); err != nil || changed {
		t.Fatalf("mirror must be up to date: changed = %v, err = %v", changed, err)
	}
}

func TestUntrackedFilesAreIgnored(t *testing.T) {
	up := newUpstream(t)
	ctx := context.Background()

	m, err := EnsureCloned(ctx, up.dir, filepath.Join(t.TempDir(), "m"))
	if err != nil {
		t.Fatalf("got unexpected error: %s", err)
	}

	if err := os.WriteFile(filepath.Join(m.Path, "build.log"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	if changed, err := m.FetchAndDiff(ctx, "master"); err != nil || changed {
		t.Fatalf("untracked files must not count as changes: changed = %v, err = %v", changed, err)
	}
}
