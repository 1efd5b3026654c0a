package swap

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shinji-kodama/swap-worktree/internal/model"
	"github.com/shinji-kodama/swap-worktree/internal/worktree"
)

// fakeWorktree is one worktree of the in-memory repository. Dirty state is
// modeled as an opaque payload string; "" means clean.
type fakeWorktree struct {
	branch   string
	head     string
	payload  string
	prunable bool
}

type fakeStash struct {
	hash    string
	message string
	payload string
}

// fakeBackend is an in-memory Backend enforcing git's rule that a branch is
// checked out in at most one worktree. Failures are injected per call.
type fakeBackend struct {
	worktrees map[string]*fakeWorktree
	branches  map[string]bool
	stashes   []fakeStash
	nextStash int

	failDetach   map[string]error // by worktree path
	failCheckout map[string]error // by "path|branch"
	failStash    map[string]error // by worktree path
	failApply    map[string]error // by worktree path
	failResolve  map[string]error // by worktree path

	// calls records every mutating call as "op path [arg]".
	calls []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		worktrees:    make(map[string]*fakeWorktree),
		branches:     make(map[string]bool),
		failDetach:   make(map[string]error),
		failCheckout: make(map[string]error),
		failStash:    make(map[string]error),
		failApply:    make(map[string]error),
		failResolve:  make(map[string]error),
	}
}

// addWorktree registers a worktree on branch with the given dirty payload.
func (f *fakeBackend) addWorktree(path, branch, payload string) {
	f.worktrees[path] = &fakeWorktree{branch: branch, head: "head-" + branch, payload: payload}
	if branch != "" {
		f.branches[branch] = true
	}
}

// snapshot renders branch assignment, dirty state, and stash list so tests
// can compare repository state before and after a call.
func (f *fakeBackend) snapshot() string {
	paths := make([]string, 0, len(f.worktrees))
	for p := range f.worktrees {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var b strings.Builder
	for _, p := range paths {
		wt := f.worktrees[p]
		fmt.Fprintf(&b, "%s=%s[%s];", p, wt.branch, wt.payload)
	}
	for _, s := range f.stashes {
		fmt.Fprintf(&b, "stash:%s[%s];", s.hash, s.payload)
	}
	return b.String()
}

func (f *fakeBackend) mutatingCalls() []string {
	return f.calls
}

func (f *fakeBackend) lookup(path string) (*fakeWorktree, error) {
	wt, ok := f.worktrees[path]
	if !ok {
		return nil, fmt.Errorf("%w: '%s'", worktree.ErrNotAWorktree, path)
	}
	return wt, nil
}

func (f *fakeBackend) ResolveWorktree(_ context.Context, path string) (model.WorktreeRef, error) {
	if err := f.failResolve[path]; err != nil {
		return model.WorktreeRef{}, err
	}
	wt, err := f.lookup(path)
	if err != nil {
		return model.WorktreeRef{}, err
	}
	return model.WorktreeRef{Path: path, Branch: wt.branch, HEAD: wt.head}, nil
}

func (f *fakeBackend) ListWorktrees(_ context.Context, _ string) ([]model.WorktreeRef, error) {
	refs := make([]model.WorktreeRef, 0, len(f.worktrees))
	for path, wt := range f.worktrees {
		refs = append(refs, model.WorktreeRef{Path: path, Branch: wt.branch, HEAD: wt.head, Prunable: wt.prunable})
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Path < refs[j].Path })
	return refs, nil
}

func (f *fakeBackend) CurrentBranch(_ context.Context, ref model.WorktreeRef) (string, error) {
	wt, err := f.lookup(ref.Path)
	if err != nil {
		return "", err
	}
	if wt.branch == "" {
		return "", worktree.ErrDetached
	}
	return wt.branch, nil
}

func (f *fakeBackend) IsDirty(_ context.Context, ref model.WorktreeRef) (bool, error) {
	wt, err := f.lookup(ref.Path)
	if err != nil {
		return false, err
	}
	return wt.payload != "", nil
}

func (f *fakeBackend) BranchExists(_ context.Context, _ string, branch string) bool {
	return f.branches[branch]
}

func (f *fakeBackend) RepositoryRoot(_ context.Context, _ string) (string, error) {
	return "/repo", nil
}

func (f *fakeBackend) CreateStash(_ context.Context, ref model.WorktreeRef, message string) (model.StashHandle, error) {
	f.calls = append(f.calls, "stash "+ref.Path)
	if err := f.failStash[ref.Path]; err != nil {
		return model.StashHandle{}, err
	}
	wt, err := f.lookup(ref.Path)
	if err != nil {
		return model.StashHandle{}, err
	}
	if wt.payload == "" {
		return model.StashHandle{}, worktree.ErrNothingToStash
	}

	f.nextStash++
	s := fakeStash{hash: fmt.Sprintf("stash%d", f.nextStash), message: message, payload: wt.payload}
	f.stashes = append([]fakeStash{s}, f.stashes...)
	wt.payload = ""
	return model.StashHandle{Hash: s.hash, Message: message}, nil
}

func (f *fakeBackend) ApplyAndDropStash(_ context.Context, ref model.WorktreeRef, stash model.StashHandle) error {
	f.calls = append(f.calls, "apply "+ref.Path+" "+stash.Hash)
	if err := f.failApply[ref.Path]; err != nil {
		return &worktree.ConflictError{Worktree: ref.Path, Stash: stash, Err: err}
	}
	wt, err := f.lookup(ref.Path)
	if err != nil {
		return err
	}
	for i, s := range f.stashes {
		if s.hash == stash.Hash {
			wt.payload += s.payload
			f.stashes = append(f.stashes[:i], f.stashes[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("stash %s not found", stash.Hash)
}

func (f *fakeBackend) Detach(_ context.Context, ref model.WorktreeRef) error {
	f.calls = append(f.calls, "detach "+ref.Path)
	if err := f.failDetach[ref.Path]; err != nil {
		return err
	}
	wt, err := f.lookup(ref.Path)
	if err != nil {
		return err
	}
	wt.branch = ""
	return nil
}

func (f *fakeBackend) CheckoutBranch(_ context.Context, ref model.WorktreeRef, branch string) error {
	f.calls = append(f.calls, "checkout "+ref.Path+" "+branch)
	if err := f.failCheckout[ref.Path+"|"+branch]; err != nil {
		return err
	}
	wt, err := f.lookup(ref.Path)
	if err != nil {
		return err
	}
	if !f.branches[branch] {
		return fmt.Errorf("invalid reference: %s", branch)
	}
	for path, other := range f.worktrees {
		if path != ref.Path && other.branch == branch {
			return errors.New("'" + branch + "' is already used by worktree at '" + path + "'")
		}
	}
	wt.branch = branch
	wt.head = "head-" + branch
	return nil
}
