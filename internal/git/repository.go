package git

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/gofrs/flock"

	"github.com/stacklok/cargo-registry-server/internal/errs"
)

// Repository is the local index working tree
type Repository struct {
	cfg  Config
	repo *git.Repository
	lock *flock.Flock
}

// New validates cfg and returns an unsynced Repository. Nothing touches
// the filesystem until Lock or Sync is called.
func New(cfg Config) (*Repository, error) {
	if cfg.Path == "" {
		return nil, errs.Validationf("git.New", "index path is required")
	}
	if cfg.OriginURL == "" {
		return nil, errs.Validationf("git.New", "index origin URL is required")
	}
	cfg.applyDefaults()

	return &Repository{
		cfg:  cfg,
		lock: flock.New(filepath.Clean(cfg.Path) + defaultLockFileName),
	}, nil
}

// Path returns the working tree directory
func (r *Repository) Path() string {
	return r.cfg.Path
}

// Lock takes the advisory lock guarding the working tree. It never blocks.
func (r *Repository) Lock() error {
	if err := os.MkdirAll(filepath.Dir(filepath.Clean(r.cfg.Path)), 0o750); err != nil {
		return errs.E(errs.KindFatal, "git.Lock", fmt.Errorf("failed to create index parent directory: %w", err))
	}
	locked, err := r.lock.TryLock()
	if err != nil {
		return errs.E(errs.KindFatal, "git.Lock", fmt.Errorf("failed to lock %s: %w", r.lock.Path(), err))
	}
	if !locked {
		return errs.E(errs.KindFatal, "git.Lock", fmt.Errorf("%w: %s", ErrLocked, r.lock.Path()))
	}
	return nil
}

// Unlock releases the lock taken by Lock
func (r *Repository) Unlock() error {
	return r.lock.Unlock()
}

// Sync brings the local repository up to date with origin, cloning it
// first if needed. Errors of kind Fatal must not be retried automatically.
func (r *Repository) Sync(ctx context.Context) (*SyncResult, error) {
	if r.repo == nil {
		repo, cloned, err := r.openOrClone(ctx)
		if err != nil {
			return nil, err
		}
		r.repo = repo
		if cloned {
			head, err := r.branchHash()
			if err != nil {
				return nil, err
			}
			slog.Info("Cloned index repository", "path", r.cfg.Path, "origin", r.cfg.OriginURL, "head", head.String())
			return &SyncResult{Outcome: OutcomeCloned, Head: head.String(), Remote: head.String()}, nil
		}
	}

	if err := r.verifyOrigin(r.repo); err != nil {
		return nil, err
	}
	if err := r.fetch(ctx); err != nil {
		return nil, err
	}
	return r.reconcile()
}

func (r *Repository) openOrClone(ctx context.Context) (*git.Repository, bool, error) {
	const op = "git.Sync"

	info, err := osfs.Default.Stat(r.cfg.Path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		repo, err := r.clone(ctx)
		return repo, err == nil, err
	case err != nil:
		return nil, false, errs.E(errs.KindInternal, op, fmt.Errorf("failed to stat %s: %w", r.cfg.Path, err))
	case !info.IsDir():
		return nil, false, errs.E(errs.KindFatal, op, fmt.Errorf("%w: %s is not a directory", ErrPathOccupied, r.cfg.Path))
	}

	entries, err := osfs.Default.ReadDir(r.cfg.Path)
	if err != nil {
		return nil, false, errs.E(errs.KindInternal, op, fmt.Errorf("failed to list %s: %w", r.cfg.Path, err))
	}
	if len(entries) == 0 {
		repo, err := r.clone(ctx)
		return repo, err == nil, err
	}

	repo, err := git.PlainOpen(r.cfg.Path)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, false, errs.E(errs.KindFatal, op,
			fmt.Errorf("%w: %s is not empty and is not a git repository", ErrPathOccupied, r.cfg.Path))
	}
	if err != nil {
		return nil, false, errs.E(errs.KindFatal, op, fmt.Errorf("failed to open repository: %w", err))
	}
	slog.Debug("Opened existing index repository", "path", r.cfg.Path)
	return repo, false, nil
}

func (r *Repository) clone(ctx context.Context) (*git.Repository, error) {
	slog.Info("Cloning index repository", "path", r.cfg.Path, "origin", r.cfg.OriginURL, "branch", r.cfg.Branch)

	return withRetry(ctx, r.cfg, "clone", func(ctx context.Context) (*git.Repository, error) {
		repo, err := git.PlainCloneContext(ctx, r.cfg.Path, false, &git.CloneOptions{
			URL:           r.cfg.OriginURL,
			Auth:          r.auth(),
			RemoteName:    RemoteName,
			ReferenceName: plumbing.NewBranchReferenceName(r.cfg.Branch),
			SingleBranch:  true,
		})
		if err != nil {
			if errors.Is(err, transport.ErrEmptyRemoteRepository) || errors.Is(err, plumbing.ErrReferenceNotFound) {
				return nil, errs.E(errs.KindFatal, "git.clone", fmt.Errorf("%w: %v", ErrEmptyRemote, err))
			}
			return nil, fmt.Errorf("failed to clone %s: %w", r.cfg.OriginURL, err)
		}
		return repo, nil
	})
}

func (r *Repository) verifyOrigin(repo *git.Repository) error {
	remote, err := repo.Remote(RemoteName)
	if errors.Is(err, git.ErrRemoteNotFound) {
		return errs.E(errs.KindFatal, "git.verifyOrigin", fmt.Errorf("%w: no %q remote", ErrOriginMismatch, RemoteName))
	}
	if err != nil {
		return errs.E(errs.KindInternal, "git.verifyOrigin", fmt.Errorf("failed to read remote: %w", err))
	}

	urls := remote.Config().URLs
	if len(urls) == 0 || urls[0] != r.cfg.OriginURL {
		return errs.E(errs.KindFatal, "git.verifyOrigin",
			fmt.Errorf("%w: have %v, want %s", ErrOriginMismatch, urls, r.cfg.OriginURL))
	}
	return nil
}

func (r *Repository) fetch(ctx context.Context) error {
	refSpec := gitconfig.RefSpec(fmt.Sprintf("+refs/heads/%s:refs/remotes/%s/%s", r.cfg.Branch, RemoteName, r.cfg.Branch))

	_, err := withRetry(ctx, r.cfg, "fetch", func(ctx context.Context) (struct{}, error) {
		err := r.repo.FetchContext(ctx, &git.FetchOptions{
			RemoteName: RemoteName,
			RefSpecs:   []gitconfig.RefSpec{refSpec},
			Auth:       r.auth(),
		})
		if err == nil || errors.Is(err, git.NoErrAlreadyUpToDate) {
			return struct{}{}, nil
		}
		var noMatch git.NoMatchingRefSpecError
		if errors.As(err, &noMatch) || errors.Is(err, transport.ErrEmptyRemoteRepository) {
			return struct{}{}, errs.E(errs.KindFatal, "git.fetch", fmt.Errorf("%w: %v", ErrEmptyRemote, err))
		}
		return struct{}{}, fmt.Errorf("failed to fetch %s: %w", r.cfg.OriginURL, err)
	})
	return err
}

// reconcile compares the local branch with the fetched remote branch and
// fast-forwards when possible
func (r *Repository) reconcile() (*SyncResult, error) {
	const op = "git.reconcile"

	branchRef := plumbing.NewBranchReferenceName(r.cfg.Branch)
	local, err := r.branchHash()
	if err != nil {
		return nil, err
	}
	remoteRef, err := r.repo.Reference(plumbing.NewRemoteReferenceName(RemoteName, r.cfg.Branch), true)
	if err != nil {
		return nil, errs.E(errs.KindInternal, op, fmt.Errorf("failed to resolve remote branch: %w", err))
	}
	remote := remoteRef.Hash()

	result := &SyncResult{Head: local.String(), Remote: remote.String()}
	if local == remote {
		result.Outcome = OutcomeUpToDate
		return result, nil
	}

	localCommit, err := r.repo.CommitObject(local)
	if err != nil {
		return nil, errs.E(errs.KindInternal, op, fmt.Errorf("failed to load local commit: %w", err))
	}
	remoteCommit, err := r.repo.CommitObject(remote)
	if err != nil {
		return nil, errs.E(errs.KindInternal, op, fmt.Errorf("failed to load remote commit: %w", err))
	}

	behind, err := localCommit.IsAncestor(remoteCommit)
	if err != nil {
		return nil, errs.E(errs.KindInternal, op, fmt.Errorf("failed to compare history: %w", err))
	}
	if behind {
		if err := r.fastForward(branchRef, remote); err != nil {
			return nil, err
		}
		slog.Info("Fast-forwarded index repository", "from", local.String(), "to", remote.String())
		result.Outcome = OutcomeFastForward
		result.Head = remote.String()
		return result, nil
	}

	ahead, err := remoteCommit.IsAncestor(localCommit)
	if err != nil {
		return nil, errs.E(errs.KindInternal, op, fmt.Errorf("failed to compare history: %w", err))
	}
	if ahead {
		result.Outcome = OutcomeAhead
		return result, nil
	}

	return nil, errs.E(errs.KindFatal, op,
		fmt.Errorf("%w: local %s, origin %s", ErrDiverged, local.String(), remote.String()))
}

func (r *Repository) fastForward(branchRef plumbing.ReferenceName, target plumbing.Hash) error {
	const op = "git.fastForward"

	if err := r.repo.Storer.SetReference(plumbing.NewHashReference(branchRef, target)); err != nil {
		return errs.E(errs.KindInternal, op, fmt.Errorf("failed to move %s: %w", branchRef, err))
	}
	if err := r.repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, branchRef)); err != nil {
		return errs.E(errs.KindInternal, op, fmt.Errorf("failed to update HEAD: %w", err))
	}

	wt, err := r.repo.Worktree()
	if err != nil {
		return errs.E(errs.KindInternal, op, fmt.Errorf("failed to get worktree: %w", err))
	}
	if err := wt.Reset(&git.ResetOptions{Commit: target, Mode: git.HardReset}); err != nil {
		return errs.E(errs.KindInternal, op, fmt.Errorf("failed to reset worktree: %w", err))
	}
	return nil
}

// Head returns the commit the tracked branch points at
func (r *Repository) Head() (string, error) {
	if r.repo == nil {
		return "", errs.E(errs.KindInternal, "git.Head", ErrNotReady)
	}
	h, err := r.branchHash()
	if err != nil {
		return "", err
	}
	return h.String(), nil
}

func (r *Repository) branchHash() (plumbing.Hash, error) {
	ref, err := r.repo.Reference(plumbing.NewBranchReferenceName(r.cfg.Branch), true)
	if err != nil {
		return plumbing.ZeroHash, errs.E(errs.KindFatal, "git.branchHash",
			fmt.Errorf("failed to resolve local branch %s: %w", r.cfg.Branch, err))
	}
	return ref.Hash(), nil
}

// ReadFile returns the content of p as committed at HEAD. A file that does
// not exist yet yields nil content and no error.
func (r *Repository) ReadFile(p string) ([]byte, error) {
	const op = "git.ReadFile"
	if r.repo == nil {
		return nil, errs.E(errs.KindInternal, op, ErrNotReady)
	}

	head, err := r.repo.Head()
	if err != nil {
		return nil, errs.E(errs.KindInternal, op, fmt.Errorf("failed to get HEAD reference: %w", err))
	}
	commit, err := r.repo.CommitObject(head.Hash())
	if err != nil {
		return nil, errs.E(errs.KindInternal, op, fmt.Errorf("failed to get commit object: %w", err))
	}
	file, err := commit.File(p)
	if errors.Is(err, object.ErrFileNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.E(errs.KindInternal, op, fmt.Errorf("failed to get file %s: %w", p, err))
	}
	content, err := file.Contents()
	if err != nil {
		return nil, errs.E(errs.KindInternal, op, fmt.Errorf("failed to read file contents: %w", err))
	}
	return []byte(content), nil
}

// WriteFile replaces the working tree file at p, creating parent
// directories as needed
func (r *Repository) WriteFile(p string, data []byte) error {
	const op = "git.WriteFile"
	if r.repo == nil {
		return errs.E(errs.KindInternal, op, ErrNotReady)
	}

	wt, err := r.repo.Worktree()
	if err != nil {
		return errs.E(errs.KindInternal, op, fmt.Errorf("failed to get worktree: %w", err))
	}
	if err := wt.Filesystem.MkdirAll(path.Dir(p), 0o755); err != nil {
		return errs.E(errs.KindInternal, op, fmt.Errorf("failed to create directory for %s: %w", p, err))
	}
	if err := util.WriteFile(wt.Filesystem, p, data, 0o644); err != nil {
		return errs.E(errs.KindInternal, op, fmt.Errorf("failed to write %s: %w", p, err))
	}
	return nil
}

// Commit stages paths and commits them on top of HEAD with the service
// identity. It returns the new commit id.
func (r *Repository) Commit(paths []string, message string) (string, error) {
	const op = "git.Commit"
	if r.repo == nil {
		return "", errs.E(errs.KindInternal, op, ErrNotReady)
	}

	wt, err := r.repo.Worktree()
	if err != nil {
		return "", errs.E(errs.KindInternal, op, fmt.Errorf("failed to get worktree: %w", err))
	}
	for _, p := range paths {
		if _, err := wt.Add(p); err != nil {
			return "", errs.E(errs.KindInternal, op, fmt.Errorf("failed to stage %s: %w", p, err))
		}
	}

	hash, err := wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  r.cfg.AuthorName,
			Email: r.cfg.AuthorEmail,
			When:  time.Now(),
		},
	})
	if err != nil {
		return "", errs.E(errs.KindInternal, op, fmt.Errorf("failed to commit: %w", err))
	}
	return hash.String(), nil
}

// Reset discards staged and working tree changes to tracked files so that a
// failed write cannot end up in a later commit
func (r *Repository) Reset() error {
	const op = "git.Reset"
	if r.repo == nil {
		return errs.E(errs.KindInternal, op, ErrNotReady)
	}

	head, err := r.branchHash()
	if err != nil {
		return err
	}
	wt, err := r.repo.Worktree()
	if err != nil {
		return errs.E(errs.KindInternal, op, fmt.Errorf("failed to get worktree: %w", err))
	}
	if err := wt.Reset(&git.ResetOptions{Commit: head, Mode: git.HardReset}); err != nil {
		return errs.E(errs.KindInternal, op, fmt.Errorf("failed to reset worktree: %w", err))
	}
	return nil
}

// Push sends the tracked branch to origin
func (r *Repository) Push(ctx context.Context) error {
	if r.repo == nil {
		return errs.E(errs.KindInternal, "git.Push", ErrNotReady)
	}
	refSpec := gitconfig.RefSpec(fmt.Sprintf("refs/heads/%s:refs/heads/%s", r.cfg.Branch, r.cfg.Branch))

	_, err := withRetry(ctx, r.cfg, "push", func(ctx context.Context) (struct{}, error) {
		err := r.repo.PushContext(ctx, &git.PushOptions{
			RemoteName: RemoteName,
			RefSpecs:   []gitconfig.RefSpec{refSpec},
			Auth:       r.auth(),
		})
		if err == nil || errors.Is(err, git.NoErrAlreadyUpToDate) {
			return struct{}{}, nil
		}
		return struct{}{}, fmt.Errorf("failed to push to %s: %w", r.cfg.OriginURL, err)
	})
	return err
}

func (r *Repository) auth() transport.AuthMethod {
	if r.cfg.Auth == nil || r.cfg.Auth.Username == "" {
		return nil
	}
	return &githttp.BasicAuth{
		Username: r.cfg.Auth.Username,
		Password: r.cfg.Auth.Password,
	}
}

// withRetry runs a network operation with a per-attempt timeout and bounded
// exponential backoff. Fatal errors stop immediately; anything else left
// after the last attempt is reported as Transient.
func withRetry[T any](ctx context.Context, cfg Config, name string, fn func(context.Context) (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	if cfg.RetryInitialInterval > 0 {
		b.InitialInterval = cfg.RetryInitialInterval
	}

	result, err := backoff.Retry(ctx, func() (T, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, cfg.NetworkTimeout)
		defer cancel()

		v, err := fn(attemptCtx)
		if err != nil && errs.Is(err, errs.KindFatal) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(cfg.MaxAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.Warn("Index network operation failed, retrying", "operation", name, "error", err, "retry_in", next)
		}),
	)
	if err == nil {
		return result, nil
	}
	if errs.Is(err, errs.KindFatal) {
		return result, err
	}
	return result, errs.E(errs.KindTransient, "git."+name, err)
}
