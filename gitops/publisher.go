// Package gitops commits the sync record to the repository it lives in and pushes it, so the
// next scheduled run starts from the published checkpoint.
package gitops

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"go.uber.org/zap"
)

// DefaultRemoteName is the remote pushed to when Options.Remote is empty.
const DefaultRemoteName = "origin"

var (
	// ErrNotRepository is returned when the state file is not inside a git worktree.
	ErrNotRepository = errors.New("not a git repository")
	// ErrOutsideWorktree is returned when the published path is not under the worktree root.
	ErrOutsideWorktree = errors.New("path is outside the worktree")
	// ErrPushRejected is returned when the remote refuses a non fast-forward push.
	ErrPushRejected = errors.New("push rejected: not a fast-forward")
	// ErrAuthFailed is returned when the remote rejects the credentials.
	ErrAuthFailed = errors.New("authentication failed")
)

// Options configures commits and pushes
type Options struct {
	Name   string // committer name
	Email  string // committer email
	Token  string // token used for HTTPS basic auth on push; empty means anonymous
	Remote string
	Push   bool
}

// Publisher stages, commits and pushes a single file
type Publisher struct {
	repo     *git.Repository
	worktree *git.Worktree
	root     string
	opts     Options
	logger   *zap.Logger
	now      func() time.Time
}

// Open finds the repository containing path, walking up parent directories
func Open(path string, opts Options, logger *zap.Logger) (*Publisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Remote == "" {
		opts.Remote = DefaultRemoteName
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	repo, err := git.PlainOpenWithOptions(filepath.Dir(abs), &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("%w: %s", ErrNotRepository, filepath.Dir(abs))
		}
		return nil, fmt.Errorf("failed to open repository: %w", err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("failed to get worktree: %w", err)
	}

	return &Publisher{
		repo:     repo,
		worktree: worktree,
		root:     worktree.Filesystem.Root(),
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Publish stages path, commits it with message if it changed, and pushes when enabled.
// A clean file is not an error; the push is still attempted so that a commit left behind
// by an earlier failed push reaches the remote.
func (p *Publisher) Publish(ctx context.Context, path, message string) error {
	rel, err := p.relative(path)
	if err != nil {
		return err
	}

	if _, err := p.worktree.Add(rel); err != nil {
		return fmt.Errorf("failed to stage %s: %w", rel, err)
	}

	status, err := p.worktree.Status()
	if err != nil {
		return fmt.Errorf("failed to get worktree status: %w", err)
	}

	if fileStatus, ok := status[rel]; ok && fileStatus.Staging != git.Unmodified && fileStatus.Staging != git.Untracked {
		sig := &object.Signature{Name: p.opts.Name, Email: p.opts.Email, When: p.now()}
		hash, err := p.worktree.Commit(message, &git.CommitOptions{Author: sig, Committer: sig})
		if err != nil {
			return fmt.Errorf("failed to commit %s: %w", rel, err)
		}
		p.logger.Info("committed state", zap.String("path", rel), zap.String("commit", hash.String()))
	} else {
		p.logger.Debug("no changes to commit", zap.String("path", rel))
	}

	if !p.opts.Push {
		return nil
	}
	return p.push(ctx)
}

func (p *Publisher) push(ctx context.Context) error {
	opts := &git.PushOptions{RemoteName: p.opts.Remote}
	if p.opts.Token != "" {
		// GitHub accepts any non-empty user name with a token as password
		opts.Auth = &githttp.BasicAuth{Username: "x-access-token", Password: p.opts.Token}
	}

	err := p.repo.PushContext(ctx, opts)
	switch {
	case err == nil:
		p.logger.Info("pushed state", zap.String("remote", p.opts.Remote))
		return nil
	case errors.Is(err, git.NoErrAlreadyUpToDate):
		return nil
	case errors.Is(err, git.ErrNonFastForwardUpdate):
		return ErrPushRejected
	case errors.Is(err, transport.ErrAuthenticationRequired), errors.Is(err, transport.ErrAuthorizationFailed):
		return fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	return fmt.Errorf("failed to push to %s: %w", p.opts.Remote, err)
}

func (p *Publisher) relative(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	root, err := filepath.EvalSymlinks(p.root)
	if err != nil {
		root = p.root
	}
	if dir, err := filepath.EvalSymlinks(filepath.Dir(abs)); err == nil {
		abs = filepath.Join(dir, filepath.Base(abs))
	}

	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == ".." || filepath.IsAbs(rel) || (len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideWorktree, path)
	}
	return filepath.ToSlash(rel), nil
}
