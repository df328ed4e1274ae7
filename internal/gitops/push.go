package gitops

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"go.uber.org/zap"
)

// CommitAndPush stages every change, commits it with message and pushes
// branch to origin. A nil message skips staging and committing and only
// pushes the current HEAD, which publishes a fresh branch. Having nothing to
// commit is not an error.
func (g *Gateway) CommitAndPush(ctx context.Context, repoPath string, message *string, branch string, auth Auth) error {
	repo, err := open(repoPath)
	if err != nil {
		return g.redactor.ScrubError(err)
	}

	if message != nil {
		err := g.commit(repo, *message)
		switch {
		case errors.Is(err, ErrNothingToCommit):
			g.logger.Info("nothing to commit", zap.String("branch", branch))
		case err != nil:
			return g.redactor.ScrubError(err)
		}
	}

	spec := config.RefSpec(fmt.Sprintf("refs/heads/%s:refs/heads/%s", branch, branch))
	err = g.withTransportAuth(auth, func(am transport.AuthMethod) error {
		return repo.PushContext(ctx, &git.PushOptions{
			RemoteName: "origin",
			RefSpecs:   []config.RefSpec{spec},
			Auth:       am,
		})
	})
	switch {
	case err == nil:
		g.logger.Info("pushed branch", zap.String("branch", branch))
		return nil
	case errors.Is(err, git.NoErrAlreadyUpToDate):
		g.logger.Debug("remote already up to date", zap.String("branch", branch))
		return nil
	case isAuthFailure(err):
		return &AuthError{Op: "push", Kind: classify(err), Msg: g.redactor.Scrub(err.Error())}
	default:
		return &PushError{Branch: branch, Msg: g.redactor.Scrub(err.Error())}
	}
}

// commit stages all changes and records them. Returns ErrNothingToCommit
// for a clean worktree.
func (g *Gateway) commit(repo *git.Repository, message string) error {
	name, email, err := g.ensureIdentity(repo)
	if err != nil {
		return err
	}

	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("worktree: %w", err)
	}
	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return fmt.Errorf("stage changes: %w", err)
	}

	status, err := wt.Status()
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}
	if status.IsClean() {
		return ErrNothingToCommit
	}

	_, err = wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{Name: name, Email: email, When: time.Now()},
	})
	if errors.Is(err, git.ErrEmptyCommit) {
		return ErrNothingToCommit
	}
	if err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ensureIdentity writes the configured commit identity into the repository
// config when none is set there, and returns the identity to use.
func (g *Gateway) ensureIdentity(repo *git.Repository) (string, string, error) {
	cfg, err := repo.Config()
	if err != nil {
		return "", "", fmt.Errorf("read config: %w", err)
	}
	if cfg.User.Name != "" && cfg.User.Email != "" {
		return cfg.User.Name, cfg.User.Email, nil
	}
	if cfg.User.Name == "" {
		cfg.User.Name = g.opts.UserName
	}
	if cfg.User.Email == "" {
		cfg.User.Email = g.opts.UserEmail
	}
	if err := repo.SetConfig(cfg); err != nil {
		return "", "", fmt.Errorf("write identity: %w", err)
	}
	return cfg.User.Name, cfg.User.Email, nil
}
