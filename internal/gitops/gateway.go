// Package gitops is the source control gateway: clone, fix-branch creation
// and commit/push with credentials injected at the transport level.
package gitops

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"go.uber.org/zap"

	"github.com/hochfrequenz/heal-orchestrator/internal/domain"
	"github.com/hochfrequenz/heal-orchestrator/internal/secrets"
)

// Options configures the gateway
type Options struct {
	UserName              string
	UserEmail             string
	TokenUser             string
	KnownHosts            string
	InsecureIgnoreHostKey bool
	KeyDir                string // where scoped key files are created; os.TempDir when empty
}

// Gateway performs git operations through go-git
type Gateway struct {
	opts     Options
	redactor *secrets.Redactor
	logger   *zap.Logger
}

// NewGateway creates a gateway. redactor scrubs every error it returns.
func NewGateway(opts Options, redactor *secrets.Redactor, logger *zap.Logger) *Gateway {
	if opts.TokenUser == "" {
		opts.TokenUser = "x-access-token"
	}
	if opts.UserName == "" {
		opts.UserName = "AI Agent"
	}
	if opts.UserEmail == "" {
		opts.UserEmail = "ai-agent@heal-orch.local"
	}
	if redactor == nil {
		redactor = secrets.NewRedactor(false)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{opts: opts, redactor: redactor, logger: logger.Named("gitops")}
}

// Clone clones remoteURL into a directory named after the repository below
// destRoot. Every failure is reported as an *AuthError.
func (g *Gateway) Clone(ctx context.Context, remoteURL string, auth Auth, destRoot string) (*domain.RepositoryHandle, error) {
	dest := filepath.Join(destRoot, RepoDirName(remoteURL))
	if err := g.clone(ctx, remoteURL, "", 0, auth, dest); err != nil {
		return nil, err
	}
	g.logger.Info("repository cloned", zap.String("url", remoteURL), zap.String("path", dest))
	return &domain.RepositoryHandle{
		LocalPath: dest,
		RemoteURL: remoteURL,
		AuthMode:  auth.Mode,
	}, nil
}

// CloneBranch makes a shallow single-branch clone into dest.
// The universal runner uses it to fetch the fix branch fresh.
func (g *Gateway) CloneBranch(ctx context.Context, remoteURL, branch string, auth Auth, dest string) error {
	return g.clone(ctx, remoteURL, branch, 1, auth, dest)
}

func (g *Gateway) clone(ctx context.Context, remoteURL, branch string, depth int, auth Auth, dest string) error {
	err := g.withTransportAuth(auth, func(am transport.AuthMethod) error {
		opts := &git.CloneOptions{
			URL:   remoteURL,
			Auth:  am,
			Depth: depth,
		}
		if branch != "" {
			opts.ReferenceName = plumbing.NewBranchReferenceName(branch)
			opts.SingleBranch = true
		}
		_, err := git.PlainCloneContext(ctx, dest, false, opts)
		return err
	})
	if err != nil {
		return &AuthError{
			Op:   "clone",
			Kind: classify(err),
			Msg:  g.redactor.Scrub(err.Error()),
		}
	}
	return nil
}

var unsafeDirChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// RepoDirName derives a local directory name from a clone URL
func RepoDirName(remoteURL string) string {
	p := remoteURL
	if u, err := url.Parse(remoteURL); err == nil && u.Path != "" {
		p = u.Path
	} else if i := strings.LastIndex(remoteURL, ":"); i >= 0 {
		// scp-like git@host:org/repo.git
		p = remoteURL[i+1:]
	}
	name := strings.TrimSuffix(path.Base(strings.TrimRight(p, "/")), ".git")
	name = unsafeDirChars.ReplaceAllString(name, "_")
	if name == "" || name == "." || name == ".." || name == "_" {
		return "repo"
	}
	return name
}

func open(repoPath string) (*git.Repository, error) {
	repo, err := git.PlainOpen(repoPath)
	if err != nil {
		return nil, fmt.Errorf("open repository %s: %w", repoPath, err)
	}
	return repo, nil
}

// isMissingRef reports whether err means a reference does not exist
func isMissingRef(err error) bool {
	return errors.Is(err, plumbing.ErrReferenceNotFound)
}
