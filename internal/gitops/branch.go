package gitops

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"go.uber.org/zap"
)

// BranchSuffix terminates every fix branch name
const BranchSuffix = "_AI_Fix"

// Sanitize uppercases s and keeps only A-Z, 0-9 and literal underscores.
// Whitespace and punctuation drop out, so "J. Doe" becomes "JDOE".
func Sanitize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(s) {
		switch {
		case unicode.IsSpace(r):
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// BranchName returns the deterministic fix branch for two identity seeds
func BranchName(seedA, seedB string) string {
	return Sanitize(seedA) + "_" + Sanitize(seedB) + BranchSuffix
}

// CreateBranch checks out the fix branch for the seeds, creating it when
// needed. An existing local branch is reused; an existing remote-tracking
// branch becomes the start point so later pushes fast-forward.
func (g *Gateway) CreateBranch(repoPath, seedA, seedB string) (string, error) {
	name := BranchName(seedA, seedB)

	repo, err := open(repoPath)
	if err != nil {
		return "", err
	}
	wt, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("worktree: %w", err)
	}

	local := plumbing.NewBranchReferenceName(name)
	if _, err := repo.Reference(local, true); err == nil {
		if err := wt.Checkout(&git.CheckoutOptions{Branch: local, Keep: true}); err != nil {
			return "", fmt.Errorf("checkout %s: %w", name, err)
		}
		g.logger.Debug("checked out existing branch", zap.String("branch", name))
		return name, nil
	} else if !isMissingRef(err) {
		return "", fmt.Errorf("lookup %s: %w", name, err)
	}

	opts := &git.CheckoutOptions{Branch: local, Create: true, Keep: true}
	if remote, err := repo.Reference(plumbing.NewRemoteReferenceName("origin", name), true); err == nil {
		opts.Hash = remote.Hash()
	}
	if err := wt.Checkout(opts); err != nil {
		return "", fmt.Errorf("create branch %s: %w", name, err)
	}
	g.logger.Info("created fix branch", zap.String("branch", name))
	return name, nil
}
