// Package sandbox runs the universal runner against a remote branch and
// returns its structured result. The docker executor isolates every
// invocation in a fresh container; the local executor runs in-process.
package sandbox

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/hochfrequenz/heal-orchestrator/internal/domain"
	"github.com/hochfrequenz/heal-orchestrator/internal/gitops"
)

// Request identifies the branch to test
type Request struct {
	RunID     string
	Iteration int
	RepoURL   string
	Branch    string
	Auth      gitops.Auth
}

// Executor runs one sandbox invocation. Implementations always return a
// result; faults surface as SYSTEM_ERROR.
type Executor interface {
	Execute(ctx context.Context, req Request) domain.SandboxResult
}

// ExecutorFunc adapts a function to Executor
type ExecutorFunc func(ctx context.Context, req Request) domain.SandboxResult

// Execute calls f
func (f ExecutorFunc) Execute(ctx context.Context, req Request) domain.SandboxResult {
	return f(ctx, req)
}

// containerName builds a unique, docker-safe container name
func containerName(req Request) string {
	run := req.RunID
	if len(run) > 8 {
		run = run[:8]
	}
	if run == "" {
		run = "adhoc"
	}
	return fmt.Sprintf("heal-%s-%d-%s", run, req.Iteration, randomHex(4))
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%x", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
