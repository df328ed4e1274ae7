package sandbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hochfrequenz/heal-orchestrator/internal/domain"
	"github.com/hochfrequenz/heal-orchestrator/internal/language"
	"github.com/hochfrequenz/heal-orchestrator/internal/runner"
	"github.com/hochfrequenz/heal-orchestrator/internal/secrets"
)

// LocalExecutor runs the universal runner in-process against a fresh clone
// in a temporary directory. It offers no isolation.
type LocalExecutor struct {
	runner      *runner.Runner
	stepTimeout time.Duration
	tempDir     string
	redactor    *secrets.Redactor
	logger      *zap.Logger
	mu          sync.Mutex
}

// NewLocalExecutor creates an in-process executor
func NewLocalExecutor(cloner runner.Cloner, profiles *language.Registry, stepTimeout time.Duration, tempDir string, redactor *secrets.Redactor, logger *zap.Logger) *LocalExecutor {
	if redactor == nil {
		redactor = secrets.NewRedactor(false)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalExecutor{
		runner:      runner.New(cloner, profiles, logger),
		stepTimeout: stepTimeout,
		tempDir:     tempDir,
		redactor:    redactor,
		logger:      logger.Named("sandbox"),
	}
}

// Execute clones req.Branch into a temp dir, runs the tests and removes the dir
func (l *LocalExecutor) Execute(ctx context.Context, req Request) domain.SandboxResult {
	l.mu.Lock()
	defer l.mu.Unlock()

	dir, err := os.MkdirTemp(l.tempDir, "heal-local-")
	if err != nil {
		return domain.SystemErrorResult("", fmt.Sprintf("create sandbox dir: %v", err))
	}
	defer os.RemoveAll(dir)

	l.logger.Info("running local sandbox", zap.String("branch", req.Branch), zap.String("dir", dir))
	res := l.runner.Run(ctx, runner.Request{
		RepoURL:     req.RepoURL,
		Branch:      req.Branch,
		Auth:        req.Auth,
		WorkDir:     filepath.Join(dir, "repo"),
		StepTimeout: l.stepTimeout,
	})
	res.RawLogs = l.redactor.Scrub(res.RawLogs)
	for i := range res.Errors {
		res.Errors[i].Message = l.redactor.Scrub(res.Errors[i].Message)
	}
	return res
}
