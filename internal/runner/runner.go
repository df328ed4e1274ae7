// Package runner implements the universal runner: it clones the fix branch,
// detects the ecosystem, installs dependencies, runs the tests and reduces
// everything to one structured result.
package runner

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/hochfrequenz/heal-orchestrator/internal/domain"
	"github.com/hochfrequenz/heal-orchestrator/internal/extractor"
	"github.com/hochfrequenz/heal-orchestrator/internal/gitops"
	"github.com/hochfrequenz/heal-orchestrator/internal/language"
)

// DefaultStepTimeout bounds a single install or test command
const DefaultStepTimeout = 10 * time.Minute

// Cloner fetches a single branch of a remote into dest
type Cloner interface {
	CloneBranch(ctx context.Context, remoteURL, branch string, auth gitops.Auth, dest string) error
}

// Request describes one runner invocation
type Request struct {
	RepoURL     string
	Branch      string
	Auth        gitops.Auth
	WorkDir     string
	StepTimeout time.Duration
}

// Runner executes the clone, detect, install, test and extract steps
type Runner struct {
	cloner   Cloner
	profiles *language.Registry
	logger   *zap.Logger
}

// New creates a runner. A nil registry uses the built-in profiles.
func New(cloner Cloner, profiles *language.Registry, logger *zap.Logger) *Runner {
	if profiles == nil {
		profiles = language.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{cloner: cloner, profiles: profiles, logger: logger.Named("runner")}
}

// Run clones req.Branch into req.WorkDir and tests it. It always returns a
// result; internal faults become SYSTEM_ERROR.
func (r *Runner) Run(ctx context.Context, req Request) (res domain.SandboxResult) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("runner panic", zap.Any("panic", p), zap.ByteString("stack", debug.Stack()))
			res = domain.SystemErrorResult(res.Language, fmt.Sprintf("runner panic: %v", p))
		}
	}()

	if r.cloner == nil {
		return domain.SystemErrorResult("", "no cloner configured")
	}
	if err := os.MkdirAll(req.WorkDir, 0755); err != nil {
		return domain.SystemErrorResult("", fmt.Sprintf("create work dir: %v", err))
	}
	if err := r.cloner.CloneBranch(ctx, req.RepoURL, req.Branch, req.Auth, req.WorkDir); err != nil {
		return domain.SystemErrorResult("", fmt.Sprintf("clone failed: %v", err))
	}
	return r.RunDir(ctx, req.WorkDir, req.StepTimeout)
}

// RunDir runs the detected profile against an existing checkout
func (r *Runner) RunDir(ctx context.Context, dir string, stepTimeout time.Duration) (res domain.SandboxResult) {
	defer func() {
		if p := recover(); p != nil {
			res = domain.SystemErrorResult(res.Language, fmt.Sprintf("runner panic: %v", p))
		}
	}()
	if stepTimeout <= 0 {
		stepTimeout = DefaultStepTimeout
	}

	lang := language.Detect(dir)
	profile := r.profiles.Profile(lang)
	res = domain.SandboxResult{
		Status:   domain.SandboxFailed,
		Language: lang.String(),
		ExitCode: -1,
		Errors:   []domain.FailureRecord{},
	}
	log := r.logger.With(zap.String("language", lang.String()), zap.String("dir", dir))

	if !profile.Runnable() {
		log.Info("no runnable profile")
		res.RawLogs = "No test configuration for language: " + lang.String()
		return res
	}

	logs := newTailBuffer(maxRawLogs)

	for _, step := range profile.InstallSteps {
		if !step.Applies(dir) {
			continue
		}
		fmt.Fprintf(logs, "\n[INSTALL] %s\n", step.Display())
		code := runStep(ctx, dir, step.Args, stepTimeout, logs)
		if code != 0 {
			log.Info("install failed", zap.Strings("argv", step.Args), zap.Int("exit_code", code))
			res.Status = domain.SandboxInstallFailed
			res.ExitCode = code
			res.RawLogs = logs.String()
			return res
		}
	}

	exit := 0
	for _, step := range profile.TestSteps {
		if !step.Applies(dir) {
			continue
		}
		fmt.Fprintf(logs, "\n[TEST] %s\n", step.Display())
		code := runStep(ctx, dir, step.Args, stepTimeout, logs)
		if code != 0 && exit == 0 {
			exit = code
		}
	}

	res.ExitCode = exit
	res.RawLogs = logs.String()
	if exit == 0 {
		res.Status = domain.SandboxPassed
		log.Info("tests passed")
		return res
	}

	res.Errors = extractor.Relativize(extractor.ExtractWith(r.profiles, res.RawLogs, lang), dir)
	log.Info("tests failed", zap.Int("exit_code", exit), zap.Int("errors", len(res.Errors)))
	return res
}
