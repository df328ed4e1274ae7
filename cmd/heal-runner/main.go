// cmd/heal-runner/main.go
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hochfrequenz/heal-orchestrator/internal/config"
	"github.com/hochfrequenz/heal-orchestrator/internal/domain"
	"github.com/hochfrequenz/heal-orchestrator/internal/gitops"
	"github.com/hochfrequenz/heal-orchestrator/internal/language"
	"github.com/hochfrequenz/heal-orchestrator/internal/logging"
	"github.com/hochfrequenz/heal-orchestrator/internal/runner"
	"github.com/hochfrequenz/heal-orchestrator/internal/sandboxproto"
	"github.com/hochfrequenz/heal-orchestrator/internal/secrets"
)

const defaultResultFile = "/out/result.json"

type options struct {
	repoURL         string
	branch          string
	resultFile      string
	workDir         string
	configPath      string
	stepTimeout     time.Duration
	knownHosts      string
	insecureHostKey bool
	logLevel        string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newRootCmd builds the runner command. Every invocation, including ones
// with bad flags, ends with exactly one result on both channels.
func newRootCmd() *cobra.Command {
	opts := &options{}
	rootCmd := &cobra.Command{
		Use:           "heal-runner",
		Short:         "Clone a branch, run its tests and report one structured result",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts)
		},
	}

	rootCmd.Flags().StringVar(&opts.repoURL, "repo", "", "Remote repository URL (required)")
	rootCmd.Flags().StringVar(&opts.branch, "branch", "", "Branch to test (required)")
	rootCmd.Flags().StringVar(&opts.resultFile, "result-file", defaultResultFile, "Where to write the result JSON")
	rootCmd.Flags().StringVar(&opts.workDir, "workdir", "/work/repo", "Checkout directory")
	rootCmd.Flags().StringVar(&opts.configPath, "config", "", "Optional config file with [languages] overrides")
	rootCmd.Flags().DurationVar(&opts.stepTimeout, "step-timeout", runner.DefaultStepTimeout, "Timeout per install/test command")
	rootCmd.Flags().StringVar(&opts.knownHosts, "known-hosts", "", "known_hosts file for SSH remotes")
	rootCmd.Flags().BoolVar(&opts.insecureHostKey, "insecure-ignore-host-key", false, "Skip SSH host key verification")
	rootCmd.Flags().StringVar(&opts.logLevel, "log-level", "info", "Log level")

	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		res := domain.SystemErrorResult("", fmt.Sprintf("invalid arguments: %v", err))
		if emitErr := emit(cmd.OutOrStdout(), opts.resultFile, res, zap.NewNop()); emitErr != nil {
			return emitErr
		}
		return err
	})
	return rootCmd
}

func run(cmd *cobra.Command, opts *options) error {
	redactor := secrets.NewRedactor(true)
	logger, logErr := logging.New(logging.Config{Level: opts.logLevel, Format: "json", Output: cmd.ErrOrStderr()}, redactor)
	if logErr != nil {
		logger, _ = logging.New(logging.Config{Level: "info", Format: "json", Output: cmd.ErrOrStderr()}, redactor)
		if logger == nil {
			logger = zap.NewNop()
		}
		logger.Warn("falling back to info logging", zap.Error(logErr))
	}
	defer logging.Sync(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res := guarded(func() domain.SandboxResult {
		return execute(ctx, opts, logger, redactor)
	})
	res.RawLogs = redactor.Scrub(res.RawLogs)
	for i := range res.Errors {
		res.Errors[i].Message = redactor.Scrub(res.Errors[i].Message)
	}
	return emit(cmd.OutOrStdout(), opts.resultFile, res, logger)
}

// emit writes res to the result file and as a frame on out. Both channels are
// always attempted; the host prefers the file.
func emit(out io.Writer, resultFile string, res domain.SandboxResult, logger *zap.Logger) error {
	if resultFile == "" {
		resultFile = defaultResultFile
	}
	if err := sandboxproto.WriteResultFile(resultFile, res); err != nil {
		logger.Error("writing result file", zap.String("path", resultFile), zap.Error(err))
	}
	if err := sandboxproto.Encode(out, res); err != nil {
		return fmt.Errorf("writing result frame: %w", err)
	}
	return nil
}

// guarded turns a panic in fn into a SYSTEM_ERROR result
func guarded(fn func() domain.SandboxResult) (res domain.SandboxResult) {
	defer func() {
		if p := recover(); p != nil {
			res = domain.SystemErrorResult("", fmt.Sprintf("runner panic: %v", p))
		}
	}()
	return fn()
}

// execute never fails: every problem is folded into the result
func execute(ctx context.Context, opts *options, logger *zap.Logger, redactor *secrets.Redactor) domain.SandboxResult {
	auth, err := runner.AuthFromEnv()
	if err != nil {
		return domain.SystemErrorResult("", redactor.Scrub(err.Error()))
	}
	if auth.Creds != nil {
		redactor.Register(auth.Creds)
	}

	switch {
	case opts.repoURL == "":
		return domain.SystemErrorResult("", "invalid arguments: --repo is required")
	case opts.branch == "":
		return domain.SystemErrorResult("", "invalid arguments: --branch is required")
	}

	profiles := language.Default()
	if opts.configPath != "" {
		cfg, err := config.Load(opts.configPath)
		if err != nil {
			return domain.SystemErrorResult("", fmt.Sprintf("loading config: %v", err))
		}
		if profiles, err = cfg.Profiles(); err != nil {
			return domain.SystemErrorResult("", err.Error())
		}
	}

	gw := gitops.NewGateway(gitops.Options{
		KnownHosts:            opts.knownHosts,
		InsecureIgnoreHostKey: opts.insecureHostKey,
	}, redactor, logger)

	r := runner.New(gw, profiles, logger)
	logger.Info("runner starting", zap.String("repo", opts.repoURL), zap.String("branch", opts.branch))
	res := r.Run(ctx, runner.Request{
		RepoURL:     opts.repoURL,
		Branch:      opts.branch,
		Auth:        auth,
		WorkDir:     opts.workDir,
		StepTimeout: opts.stepTimeout,
	})
	logger.Info("runner finished",
		zap.String("status", string(res.Status)),
		zap.String("language", res.Language),
		zap.Int("exit_code", res.ExitCode),
		zap.Int("errors", len(res.Errors)))
	return res
}
