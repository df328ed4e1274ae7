package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hochfrequenz/heal-orchestrator/internal/domain"
	"github.com/hochfrequenz/heal-orchestrator/internal/runner"
	"github.com/hochfrequenz/heal-orchestrator/internal/sandboxproto"
	"github.com/hochfrequenz/heal-orchestrator/internal/secrets"
)

// Paths inside the runner container
const (
	containerOutDir  = "/out"
	containerResult  = "/out/result.json"
	containerConfig  = "/out/languages.toml"
	containerKeyPath = "/run/secrets/git_key"
)

// Output limits. Stdout carries the result frame and is allowed to be large;
// stderr only holds runner diagnostics.
const (
	maxStdout = 4 << 20
	maxStderr = 256 * 1024
)

// DockerOptions configures the container
type DockerOptions struct {
	Binary                string
	Image                 string
	Network               string
	Memory                string
	CPUs                  string
	Timeout               time.Duration
	StepTimeout           time.Duration
	InsecureIgnoreHostKey bool
	// Languages is a TOML document with [languages] overrides handed to the
	// runner; nil keeps the built-in profiles.
	Languages []byte
	// TempDir holds output dirs and key files; os.TempDir when empty
	TempDir string
}

// DockerExecutor runs heal-runner inside a fresh container per invocation
type DockerExecutor struct {
	opts     DockerOptions
	redactor *secrets.Redactor
	logger   *zap.Logger
	mu       sync.Mutex
}

// NewDockerExecutor creates a docker-backed executor
func NewDockerExecutor(opts DockerOptions, redactor *secrets.Redactor, logger *zap.Logger) *DockerExecutor {
	if opts.Binary == "" {
		opts.Binary = "docker"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Minute
	}
	if redactor == nil {
		redactor = secrets.NewRedactor(false)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DockerExecutor{opts: opts, redactor: redactor, logger: logger.Named("sandbox")}
}

// Execute runs one container and collects its result
func (d *DockerExecutor) Execute(ctx context.Context, req Request) (res domain.SandboxResult) {
	d.mu.Lock()
	defer d.mu.Unlock()

	name := containerName(req)
	log := d.logger.With(zap.String("container", name), zap.String("branch", req.Branch))

	defer func() {
		if p := recover(); p != nil {
			log.Error("sandbox panic", zap.Any("panic", p), zap.ByteString("stack", debug.Stack()))
			res = domain.SystemErrorResult("", d.redactor.Scrub(fmt.Sprintf("sandbox panic: %v", p)))
		}
	}()

	outDir, err := os.MkdirTemp(d.opts.TempDir, "heal-out-")
	if err != nil {
		return domain.SystemErrorResult("", fmt.Sprintf("create output dir: %v", err))
	}
	defer os.RemoveAll(outDir)

	args := []string{
		"run", "--name", name,
		"-v", outDir + ":" + containerOutDir,
	}
	if d.opts.Network != "" {
		args = append(args, "--network", d.opts.Network)
	}
	if d.opts.Memory != "" {
		args = append(args, "--memory", d.opts.Memory)
	}
	if d.opts.CPUs != "" {
		args = append(args, "--cpus", d.opts.CPUs)
	}

	env := os.Environ()
	if !req.Auth.Creds.Empty() {
		authArgs, authEnv, cleanup, err := d.authArgs(req)
		if err != nil {
			return domain.SystemErrorResult("", d.redactor.Scrub(err.Error()))
		}
		defer cleanup()
		args = append(args, authArgs...)
		env = append(env, authEnv...)
	}

	runnerArgs := []string{
		"heal-runner",
		"--repo", req.RepoURL,
		"--branch", req.Branch,
		"--result-file", containerResult,
	}
	if d.opts.StepTimeout > 0 {
		runnerArgs = append(runnerArgs, "--step-timeout", d.opts.StepTimeout.String())
	}
	if d.opts.InsecureIgnoreHostKey {
		runnerArgs = append(runnerArgs, "--insecure-ignore-host-key")
	}
	if len(d.opts.Languages) > 0 {
		if err := os.WriteFile(filepath.Join(outDir, "languages.toml"), d.opts.Languages, 0644); err != nil {
			return domain.SystemErrorResult("", fmt.Sprintf("write language overrides: %v", err))
		}
		runnerArgs = append(runnerArgs, "--config", containerConfig)
	}
	args = append(args, d.opts.Image)
	args = append(args, runnerArgs...)

	// The container is removed on every path, with a context that outlives
	// a cancelled run.
	defer d.remove(name)

	runCtx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, d.opts.Binary, args...)
	cmd.Env = env
	cmd.WaitDelay = 5 * time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &capped{buf: &stdout, max: maxStdout}
	cmd.Stderr = &capped{buf: &stderr, max: maxStderr}

	log.Info("starting sandbox", zap.String("image", d.opts.Image))
	start := time.Now()
	runErr := cmd.Run()
	log.Info("sandbox exited", zap.Duration("elapsed", time.Since(start)), zap.Error(runErr))

	if r, err := sandboxproto.ReadResultFile(filepath.Join(outDir, "result.json")); err == nil {
		return d.scrub(r)
	}
	if r, err := sandboxproto.Parse(stdout.Bytes()); err == nil {
		return d.scrub(r)
	}

	reason := "sandbox produced no result"
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		reason = fmt.Sprintf("sandbox timed out after %s", d.opts.Timeout)
	} else if runErr != nil {
		reason = fmt.Sprintf("sandbox produced no result: %v", runErr)
	}
	fault := reason + "\n" + stdout.String() + stderr.String()
	log.Warn("no sandbox result", zap.String("reason", reason))
	return domain.SystemErrorResult("", d.redactor.Scrub(fault))
}

// authArgs maps credentials onto container arguments and child environment.
// Secret values only ever travel in the environment or a mounted key file.
func (d *DockerExecutor) authArgs(req Request) (args, env []string, cleanup func(), err error) {
	cleanup = func() {}
	switch req.Auth.Creds.Mode() {
	case domain.AuthSSH:
		kf, err := secrets.WriteKeyFile(d.opts.TempDir, req.Auth.Creds)
		if err != nil {
			return nil, nil, cleanup, err
		}
		args = []string{
			"-v", kf.Path() + ":" + containerKeyPath + ":ro",
			"-e", runner.KeyFileEnv + "=" + containerKeyPath,
			"-e", runner.PassphraseEnv,
		}
		_ = req.Auth.Creds.WithPassphrase(func(p []byte) error {
			env = append(env, runner.PassphraseEnv+"="+string(p))
			return nil
		})
		return args, env, func() { kf.Close() }, nil
	default:
		err = req.Auth.Creds.WithSecret(func(tok []byte) error {
			env = append(env, runner.TokenEnv+"="+string(tok))
			return nil
		})
		if err != nil {
			return nil, nil, cleanup, err
		}
		return []string{"-e", runner.TokenEnv}, env, cleanup, nil
	}
}

func (d *DockerExecutor) remove(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, d.opts.Binary, "rm", "-f", name).CombinedOutput()
	if err != nil {
		d.logger.Warn("removing container", zap.String("container", name),
			zap.String("output", string(bytes.TrimSpace(out))), zap.Error(err))
	}
}

func (d *DockerExecutor) scrub(r domain.SandboxResult) domain.SandboxResult {
	r.RawLogs = d.redactor.Scrub(r.RawLogs)
	for i := range r.Errors {
		r.Errors[i].Message = d.redactor.Scrub(r.Errors[i].Message)
	}
	return r
}

// capped is a writer that stops storing after max bytes but keeps
// accepting input so the child never blocks.
type capped struct {
	buf *bytes.Buffer
	max int
}

func (c *capped) Write(p []byte) (int, error) {
	if room := c.max - c.buf.Len(); room > 0 {
		if len(p) > room {
			c.buf.Write(p[:room])
		} else {
			c.buf.Write(p)
		}
	}
	return len(p), nil
}
