package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hochfrequenz/heal-orchestrator/internal/domain"
	"github.com/hochfrequenz/heal-orchestrator/internal/extractor"
	"github.com/hochfrequenz/heal-orchestrator/internal/oracle"
	"github.com/hochfrequenz/heal-orchestrator/internal/sandbox"
)

// run is the worker-private state of one session
type run struct {
	id      string
	req     RunRequest
	maxIter int
	started time.Time

	workspace string
	repoPath  string
	branch    string

	iteration     int
	totalFailures int
	last          domain.SandboxResult
	failure       domain.FailureRecord
	lastFailure   *domain.FailureRecord
	fixes         []domain.FixRecord
	// index into fixes of the record applied in this pass, -1 for none
	pending int

	outcome domain.Outcome
	fault   string
}

type handler func(ctx context.Context, r *run) State

func (s *Service) handlers() map[State]handler {
	return map[State]handler{
		StateClone:    s.clone,
		StateTest:     s.test,
		StateAnalyze:  s.analyze,
		StateFix:      s.fix,
		StateCommit:   s.commit,
		StateFinalize: s.finalize,
	}
}

// execute drives r from CLONE to DONE and returns the final record
func (s *Service) execute(ctx context.Context, r *run) (result domain.RunResult) {
	logger := s.logger.With(zap.String("run_id", r.id))
	handlers := s.handlers()

	// a session must never stay RUNNING, whatever happens below
	defer func() {
		if sess, ok := s.registry.Get(r.id); ok && sess.Active() {
			s.registry.update(r.id, func(sess *domain.Session) {
				sess.Status = domain.SessionError
				sess.FinalStatus = domain.OutcomeError
				end := s.now()
				sess.EndTime = &end
			})
		}
		s.redactor.Forget(r.req.Auth.Creds)
	}()

	st := StateClone
	for st != StateDone {
		next := s.step(ctx, handlers[st], st, r)
		if st != StateFinalize && ctx.Err() != nil && next != StateFinalize {
			r.abort(fmt.Sprintf("run cancelled: %v", ctx.Err()))
			next = StateFinalize
		}
		if err := checkTransition(st, next); err != nil {
			logger.Error("state machine fault", zap.Error(err))
			if st == StateFinalize {
				break
			}
			r.abort(err.Error())
			next = StateFinalize
		}
		logger.Debug("transition", zap.Stringer("from", st), zap.Stringer("to", next))
		st = next
	}

	if sess, ok := s.registry.Get(r.id); ok && sess.Result != nil {
		return *sess.Result
	}
	return domain.RunResult{RunID: r.id, Status: domain.OutcomeError}
}

// step runs one handler, turning a panic into an ERROR outcome
func (s *Service) step(ctx context.Context, h handler, st State, r *run) (next State) {
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("handler panicked", zap.String("run_id", r.id), zap.Stringer("state", st), zap.Any("panic", p))
			if st == StateFinalize {
				next = StateDone
				return
			}
			r.abort(fmt.Sprintf("internal error in %s: %v", st, p))
			next = StateFinalize
		}
	}()
	return h(ctx, r)
}

func (r *run) abort(fault string) {
	r.outcome = domain.OutcomeError
	r.fault = fault
}

// note appends a redacted line to the session log
func (s *Service) note(r *run, format string, args ...any) {
	line := s.redactor.Scrub(fmt.Sprintf(format, args...))
	s.logger.Info(line, zap.String("run_id", r.id), zap.Int("iteration", r.iteration))
	stamped := fmt.Sprintf("[%s] %s", s.now().UTC().Format("15:04:05"), line)
	s.registry.update(r.id, func(sess *domain.Session) {
		sess.Logs = append(sess.Logs, stamped)
	})
}

func (s *Service) fail(r *run, format string, args ...any) State {
	msg := s.redactor.Scrub(fmt.Sprintf(format, args...))
	r.abort(msg)
	s.note(r, "ERROR: %s", msg)
	return StateFinalize
}

func (s *Service) clone(ctx context.Context, r *run) State {
	ws, err := s.deps.Workspaces.Create()
	if err != nil {
		return s.fail(r, "workspace: %v", err)
	}
	r.workspace = ws

	s.note(r, "Cloning %s", DisplayURL(r.req.RepoURL))
	handle, err := s.deps.Gateway.Clone(ctx, r.req.RepoURL, r.req.Auth, ws)
	if err != nil {
		return s.fail(r, "clone failed: %v", err)
	}
	r.repoPath = handle.LocalPath

	branch, err := s.deps.Gateway.CreateBranch(r.repoPath, r.req.TeamName, r.req.LeaderName)
	if err != nil {
		return s.fail(r, "branch creation failed: %v", err)
	}
	r.branch = branch
	s.registry.update(r.id, func(sess *domain.Session) { sess.Branch = branch })

	if err := s.deps.Gateway.CommitAndPush(ctx, r.repoPath, nil, branch, r.req.Auth); err != nil {
		return s.fail(r, "publishing branch %s failed: %v", branch, err)
	}
	s.note(r, "Working on branch %s", branch)
	return StateTest
}

func (s *Service) test(ctx context.Context, r *run) State {
	s.note(r, "Running tests (iteration %d/%d)", r.iteration, r.maxIter)
	start := time.Now()
	res := s.deps.Sandbox.Execute(ctx, sandbox.Request{
		RunID:     r.id,
		Iteration: r.iteration,
		RepoURL:   r.req.RepoURL,
		Branch:    r.branch,
		Auth:      r.req.Auth,
	})
	s.deps.Metrics.SandboxExecuted(res, time.Since(start))
	r.last = res
	s.note(r, "Sandbox finished: %s (language %s, exit %d, %d errors)", res.Status, res.Language, res.ExitCode, len(res.Errors))

	if res.Status == domain.SandboxPassed {
		r.outcome = domain.OutcomePassed
		r.lastFailure = nil
		return StateFinalize
	}

	r.totalFailures += max(1, len(res.Errors))
	if first, ok := res.FirstError(); ok {
		r.lastFailure = &first
	} else {
		r.lastFailure = &domain.FailureRecord{File: domain.UnknownFile, Message: lastLine(res.RawLogs)}
	}

	switch {
	case res.Status == domain.SandboxSystemError:
		return s.fail(r, "sandbox error: %s", lastLine(res.RawLogs))
	case r.iteration >= r.maxIter:
		r.outcome = domain.OutcomeFailed
		s.note(r, "Iteration budget of %d exhausted", r.maxIter)
		return StateFinalize
	}
	return StateAnalyze
}

func (s *Service) analyze(ctx context.Context, r *run) State {
	if first, ok := r.last.FirstError(); ok && first.WellFormed() {
		r.failure = first
	} else {
		rec, err := s.deps.Oracle.Classify(ctx, r.last.RawLogs)
		if err != nil {
			s.note(r, "Classifier failed: %v", err)
			rec = domain.FailureRecord{File: domain.UnknownFile}
		}
		r.failure = rec
	}
	if r.failure.Type == "" || r.failure.Type == domain.BugUnknown {
		r.failure.Type = domain.BugLogic
	}
	failure := r.failure
	r.lastFailure = &failure
	s.registry.update(r.id, func(sess *domain.Session) { sess.LastFailure = &failure })

	s.note(r, "Failure: %s in %s line %d: %s", failure.Type, failure.File, failure.Line, failure.Message)
	return StateFix
}

func (s *Service) fix(ctx context.Context, r *run) State {
	r.pending = -1

	rel, ok := extractor.Normalize(r.failure.File, r.repoPath)
	if !ok || rel == domain.UnknownFile {
		s.note(r, "No file to fix for this failure")
		return StateCommit
	}
	path := filepath.Join(r.repoPath, filepath.FromSlash(rel))
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		s.note(r, "File not found: %s", rel)
		return StateCommit
	}
	content, err := os.ReadFile(path)
	if err != nil {
		s.note(r, "Reading %s failed: %v", rel, err)
		return StateCommit
	}

	failure := r.failure
	failure.File = rel
	updated, changed, err := s.deps.Oracle.ProposeFix(ctx, oracle.FixRequest{
		File:     rel,
		Content:  string(content),
		Failure:  failure,
		Language: r.last.Language,
	})
	switch {
	case errors.Is(err, oracle.ErrFixNotFound):
		s.note(r, "No fix found for %s", rel)
		return StateCommit
	case err != nil:
		s.note(r, "Oracle failed for %s: %v", rel, err)
		return StateCommit
	case !changed:
		s.note(r, "No fix found for %s (content unchanged)", rel)
		return StateCommit
	}

	if err := os.WriteFile(path, []byte(updated), info.Mode().Perm()); err != nil {
		s.note(r, "Writing %s failed: %v", rel, err)
		return StateCommit
	}

	rec := domain.FixRecord{
		File:          rel,
		BugType:       failure.Type,
		LineNumber:    failure.Line,
		CommitMessage: domain.CommitMessage(failure),
		Status:        domain.FixApplied,
	}
	r.fixes = append(r.fixes, rec)
	r.pending = len(r.fixes) - 1
	s.registry.update(r.id, func(sess *domain.Session) {
		sess.FixesApplied = append(sess.FixesApplied, rec)
	})
	s.note(r, "Applied fix to %s", rel)
	return StateCommit
}

func (s *Service) commit(ctx context.Context, r *run) State {
	if r.pending >= 0 {
		idx := r.pending
		msg := r.fixes[idx].CommitMessage
		status := domain.FixFixed
		if err := s.deps.Gateway.CommitAndPush(ctx, r.repoPath, &msg, r.branch, r.req.Auth); err != nil {
			status = domain.FixFailedCommit
			s.note(r, "Commit failed: %v", err)
		} else {
			s.note(r, "Pushed %q", msg)
		}
		r.fixes[idx].Status = status
		s.registry.update(r.id, func(sess *domain.Session) {
			if idx < len(sess.FixesApplied) {
				sess.FixesApplied[idx].Status = status
			}
		})
		r.pending = -1
	}

	r.iteration++
	iter := r.iteration
	s.registry.update(r.id, func(sess *domain.Session) { sess.Iteration = iter })
	return StateTest
}

func lastLine(logs string) string {
	lines := strings.Split(strings.TrimSpace(logs), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return extractor.Clip(l, extractor.MaxMessageLen)
		}
	}
	return ""
}
