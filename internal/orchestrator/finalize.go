package orchestrator

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/hochfrequenz/heal-orchestrator/internal/domain"
	"github.com/hochfrequenz/heal-orchestrator/internal/gitops"
	"github.com/hochfrequenz/heal-orchestrator/internal/notify"
)

// ResultsFile is written into the workspace root of every finished run and
// survives workspace cleanup
const ResultsFile = "results.json"

const (
	baseScore      = 100
	speedBonus     = 10
	speedThreshold = 5 * time.Minute
	freeCommits    = 20
	commitPenalty  = 2
)

// Score rates a finished run: 100 base, +10 when faster than five minutes,
// -2 for every commit beyond the twentieth, never below zero
func Score(elapsed time.Duration, commits int) int {
	score := baseScore
	if elapsed < speedThreshold {
		score += speedBonus
	}
	if commits > freeCommits {
		score -= commitPenalty * (commits - freeCommits)
	}
	return max(score, 0)
}

func (s *Service) finalize(ctx context.Context, r *run) State {
	finished := s.now()
	elapsed := finished.Sub(r.started)

	outcome := r.outcome
	if outcome == "" {
		outcome = domain.OutcomeFailed
	}

	result := domain.RunResult{
		RunID:           r.id,
		RepoURL:         DisplayURL(r.req.RepoURL),
		Branch:          r.branch,
		TeamName:        r.req.TeamName,
		LeaderName:      r.req.LeaderName,
		Status:          outcome,
		TimeTaken:       domain.FormatDuration(elapsed),
		DurationSeconds: elapsed.Seconds(),
		IterationsUsed:  r.iteration,
		MaxIterations:   r.maxIter,
		TotalFailures:   r.totalFailures,
		FixesApplied:    append([]domain.FixRecord{}, r.fixes...),
		StartedAt:       r.started,
		FinishedAt:      finished,
	}
	if outcome != domain.OutcomePassed && r.lastFailure != nil {
		f := *r.lastFailure
		f.Message = s.redactor.Scrub(f.Message)
		result.LastFailure = &f
	}
	result.Score = Score(elapsed, result.Commits())

	logger := s.logger.With(zap.String("run_id", r.id))
	if r.fault != "" {
		logger.Warn("run ended with error", zap.String("fault", r.fault))
	}

	// persistence must not be skipped because the run context was cancelled
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if r.workspace != "" {
		if err := writeResults(filepath.Join(r.workspace, ResultsFile), result); err != nil {
			logger.Warn("writing results file failed", zap.Error(err))
		}
	}
	if s.deps.Store != nil {
		if err := s.deps.Store.SaveRun(pctx, result); err != nil {
			logger.Error("persisting run failed", zap.Error(err))
		}
	}
	s.deps.Metrics.RunFinished(result)
	if err := s.deps.Notifier.Send(notify.ForRun(result)); err != nil {
		logger.Warn("notification failed", zap.Error(err))
	}

	s.note(r, "Run finished: %s after %d iteration(s), %d fix(es), score %d, took %s",
		result.Status, result.IterationsUsed, len(result.FixesApplied), result.Score, result.TimeTaken)

	status := domain.SessionCompleted
	if outcome == domain.OutcomeError {
		status = domain.SessionError
	}
	s.registry.update(r.id, func(sess *domain.Session) {
		res := result.Clone()
		sess.Result = &res
		sess.FinalStatus = outcome
		sess.LastFailure = result.LastFailure
		sess.Iteration = r.iteration
		sess.EndTime = &finished
		sess.Status = status
	})

	// the run root keeps results.json; only the checkout goes
	if !s.opts.KeepWorkspace && r.workspace != "" {
		s.deps.Workspaces.Delete(r.checkoutDir())
	}
	logger.Info("run finalized",
		zap.String("status", string(outcome)),
		zap.Int("iterations", result.IterationsUsed),
		zap.Int("score", result.Score),
	)
	return StateDone
}

func (r *run) checkoutDir() string {
	if r.repoPath != "" {
		return r.repoPath
	}
	return filepath.Join(r.workspace, gitops.RepoDirName(r.req.RepoURL))
}

func writeResults(path string, r domain.RunResult) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
