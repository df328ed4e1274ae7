// Package runstore keeps the history of finished healing runs in SQLite.
package runstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/hochfrequenz/heal-orchestrator/internal/domain"
)

// ErrNotFound is returned when a run id is unknown
var ErrNotFound = errors.New("run not found")

// Store provides SQLite-backed run persistence
type Store struct {
	db *sql.DB
}

// New opens (and migrates) the database at dbPath. ":memory:" is allowed.
func New(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("creating database dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// one writer; also keeps ":memory:" on a single connection
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun inserts or replaces r together with its fixes
func (s *Store) SaveRun(ctx context.Context, r domain.RunResult) error {
	var lastFailure sql.NullString
	if r.LastFailure != nil {
		b, err := json.Marshal(r.LastFailure)
		if err != nil {
			return err
		}
		lastFailure = sql.NullString{String: string(b), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, repo_url, branch, team_name, leader_name, status, time_taken, duration_seconds,
			iterations_used, max_iterations, total_failures, score, last_failure, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			time_taken = excluded.time_taken,
			duration_seconds = excluded.duration_seconds,
			iterations_used = excluded.iterations_used,
			total_failures = excluded.total_failures,
			score = excluded.score,
			last_failure = excluded.last_failure,
			finished_at = excluded.finished_at
	`,
		r.RunID, r.RepoURL, r.Branch, r.TeamName, r.LeaderName, string(r.Status), r.TimeTaken, r.DurationSeconds,
		r.IterationsUsed, r.MaxIterations, r.TotalFailures, r.Score, lastFailure, r.StartedAt.UTC(), r.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM fixes WHERE run_id = ?`, r.RunID); err != nil {
		return err
	}
	for i, f := range r.FixesApplied {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO fixes (run_id, seq, file, bug_type, line_number, commit_message, status)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, r.RunID, i, f.File, string(f.BugType), f.LineNumber, f.CommitMessage, string(f.Status))
		if err != nil {
			return fmt.Errorf("saving fix: %w", err)
		}
	}
	return tx.Commit()
}

const runColumns = `id, repo_url, branch, team_name, leader_name, status, time_taken, duration_seconds,
	iterations_used, max_iterations, total_failures, score, last_failure, started_at, finished_at`

// GetRun retrieves a run by id
func (s *Store) GetRun(ctx context.Context, id string) (domain.RunResult, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RunResult{}, ErrNotFound
	}
	if err != nil {
		return domain.RunResult{}, err
	}
	if r.FixesApplied, err = s.fixes(ctx, id); err != nil {
		return domain.RunResult{}, err
	}
	return r, nil
}

// ListOptions specifies filters for listing runs
type ListOptions struct {
	RepoURL string
	Status  domain.Outcome
	Limit   int
}

// ListRuns returns runs newest first
func (s *Store) ListRuns(ctx context.Context, opts ListOptions) ([]domain.RunResult, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE 1=1`
	var args []interface{}

	if opts.RepoURL != "" {
		query += " AND repo_url = ?"
		args = append(args, opts.RepoURL)
	}
	if opts.Status != "" {
		query += " AND status = ?"
		args = append(args, string(opts.Status))
	}
	query += " ORDER BY started_at DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var runs []domain.RunResult
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	// fixes are loaded after the cursor is closed; the pool has one connection
	for i := range runs {
		if runs[i].FixesApplied, err = s.fixes(ctx, runs[i].RunID); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

func (s *Store) fixes(ctx context.Context, runID string) ([]domain.FixRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT file, bug_type, line_number, commit_message, status
		FROM fixes WHERE run_id = ? ORDER BY seq
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fixes := []domain.FixRecord{}
	for rows.Next() {
		var f domain.FixRecord
		var bugType, status string
		if err := rows.Scan(&f.File, &bugType, &f.LineNumber, &f.CommitMessage, &status); err != nil {
			return nil, err
		}
		f.BugType = domain.BugType(bugType)
		f.Status = domain.FixStatus(status)
		fixes = append(fixes, f)
	}
	return fixes, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (domain.RunResult, error) {
	var r domain.RunResult
	var status string
	var branch, team, leader, timeTaken, lastFailure sql.NullString

	err := row.Scan(&r.RunID, &r.RepoURL, &branch, &team, &leader, &status, &timeTaken, &r.DurationSeconds,
		&r.IterationsUsed, &r.MaxIterations, &r.TotalFailures, &r.Score, &lastFailure, &r.StartedAt, &r.FinishedAt)
	if err != nil {
		return r, err
	}
	r.Status = domain.Outcome(status)
	r.Branch = branch.String
	r.TeamName = team.String
	r.LeaderName = leader.String
	r.TimeTaken = timeTaken.String
	if lastFailure.Valid && lastFailure.String != "" {
		var f domain.FailureRecord
		if err := json.Unmarshal([]byte(lastFailure.String), &f); err != nil {
			return r, err
		}
		r.LastFailure = &f
	}
	return r, nil
}
