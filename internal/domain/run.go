package domain

import (
	"fmt"
	"time"
)

// Session is one end-to-end healing run as seen by status pollers
type Session struct {
	ID            string         `json:"id"`
	Status        SessionStatus  `json:"status"`
	Iteration     int            `json:"iteration"`
	MaxIterations int            `json:"max_iterations"`
	Logs          []string       `json:"logs"`
	FixesApplied  []FixRecord    `json:"fixes_applied"`
	StartTime     time.Time      `json:"start_time"`
	EndTime       *time.Time     `json:"end_time,omitempty"`
	RepoURL       string         `json:"repo_url"`
	Branch        string         `json:"branch,omitempty"`
	TeamName      string         `json:"team_name"`
	LeaderName    string         `json:"leader_name"`
	FinalStatus   Outcome        `json:"final_status,omitempty"`
	LastFailure   *FailureRecord `json:"last_failure,omitempty"`
	Result        *RunResult     `json:"result,omitempty"`
}

// Clone returns a deep copy safe to hand to another goroutine
func (s *Session) Clone() Session {
	c := *s
	c.Logs = append([]string(nil), s.Logs...)
	c.FixesApplied = append([]FixRecord(nil), s.FixesApplied...)
	if s.EndTime != nil {
		t := *s.EndTime
		c.EndTime = &t
	}
	if s.LastFailure != nil {
		f := *s.LastFailure
		c.LastFailure = &f
	}
	if s.Result != nil {
		r := s.Result.Clone()
		c.Result = &r
	}
	return c
}

// Active reports whether the session still owns the single-flight slot
func (s *Session) Active() bool {
	return s.Status == SessionRunning
}

// RunResult is the persisted summary of a finished run
type RunResult struct {
	RunID           string         `json:"run_id"`
	RepoURL         string         `json:"repo_url"`
	Branch          string         `json:"branch"`
	TeamName        string         `json:"team_name"`
	LeaderName      string         `json:"leader_name"`
	Status          Outcome        `json:"status"`
	TimeTaken       string         `json:"time_taken"`
	DurationSeconds float64        `json:"duration_seconds"`
	IterationsUsed  int            `json:"iterations_used"`
	MaxIterations   int            `json:"max_iterations"`
	TotalFailures   int            `json:"total_failures"`
	FixesApplied    []FixRecord    `json:"fixes_applied"`
	Score           int            `json:"score"`
	LastFailure     *FailureRecord `json:"last_failure,omitempty"`
	StartedAt       time.Time      `json:"started_at"`
	FinishedAt      time.Time      `json:"finished_at"`
}

// Clone returns a deep copy of r
func (r RunResult) Clone() RunResult {
	r.FixesApplied = append([]FixRecord(nil), r.FixesApplied...)
	if r.LastFailure != nil {
		f := *r.LastFailure
		r.LastFailure = &f
	}
	return r
}

// Commits counts fixes that made it onto the remote branch
func (r RunResult) Commits() int {
	n := 0
	for _, f := range r.FixesApplied {
		if f.Status == FixFixed {
			n++
		}
	}
	return n
}

// FormatDuration renders d as "Xm Ys"
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int(d.Seconds())
	return fmt.Sprintf("%dm %ds", secs/60, secs%60)
}
