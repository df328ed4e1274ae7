package main

import (
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/hochfrequenz/heal-orchestrator/internal/domain"
	"github.com/hochfrequenz/heal-orchestrator/internal/language"
)

func TestRenderHistory(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	out := renderHistory([]domain.RunResult{{
		RunID:          "0123456789abcdef",
		Status:         domain.OutcomePassed,
		Branch:         "TEAMA_JDOE_AI_Fix",
		IterationsUsed: 1,
		MaxIterations:  5,
		FixesApplied:   []domain.FixRecord{{Status: domain.FixFixed}},
		Score:          110,
		FinishedAt:     now.Add(-2 * time.Hour),
	}}, now)

	for _, want := range []string{"01234567", "TEAMA_JDOE_AI_Fix", "1/5", "110", "2 hours ago"} {
		if !strings.Contains(out, want) {
			t.Errorf("history output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "89abcdef") {
		t.Error("run id should be shortened")
	}
}

func TestStatusText(t *testing.T) {
	tests := []struct {
		status string
		style  lipgloss.Style
	}{
		{string(domain.SessionIdle), dimStyle},
		{string(domain.SessionRunning), runningStyle},
		{string(domain.SessionCompleted), passedStyle},
		{string(domain.SessionError), errorStyle},
		{string(domain.OutcomePassed), passedStyle},
		{string(domain.OutcomeFailed), failedStyle},
		{string(domain.OutcomeError), errorStyle},
		{"SOMETHING_ELSE", dimStyle},
	}

	for _, tt := range tests {
		got := statusText(tt.status)
		if want := tt.style.Render(tt.status); got != want {
			t.Errorf("statusText(%q) = %q, want %q", tt.status, got, want)
		}
		if !strings.Contains(got, tt.status) {
			t.Errorf("statusText(%q) lost the status text: %q", tt.status, got)
		}
	}
}

func TestRenderSession_Finished(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	out := renderSession(domain.Session{
		ID:            "run-1",
		Status:        domain.SessionCompleted,
		RepoURL:       "https://github.com/org/repo",
		Branch:        "TEAMA_JDOE_AI_Fix",
		Iteration:     5,
		MaxIterations: 5,
		StartTime:     now.Add(-3 * time.Minute),
		FinalStatus:   domain.OutcomeFailed,
		LastFailure:   &domain.FailureRecord{File: "app.py", Line: 3, Message: "boom"},
		Result:        &domain.RunResult{Score: 110, TimeTaken: "3m 0s"},
	}, now)

	for _, want := range []string{"COMPLETED", "FAILED", "5/5", "110", "3m 0s", "app.py:3 boom", "3 minutes ago"} {
		if !strings.Contains(out, want) {
			t.Errorf("session output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderSession_Idle(t *testing.T) {
	out := renderSession(domain.Session{Status: domain.SessionIdle}, time.Now())
	if !strings.Contains(out, "IDLE") {
		t.Errorf("idle output = %s", out)
	}
}

func TestRenderProfile(t *testing.T) {
	out := renderProfile(language.Default().Profile(language.Go), "repo")
	if !strings.Contains(out, "go test ./...") {
		t.Errorf("profile output = %s", out)
	}
	out = renderProfile(language.Default().Profile(language.Unknown), "repo")
	if !strings.Contains(out, "No test configuration for language: unknown") {
		t.Errorf("unknown output = %s", out)
	}
}
