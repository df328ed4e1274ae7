package notify

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hochfrequenz/heal-orchestrator/internal/domain"
)

func sampleRun() domain.RunResult {
	return domain.RunResult{
		RunID:          "r-1",
		RepoURL:        "https://github.com/org/repo.git",
		Branch:         "TEAMA_JDOE_AI_Fix",
		Status:         domain.OutcomeFailed,
		TimeTaken:      "4m 2s",
		IterationsUsed: 5,
		MaxIterations:  5,
		TotalFailures:  7,
		Score:          110,
		FixesApplied: []domain.FixRecord{
			{Status: domain.FixFixed, CommitMessage: "[AI-AGENT] Fix SYNTAX error in app.py line 3"},
			{Status: domain.FixFailedCommit, CommitMessage: "[AI-AGENT] Fix LOGIC error in app.py line 9"},
		},
		LastFailure: &domain.FailureRecord{File: "app.py", Line: 9, Message: "assert 1 == 2", Type: domain.BugLogic},
		FinishedAt:  time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func fieldValues(a SlackAttachment) map[string]string {
	out := make(map[string]string, len(a.Fields))
	for _, f := range a.Fields {
		out[f.Title] = f.Value
	}
	return out
}

func TestBuildSlackMessage_Run(t *testing.T) {
	msg := BuildSlackMessage(ForRun(sampleRun()))

	if msg.Text != "Healing run gave up" {
		t.Errorf("Text = %q", msg.Text)
	}
	if len(msg.Attachments) != 2 {
		t.Fatalf("attachments = %+v", msg.Attachments)
	}
	summary := msg.Attachments[0]
	if summary.Color != "warning" || summary.Title != "TEAMA_JDOE_AI_Fix" || summary.Footer != "heal-orch run r-1" {
		t.Errorf("summary = %+v", summary)
	}
	if summary.TitleLink != "https://github.com/org/repo/tree/TEAMA_JDOE_AI_Fix" {
		t.Errorf("TitleLink = %q", summary.TitleLink)
	}
	if summary.Timestamp != sampleRun().FinishedAt.Unix() {
		t.Errorf("Timestamp = %d", summary.Timestamp)
	}

	want := map[string]string{
		"Repository":    "https://github.com/org/repo.git",
		"Status":        "FAILED",
		"Score":         "110",
		"Iterations":    "5/5",
		"Time taken":    "4m 2s",
		"Fixes":         "2 (1 failed commit)",
		"Failures seen": "7",
		"Last failure":  "`app.py:9` assert 1 == 2 (LOGIC)",
	}
	got := fieldValues(summary)
	for k, v := range want {
		if got[k] != v {
			t.Errorf("field %q = %q, want %q", k, got[k], v)
		}
	}

	commits := msg.Attachments[1]
	if !strings.Contains(commits.Text, "Fix SYNTAX error in app.py line 3") || strings.Contains(commits.Text, "LOGIC") {
		t.Errorf("commit list = %q", commits.Text)
	}
}

func TestBuildSlackMessage_PassedRun(t *testing.T) {
	r := sampleRun()
	r.Status = domain.OutcomePassed
	r.FixesApplied = nil
	r.RepoURL = "git@github.com:org/repo.git"

	msg := BuildSlackMessage(ForRun(r))
	if len(msg.Attachments) != 1 {
		t.Fatalf("attachments = %+v", msg.Attachments)
	}
	got := fieldValues(msg.Attachments[0])
	if _, ok := got["Last failure"]; ok {
		t.Error("passed run must not report a last failure")
	}
	if got["Fixes"] != "0" {
		t.Errorf("Fixes = %q", got["Fixes"])
	}
	if msg.Attachments[0].TitleLink != "" {
		t.Errorf("ssh remotes get no link, got %q", msg.Attachments[0].TitleLink)
	}
}

func TestBuildSlackMessage_ManyCommits(t *testing.T) {
	r := sampleRun()
	r.FixesApplied = nil
	for i := 0; i < maxListedFixes+3; i++ {
		r.FixesApplied = append(r.FixesApplied, domain.FixRecord{Status: domain.FixFixed, CommitMessage: fmt.Sprintf("fix %d", i)})
	}

	list := BuildSlackMessage(ForRun(r)).Attachments[1].Text
	if strings.Count(list, "•") != maxListedFixes || !strings.Contains(list, "and 3 more") {
		t.Errorf("commit list = %q", list)
	}
}

func TestSlackNotifier_Send(t *testing.T) {
	var got SlackMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := NewSlackNotifier(server.URL)
	err := notifier.Send(Notification{
		Title:   "Test",
		Message: "Test message",
		Type:    NotifyInfo,
		RunID:   "r-1",
		Branch:  "TEAMA_JDOE_AI_Fix",
	})

	if err != nil {
		t.Errorf("Send failed: %v", err)
	}
	if len(got.Attachments) != 1 || got.Attachments[0].Title != "TEAMA_JDOE_AI_Fix" || got.Attachments[0].Footer != "heal-orch run r-1" {
		t.Errorf("payload = %+v", got)
	}
}

func TestSlackNotifier_Non200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	if err := NewSlackNotifier(server.URL).Send(Notification{Title: "x"}); err == nil {
		t.Error("expected error for 403")
	}
	if err := NewSlackNotifier("").Send(Notification{Title: "x"}); err != nil {
		t.Errorf("disabled notifier returned %v", err)
	}
}

func TestSlackNotifier_ErrorHidesWebhook(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	webhook := server.URL + "/services/T000/B000/secretpath"
	server.Close()

	err := NewSlackNotifier(webhook).Send(Notification{Title: "x"})
	if err == nil {
		t.Fatal("expected error for closed server")
	}
	if strings.Contains(err.Error(), "secretpath") {
		t.Errorf("error leaks webhook URL: %v", err)
	}
}

func TestNotificationTypeColors(t *testing.T) {
	tests := []struct {
		typ  NotificationType
		want string
	}{
		{NotifySuccess, "good"},
		{NotifyWarning, "warning"},
		{NotifyError, "danger"},
		{NotifyInfo, "#439FE0"},
	}

	for _, tt := range tests {
		got := SlackColor(tt.typ)
		if got != tt.want {
			t.Errorf("SlackColor(%v) = %s, want %s", tt.typ, got, tt.want)
		}
	}
}

func TestForRun(t *testing.T) {
	r := domain.RunResult{
		RunID:          "r-1",
		RepoURL:        "https://github.com/org/repo",
		Branch:         "TEAMA_JDOE_AI_Fix",
		Status:         domain.OutcomePassed,
		TimeTaken:      "0m 42s",
		IterationsUsed: 1,
		MaxIterations:  5,
		Score:          110,
		FixesApplied:   []domain.FixRecord{{Status: domain.FixFixed}},
	}

	n := ForRun(r)
	if n.Run == nil || n.Run.Score != 110 {
		t.Errorf("Run = %+v", n.Run)
	}
	if n.Type != NotifySuccess || n.RunID != "r-1" || n.Branch != r.Branch {
		t.Errorf("notification = %+v", n)
	}
	if !strings.Contains(n.Message, "1/5 iterations, 1 fixes, score 110, took 0m 42s") {
		t.Errorf("message = %q", n.Message)
	}

	r.Status = domain.OutcomeFailed
	r.LastFailure = &domain.FailureRecord{File: "app.py", Line: 3, Message: "boom"}
	n = ForRun(r)
	if n.Type != NotifyWarning || !strings.Contains(n.Message, "last failure: app.py:3 boom") {
		t.Errorf("failed notification = %+v", n)
	}

	r.Status = domain.OutcomeError
	if ForRun(r).Type != NotifyError {
		t.Error("ERROR outcome should map to NotifyError")
	}
}

func TestAppleScriptQuoting(t *testing.T) {
	got := appleScript(Notification{Title: `say "hi"`, Message: `a\b`})
	want := `display notification "a\\b" with title "say \"hi\""`
	if got != want {
		t.Errorf("appleScript = %s, want %s", got, want)
	}
}

func TestMultiNotifier(t *testing.T) {
	var called []string

	mock1 := &mockNotifier{name: "mock1", calls: &called}
	mock2 := &mockNotifier{name: "mock2", calls: &called, err: errors.New("down")}

	multi := NewMultiNotifier(mock1, mock2, NoopNotifier{})
	err := multi.Send(Notification{Title: "Test"})

	if len(called) != 2 {
		t.Errorf("Expected 2 calls, got %d", len(called))
	}
	if err == nil || !strings.Contains(err.Error(), "down") {
		t.Errorf("expected joined error, got %v", err)
	}
}

type mockNotifier struct {
	name  string
	calls *[]string
	err   error
}

func (m *mockNotifier) Send(n Notification) error {
	*m.calls = append(*m.calls, m.name)
	return m.err
}
