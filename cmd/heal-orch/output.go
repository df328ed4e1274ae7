package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/hochfrequenz/heal-orchestrator/internal/domain"
	"github.com/hochfrequenz/heal-orchestrator/internal/language"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244")).
			Width(12)

	sectionStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	passedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	runningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
)

// statusText colours session and outcome values alike. SessionError and
// OutcomeError share the string "ERROR", so one case covers both.
func statusText(s string) string {
	switch s {
	case string(domain.OutcomePassed), string(domain.SessionCompleted):
		return passedStyle.Render(s)
	case string(domain.OutcomeFailed):
		return failedStyle.Render(s)
	case string(domain.OutcomeError):
		return errorStyle.Render(s)
	case string(domain.SessionRunning):
		return runningStyle.Render(s)
	}
	return dimStyle.Render(s)
}

func row(label, value string) string {
	return labelStyle.Render(label) + " " + value
}

func renderSession(s domain.Session, now time.Time) string {
	if s.Status == domain.SessionIdle || s.ID == "" {
		return sectionStyle.Render(titleStyle.Render("heal-orch") + "\n" + row("status", statusText(string(domain.SessionIdle))))
	}
	lines := []string{
		titleStyle.Render("Run " + s.ID),
		row("status", statusText(string(s.Status))),
		row("repository", s.RepoURL),
		row("branch", s.Branch),
		row("iteration", fmt.Sprintf("%d/%d", s.Iteration, s.MaxIterations)),
		row("fixes", humanize.Comma(int64(len(s.FixesApplied)))),
		row("started", humanize.RelTime(s.StartTime, now, "ago", "from now")),
	}
	if s.FinalStatus != "" {
		lines = append(lines, row("outcome", statusText(string(s.FinalStatus))))
	}
	if s.Result != nil {
		lines = append(lines, row("score", fmt.Sprint(s.Result.Score)), row("took", s.Result.TimeTaken))
	}
	if s.LastFailure != nil && s.FinalStatus != domain.OutcomePassed {
		lines = append(lines, row("failure", fmt.Sprintf("%s:%d %s", s.LastFailure.File, s.LastFailure.Line, s.LastFailure.Message)))
	}
	if n := len(s.Logs); n > 0 {
		tail := s.Logs[max(0, n-5):]
		lines = append(lines, "", dimStyle.Render(strings.Join(tail, "\n")))
	}
	return sectionStyle.Render(strings.Join(lines, "\n"))
}

func renderResult(r domain.RunResult) string {
	lines := []string{
		titleStyle.Render("Run " + r.RunID),
		row("status", statusText(string(r.Status))),
		row("branch", r.Branch),
		row("iterations", fmt.Sprintf("%d/%d", r.IterationsUsed, r.MaxIterations)),
		row("failures", humanize.Comma(int64(r.TotalFailures))),
		row("score", fmt.Sprint(r.Score)),
		row("took", r.TimeTaken),
	}
	for _, f := range r.FixesApplied {
		lines = append(lines, row("fix", fmt.Sprintf("%s [%s]", f.CommitMessage, f.Status)))
	}
	if r.LastFailure != nil {
		lines = append(lines, row("failure", fmt.Sprintf("%s:%d %s", r.LastFailure.File, r.LastFailure.Line, r.LastFailure.Message)))
	}
	return sectionStyle.Render(strings.Join(lines, "\n"))
}

func renderHistory(runs []domain.RunResult, now time.Time) string {
	header := fmt.Sprintf("%-10s %-8s %-28s %-6s %-5s %-5s %s", "RUN", "STATUS", "BRANCH", "ITER", "FIXES", "SCORE", "FINISHED")
	lines := []string{titleStyle.Render(header)}
	for _, r := range runs {
		id := r.RunID
		if len(id) > 8 {
			id = id[:8]
		}
		status := statusText(string(r.Status)) + strings.Repeat(" ", max(0, 8-len(r.Status)))
		lines = append(lines, fmt.Sprintf("%-10s %s %-28s %-6s %-5d %-5d %s",
			id, status, r.Branch,
			fmt.Sprintf("%d/%d", r.IterationsUsed, r.MaxIterations),
			len(r.FixesApplied), r.Score,
			humanize.RelTime(r.FinishedAt, now, "ago", "from now")))
	}
	return strings.Join(lines, "\n")
}

func renderProfile(p language.Profile, dir string) string {
	lines := []string{
		titleStyle.Render(dir),
		row("language", p.Language.String()),
	}
	if !p.Runnable() {
		lines = append(lines, dimStyle.Render("No test configuration for language: "+p.Language.String()))
		return sectionStyle.Render(strings.Join(lines, "\n"))
	}
	for _, s := range p.InstallSteps {
		lines = append(lines, row("install", s.Display()))
	}
	for _, s := range p.TestSteps {
		lines = append(lines, row("test", s.Display()))
	}
	return sectionStyle.Render(strings.Join(lines, "\n"))
}
