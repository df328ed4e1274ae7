package notify

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hochfrequenz/heal-orchestrator/internal/domain"
)

// maxListedFixes caps the commit list in a run summary
const maxListedFixes = 10

// SlackNotifier posts run summaries to a Slack incoming webhook
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
}

// SlackMessage is the incoming-webhook payload
type SlackMessage struct {
	Text        string            `json:"text"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackAttachment is one coloured block of a message
type SlackAttachment struct {
	Color      string       `json:"color"`
	Title      string       `json:"title,omitempty"`
	TitleLink  string       `json:"title_link,omitempty"`
	Text       string       `json:"text,omitempty"`
	Fields     []SlackField `json:"fields,omitempty"`
	Footer     string       `json:"footer,omitempty"`
	Timestamp  int64        `json:"ts,omitempty"`
	MarkdownIn []string     `json:"mrkdwn_in,omitempty"`
}

// SlackField is a label/value pair; Short fields render two per row
type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// NewSlackNotifier creates a notifier; an empty URL disables it
func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// SlackColor maps a notification type to an attachment colour
func SlackColor(t NotificationType) string {
	switch t {
	case NotifySuccess:
		return "good"
	case NotifyWarning:
		return "warning"
	case NotifyError:
		return "danger"
	default:
		return "#439FE0"
	}
}

// BuildSlackMessage renders n. Notifications carrying a run get one field
// per result figure and, when commits were made, a list of them.
func BuildSlackMessage(n Notification) SlackMessage {
	summary := SlackAttachment{
		Color:  SlackColor(n.Type),
		Title:  n.Branch,
		Text:   n.Message,
		Footer: "heal-orch",
	}
	if n.RunID != "" {
		summary.Footer = "heal-orch run " + n.RunID
	}
	msg := SlackMessage{Text: n.Title}

	r := n.Run
	if r == nil {
		msg.Attachments = []SlackAttachment{summary}
		return msg
	}

	summary.Text = ""
	if link := browseURL(r.RepoURL, r.Branch); link != "" {
		summary.TitleLink = link
	}
	summary.Timestamp = r.FinishedAt.Unix()
	summary.Fields = []SlackField{
		{Title: "Repository", Value: r.RepoURL},
		{Title: "Status", Value: string(r.Status), Short: true},
		{Title: "Score", Value: fmt.Sprint(r.Score), Short: true},
		{Title: "Iterations", Value: fmt.Sprintf("%d/%d", r.IterationsUsed, r.MaxIterations), Short: true},
		{Title: "Time taken", Value: r.TimeTaken, Short: true},
		{Title: "Fixes", Value: fixSummary(r.FixesApplied), Short: true},
		{Title: "Failures seen", Value: fmt.Sprint(r.TotalFailures), Short: true},
	}
	if f := r.LastFailure; f != nil && r.Status != domain.OutcomePassed {
		summary.Fields = append(summary.Fields, SlackField{
			Title: "Last failure",
			Value: fmt.Sprintf("`%s:%d` %s (%s)", f.File, f.Line, f.Message, f.Type),
		})
		summary.MarkdownIn = []string{"fields"}
	}
	msg.Attachments = []SlackAttachment{summary}

	if list := commitList(r.FixesApplied); list != "" {
		msg.Attachments = append(msg.Attachments, SlackAttachment{
			Color:      SlackColor(NotifyInfo),
			Title:      "Commits",
			Text:       list,
			MarkdownIn: []string{"text"},
		})
	}
	return msg
}

// fixSummary counts fixes by outcome, e.g. "3 (1 failed commit)"
func fixSummary(fixes []domain.FixRecord) string {
	failed := 0
	for _, f := range fixes {
		if f.Status == domain.FixFailedCommit {
			failed++
		}
	}
	if failed == 0 {
		return fmt.Sprint(len(fixes))
	}
	return fmt.Sprintf("%d (%d failed commit)", len(fixes), failed)
}

func commitList(fixes []domain.FixRecord) string {
	var b strings.Builder
	listed := 0
	for _, f := range fixes {
		if f.Status != domain.FixFixed {
			continue
		}
		if listed == maxListedFixes {
			fmt.Fprintf(&b, "… and %d more\n", countFixed(fixes)-listed)
			break
		}
		fmt.Fprintf(&b, "• `%s`\n", f.CommitMessage)
		listed++
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func countFixed(fixes []domain.FixRecord) int {
	n := 0
	for _, f := range fixes {
		if f.Status == domain.FixFixed {
			n++
		}
	}
	return n
}

// browseURL links to the branch on well-known https hosts
func browseURL(repoURL, branch string) string {
	if branch == "" || !strings.HasPrefix(repoURL, "https://") {
		return ""
	}
	base := strings.TrimSuffix(strings.TrimSuffix(repoURL, "/"), ".git")
	switch {
	case strings.HasPrefix(base, "https://github.com/"):
		return base + "/tree/" + branch
	case strings.HasPrefix(base, "https://gitlab.com/"):
		return base + "/-/tree/" + branch
	}
	return ""
}

// Send posts n to the webhook
func (s *SlackNotifier) Send(n Notification) error {
	if s.webhookURL == "" {
		return nil
	}

	payload, err := json.Marshal(BuildSlackMessage(n))
	if err != nil {
		return err
	}

	resp, err := s.client.Post(s.webhookURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		// the webhook URL is a credential; keep it out of the error
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return fmt.Errorf("posting to slack: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("slack returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
