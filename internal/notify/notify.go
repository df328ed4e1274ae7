// Package notify announces finished healing runs.
package notify

import (
	"errors"
	"fmt"

	"github.com/hochfrequenz/heal-orchestrator/internal/domain"
)

// NotificationType represents the type of notification
type NotificationType int

const (
	NotifyInfo NotificationType = iota
	NotifySuccess
	NotifyWarning
	NotifyError
)

// Notification represents a notification to be sent
type Notification struct {
	Title   string
	Message string
	Type    NotificationType
	RunID   string // Optional run reference
	Branch  string // Optional fix branch

	// Run is set for run completion notices
	Run *domain.RunResult
}

// Notifier is the interface for sending notifications
type Notifier interface {
	Send(n Notification) error
}

// ForRun builds the completion notice for r
func ForRun(r domain.RunResult) Notification {
	res := r.Clone()
	n := Notification{
		RunID:  r.RunID,
		Branch: r.Branch,
		Run:    &res,
		Message: fmt.Sprintf("%s: %d/%d iterations, %d fixes, score %d, took %s",
			r.RepoURL, r.IterationsUsed, r.MaxIterations, r.Commits(), r.Score, r.TimeTaken),
	}
	switch r.Status {
	case domain.OutcomePassed:
		n.Type = NotifySuccess
		n.Title = "Healing run passed"
	case domain.OutcomeFailed:
		n.Type = NotifyWarning
		n.Title = "Healing run gave up"
		if r.LastFailure != nil {
			n.Message += fmt.Sprintf("\nlast failure: %s:%d %s", r.LastFailure.File, r.LastFailure.Line, r.LastFailure.Message)
		}
	default:
		n.Type = NotifyError
		n.Title = "Healing run failed"
	}
	return n
}

// MultiNotifier sends to multiple notifiers
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a notifier that sends to all provided notifiers
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Send sends the notification to all notifiers
func (m *MultiNotifier) Send(n Notification) error {
	var errs []error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NoopNotifier does nothing (for testing or disabled notifications)
type NoopNotifier struct{}

func (NoopNotifier) Send(n Notification) error { return nil }
