package gitops

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/transport"
)

// ErrNothingToCommit means the worktree had no changes to record.
// CommitAndPush treats it as success.
var ErrNothingToCommit = errors.New("nothing to commit")

// AuthKind classifies a failed remote access
type AuthKind int

const (
	AuthOther        AuthKind = 0
	AuthUnauthorized AuthKind = 401
	AuthForbidden    AuthKind = 403
	AuthNotFound     AuthKind = 404
)

func (k AuthKind) String() string {
	switch k {
	case AuthUnauthorized:
		return "401 unauthorized"
	case AuthForbidden:
		return "403 forbidden"
	case AuthNotFound:
		return "404 not found"
	}
	return "other"
}

// AuthError is returned by Clone, and by CommitAndPush when the remote
// rejects the credentials. Msg is already scrubbed of secrets.
type AuthError struct {
	Op   string
	Kind AuthKind
	Msg  string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Op, e.Msg, e.Kind)
}

// PushError is a push failure unrelated to authentication. Msg is scrubbed.
type PushError struct {
	Branch string
	Msg    string
}

func (e *PushError) Error() string {
	return fmt.Sprintf("push %s: %s", e.Branch, e.Msg)
}

// classify maps transport errors onto the 401/403/404/other taxonomy
func classify(err error) AuthKind {
	switch {
	case errors.Is(err, transport.ErrAuthenticationRequired):
		return AuthUnauthorized
	case errors.Is(err, transport.ErrAuthorizationFailed):
		return AuthForbidden
	case errors.Is(err, transport.ErrRepositoryNotFound):
		return AuthNotFound
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "401"), strings.Contains(msg, "unable to authenticate"),
		strings.Contains(msg, "authentication required"):
		return AuthUnauthorized
	case strings.Contains(msg, "403"), strings.Contains(msg, "permission denied"):
		return AuthForbidden
	case strings.Contains(msg, "404"), strings.Contains(msg, "not found"):
		return AuthNotFound
	}
	return AuthOther
}

// isAuthFailure reports whether a push error stems from credentials
func isAuthFailure(err error) bool {
	k := classify(err)
	return k == AuthUnauthorized || k == AuthForbidden
}
