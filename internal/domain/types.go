package domain

import "strings"

// SessionStatus represents the lifecycle state of a healing session
type SessionStatus string

const (
	SessionIdle      SessionStatus = "IDLE"
	SessionRunning   SessionStatus = "RUNNING"
	SessionCompleted SessionStatus = "COMPLETED"
	SessionError     SessionStatus = "ERROR"
)

// Outcome is the terminal verdict of a finished run
type Outcome string

const (
	OutcomePassed Outcome = "PASSED"
	OutcomeFailed Outcome = "FAILED"
	OutcomeError  Outcome = "ERROR"
)

// SandboxStatus is the status reported by the universal runner
type SandboxStatus string

const (
	SandboxPassed        SandboxStatus = "PASSED"
	SandboxFailed        SandboxStatus = "FAILED"
	SandboxInstallFailed SandboxStatus = "INSTALL_FAILED"
	SandboxSystemError   SandboxStatus = "SYSTEM_ERROR"
)

// Valid reports whether s is one of the four known statuses
func (s SandboxStatus) Valid() bool {
	switch s {
	case SandboxPassed, SandboxFailed, SandboxInstallFailed, SandboxSystemError:
		return true
	}
	return false
}

// FixStatus tracks a fix from application to commit
type FixStatus string

const (
	FixApplied      FixStatus = "Applied"
	FixFixed        FixStatus = "Fixed"
	FixFailedCommit FixStatus = "Failed Commit"
)

// BugType is the category assigned to a failure
type BugType string

const (
	BugLinting     BugType = "LINTING"
	BugSyntax      BugType = "SYNTAX"
	BugLogic       BugType = "LOGIC"
	BugTypeError   BugType = "TYPE_ERROR"
	BugImport      BugType = "IMPORT"
	BugIndentation BugType = "INDENTATION"
	BugUnknown     BugType = "UNKNOWN"
)

// ParseBugType maps free-form classifier output onto a known category.
// Anything unrecognised becomes BugUnknown.
func ParseBugType(s string) BugType {
	t := BugType(strings.ToUpper(strings.TrimSpace(s)))
	switch t {
	case BugLinting, BugSyntax, BugLogic, BugTypeError, BugImport, BugIndentation:
		return t
	case "TYPEERROR", "TYPE":
		return BugTypeError
	}
	return BugUnknown
}

// AuthMode selects how the gateway authenticates against the remote
type AuthMode string

const (
	AuthHTTPS AuthMode = "https"
	AuthSSH   AuthMode = "ssh"
)
