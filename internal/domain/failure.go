package domain

import "fmt"

// UnknownFile is the placeholder file name used when no location could be determined
const UnknownFile = "unknown"

// FailureRecord is one normalized failure location.
// File is relative to the repository root; Line 0 means unknown.
type FailureRecord struct {
	File    string  `json:"file"`
	Line    int     `json:"line"`
	Column  int     `json:"column,omitempty"`
	Message string  `json:"message"`
	Type    BugType `json:"type,omitempty"`
}

// WellFormed reports whether the record points at a concrete file and line
func (f FailureRecord) WellFormed() bool {
	return f.File != "" && f.File != UnknownFile && f.Line > 0
}

// SandboxResult is the single structured result of one sandbox invocation
type SandboxResult struct {
	Status   SandboxStatus   `json:"status"`
	Language string          `json:"language"`
	ExitCode int             `json:"exit_code"`
	Errors   []FailureRecord `json:"errors"`
	RawLogs  string          `json:"raw_logs"`
}

// SystemErrorResult builds the result reported when the sandbox itself failed
func SystemErrorResult(language, fault string) SandboxResult {
	if language == "" {
		language = "unknown"
	}
	return SandboxResult{
		Status:   SandboxSystemError,
		Language: language,
		ExitCode: -1,
		Errors:   []FailureRecord{},
		RawLogs:  fault,
	}
}

// FirstError returns the first structured failure, if any
func (r SandboxResult) FirstError() (FailureRecord, bool) {
	if len(r.Errors) == 0 {
		return FailureRecord{}, false
	}
	return r.Errors[0], true
}

// FixRecord documents one applied fix and its commit outcome
type FixRecord struct {
	File          string    `json:"file"`
	BugType       BugType   `json:"bug_type"`
	LineNumber    int       `json:"line_number"`
	CommitMessage string    `json:"commit_message"`
	Status        FixStatus `json:"status"`
}

// CommitMessage formats the commit message for a fix of f
func CommitMessage(f FailureRecord) string {
	t := f.Type
	if t == "" {
		t = BugUnknown
	}
	return fmt.Sprintf("[AI-AGENT] Fix %s error in %s line %d", t, f.File, f.Line)
}
