package secrets

import (
	"errors"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/zricethezav/gitleaks/v8/detect"
)

const (
	// TokenMarker replaces registered credential material
	TokenMarker = "***TOKEN***"
	// RedactedMarker replaces secrets found by rule-based detection
	RedactedMarker = "[REDACTED]"

	minKeyLineLen = 16
)

var urlUserinfo = regexp.MustCompile(`(?i)([a-z][a-z0-9+.-]*://)[^/@\s]+@`)

// Redactor scrubs registered credentials, URL userinfo and anything the
// gitleaks rule set recognises as a secret.
type Redactor struct {
	mu    sync.RWMutex
	creds map[*Credentials]struct{}

	useDetector bool
	detectOnce  sync.Once
	detector    *detect.Detector
}

// NewRedactor creates a redactor. useDetector enables gitleaks scanning on
// top of exact-match replacement.
func NewRedactor(useDetector bool) *Redactor {
	return &Redactor{
		creds:       make(map[*Credentials]struct{}),
		useDetector: useDetector,
	}
}

// Register adds c to the set of secrets to scrub
func (r *Redactor) Register(c *Credentials) {
	if c.Empty() {
		return
	}
	r.mu.Lock()
	r.creds[c] = struct{}{}
	r.mu.Unlock()
}

// Forget removes c once its run has ended
func (r *Redactor) Forget(c *Credentials) {
	r.mu.Lock()
	delete(r.creds, c)
	r.mu.Unlock()
}

// Scrub returns s with every known secret replaced
func (r *Redactor) Scrub(s string) string {
	if s == "" {
		return s
	}
	s = r.scrubRegistered(s)
	s = urlUserinfo.ReplaceAllString(s, "${1}"+TokenMarker+"@")
	if r.useDetector {
		s = r.scrubDetected(s)
	}
	return s
}

// ScrubError returns an error whose message is scrubbed. The original chain
// stays reachable through errors.Is but is never printed.
func (r *Redactor) ScrubError(err error) error {
	if err == nil {
		return nil
	}
	return &redactedError{msg: r.Scrub(err.Error()), cause: err}
}

func (r *Redactor) scrubRegistered(s string) string {
	r.mu.RLock()
	creds := make([]*Credentials, 0, len(r.creds))
	for c := range r.creds {
		creds = append(creds, c)
	}
	r.mu.RUnlock()

	for _, c := range creds {
		_ = c.WithSecret(func(secret []byte) error {
			s = replaceAll(s, needles(string(secret)))
			return nil
		})
		_ = c.WithPassphrase(func(p []byte) error {
			s = replaceAll(s, needles(string(p)))
			return nil
		})
	}
	return s
}

// needles expands a secret into the literal forms it may appear in:
// verbatim, URL-escaped, and for PEM keys each body line.
func needles(secret string) []string {
	secret = strings.TrimSpace(secret)
	if len(secret) < MinSecretLen {
		return nil
	}
	out := []string{secret, url.QueryEscape(secret), url.PathEscape(secret)}
	if strings.Contains(secret, "\n") {
		for _, line := range strings.Split(secret, "\n") {
			line = strings.TrimSpace(line)
			if len(line) >= minKeyLineLen && !strings.HasPrefix(line, "-----") {
				out = append(out, line)
			}
		}
	}
	// longest first so a prefix never leaves a tail behind
	sort.Slice(out, func(i, j int) bool { return len(out[i]) > len(out[j]) })
	return out
}

func replaceAll(s string, needles []string) string {
	for _, n := range needles {
		if n != "" {
			s = strings.ReplaceAll(s, n, TokenMarker)
		}
	}
	return s
}

func (r *Redactor) scrubDetected(s string) string {
	r.detectOnce.Do(func() {
		d, err := detect.NewDetectorDefaultConfig()
		if err == nil {
			r.detector = d
		}
	})
	if r.detector == nil {
		return s
	}
	for _, f := range r.detector.DetectString(s) {
		if len(f.Secret) >= MinSecretLen {
			s = strings.ReplaceAll(s, f.Secret, RedactedMarker)
		}
	}
	return s
}

type redactedError struct {
	msg   string
	cause error
}

func (e *redactedError) Error() string { return e.msg }

// Is lets callers match sentinels of the original chain
func (e *redactedError) Is(target error) bool {
	return errors.Is(e.cause, target)
}
