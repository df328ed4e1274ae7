// Package extractor turns raw build and test output into failure locations.
package extractor

import (
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/hochfrequenz/heal-orchestrator/internal/domain"
	"github.com/hochfrequenz/heal-orchestrator/internal/language"
)

// MaxMessageLen bounds failure messages, in bytes
const MaxMessageLen = 300

// noisePaths marks locations that can never be repository files
var noisePaths = []string{
	"site-packages/", "dist-packages/", "node_modules/", "/usr/lib/", "/usr/local/lib/",
	"<frozen", "<string>", "<anonymous>", "node:", "/rustc/", "/.cargo/registry/",
}

type match struct {
	start int
	rec   domain.FailureRecord
}

// Extract finds failure locations in rawLogs using the patterns of lang from
// the default registry. It never panics: no pattern, no match, or malformed
// input all yield an empty slice.
func Extract(rawLogs string, lang language.Language) []domain.FailureRecord {
	return ExtractWith(language.Default(), rawLogs, lang)
}

// ExtractWith is Extract against a specific registry
func ExtractWith(r *language.Registry, rawLogs string, lang language.Language) (out []domain.FailureRecord) {
	out = []domain.FailureRecord{}
	defer func() {
		if recover() != nil {
			out = []domain.FailureRecord{}
		}
	}()

	profile := r.Profile(lang)
	if len(profile.Patterns) == 0 || rawLogs == "" {
		return out
	}

	var matches []match
	for _, p := range profile.Patterns {
		if p.Regexp == nil || p.File == 0 {
			continue
		}
		for _, idx := range p.Regexp.FindAllStringSubmatchIndex(rawLogs, -1) {
			file := group(rawLogs, idx, p.File)
			if file == "" || isNoise(file) {
				continue
			}
			rec := domain.FailureRecord{
				File:    cleanPath(file),
				Line:    atoi(group(rawLogs, idx, p.Line)),
				Column:  atoi(group(rawLogs, idx, p.Column)),
				Message: messageAt(rawLogs, idx[0]),
			}
			rec.Type = Classify(rec.Message)
			matches = append(matches, match{start: idx[0], rec: rec})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].start < matches[j].start })

	seen := make(map[string]bool)
	for _, m := range matches {
		key := m.rec.File + ":" + strconv.Itoa(m.rec.Line)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, m.rec)
	}
	return out
}

// group returns submatch n, or "" when n is 0 or did not participate
func group(s string, idx []int, n int) string {
	if n <= 0 || 2*n+1 >= len(idx) {
		return ""
	}
	start, end := idx[2*n], idx[2*n+1]
	if start < 0 || end < start {
		return ""
	}
	return s[start:end]
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// messageAt returns the line containing offset plus the next non-empty line
func messageAt(s string, offset int) string {
	lineStart := strings.LastIndexByte(s[:offset], '\n') + 1
	rest := s[lineStart:]
	lines := strings.SplitN(rest, "\n", 3)

	msg := strings.TrimSpace(lines[0])
	if len(lines) > 1 {
		if next := strings.TrimSpace(lines[1]); next != "" {
			msg += " " + next
		}
	}
	return Clip(msg, MaxMessageLen)
}

// Clip shortens s to at most n bytes without splitting a UTF-8 sequence
func Clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func isNoise(file string) bool {
	for _, n := range noisePaths {
		if strings.Contains(file, n) {
			return true
		}
	}
	return false
}

func cleanPath(p string) string {
	p = strings.Trim(p, `"'`)
	p = filepath.ToSlash(filepath.Clean(p))
	return strings.TrimPrefix(p, "./")
}
