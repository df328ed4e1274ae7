package extractor

import (
	"path"
	"path/filepath"
	"strings"

	"github.com/hochfrequenz/heal-orchestrator/internal/domain"
)

// Relativize rewrites every record's file relative to root. Absolute paths
// outside root, and paths escaping root, are dropped since they cannot be
// repository files.
func Relativize(records []domain.FailureRecord, root string) []domain.FailureRecord {
	out := make([]domain.FailureRecord, 0, len(records))
	for _, r := range records {
		rel, ok := Normalize(r.File, root)
		if !ok {
			continue
		}
		r.File = rel
		out = append(out, r)
	}
	return out
}

// Normalize returns p relative to root, using forward slashes
func Normalize(p, root string) (string, bool) {
	if p == "" {
		return "", false
	}
	if filepath.IsAbs(p) {
		absRoot, err := filepath.Abs(root)
		if err != nil {
			return "", false
		}
		rel, err := filepath.Rel(absRoot, p)
		if err != nil {
			return "", false
		}
		p = rel
	}
	p = path.Clean(filepath.ToSlash(p))
	if p == "." || p == ".." || strings.HasPrefix(p, "../") || path.IsAbs(p) {
		return "", false
	}
	return p, true
}
