// Package workspace allocates and removes the per-run filesystem roots.
package workspace

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	deleteAttempts = 5
	deleteBackoff  = 200 * time.Millisecond
)

// Manager hands out run directories under a base directory
type Manager struct {
	baseDir string
	logger  *zap.Logger
	now     func() time.Time
	sleep   func(time.Duration)
}

// NewManager creates a Manager rooted at baseDir
func NewManager(baseDir string, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		baseDir: baseDir,
		logger:  logger.Named("workspace"),
		now:     time.Now,
		sleep:   time.Sleep,
	}
}

// BaseDir returns the directory all workspaces live under
func (m *Manager) BaseDir() string {
	return m.baseDir
}

// Create allocates a fresh run_<timestamp>_<suffix> directory, creating the
// base directory if it does not exist yet.
func (m *Manager) Create() (string, error) {
	if err := os.MkdirAll(m.baseDir, 0755); err != nil {
		return "", fmt.Errorf("creating workspace base dir: %w", err)
	}

	for i := 0; i < 10; i++ {
		name := fmt.Sprintf("run_%d_%s", m.now().UnixNano(), randomSuffix())
		path := filepath.Join(m.baseDir, name)
		err := os.Mkdir(path, 0755)
		if err == nil {
			m.logger.Debug("workspace created", zap.String("path", path))
			return path, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("creating workspace: %w", err)
		}
	}
	return "", fmt.Errorf("creating workspace: no free name under %s", m.baseDir)
}

// Delete removes a workspace. It is best-effort: read-only entries are made
// writable and the removal is retried with a short backoff; a final failure is
// only logged. Paths outside the base directory are refused.
func (m *Manager) Delete(path string) {
	if !m.owns(path) {
		m.logger.Warn("refusing to delete path outside workspace base", zap.String("path", path))
		return
	}

	var err error
	for attempt := 1; attempt <= deleteAttempts; attempt++ {
		if err = os.RemoveAll(path); err == nil {
			m.logger.Debug("workspace deleted", zap.String("path", path))
			return
		}
		makeWritable(path)
		m.sleep(time.Duration(attempt) * deleteBackoff)
	}
	m.logger.Warn("workspace cleanup failed", zap.String("path", path), zap.Error(err))
}

// owns reports whether path is strictly inside the base directory
func (m *Manager) owns(path string) bool {
	base, err := filepath.Abs(m.baseDir)
	if err != nil {
		return false
	}
	p, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(base, p)
	if err != nil || rel == "." {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// makeWritable clears read-only bits so RemoveAll can unlink entries
func makeWritable(root string) {
	_ = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			_ = os.Chmod(p, 0755)
		} else if d.Type()&fs.ModeSymlink == 0 {
			_ = os.Chmod(p, 0644)
		}
		return nil
	})
}

func randomSuffix() string {
	b := make([]byte, 3)
	rand.Read(b)
	return hex.EncodeToString(b)
}
