// Package staging manages the scratch area materialized datasets are written to.
package staging

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/dbsmedya/gorecipe/internal/logger"
)

// EnvDir overrides the staging root when no directory is configured.
const EnvDir = "GORECIPE_STAGING_DIR"

// Manager creates uniquely named folders under a staging root.
type Manager struct {
	root   string
	logger *logger.Logger
}

// NewManager prepares the staging root. An empty root falls back to EnvDir,
// then to a folder in the OS temp directory.
func NewManager(root string, log *logger.Logger) (*Manager, error) {
	if log == nil {
		log = logger.NewDefault()
	}
	if root == "" {
		root = os.Getenv(EnvDir)
	}
	if root == "" {
		root = filepath.Join(os.TempDir(), "gorecipe_staging")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	return &Manager{root: root, logger: log}, nil
}

// Root returns the staging root directory.
func (m *Manager) Root() string {
	return m.root
}

// NewFolder creates <root>/<unix-ts>_<uuid8>_<safe-name>.
func (m *Manager) NewFolder(name string) (string, error) {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	dir := filepath.Join(m.root, fmt.Sprintf("%d_%s_%s", time.Now().Unix(), id, SafeName(name)))
	if err := os.Mkdir(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create staging folder: %w", err)
	}
	m.logger.Debugw("Created staging folder", "path", dir)
	return dir, nil
}

// Cleanup removes staging entries last modified more than maxAge ago and
// returns how many were removed.
func (m *Manager) Cleanup(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return 0, fmt.Errorf("failed to read staging directory: %w", err)
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	var errs []error
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(m.root, e.Name())); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	if removed > 0 {
		m.logger.Infow("Cleaned staging directory", "removed", removed, "max_age", maxAge.String())
	}
	return removed, errors.Join(errs...)
}

// SafeName reduces name to letters, digits, '_' and '-' for use in paths.
func SafeName(name string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(name) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)), r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "dataset"
	}
	return b.String()
}
