package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/dbsmedya/gorecipe/internal/connector"
	"github.com/dbsmedya/gorecipe/internal/dataset"
	"github.com/dbsmedya/gorecipe/internal/logger"
	"github.com/dbsmedya/gorecipe/internal/recipe"
	"github.com/dbsmedya/gorecipe/internal/relation"
	"github.com/dbsmedya/gorecipe/internal/staging"
	"github.com/dbsmedya/gorecipe/internal/verifier"
)

var (
	// ErrDatasetExists is returned when the target name is already loaded.
	ErrDatasetExists = dataset.ErrExists
	// ErrInvalidName is returned for a target name with no usable characters.
	ErrInvalidName = errors.New("invalid dataset name")
)

// Materializer writes transformed views to staging and registers them as new
// base datasets.
type Materializer struct {
	views      *Views
	staging    *staging.Manager
	connectors *connector.Registry
	verifier   *verifier.Verifier
	logger     *logger.Logger
}

// NewMaterializer creates a materializer. connectors must provide the file
// loader, which reads staged files back.
func NewMaterializer(views *Views, stage *staging.Manager, connectors *connector.Registry, log *logger.Logger) *Materializer {
	if log == nil {
		log = logger.NewNop()
	}
	v, _ := verifier.New(verifier.MethodCount, log)
	return &Materializer{views: views, staging: stage, connectors: connectors, verifier: v, logger: log}
}

// SetVerification selects how staged files are checked after being read
// back.
func (m *Materializer) SetVerification(method verifier.Method) error {
	v, err := verifier.New(method, m.logger)
	if err != nil {
		return err
	}
	m.verifier = v
	return nil
}

// SanitizeName keeps letters, digits, spaces, '_' and '-' and trims the
// result.
func SanitizeName(name string) (string, error) {
	var b strings.Builder
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '_' || r == '-' {
			b.WriteRune(r)
		}
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return out, nil
}

// Materialize applies rc to source, stores the full result in a new staging
// folder and registers it as dataset newName. It returns the registered name.
// On any failure nothing is registered and the staged files are removed.
func (m *Materializer) Materialize(ctx context.Context, source string, rc recipe.Recipe, newName string) (name string, err error) {
	name, err = SanitizeName(newName)
	if err != nil {
		return "", err
	}
	datasets := m.views.Datasets()
	if datasets.Has(name) {
		return "", fmt.Errorf("%w: %q", ErrDatasetExists, name)
	}

	log := m.logger.WithDataset(source)
	set, err := m.views.Full(ctx, source, rc, 0)
	if err != nil {
		return "", err
	}
	frame, err := set.Concat().Collect(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to collect %q: %w", source, err)
	}

	dir, err := m.staging.NewFolder(name)
	if err != nil {
		return "", err
	}
	defer func() {
		if err != nil {
			if rmErr := os.RemoveAll(dir); rmErr != nil {
				log.Warnw("Failed to remove staging folder", "path", dir, "error", rmErr)
			}
		}
	}()

	path := filepath.Join(dir, staging.SafeName(name)+".ndjson")
	if err = writeNDJSONFile(path, frame); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}

	meta, err := m.connectors.Load(ctx, "file", map[string]any{"path": path, "format": connector.FormatNDJSON})
	if err != nil {
		return "", err
	}
	staged, err := meta.Set.Concat().Collect(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to read back %s: %w", path, err)
	}
	if _, err = m.verifier.Verify(ctx, path, frame, staged); err != nil {
		return "", err
	}

	if err = datasets.AddIfAbsent(name, meta); err != nil {
		return "", err
	}
	log.Infow("Materialized dataset", "name", name, "path", path, "rows", frame.Len())
	return name, nil
}

func writeNDJSONFile(path string, f *relation.Frame) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(file)
	if err := connector.WriteNDJSON(w, f); err != nil {
		file.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
