// Package project saves the loaded datasets with their recipes to a JSON
// project file and loads them back through the loaders.
package project

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"

	"github.com/dbsmedya/gorecipe/internal/dataset"
	"github.com/dbsmedya/gorecipe/internal/logger"
	"github.com/dbsmedya/gorecipe/internal/recipe"
)

// Version is the project file format version written by Save.
const Version = 1

// Path modes for loader "path" params.
const (
	PathsAbsolute = "absolute"
	PathsRelative = "relative"
)

// File is the on-disk project.
type File struct {
	Version  int       `json:"version"`
	PathMode string    `json:"path_mode"`
	Datasets []Dataset `json:"datasets"`
}

// Dataset is one dataset entry in a project file.
type Dataset struct {
	Name         string         `json:"name"`
	LoaderType   string         `json:"loader_type"`
	LoaderParams map[string]any `json:"loader_params"`
	Recipe       recipe.Recipe  `json:"recipe"`
}

// Loader loads a dataset source. *connector.Registry implements it.
type Loader interface {
	Load(ctx context.Context, loaderType string, params map[string]any) (dataset.Metadata, error)
}

// Build captures every dataset in reg that can be reloaded. Datasets without
// a loader type are skipped and named in the returned list.
func Build(reg *dataset.Registry) (File, []string) {
	f := File{Version: Version, PathMode: PathsAbsolute}
	var skipped []string
	for _, name := range reg.Names() {
		e, ok := reg.Snapshot(name)
		if !ok {
			continue
		}
		if e.Metadata.LoaderType == "" {
			skipped = append(skipped, name)
			continue
		}
		f.Datasets = append(f.Datasets, Dataset{
			Name:         name,
			LoaderType:   e.Metadata.LoaderType,
			LoaderParams: maps.Clone(e.Metadata.LoaderParams),
			Recipe:       e.Recipe,
		})
	}
	return f, skipped
}

// Validate checks the version and the dataset entries.
func (f File) Validate() error {
	if f.Version < 1 || f.Version > Version {
		return fmt.Errorf("unsupported project version %d", f.Version)
	}
	switch f.PathMode {
	case "", PathsAbsolute, PathsRelative:
	default:
		return fmt.Errorf("unknown path_mode %q", f.PathMode)
	}
	seen := make(map[string]bool, len(f.Datasets))
	var errs []error
	for i, d := range f.Datasets {
		if d.Name == "" {
			errs = append(errs, fmt.Errorf("dataset %d: name is empty", i))
		} else if seen[d.Name] {
			errs = append(errs, fmt.Errorf("dataset %q appears twice", d.Name))
		}
		seen[d.Name] = true
		if d.LoaderType == "" {
			errs = append(errs, fmt.Errorf("dataset %q: loader_type is empty", d.Name))
		}
		for j, s := range d.Recipe {
			if s.Type == "" {
				errs = append(errs, fmt.Errorf("dataset %q: step %d has no type", d.Name, j))
			}
		}
	}
	return errors.Join(errs...)
}

// mapPaths returns a copy of f with fn applied to every string "path" param.
func (f File) mapPaths(mode string, fn func(string) string) File {
	out := File{Version: f.Version, PathMode: mode, Datasets: make([]Dataset, len(f.Datasets))}
	for i, d := range f.Datasets {
		d.LoaderParams = maps.Clone(d.LoaderParams)
		if p, ok := d.LoaderParams["path"].(string); ok && p != "" {
			d.LoaderParams["path"] = fn(p)
		}
		out.Datasets[i] = d
	}
	return out
}

// Relative rewrites absolute paths relative to baseDir. Paths that cannot be
// made relative stay absolute.
func (f File) Relative(baseDir string) File {
	return f.mapPaths(PathsRelative, func(p string) string {
		if !filepath.IsAbs(p) {
			return p
		}
		rel, err := filepath.Rel(baseDir, p)
		if err != nil {
			return p
		}
		return rel
	})
}

// Resolve makes relative paths absolute against baseDir.
func (f File) Resolve(baseDir string) File {
	if f.PathMode != PathsRelative {
		return f
	}
	return f.mapPaths(PathsAbsolute, func(p string) string {
		if filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(baseDir, p)
	})
}

// Save writes f to path as indented JSON.
func Save(path string, f File) error {
	if err := f.Validate(); err != nil {
		return fmt.Errorf("invalid project: %w", err)
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode project: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create project directory: %w", err)
		}
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write project file: %w", err)
	}
	return nil
}

// Read parses and validates a project file. Relative paths are resolved
// against the file's directory.
func Read(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("failed to read project file: %w", err)
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("invalid project file %s: %w", path, err)
	}
	if err := f.Validate(); err != nil {
		return File{}, fmt.Errorf("invalid project file %s: %w", path, err)
	}
	abs, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return File{}, err
	}
	return f.Resolve(abs), nil
}

// Load reads the project at path and loads every dataset into reg. Every
// source is loaded before anything is registered, so a failing source leaves
// reg unchanged. Names already present in reg are rejected.
func Load(ctx context.Context, path string, loader Loader, reg *dataset.Registry, log *logger.Logger) ([]string, error) {
	if log == nil {
		log = logger.NewNop()
	}
	f, err := Read(path)
	if err != nil {
		return nil, err
	}

	metas := make([]dataset.Metadata, len(f.Datasets))
	for i, d := range f.Datasets {
		if reg.Has(d.Name) {
			return nil, fmt.Errorf("%w: %q", dataset.ErrExists, d.Name)
		}
		meta, err := loader.Load(ctx, d.LoaderType, d.LoaderParams)
		if err != nil {
			return nil, fmt.Errorf("dataset %q: %w", d.Name, err)
		}
		metas[i] = meta
	}

	names := make([]string, 0, len(f.Datasets))
	for i, d := range f.Datasets {
		if err := reg.AddIfAbsent(d.Name, metas[i]); err != nil {
			return names, err
		}
		if err := reg.SetRecipe(d.Name, d.Recipe); err != nil {
			return names, err
		}
		names = append(names, d.Name)
		log.WithDataset(d.Name).Debugw("Loaded dataset from project",
			"loader", d.LoaderType,
			"steps", len(d.Recipe))
	}
	log.Infow("Project loaded", "path", path, "datasets", len(names))
	return names, nil
}
