// Package connector holds the loaders that turn external data into datasets
// and the exporters that write prepared views back out.
package connector

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"

	"github.com/elliotchance/orderedmap/v2"
	"github.com/go-viper/mapstructure/v2"

	"github.com/dbsmedya/gorecipe/internal/dataset"
	"github.com/dbsmedya/gorecipe/internal/database"
	"github.com/dbsmedya/gorecipe/internal/logger"
	"github.com/dbsmedya/gorecipe/internal/relation"
)

var (
	// ErrUnknownLoader is returned for an unregistered loader type.
	ErrUnknownLoader = errors.New("unknown loader")
	// ErrUnknownExporter is returned for an unregistered exporter type.
	ErrUnknownExporter = errors.New("unknown exporter")
)

// StatusDone is the status of a successful export.
const StatusDone = "Done"

// Loader reads a source into a dataset.
type Loader interface {
	Name() string
	Load(ctx context.Context, params map[string]any) (dataset.Metadata, error)
}

// Exporter writes a relation set somewhere. Failures are reported through
// Result.Status rather than an error.
type Exporter interface {
	Name() string
	Export(ctx context.Context, set relation.Set, params map[string]any) Result
}

// FileDetail describes one written artifact.
type FileDetail struct {
	Name  string `json:"name"`
	Path  string `json:"path"`
	Size  string `json:"size"`
	Bytes int64  `json:"bytes"`
	Rows  int    `json:"rows"`
}

// Result is what an exporter reports back.
type Result struct {
	Status      string       `json:"status"`
	SizeStr     string       `json:"size_str,omitempty"`
	FileDetails []FileDetail `json:"file_details,omitempty"`
}

// ErrorResult wraps err in a failed Result.
func ErrorResult(err error) Result {
	return Result{Status: "Error: " + err.Error()}
}

// Failed reports whether the status describes a failure.
func (r Result) Failed() bool {
	return strings.HasPrefix(r.Status, "Error")
}

// Registry maps loader and exporter type names to implementations.
type Registry struct {
	mu        sync.RWMutex
	loaders   *orderedmap.OrderedMap[string, Loader]
	exporters *orderedmap.OrderedMap[string, Exporter]
	logger    *logger.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log *logger.Logger) *Registry {
	if log == nil {
		log = logger.NewDefault()
	}
	return &Registry{
		loaders:   orderedmap.NewOrderedMap[string, Loader](),
		exporters: orderedmap.NewOrderedMap[string, Exporter](),
		logger:    log,
	}
}

// NewDefaultRegistry registers the built-in loaders and exporters.
func NewDefaultRegistry(db *database.Manager, log *logger.Logger) *Registry {
	r := NewRegistry(log)
	_ = r.RegisterLoader(NewFileLoader())
	_ = r.RegisterLoader(NewSQLLoader(db))
	_ = r.RegisterExporter(NewCSVExporter())
	_ = r.RegisterExporter(NewNDJSONExporter())
	_ = r.RegisterExporter(NewJSONExporter())
	_ = r.RegisterExporter(NewSQLiteExporter())
	return r
}

// RegisterLoader adds a loader; names must be unique.
func (r *Registry) RegisterLoader(l Loader) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.loaders.Get(l.Name()); ok {
		return fmt.Errorf("loader %q already registered", l.Name())
	}
	r.loaders.Set(l.Name(), l)
	return nil
}

// RegisterExporter adds an exporter; names must be unique.
func (r *Registry) RegisterExporter(e Exporter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.exporters.Get(e.Name()); ok {
		return fmt.Errorf("exporter %q already registered", e.Name())
	}
	r.exporters.Set(e.Name(), e)
	return nil
}

// Loader looks up a loader by type.
func (r *Registry) Loader(name string) (Loader, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.loaders.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLoader, name)
	}
	return l, nil
}

// Exporter looks up an exporter by type.
func (r *Registry) Exporter(name string) (Exporter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.exporters.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownExporter, name)
	}
	return e, nil
}

// LoaderNames lists loader types in registration order.
func (r *Registry) LoaderNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loaders.Keys()
}

// ExporterNames lists exporter types in registration order.
func (r *Registry) ExporterNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.exporters.Keys()
}

// Load runs the named loader and records how the dataset was loaded so it
// can be reloaded from a project file.
func (r *Registry) Load(ctx context.Context, loaderType string, params map[string]any) (dataset.Metadata, error) {
	l, err := r.Loader(loaderType)
	if err != nil {
		return dataset.Metadata{}, err
	}
	meta, err := l.Load(ctx, params)
	if err != nil {
		return dataset.Metadata{}, fmt.Errorf("%s loader: %w", loaderType, err)
	}
	meta.LoaderType = loaderType
	meta.LoaderParams = maps.Clone(params)
	r.logger.Debugw("Loaded dataset source",
		"loader", loaderType,
		"source", meta.SourcePath,
		"files", meta.FileCount,
		"individual", meta.ProcessIndividual)
	return meta, nil
}

// Export runs the named exporter.
func (r *Registry) Export(ctx context.Context, exporterType string, set relation.Set, params map[string]any) Result {
	e, err := r.Exporter(exporterType)
	if err != nil {
		return ErrorResult(err)
	}
	return e.Export(ctx, set, params)
}

// decodeParams fills out from raw. strict rejects keys out does not declare.
func decodeParams(raw map[string]any, out any, strict bool) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      strict,
		TagName:          "mapstructure",
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(raw); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	return nil
}
