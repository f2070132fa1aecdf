// Package registry holds the catalog of transform step definitions. A
// registry is built once at startup, filled with definitions and then only
// read by the executor and the job manager.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/elliotchance/orderedmap/v2"
	"github.com/go-viper/mapstructure/v2"

	"github.com/dbsmedya/gorecipe/internal/recipe"
	"github.com/dbsmedya/gorecipe/internal/relation"
)

// ErrDuplicateStep is returned when a step type is registered twice.
var ErrDuplicateStep = errors.New("step type already registered")

// Scope says how much of a dataset a step needs to see.
type Scope int

const (
	// ScopePerFile steps run on each per-file relation independently.
	ScopePerFile Scope = iota
	// ScopeWholeDataset steps need every row at once, so per-file sets are
	// collapsed before they run.
	ScopeWholeDataset
)

func (s Scope) String() string {
	if s == ScopeWholeDataset {
		return "whole-dataset"
	}
	return "per-file"
}

// Params is a decoded, typed parameter value for one step type.
type Params interface {
	Validate() error
}

// Referencer is implemented by params that point at other datasets.
type Referencer interface {
	References() []string
}

// TransformFunc is the untyped form of a step transform.
type TransformFunc func(ctx context.Context, rel *relation.Relation, p Params, tc *recipe.TransformContext) (*relation.Relation, error)

// Meta describes a step type for capability discovery.
type Meta struct {
	Type        string
	Label       string
	Group       string
	Description string
	Scope       Scope
}

// Definition pairs a step type with its parameter schema and transform.
type Definition struct {
	Meta
	newParams func() Params
	transform TransformFunc
}

// Define builds a Definition from a typed transform. newParams returns a
// fresh params value, normally a pointer to a struct with mapstructure tags
// and its defaults filled in.
func Define[P Params](meta Meta, newParams func() P, fn func(ctx context.Context, rel *relation.Relation, p P, tc *recipe.TransformContext) (*relation.Relation, error)) Definition {
	return Definition{
		Meta:      meta,
		newParams: func() Params { return newParams() },
		transform: func(ctx context.Context, rel *relation.Relation, p Params, tc *recipe.TransformContext) (*relation.Relation, error) {
			typed, ok := p.(P)
			if !ok {
				return nil, fmt.Errorf("step %q: unexpected params type %T", meta.Type, p)
			}
			return fn(ctx, rel, typed, tc)
		},
	}
}

// Decode converts an untyped params map into the step's typed params and
// validates them.
func (d Definition) Decode(raw map[string]any) (Params, error) {
	p := d.newParams()
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           p,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return nil, &ParamError{Type: d.Type, Err: err}
	}
	if err := dec.Decode(raw); err != nil {
		return nil, &ParamError{Type: d.Type, Err: err}
	}
	if err := p.Validate(); err != nil {
		return nil, &ParamError{Type: d.Type, Err: err}
	}
	return p, nil
}

// Transform runs the step's transform with already decoded params.
func (d Definition) Transform(ctx context.Context, rel *relation.Relation, p Params, tc *recipe.TransformContext) (*relation.Relation, error) {
	return d.transform(ctx, rel, p, tc)
}

// References returns the datasets a step configured with raw refers to.
// Params that fail to decode reference nothing.
func (d Definition) References(raw map[string]any) []string {
	p, err := d.Decode(raw)
	if err != nil {
		return nil
	}
	if r, ok := p.(Referencer); ok {
		return r.References()
	}
	return nil
}

// ParamError reports params that do not match a step's schema.
type ParamError struct {
	Type string
	Err  error
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("invalid params for step %q: %v", e.Type, e.Err)
}

func (e *ParamError) Unwrap() error {
	return e.Err
}

// Registry is the catalog of step definitions keyed by type.
type Registry struct {
	mu   sync.RWMutex
	defs *orderedmap.OrderedMap[string, Definition]
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{defs: orderedmap.NewOrderedMap[string, Definition]()}
}

// Register adds a definition. It fails if the type is already registered.
func (r *Registry) Register(def Definition) error {
	if def.Type == "" {
		return errors.New("step type is empty")
	}
	if def.transform == nil || def.newParams == nil {
		return fmt.Errorf("step %q has no transform", def.Type)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs.Get(def.Type); exists {
		return fmt.Errorf("%w: %q", ErrDuplicateStep, def.Type)
	}
	if def.Label == "" {
		def.Label = def.Type
	}
	r.defs.Set(def.Type, def)
	return nil
}

// Get looks up a definition by type.
func (r *Registry) Get(stepType string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defs.Get(stepType)
}

// ListAll returns every definition in registration order. The returned map
// is a copy.
func (r *Registry) ListAll() *orderedmap.OrderedMap[string, Definition] {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := orderedmap.NewOrderedMap[string, Definition]()
	for el := r.defs.Front(); el != nil; el = el.Next() {
		out.Set(el.Key, el.Value)
	}
	return out
}

// Types returns the registered step types in registration order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defs.Keys()
}

// Len returns the number of registered step types.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defs.Len()
}
