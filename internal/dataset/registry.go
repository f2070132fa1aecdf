// Package dataset tracks the loaded datasets: their relations, load metadata
// and current recipes.
package dataset

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/dbsmedya/gorecipe/internal/recipe"
	"github.com/dbsmedya/gorecipe/internal/relation"
)

var (
	// ErrNotFound is returned for a dataset that is not loaded.
	ErrNotFound = errors.New("dataset not found")
	// ErrExists is returned when a name is already taken.
	ErrExists = errors.New("dataset already exists")
)

// Metadata describes a loaded dataset and how to load it again.
type Metadata struct {
	Set               relation.Set
	SourcePath        string
	InputType         string
	InputFormat       string
	ProcessIndividual bool
	FileList          []string
	FileCount         int
	LoaderType        string
	LoaderParams      map[string]any
}

// Entry is a point-in-time copy of one dataset and its recipe.
type Entry struct {
	Name     string
	Metadata Metadata
	Recipe   recipe.Recipe
}

type entry struct {
	meta   Metadata
	recipe recipe.Recipe
}

// Registry is the set of active datasets. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Add registers or replaces a dataset. Replacing keeps the existing recipe.
func (r *Registry) Add(name string, meta Metadata) error {
	if err := checkMetadata(name, meta); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[name]; ok {
		e.meta = meta
		return nil
	}
	r.entries[name] = &entry{meta: meta, recipe: recipe.Recipe{}}
	r.order = append(r.order, name)
	return nil
}

// AddIfAbsent registers a dataset only if the name is free.
func (r *Registry) AddIfAbsent(name string, meta Metadata) error {
	if err := checkMetadata(name, meta); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[name]; ok {
		return fmt.Errorf("%w: %q", ErrExists, name)
	}
	r.entries[name] = &entry{meta: meta, recipe: recipe.Recipe{}}
	r.order = append(r.order, name)
	return nil
}

func checkMetadata(name string, meta Metadata) error {
	if name == "" {
		return errors.New("dataset name is empty")
	}
	if meta.Set.IsZero() {
		return fmt.Errorf("dataset %q has no relation", name)
	}
	return nil
}

// Remove drops a dataset immediately.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[name]; !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	delete(r.entries, name)
	r.order = slices.DeleteFunc(r.order, func(n string) bool { return n == name })
	return nil
}

// Has reports whether a dataset is loaded.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// Get returns a dataset's metadata.
func (r *Registry) Get(name string) (Metadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return Metadata{}, false
	}
	return e.meta, true
}

// SetRecipe replaces a dataset's recipe. The registry keeps its own copy.
func (r *Registry) SetRecipe(name string, rc recipe.Recipe) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	e.recipe = rc.Clone()
	if e.recipe == nil {
		e.recipe = recipe.Recipe{}
	}
	return nil
}

// Recipe returns a copy of a dataset's recipe.
func (r *Registry) Recipe(name string) (recipe.Recipe, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.recipe.Clone(), true
}

// Snapshot copies one dataset's metadata and recipe.
func (r *Registry) Snapshot(name string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return Entry{}, false
	}
	meta := e.meta
	meta.FileList = slices.Clone(meta.FileList)
	meta.LoaderParams = maps.Clone(meta.LoaderParams)
	return Entry{Name: name, Metadata: meta, Recipe: e.recipe.Clone()}, true
}

// Names returns dataset names in load order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// State is a consistent copy of the whole registry.
type State struct {
	Names   []string
	Bases   map[string]relation.Set
	Recipes map[string]recipe.Recipe
}

// State copies every dataset's base relation set and recipe under one lock,
// so each base is paired with the recipe it had at that moment.
func (r *Registry) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st := State{
		Names:   slices.Clone(r.order),
		Bases:   make(map[string]relation.Set, len(r.entries)),
		Recipes: make(map[string]recipe.Recipe, len(r.entries)),
	}
	for name, e := range r.entries {
		st.Bases[name] = e.meta.Set
		st.Recipes[name] = e.recipe.Clone()
	}
	return st
}
