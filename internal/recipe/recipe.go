// Package recipe defines recipe steps, their JSON wire format and the
// context a step transform receives.
package recipe

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"

	"github.com/google/uuid"
)

// Step is one declarative transformation in a recipe.
type Step struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"`
	Label  string         `json:"label"`
	Params map[string]any `json:"params"`
}

// NewStep creates a step with a fresh ID.
func NewStep(stepType, label string, params map[string]any) Step {
	if params == nil {
		params = map[string]any{}
	}
	if label == "" {
		label = stepType
	}
	return Step{ID: uuid.New().String(), Type: stepType, Label: label, Params: params}
}

// Recipe is an ordered list of steps. Order is significant.
type Recipe []Step

// Clone returns a deep copy of the recipe, so later edits to the original do
// not leak into a snapshot.
func (r Recipe) Clone() Recipe {
	if r == nil {
		return nil
	}
	out := make(Recipe, len(r))
	for i, s := range r {
		out[i] = s
		out[i].Params = cloneParams(s.Params)
	}
	return out
}

func cloneParams(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := maps.Clone(m)
	for k, v := range out {
		switch x := v.(type) {
		case map[string]any:
			out[k] = cloneParams(x)
		case []any:
			out[k] = append([]any(nil), x...)
		}
	}
	return out
}

// Parse decodes a recipe from its JSON array form. Steps without an ID get
// one; steps without a type are rejected.
func Parse(data []byte) (Recipe, error) {
	var r Recipe
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse recipe: %w", err)
	}
	for i := range r {
		if r[i].Type == "" {
			return nil, fmt.Errorf("recipe step %d has no type", i)
		}
		if r[i].ID == "" {
			r[i].ID = uuid.New().String()
		}
		if r[i].Params == nil {
			r[i].Params = map[string]any{}
		}
		if r[i].Label == "" {
			r[i].Label = r[i].Type
		}
	}
	if r == nil {
		r = Recipe{}
	}
	return r, nil
}

// LoadFile reads a recipe file.
func LoadFile(path string) (Recipe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read recipe file: %w", err)
	}
	return Parse(data)
}

// SaveFile writes a recipe file.
func SaveFile(path string, r Recipe) error {
	if r == nil {
		r = Recipe{}
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode recipe: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write recipe file: %w", err)
	}
	return nil
}
