// Package engine runs recipes: it resolves the context a step may reference,
// folds recipes over relation sets, prepares bounded views and materializes
// transformed views as new datasets.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/dbsmedya/gorecipe/internal/logger"
	"github.com/dbsmedya/gorecipe/internal/recipe"
	"github.com/dbsmedya/gorecipe/internal/registry"
	"github.com/dbsmedya/gorecipe/internal/relation"
)

var (
	// ErrUnknownStep is returned for a step type missing from the registry.
	ErrUnknownStep = errors.New("unknown step type")
	// ErrInvalidParams is returned when step params do not match the schema.
	ErrInvalidParams = errors.New("invalid step params")
)

// StepError identifies the recipe step that failed. It is returned both while
// a recipe is applied and when the resulting relation is collected.
type StepError struct {
	Index int
	ID    string
	Type  string
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s): %v", e.Index, e.Type, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Executor folds recipes over relations using a step registry.
type Executor struct {
	steps  *registry.Registry
	logger *logger.Logger
}

// NewExecutor creates an executor over a populated step registry.
func NewExecutor(steps *registry.Registry, log *logger.Logger) *Executor {
	if log == nil {
		log = logger.NewNop()
	}
	return &Executor{steps: steps, logger: log}
}

// Steps returns the registry the executor dispatches on.
func (e *Executor) Steps() *registry.Registry {
	return e.steps
}

// compiled is a step resolved against the registry with decoded params.
type compiled struct {
	index  int
	step   recipe.Step
	def    registry.Definition
	params registry.Params
}

// compile looks up and validates every step before anything runs, so a bad
// step never leaves a partially applied recipe behind.
func (e *Executor) compile(steps recipe.Recipe, offset int) ([]compiled, error) {
	out := make([]compiled, len(steps))
	for i, s := range steps {
		idx := offset + i
		def, ok := e.steps.Get(s.Type)
		if !ok {
			return nil, &StepError{Index: idx, ID: s.ID, Type: s.Type, Err: fmt.Errorf("%w: %q", ErrUnknownStep, s.Type)}
		}
		p, err := def.Decode(s.Params)
		if err != nil {
			return nil, &StepError{Index: idx, ID: s.ID, Type: s.Type, Err: fmt.Errorf("%w: %w", ErrInvalidParams, err)}
		}
		out[i] = compiled{index: idx, step: s, def: def, params: p}
	}
	return out, nil
}

func (e *Executor) run(ctx context.Context, rel *relation.Relation, c compiled, tc *recipe.TransformContext) (*relation.Relation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	log := e.logger.WithStep(c.index, c.step.Type)
	out, err := e.transform(ctx, rel, c, tc)
	if err != nil {
		log.Debugw("Step failed", "id", c.step.ID, "error", err)
		return nil, &StepError{Index: c.index, ID: c.step.ID, Type: c.step.Type, Err: err}
	}
	log.Debugw("Step applied", "id", c.step.ID, "label", c.step.Label)
	index, id, stepType := c.index, c.step.ID, c.step.Type
	return out.Annotate(func(err error) error {
		return &StepError{Index: index, ID: id, Type: stepType, Err: err}
	}), nil
}

// transform builds the step's plan. A panicking transform is reported as an
// error.
func (e *Executor) transform(ctx context.Context, rel *relation.Relation, c compiled, tc *recipe.TransformContext) (out *relation.Relation, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("%w: %v", relation.ErrOpPanicked, r)
		}
	}()
	return c.def.Transform(ctx, rel, c.params, tc)
}

func (e *Executor) fold(ctx context.Context, rel *relation.Relation, steps []compiled, tc *recipe.TransformContext) (*relation.Relation, error) {
	cur := rel
	for _, c := range steps {
		next, err := e.run(ctx, cur, c, tc)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

// Apply applies a single step.
func (e *Executor) Apply(ctx context.Context, rel *relation.Relation, step recipe.Step, tc *recipe.TransformContext) (*relation.Relation, error) {
	steps, err := e.compile(recipe.Recipe{step}, 0)
	if err != nil {
		return nil, err
	}
	return e.run(ctx, rel, steps[0], tc)
}

// ApplyAll folds steps over rel from left to right.
func (e *Executor) ApplyAll(ctx context.Context, rel *relation.Relation, steps recipe.Recipe, tc *recipe.TransformContext) (*relation.Relation, error) {
	compiledSteps, err := e.compile(steps, 0)
	if err != nil {
		return nil, err
	}
	return e.fold(ctx, rel, compiledSteps, tc)
}

// ApplySet folds steps over every member of set. Once a step needs the whole
// dataset, a per-file set is concatenated and the remaining steps run on the
// single result.
func (e *Executor) ApplySet(ctx context.Context, set relation.Set, steps recipe.Recipe, tc *recipe.TransformContext) (relation.Set, error) {
	if set.IsZero() {
		return relation.Set{}, relation.ErrEmptySet
	}
	compiledSteps, err := e.compile(steps, 0)
	if err != nil {
		return relation.Set{}, err
	}

	split := len(compiledSteps)
	for i, c := range compiledSteps {
		if c.def.Scope == registry.ScopeWholeDataset {
			split = i
			break
		}
	}

	if !set.IsPerFile() || split == len(compiledSteps) {
		return set.Map(func(_ int, r *relation.Relation) (*relation.Relation, error) {
			out, err := e.fold(ctx, r, compiledSteps, tc)
			if err != nil {
				return nil, err
			}
			return out.WithLabel(r.Label()), nil
		})
	}

	e.logger.Debugw("collapsing per-file set",
		"members", set.Len(),
		"step", compiledSteps[split].index,
		"step_type", compiledSteps[split].step.Type)

	perFile, err := set.Map(func(_ int, r *relation.Relation) (*relation.Relation, error) {
		return e.fold(ctx, r, compiledSteps[:split], tc)
	})
	if err != nil {
		return relation.Set{}, err
	}
	out, err := e.fold(ctx, perFile.Concat(), compiledSteps[split:], tc)
	if err != nil {
		return relation.Set{}, err
	}
	return relation.Single(out), nil
}
