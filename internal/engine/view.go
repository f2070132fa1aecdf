package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/dbsmedya/gorecipe/internal/config"
	"github.com/dbsmedya/gorecipe/internal/dataset"
	"github.com/dbsmedya/gorecipe/internal/logger"
	"github.com/dbsmedya/gorecipe/internal/recipe"
	"github.com/dbsmedya/gorecipe/internal/relation"
)

var (
	// ErrDatasetNotFound is returned when a view is requested for a dataset
	// that is not loaded.
	ErrDatasetNotFound = dataset.ErrNotFound
	// ErrUnknownStrategy is returned for an exploration strategy Explore does
	// not know.
	ErrUnknownStrategy = errors.New("unknown exploration strategy")
)

// ExploreStrategy selects how Explore bounds a view.
type ExploreStrategy string

const (
	// StrategyPreview explores the preview view.
	StrategyPreview ExploreStrategy = "preview"
	// StrategyFullHead takes the first rows of the full view.
	StrategyFullHead ExploreStrategy = "full_head"
	// StrategyFullSample draws a seeded random sample of the full view.
	StrategyFullSample ExploreStrategy = "full_sample"
)

// Views prepares bounded-cost views of datasets. No view changes the
// dataset it reads.
type Views struct {
	datasets *dataset.Registry
	exec     *Executor
	resolver *Resolver
	cfg      config.EngineConfig
	logger   *logger.Logger
}

// NewViews creates a view preparer. Zero config values fall back to the
// defaults.
func NewViews(datasets *dataset.Registry, exec *Executor, cfg config.EngineConfig, log *logger.Logger) *Views {
	defaults := config.DefaultConfig().Engine
	if cfg.PreviewLimit <= 0 {
		cfg.PreviewLimit = defaults.PreviewLimit
	}
	if cfg.ExploreHardLimit <= 0 {
		cfg.ExploreHardLimit = defaults.ExploreHardLimit
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Views{
		datasets: datasets,
		exec:     exec,
		resolver: NewResolver(datasets, exec),
		cfg:      cfg,
		logger:   log,
	}
}

// Resolver returns the context resolver the views run recipes with.
func (v *Views) Resolver() *Resolver {
	return v.resolver
}

// Datasets returns the dataset registry the views read.
func (v *Views) Datasets() *dataset.Registry {
	return v.datasets
}

func (v *Views) snapshot(name string) (dataset.Entry, error) {
	e, ok := v.datasets.Snapshot(name)
	if !ok {
		return dataset.Entry{}, fmt.Errorf("%w: %q", ErrDatasetNotFound, name)
	}
	return e, nil
}

// Preview applies rc to at most limit rows of the dataset. Only the first
// file of a per-file dataset is read. Steps that depend on every row, such
// as aggregates, see only the capped input. A limit of zero or less uses the
// configured preview limit.
func (v *Views) Preview(ctx context.Context, name string, rc recipe.Recipe, limit int) (*relation.Relation, error) {
	e, err := v.snapshot(name)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = v.cfg.PreviewLimit
	}
	base := e.Metadata.Set.First().Limit(limit)
	out, err := v.exec.ApplyAll(ctx, base, rc, v.resolver.Resolve(name))
	if err != nil {
		return nil, err
	}
	return out.Limit(limit).WithLabel(base.Label()), nil
}

// Full applies rc to every row. The result has the same shape as the
// dataset unless a step needs the whole dataset. collectionLimit > 0 caps
// each resulting member after the recipe ran.
func (v *Views) Full(ctx context.Context, name string, rc recipe.Recipe, collectionLimit int) (relation.Set, error) {
	e, err := v.snapshot(name)
	if err != nil {
		return relation.Set{}, err
	}
	e.Recipe = rc
	return v.FullOf(ctx, e, collectionLimit)
}

// FullOf is Full over an already captured dataset snapshot.
func (v *Views) FullOf(ctx context.Context, e dataset.Entry, collectionLimit int) (relation.Set, error) {
	set, err := v.exec.ApplySet(ctx, e.Metadata.Set, e.Recipe, v.resolver.Resolve(e.Name))
	if err != nil {
		return relation.Set{}, err
	}
	return capSet(set, collectionLimit)
}

// FullPerMember applies the recipe to each member of the snapshot as if it
// were a dataset of its own, so the result always has one member per source
// file even when a step needs the whole dataset.
func (v *Views) FullPerMember(ctx context.Context, e dataset.Entry, collectionLimit int) (relation.Set, error) {
	if !e.Metadata.Set.IsPerFile() {
		return v.FullOf(ctx, e, collectionLimit)
	}
	tc := v.resolver.Resolve(e.Name)
	set, err := e.Metadata.Set.Map(func(_ int, r *relation.Relation) (*relation.Relation, error) {
		out, err := v.exec.ApplyAll(ctx, r, e.Recipe, tc)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", r.Label(), err)
		}
		return out.WithLabel(r.Label()), nil
	})
	if err != nil {
		return relation.Set{}, err
	}
	return capSet(set, collectionLimit)
}

func capSet(set relation.Set, limit int) (relation.Set, error) {
	if limit <= 0 {
		return set, nil
	}
	return set.Map(func(_ int, r *relation.Relation) (*relation.Relation, error) {
		return r.Limit(limit), nil
	})
}

// Explore returns a view sized for analysis. Every strategy is capped at the
// configured hard limit. StrategyFullSample then draws size rows with the
// given seed, so the same seed always yields the same rows.
func (v *Views) Explore(ctx context.Context, name string, rc recipe.Recipe, strategy ExploreStrategy, size int, seed uint64) (*relation.Relation, error) {
	hard := v.cfg.ExploreHardLimit
	if size <= 0 || size > hard {
		size = hard
	}

	switch strategy {
	case StrategyPreview, "":
		return v.Preview(ctx, name, rc, size)
	case StrategyFullHead:
		set, err := v.Full(ctx, name, rc, 0)
		if err != nil {
			return nil, err
		}
		return set.Concat().Limit(size), nil
	case StrategyFullSample:
		set, err := v.Full(ctx, name, rc, 0)
		if err != nil {
			return nil, err
		}
		rel := set.Concat().Limit(hard)
		if size < hard {
			v.logger.Debugw("sampling explore view", "dataset", name, "size", size, "seed", seed)
			rel = rel.Sample(size, seed)
		}
		return rel, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
}
