package engine

import (
	"context"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/zeebo/xxh3"

	"github.com/dbsmedya/gorecipe/internal/recipe"
	"github.com/dbsmedya/gorecipe/internal/relation"
	"github.com/dbsmedya/gorecipe/internal/types"
)

// DefaultProfileSample is the number of rows Profile reads when no sample
// size is given.
const DefaultProfileSample = 10000

// Column kinds reported by a profile.
const (
	KindInt      = "int"
	KindFloat    = "float"
	KindBool     = "bool"
	KindString   = "string"
	KindDatetime = "datetime"
	KindMixed    = "mixed"
	KindNull     = "null"
)

// ColumnProfile summarizes one column of a profiled view.
type ColumnProfile struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
	// Count is the number of non-null values.
	Count  int `json:"count"`
	Nulls  int `json:"nulls"`
	Unique int `json:"unique"`
	Min    any `json:"min"`
	Max    any `json:"max"`
	// Mean, Std and Median are only set for numeric columns.
	Mean   *float64 `json:"mean,omitempty"`
	Std    *float64 `json:"std,omitempty"`
	Median *float64 `json:"median,omitempty"`
}

// Profile describes the shape and per-column statistics of a sampled view.
type Profile struct {
	Rows    int             `json:"rows"`
	Columns []ColumnProfile `json:"columns"`
}

// Profile applies rc to the first sample rows of the whole dataset, every
// file of a per-file dataset included, and summarizes the result. A sample
// of zero or less reads DefaultProfileSample rows.
func (v *Views) Profile(ctx context.Context, name string, rc recipe.Recipe, sample int) (*Profile, error) {
	e, err := v.snapshot(name)
	if err != nil {
		return nil, err
	}
	if sample <= 0 {
		sample = DefaultProfileSample
	}
	base := e.Metadata.Set.Concat().Limit(sample)
	out, err := v.exec.ApplyAll(ctx, base, rc, v.resolver.Resolve(name))
	if err != nil {
		return nil, err
	}
	f, err := out.Collect(ctx)
	if err != nil {
		return nil, err
	}
	v.logger.Debugw("profiled dataset", "dataset", name, "rows", f.Len(), "sample", sample)
	return ProfileFrame(f), nil
}

// Schema returns the column names of the dataset after its stored recipe.
func (v *Views) Schema(ctx context.Context, name string) ([]string, error) {
	e, err := v.snapshot(name)
	if err != nil {
		return nil, err
	}
	set, err := v.FullOf(ctx, e, 0)
	if err != nil {
		return nil, err
	}
	cols, err := set.Concat().Schema(ctx)
	if err != nil {
		return nil, fmt.Errorf("schema of %q: %w", name, err)
	}
	return cols, nil
}

// ProfileFrame computes a Profile over an already collected frame.
func ProfileFrame(f *relation.Frame) *Profile {
	p := &Profile{Rows: f.Len(), Columns: make([]ColumnProfile, len(f.Columns))}
	for i, name := range f.Columns {
		p.Columns[i] = profileColumn(name, f, i)
	}
	return p
}

func profileColumn(name string, f *relation.Frame, i int) ColumnProfile {
	c := ColumnProfile{Name: name, Kind: KindNull}
	seen := make(map[uint64]struct{})
	var nums []float64

	for _, row := range f.Rows {
		v := row[i]
		if v == nil {
			c.Nulls++
			continue
		}
		c.Count++
		c.Kind = mergeKind(c.Kind, kindOf(v))
		seen[xxh3.HashString(fmt.Sprintf("%T|%s", v, types.FormatValue(v)))] = struct{}{}

		if c.Min == nil || types.Compare(v, c.Min) < 0 {
			c.Min = v
		}
		if c.Max == nil || types.Compare(v, c.Max) > 0 {
			c.Max = v
		}
		if n, ok := types.ToFloat64(v); ok && types.IsNumeric(v) {
			nums = append(nums, n)
		}
	}
	c.Unique = len(seen)

	if c.Kind == KindMixed {
		c.Min, c.Max = nil, nil
	}
	if (c.Kind == KindInt || c.Kind == KindFloat) && len(nums) > 0 {
		mean, std, median := describe(nums)
		c.Mean, c.Median = &mean, &median
		if !math.IsNaN(std) {
			c.Std = &std
		}
	}
	return c
}

func kindOf(v any) string {
	switch v.(type) {
	case bool:
		return KindBool
	case string:
		return KindString
	case time.Time:
		return KindDatetime
	}
	switch {
	case types.IsFloat(v):
		return KindFloat
	case types.IsNumeric(v):
		return KindInt
	}
	return KindMixed
}

// mergeKind widens ints to floats and anything else that disagrees to mixed.
func mergeKind(have, next string) string {
	switch {
	case have == KindNull || have == next:
		return next
	case have == KindInt && next == KindFloat, have == KindFloat && next == KindInt:
		return KindFloat
	}
	return KindMixed
}

// describe returns the mean, sample standard deviation and median of nums.
// The deviation is NaN for a single value.
func describe(nums []float64) (mean, std, median float64) {
	var sum float64
	for _, n := range nums {
		sum += n
	}
	mean = sum / float64(len(nums))

	std = math.NaN()
	if len(nums) > 1 {
		var sq float64
		for _, n := range nums {
			sq += (n - mean) * (n - mean)
		}
		std = math.Sqrt(sq / float64(len(nums)-1))
	}

	sorted := slices.Clone(nums)
	slices.Sort(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		median = sorted[mid]
	} else {
		median = (sorted[mid-1] + sorted[mid]) / 2
	}
	return mean, std, median
}
