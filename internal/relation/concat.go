package relation

import (
	"context"
	"fmt"
	"strings"

	"github.com/elliotchance/orderedmap/v2"
)

// Concat returns the diagonal concatenation of rels: the output columns are
// the union of every member's columns in first-seen order, and rows from a
// member lacking a column carry null for it.
func Concat(rels ...*Relation) *Relation {
	if len(rels) == 1 {
		return rels[0]
	}
	return New(&ConcatSource{Members: rels})
}

// ConcatSource scans its members in order and aligns them on the union of
// their columns.
type ConcatSource struct {
	Members []*Relation
}

// Scan implements Source. With a limit, members after the one that fills the
// quota are only scanned for their schema.
func (s *ConcatSource) Scan(ctx context.Context, limit int) (*Frame, error) {
	frames := make([]*Frame, 0, len(s.Members))
	remaining := limit
	for i, m := range s.Members {
		member := m
		if limit >= 0 {
			member = m.Limit(remaining)
		}
		f, err := member.Collect(ctx)
		if err != nil {
			return nil, fmt.Errorf("concat member %d: %w", i, err)
		}
		frames = append(frames, f)
		if limit >= 0 {
			remaining -= f.Len()
			if remaining < 0 {
				remaining = 0
			}
		}
	}
	return ConcatFrames(frames...), nil
}

// Describe implements Source.
func (s *ConcatSource) Describe() string {
	names := make([]string, len(s.Members))
	for i, m := range s.Members {
		names[i] = m.source.Describe()
	}
	return "concat(" + strings.Join(names, ", ") + ")"
}

// ConcatFrames is the eager diagonal concatenation.
func ConcatFrames(frames ...*Frame) *Frame {
	union := orderedmap.NewOrderedMap[string, int]()
	for _, f := range frames {
		for _, c := range f.Columns {
			if _, ok := union.Get(c); !ok {
				union.Set(c, union.Len())
			}
		}
	}
	columns := union.Keys()

	total := 0
	for _, f := range frames {
		total += f.Len()
	}
	rows := make([][]any, 0, total)
	for _, f := range frames {
		positions := make([]int, len(f.Columns))
		for i, c := range f.Columns {
			positions[i], _ = union.Get(c)
		}
		for _, src := range f.Rows {
			row := make([]any, len(columns))
			for i, p := range positions {
				row[p] = src[i]
			}
			rows = append(rows, row)
		}
	}
	return NewFrame(columns, rows...)
}
