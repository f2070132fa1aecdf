package relation

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
)

// Source produces the rows a relation starts from.
type Source interface {
	// Scan reads at most limit rows. A negative limit reads everything.
	Scan(ctx context.Context, limit int) (*Frame, error)
	// Describe names the source for plans and logs.
	Describe() string
}

// ErrOpPanicked is returned by Collect when an operation panics.
var ErrOpPanicked = errors.New("operation panicked")

// OpFunc transforms a materialized frame into a new one.
type OpFunc func(ctx context.Context, f *Frame) (*Frame, error)

// ErrorWrapper decorates an error raised while an operation executes.
type ErrorWrapper func(error) error

type op struct {
	name string
	fn   OpFunc
	wrap ErrorWrapper
}

// Relation is a deferred tabular computation: a source and an ordered list
// of operations. Building a relation never reads data; Collect executes it.
// Every builder method returns a new Relation and leaves the receiver intact.
type Relation struct {
	source Source
	limit  int
	ops    []op
	label  string
}

// New creates a relation over a source.
func New(src Source) *Relation {
	return &Relation{source: src, limit: -1}
}

// FromFrame creates a relation over an in-memory frame.
func FromFrame(f *Frame) *Relation {
	return New(&FrameSource{Frame: f})
}

func (r *Relation) clone() *Relation {
	c := *r
	c.ops = slices.Clone(r.ops)
	return &c
}

// Label returns the relation's label, typically the source file it was read from.
func (r *Relation) Label() string {
	return r.label
}

// WithLabel returns a copy of r carrying label.
func (r *Relation) WithLabel(label string) *Relation {
	c := r.clone()
	c.label = label
	return c
}

// Source returns the underlying source.
func (r *Relation) Source() Source {
	return r.source
}

// Then appends a named operation.
func (r *Relation) Then(name string, fn OpFunc) *Relation {
	c := r.clone()
	c.ops = append(c.ops, op{name: name, fn: fn})
	return c
}

// Limit caps the relation at n rows. When no operation has been added yet the
// cap is pushed into the source scan, so at most n rows are ever read.
func (r *Relation) Limit(n int) *Relation {
	if n < 0 {
		return r
	}
	c := r.clone()
	if len(c.ops) == 0 {
		if c.limit < 0 || n < c.limit {
			c.limit = n
		}
		return c
	}
	c.ops = append(c.ops, op{name: fmt.Sprintf("limit(%d)", n), fn: func(_ context.Context, f *Frame) (*Frame, error) {
		return f.Head(n), nil
	}})
	return c
}

// Sample keeps n rows chosen uniformly at random without replacement,
// preserving their original order. The same seed always picks the same rows.
func (r *Relation) Sample(n int, seed uint64) *Relation {
	return r.Then(fmt.Sprintf("sample(%d, seed=%d)", n, seed), func(_ context.Context, f *Frame) (*Frame, error) {
		return SampleFrame(f, n, seed), nil
	})
}

// SampleFrame is the eager form of Relation.Sample.
func SampleFrame(f *Frame, n int, seed uint64) *Frame {
	if n < 0 || n >= f.Len() {
		return f
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	picked := rng.Perm(f.Len())[:n]
	slices.Sort(picked)
	rows := make([][]any, n)
	for i, p := range picked {
		rows[i] = f.Rows[p]
	}
	return f.WithRows(rows)
}

// Annotate attaches w to every operation that does not already carry an
// error wrapper. Operations added after this call are not affected.
func (r *Relation) Annotate(w ErrorWrapper) *Relation {
	c := r.clone()
	for i := range c.ops {
		if c.ops[i].wrap == nil {
			c.ops[i].wrap = w
		}
	}
	return c
}

// Collect executes the relation.
func (r *Relation) Collect(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := r.source.Scan(ctx, r.limit)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", r.source.Describe(), err)
	}
	for _, o := range r.ops {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f, err = o.run(ctx, f)
		if err != nil {
			if o.wrap != nil {
				return nil, o.wrap(err)
			}
			return nil, fmt.Errorf("%s: %w", o.name, err)
		}
	}
	return f, nil
}

// run executes the operation, reporting a panic as an error.
func (o op) run(ctx context.Context, f *Frame) (out *Frame, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("%w: %v", ErrOpPanicked, r)
		}
	}()
	return o.fn(ctx, f)
}

// Schema returns the columns the relation produces. It executes the plan over
// an empty scan.
func (r *Relation) Schema(ctx context.Context) ([]string, error) {
	empty := r.clone()
	empty.limit = 0
	f, err := empty.Collect(ctx)
	if err != nil {
		return nil, err
	}
	return f.Columns, nil
}

// Plan describes the source and operations in execution order.
func (r *Relation) Plan() []string {
	out := make([]string, 0, len(r.ops)+1)
	scan := "scan " + r.source.Describe()
	if r.limit >= 0 {
		scan += fmt.Sprintf(" limit %d", r.limit)
	}
	out = append(out, scan)
	for _, o := range r.ops {
		out = append(out, o.name)
	}
	return out
}

// FrameSource serves an in-memory frame.
type FrameSource struct {
	Frame *Frame
	Name  string
}

// Scan implements Source.
func (s *FrameSource) Scan(_ context.Context, limit int) (*Frame, error) {
	return s.Frame.Head(limit), nil
}

// Describe implements Source.
func (s *FrameSource) Describe() string {
	if s.Name != "" {
		return s.Name
	}
	return fmt.Sprintf("frame(%d rows)", s.Frame.Len())
}
