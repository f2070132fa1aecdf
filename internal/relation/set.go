package relation

import (
	"errors"
	"fmt"
)

// Kind tells which arm of a Set is populated.
type Kind int

const (
	// KindSingle holds one relation.
	KindSingle Kind = iota + 1
	// KindPerFile holds one relation per source file ("individual mode").
	KindPerFile
)

func (k Kind) String() string {
	switch k {
	case KindSingle:
		return "single"
	case KindPerFile:
		return "per_file"
	}
	return "invalid"
}

// ErrEmptySet is returned when building a per-file set with no members.
var ErrEmptySet = errors.New("relation set must not be empty")

// Set is either a single relation or a non-empty ordered list of per-file
// relations. The zero value is invalid; build sets with Single or PerFile.
type Set struct {
	kind   Kind
	single *Relation
	files  []*Relation
}

// Single wraps one relation.
func Single(r *Relation) Set {
	return Set{kind: KindSingle, single: r}
}

// PerFile wraps per-file relations. It fails on an empty list.
func PerFile(rels []*Relation) (Set, error) {
	if len(rels) == 0 {
		return Set{}, ErrEmptySet
	}
	for i, r := range rels {
		if r == nil {
			return Set{}, fmt.Errorf("relation set member %d is nil", i)
		}
	}
	return Set{kind: KindPerFile, files: append([]*Relation(nil), rels...)}, nil
}

// Kind returns the populated arm.
func (s Set) Kind() Kind {
	return s.kind
}

// IsZero reports whether s was never initialized.
func (s Set) IsZero() bool {
	return s.kind == 0
}

// IsPerFile reports whether s is in individual mode.
func (s Set) IsPerFile() bool {
	return s.kind == KindPerFile
}

// Len returns the number of member relations.
func (s Set) Len() int {
	switch s.kind {
	case KindSingle:
		return 1
	case KindPerFile:
		return len(s.files)
	}
	return 0
}

// Members returns the member relations. A single set has one member.
func (s Set) Members() []*Relation {
	switch s.kind {
	case KindSingle:
		return []*Relation{s.single}
	case KindPerFile:
		return append([]*Relation(nil), s.files...)
	}
	return nil
}

// First returns the first member relation.
func (s Set) First() *Relation {
	switch s.kind {
	case KindSingle:
		return s.single
	case KindPerFile:
		return s.files[0]
	}
	return nil
}

// Concat collapses the set into one relation. Per-file members are merged
// with diagonal concatenation; the file boundaries are not recoverable.
func (s Set) Concat() *Relation {
	switch s.kind {
	case KindSingle:
		return s.single
	case KindPerFile:
		return Concat(s.files...)
	}
	return nil
}

// Map applies fn to every member and returns a set of the same shape.
func (s Set) Map(fn func(i int, r *Relation) (*Relation, error)) (Set, error) {
	switch s.kind {
	case KindSingle:
		out, err := fn(0, s.single)
		if err != nil {
			return Set{}, err
		}
		return Single(out), nil
	case KindPerFile:
		out := make([]*Relation, len(s.files))
		for i, r := range s.files {
			m, err := fn(i, r)
			if err != nil {
				return Set{}, err
			}
			if m.Label() == "" {
				m = m.WithLabel(r.Label())
			}
			out[i] = m
		}
		return PerFile(out)
	}
	return Set{}, errors.New("relation set is not initialized")
}
