// Package shape implements component C: row-polymorphic shape inference
// over three axis kinds (batch, input, output) with projection derivation
// for loop index planning. The unifier's apply-then-recurse-to-fixpoint
// shape (§4.C) is in the style of Hindley-Milner unification — row/dim
// variables playing the role of type variables — but the substitution
// itself is carried by index.UnionFind's disjoint-set over proj-ids
// rather than an explicit substitution map, since rows here are finite
// and the only thing ever asked of a substitution is "what's the
// representative projection class for this variable," a question a
// union-find answers directly.
package shape

import (
	"fmt"

	"github.com/arbor-ml/arbor/index"
)

// AxisKind is one of the three rows every shape carries.
type AxisKind int

const (
	Batch AxisKind = iota
	Input
	Output
)

func (k AxisKind) String() string {
	switch k {
	case Batch:
		return "batch"
	case Input:
		return "input"
	case Output:
		return "output"
	default:
		return "?"
	}
}

// Kinds is the fixed iteration order used whenever all three rows of a
// shape must be visited.
var Kinds = [3]AxisKind{Batch, Input, Output}

// Constraint restricts a row's total element count.
type Constraint interface{ isConstraint() }

type Unconstrained struct{}

func (Unconstrained) isConstraint() {}

// TotalElems requires the row's dims to multiply out to N.
type TotalElems struct{ N int }

func (TotalElems) isConstraint() {}

// Terminator names how a row ends: an open row-variable, a broadcastable
// row (any prefix may be added), or a row fixed to its current dims.
type Terminator interface{ isTerminator() }

// RowVar is an unresolved row, identified by a fresh variable id.
type RowVar struct{ V int64 }

func (RowVar) isTerminator() {}

// Broadcastable matches any dim prefix, filling missing leading axes with
// dim=1 on unification.
type Broadcastable struct{}

func (Broadcastable) isTerminator() {}

// Fixed requires an exact axis-count match on unification.
type Fixed struct{}

func (Fixed) isTerminator() {}

// Dim is either a dim-variable or a concrete dim tagged with a projection
// class and optional label.
type Dim interface {
	isDim()
	fmt.Stringer
}

// DimVar is an unresolved dim, identified by a fresh variable id, with an
// optional label used for einsum-style axis naming.
type DimVar struct {
	ID    int64
	Label string
}

func (DimVar) isDim() {}
func (d DimVar) String() string {
	if d.Label != "" {
		return "?" + d.Label
	}
	return fmt.Sprintf("?d%d", d.ID)
}

// DimConcrete is a resolved dim of size D, tagged with the projection
// class its loop iterator will belong to.
type DimConcrete struct {
	D     int
	Proj  index.ProjID
	Label string
}

func (DimConcrete) isDim() {}
func (d DimConcrete) String() string {
	if d.Label != "" {
		return fmt.Sprintf("%d(%s)", d.D, d.Label)
	}
	return fmt.Sprintf("%d", d.D)
}

// Row is an ordered list of dims plus a constraint and terminator.
// Rows are identified by (shape-id, kind).
type Row struct {
	Dims       []Dim
	Constraint Constraint
	Term       Terminator
}

// Shape carries three rows mutated in place during inference, a stable
// id, and a debug name.
type Shape struct {
	ID    int64
	Name  string
	Rows  map[AxisKind]*Row
	Logic Logic // how this shape's rows are derived, for error traces
}

// Row returns the row of the given kind (never nil: New always populates
// all three).
func (s *Shape) Row(k AxisKind) *Row { return s.Rows[k] }

// ToDims attempts to read off a fully concrete dim-size array for the
// whole shape (batch ++ input ++ output), in that order. Any remaining
// row- or dim-variable is a hard error naming s, per invariant 2 of §8.
func (s *Shape) ToDims() ([]int, error) {
	var out []int
	for _, k := range Kinds {
		row := s.Rows[k]
		if _, ok := row.Term.(RowVar); ok {
			return nil, shapeErrorf(s, "ToDims: shape %q has an unresolved %s row-variable", s.Name, k)
		}
		for _, d := range row.Dims {
			dc, ok := d.(DimConcrete)
			if !ok {
				return nil, shapeErrorf(s, "ToDims: shape %q has an unresolved dim in %s row", s.Name, k)
			}
			if dc.D <= 0 {
				return nil, shapeErrorf(s, "ToDims: shape %q has a non-positive dim %d in %s row", s.Name, dc.D, k)
			}
			out = append(out, dc.D)
		}
	}
	return out, nil
}

// New allocates a shape with three empty, unconstrained, row-variable
// rows, registered under a fresh id.
func New(alloc Allocator, name string, logic Logic) *Shape {
	s := &Shape{ID: alloc.NextShapeID(), Name: name, Logic: logic, Rows: map[AxisKind]*Row{}}
	for _, k := range Kinds {
		s.Rows[k] = &Row{Constraint: Unconstrained{}, Term: RowVar{V: alloc.NextShapeID()}}
	}
	return s
}

// Allocator hands out fresh shape/dim/row-variable ids; *session.Session
// satisfies it via NextShapeID, kept narrow so shape does not import
// session.
type Allocator interface {
	NextShapeID() int64
}
