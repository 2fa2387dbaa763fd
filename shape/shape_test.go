package shape

import (
	"testing"

	"github.com/arbor-ml/arbor/index"
	"github.com/stretchr/testify/require"
)

// fakeAlloc is a minimal Allocator/index.Allocator for tests, independent
// of package session to keep shape's test suite free of that dependency.
type fakeAlloc struct{ n int64 }

func (f *fakeAlloc) NextShapeID() int64  { f.n++; return f.n }
func (f *fakeAlloc) NextSymbolID() int64 { f.n++; return f.n }

func concreteRow(alloc *fakeAlloc, sizes ...int) *Row {
	dims := make([]Dim, len(sizes))
	for i, s := range sizes {
		dims[i] = DimConcrete{D: s, Proj: index.ProjID(alloc.NextShapeID())}
	}
	return &Row{Dims: dims, Constraint: Unconstrained{}, Term: Fixed{}}
}

func newConcreteShape(alloc *fakeAlloc, name string, batch, input, output []int) *Shape {
	s := New(alloc, name, nil)
	s.Rows[Batch] = concreteRow(alloc, batch...)
	s.Rows[Input] = concreteRow(alloc, input...)
	s.Rows[Output] = concreteRow(alloc, output...)
	return s
}

func TestAxisLabelSpecRoundTrip(t *testing.T) {
	for _, spec := range []string{"a|b->c", "ab->cd", "...|i->1"} {
		parsed, err := ParseAxisLabels(spec)
		require.Nil(t, err)
		reparsed, err2 := ParseAxisLabels(parsed.CanonicalString())
		require.Nil(t, err2)
		require.Equal(t, parsed.CanonicalString(), reparsed.CanonicalString())
	}
}

func TestUnifyDimBroadcastsSizeOne(t *testing.T) {
	alloc := &fakeAlloc{}
	e := NewEngine(alloc)
	uf := index.NewUnionFind()
	d, err := e.UnifyDim(uf, DimConcrete{D: 1, Proj: 1}, DimConcrete{D: 5, Proj: 2})
	require.Nil(t, err)
	require.Equal(t, 5, d.(DimConcrete).D)
}

func TestUnifyDimUnionsProjClasses(t *testing.T) {
	alloc := &fakeAlloc{}
	e := NewEngine(alloc)
	uf := index.NewUnionFind()
	_, err := e.UnifyDim(uf, DimConcrete{D: 4, Proj: 10}, DimConcrete{D: 4, Proj: 20})
	require.Nil(t, err)
	require.True(t, uf.Same(10, 20))
}

func TestUnifyDimLabelMismatchIsHardError(t *testing.T) {
	alloc := &fakeAlloc{}
	e := NewEngine(alloc)
	uf := index.NewUnionFind()
	_, err := e.UnifyDim(uf, DimConcrete{D: 3, Proj: 1, Label: "i"}, DimConcrete{D: 3, Proj: 2, Label: "j"})
	require.NotNil(t, err)
}

func TestEinsumBroadcastComposition(t *testing.T) {
	// S4: a with shape 3|4->2, b with shape 3|5->4, contracted over the
	// axis labeled "i" (a's input, b's output), with both operands
	// sharing the same "..." batch axis: expect output shape 3|5->2.
	alloc := &fakeAlloc{}
	e := NewEngine(alloc)

	a := newConcreteShape(alloc, "a", []int{3}, []int{4}, []int{2})
	b := newConcreteShape(alloc, "b", []int{3}, []int{5}, []int{4})
	lhs := New(alloc, "lhs", nil)

	spec := "...|i->o; ...|j->i => ...|j->o"
	err := e.DeriveEinsum(lhs, []*Shape{a, b}, spec)
	require.Nil(t, err)

	dims, derr := lhs.ToDims()
	require.Nil(t, derr)
	require.Equal(t, []int{3, 5, 2}, dims)
}

// TestEinsumErrorPropagatesFrameAndTrace checks that a row-arity mismatch
// surfaces through Einsum's error path wrapped with a frame naming the
// spec and the offending row, the general error-stacking contract that
// Compose's own error path also builds on.
func TestEinsumErrorPropagatesFrameAndTrace(t *testing.T) {
	alloc := &fakeAlloc{}
	e := NewEngine(alloc)
	lhsBad := New(alloc, "out", nil)
	a := newConcreteShape(alloc, "left", []int{3}, []int{4}, []int{2})
	b := newConcreteShape(alloc, "right", nil, []int{9}, nil)

	err := e.DeriveEinsum(lhsBad, []*Shape{a, b}, "i|j->k; i|j->k => i|j->k")
	require.NotNil(t, err)
	require.Contains(t, err.Error(), "Einsum")
}

func TestToDimsRejectsUnresolvedRowVariable(t *testing.T) {
	alloc := &fakeAlloc{}
	s := New(alloc, "unresolved", nil)
	_, err := s.ToDims()
	require.NotNil(t, err)
}

func TestDeriveProjectionsOneIteratorPerClass(t *testing.T) {
	alloc := &fakeAlloc{}
	lhs := New(alloc, "lhs", nil)
	shared := index.ProjID(77)
	lhs.Rows[Batch] = &Row{Term: Fixed{}, Constraint: Unconstrained{}}
	lhs.Rows[Input] = &Row{Dims: []Dim{DimConcrete{D: 8, Proj: shared}}, Term: Fixed{}, Constraint: Unconstrained{}}
	lhs.Rows[Output] = &Row{Term: Fixed{}, Constraint: Unconstrained{}}

	rhs := New(alloc, "rhs", nil)
	rhs.Rows[Batch] = &Row{Term: Fixed{}, Constraint: Unconstrained{}}
	rhs.Rows[Input] = &Row{Dims: []Dim{DimConcrete{D: 8, Proj: shared}}, Term: Fixed{}, Constraint: Unconstrained{}}
	rhs.Rows[Output] = &Row{Term: Fixed{}, Constraint: Unconstrained{}}

	proj, err := DeriveProjections(alloc, lhs, []*Shape{rhs}, "test")
	require.Nil(t, err)
	require.Len(t, proj.ProductIterators, 1)
	require.Len(t, proj.ProductSpace, 1)
}
