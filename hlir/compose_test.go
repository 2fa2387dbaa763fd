package hlir

import (
	"testing"

	"github.com/arbor-ml/arbor/node"
	"github.com/arbor-ml/arbor/ops"
	"github.com/arbor-ml/arbor/precision"
	"github.com/stretchr/testify/require"
)

type fakeAlloc struct{ n int64 }

func (f *fakeAlloc) NextTensorID() int64 { f.n++; return f.n }

func newNode(a *fakeAlloc, label string) *node.Node {
	return node.New(a, precision.Single, nil, label)
}

func TestSequentialEmptyIsNoop(t *testing.T) {
	_, ok := Sequential(nil).(Noop)
	require.True(t, ok)
}

func TestSequentialFoldsInOrder(t *testing.T) {
	a := &fakeAlloc{}
	x, y, z := newNode(a, "x"), newNode(a, "y"), newNode(a, "z")
	codes := []Code{
		Fetch{Target: x, Op: ConstantFetch{C: 1}},
		Fetch{Target: y, Op: ConstantFetch{C: 2}},
		Fetch{Target: z, Op: ConstantFetch{C: 3}},
	}
	seq := Sequential(codes)
	outer, ok := seq.(Seq)
	require.True(t, ok)
	inner, ok := outer.Left.(Seq)
	require.True(t, ok)
	require.Equal(t, x, inner.Left.(Fetch).Target)
	require.Equal(t, y, inner.Right.(Fetch).Target)
	require.Equal(t, z, outer.Right.(Fetch).Target)
}

func TestFlatParallelFlattensNestedPar(t *testing.T) {
	a := &fakeAlloc{}
	x, y, z := newNode(a, "x"), newNode(a, "y"), newNode(a, "z")
	tree := Par{
		Left:  Par{Left: Fetch{Target: x, Op: ConstantFetch{C: 1}}, Right: Fetch{Target: y, Op: ConstantFetch{C: 2}}},
		Right: Fetch{Target: z, Op: ConstantFetch{C: 3}},
	}
	flat := FlatParallel(tree, false)
	require.Len(t, flat, 3)
}

func TestFlatParallelKeepsParHintUnlessForced(t *testing.T) {
	a := &fakeAlloc{}
	x, y := newNode(a, "x"), newNode(a, "y")
	tree := ParHint{Left: Fetch{Target: x, Op: ConstantFetch{C: 1}}, Right: Fetch{Target: y, Op: ConstantFetch{C: 2}}}
	require.Len(t, FlatParallel(tree, false), 1)
	require.Len(t, FlatParallel(tree, true), 2)
}

func TestRemoveUpdatesDropsMatchingLHS(t *testing.T) {
	a := &fakeAlloc{}
	x, y := newNode(a, "x"), newNode(a, "y")
	code := Seq{
		Left:  AccumBinop{Accum: ops.Add, Op: ops.Mul, LHS: x, RHS1: x, RHS2: x},
		Right: AccumBinop{Accum: ops.Add, Op: ops.Mul, LHS: y, RHS1: y, RHS2: y},
	}
	out := RemoveUpdates(x, code)
	_, isAccum := out.(AccumBinop)
	require.True(t, isAccum)
	require.Equal(t, y, out.(AccumBinop).LHS)
}

func TestRemoveUpdatesCollapsesToNoop(t *testing.T) {
	a := &fakeAlloc{}
	x := newNode(a, "x")
	code := Par{
		Left:  AccumBinop{Accum: ops.Add, Op: ops.Mul, LHS: x, RHS1: x, RHS2: x},
		Right: Fetch{Target: x, Op: ConstantFetch{C: 0}},
	}
	out := RemoveUpdates(x, code)
	_, ok := out.(Noop)
	require.True(t, ok)
}
