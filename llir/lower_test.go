package llir

import (
	"testing"

	"github.com/arbor-ml/arbor/hlir"
	"github.com/arbor-ml/arbor/index"
	"github.com/arbor-ml/arbor/node"
	"github.com/arbor-ml/arbor/ops"
	"github.com/arbor-ml/arbor/precision"
	"github.com/arbor-ml/arbor/shape"
	"github.com/stretchr/testify/require"
)

type fakeAlloc struct{ n int64 }

func (f *fakeAlloc) NextTensorID() int64 { f.n++; return f.n }
func (f *fakeAlloc) NextSymbolID() int64 { f.n++; return f.n }
func (f *fakeAlloc) NextShapeID() int64  { f.n++; return f.n }

func TestLowerFetchZero(t *testing.T) {
	a := &fakeAlloc{}
	x := node.New(a, precision.Single, nil, "x")
	code, err := ToLowLevel(a, hlir.Fetch{Target: x, Op: hlir.ConstantFetch{C: 0}})
	require.Nil(t, err)
	_, ok := code.(ZeroOut)
	require.True(t, ok)
}

func TestLowerFetchConstantBuildsLoopNest(t *testing.T) {
	a := &fakeAlloc{}
	shp := shape.New(a, "x", nil)
	shp.Rows[shape.Output] = &shape.Row{
		Dims:       []shape.Dim{shape.DimConcrete{D: 3, Proj: 1}},
		Constraint: shape.Unconstrained{},
		Term:       shape.Fixed{},
	}
	shp.Rows[shape.Batch].Term = shape.Fixed{}
	shp.Rows[shape.Input].Term = shape.Fixed{}

	x := node.New(a, precision.Single, shp, "x")
	code, err := ToLowLevel(a, hlir.Fetch{Target: x, Op: hlir.ConstantFetch{C: 5}})
	require.Nil(t, err)
	loop, ok := code.(ForLoop)
	require.True(t, ok)
	require.Equal(t, 3, loop.To)
	set, ok := loop.Body.(Set)
	require.True(t, ok)
	require.Equal(t, Constant{C: 5}, set.Expr)
}

func TestLowerAccumBinopSetsDistributesOverSum(t *testing.T) {
	a := &fakeAlloc{}
	lhs := node.New(a, precision.Single, nil, "lhs")
	rhs1 := node.New(a, precision.Single, nil, "rhs1")
	rhs2 := node.New(a, precision.Single, nil, "rhs2")

	sym := index.NewSymbol(a, "i")
	proj := &shape.Projections{
		ProductSpace:     []shape.Dim{shape.DimConcrete{D: 4, Proj: 1}},
		ProductIterators: []index.Symbol{sym},
		ProjectLHS:       []index.AxisIndex{index.Iterator{Sym: sym}},
		ProjectRHS: [][]index.AxisIndex{
			{index.Iterator{Sym: sym}},
			{index.Iterator{Sym: sym}},
		},
	}
	code, err := ToLowLevel(a, hlir.AccumBinop{
		ZeroOut: true,
		Accum:   ops.Add,
		Op:      ops.Mul,
		LHS:     lhs, RHS1: rhs1, RHS2: rhs2,
		Projections: func() (*shape.Projections, error) { return proj, nil },
	})
	require.Nil(t, err)
	require.True(t, lhs.DistributesOverSum)

	lines, ok := code.(Lines)
	require.True(t, ok)
	require.Len(t, lines.Items, 2)
	_, ok = lines.Items[0].(ZeroOut)
	require.True(t, ok)
	loop, ok := lines.Items[1].(ForLoop)
	require.True(t, ok)
	require.Equal(t, 4, loop.To)
}

func TestLowerAccumBinopWrapsDynamicIndices(t *testing.T) {
	a := &fakeAlloc{}
	lhs := node.New(a, precision.Single, nil, "lhs")
	rhs1 := node.New(a, precision.Single, nil, "rhs1")
	rhs2 := node.New(a, precision.Single, nil, "rhs2")
	sym := index.NewSymbol(a, "i")
	proj := &shape.Projections{
		ProductSpace:     []shape.Dim{shape.DimConcrete{D: 2, Proj: 1}},
		ProductIterators: []index.Symbol{sym},
		ProjectLHS:       []index.AxisIndex{index.Iterator{Sym: sym}},
		ProjectRHS: [][]index.AxisIndex{
			{index.DynamicProvider{Idcs: []index.AxisIndex{index.Iterator{Sym: sym}}, TargetDims: []int{4}}},
			{index.Iterator{Sym: sym}},
		},
	}
	code, err := ToLowLevel(a, hlir.AccumBinop{
		Accum: ops.Add, Op: ops.Mul,
		LHS: lhs, RHS1: rhs1, RHS2: rhs2,
		Projections: func() (*shape.Projections, error) { return proj, nil },
	})
	require.Nil(t, err)
	loop := code.(ForLoop)
	_, ok := loop.Body.(DynamicIndices)
	require.True(t, ok)
}

// matMulProjections builds a Projections record shaped like out[i,j] +=
// lhs[i,k]*rhs[k,j] over (i=2, j=3, k=4), the pattern matMulShaped
// recognizes.
func matMulProjections(a *fakeAlloc) (*shape.Projections, index.Symbol, index.Symbol, index.Symbol) {
	si, sj, sk := index.NewSymbol(a, "i"), index.NewSymbol(a, "j"), index.NewSymbol(a, "k")
	proj := &shape.Projections{
		ProductSpace: []shape.Dim{
			shape.DimConcrete{D: 2, Proj: 1}, shape.DimConcrete{D: 3, Proj: 2}, shape.DimConcrete{D: 4, Proj: 3},
		},
		ProductIterators: []index.Symbol{si, sj, sk},
		ProjectLHS:       []index.AxisIndex{index.Iterator{Sym: si}, index.Iterator{Sym: sj}},
		ProjectRHS: [][]index.AxisIndex{
			{index.Iterator{Sym: si}, index.Iterator{Sym: sk}},
			{index.Iterator{Sym: sk}, index.Iterator{Sym: sj}},
		},
	}
	return proj, si, sj, sk
}

func TestLowerAccumBinopMatMulShapeEmitsStagedCompilation(t *testing.T) {
	a := &fakeAlloc{}
	lhs := node.New(a, precision.Single, nil, "lhs")
	rhs1 := node.New(a, precision.Single, nil, "rhs1")
	rhs2 := node.New(a, precision.Single, nil, "rhs2")
	proj, _, _, _ := matMulProjections(a)

	code, err := ToLowLevel(a, hlir.AccumBinop{
		ZeroOut: true,
		Accum:   ops.Add,
		Op:      ops.Mul,
		LHS:     lhs, RHS1: rhs1, RHS2: rhs2,
		Projections: func() (*shape.Projections, error) { return proj, nil },
	})
	require.Nil(t, err)

	lines, ok := code.(Lines)
	require.True(t, ok)
	require.Len(t, lines.Items, 2)
	staged, ok := lines.Items[1].(StagedCompilation)
	require.True(t, ok)
	require.Equal(t, lhs, staged.LHS)
	require.Equal(t, rhs1, staged.RHS1)
	require.Equal(t, rhs2, staged.RHS2)

	// Callback still renders the equivalent naive loop nest, for a
	// consumer with no delegate target.
	_, ok = staged.Callback().(ForLoop)
	require.True(t, ok)
}

// TestLowerAccumBinopMatMulShapeRespectsPrecision confirms a Byte operand
// (raw integer cells, not real floating point) never reaches the Staged
// fast path even when the iterator shape matches a matmul.
func TestLowerAccumBinopMatMulShapeRespectsPrecision(t *testing.T) {
	a := &fakeAlloc{}
	lhs := node.New(a, precision.Byte, nil, "lhs")
	rhs1 := node.New(a, precision.Byte, nil, "rhs1")
	rhs2 := node.New(a, precision.Byte, nil, "rhs2")
	proj, _, _, _ := matMulProjections(a)

	code, err := ToLowLevel(a, hlir.AccumBinop{
		ZeroOut: true,
		Accum:   ops.Add,
		Op:      ops.Mul,
		LHS:     lhs, RHS1: rhs1, RHS2: rhs2,
		Projections: func() (*shape.Projections, error) { return proj, nil },
	})
	require.Nil(t, err)

	lines, ok := code.(Lines)
	require.True(t, ok)
	require.Len(t, lines.Items, 2)
	_, staged := lines.Items[1].(StagedCompilation)
	require.False(t, staged)
	_, ok = lines.Items[1].(ForLoop)
	require.True(t, ok)
}

func TestLowerAccumUnopSumShapeEmitsStagedCompilation(t *testing.T) {
	a := &fakeAlloc{}
	lhs := node.New(a, precision.Double, nil, "lhs")
	rhs := node.New(a, precision.Double, nil, "rhs")
	si, sk := index.NewSymbol(a, "i"), index.NewSymbol(a, "k")
	proj := &shape.Projections{
		ProductSpace:     []shape.Dim{shape.DimConcrete{D: 2, Proj: 1}, shape.DimConcrete{D: 4, Proj: 2}},
		ProductIterators: []index.Symbol{si, sk},
		ProjectLHS:       []index.AxisIndex{index.Iterator{Sym: si}},
		ProjectRHS: [][]index.AxisIndex{
			{index.Iterator{Sym: si}, index.Iterator{Sym: sk}},
		},
	}

	code, err := ToLowLevel(a, hlir.AccumUnop{
		ZeroOut: true,
		Accum:   ops.Add,
		Op:      ops.Identity,
		LHS:     lhs, RHS: rhs,
		Projections: func() (*shape.Projections, error) { return proj, nil },
	})
	require.Nil(t, err)

	lines, ok := code.(Lines)
	require.True(t, ok)
	require.Len(t, lines.Items, 2)
	staged, ok := lines.Items[1].(StagedCompilation)
	require.True(t, ok)
	require.Equal(t, lhs, staged.LHS)
	require.Equal(t, rhs, staged.RHS1)
	require.Nil(t, staged.RHS2)
}
