package cpujit

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arbor-ml/arbor/backend"
	"github.com/arbor-ml/arbor/hlir"
	"github.com/arbor-ml/arbor/index"
	"github.com/arbor-ml/arbor/llir"
	"github.com/arbor-ml/arbor/node"
	"github.com/arbor-ml/arbor/ops"
	"github.com/arbor-ml/arbor/precision"
	"github.com/arbor-ml/arbor/shape"
)

type fakeAlloc struct{ n int64 }

func (f *fakeAlloc) NextTensorID() int64 { f.n++; return f.n }
func (f *fakeAlloc) NextSymbolID() int64 { f.n++; return f.n }
func (f *fakeAlloc) NextShapeID() int64  { f.n++; return f.n }

func concreteShape(a *fakeAlloc, name string, d int) *shape.Shape {
	s := shape.New(a, name, nil)
	s.Rows[shape.Output] = &shape.Row{Dims: []shape.Dim{shape.DimConcrete{D: d}}, Constraint: shape.Unconstrained{}, Term: shape.Fixed{}}
	s.Rows[shape.Batch].Term = shape.Fixed{}
	s.Rows[shape.Input].Term = shape.Fixed{}
	return s
}

// shape2D places rows in Batch and splits off cols in Output, giving a
// plain rank-2 shape ToDims() reads as [rows, cols].
func shape2D(a *fakeAlloc, name string, rows, cols int) *shape.Shape {
	s := shape.New(a, name, nil)
	s.Rows[shape.Batch] = &shape.Row{Dims: []shape.Dim{shape.DimConcrete{D: rows}}, Constraint: shape.Unconstrained{}, Term: shape.Fixed{}}
	s.Rows[shape.Output] = &shape.Row{Dims: []shape.Dim{shape.DimConcrete{D: cols}}, Constraint: shape.Unconstrained{}, Term: shape.Fixed{}}
	s.Rows[shape.Input].Term = shape.Fixed{}
	return s
}

func TestBackendRegistered(t *testing.T) {
	b, err := backend.New("cpu-jit")
	require.Nil(t, err)
	require.Equal(t, "cpu-jit", b.Name())
}

func TestCompileAndRunFillLoop(t *testing.T) {
	a := &fakeAlloc{}
	b := New()
	require.Nil(t, b.Initialize())
	dev, err := b.GetDevice(0)
	require.Nil(t, err)
	ctx, err := b.Init(dev)
	require.Nil(t, err)

	x := node.New(a, precision.Single, concreteShape(a, "x", 4), "x")
	sym := index.NewSymbol(a, "i")
	code := llir.ForLoop{
		Index: sym, From: 0, To: 4,
		Body: llir.Set{Ptr: x, Idcs: []index.AxisIndex{index.Iterator{Sym: sym}}, Expr: llir.Constant{C: 7}},
	}

	compiled, cerr := b.Compile(ctx, "fill", false, backend.Bindings{}, code)
	require.Nil(t, cerr)

	w, werr := compiled.Schedule()
	require.Nil(t, werr)
	require.NoError(t, w.Run())

	cx := ctx.(*Context)
	buf := cx.buffers[x.ID]
	v, gerr := buf.GetAsFloat([]int{2})
	require.NoError(t, gerr)
	require.Equal(t, 7.0, v)
}

// TestCompileAndRunPolynomial evaluates f(x) = 3x^2 - 4x + 5 elementwise
// over a 5-element tensor for a spread of x values, the overhead benchmark
// scenario of §8.
func TestCompileAndRunPolynomial(t *testing.T) {
	a := &fakeAlloc{}
	b := New()
	require.Nil(t, b.Initialize())
	dev, err := b.GetDevice(0)
	require.Nil(t, err)
	ctx, err := b.Init(dev)
	require.Nil(t, err)

	x := node.New(a, precision.Double, concreteShape(a, "x", 5), "x")
	f := node.New(a, precision.Double, concreteShape(a, "f", 5), "f")
	sym := index.NewSymbol(a, "i")

	xAt := func() llir.Expr { return llir.Get{Ptr: x, Idcs: []index.AxisIndex{index.Iterator{Sym: sym}}} }
	poly := llir.Binop{
		Op: ops.Add,
		A: llir.Binop{
			Op: ops.Add,
			A:  llir.Binop{Op: ops.Mul, A: llir.Constant{C: 3}, B: llir.Binop{Op: ops.ToPowOf, A: xAt(), B: llir.Constant{C: 2}}},
			B:  llir.Binop{Op: ops.Mul, A: llir.Constant{C: -4}, B: xAt()},
		},
		B: llir.Constant{C: 5},
	}
	code := llir.ForLoop{
		Index: sym, From: 0, To: 5,
		Body: llir.Set{Ptr: f, Idcs: []index.AxisIndex{index.Iterator{Sym: sym}}, Expr: poly},
	}

	compiled, cerr := b.Compile(ctx, "poly", false, backend.Bindings{}, code)
	require.Nil(t, cerr)

	cx := ctx.(*Context)
	for v := -50.0; v < 50; v++ {
		xbuf, berr := cx.bufferFor(x)
		require.NoError(t, berr)
		for i := 0; i < 5; i++ {
			require.NoError(t, xbuf.SetFromFloat([]int{i}, v))
		}

		w, werr := compiled.Schedule()
		require.Nil(t, werr)
		require.NoError(t, w.Run())

		fbuf, ferr := cx.bufferFor(f)
		require.NoError(t, ferr)
		got, gerr := fbuf.GetAsFloat([]int{0})
		require.NoError(t, gerr)
		require.InDelta(t, 3*v*v-4*v+5, got, 1e-6)
	}
}

func TestMergeAccumulatesAcrossContexts(t *testing.T) {
	a := &fakeAlloc{}
	b := New()
	dev0, _ := b.GetDevice(0)
	ctx0, _ := b.Init(dev0)

	x := node.New(a, precision.Single, concreteShape(a, "x", 2), "x")

	c0 := ctx0.(*Context)
	buf0, err := c0.bufferFor(x)
	require.NoError(t, err)
	require.NoError(t, buf0.SetFromFloat([]int{0}, 1))
	require.NoError(t, buf0.SetFromFloat([]int{1}, 2))

	ctx1 := newContext(backend.Device{Ordinal: 1, Name: "cpu"})
	buf1, err := ctx1.bufferFor(x)
	require.NoError(t, err)
	require.NoError(t, buf1.SetFromFloat([]int{0}, 10))
	require.NoError(t, buf1.SetFromFloat([]int{1}, 20))

	compiled, merr := b.Merge(x, ctx0, ops.Add, ctx1, "")
	require.Nil(t, merr)
	w, werr := compiled.Schedule()
	require.Nil(t, werr)
	require.NoError(t, w.Run())

	v0, _ := buf0.GetAsFloat([]int{0})
	v1, _ := buf0.GetAsFloat([]int{1})
	require.Equal(t, 11.0, v0)
	require.Equal(t, 22.0, v1)
}

// TestCompileAndRunStagedMatMul lowers a matmul-shaped accum-binop to a
// llir.StagedCompilation and runs it through the full Compile/Schedule/Run
// path, confirming interp.go's dispatch actually reaches mps.MPSEng
// (hostEngine) rather than interpreting the naive loop nest.
func TestCompileAndRunStagedMatMul(t *testing.T) {
	a := &fakeAlloc{}
	lhs := node.New(a, precision.Single, shape2D(a, "lhs", 2, 3), "lhs")
	rhs1 := node.New(a, precision.Single, shape2D(a, "rhs1", 2, 4), "rhs1")
	rhs2 := node.New(a, precision.Single, shape2D(a, "rhs2", 4, 3), "rhs2")

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

	code, err := llir.ToLowLevel(a, hlir.AccumBinop{
		ZeroOut: true,
		Accum:   ops.Add,
		Op:      ops.Mul,
		LHS:     lhs, RHS1: rhs1, RHS2: rhs2,
		Projections: func() (*shape.Projections, error) { return proj, nil },
	})
	require.Nil(t, err)
	lines, ok := code.(llir.Lines)
	require.True(t, ok)
	_, ok = lines.Items[1].(llir.StagedCompilation)
	require.True(t, ok, "expected matmul-shaped lowering to produce a StagedCompilation node")

	b := New()
	require.Nil(t, b.Initialize())
	dev, err := b.GetDevice(0)
	require.Nil(t, err)
	ctx, err := b.Init(dev)
	require.Nil(t, err)

	compiled, cerr := b.Compile(ctx, "matmul", false, backend.Bindings{}, code)
	require.Nil(t, cerr)

	cx := ctx.(*Context)
	rhs1Buf, berr := cx.bufferFor(rhs1)
	require.NoError(t, berr)
	rhs2Buf, berr := cx.bufferFor(rhs2)
	require.NoError(t, berr)
	for i := 0; i < 2; i++ {
		for k := 0; k < 4; k++ {
			require.NoError(t, rhs1Buf.SetFromFloat([]int{i, k}, 1))
		}
	}
	for k := 0; k < 4; k++ {
		for j := 0; j < 3; j++ {
			require.NoError(t, rhs2Buf.SetFromFloat([]int{k, j}, 1))
		}
	}

	w, werr := compiled.Schedule()
	require.Nil(t, werr)
	require.NoError(t, w.Run())

	lhsBuf, berr := cx.bufferFor(lhs)
	require.NoError(t, berr)
	for i := 0; i < 2; i++ {
		for j := 0; j < 3; j++ {
			got, gerr := lhsBuf.GetAsFloat([]int{i, j})
			require.NoError(t, gerr)
			require.Equal(t, 4.0, got)
		}
	}
}

// TestCompileAndRunStagedSum mirrors TestCompileAndRunStagedMatMul for the
// last-axis row-sum reduction path.
func TestCompileAndRunStagedSum(t *testing.T) {
	a := &fakeAlloc{}
	lhs := node.New(a, precision.Double, concreteShape(a, "lhs", 2), "lhs")
	rhs := node.New(a, precision.Double, shape2D(a, "rhs", 2, 4), "rhs")

	si, sk := index.NewSymbol(a, "i"), index.NewSymbol(a, "k")
	proj := &shape.Projections{
		ProductSpace:     []shape.Dim{shape.DimConcrete{D: 2, Proj: 1}, shape.DimConcrete{D: 4, Proj: 2}},
		ProductIterators: []index.Symbol{si, sk},
		ProjectLHS:       []index.AxisIndex{index.Iterator{Sym: si}},
		ProjectRHS: [][]index.AxisIndex{
			{index.Iterator{Sym: si}, index.Iterator{Sym: sk}},
		},
	}

	code, err := llir.ToLowLevel(a, hlir.AccumUnop{
		ZeroOut: true,
		Accum:   ops.Add,
		Op:      ops.Identity,
		LHS:     lhs, RHS: rhs,
		Projections: func() (*shape.Projections, error) { return proj, nil },
	})
	require.Nil(t, err)
	lines, ok := code.(llir.Lines)
	require.True(t, ok)
	_, ok = lines.Items[1].(llir.StagedCompilation)
	require.True(t, ok, "expected sum-shaped lowering to produce a StagedCompilation node")

	b := New()
	require.Nil(t, b.Initialize())
	dev, err := b.GetDevice(0)
	require.Nil(t, err)
	ctx, err := b.Init(dev)
	require.Nil(t, err)

	compiled, cerr := b.Compile(ctx, "sum", false, backend.Bindings{}, code)
	require.Nil(t, cerr)

	cx := ctx.(*Context)
	rhsBuf, berr := cx.bufferFor(rhs)
	require.NoError(t, berr)
	for i := 0; i < 2; i++ {
		for k := 0; k < 4; k++ {
			require.NoError(t, rhsBuf.SetFromFloat([]int{i, k}, float64(i*4+k+1)))
		}
	}

	w, werr := compiled.Schedule()
	require.Nil(t, werr)
	require.NoError(t, w.Run())

	lhsBuf, berr := cx.bufferFor(lhs)
	require.NoError(t, berr)
	got0, gerr := lhsBuf.GetAsFloat([]int{0})
	require.NoError(t, gerr)
	got1, gerr := lhsBuf.GetAsFloat([]int{1})
	require.NoError(t, gerr)
	require.Equal(t, 1.0+2.0+3.0+4.0, got0)
	require.Equal(t, 5.0+6.0+7.0+8.0, got1)
}
