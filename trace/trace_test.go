package trace

import (
	"testing"

	"github.com/arbor-ml/arbor/index"
	"github.com/arbor-ml/arbor/llir"
	"github.com/arbor-ml/arbor/node"
	"github.com/arbor-ml/arbor/ops"
	"github.com/arbor-ml/arbor/precision"
	"github.com/stretchr/testify/require"
)

type fakeAlloc struct{ n int64 }

func (f *fakeAlloc) NextTensorID() int64 { f.n++; return f.n }
func (f *fakeAlloc) NextSymbolID() int64 { f.n++; return f.n }
func (f *fakeAlloc) NextScopeID() int64  { f.n++; return f.n }

func newNode(a *fakeAlloc, label string) *node.Node {
	return node.New(a, precision.Single, nil, label)
}

func TestVisitRecordsZeroInitAndAssignment(t *testing.T) {
	a := &fakeAlloc{}
	x := newNode(a, "x")
	sym := index.NewSymbol(a, "i")
	code := llir.Lines{Items: []llir.Code{
		llir.ZeroOut{Ptr: x},
		llir.ForLoop{Index: sym, From: 0, To: 4, Body: llir.Set{
			Ptr:  x,
			Idcs: []index.AxisIndex{index.Iterator{Sym: sym}},
			Expr: llir.Binop{Op: ops.Add, A: llir.Get{Ptr: x, Idcs: []index.AxisIndex{index.Iterator{Sym: sym}}}, B: llir.Constant{C: 1}},
		}},
	}}
	traces := Visit(DefaultSettings(), code)
	tt := traces[x.ID]
	require.NotNil(t, tt)
	require.True(t, tt.ZeroInitialized)
	require.False(t, tt.LastWriteNonUpdate) // it reads its own cell, an update
}

func TestVisitReadBeforeWrite(t *testing.T) {
	a := &fakeAlloc{}
	x := newNode(a, "x")
	y := newNode(a, "y")
	sym := index.NewSymbol(a, "i")
	code := llir.ForLoop{Index: sym, From: 0, To: 2, Body: llir.Set{
		Ptr:  y,
		Idcs: []index.AxisIndex{index.Iterator{Sym: sym}},
		Expr: llir.Get{Ptr: x, Idcs: []index.AxisIndex{index.Iterator{Sym: sym}}},
	}}
	traces := Visit(DefaultSettings(), code)
	require.True(t, traces[x.ID].ReadBeforeWrite)
	require.False(t, traces[y.ID].ReadBeforeWrite)
}

func TestVisitTaskIDVetoesReplicable(t *testing.T) {
	a := &fakeAlloc{}
	x := newNode(a, "x")
	y := newNode(a, "y")
	taskSym := index.NewDedicatedSymbol(a, "task", index.DedicatedTaskID)
	code := llir.Set{
		Ptr:  y,
		Idcs: []index.AxisIndex{},
		Expr: llir.Get{Ptr: x, Idcs: []index.AxisIndex{index.Iterator{Sym: taskSym}}},
	}
	traces := Visit(DefaultSettings(), code)
	require.False(t, traces[y.ID].IsReplicable)
}

func TestVisitHostSizeKnownForcesNonVirtual(t *testing.T) {
	a := &fakeAlloc{}
	x := newNode(a, "x")
	buf, err := precision.Create(precision.Single, []int{4}, nil)
	require.NoError(t, err)
	require.NoError(t, x.SetBuffer(buf))
	code := llir.Set{Ptr: x, Idcs: nil, Expr: llir.Constant{C: 1}}
	traces := Visit(DefaultSettings(), code)
	require.True(t, traces[x.ID].NonVirtual)
}

// buildSimpleDef constructs y[i] = x[i] + 1 under one ForLoop — the
// smallest virtualizable shape: one lhs iterator, no reduction loop.
func buildSimpleDef(a *fakeAlloc, x, y *node.Node, to int) (llir.Code, index.Symbol) {
	sym := index.NewSymbol(a, "i")
	set := llir.Set{
		Ptr:  y,
		Idcs: []index.AxisIndex{index.Iterator{Sym: sym}},
		Expr: llir.Binop{Op: ops.Add, A: llir.Get{Ptr: x, Idcs: []index.AxisIndex{index.Iterator{Sym: sym}}}, B: llir.Constant{C: 1}},
	}
	return llir.ForLoop{Index: sym, From: 0, To: to, Body: set}, sym
}

func TestVirtualizeInlinesSimpleDefinitionAtCallSite(t *testing.T) {
	a := &fakeAlloc{}
	x := newNode(a, "x")
	y := newNode(a, "y")
	z := newNode(a, "z")

	def, _ := buildSimpleDef(a, x, y, 4)

	callSym := index.NewSymbol(a, "j")
	use := llir.ForLoop{Index: callSym, From: 0, To: 4, Body: llir.Set{
		Ptr:  z,
		Idcs: []index.AxisIndex{index.Iterator{Sym: callSym}},
		Expr: llir.Get{Ptr: y, Idcs: []index.AxisIndex{index.Iterator{Sym: callSym}}},
	}}

	program := llir.Lines{Items: []llir.Code{def, use}}

	settings := DefaultSettings()
	traces := Visit(settings, program)
	candidates := CollectCandidates(settings, traces, program)
	require.Contains(t, candidates, y.ID)

	inlined, virtualized := Inline(a, program, candidates)
	require.True(t, virtualized[y.ID])

	cleaned := Cleanup(settings, inlined, traces, virtualized)
	simplified := Simplify(settings, cleaned)

	// After cleanup+simplify, there must be no remaining Set/Get touching y.
	require.False(t, codeTouchesTensor(simplified, y))
}

func TestSimplifyIsIdempotent(t *testing.T) {
	e := llir.Binop{Op: ops.Add, A: llir.Constant{C: 0}, B: llir.Binop{Op: ops.Mul, A: llir.Constant{C: 1}, B: llir.Constant{C: 5}}}
	code := llir.Set{Ptr: &node.Node{ID: 1}, Idcs: nil, Expr: e}
	once := Simplify(DefaultSettings(), code)
	twice := Simplify(DefaultSettings(), once)
	require.Equal(t, once, twice)
}

func TestSimplifyFoldsConstants(t *testing.T) {
	e := llir.Binop{Op: ops.Add, A: llir.Constant{C: 2}, B: llir.Constant{C: 3}}
	code := llir.Set{Ptr: &node.Node{ID: 1}, Idcs: nil, Expr: e}
	out := Simplify(DefaultSettings(), code).(llir.Set)
	require.Equal(t, llir.Constant{C: 5}, out.Expr)
}

func TestSimplifyUnwrapsIdentityUnop(t *testing.T) {
	e := llir.Unop{Op: ops.Identity, A: llir.Get{Ptr: &node.Node{ID: 2}, Idcs: nil}}
	code := llir.Set{Ptr: &node.Node{ID: 1}, Idcs: nil, Expr: e}
	out := Simplify(DefaultSettings(), code).(llir.Set)
	_, isGet := out.Expr.(llir.Get)
	require.True(t, isGet)
}

func codeTouchesTensor(code llir.Code, n *node.Node) bool {
	found := false
	walkExprsInCode(code, func(e llir.Expr) {
		if g, ok := e.(llir.Get); ok && g.Ptr == n {
			found = true
		}
	})
	switch c := code.(type) {
	case llir.Lines:
		for _, item := range c.Items {
			if codeTouchesTensor(item, n) {
				found = true
			}
		}
	case llir.ForLoop:
		if codeTouchesTensor(c.Body, n) {
			found = true
		}
	case llir.Set:
		if c.Ptr == n {
			found = true
		}
	}
	return found
}
