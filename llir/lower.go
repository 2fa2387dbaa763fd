package llir

import (
	"github.com/arbor-ml/arbor/arborerr"
	"github.com/arbor-ml/arbor/hlir"
	"github.com/arbor-ml/arbor/index"
	"github.com/arbor-ml/arbor/node"
	"github.com/arbor-ml/arbor/ops"
	"github.com/arbor-ml/arbor/precision"
	"github.com/arbor-ml/arbor/shape"
)

// SymbolAllocator is the narrow interface lowering needs to mint fresh
// iteration symbols for Fetch{Constant c}'s full-fill loop nest (which
// has no Projections thunk to draw iterators from).
type SymbolAllocator interface {
	NextSymbolID() int64
}

// ToLowLevel translates a component D program into component E code, per
// §4.E.
func ToLowLevel(alloc SymbolAllocator, code hlir.Code) (Code, *arborerr.Error) {
	switch c := code.(type) {
	case hlir.Noop:
		return Lines{}, nil
	case hlir.Par:
		return lowerPair(alloc, c.Left, c.Right)
	case hlir.ParHint:
		return lowerPair(alloc, c.Left, c.Right)
	case hlir.Seq:
		return lowerPair(alloc, c.Left, c.Right)
	case hlir.BlockComment:
		body, err := ToLowLevel(alloc, c.Body)
		if err != nil {
			return nil, err
		}
		return Lines{Items: []Code{Comment{Msg: c.Msg}, body}}, nil
	case hlir.Fetch:
		return lowerFetch(alloc, c)
	case hlir.AccumBinop:
		return lowerAccumBinop(alloc, c)
	case hlir.AccumUnop:
		return lowerAccumUnop(alloc, c)
	default:
		return nil, arborerr.Invariant("llir.ToLowLevel: unrecognized hlir.Code %T", code)
	}
}

func lowerPair(alloc SymbolAllocator, l, r hlir.Code) (Code, *arborerr.Error) {
	lo, err := ToLowLevel(alloc, l)
	if err != nil {
		return nil, err
	}
	ro, err := ToLowLevel(alloc, r)
	if err != nil {
		return nil, err
	}
	return Lines{Items: []Code{lo, ro}}, nil
}

// setDistributesOverSum maintains the lhs node's DistributesOverSum flag
// per §4.E: true exactly for the textbook "sum of products" accum/op
// pattern (Accum==Add, Op==Mul), the shape legality downstream passes
// check before lifting a Fetch out of a summation.
func setDistributesOverSum(n *node.Node, accum ops.BinOp, op ops.BinOp) {
	n.DistributesOverSum = accum == ops.Add && op == ops.Mul
}

func lowerAccumBinop(alloc SymbolAllocator, c hlir.AccumBinop) (Code, *arborerr.Error) {
	setDistributesOverSum(c.LHS, c.Accum, c.Op)

	proj, err := c.Projections()
	if err != nil {
		return nil, arborerr.Invariant("lowering accum-binop into %q: %v", c.LHS.Label, err)
	}

	innerExpr := Expr(Binop{
		Op: c.Accum,
		A:  Get{Ptr: c.LHS, Idcs: proj.ProjectLHS},
		B: Binop{
			Op: c.Op,
			A:  Get{Ptr: c.RHS1, Idcs: proj.ProjectRHS[0]},
			B:  Get{Ptr: c.RHS2, Idcs: proj.ProjectRHS[1]},
		},
	})
	body := Code(Set{Ptr: c.LHS, Idcs: proj.ProjectLHS, Expr: innerExpr})

	body = wrapDynamicIndices(body, proj.ProjectLHS, proj.ProjectRHS[0], proj.ProjectRHS[1])

	nested := nestLoops(proj.ProductSpace, proj.ProductIterators, body)

	// A zeroed sum-of-products accumulation whose LHS/RHS1/RHS2 projections
	// form a plain 2-D matrix product (§4.G "Staged-compilation fallback
	// path") is handed to the backend as a Staged-compilation node instead
	// of the naive triple loop, so a backend with a delegate target (the
	// CPU JIT backend's mps.MPSEng) can run one matmul call rather than
	// interpreting O(m*n*k) individual cell updates. Callback still
	// renders the naive loop nest, so a backend or pass with no delegate
	// (codegen's debug text, trace's analysis, the CUDA backend) sees
	// exactly the same code it always has.
	if c.ZeroOut && stagedDtype(c.LHS.Precision) && matMulShaped(proj) {
		staged := Code(StagedCompilation{
			Callback: func() Code { return nested },
			LHS:      c.LHS, RHS1: c.RHS1, RHS2: c.RHS2,
		})
		return Lines{Items: []Code{ZeroOut{Ptr: c.LHS}, staged}}, nil
	}

	if c.ZeroOut {
		return Lines{Items: []Code{ZeroOut{Ptr: c.LHS}, nested}}, nil
	}
	return nested, nil
}

// stagedDtype reports whether p is a precision tensor.StdEng can run real
// floating-point arithmetic over directly from its Dense backing slice.
// Byte and Half buffers store raw integer/bit-pattern cells (§4.A), so a
// Staged-compilation delegate would run nonsense arithmetic over them;
// those stay on the naive loop nest regardless of shape.
func stagedDtype(p precision.Precision) bool {
	return p == precision.Single || p == precision.Double
}

// matMulShaped reports whether proj describes a plain 2-D matrix product:
// LHS indexed by iterators (i, j), RHS1 by (i, k), RHS2 by (k, j), for some
// pairwise-distinct symbols i, j, k with k contracted (summed, not present
// in LHS). Any Fixed-idx, Dynamic-*, or higher/lower rank shape rules the
// fast path out and the caller falls back to the naive loop nest.
func matMulShaped(proj *shape.Projections) bool {
	if len(proj.ProjectLHS) != 2 || len(proj.ProjectRHS) != 2 {
		return false
	}
	if len(proj.ProjectRHS[0]) != 2 || len(proj.ProjectRHS[1]) != 2 {
		return false
	}
	li, okLI := iterSym(proj.ProjectLHS[0])
	lj, okLJ := iterSym(proj.ProjectLHS[1])
	r1i, okR1I := iterSym(proj.ProjectRHS[0][0])
	r1k, okR1K := iterSym(proj.ProjectRHS[0][1])
	r2k, okR2K := iterSym(proj.ProjectRHS[1][0])
	r2j, okR2J := iterSym(proj.ProjectRHS[1][1])
	if !okLI || !okLJ || !okR1I || !okR1K || !okR2K || !okR2J {
		return false
	}
	return li == r1i && lj == r2j && r1k == r2k && li != lj && li != r1k && lj != r1k
}

// iterSym extracts the iterator symbol bound to an axis position, if any.
func iterSym(ix index.AxisIndex) (int64, bool) {
	it, ok := ix.(index.Iterator)
	if !ok {
		return 0, false
	}
	return it.Sym.ID, true
}

func lowerAccumUnop(alloc SymbolAllocator, c hlir.AccumUnop) (Code, *arborerr.Error) {
	proj, err := c.Projections()
	if err != nil {
		return nil, arborerr.Invariant("lowering accum-unop into %q: %v", c.LHS.Label, err)
	}

	innerExpr := Expr(Binop{
		Op: c.Accum,
		A:  Get{Ptr: c.LHS, Idcs: proj.ProjectLHS},
		B:  Unop{Op: c.Op, A: Get{Ptr: c.RHS, Idcs: proj.ProjectRHS[0]}},
	})
	body := Code(Set{Ptr: c.LHS, Idcs: proj.ProjectLHS, Expr: innerExpr})

	body = wrapDynamicIndices(body, proj.ProjectLHS, proj.ProjectRHS[0])

	nested := nestLoops(proj.ProductSpace, proj.ProductIterators, body)

	// A zeroed Add/Identity accumulation projecting a rank-2 RHS down to a
	// rank-1 LHS by contracting the trailing axis is a last-axis row-sum
	// reduction — the other delegate target the CPU JIT backend's
	// mps.MPSEng exposes alongside matmul.
	if c.ZeroOut && c.Accum == ops.Add && c.Op == ops.Identity && stagedDtype(c.LHS.Precision) && sumShaped(proj) {
		staged := Code(StagedCompilation{
			Callback: func() Code { return nested },
			LHS:      c.LHS, RHS1: c.RHS,
		})
		return Lines{Items: []Code{ZeroOut{Ptr: c.LHS}, staged}}, nil
	}

	if c.ZeroOut {
		return Lines{Items: []Code{ZeroOut{Ptr: c.LHS}, nested}}, nil
	}
	return nested, nil
}

// sumShaped reports whether proj describes a last-axis row-sum: LHS
// indexed by a single iterator i, RHS by (i, k) with k contracted (summed,
// not present in LHS) as the trailing axis.
func sumShaped(proj *shape.Projections) bool {
	if len(proj.ProjectLHS) != 1 || len(proj.ProjectRHS) != 1 {
		return false
	}
	if len(proj.ProjectRHS[0]) != 2 {
		return false
	}
	li, okLI := iterSym(proj.ProjectLHS[0])
	ri, okRI := iterSym(proj.ProjectRHS[0][0])
	rk, okRK := iterSym(proj.ProjectRHS[0][1])
	if !okLI || !okRI || !okRK {
		return false
	}
	return li == ri && rk != li
}

// wrapDynamicIndices scans every index-array argument for a
// Dynamic-provider; the first one found (lhs, then rhs in order) wins and
// its provider wraps body in a Dynamic-indices block, per §4.E step 5.
func wrapDynamicIndices(body Code, idxArrays ...[]index.AxisIndex) Code {
	for _, idcs := range idxArrays {
		for _, ix := range idcs {
			if prov, ok := ix.(index.DynamicProvider); ok {
				return DynamicIndices{
					TensorIdcs: prov.Idcs,
					TargetDims: prov.TargetDims,
					Body:       body,
				}
			}
		}
	}
	return body
}

// nestLoops builds one For-loop per product-space dim, innermost last,
// wrapping body.
func nestLoops(dims []shape.Dim, syms []index.Symbol, body Code) Code {
	out := body
	for i := len(dims) - 1; i >= 0; i-- {
		size := 0
		if dc, ok := dims[i].(shape.DimConcrete); ok {
			size = dc.D
		}
		out = ForLoop{Index: syms[i], From: 0, To: size, Body: out, TraceIt: true}
	}
	return out
}

func lowerFetch(alloc SymbolAllocator, c hlir.Fetch) (Code, *arborerr.Error) {
	switch op := c.Op.(type) {
	case hlir.ConstantFetch:
		if op.C == 0 {
			return ZeroOut{Ptr: c.Target}, nil
		}
		return fullFillLoop(alloc, c.Target, op.C)
	case hlir.SyntheticFetch:
		return ToLowLevel(alloc, op.Code)
	case hlir.ImportedFetch:
		return nil, arborerr.Invariant("llir.ToLowLevel: Fetch{Imported %q} is reserved, not implemented", op.Name)
	default:
		return nil, arborerr.Invariant("llir.ToLowLevel: unrecognized hlir.FetchOp %T", c.Op)
	}
}

// fullFillLoop builds one iterator per dim of target's inferred shape and
// sets every cell to c.
func fullFillLoop(alloc SymbolAllocator, target *node.Node, c float64) (Code, *arborerr.Error) {
	if target.Shape == nil {
		return nil, arborerr.Invariant("llir.ToLowLevel: Fetch target %q has no shape", target.Label)
	}
	dims, err := target.Shape.ToDims()
	if err != nil {
		return nil, arborerr.Invariant("llir.ToLowLevel: Fetch target %q: %v", target.Label, err)
	}
	idcs := make([]index.AxisIndex, len(dims))
	syms := make([]index.Symbol, len(dims))
	for i := range dims {
		sym := index.NewSymbol(alloc, "")
		syms[i] = sym
		idcs[i] = index.Iterator{Sym: sym}
	}
	body := Code(Set{Ptr: target, Idcs: idcs, Expr: Constant{C: c}})
	for i := len(dims) - 1; i >= 0; i-- {
		body = ForLoop{Index: syms[i], From: 0, To: dims[i], Body: body, TraceIt: true}
	}
	return body, nil
}
