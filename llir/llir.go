// Package llir implements component E's low-level IR: loop nests over
// concrete (or dynamically-supplied) indices, local scopes, and the
// constructor that lowers a component D program into this form.
package llir

import (
	"github.com/arbor-ml/arbor/index"
	"github.com/arbor-ml/arbor/node"
	"github.com/arbor-ml/arbor/ops"
	"github.com/arbor-ml/arbor/precision"
)

// Code is the LL IR code variant of §3.
type Code interface{ isCode() }

type Comment struct{ Msg string }

func (Comment) isCode() {}

// Lines sequences a list of LL code nodes; this is the workhorse
// composition node code emission actually walks (Par/ParHint/Seq
// distinctions do not survive to this level — they only gate the
// optimizer's scheduling freedom upstream).
type Lines struct{ Items []Code }

func (Lines) isCode() {}

// ForLoop iterates Index over [From, To), running Body once per value.
// TraceIt marks a loop the tracer should record visit counts for (set
// false for loops the optimizer itself introduced after tracing, so a
// second trace pass doesn't double-count).
type ForLoop struct {
	Index   index.Symbol
	From, To int
	Body    Code
	TraceIt bool
}

func (ForLoop) isCode() {}

// ZeroOut fills Ptr's entire buffer with the zero value — the fast-path
// materialization of a Fetch{Constant 0.0} or an Accum-*'s ZeroOut flag.
type ZeroOut struct{ Ptr *node.Node }

func (ZeroOut) isCode() {}

// Set writes Expr into Ptr at Idcs.
type Set struct {
	Ptr  *node.Node
	Idcs []index.AxisIndex
	Expr Expr
}

func (Set) isCode() {}

// SetLocal writes Expr into a Local-scope's accumulator cell.
type SetLocal struct {
	Scope int64
	Expr  Expr
}

func (SetLocal) isCode() {}

// DynamicSlice names the known target when a Dynamic-indices block's
// provider resolves to a statically-sized slice.
type DynamicSlice struct {
	TargetDims []int
}

// DynamicIndices reads DynIdcs at runtime from Tensor (indexed by
// TensorIdcs) and uses them to index another tensor inside Body. Slice is
// non-nil when the slice target is known ahead of time.
type DynamicIndices struct {
	Tensor     *node.Node
	TensorIdcs []index.AxisIndex
	DynIdcs    []index.Symbol
	TargetDims []int
	Body       Code
	Slice      *DynamicSlice
}

func (DynamicIndices) isCode() {}

// Rebalance is the load-balancing extension point (§9 open question):
// this implementation runs Children sequentially in list order. Label is
// an optional debug tag.
type Rebalance struct {
	Label    string
	Children []Code
}

func (Rebalance) isCode() {}

// StagedCompilation defers code construction to Callback, invoked by the
// lowering/optimization pipeline itself rather than the HL->LL
// constructor — used by the CPU JIT backend's matmul and last-axis sum
// delegation to gorgonia.org/tensor's StdEng (§4.G "Staged-compilation
// fallback path"). Callback always returns the equivalent naive loop-nest,
// so a backend or pass with no delegate target can treat this node
// transparently; LHS/RHS1/RHS2 are populated only when the lowerer
// recognized the accumulation as a matmul (both set) or a last-axis
// reduction (RHS2 nil), letting a backend that does have a delegate
// target (backend/cpujit's mps.MPSEng) bypass the callback and dispatch
// directly instead.
type StagedCompilation struct {
	Callback        func() Code
	LHS, RHS1, RHS2 *node.Node
}

func (StagedCompilation) isCode() {}

// Expr is the LL expression variant of §3.
type Expr interface{ isExpr() }

type Constant struct{ C float64 }

func (Constant) isExpr() {}

type Get struct {
	Ptr  *node.Node
	Idcs []index.AxisIndex
}

func (Get) isExpr() {}

// GetLocal reads a Local-scope's accumulator cell by scope id.
type GetLocal struct{ Scope int64 }

func (GetLocal) isExpr() {}

// GetGlobal reads an externally-supplied named value (the Imported
// fetch's runtime counterpart).
type GetGlobal struct{ Name string }

func (GetGlobal) isExpr() {}

// LocalScope introduces a named accumulator cell of the given precision,
// whose Body (a Set-local sequence, typically) computes it; OrigIndices
// records the index expression the scope was created for, consulted by
// virtualization's inlining pass when renaming iterators at a call site.
type LocalScope struct {
	ID          int64
	Precision   precision.Precision
	Body        Code
	OrigIndices []index.AxisIndex
}

func (LocalScope) isExpr() {}

type Binop struct {
	Op   ops.BinOp
	A, B Expr
}

func (Binop) isExpr() {}

type Unop struct {
	Op ops.UnOp
	A  Expr
}

func (Unop) isExpr() {}
