// Package hlir implements component D: the high-level assignment graph.
// A program is a tree of composition nodes (Par/ParHint/Seq) over leaves
// that accumulate a binop/unop result into a tensor across a projected
// index space, or fetch a value (constant, synthesized sub-program, or an
// externally-imported name) into one.
package hlir

import (
	"github.com/arbor-ml/arbor/node"
	"github.com/arbor-ml/arbor/ops"
	"github.com/arbor-ml/arbor/shape"
)

// Code is the HL IR node variant of §3.
type Code interface{ isCode() }

// Par promises its two operands are independent: no ordering is implied
// or required between them.
type Par struct{ Left, Right Code }

func (Par) isCode() {}

// ParHint admits overlap but requires writes in Left to finish before
// reads in Right start — a weaker contract than Par, stronger than Seq.
type ParHint struct{ Left, Right Code }

func (ParHint) isCode() {}

// Seq promises only fusion benefits (adjacency for the backend to
// schedule together); no independence or overlap contract.
type Seq struct{ Left, Right Code }

func (Seq) isCode() {}

// ProjectionsThunk lazily derives the projections record for an
// accumulation once shape inference has resolved every participating
// shape; it is a thunk rather than an eagerly-computed value because HL
// programs are built before inference completes.
type ProjectionsThunk func() (*shape.Projections, error)

// AccumBinop accumulates op(rhs1, rhs2) into lhs via accum, optionally
// zeroing lhs first.
type AccumBinop struct {
	ZeroOut     bool
	Accum       ops.BinOp
	Op          ops.BinOp
	LHS         *node.Node
	RHS1, RHS2  *node.Node
	Projections ProjectionsThunk
}

func (AccumBinop) isCode() {}

// AccumUnop accumulates op(rhs) into lhs via accum, optionally zeroing
// lhs first.
type AccumUnop struct {
	ZeroOut     bool
	Accum       ops.BinOp
	Op          ops.UnOp
	LHS, RHS    *node.Node
	Projections ProjectionsThunk
}

func (AccumUnop) isCode() {}

// FetchOp is the source of a Fetch node's value.
type FetchOp interface{ isFetchOp() }

// ConstantFetch fills Target with a literal scalar.
type ConstantFetch struct{ C float64 }

func (ConstantFetch) isFetchOp() {}

// SyntheticFetch fills Target by running a nested HL program.
type SyntheticFetch struct{ Code Code }

func (SyntheticFetch) isFetchOp() {}

// ImportedFetch names an externally-supplied value; reserved, not
// implemented by the lowering pass (§4.E: "Imported is reserved").
type ImportedFetch struct{ Name string }

func (ImportedFetch) isFetchOp() {}

// Fetch fills Target per Op.
type Fetch struct {
	Target *node.Node
	Op     FetchOp
}

func (Fetch) isCode() {}

// BlockComment attaches a label that propagates into generated code,
// used to name debug blocks (e.g. "bprop", "sgd_update").
type BlockComment struct {
	Msg  string
	Body Code
}

func (BlockComment) isCode() {}

// Noop is the empty program; Sequential/AllParallel fold to it.
type Noop struct{}

func (Noop) isCode() {}
