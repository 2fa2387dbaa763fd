// Package ops defines the fixed binop/unop vocabulary shared by the
// high-level assignment graph (component D) and the low-level loop-nest
// expressions (component E), per §3's "Binops"/"Unops" list. Keeping the
// enum in its own leaf package lets hlir and llir both depend on it
// without hlir depending on llir (lowering runs the other direction, D
// into E).
package ops

import "github.com/chewxy/math32"

// BinOp is one of the six binary operators §3 allows inside an
// Accum-binop's accum/op slots or an LL Binop expression.
type BinOp int

const (
	// Arg1 ignores its second operand.
	Arg1 BinOp = iota
	// Arg2 ignores its first operand; used as an "overwrite" accumulator.
	Arg2
	Add
	Mul
	// ToPowOf raises its first operand to the power of its second.
	ToPowOf
	// ReluGate passes b through when a > 0, else yields 0 — the backward
	// pass of a Relu unop.
	ReluGate
)

func (b BinOp) String() string {
	switch b {
	case Arg1:
		return "arg1"
	case Arg2:
		return "arg2"
	case Add:
		return "add"
	case Mul:
		return "mul"
	case ToPowOf:
		return "to_pow_of"
	case ReluGate:
		return "relu_gate"
	default:
		return "?binop"
	}
}

// Apply evaluates the operator at float32 precision via chewxy/math32 (the
// teacher's own indirect dependency for Single-precision math), widening
// to float64 for the caller. Constant folding and the CPU JIT's
// Staged-compilation fallback both route scalar evaluation through here
// so the two never disagree on rounding.
func (b BinOp) Apply(a, c float64) float64 {
	switch b {
	case Arg1:
		return a
	case Arg2:
		return c
	case Add:
		return float64(float32(a) + float32(c))
	case Mul:
		return float64(float32(a) * float32(c))
	case ToPowOf:
		return float64(math32.Pow(float32(a), float32(c)))
	case ReluGate:
		if a > 0 {
			return c
		}
		return 0
	default:
		return 0
	}
}

// IsIdentityOver reports whether v is the identity element for b acting
// on its second operand, e.g. Add/0 or Mul/1 — used by the simplifier's
// "x+0=x"/"x*1=x" rewrite rules.
func (b BinOp) IsIdentityOver(v float64) bool {
	switch b {
	case Add:
		return v == 0
	case Mul:
		return v == 1
	default:
		return false
	}
}

// UnOp is one of the two unary operators §3 allows.
type UnOp int

const (
	Identity UnOp = iota
	Relu
)

func (u UnOp) String() string {
	switch u {
	case Identity:
		return "identity"
	case Relu:
		return "relu"
	default:
		return "?unop"
	}
}

// Apply evaluates the operator; the result is a or 0, with no float32
// rounding.
func (u UnOp) Apply(a float64) float64 {
	switch u {
	case Identity:
		return a
	case Relu:
		if a > 0 {
			return a
		}
		return 0
	default:
		return 0
	}
}
