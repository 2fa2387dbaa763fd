package cpujit

import (
	"gorgonia.org/tensor"

	"github.com/arbor-ml/arbor/arborerr"
	"github.com/arbor-ml/arbor/mps"
	"github.com/arbor-ml/arbor/node"
)

// hostEngine is shared by every Context on this process: a single
// mps.MPSEng instance backs the Staged-compilation fallback path for ops
// the lowerer chooses to delegate (matmul, last-axis sum) rather than
// re-deriving BLAS/reduction from scratch in the interpreter above. On
// darwin+cgo builds this is MPS/Metal-accelerated; everywhere else it's
// StdEng, exactly as the teacher's own engine selection works.
var hostEngine = mps.NewMPSEng()

// matMul runs out = a @ b through hostEngine, the concrete op behind a
// Staged-compilation node a compiled assignment graph can emit instead of
// a manual reduction loop nest when LHS/RHS1/RHS2 shapes match a plain
// 2-D matrix product.
func matMul(ctx *Context, a, bTensor, out *node.Node) *arborerr.Error {
	ab, err := ctx.bufferFor(a)
	if err != nil {
		return arborerr.Invariant("cpujit: matmul operand %q: %v", a.Label, err)
	}
	bb, err := ctx.bufferFor(bTensor)
	if err != nil {
		return arborerr.Invariant("cpujit: matmul operand %q: %v", bTensor.Label, err)
	}
	ob, err := ctx.bufferFor(out)
	if err != nil {
		return arborerr.Invariant("cpujit: matmul output %q: %v", out.Label, err)
	}

	at := tensor.New(tensor.WithShape(ab.Dims()...), tensor.WithBacking(ab.Dense().Data()))
	bt := tensor.New(tensor.WithShape(bb.Dims()...), tensor.WithBacking(bb.Dense().Data()))
	ot := tensor.New(tensor.WithShape(ob.Dims()...), tensor.WithBacking(ob.Dense().Data()))

	if err := hostEngine.MatMul(at, bt, ot); err != nil {
		return arborerr.Compile("matmul", err)
	}
	return nil
}

// sumLastAxis runs out = sum(rhs, axis=-1) through hostEngine, the concrete
// op behind a Staged-compilation node a compiled assignment graph can emit
// instead of a manual reduction loop nest when an Add/Identity accum-unop
// contracts a 2-D operand's trailing axis down to a vector.
func sumLastAxis(ctx *Context, rhs, out *node.Node) *arborerr.Error {
	rb, err := ctx.bufferFor(rhs)
	if err != nil {
		return arborerr.Invariant("cpujit: sum operand %q: %v", rhs.Label, err)
	}
	ob, err := ctx.bufferFor(out)
	if err != nil {
		return arborerr.Invariant("cpujit: sum output %q: %v", out.Label, err)
	}

	rt := tensor.New(tensor.WithShape(rb.Dims()...), tensor.WithBacking(rb.Dense().Data()))
	summed, serr := hostEngine.Sum(rt, len(rb.Dims())-1)
	if serr != nil {
		return arborerr.Compile("sum", serr)
	}

	sd, ok := summed.(*tensor.Dense)
	if !ok {
		return arborerr.Invariant("cpujit: sum produced %T, want *tensor.Dense", summed)
	}
	n := ob.Size()
	for i := 0; i < n; i++ {
		v, gerr := sd.At(i)
		if gerr != nil {
			return arborerr.Invariant("cpujit: sum result[%d]: %v", i, gerr)
		}
		f, ferr := asFloat64(v)
		if ferr != nil {
			return arborerr.Invariant("cpujit: sum result[%d]: %v", i, ferr)
		}
		if err := ob.SetFromFloat([]int{i}, f); err != nil {
			return arborerr.Runtime(out.Label, []int{i}, "")
		}
	}
	return nil
}

// asFloat64 widens a cell pulled off a tensor.Dense of either of the two
// dtypes stagedDtype (§4.E) admits into the Staged-compilation path:
// float32 for precision.Single, float64 for precision.Double.
func asFloat64(v interface{}) (float64, error) {
	switch f := v.(type) {
	case float32:
		return float64(f), nil
	case float64:
		return f, nil
	default:
		return 0, arborerr.Invariant("cpujit: unsupported cell type %T", v)
	}
}
