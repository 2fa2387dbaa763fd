package cpujit

import (
	"github.com/arbor-ml/arbor/arborerr"
	"github.com/arbor-ml/arbor/backend"
	"github.com/arbor-ml/arbor/index"
	"github.com/arbor-ml/arbor/llir"
)

// env binds an in-flight loop nest's iterator symbols to their current
// concrete value, plus any dynamic-indices recipients bound along the
// way.
type env map[int64]int

// locals holds a compiled kernel invocation's Local-scope accumulator
// cells, keyed by scope id.
type locals map[int64]float64

// eval runs one compiled kernel's optimized LL IR against ctx's buffers,
// reading static index bindings from the caller-supplied cells. This is
// the cpu-jit backend's execution path: Compile additionally renders and
// validates a C translation for the debug-artifact contract (§6), but
// actual Work.Run here interprets the tree directly rather than shelling
// out to a system C compiler.
func eval(ctx *Context, code llir.Code, bindings backend.Bindings) *arborerr.Error {
	e := env{}
	for sym, cell := range bindings {
		e[sym] = *cell
	}
	return evalCode(ctx, code, e, locals{})
}

func evalCode(ctx *Context, code llir.Code, e env, loc locals) *arborerr.Error {
	switch c := code.(type) {
	case llir.Lines:
		for _, item := range c.Items {
			if err := evalCode(ctx, item, e, loc); err != nil {
				return err
			}
		}
		return nil
	case llir.Comment:
		return nil
	case llir.ForLoop:
		for v := c.From; v < c.To; v++ {
			e[c.Index.ID] = v
			if err := evalCode(ctx, c.Body, e, loc); err != nil {
				return err
			}
		}
		delete(e, c.Index.ID)
		return nil
	case llir.ZeroOut:
		buf, err := ctx.bufferFor(c.Ptr)
		if err != nil {
			return arborerr.Invariant("cpujit: ZeroOut %q: %v", c.Ptr.Label, err)
		}
		if err := buf.FillFromFloat(0); err != nil {
			return arborerr.Invariant("cpujit: ZeroOut %q: %v", c.Ptr.Label, err)
		}
		return nil
	case llir.Set:
		v, err := evalExpr(ctx, c.Expr, e, loc)
		if err != nil {
			return err
		}
		idx, ierr := resolveIndices(c.Idcs, e)
		if ierr != nil {
			return arborerr.Invariant("cpujit: Set %q: %v", c.Ptr.Label, ierr)
		}
		buf, berr := ctx.bufferFor(c.Ptr)
		if berr != nil {
			return arborerr.Invariant("cpujit: Set %q: %v", c.Ptr.Label, berr)
		}
		if err := buf.SetFromFloat(idx, v); err != nil {
			return arborerr.Runtime(c.Ptr.Label, idx, "")
		}
		return nil
	case llir.SetLocal:
		v, err := evalExpr(ctx, c.Expr, e, loc)
		if err != nil {
			return err
		}
		loc[c.Scope] = v
		return nil
	case llir.DynamicIndices:
		return evalDynamicIndices(ctx, c, e, loc)
	case llir.Rebalance:
		for _, child := range c.Children {
			if err := evalCode(ctx, child, e, loc); err != nil {
				return err
			}
		}
		return nil
	case llir.StagedCompilation:
		if c.LHS != nil && c.RHS1 != nil && c.RHS2 != nil {
			return matMul(ctx, c.RHS1, c.RHS2, c.LHS)
		}
		if c.LHS != nil && c.RHS1 != nil && c.RHS2 == nil {
			return sumLastAxis(ctx, c.RHS1, c.LHS)
		}
		return evalCode(ctx, c.Callback(), e, loc)
	default:
		return arborerr.Invariant("cpujit: unrecognized llir.Code %T", code)
	}
}

// evalDynamicIndices reads the runtime index values Tensor supplies at
// TensorIdcs and binds them as DynIdcs recipients for Body. When DynIdcs
// names more than one symbol, successive values are read by advancing
// the last resolved coordinate of TensorIdcs, the common "a row of index
// values" layout.
func evalDynamicIndices(ctx *Context, c llir.DynamicIndices, e env, loc locals) *arborerr.Error {
	base, ierr := resolveIndices(c.TensorIdcs, e)
	if ierr != nil {
		return arborerr.Invariant("cpujit: DynamicIndices %q: %v", c.Tensor.Label, ierr)
	}
	buf, berr := ctx.bufferFor(c.Tensor)
	if berr != nil {
		return arborerr.Invariant("cpujit: DynamicIndices %q: %v", c.Tensor.Label, berr)
	}
	for i, sym := range c.DynIdcs {
		coord := append([]int{}, base...)
		if len(coord) > 0 {
			coord[len(coord)-1] += i
		}
		v, gerr := buf.GetAsFloat(coord)
		if gerr != nil {
			return arborerr.Runtime(c.Tensor.Label, coord, "")
		}
		e[sym.ID] = int(v)
	}
	if err := evalCode(ctx, c.Body, e, loc); err != nil {
		return err
	}
	for _, sym := range c.DynIdcs {
		delete(e, sym.ID)
	}
	return nil
}

func evalExpr(ctx *Context, expr llir.Expr, e env, loc locals) (float64, *arborerr.Error) {
	switch ex := expr.(type) {
	case llir.Constant:
		return ex.C, nil
	case llir.Get:
		idx, err := resolveIndices(ex.Idcs, e)
		if err != nil {
			return 0, arborerr.Invariant("cpujit: Get %q: %v", ex.Ptr.Label, err)
		}
		buf, berr := ctx.bufferFor(ex.Ptr)
		if berr != nil {
			return 0, arborerr.Invariant("cpujit: Get %q: %v", ex.Ptr.Label, berr)
		}
		v, gerr := buf.GetAsFloat(idx)
		if gerr != nil {
			return 0, arborerr.Runtime(ex.Ptr.Label, idx, "")
		}
		return v, nil
	case llir.GetLocal:
		return loc[ex.Scope], nil
	case llir.GetGlobal:
		return 0, arborerr.Invariant("cpujit: GetGlobal(%q): imported globals are not wired", ex.Name)
	case llir.Binop:
		a, err := evalExpr(ctx, ex.A, e, loc)
		if err != nil {
			return 0, err
		}
		b, err := evalExpr(ctx, ex.B, e, loc)
		if err != nil {
			return 0, err
		}
		return ex.Op.Apply(a, b), nil
	case llir.Unop:
		a, err := evalExpr(ctx, ex.A, e, loc)
		if err != nil {
			return 0, err
		}
		return ex.Op.Apply(a), nil
	case llir.LocalScope:
		sub := locals{}
		for k, v := range loc {
			sub[k] = v
		}
		if err := evalCode(ctx, ex.Body, e, sub); err != nil {
			return 0, err
		}
		return sub[ex.ID], nil
	default:
		return 0, arborerr.Invariant("cpujit: unrecognized llir.Expr %T", expr)
	}
}

func resolveIndices(idcs []index.AxisIndex, e env) ([]int, *arborerr.Error) {
	out := make([]int, len(idcs))
	for i, ix := range idcs {
		v, err := resolveIndex(ix, e)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func resolveIndex(ix index.AxisIndex, e env) (int, *arborerr.Error) {
	switch v := ix.(type) {
	case index.FixedIdx:
		return v.I, nil
	case index.Iterator:
		val, ok := e[v.Sym.ID]
		if !ok {
			return 0, arborerr.Invariant("cpujit: symbol %s has no bound value", v.Sym)
		}
		return val, nil
	case index.DynamicRecipient:
		val, ok := e[v.Sym.ID]
		if !ok {
			return 0, arborerr.Invariant("cpujit: dynamic recipient %s has no bound value", v.Sym)
		}
		return val, nil
	case index.FrozenRecipient:
		val, ok := e[v.Sym.ID]
		if !ok {
			return 0, arborerr.Invariant("cpujit: frozen recipient %s has no bound value", v.Sym)
		}
		return val, nil
	default:
		return 0, arborerr.Invariant("cpujit: axis index %T cannot be resolved at runtime directly", ix)
	}
}
