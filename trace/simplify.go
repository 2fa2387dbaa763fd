package trace

import (
	"github.com/arbor-ml/arbor/llir"
	"github.com/arbor-ml/arbor/ops"
)

// Simplify implements §4.F pass 5: algebraic rewrites applied to a
// fixpoint after virtualization. It never changes observable behavior,
// only the shape of the tree.
func Simplify(settings Settings, code llir.Code) llir.Code {
	for {
		next, changed := simplifyCode(settings, code)
		if !changed {
			return next
		}
		code = next
	}
}

func simplifyCode(settings Settings, code llir.Code) (llir.Code, bool) {
	changed := false
	switch c := code.(type) {
	case llir.Lines:
		items := make([]llir.Code, 0, len(c.Items))
		for _, item := range c.Items {
			s, ch := simplifyCode(settings, item)
			changed = changed || ch
			if isEmptyLines(s) {
				changed = true
				continue
			}
			items = append(items, s)
		}
		if len(items) == 1 {
			if _, ok := items[0].(llir.Lines); !ok {
				return items[0], true
			}
		}
		return llir.Lines{Items: items}, changed
	case llir.ForLoop:
		body, ch := simplifyCode(settings, c.Body)
		c.Body = body
		if isEmptyLines(body) {
			return llir.Lines{}, true
		}
		return c, ch
	case llir.Set:
		e, ch := simplifyExpr(settings, c.Expr)
		c.Expr = e
		return c, ch
	case llir.SetLocal:
		e, ch := simplifyExpr(settings, c.Expr)
		c.Expr = e
		return c, ch
	case llir.DynamicIndices:
		body, ch := simplifyCode(settings, c.Body)
		c.Body = body
		return c, ch
	case llir.Rebalance:
		children := make([]llir.Code, len(c.Children))
		for i, ch2 := range c.Children {
			s, ch := simplifyCode(settings, ch2)
			children[i] = s
			changed = changed || ch
		}
		c.Children = children
		return c, changed
	default:
		return code, false
	}
}

func isEmptyLines(code llir.Code) bool {
	l, ok := code.(llir.Lines)
	return ok && len(l.Items) == 0
}

func simplifyExpr(settings Settings, e llir.Expr) (llir.Expr, bool) {
	changed := false
	switch ex := e.(type) {
	case llir.Binop:
		a, ca := simplifyExpr(settings, ex.A)
		b, cb := simplifyExpr(settings, ex.B)
		changed = ca || cb
		ex.A, ex.B = a, b

		if ex.Op == ops.Arg1 {
			return ex.A, true
		}
		if ex.Op == ops.Arg2 {
			return ex.B, true
		}

		ac, aIsConst := a.(llir.Constant)
		bc, bIsConst := b.(llir.Constant)
		if aIsConst && bIsConst {
			return llir.Constant{C: ex.Op.Apply(ac.C, bc.C)}, true
		}

		if ex.Op == ops.Add {
			if aIsConst && ac.C == 0 {
				return b, true
			}
			if bIsConst && bc.C == 0 {
				return a, true
			}
		}
		if ex.Op == ops.Mul {
			if aIsConst && ac.C == 1 {
				return b, true
			}
			if bIsConst && bc.C == 1 {
				return a, true
			}
			if (aIsConst && ac.C == 0) || (bIsConst && bc.C == 0) {
				return llir.Constant{C: 0}, true
			}
		}
		if ex.Op == ops.ToPowOf && bIsConst {
			if unrolled, ok := unrollIntegerPow(a, bc.C); ok {
				return unrolled, true
			}
		}
		return ex, changed
	case llir.Unop:
		a, ca := simplifyExpr(settings, ex.A)
		ex.A = a
		changed = ca
		if ex.Op == ops.Identity {
			return a, true
		}
		if c, ok := a.(llir.Constant); ok {
			return llir.Constant{C: ex.Op.Apply(c.C)}, true
		}
		return ex, changed
	case llir.LocalScope:
		body, cb := simplifyCode(settings, ex.Body)
		ex.Body = body
		changed = cb
		if v, ok := trivialScopeValue(ex.ID, body); ok {
			return v, true
		}
		return ex, changed
	default:
		return e, false
	}
}

// trivialScopeValue implements the Local-scope elision rule: a scope
// whose body is exactly one Set-local(id, v) (no loop, no conditional
// accumulation) is equivalent to v itself.
func trivialScopeValue(id int64, body llir.Code) (llir.Expr, bool) {
	switch b := body.(type) {
	case llir.SetLocal:
		if b.Scope == id {
			return b.Expr, true
		}
	case llir.Lines:
		if len(b.Items) == 1 {
			return trivialScopeValue(id, b.Items[0])
		}
	}
	return nil, false
}

// unrollIntegerPow expands a ToPowOf whose exponent is an integer in
// [0, 8] into repeated multiplication, which downstream backends fold
// better than a libm pow call. Simplify applies it whenever the exponent
// qualifies; no setting turns it off, and negative exponents stay ToPowOf.
func unrollIntegerPow(base llir.Expr, exp float64) (llir.Expr, bool) {
	n := int(exp)
	if float64(n) != exp || n < 0 || n > 8 {
		return nil, false
	}
	if n == 0 {
		return llir.Constant{C: 1}, true
	}
	out := base
	for i := 1; i < n; i++ {
		out = llir.Binop{Op: ops.Mul, A: out, B: base}
	}
	return out, true
}
