package cpujit

import (
	"fmt"
	"strings"

	"github.com/arbor-ml/arbor/arborerr"
	"github.com/arbor-ml/arbor/index"
	"github.com/arbor-ml/arbor/llir"
	"github.com/arbor-ml/arbor/ops"
)

// generateC renders code as a single C function named name, the text the
// §6 debug-artifact contract and the cc/v4 syntax check both consume.
// Dynamic-indices blocks render as a comment around their body, and a
// Local-scope expression renders as a reference to the C variable
// local_<id> (its body and the variable's declaration are not emitted).
// Tensor buffers are referenced as flat arrays named buf_<id>, indexed by
// the plain sum of their axis indices (no row-major stride arithmetic).
func generateC(name string, code llir.Code) (string, *arborerr.Error) {
	var b strings.Builder
	fmt.Fprintf(&b, "void %s(void) {\n", cIdent(name))
	g := &cgen{out: &b, indent: 1}
	if err := g.code(code); err != nil {
		return "", err
	}
	b.WriteString("}\n")
	return b.String(), nil
}

type cgen struct {
	out    *strings.Builder
	indent int
}

func (g *cgen) line(format string, args ...any) {
	g.out.WriteString(strings.Repeat("  ", g.indent))
	fmt.Fprintf(g.out, format, args...)
	g.out.WriteString("\n")
}

func (g *cgen) code(code llir.Code) *arborerr.Error {
	switch c := code.(type) {
	case llir.Lines:
		for _, item := range c.Items {
			if err := g.code(item); err != nil {
				return err
			}
		}
		return nil
	case llir.Comment:
		g.line("/* %s */", c.Msg)
		return nil
	case llir.ForLoop:
		sym := cSym(c.Index)
		g.line("for (int %s = %d; %s < %d; %s++) {", sym, c.From, sym, c.To, sym)
		g.indent++
		if err := g.code(c.Body); err != nil {
			return err
		}
		g.indent--
		g.line("}")
		return nil
	case llir.ZeroOut:
		g.line("memset(buf_%d, 0, sizeof(buf_%d));", c.Ptr.ID, c.Ptr.ID)
		return nil
	case llir.Set:
		idx, err := g.idcs(c.Idcs)
		if err != nil {
			return err
		}
		expr, err := g.expr(c.Expr)
		if err != nil {
			return err
		}
		g.line("buf_%d[%s] = %s;", c.Ptr.ID, idx, expr)
		return nil
	case llir.SetLocal:
		expr, err := g.expr(c.Expr)
		if err != nil {
			return err
		}
		g.line("local_%d = %s;", c.Scope, expr)
		return nil
	case llir.DynamicIndices:
		g.line("/* dynamic-indices via buf_%d */", c.Tensor.ID)
		return g.code(c.Body)
	case llir.Rebalance:
		for _, child := range c.Children {
			if err := g.code(child); err != nil {
				return err
			}
		}
		return nil
	case llir.StagedCompilation:
		return g.code(c.Callback())
	default:
		return arborerr.Invariant("cpujit codegen: unrecognized llir.Code %T", code)
	}
}

func (g *cgen) idcs(idcs []index.AxisIndex) (string, *arborerr.Error) {
	parts := make([]string, len(idcs))
	for i, ix := range idcs {
		p, err := g.axisIndex(ix)
		if err != nil {
			return "", err
		}
		parts[i] = p
	}
	return strings.Join(parts, " + "), nil
}

func (g *cgen) axisIndex(ix index.AxisIndex) (string, *arborerr.Error) {
	switch v := ix.(type) {
	case index.FixedIdx:
		return fmt.Sprintf("%d", v.I), nil
	case index.Iterator:
		return cSym(v.Sym), nil
	case index.DynamicRecipient:
		return cSym(v.Sym), nil
	case index.FrozenRecipient:
		return cSym(v.Sym), nil
	default:
		return "", arborerr.Invariant("cpujit codegen: axis index %T has no C rendering", ix)
	}
}

func (g *cgen) expr(e llir.Expr) (string, *arborerr.Error) {
	switch ex := e.(type) {
	case llir.Constant:
		return fmt.Sprintf("%g", ex.C), nil
	case llir.Get:
		idx, err := g.idcs(ex.Idcs)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("buf_%d[%s]", ex.Ptr.ID, idx), nil
	case llir.GetLocal:
		return fmt.Sprintf("local_%d", ex.Scope), nil
	case llir.GetGlobal:
		return fmt.Sprintf("global_%s", cIdent(ex.Name)), nil
	case llir.Binop:
		a, err := g.expr(ex.A)
		if err != nil {
			return "", err
		}
		b, err := g.expr(ex.B)
		if err != nil {
			return "", err
		}
		return cBinop(ex.Op, a, b), nil
	case llir.Unop:
		a, err := g.expr(ex.A)
		if err != nil {
			return "", err
		}
		return cUnop(ex.Op, a), nil
	case llir.LocalScope:
		return fmt.Sprintf("local_%d" /* the scope's body is not rendered */, ex.ID), nil
	default:
		return "", arborerr.Invariant("cpujit codegen: unrecognized llir.Expr %T", e)
	}
}

func cBinop(op ops.BinOp, a, b string) string {
	switch op {
	case ops.Arg1:
		return a
	case ops.Arg2:
		return b
	case ops.Add:
		return fmt.Sprintf("(%s + %s)", a, b)
	case ops.Mul:
		return fmt.Sprintf("(%s * %s)", a, b)
	case ops.ToPowOf:
		return fmt.Sprintf("powf(%s, %s)", a, b)
	case ops.ReluGate:
		return fmt.Sprintf("(%s > 0 ? %s : 0)", a, b)
	default:
		return fmt.Sprintf("/* ?binop */ %s, %s", a, b)
	}
}

func cUnop(op ops.UnOp, a string) string {
	switch op {
	case ops.Identity:
		return a
	case ops.Relu:
		return fmt.Sprintf("(%s > 0 ? %s : 0)", a, a)
	default:
		return fmt.Sprintf("/* ?unop */ %s", a)
	}
}

func cSym(s index.Symbol) string {
	if s.Label != "" {
		return "i_" + cIdent(s.Label)
	}
	return fmt.Sprintf("i%d", s.ID)
}

func cIdent(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}
