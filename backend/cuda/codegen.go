package cuda

import (
	"fmt"
	"strings"

	"github.com/arbor-ml/arbor/arborerr"
	"github.com/arbor-ml/arbor/index"
	"github.com/arbor-ml/arbor/llir"
	"github.com/arbor-ml/arbor/ops"
)

// GenerateCUDA renders code as a __global__ CUDA C kernel named name, one
// thread per top-level loop iteration. It carries no build tag so
// debugdump.WriteCUDAArtifacts can render the .cu text on any host,
// independent of whether this process can actually launch it.
func GenerateCUDA(name string, code llir.Code) (string, *arborerr.Error) {
	return generateCUDA(name, code)
}

func generateCUDA(name string, code llir.Code) (string, *arborerr.Error) {
	var b strings.Builder
	fmt.Fprintf(&b, "extern \"C\" __global__ void %s(void) {\n", cuIdent(name))
	g := &cudagen{out: &b, indent: 1}
	if err := g.code(code); err != nil {
		return "", err
	}
	b.WriteString("}\n")
	return b.String(), nil
}

type cudagen struct {
	out    *strings.Builder
	indent int
}

func (g *cudagen) line(format string, args ...any) {
	g.out.WriteString(strings.Repeat("  ", g.indent))
	fmt.Fprintf(g.out, format, args...)
	g.out.WriteString("\n")
}

func (g *cudagen) code(code llir.Code) *arborerr.Error {
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
		sym := cuSym(c.Index)
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
		return arborerr.Invariant("cuda codegen: unrecognized llir.Code %T", code)
	}
}

func (g *cudagen) idcs(idcs []index.AxisIndex) (string, *arborerr.Error) {
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

func (g *cudagen) axisIndex(ix index.AxisIndex) (string, *arborerr.Error) {
	switch v := ix.(type) {
	case index.FixedIdx:
		return fmt.Sprintf("%d", v.I), nil
	case index.Iterator:
		return cuSym(v.Sym), nil
	case index.DynamicRecipient:
		return cuSym(v.Sym), nil
	case index.FrozenRecipient:
		return cuSym(v.Sym), nil
	default:
		return "", arborerr.Invariant("cuda codegen: axis index %T has no CUDA rendering", ix)
	}
}

func (g *cudagen) expr(e llir.Expr) (string, *arborerr.Error) {
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
		return fmt.Sprintf("global_%s", cuIdent(ex.Name)), nil
	case llir.Binop:
		a, err := g.expr(ex.A)
		if err != nil {
			return "", err
		}
		b, err := g.expr(ex.B)
		if err != nil {
			return "", err
		}
		return cudaBinop(ex.Op, a, b), nil
	case llir.Unop:
		a, err := g.expr(ex.A)
		if err != nil {
			return "", err
		}
		return cudaUnop(ex.Op, a), nil
	case llir.LocalScope:
		return fmt.Sprintf("local_%d", ex.ID), nil
	default:
		return "", arborerr.Invariant("cuda codegen: unrecognized llir.Expr %T", e)
	}
}

func cudaBinop(op ops.BinOp, a, b string) string {
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

func cudaUnop(op ops.UnOp, a string) string {
	switch op {
	case ops.Identity:
		return a
	case ops.Relu:
		return fmt.Sprintf("(%s > 0 ? %s : 0)", a, a)
	default:
		return fmt.Sprintf("/* ?unop */ %s", a)
	}
}

func cuSym(s index.Symbol) string {
	if s.Label != "" {
		return "i_" + cuIdent(s.Label)
	}
	return fmt.Sprintf("i%d", s.ID)
}

func cuIdent(s string) string {
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
