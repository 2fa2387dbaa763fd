package hlir

import "github.com/arbor-ml/arbor/node"

// Sequential folds codes left-to-right with Seq, per §4.D. An empty list
// folds to Noop.
func Sequential(codes []Code) Code {
	return fold(codes, func(a, b Code) Code { return Seq{Left: a, Right: b} })
}

// AllParallel folds codes left-to-right with Par.
func AllParallel(codes []Code) Code {
	return fold(codes, func(a, b Code) Code { return Par{Left: a, Right: b} })
}

func fold(codes []Code, combine func(a, b Code) Code) Code {
	var out Code = Noop{}
	first := true
	for _, c := range codes {
		if _, ok := c.(Noop); ok {
			continue
		}
		if first {
			out = c
			first = false
			continue
		}
		out = combine(out, c)
	}
	return out
}

// FlatParallel flattens nested Par (and, when forceHints is set, also
// ParHint) nodes into an ordered list of their non-Par leaves, per §4.D.
// A Seq or leaf node flattens to a singleton list.
func FlatParallel(code Code, forceHints bool) []Code {
	switch c := code.(type) {
	case Par:
		return append(FlatParallel(c.Left, forceHints), FlatParallel(c.Right, forceHints)...)
	case ParHint:
		if forceHints {
			return append(FlatParallel(c.Left, forceHints), FlatParallel(c.Right, forceHints)...)
		}
		return []Code{c}
	default:
		return []Code{c}
	}
}

// WithBlockComment wraps body under a label, the composer's way of
// naming generated blocks ("loss fwd", "zero_grads", "bprop", ...).
func WithBlockComment(label string, body Code) Code {
	return BlockComment{Msg: label, Body: body}
}

// RemoveUpdates drops any Accum-binop/Accum-unop whose LHS is t, used to
// strip initialization-only assignments before re-deriving them (§4.D).
// Par/ParHint/Seq/BlockComment structure is preserved around the
// remaining leaves; a composition node whose children both vanish
// collapses to Noop.
func RemoveUpdates(t *node.Node, code Code) Code {
	switch c := code.(type) {
	case Par:
		return rebuildPair(RemoveUpdates(t, c.Left), RemoveUpdates(t, c.Right),
			func(a, b Code) Code { return Par{Left: a, Right: b} })
	case ParHint:
		return rebuildPair(RemoveUpdates(t, c.Left), RemoveUpdates(t, c.Right),
			func(a, b Code) Code { return ParHint{Left: a, Right: b} })
	case Seq:
		return rebuildPair(RemoveUpdates(t, c.Left), RemoveUpdates(t, c.Right),
			func(a, b Code) Code { return Seq{Left: a, Right: b} })
	case BlockComment:
		body := RemoveUpdates(t, c.Body)
		if _, ok := body.(Noop); ok {
			return Noop{}
		}
		return BlockComment{Msg: c.Msg, Body: body}
	case AccumBinop:
		if c.LHS == t {
			return Noop{}
		}
		return c
	case AccumUnop:
		if c.LHS == t {
			return Noop{}
		}
		return c
	case Fetch:
		if c.Target == t {
			return Noop{}
		}
		return c
	default:
		return code
	}
}

func rebuildPair(a, b Code, combine func(a, b Code) Code) Code {
	_, aNoop := a.(Noop)
	_, bNoop := b.(Noop)
	switch {
	case aNoop && bNoop:
		return Noop{}
	case aNoop:
		return b
	case bNoop:
		return a
	default:
		return combine(a, b)
	}
}
