package shape

import (
	"github.com/arbor-ml/arbor/arborerr"
	"github.com/arbor-ml/arbor/index"
)

// Engine drives unification. It owns the broadcast-protected variable set
// (row/dim-variable ids that should be eliminated last, so that broadcast
// variables survive as long as possible and are closed only by Finish)
// and a fresh-id allocator for the dim variables closure synthesizes.
//
// The walk-until-fixpoint style is the same shape as Hindley-Milner
// unification: a local step resolves a variable against its concrete
// binding (here, its union-find representative) as it recurses, and the
// caller stores the result back into whichever side was a variable.
type Engine struct {
	alloc             Allocator
	broadcastRowVars  map[int64]bool
	broadcastDimVars  map[int64]bool
}

// NewEngine creates a unification engine backed by alloc for fresh ids.
func NewEngine(alloc Allocator) *Engine {
	return &Engine{
		alloc:            alloc,
		broadcastRowVars: map[int64]bool{},
		broadcastDimVars: map[int64]bool{},
	}
}

// MarkBroadcastRowVar records that a row-variable id originated from a
// "..." broadcast anchor, so rule 1 prefers eliminating the OTHER side
// first.
func (e *Engine) MarkBroadcastRowVar(id int64) { e.broadcastRowVars[id] = true }

// MarkBroadcastDimVar is MarkBroadcastRowVar's dim-variable counterpart.
func (e *Engine) MarkBroadcastDimVar(id int64) { e.broadcastDimVars[id] = true }

func (e *Engine) freshDimVar(label string) DimVar {
	return DimVar{ID: e.alloc.NextShapeID(), Label: label}
}

func (e *Engine) freshRowVar() RowVar {
	return RowVar{V: e.alloc.NextShapeID()}
}

// UnifyRows is rule set 1–3: align two rows, mutating neither in place but
// returning the row they unify to (callers store the result back into
// whichever side was a variable). stepUF is the *local* union-find for
// this single propagation step (§4.C "Row preservation across propagation
// steps") — it must not be the engine's or shape's global union-find.
//
// a and b are treated symmetrically; there is no directional mode that
// matches only b against a's common suffix.
func (e *Engine) UnifyRows(stepUF *index.UnionFind, a, b *Row) (*Row, *arborerr.Error) {
	// Rule 1: a bare row-variable on either side is substituted by the
	// other row outright.
	if isBareRowVar(a) {
		if rv, ok := a.Term.(RowVar); ok && !e.broadcastRowVars[rv.V] {
			return b, nil
		}
	}
	if isBareRowVar(b) {
		if rv, ok := b.Term.(RowVar); ok && !e.broadcastRowVars[rv.V] {
			return a, nil
		}
	}
	if isBareRowVar(a) && isBareRowVar(b) {
		// Both are broadcast-protected row-variables: arbitrarily keep a,
		// since neither may yet be eliminated (rule 1's preference order
		// does not apply when both sides are protected).
		return a, nil
	}

	// Rule 2: Fixed must match axis count exactly; Broadcastable matches
	// any prefix, padding missing leading axes with fresh dim=1
	// substitutes.
	term, err := e.unifyTerminators(a.Term, b.Term, len(a.Dims), len(b.Dims))
	if err != nil {
		return nil, err
	}

	longer, shorter := a, b
	if len(b.Dims) > len(a.Dims) {
		longer, shorter = b, a
	}
	pad := len(longer.Dims) - len(shorter.Dims)
	paddedShort := make([]Dim, pad, len(longer.Dims))
	for i := 0; i < pad; i++ {
		paddedShort[i] = DimConcrete{D: 1, Proj: index.ProjID(e.alloc.NextShapeID())}
	}
	paddedShort = append(paddedShort, shorter.Dims...)

	// Rule 3: align from the right, unify the common suffix dim-by-dim.
	outDims := make([]Dim, len(longer.Dims))
	for i := range longer.Dims {
		d, derr := e.UnifyDim(stepUF, longer.Dims[i], paddedShort[i])
		if derr != nil {
			return nil, withRowTrace(derr, Batch, "dim tail mismatch")
		}
		outDims[i] = d
	}

	constraint, cerr := e.unifyConstraints(a.Constraint, b.Constraint, outDims)
	if cerr != nil {
		return nil, cerr
	}

	return &Row{Dims: outDims, Constraint: constraint, Term: term}, nil
}

func isBareRowVar(r *Row) bool {
	_, ok := r.Term.(RowVar)
	return ok && len(r.Dims) == 0
}

func (e *Engine) unifyTerminators(a, b Terminator, na, nb int) (Terminator, *arborerr.Error) {
	switch at := a.(type) {
	case RowVar:
		return b, nil
	case Fixed:
		switch b.(type) {
		case RowVar:
			return a, nil
		case Fixed:
			if na != nb {
				return nil, arborerr.Shape("Fixed row arity mismatch: %d vs %d", na, nb)
			}
			return a, nil
		case Broadcastable:
			return Fixed{}, nil
		}
	case Broadcastable:
		switch b.(type) {
		case RowVar:
			return a, nil
		case Fixed:
			return Fixed{}, nil
		case Broadcastable:
			return Broadcastable{}, nil
		}
	}
	_ = at
	return nil, arborerr.Shape("unrecognized row terminator combination")
}

func (e *Engine) unifyConstraints(a, b Constraint, dims []Dim) (Constraint, *arborerr.Error) {
	ta, aok := a.(TotalElems)
	tb, bok := b.(TotalElems)
	switch {
	case aok && bok:
		if ta.N != tb.N {
			return nil, arborerr.Shape("Total-elems mismatch: %d vs %d", ta.N, tb.N)
		}
		return ta, nil
	case aok:
		return ta, nil
	case bok:
		return tb, nil
	default:
		return Unconstrained{}, nil
	}
}

// UnifyDim is rule 4: two concrete dims of equal size unify and union
// their proj-ids in stepUF; size-1 dims unify with anything (broadcast);
// a variable substitutes, preferring to eliminate non-broadcast
// variables first; a label mismatch between two concrete, differently-
// labeled dims is a hard error.
func (e *Engine) UnifyDim(stepUF *index.UnionFind, a, b Dim) (Dim, *arborerr.Error) {
	av, aIsVar := a.(DimVar)
	bv, bIsVar := b.(DimVar)

	switch {
	case aIsVar && bIsVar:
		if e.broadcastDimVars[av.ID] && !e.broadcastDimVars[bv.ID] {
			return b, nil
		}
		return a, nil
	case aIsVar:
		return b, nil
	case bIsVar:
		return a, nil
	}

	ac, bc := a.(DimConcrete), b.(DimConcrete)
	if ac.D == 1 && bc.D != 1 {
		return bc, nil
	}
	if bc.D == 1 && ac.D != 1 {
		return ac, nil
	}
	if ac.D != bc.D {
		return nil, withDimTrace(arborerr.Shape("dim size mismatch: %d vs %d", ac.D, bc.D),
			"size")
	}
	if ac.Label != "" && bc.Label != "" && ac.Label != bc.Label {
		return nil, withDimTrace(arborerr.Shape("dim label mismatch: %q vs %q", ac.Label, bc.Label),
			"label")
	}
	rep := stepUF.Union(ac.Proj, bc.Proj)
	label := ac.Label
	if label == "" {
		label = bc.Label
	}
	d := ac.D
	if d == 1 {
		d = bc.D
	}
	return DimConcrete{D: d, Proj: rep, Label: label}, nil
}
