package trace

import (
	"github.com/samber/lo"

	"github.com/arbor-ml/arbor/index"
	"github.com/arbor-ml/arbor/llir"
	"github.com/arbor-ml/arbor/node"
)

// ScopeAllocator is what inlining needs to mint fresh local-scope ids and
// fresh loop-binder symbols for alpha-renaming (§4.F pass 3).
type ScopeAllocator interface {
	NextScopeID() int64
	NextSymbolID() int64
}

// candidate is the saved definition of a virtual tensor: the Set that
// produces it, split into the loops that correspond to its own LHS index
// positions (dropped at inline time — the caller's enclosing loops take
// their place) and any inner reduction loops that must be replayed
// verbatim (alpha-renamed) at each call site.
type candidate struct {
	node           *node.Node
	lhsIdcs        []index.AxisIndex
	lhsSymPos      map[int64]int // symbol id -> position in lhsIdcs
	reductionLoops []llir.ForLoop
	expr           llir.Expr
	zeroInit       bool
}

// totalVisits sums the per-index visit counts recorded for a tensor,
// the basis for the max_visits gate.
func totalVisits(tt *TracedTensor) int {
	return lo.SumBy(lo.Values(tt.AccessesMap), func(rec AccessRecord) int {
		if rec.Recurrent {
			return 1
		}
		return rec.Visits + 1
	})
}

func hasDynamicProviderUse(tt *TracedTensor) bool {
	return tt.IsDynamicSlice
}

// CollectCandidates implements §4.F pass 2: for every eligible tensor,
// locate its unique defining Set (optionally nested in reduction loops),
// reject it on non-linear LHS indices, escaping free variables, or
// multiple/missing write sites.
func CollectCandidates(settings Settings, traces map[int64]*TracedTensor, code llir.Code) map[int64]*candidate {
	out := map[int64]*candidate{}
	for id, tt := range traces {
		if tt.NonVirtual {
			continue
		}
		eligible := totalVisits(tt) <= settings.MaxVisits
		if !eligible && hasDynamicProviderUse(tt) && settings.AlwaysInlineDynamicIndexing {
			eligible = true
		}
		if !eligible {
			continue
		}
		c := buildCandidate(tt, code)
		if c != nil {
			out[id] = c
		}
	}
	return out
}

func buildCandidate(tt *TracedTensor, code llir.Code) *candidate {
	sites := findDefinitions(code, tt.Node, nil)
	if len(sites) != 1 {
		return nil
	}
	site := sites[0]

	lhsSymPos := map[int64]int{}
	for i, ix := range site.set.Idcs {
		switch v := ix.(type) {
		case index.Iterator:
			lhsSymPos[v.Sym.ID] = i
		case index.FixedIdx:
			// fine: constant position, must match exactly at call sites.
		default:
			return nil // non-linear LHS index
		}
	}

	var reductionLoops []llir.ForLoop
	sawReduction := false
	for _, loop := range site.chain {
		if _, isLHS := lhsSymPos[loop.Index.ID]; isLHS {
			if sawReduction {
				return nil // lhs loop nested inside a reduction loop: unsupported shape
			}
			continue
		}
		sawReduction = true
		reductionLoops = append(reductionLoops, loop)
	}

	reductionSyms := map[int64]bool{}
	for _, loop := range reductionLoops {
		reductionSyms[loop.Index.ID] = true
	}
	if escapes(site.set.Expr, lhsSymPos, reductionSyms) {
		return nil
	}

	return &candidate{
		node:           tt.Node,
		lhsIdcs:        site.set.Idcs,
		lhsSymPos:      lhsSymPos,
		reductionLoops: reductionLoops,
		expr:           site.set.Expr,
		zeroInit:       tt.ZeroInitialized,
	}
}

// escapes reports whether e references an iterator symbol that is
// neither an LHS position nor a reduction-loop binder — an escaping free
// variable that disqualifies the candidate.
func escapes(e llir.Expr, lhsSymPos map[int64]int, reductionSyms map[int64]bool) bool {
	bad := false
	var walkIdx func(ix index.AxisIndex)
	walkIdx = func(ix index.AxisIndex) {
		switch v := ix.(type) {
		case index.Iterator:
			_, isLHS := lhsSymPos[v.Sym.ID]
			if !isLHS && !reductionSyms[v.Sym.ID] {
				bad = true
			}
		case index.DynamicProvider:
			for _, inner := range v.Idcs {
				walkIdx(inner)
			}
		}
	}
	var walk func(e llir.Expr)
	walk = func(e llir.Expr) {
		switch ex := e.(type) {
		case llir.Get:
			for _, ix := range ex.Idcs {
				walkIdx(ix)
			}
		case llir.Binop:
			walk(ex.A)
			walk(ex.B)
		case llir.Unop:
			walk(ex.A)
		}
	}
	walk(e)
	return bad
}

// definitionSite is one textual location in the program that writes to a
// tensor: the chain of enclosing ForLoops (outer to inner) and the Set
// itself.
type definitionSite struct {
	chain []llir.ForLoop
	set   llir.Set
}

func findDefinitions(code llir.Code, target *node.Node, chain []llir.ForLoop) []definitionSite {
	switch c := code.(type) {
	case llir.Lines:
		var out []definitionSite
		for _, item := range c.Items {
			out = append(out, findDefinitions(item, target, chain)...)
		}
		return out
	case llir.ForLoop:
		return findDefinitions(c.Body, target, append(append([]llir.ForLoop{}, chain...), c))
	case llir.Set:
		if c.Ptr == target {
			return []definitionSite{{chain: chain, set: c}}
		}
		return nil
	case llir.DynamicIndices:
		return findDefinitions(c.Body, target, chain)
	case llir.Rebalance:
		var out []definitionSite
		for _, child := range c.Children {
			out = append(out, findDefinitions(child, target, chain)...)
		}
		return out
	default:
		return nil
	}
}

// Inline implements §4.F pass 3: replace every Get(t, callIdcs) with a
// fresh Local-scope whose body replays the candidate's saved write block,
// position-wise substituting the LHS iterators for the caller's index
// expressions and alpha-renaming any inner reduction loop binders.
// Candidates whose call-site FixedIdx positions don't match the saved
// pattern are dropped from virtualization entirely (the tensor demotes to
// materialized) rather than partially inlined.
func Inline(alloc ScopeAllocator, code llir.Code, candidates map[int64]*candidate) (llir.Code, map[int64]bool) {
	virtualized := map[int64]bool{}
	for id := range candidates {
		virtualized[id] = true
	}
	// A first walk can demote a candidate if any call site is incompatible.
	demote(code, candidates, virtualized)
	return inlineWalk(alloc, code, candidates, virtualized), virtualized
}

func demote(code llir.Code, candidates map[int64]*candidate, virtualized map[int64]bool) {
	walkExprsInCode(code, func(e llir.Expr) {
		g, ok := e.(llir.Get)
		if !ok {
			return
		}
		c, ok := candidates[g.Ptr.ID]
		if !ok || !virtualized[g.Ptr.ID] {
			return
		}
		if !callSiteCompatible(c, g.Idcs) {
			virtualized[g.Ptr.ID] = false
		}
	})
}

func callSiteCompatible(c *candidate, callIdcs []index.AxisIndex) bool {
	if len(callIdcs) != len(c.lhsIdcs) {
		return false
	}
	for i, ix := range c.lhsIdcs {
		if fx, ok := ix.(index.FixedIdx); ok {
			cfx, ok2 := callIdcs[i].(index.FixedIdx)
			if !ok2 || cfx.I != fx.I {
				return false
			}
		}
	}
	return true
}

func walkExprsInCode(code llir.Code, f func(llir.Expr)) {
	switch c := code.(type) {
	case llir.Lines:
		for _, item := range c.Items {
			walkExprsInCode(item, f)
		}
	case llir.ForLoop:
		walkExprsInCode(c.Body, f)
	case llir.Set:
		walkExprsInExpr(c.Expr, f)
	case llir.SetLocal:
		walkExprsInExpr(c.Expr, f)
	case llir.DynamicIndices:
		walkExprsInCode(c.Body, f)
	case llir.Rebalance:
		for _, child := range c.Children {
			walkExprsInCode(child, f)
		}
	}
}

func walkExprsInExpr(e llir.Expr, f func(llir.Expr)) {
	f(e)
	switch ex := e.(type) {
	case llir.Binop:
		walkExprsInExpr(ex.A, f)
		walkExprsInExpr(ex.B, f)
	case llir.Unop:
		walkExprsInExpr(ex.A, f)
	case llir.LocalScope:
		walkExprsInCode(ex.Body, f)
	}
}

func inlineWalk(alloc ScopeAllocator, code llir.Code, candidates map[int64]*candidate, virtualized map[int64]bool) llir.Code {
	switch c := code.(type) {
	case llir.Lines:
		items := make([]llir.Code, len(c.Items))
		for i, item := range c.Items {
			items[i] = inlineWalk(alloc, item, candidates, virtualized)
		}
		return llir.Lines{Items: items}
	case llir.ForLoop:
		c.Body = inlineWalk(alloc, c.Body, candidates, virtualized)
		return c
	case llir.Set:
		c.Expr = inlineExpr(alloc, c.Expr, candidates, virtualized)
		return c
	case llir.SetLocal:
		c.Expr = inlineExpr(alloc, c.Expr, candidates, virtualized)
		return c
	case llir.DynamicIndices:
		c.Body = inlineWalk(alloc, c.Body, candidates, virtualized)
		return c
	case llir.Rebalance:
		children := make([]llir.Code, len(c.Children))
		for i, ch := range c.Children {
			children[i] = inlineWalk(alloc, ch, candidates, virtualized)
		}
		c.Children = children
		return c
	default:
		return code
	}
}

func inlineExpr(alloc ScopeAllocator, e llir.Expr, candidates map[int64]*candidate, virtualized map[int64]bool) llir.Expr {
	switch ex := e.(type) {
	case llir.Get:
		c, ok := candidates[ex.Ptr.ID]
		if !ok || !virtualized[ex.Ptr.ID] {
			return ex
		}
		return inlineCall(alloc, c, ex.Idcs)
	case llir.Binop:
		ex.A = inlineExpr(alloc, ex.A, candidates, virtualized)
		ex.B = inlineExpr(alloc, ex.B, candidates, virtualized)
		return ex
	case llir.Unop:
		ex.A = inlineExpr(alloc, ex.A, candidates, virtualized)
		return ex
	default:
		return e
	}
}

// inlineCall substitutes c's saved write block at one call site.
func inlineCall(alloc ScopeAllocator, c *candidate, callIdcs []index.AxisIndex) llir.Expr {
	replace := map[int64]index.AxisIndex{}
	for sym, pos := range c.lhsSymPos {
		replace[sym] = callIdcs[pos]
	}

	renamedLoops := make([]llir.ForLoop, len(c.reductionLoops))
	for i, loop := range c.reductionLoops {
		fresh := index.Symbol{ID: alloc.NextSymbolID(), Label: loop.Index.Label, Dedicated: loop.Index.Dedicated}
		replace[loop.Index.ID] = index.Iterator{Sym: fresh}
		renamedLoops[i] = llir.ForLoop{Index: fresh, From: loop.From, To: loop.To, TraceIt: false}
	}

	scopeID := alloc.NextScopeID()
	substituted := substituteExpr(c.expr, replace)
	substituted = replaceSelfGet(substituted, c.node, c.lhsIdcs, scopeID)

	body := llir.Code(llir.SetLocal{Scope: scopeID, Expr: substituted})
	for i := len(renamedLoops) - 1; i >= 0; i-- {
		body = llir.ForLoop{Index: renamedLoops[i].Index, From: renamedLoops[i].From, To: renamedLoops[i].To, Body: body}
	}

	var items []llir.Code
	if c.zeroInit {
		items = append(items, llir.SetLocal{Scope: scopeID, Expr: llir.Constant{C: 0}})
	}
	items = append(items, body)

	return llir.LocalScope{
		ID:          scopeID,
		Precision:   c.node.Precision,
		Body:        llir.Lines{Items: items},
		OrigIndices: callIdcs,
	}
}

// substituteExpr replaces every Iterator{Sym} whose id is a key of
// replace, throughout every Get's index array in e.
func substituteExpr(e llir.Expr, replace map[int64]index.AxisIndex) llir.Expr {
	switch ex := e.(type) {
	case llir.Get:
		idcs := make([]index.AxisIndex, len(ex.Idcs))
		for i, ix := range ex.Idcs {
			idcs[i] = substituteAxisIndex(ix, replace)
		}
		return llir.Get{Ptr: ex.Ptr, Idcs: idcs}
	case llir.Binop:
		return llir.Binop{Op: ex.Op, A: substituteExpr(ex.A, replace), B: substituteExpr(ex.B, replace)}
	case llir.Unop:
		return llir.Unop{Op: ex.Op, A: substituteExpr(ex.A, replace)}
	default:
		return e
	}
}

func substituteAxisIndex(ix index.AxisIndex, replace map[int64]index.AxisIndex) index.AxisIndex {
	switch v := ix.(type) {
	case index.Iterator:
		if r, ok := replace[v.Sym.ID]; ok {
			return r
		}
		return v
	case index.DynamicProvider:
		idcs := make([]index.AxisIndex, len(v.Idcs))
		for i, inner := range v.Idcs {
			idcs[i] = substituteAxisIndex(inner, replace)
		}
		return index.DynamicProvider{Idcs: idcs, TargetDims: v.TargetDims}
	default:
		return ix
	}
}

// replaceSelfGet substitutes any Get(t, lhsIdcs) (the accumulator's own
// read-modify-write reference) with a GetLocal of the fresh scope, so the
// inlined accumulator reads its own running total rather than a dangling
// reference to the tensor being virtualized away.
func replaceSelfGet(e llir.Expr, self *node.Node, lhsIdcs []index.AxisIndex, scopeID int64) llir.Expr {
	key := keyIdcs(lhsIdcs)
	switch ex := e.(type) {
	case llir.Get:
		if ex.Ptr == self && keyIdcs(ex.Idcs) == key {
			return llir.GetLocal{Scope: scopeID}
		}
		return ex
	case llir.Binop:
		return llir.Binop{Op: ex.Op, A: replaceSelfGet(ex.A, self, lhsIdcs, scopeID), B: replaceSelfGet(ex.B, self, lhsIdcs, scopeID)}
	case llir.Unop:
		return llir.Unop{Op: ex.Op, A: replaceSelfGet(ex.A, self, lhsIdcs, scopeID)}
	default:
		return e
	}
}

// Cleanup implements §4.F pass 4: drop the original defining Set/ZeroOut
// of every virtualized tensor, and constant-fold Gets of scalar-proven
// tensors to their literal when settings.InlineConstants is set.
func Cleanup(settings Settings, code llir.Code, traces map[int64]*TracedTensor, virtualized map[int64]bool) llir.Code {
	code = stripVirtualDefinitions(code, virtualized)
	if settings.InlineConstants {
		code = foldScalars(code, traces)
	}
	return code
}

func stripVirtualDefinitions(code llir.Code, virtualized map[int64]bool) llir.Code {
	switch c := code.(type) {
	case llir.Lines:
		items := make([]llir.Code, 0, len(c.Items))
		for _, item := range c.Items {
			items = append(items, stripVirtualDefinitions(item, virtualized))
		}
		return llir.Lines{Items: items}
	case llir.ForLoop:
		c.Body = stripVirtualDefinitions(c.Body, virtualized)
		return c
	case llir.Set:
		if virtualized[c.Ptr.ID] {
			return llir.Lines{}
		}
		return c
	case llir.ZeroOut:
		if virtualized[c.Ptr.ID] {
			return llir.Lines{}
		}
		return c
	case llir.DynamicIndices:
		if virtualized[c.Tensor.ID] {
			return llir.Lines{}
		}
		c.Body = stripVirtualDefinitions(c.Body, virtualized)
		return c
	case llir.Rebalance:
		children := make([]llir.Code, len(c.Children))
		for i, ch := range c.Children {
			children[i] = stripVirtualDefinitions(ch, virtualized)
		}
		c.Children = children
		return c
	default:
		return code
	}
}

func foldScalars(code llir.Code, traces map[int64]*TracedTensor) llir.Code {
	switch c := code.(type) {
	case llir.Lines:
		items := make([]llir.Code, len(c.Items))
		for i, item := range c.Items {
			items[i] = foldScalars(item, traces)
		}
		return llir.Lines{Items: items}
	case llir.ForLoop:
		c.Body = foldScalars(c.Body, traces)
		return c
	case llir.Set:
		c.Expr = foldScalarsExpr(c.Expr, traces)
		return c
	case llir.SetLocal:
		c.Expr = foldScalarsExpr(c.Expr, traces)
		return c
	case llir.DynamicIndices:
		c.Body = foldScalars(c.Body, traces)
		return c
	default:
		return code
	}
}

func foldScalarsExpr(e llir.Expr, traces map[int64]*TracedTensor) llir.Expr {
	switch ex := e.(type) {
	case llir.Get:
		if tt, ok := traces[ex.Ptr.ID]; ok && tt.Scalar != nil {
			return llir.Constant{C: *tt.Scalar}
		}
		return ex
	case llir.Binop:
		return llir.Binop{Op: ex.Op, A: foldScalarsExpr(ex.A, traces), B: foldScalarsExpr(ex.B, traces)}
	case llir.Unop:
		return llir.Unop{Op: ex.Op, A: foldScalarsExpr(ex.A, traces)}
	default:
		return e
	}
}
