// Package trace implements component F: the visit/escape analysis pass
// over a lowered program, virtualization (inlining candidate tensors at
// their read sites), and the post-inlining algebraic simplifier.
package trace

import (
	"fmt"
	"strings"

	"github.com/arbor-ml/arbor/index"
	"github.com/arbor-ml/arbor/llir"
	"github.com/arbor-ml/arbor/node"
)

// Settings bundles the enumerated tracing/virtualization knobs of §4.F.
type Settings struct {
	EnableDeviceOnly bool
	// MaxVisits is the visit-count ceiling above which a candidate virtual
	// tensor is demoted to materialized. Zero means "unset"; use
	// DefaultSettings for the documented default of 3.
	MaxVisits                  int
	InlineConstants             bool
	AlwaysInlineDynamicIndexing bool
	SequentialMinibatch         bool
}

// DefaultSettings returns §4.F's documented defaults.
func DefaultSettings() Settings {
	return Settings{MaxVisits: 3}
}

// AccessRecord is either a repeat-visit counter or the Recurrent marker
// for a first access that precedes any assignment at that index.
type AccessRecord struct {
	Recurrent bool
	Visits    int
}

// TracedTensor is the per-tensor record §3 describes, built by Pass 1 and
// consulted by Passes 2-4.
type TracedTensor struct {
	Node *node.Node

	AssignmentsSet map[string]bool
	AccessesMap    map[string]AccessRecord

	NonVirtual     bool
	NonDeviceOnly  bool
	Scalar         *float64
	ZeroInitialized bool
	ZeroedOut       bool
	ReadBeforeWrite bool
	ReadOnly        bool
	LastWriteNonUpdate bool
	IsDynamicSlice  bool
	IsReplicable    bool
	RHSSet          map[string]bool

	firstContact bool // internal: whether any Set/Get has touched this tensor yet
	lastWriteKey string
	lastWriteWasUpdate bool
}

func newTracedTensor(n *node.Node) *TracedTensor {
	return &TracedTensor{
		Node:            n,
		AssignmentsSet:  map[string]bool{},
		AccessesMap:     map[string]AccessRecord{},
		RHSSet:          map[string]bool{},
		IsReplicable:    true,
	}
}

// visitor carries the mutable state threaded through Pass 1's walk.
type visitor struct {
	settings Settings
	traces   map[int64]*TracedTensor
	// boundDedicated tracks the dedicated-axis kinds (task-id, sample-num)
	// whose loops currently enclose the walk.
	boundDedicated map[index.DedicatedKind]bool
}

// Visit implements Pass 1 of §4.F over code, returning one TracedTensor
// per tensor node touched.
func Visit(settings Settings, code llir.Code) map[int64]*TracedTensor {
	v := &visitor{settings: settings, traces: map[int64]*TracedTensor{}, boundDedicated: map[index.DedicatedKind]bool{}}
	v.walkCode(code)
	for _, tt := range v.traces {
		if tt.Node.HostSizeKnown() {
			tt.NonVirtual = true
		}
	}
	return v.traces
}

func (v *visitor) traceFor(n *node.Node) *TracedTensor {
	tt, ok := v.traces[n.ID]
	if !ok {
		tt = newTracedTensor(n)
		v.traces[n.ID] = tt
	}
	return tt
}

func (v *visitor) walkCode(code llir.Code) {
	switch c := code.(type) {
	case llir.Lines:
		for _, item := range c.Items {
			v.walkCode(item)
		}
	case llir.ForLoop:
		dedicated := c.Index.Dedicated
		already := v.boundDedicated[dedicated]
		if dedicated != index.DedicatedNone {
			v.boundDedicated[dedicated] = true
		}
		v.walkCode(c.Body)
		if dedicated != index.DedicatedNone {
			v.boundDedicated[dedicated] = already
		}
	case llir.ZeroOut:
		tt := v.traceFor(c.Ptr)
		if !tt.firstContact {
			tt.ZeroInitialized = true
		}
		tt.firstContact = true
		tt.ZeroedOut = true
		tt.lastWriteWasUpdate = false
		tt.lastWriteKey = "<zero>"
	case llir.Set:
		v.walkSet(c)
	case llir.SetLocal:
		v.walkExpr(c.Expr)
	case llir.DynamicIndices:
		tt := v.traceFor(c.Tensor)
		if c.Slice != nil {
			tt.IsDynamicSlice = true
		}
		for _, ix := range c.TensorIdcs {
			v.walkAxisIndex(ix)
		}
		v.walkCode(c.Body)
	case llir.Rebalance:
		for _, child := range c.Children {
			v.walkCode(child)
		}
	case llir.StagedCompilation:
		v.walkCode(c.Callback())
	case llir.Comment:
		// no-op
	default:
		// Nothing to record for unrecognized/zero-value code nodes.
	}
}

func (v *visitor) walkSet(c llir.Set) {
	tt := v.traceFor(c.Ptr)
	key := keyIdcs(c.Idcs)

	if !tt.firstContact {
		tt.firstContact = true
	}
	tt.AssignmentsSet[key] = true

	isUpdate := exprReadsSameCell(c.Expr, c.Ptr, key)
	tt.lastWriteWasUpdate = isUpdate
	tt.lastWriteKey = key
	tt.LastWriteNonUpdate = !isUpdate

	tt.RHSSet[exprKey(c.Expr)] = true

	for _, ix := range c.Idcs {
		v.walkAxisIndex(ix)
	}
	v.walkExpr(c.Expr)

	if !v.isReplicableExpr(c.Expr) {
		tt.IsReplicable = false
	}
}

func (v *visitor) walkExpr(e llir.Expr) {
	switch ex := e.(type) {
	case llir.Get:
		v.walkGet(ex)
	case llir.Binop:
		v.walkExpr(ex.A)
		v.walkExpr(ex.B)
	case llir.Unop:
		v.walkExpr(ex.A)
	case llir.LocalScope:
		v.walkCode(ex.Body)
		for _, ix := range ex.OrigIndices {
			v.walkAxisIndex(ix)
		}
	default:
		// Constant, GetLocal, GetGlobal: no tensor to record.
	}
}

func (v *visitor) walkGet(g llir.Get) {
	tt := v.traceFor(g.Ptr)
	key := keyIdcs(g.Idcs)

	if len(tt.AssignmentsSet) == 0 && !tt.firstContact {
		tt.ReadBeforeWrite = true
	}
	tt.firstContact = true

	rec, ok := tt.AccessesMap[key]
	if !tt.AssignmentsSet[key] {
		tt.AccessesMap[key] = AccessRecord{Recurrent: true}
		_ = ok
		return
	}
	if !rec.Recurrent {
		rec.Visits++
	}
	tt.AccessesMap[key] = rec

	for _, ix := range g.Idcs {
		v.walkAxisIndex(ix)
	}
}

func (v *visitor) walkAxisIndex(ix index.AxisIndex) {
	if prov, ok := ix.(index.DynamicProvider); ok {
		for _, inner := range prov.Idcs {
			v.walkAxisIndex(inner)
		}
	}
}

// isReplicableExpr implements the per-sample replicability check: an
// expression is non-replicable if it reads a task-id-bound index, or (with
// SequentialMinibatch) a sample-num-bound index.
func (v *visitor) isReplicableExpr(e llir.Expr) bool {
	replicable := true
	var walk func(e llir.Expr)
	var walkIdx func(ix index.AxisIndex)
	walkIdx = func(ix index.AxisIndex) {
		switch i := ix.(type) {
		case index.Iterator:
			if i.Sym.Dedicated == index.DedicatedTaskID {
				replicable = false
			}
			if v.settings.SequentialMinibatch && i.Sym.Dedicated == index.DedicatedSampleNum {
				replicable = false
			}
		case index.DynamicProvider:
			for _, inner := range i.Idcs {
				walkIdx(inner)
			}
		}
	}
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
		case llir.LocalScope:
			// scope body handled separately by walkExpr's recursion
		}
	}
	walk(e)
	return replicable
}

// exprReadsSameCell reports whether e contains a Get of ptr at exactly
// key, the read-modify-write check behind LastWriteNonUpdate.
func exprReadsSameCell(e llir.Expr, ptr *node.Node, key string) bool {
	switch ex := e.(type) {
	case llir.Get:
		return ex.Ptr == ptr && keyIdcs(ex.Idcs) == key
	case llir.Binop:
		return exprReadsSameCell(ex.A, ptr, key) || exprReadsSameCell(ex.B, ptr, key)
	case llir.Unop:
		return exprReadsSameCell(ex.A, ptr, key)
	default:
		return false
	}
}

// keyIdcs renders an index array into a stable map key.
func keyIdcs(idcs []index.AxisIndex) string {
	parts := make([]string, len(idcs))
	for i, ix := range idcs {
		parts[i] = axisIndexKey(ix)
	}
	return strings.Join(parts, ",")
}

func axisIndexKey(ix index.AxisIndex) string {
	switch i := ix.(type) {
	case index.FixedIdx:
		return fmt.Sprintf("#%d", i.I)
	case index.Iterator:
		return fmt.Sprintf("i%d", i.Sym.ID)
	case index.DynamicRecipient:
		return fmt.Sprintf("dr%d", i.Sym.ID)
	case index.FrozenRecipient:
		return fmt.Sprintf("fr%d", i.Sym.ID)
	case index.DynamicProvider:
		return "dp(" + keyIdcs(i.Idcs) + ")"
	default:
		return "?"
	}
}

// exprKey renders an expression to a string for rhs-set deduplication
// (unique right-hand-side expressions, §3).
func exprKey(e llir.Expr) string {
	switch ex := e.(type) {
	case llir.Constant:
		return fmt.Sprintf("const(%v)", ex.C)
	case llir.Get:
		return fmt.Sprintf("get(%d,%s)", ex.Ptr.ID, keyIdcs(ex.Idcs))
	case llir.GetLocal:
		return fmt.Sprintf("local(%d)", ex.Scope)
	case llir.GetGlobal:
		return fmt.Sprintf("global(%s)", ex.Name)
	case llir.Binop:
		return fmt.Sprintf("binop(%s,%s,%s)", ex.Op, exprKey(ex.A), exprKey(ex.B))
	case llir.Unop:
		return fmt.Sprintf("unop(%s,%s)", ex.Op, exprKey(ex.A))
	case llir.LocalScope:
		return fmt.Sprintf("scope(%d)", ex.ID)
	default:
		return "?"
	}
}
