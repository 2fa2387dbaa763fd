package shape

import (
	"github.com/arbor-ml/arbor/arborerr"
	"github.com/arbor-ml/arbor/index"
)

// einsumSlot pairs a shape with the parsed axis labels its rows must
// unify against.
type einsumSlot struct {
	shape  *Shape
	parsed ParsedSpec
}

// DeriveEinsum implements §4.C's "Einsum derivation" for both Permute
// (one operand) and Einsum (two operands, via Broadcast{EinsumCompose}):
// parse every slot's spec, instantiate one fresh dim-variable per label
// shared across slots, then unify each slot's shape rows against the
// parsed row pattern, propagating whatever a slot resolves a label to
// into every later slot that mentions the same label.
func (e *Engine) DeriveEinsum(lhs *Shape, operands []*Shape, spec string) *arborerr.Error {
	operandSpecs, lhsSpec, serr := SplitEinsum(spec)
	if serr != nil {
		return serr
	}
	if len(operandSpecs) != len(operands) {
		return arborerr.Shape("einsum spec %q names %d operand(s), got %d", spec, len(operandSpecs), len(operands))
	}

	slots := make([]einsumSlot, 0, len(operands)+1)
	for i, opSpec := range operandSpecs {
		parsed, perr := ParseAxisLabels(opSpec)
		if perr != nil {
			return perr.WithFrame("Einsum " + spec)
		}
		slots = append(slots, einsumSlot{shape: operands[i], parsed: parsed})
	}
	lhsParsed, perr := ParseAxisLabels(lhsSpec)
	if perr != nil {
		return perr.WithFrame("Einsum " + spec)
	}
	slots = append(slots, einsumSlot{shape: lhs, parsed: lhsParsed})

	// labelDim tracks the current best-known Dim for each named label,
	// starting as a fresh DimVar and refined to a DimConcrete as soon as
	// any slot resolves it; later slots read the refined value.
	labelDim := map[string]Dim{}
	dimFor := func(label string) Dim {
		if label == "" {
			return e.freshDimVar("")
		}
		if d, ok := labelDim[label]; ok {
			return d
		}
		d := Dim(e.freshDimVar(label))
		labelDim[label] = d
		return d
	}

	// ellipsisRow mirrors labelDim for "..." anchors: a row made of nothing
	// but an ellipsis has no label to key off of, so without a shared
	// memo each slot would unify against its own fresh, content-free
	// Broadcastable row and a bare-row-variable lhs would never learn the
	// batch shape any operand actually carries.
	ellipsisRow := map[AxisKind]*Row{}

	stepUF := index.NewUnionFind()
	for _, slot := range slots {
		for _, k := range Kinds {
			labels := rowOf(slot.parsed, k)

			var target *Row
			var namedPositions []string
			pureEllipsis := len(labels) == 1 && labels[0].Ellipsis
			if pureEllipsis {
				cur, ok := ellipsisRow[k]
				if !ok {
					cur = &Row{Constraint: Unconstrained{}, Term: Broadcastable{}}
					ellipsisRow[k] = cur
				}
				target = cur
			} else {
				target, namedPositions = e.targetRow(labels, dimFor)
			}

			unified, uerr := e.UnifyRows(stepUF, slot.shape.Row(k), target)
			if uerr != nil {
				return withShapeTrace(uerr.WithFrame("Einsum "+spec+" / "+k.String()+" row"), slot.shape)
			}
			slot.shape.Rows[k] = unified

			if pureEllipsis {
				ellipsisRow[k] = unified
				continue
			}

			// Propagate resolved dims for every named (non-placeholder,
			// non-ellipsis) label back into labelDim, using suffix
			// alignment: the target's own Dims occupy the rightmost
			// len(target.Dims) positions of the unified row.
			offset := len(unified.Dims) - len(target.Dims)
			for relIdx, name := range namedPositions {
				if name == "" {
					continue
				}
				labelDim[name] = unified.Dims[offset+relIdx]
			}
		}
	}
	return nil
}

func rowOf(p ParsedSpec, k AxisKind) []AxisLabel {
	switch k {
	case Batch:
		return p.Batch
	case Input:
		return p.Input
	default:
		return p.Output
	}
}

// targetRow builds the Row a parsed label list stands for: one dim per
// non-ellipsis label (sharing Dims across slots via dimFor), and returns
// the label name aligned with each position of the resulting Dims slice
// (empty string for placeholders) so the caller can propagate resolved
// values back. A leading/trailing "..." makes the row Broadcastable
// instead of Fixed.
func (e *Engine) targetRow(labels []AxisLabel, dimFor func(string) Dim) (*Row, []string) {
	term := Terminator(Fixed{})
	dims := make([]Dim, 0, len(labels))
	names := make([]string, 0, len(labels))
	for _, l := range labels {
		switch {
		case l.Ellipsis:
			rv := e.freshRowVar()
			e.MarkBroadcastRowVar(rv.V)
			term = Broadcastable{}
		case l.Placeholder:
			dims = append(dims, dimFor(""))
			names = append(names, "")
		default:
			dims = append(dims, dimFor(l.Name))
			names = append(names, l.Name)
		}
	}
	return &Row{Dims: dims, Constraint: Unconstrained{}, Term: term}, names
}
