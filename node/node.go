// Package node implements the tensor node of §3: a process-wide,
// never-freed-mid-session identity with a precision, a lazily-resolved
// shape, an optional host buffer, and a memory mode that may only ever
// move towards a less restrictive terminal value.
package node

import (
	"fmt"

	"github.com/arbor-ml/arbor/arborerr"
	"github.com/arbor-ml/arbor/precision"
	"github.com/arbor-ml/arbor/shape"
)

// MemoryMode ranks a tensor's storage commitment from most to least
// restrictive. Once set to a terminal (non-Unset) value, SetMode refuses
// any transition that would move to a lower rank — §3's "once the memory
// mode is set to a terminal value, it may not be lowered to a more
// restrictive one".
type MemoryMode int

const (
	ModeUnset MemoryMode = iota
	// ModeVirtual: writes are always inlined at read sites; never
	// allocated on host or device.
	ModeVirtual
	// ModeDeviceOnly: materialized, but never copied to the host (saves
	// PCIe traffic for parameters that only ever feed other device ops).
	ModeDeviceOnly
	// ModeHosted: the host sees a buffer after forward/grad_update.
	ModeHosted
)

func (m MemoryMode) String() string {
	switch m {
	case ModeUnset:
		return "unset"
	case ModeVirtual:
		return "virtual"
	case ModeDeviceOnly:
		return "device-only"
	case ModeHosted:
		return "hosted"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Allocator hands out fresh tensor ids; *session.Session satisfies this
// via NextTensorID, kept narrow so node does not import session.
type Allocator interface {
	NextTensorID() int64
}

// Node is a tensor node: identity, precision, lazy dims (via Shape,
// filled in by shape inference), label, an optional host-resident
// buffer, a memory mode, and differentiation bookkeeping. Backend
// bookkeeping (device-resident buffers, compiled kernels) lives on the
// owning backend.Context, never here, per §3's ownership rules.
type Node struct {
	ID        int64
	Precision precision.Precision
	Shape     *shape.Shape
	Label     string
	Buffer    *precision.Buffer

	// Grad is the gradient tensor node for this value, non-nil iff this
	// node is differentiable. Literal nodes (compile-time constants) and
	// pure intermediates created only for bookkeeping have Grad == nil.
	Grad *Node
	// Literal marks a tensor whose value never changes across steps
	// (excluded from SGD's parameter collection even if it has a Grad).
	Literal bool

	// DistributesOverSum records whether the accum/op pattern that last
	// wrote this node distributes accumulation over the elementwise op
	// (Accum==Add, Op==Mul — the textbook "sum of products" shape),
	// consulted by passes that decide whether a Fetch may legally be
	// lifted out of a summation. See §4.E.
	DistributesOverSum bool

	mode MemoryMode
}

// New allocates a tensor node with a fresh id and the given precision and
// shape (shape may be nil for scalars created before a Shape graph node
// is attached).
func New(alloc Allocator, p precision.Precision, shp *shape.Shape, label string) *Node {
	return &Node{ID: alloc.NextTensorID(), Precision: p, Shape: shp, Label: label}
}

// Mode reports the current memory mode (ModeUnset if never assigned).
func (n *Node) Mode() MemoryMode { return n.mode }

// SetMode assigns m, enforcing the monotonic-restriction invariant: once
// n.mode is a terminal (non-Unset) value, m must not rank lower.
func (n *Node) SetMode(m MemoryMode) error {
	if n.mode != ModeUnset && m < n.mode {
		return arborerr.Invariant(
			"node %d (%q): cannot lower memory mode from %s to %s", n.ID, n.Label, n.mode, m)
	}
	if m == ModeVirtual && n.Buffer != nil {
		return arborerr.Invariant(
			"node %d (%q): virtual tensors never acquire a buffer", n.ID, n.Label)
	}
	n.mode = m
	return nil
}

// HostSizeKnown reports whether this node already has a user-supplied
// host buffer (size > 0) — such a tensor is forced non-virtual per §4.F
// pass 1 ("A tensor whose size on host is > 0 ... is forced non-virtual").
func (n *Node) HostSizeKnown() bool { return n.Buffer != nil && n.Buffer.Size() > 0 }

// SetBuffer attaches a host-resident buffer, checking it against the
// node's inferred shape (when known) and refusing to attach one to a
// virtual tensor.
func (n *Node) SetBuffer(b *precision.Buffer) error {
	if n.mode == ModeVirtual {
		return arborerr.Invariant("node %d (%q): virtual tensors never acquire a buffer", n.ID, n.Label)
	}
	if n.Shape != nil {
		if dims, err := n.Shape.ToDims(); err == nil {
			if !equalInts(dims, b.Dims()) {
				return arborerr.Invariant(
					"node %d (%q): buffer dims %v do not match inferred shape %v", n.ID, n.Label, b.Dims(), dims)
			}
		}
	}
	n.Buffer = b
	return nil
}

// IsParameter reports whether n is a leaf tensor eligible for SGD: it has
// a gradient and is not a literal constant.
func (n *Node) IsParameter() bool { return n.Grad != nil && !n.Literal }

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
