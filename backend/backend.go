// Package backend defines component G's backend-agnostic execution
// contract: process lifecycle, per-device contexts, compilation of
// optimized low-level IR into a schedulable work handle, host/device
// transfer, and cross-context merge.
package backend

import (
	"github.com/arbor-ml/arbor/arborerr"
	"github.com/arbor-ml/arbor/index"
	"github.com/arbor-ml/arbor/llir"
	"github.com/arbor-ml/arbor/node"
	"github.com/arbor-ml/arbor/ops"
)

// Device names one physical or logical execution unit a backend manages.
type Device struct {
	Ordinal int
	Name    string
}

// Context is a backend's per-device compilation/execution unit. Backends
// return their own concrete type satisfying this interface from Init.
type Context interface {
	Device() Device
}

// Work is the handle Compile/Merge return: Run enqueues the kernel on its
// context's device; it does not block (Await does).
type Work interface {
	Run() error
}

// Bindings is the set of mutable static index-binding cells a compiled
// kernel reads at launch, keyed by symbol id.
type Bindings map[int64]*int

// Compiled is the result of Compile/Merge: a context-bound kernel plus
// the binding cells the caller mutates between Schedule calls.
type Compiled struct {
	Context  Context
	Bindings Bindings
	schedule func() (Work, *arborerr.Error)
}

// Schedule enqueues a fresh Work handle for this compiled kernel's
// current binding values.
func (c *Compiled) Schedule() (Work, *arborerr.Error) { return c.schedule() }

// Backend is the interface every backend (cpu-jit, cuda) implements, per
// §4.G.
type Backend interface {
	// Name identifies this backend for the registry and for session's
	// narrow session.Backend marker.
	Name() string

	Initialize() *arborerr.Error
	IsInitialized() bool
	UnsafeCleanup() *arborerr.Error

	Init(device Device) (Context, *arborerr.Error)
	Finalize(ctx Context) *arborerr.Error

	// Compile ingests optimized LL IR plus static index bindings and
	// produces a compiled kernel bound to ctx. name is used for debug
	// artifacts and compile-error messages; verbose requests the
	// backend's own diagnostic output.
	Compile(ctx Context, name string, verbose bool, bindings Bindings, code llir.Code) (*Compiled, *arborerr.Error)

	// FromHost/ToHost copy a hosted tensor's buffer into/out of ctx,
	// returning false (not an error) for non-context or non-hosted
	// tensors so callers can iterate over every referenced tensor
	// uniformly.
	FromHost(ctx Context, t *node.Node) (bool, *arborerr.Error)
	ToHost(ctx Context, t *node.Node) (bool, *arborerr.Error)

	// Merge compiles (or returns a cached) kernel fusing
	// dst = dst accum src for t, pulling from srcCtx. nameSuffix
	// disambiguates the debug artifact name when called repeatedly for
	// the same tensor with different accum ops. A nil *Compiled with a
	// nil error means no merge kernel is available for this pair and the
	// caller must fall back to needed_on_host staging.
	Merge(t *node.Node, dstCtx Context, accum ops.BinOp, srcCtx Context, nameSuffix string) (*Compiled, *arborerr.Error)

	Await(device Device) *arborerr.Error
	NumDevices() int
	GetDevice(ordinal int) (Device, *arborerr.Error)
	GetCtxDevice(ctx Context) Device
	ToOrdinal(device Device) int
}

// NewCompiled is the constructor backend implementations use to build a
// *Compiled from their own schedule closure, keeping the schedule field
// unexported to outside packages.
func NewCompiled(ctx Context, bindings Bindings, schedule func() (Work, *arborerr.Error)) *Compiled {
	return &Compiled{Context: ctx, Bindings: bindings, schedule: schedule}
}

// BindingCell resolves the mutable integer cell for sym within bindings,
// the value a compiled kernel reads at launch for every Iterator-bound
// static index.
func BindingCell(bindings Bindings, sym index.Symbol) (*int, *arborerr.Error) {
	cell, ok := bindings[sym.ID]
	if !ok {
		return nil, arborerr.Invariant("backend: no binding cell for symbol %s", sym)
	}
	return cell, nil
}
