// Package cpujit implements component G1: the CPU backend that renders
// optimized low-level IR to C (validated via modernc.org/cc/v4, formatted
// via klauspost/asmfmt for debug artifacts) and executes it by
// interpreting the same IR directly against process-local tensor buffers,
// delegating matmul to the teacher's Metal/StdEng-backed engine via the
// Staged-compilation path.
package cpujit

import (
	"sync"

	"github.com/arbor-ml/arbor/arborerr"
	"github.com/arbor-ml/arbor/backend"
	"github.com/arbor-ml/arbor/debugdump"
	"github.com/arbor-ml/arbor/llir"
	"github.com/arbor-ml/arbor/node"
	"github.com/arbor-ml/arbor/ops"
	"github.com/arbor-ml/arbor/session"
)

func init() {
	backend.Register("cpu-jit", func() backend.Backend { return New() })
}

// Backend implements backend.Backend for a single-process, any-OS CPU
// target. Every Context is an independent buffer table; there is exactly
// one logical device unless the caller asks for more (useful for testing
// the multi-device scheduler without real hardware).
type Backend struct {
	mu          sync.Mutex
	initialized bool
	numDevices  int
	contexts    map[int]*Context
}

// New constructs a cpu-jit backend with one logical device. Callers that
// want to exercise the multi-device scheduler's round-robin path against
// plain CPU contexts can call NewN instead.
func New() *Backend { return NewN(1) }

// NewN constructs a cpu-jit backend with n logical devices.
func NewN(n int) *Backend {
	return &Backend{numDevices: n, contexts: map[int]*Context{}}
}

func (b *Backend) Name() string { return "cpu-jit" }

func (b *Backend) Initialize() *arborerr.Error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.initialized = true
	return nil
}

func (b *Backend) IsInitialized() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.initialized
}

func (b *Backend) UnsafeCleanup() *arborerr.Error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.initialized = false
	b.contexts = map[int]*Context{}
	return nil
}

func (b *Backend) Init(device backend.Device) (backend.Context, *arborerr.Error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ctx := newContext(device)
	b.contexts[device.Ordinal] = ctx
	return ctx, nil
}

func (b *Backend) Finalize(ctx backend.Context) *arborerr.Error {
	c, ok := ctx.(*Context)
	if !ok {
		return arborerr.Invariant("cpujit: Finalize called with a foreign context")
	}
	b.mu.Lock()
	delete(b.contexts, c.device.Ordinal)
	b.mu.Unlock()
	return nil
}

// Compile renders code to C for the debug-artifact/validation path, then
// returns a Compiled whose Schedule produces a Work that interprets code
// directly. name is used in compile-error messages and the debug-artifact
// file name; verbose is accepted for interface compatibility and has no
// effect on this backend.
func (b *Backend) Compile(ctx backend.Context, name string, verbose bool, bindings backend.Bindings, code llir.Code) (*backend.Compiled, *arborerr.Error) {
	c, ok := ctx.(*Context)
	if !ok {
		return nil, arborerr.Invariant("cpujit: Compile called with a foreign context")
	}

	src, err := generateC(name, code)
	if err != nil {
		return nil, err
	}
	if verr := validateC(name, src); verr != nil {
		return nil, verr
	}
	if _, ferr := formatC(src); ferr != nil {
		return nil, ferr
	}
	if derr := debugdump.WriteLLOptimized(session.Default(), ".", name, code); derr != nil {
		return nil, derr
	}

	return backend.NewCompiled(c, bindings, func() (backend.Work, *arborerr.Error) {
		return work(func() *arborerr.Error { return eval(c, code, bindings) }), nil
	}), nil
}

// work adapts a plain closure to backend.Work.
type work func() *arborerr.Error

func (w work) Run() error {
	if err := w(); err != nil {
		return err
	}
	return nil
}

// FromHost copies t's host buffer into ctx, provided t is hosted and
// already has a buffer allocated within ctx (from a prior Compile).
func (b *Backend) FromHost(ctx backend.Context, t *node.Node) (bool, *arborerr.Error) {
	c, ok := ctx.(*Context)
	if !ok {
		return false, arborerr.Invariant("cpujit: FromHost called with a foreign context")
	}
	if t.Buffer == nil {
		return false, nil
	}
	buf, ok := c.buffers[t.ID]
	if !ok {
		return false, nil
	}
	n := t.Buffer.Size()
	for i := 0; i < n; i++ {
		idx := unravelFlat(i, t.Buffer.Dims())
		v, gerr := t.Buffer.GetAsFloat(idx)
		if gerr != nil {
			return false, arborerr.Runtime(t.Label, idx, "")
		}
		if serr := buf.SetFromFloat(idx, v); serr != nil {
			return false, arborerr.Runtime(t.Label, idx, "")
		}
	}
	return true, nil
}

// ToHost copies ctx's buffer for t into t's host buffer, provided t is
// hosted and has a buffer allocated within ctx.
func (b *Backend) ToHost(ctx backend.Context, t *node.Node) (bool, *arborerr.Error) {
	c, ok := ctx.(*Context)
	if !ok {
		return false, arborerr.Invariant("cpujit: ToHost called with a foreign context")
	}
	if t.Buffer == nil {
		return false, nil
	}
	buf, ok := c.buffers[t.ID]
	if !ok {
		return false, nil
	}
	n := buf.Size()
	for i := 0; i < n; i++ {
		idx := unravelFlat(i, buf.Dims())
		v, gerr := buf.GetAsFloat(idx)
		if gerr != nil {
			return false, arborerr.Runtime(t.Label, idx, "")
		}
		if serr := t.Buffer.SetFromFloat(idx, v); serr != nil {
			return false, arborerr.Runtime(t.Label, idx, "")
		}
	}
	return true, nil
}

func unravelFlat(off int, dims []int) []int {
	coords := make([]int, len(dims))
	for i := len(dims) - 1; i >= 0; i-- {
		coords[i] = off % dims[i]
		off /= dims[i]
	}
	return coords
}

// Merge implements dst = dst accum src in-process: since every cpu-jit
// context lives in the same address space, merge is a direct cell-wise
// fold rather than a compiled kernel — but it still returns a *Compiled
// so callers (the scheduler) never special-case this backend.
func (b *Backend) Merge(t *node.Node, dstCtx backend.Context, accum ops.BinOp, srcCtx backend.Context, nameSuffix string) (*backend.Compiled, *arborerr.Error) {
	dst, ok := dstCtx.(*Context)
	if !ok {
		return nil, arborerr.Invariant("cpujit: Merge called with a foreign dst context")
	}
	src, ok := srcCtx.(*Context)
	if !ok {
		return nil, arborerr.Invariant("cpujit: Merge called with a foreign src context")
	}
	return backend.NewCompiled(dst, nil, func() (backend.Work, *arborerr.Error) {
		return work(func() *arborerr.Error { return mergeBuffers(t, dst, accum, src) }), nil
	}), nil
}

func mergeBuffers(t *node.Node, dst *Context, accum ops.BinOp, src *Context) *arborerr.Error {
	dstBuf, err := dst.bufferFor(t)
	if err != nil {
		return arborerr.Invariant("cpujit: merge %q: %v", t.Label, err)
	}
	srcBuf, err := src.bufferFor(t)
	if err != nil {
		return arborerr.Invariant("cpujit: merge %q: %v", t.Label, err)
	}
	n := dstBuf.Size()
	for i := 0; i < n; i++ {
		idx := unravelFlat(i, dstBuf.Dims())
		dv, derr := dstBuf.GetAsFloat(idx)
		if derr != nil {
			return arborerr.Runtime(t.Label, idx, "")
		}
		sv, serr := srcBuf.GetAsFloat(idx)
		if serr != nil {
			return arborerr.Runtime(t.Label, idx, "")
		}
		if err := dstBuf.SetFromFloat(idx, accum.Apply(dv, sv)); err != nil {
			return arborerr.Runtime(t.Label, idx, "")
		}
	}
	return nil
}

func (b *Backend) Await(device backend.Device) *arborerr.Error {
	// The interpreter runs synchronously within Run(); there is nothing
	// in flight by the time Schedule returns, so Await is a no-op.
	return nil
}

func (b *Backend) NumDevices() int { return b.numDevices }

func (b *Backend) GetDevice(ordinal int) (backend.Device, *arborerr.Error) {
	if ordinal < 0 || ordinal >= b.numDevices {
		return backend.Device{}, arborerr.User("cpujit: device ordinal %d out of range [0,%d)", ordinal, b.numDevices)
	}
	return backend.Device{Ordinal: ordinal, Name: "cpu"}, nil
}

func (b *Backend) GetCtxDevice(ctx backend.Context) backend.Device { return ctx.Device() }

func (b *Backend) ToOrdinal(device backend.Device) int { return device.Ordinal }
