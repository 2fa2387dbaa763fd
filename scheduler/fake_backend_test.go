package scheduler

import (
	"sync"

	"github.com/arbor-ml/arbor/arborerr"
	"github.com/arbor-ml/arbor/backend"
	"github.com/arbor-ml/arbor/llir"
	"github.com/arbor-ml/arbor/node"
	"github.com/arbor-ml/arbor/ops"
)

// workFunc adapts a *arborerr.Error-returning closure to backend.Work.
type workFunc func() *arborerr.Error

func (w workFunc) Run() error {
	if err := w(); err != nil {
		return err
	}
	return nil
}

// fakeContext is an in-memory "device": a map from tensor id to a scalar
// float64 value, standing in for a real device buffer so tests can
// exercise the round-robin/merge/broadcast arithmetic without a real
// compiler.
type fakeContext struct {
	dev    backend.Device
	mu     sync.Mutex
	values map[int64]float64
}

func (c *fakeContext) Device() backend.Device { return c.dev }

func (c *fakeContext) get(id int64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values[id]
}

func (c *fakeContext) set(id int64, v float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[id] = v
}

// fakeBackend implements backend.Backend against fakeContext, with Merge
// building a kernel that applies accum.Apply(dst, src) to the scalar
// value map, and a test-only compileStep helper standing in for Compile so
// tests can install arbitrary per-device step logic.
type fakeBackend struct {
	devices  []backend.Device
	contexts []*fakeContext
}

func newFakeBackend(n int) *fakeBackend {
	b := &fakeBackend{}
	for i := 0; i < n; i++ {
		d := backend.Device{Ordinal: i, Name: "fake"}
		b.devices = append(b.devices, d)
		b.contexts = append(b.contexts, &fakeContext{dev: d, values: map[int64]float64{}})
	}
	return b
}

func (b *fakeBackend) Name() string                    { return "fake" }
func (b *fakeBackend) Initialize() *arborerr.Error      { return nil }
func (b *fakeBackend) IsInitialized() bool              { return true }
func (b *fakeBackend) UnsafeCleanup() *arborerr.Error   { return nil }
func (b *fakeBackend) Init(d backend.Device) (backend.Context, *arborerr.Error) {
	return b.contexts[d.Ordinal], nil
}
func (b *fakeBackend) Finalize(backend.Context) *arborerr.Error { return nil }

func (b *fakeBackend) Compile(ctx backend.Context, name string, verbose bool, bindings backend.Bindings, code llir.Code) (*backend.Compiled, *arborerr.Error) {
	return nil, arborerr.Invariant("fakeBackend: Compile is not used by scheduler tests; use compileStep")
}

func (b *fakeBackend) FromHost(ctx backend.Context, t *node.Node) (bool, *arborerr.Error) {
	if t.Buffer == nil {
		return false, nil
	}
	v, err := t.Buffer.GetAsFloat(nil)
	if err != nil {
		return false, arborerr.Invariant("fakeBackend: FromHost: %v", err)
	}
	ctx.(*fakeContext).set(t.ID, v)
	return true, nil
}

func (b *fakeBackend) ToHost(ctx backend.Context, t *node.Node) (bool, *arborerr.Error) {
	if t.Buffer == nil {
		return false, nil
	}
	v := ctx.(*fakeContext).get(t.ID)
	if err := t.Buffer.SetFromFloat(nil, v); err != nil {
		return false, arborerr.Invariant("fakeBackend: ToHost: %v", err)
	}
	return true, nil
}

func (b *fakeBackend) Merge(t *node.Node, dstCtx backend.Context, accum ops.BinOp, srcCtx backend.Context, nameSuffix string) (*backend.Compiled, *arborerr.Error) {
	dc, sc := dstCtx.(*fakeContext), srcCtx.(*fakeContext)
	return backend.NewCompiled(dstCtx, nil, func() (backend.Work, *arborerr.Error) {
		return workFunc(func() *arborerr.Error {
			dc.set(t.ID, accum.Apply(dc.get(t.ID), sc.get(t.ID)))
			return nil
		}), nil
	}), nil
}

func (b *fakeBackend) Await(backend.Device) *arborerr.Error { return nil }
func (b *fakeBackend) NumDevices() int                       { return len(b.devices) }
func (b *fakeBackend) GetDevice(ordinal int) (backend.Device, *arborerr.Error) {
	if ordinal < 0 || ordinal >= len(b.devices) {
		return backend.Device{}, arborerr.Invariant("fakeBackend: no device %d", ordinal)
	}
	return b.devices[ordinal], nil
}
func (b *fakeBackend) GetCtxDevice(ctx backend.Context) backend.Device { return ctx.Device() }
func (b *fakeBackend) ToOrdinal(d backend.Device) int                 { return d.Ordinal }

// compileStep wraps an arbitrary closure as a *backend.Compiled whose
// Schedule() always returns fresh Work running fn against ctx — the
// test-only stand-in for a real backend's Compile, used to install
// grad_update/sgd_update step logic directly on the fake context values.
func compileStep(ctx backend.Context, fn func(ctx *fakeContext)) *backend.Compiled {
	fc := ctx.(*fakeContext)
	return backend.NewCompiled(ctx, nil, func() (backend.Work, *arborerr.Error) {
		return workFunc(func() *arborerr.Error {
			fn(fc)
			return nil
		}), nil
	})
}
