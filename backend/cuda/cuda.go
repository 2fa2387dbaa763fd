// Package cuda implements component G2: the GPU backend. Device
// enumeration, context creation and synchronization are thin wrappers
// over gorgonia.org/cu's driver bindings; compile renders CUDA C source
// but reports kernel launch, host<->device copies and merge as
// unavailable (no NVRTC toolchain is wired in). The layout mirrors the
// teacher's darwin/non-darwin cgo split (mps/engine_darwin.go /
// engine_other.go) as cuda_linux.go (cgo + gorgonia.org/cu) / cuda_stub.go
// (no cgo, or non-linux: returns "backend unavailable").
package cuda

import (
	"sync"

	"github.com/arbor-ml/arbor/arborerr"
	"github.com/arbor-ml/arbor/backend"
	"github.com/arbor-ml/arbor/llir"
	"github.com/arbor-ml/arbor/node"
	"github.com/arbor-ml/arbor/ops"
)

func init() {
	backend.Register("cuda", func() backend.Backend { return New() })
}

// Backend implements backend.Backend for CUDA devices. Device lifecycle
// and kernel execution are delegated to the platform-specific driver
// (newDriver, defined in cuda_linux.go/cuda_stub.go) so this file carries
// no build tag.
type Backend struct {
	mu          sync.Mutex
	initialized bool
	drv         driver
}

// driver is the narrow platform-specific surface this package needs from
// gorgonia.org/cu: device enumeration, context lifecycle, kernel
// compile+launch, and host<->device copies. cuda_linux.go implements it
// for real; cuda_stub.go reports every call as unavailable.
type driver interface {
	numDevices() int
	deviceName(ordinal int) (string, *arborerr.Error)
	newContext(ordinal int) (driverContext, *arborerr.Error)
	destroyContext(driverContext) *arborerr.Error
	compile(ctx driverContext, name string, code llir.Code) (kernel, *arborerr.Error)
	copyToDevice(ctx driverContext, t *node.Node) (bool, *arborerr.Error)
	copyFromDevice(ctx driverContext, t *node.Node) (bool, *arborerr.Error)
	merge(t *node.Node, dst driverContext, accum ops.BinOp, src driverContext) (kernel, *arborerr.Error)
	synchronize(ctx driverContext) *arborerr.Error
}

type driverContext interface{ ordinal() int }

// kernel is a compiled, launchable unit the platform driver hands back;
// Launch enqueues it on its owning context's stream.
type kernel interface {
	Launch() error
}

// Context adapts a driverContext to backend.Context.
type Context struct {
	dc  driverContext
	dev backend.Device
}

func (c *Context) Device() backend.Device { return c.dev }

func New() *Backend { return &Backend{drv: newDriver()} }

func (b *Backend) Name() string { return "cuda" }

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
	return nil
}

func (b *Backend) Init(device backend.Device) (backend.Context, *arborerr.Error) {
	dc, err := b.drv.newContext(device.Ordinal)
	if err != nil {
		return nil, err
	}
	return &Context{dc: dc, dev: device}, nil
}

func (b *Backend) Finalize(ctx backend.Context) *arborerr.Error {
	c, ok := ctx.(*Context)
	if !ok {
		return arborerr.Invariant("cuda: Finalize called with a foreign context")
	}
	return b.drv.destroyContext(c.dc)
}

func (b *Backend) Compile(ctx backend.Context, name string, verbose bool, bindings backend.Bindings, code llir.Code) (*backend.Compiled, *arborerr.Error) {
	c, ok := ctx.(*Context)
	if !ok {
		return nil, arborerr.Invariant("cuda: Compile called with a foreign context")
	}
	k, err := b.drv.compile(c.dc, name, code)
	if err != nil {
		return nil, err
	}
	return backend.NewCompiled(c, bindings, func() (backend.Work, *arborerr.Error) {
		return kernelWork{k}, nil
	}), nil
}

type kernelWork struct{ k kernel }

func (w kernelWork) Run() error { return w.k.Launch() }

func (b *Backend) FromHost(ctx backend.Context, t *node.Node) (bool, *arborerr.Error) {
	c, ok := ctx.(*Context)
	if !ok {
		return false, arborerr.Invariant("cuda: FromHost called with a foreign context")
	}
	if t.Buffer == nil {
		return false, nil
	}
	return b.drv.copyToDevice(c.dc, t)
}

func (b *Backend) ToHost(ctx backend.Context, t *node.Node) (bool, *arborerr.Error) {
	c, ok := ctx.(*Context)
	if !ok {
		return false, arborerr.Invariant("cuda: ToHost called with a foreign context")
	}
	if t.Buffer == nil {
		return false, nil
	}
	return b.drv.copyFromDevice(c.dc, t)
}

func (b *Backend) Merge(t *node.Node, dstCtx backend.Context, accum ops.BinOp, srcCtx backend.Context, nameSuffix string) (*backend.Compiled, *arborerr.Error) {
	dst, ok := dstCtx.(*Context)
	if !ok {
		return nil, arborerr.Invariant("cuda: Merge called with a foreign dst context")
	}
	src, ok := srcCtx.(*Context)
	if !ok {
		return nil, arborerr.Invariant("cuda: Merge called with a foreign src context")
	}
	k, err := b.drv.merge(t, dst.dc, accum, src.dc)
	if err != nil {
		return nil, err
	}
	return backend.NewCompiled(dst, nil, func() (backend.Work, *arborerr.Error) {
		return kernelWork{k}, nil
	}), nil
}

func (b *Backend) Await(device backend.Device) *arborerr.Error {
	dc, err := b.drv.newContext(device.Ordinal)
	if err != nil {
		return err
	}
	return b.drv.synchronize(dc)
}

func (b *Backend) NumDevices() int { return b.drv.numDevices() }

func (b *Backend) GetDevice(ordinal int) (backend.Device, *arborerr.Error) {
	if ordinal < 0 || ordinal >= b.drv.numDevices() {
		return backend.Device{}, arborerr.User("cuda: device ordinal %d out of range [0,%d)", ordinal, b.drv.numDevices())
	}
	name, err := b.drv.deviceName(ordinal)
	if err != nil {
		return backend.Device{}, err
	}
	return backend.Device{Ordinal: ordinal, Name: name}, nil
}

func (b *Backend) GetCtxDevice(ctx backend.Context) backend.Device { return ctx.Device() }

func (b *Backend) ToOrdinal(device backend.Device) int { return device.Ordinal }
