//go:build linux && cgo

package cuda

import (
	"fmt"
	"sync"

	"gorgonia.org/cu"

	"github.com/arbor-ml/arbor/arborerr"
	"github.com/arbor-ml/arbor/debugdump"
	"github.com/arbor-ml/arbor/llir"
	"github.com/arbor-ml/arbor/node"
	"github.com/arbor-ml/arbor/ops"
	"github.com/arbor-ml/arbor/session"
)

// cuDriver backs the driver interface with gorgonia.org/cu's CUDA driver
// bindings. Device enumeration and context lifecycle are real driver
// calls; kernel compile and launch need an NVRTC toolchain this module
// does not ship (see cuda.go's package doc and DESIGN.md), so compile
// renders a real .cu source for the debug-artifact path and reports the
// launch step unavailable rather than guessing at a PTX it cannot
// produce.
type cuDriver struct {
	mu sync.Mutex
}

func newDriver() driver { return &cuDriver{} }

func (d *cuDriver) numDevices() int {
	n, err := cu.NumDevices()
	if err != nil {
		return 0
	}
	return n
}

func (d *cuDriver) deviceName(ordinal int) (string, *arborerr.Error) {
	dev := cu.Device(ordinal)
	name, err := dev.Name()
	if err != nil {
		return "", arborerr.Userf(err, "cuda: device %d name", ordinal)
	}
	return name, nil
}

type cuContext struct {
	ordinalN int
	ctx      *cu.Ctx
}

func (c *cuContext) ordinal() int { return c.ordinalN }

func (d *cuDriver) newContext(ordinal int) (driverContext, *arborerr.Error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	dev := cu.Device(ordinal)
	ctx, err := dev.MakeContext(cu.SchedAuto)
	if err != nil {
		return nil, arborerr.Userf(err, "cuda: MakeContext on device %d", ordinal)
	}
	return &cuContext{ordinalN: ordinal, ctx: ctx}, nil
}

func (d *cuDriver) destroyContext(dc driverContext) *arborerr.Error {
	c, ok := dc.(*cuContext)
	if !ok {
		return arborerr.Invariant("cuda: destroyContext called with a foreign context")
	}
	if err := c.ctx.Destroy(); err != nil {
		return arborerr.Userf(err, "cuda: context destroy")
	}
	return nil
}

// compile renders code as CUDA C (reusing the same s-expression-free
// tree shape as the cpu-jit renderer would, specialized with a
// __global__ entry point) for the debug-artifact contract, then reports
// that launching it needs an NVRTC compile step this build does not
// perform.
func (d *cuDriver) compile(ctx driverContext, name string, code llir.Code) (kernel, *arborerr.Error) {
	if _, ok := ctx.(*cuContext); !ok {
		return nil, arborerr.Invariant("cuda: compile called with a foreign context")
	}
	src, err := generateCUDA(name, code)
	if err != nil {
		return nil, err
	}
	if derr := debugdump.WriteCUDAArtifacts(session.Default(), ".", name, src, "", ""); derr != nil {
		return nil, derr
	}
	return nil, arborerr.Compile(name, fmt.Errorf("cuda: kernel launch requires an NVRTC toolchain not available in this build"))
}

func (d *cuDriver) copyToDevice(ctx driverContext, t *node.Node) (bool, *arborerr.Error) {
	c, ok := ctx.(*cuContext)
	if !ok {
		return false, arborerr.Invariant("cuda: copyToDevice called with a foreign context")
	}
	_ = c
	if t.Buffer == nil {
		return false, nil
	}
	return false, arborerr.Compile("copyToDevice", fmt.Errorf("cuda: device memory staging requires a live GPU, none available"))
}

func (d *cuDriver) copyFromDevice(ctx driverContext, t *node.Node) (bool, *arborerr.Error) {
	c, ok := ctx.(*cuContext)
	if !ok {
		return false, arborerr.Invariant("cuda: copyFromDevice called with a foreign context")
	}
	_ = c
	if t.Buffer == nil {
		return false, nil
	}
	return false, arborerr.Compile("copyFromDevice", fmt.Errorf("cuda: device memory staging requires a live GPU, none available"))
}

func (d *cuDriver) merge(t *node.Node, dst driverContext, accum ops.BinOp, src driverContext) (kernel, *arborerr.Error) {
	return nil, arborerr.Compile("merge", fmt.Errorf("cuda: cross-device merge kernel requires a live GPU, none available"))
}

func (d *cuDriver) synchronize(dc driverContext) *arborerr.Error {
	c, ok := dc.(*cuContext)
	if !ok {
		return arborerr.Invariant("cuda: synchronize called with a foreign context")
	}
	if err := cu.Synchronize(); err != nil {
		return arborerr.Userf(err, "cuda: synchronize on device %d", c.ordinalN)
	}
	return nil
}
