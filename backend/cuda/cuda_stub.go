//go:build !linux || !cgo

package cuda

import (
	"github.com/arbor-ml/arbor/arborerr"
	"github.com/arbor-ml/arbor/llir"
	"github.com/arbor-ml/arbor/node"
	"github.com/arbor-ml/arbor/ops"
)

// stubDriver reports the CUDA backend unavailable on every call. Builds
// without linux+cgo cannot link gorgonia.org/cu's driver bindings, the
// same constraint that gives the teacher's mps package its
// engine_other.go stub.
type stubDriver struct{}

func newDriver() driver { return stubDriver{} }

func unavailable() *arborerr.Error {
	return arborerr.Invariant("cuda: backend unavailable (built without linux+cgo)")
}

func (stubDriver) numDevices() int { return 0 }

func (stubDriver) deviceName(ordinal int) (string, *arborerr.Error) {
	return "", unavailable()
}

func (stubDriver) newContext(ordinal int) (driverContext, *arborerr.Error) {
	return nil, unavailable()
}

func (stubDriver) destroyContext(driverContext) *arborerr.Error { return unavailable() }

func (stubDriver) compile(ctx driverContext, name string, code llir.Code) (kernel, *arborerr.Error) {
	return nil, unavailable()
}

func (stubDriver) copyToDevice(ctx driverContext, t *node.Node) (bool, *arborerr.Error) {
	return false, unavailable()
}

func (stubDriver) copyFromDevice(ctx driverContext, t *node.Node) (bool, *arborerr.Error) {
	return false, unavailable()
}

func (stubDriver) merge(t *node.Node, dst driverContext, accum ops.BinOp, src driverContext) (kernel, *arborerr.Error) {
	return nil, unavailable()
}

func (stubDriver) synchronize(driverContext) *arborerr.Error { return unavailable() }
