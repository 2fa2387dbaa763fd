package cuda

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arbor-ml/arbor/arborerr"
	"github.com/arbor-ml/arbor/backend"
	"github.com/arbor-ml/arbor/index"
	"github.com/arbor-ml/arbor/llir"
	"github.com/arbor-ml/arbor/node"
	"github.com/arbor-ml/arbor/ops"
)

// fakeCtx/fakeDriver let the Backend's plumbing (device lookup, context
// adaptation, error propagation) be exercised without a real GPU, the
// same way cpujit_test.go exercises cpujit.Backend without a toolchain.
type fakeCtx struct{ o int }

func (f fakeCtx) ordinal() int { return f.o }

type fakeKernel struct{ ran *bool }

func (k fakeKernel) Launch() error { *k.ran = true; return nil }

type fakeDriver struct{ ran *bool }

func (d fakeDriver) numDevices() int { return 2 }
func (d fakeDriver) deviceName(ordinal int) (string, *arborerr.Error) {
	return "fake-gpu", nil
}
func (d fakeDriver) newContext(ordinal int) (driverContext, *arborerr.Error) {
	return fakeCtx{o: ordinal}, nil
}
func (d fakeDriver) destroyContext(driverContext) *arborerr.Error { return nil }
func (d fakeDriver) compile(ctx driverContext, name string, code llir.Code) (kernel, *arborerr.Error) {
	return fakeKernel{ran: d.ran}, nil
}
func (d fakeDriver) copyToDevice(ctx driverContext, t *node.Node) (bool, *arborerr.Error) {
	return true, nil
}
func (d fakeDriver) copyFromDevice(ctx driverContext, t *node.Node) (bool, *arborerr.Error) {
	return true, nil
}
func (d fakeDriver) merge(t *node.Node, dst driverContext, accum ops.BinOp, src driverContext) (kernel, *arborerr.Error) {
	return fakeKernel{ran: d.ran}, nil
}
func (d fakeDriver) synchronize(driverContext) *arborerr.Error { return nil }

func TestCudaBackendRegistered(t *testing.T) {
	b, err := backend.New("cuda")
	require.Nil(t, err)
	require.Equal(t, "cuda", b.Name())
}

func TestCudaBackendRunsAgainstFakeDriver(t *testing.T) {
	ran := false
	b := &Backend{drv: fakeDriver{ran: &ran}}
	require.Nil(t, b.Initialize())
	require.Equal(t, 2, b.NumDevices())

	dev, derr := b.GetDevice(0)
	require.Nil(t, derr)
	ctx, ierr := b.Init(dev)
	require.Nil(t, ierr)

	compiled, cerr := b.Compile(ctx, "k", false, backend.Bindings{}, llir.Comment{Msg: "noop"})
	require.Nil(t, cerr)
	w, werr := compiled.Schedule()
	require.Nil(t, werr)
	require.NoError(t, w.Run())
	require.True(t, ran)
}

func TestCudaGenerateCUDARendersKernel(t *testing.T) {
	x := &node.Node{ID: 1, Label: "x"}
	sym := index.Symbol{ID: 1, Label: "i"}
	code := llir.ForLoop{
		Index: sym, From: 0, To: 4,
		Body: llir.Set{Ptr: x, Idcs: []index.AxisIndex{index.Iterator{Sym: sym}}, Expr: llir.Constant{C: 1}},
	}
	src, err := GenerateCUDA("fill", code)
	require.Nil(t, err)
	require.Contains(t, src, "__global__ void fill")
	require.Contains(t, src, "buf_1[i_i] = 1;")
}
