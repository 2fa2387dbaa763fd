package cpujit

import (
	"github.com/arbor-ml/arbor/backend"
	"github.com/arbor-ml/arbor/node"
	"github.com/arbor-ml/arbor/precision"
)

// Context is the cpu-jit backend's per-device compilation unit. There is
// no real device isolation on CPU — each Context just owns its own
// tensor-buffer table, the way a separate process context would own
// separate device memory.
type Context struct {
	device  backend.Device
	buffers map[int64]*precision.Buffer
}

func newContext(d backend.Device) *Context {
	return &Context{device: d, buffers: map[int64]*precision.Buffer{}}
}

func (c *Context) Device() backend.Device { return c.device }

// bufferFor returns t's buffer within this context, materializing one
// from t's shape on first reference, whatever t's memory mode.
func (c *Context) bufferFor(t *node.Node) (*precision.Buffer, error) {
	if b, ok := c.buffers[t.ID]; ok {
		return b, nil
	}
	dims, err := t.Shape.ToDims()
	if err != nil {
		return nil, err
	}
	b, err := precision.Create(t.Precision, dims, nil)
	if err != nil {
		return nil, err
	}
	c.buffers[t.ID] = b
	return b, nil
}
