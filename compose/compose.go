// Package compose implements component I: the assignment composer that
// turns an already-built forward/backward pair of HL programs into a full
// training-step block (loss forward, gradient zeroing, seed gradient,
// backprop) and composes SGD update assignments over the collected
// parameters, per §4.I. It never builds the forward/backward IR itself
// (the differentiation builder that does that is an explicit Non-goal,
// §1) — callers hand it the already-assembled fwd/bprop hlir.Code.
package compose

import (
	"github.com/arbor-ml/arbor/arborerr"
	"github.com/arbor-ml/arbor/hlir"
	"github.com/arbor-ml/arbor/index"
	"github.com/arbor-ml/arbor/node"
	"github.com/arbor-ml/arbor/ops"
	"github.com/arbor-ml/arbor/precision"
	"github.com/arbor-ml/arbor/shape"
)

// Allocator is the narrow capability compose needs from a session: fresh
// tensor/shape ids for the scratch tensors SGD introduces (velocity,
// per-parameter delta) and fresh symbols for their projections.
type Allocator interface {
	node.Allocator
	index.Allocator
	NextShapeID() int64
}

// elementwiseBinop builds an AccumBinop whose Projections thunk derives a
// plain elementwise plan (lhs and both rhs share lhs's shape) the first
// time it's invoked, caching nothing — shape inference for these scratch
// assignments is always already fully resolved at composition time since
// SGD only ever operates on parameters whose shape inference already ran
// during the forward pass.
func elementwiseBinop(alloc Allocator, zeroOut bool, accum, op ops.BinOp, lhs, rhs1, rhs2 *node.Node) hlir.AccumBinop {
	return hlir.AccumBinop{
		ZeroOut: zeroOut,
		Accum:   accum,
		Op:      op,
		LHS:     lhs,
		RHS1:    rhs1,
		RHS2:    rhs2,
		Projections: func() (*shape.Projections, error) {
			p, err := shape.DeriveProjections(alloc, lhs.Shape, []*shape.Shape{rhs1.Shape, rhs2.Shape}, "sgd")
			if err != nil {
				return nil, err
			}
			return p, nil
		},
	}
}

func elementwiseUnop(alloc Allocator, zeroOut bool, accum ops.BinOp, op ops.UnOp, lhs, rhs *node.Node) hlir.AccumUnop {
	return hlir.AccumUnop{
		ZeroOut: zeroOut,
		Accum:   accum,
		Op:      op,
		LHS:     lhs,
		RHS:     rhs,
		Projections: func() (*shape.Projections, error) {
			p, err := shape.DeriveProjections(alloc, lhs.Shape, []*shape.Shape{rhs.Shape}, "sgd")
			if err != nil {
				return nil, err
			}
			return p, nil
		},
	}
}

// literal creates a scalar tensor node pre-loaded with c via a Fetch,
// standing in for the bare float operands the spec's textbook SGD formula
// uses (AccumBinop/AccumUnop only ever take tensor operands, §3).
// literal creates a scalar tensor node pre-loaded with c via a Fetch,
// standing in for the bare float operands the spec's textbook SGD formula
// uses (AccumBinop/AccumUnop only ever take tensor operands, §3). It is
// always Double precision regardless of the parameter's own precision
// since it holds a single host-supplied coefficient and ops.BinOp.Apply
// always widens through float64 anyway.
func literal(alloc Allocator, label string, c float64) (*node.Node, hlir.Code) {
	n := node.New(alloc, precision.Double, nil, label)
	n.Literal = true
	return n, hlir.Fetch{Target: n, Op: hlir.ConstantFetch{C: c}}
}

// GradResult is the training-step program GradUpdate builds, plus the
// parameter tensors it discovered by walking fwd/bprop.
type GradResult struct {
	Code   hlir.Code
	Params []*node.Node
}

// GradUpdate implements §4.I's grad_update(loss): asserts loss is
// differentiable, marks its value hosted (so the host sees the loss after
// each step), collects parameters referenced by fwd/bprop (leaf tensors
// with a gradient that aren't literals), optionally marks them
// device-only (materialized for parallel setup, §4.I/§3's memory-mode
// invariant), and emits
//
//	[loss fwd, zero_grads, init_grad = 1, bprop]
//
// under block comments matching the names §4.I uses.
func GradUpdate(loss *node.Node, fwd, bprop hlir.Code, markParamsDeviceOnly bool) (*GradResult, *arborerr.Error) {
	if loss.Grad == nil {
		return nil, arborerr.User("grad_update: loss tensor %d (%q) is not differentiable", loss.ID, loss.Label)
	}
	if err := loss.SetMode(node.ModeHosted); err != nil {
		return nil, arborerr.Userf(err, "grad_update: loss tensor %d", loss.ID)
	}

	params := collectParams(fwd, bprop)
	if markParamsDeviceOnly {
		for _, p := range params {
			if err := p.SetMode(node.ModeDeviceOnly); err != nil {
				return nil, arborerr.Userf(err, "grad_update: parameter %d (%q)", p.ID, p.Label)
			}
		}
	}

	var zeroGrads []hlir.Code
	for _, p := range params {
		zeroGrads = append(zeroGrads, hlir.Fetch{Target: p.Grad, Op: hlir.ConstantFetch{C: 0}})
	}

	code := hlir.Sequential([]hlir.Code{
		hlir.WithBlockComment("loss fwd", fwd),
		hlir.WithBlockComment("zero_grads", hlir.AllParallel(zeroGrads)),
		hlir.WithBlockComment("init_grad", hlir.Fetch{Target: loss.Grad, Op: hlir.ConstantFetch{C: 1}}),
		hlir.WithBlockComment("bprop", bprop),
	})

	return &GradResult{Code: code, Params: params}, nil
}

// Forward implements §4.I's forward(t): marks t hosted so the host sees
// the result of running code, wrapping code under a "forward" block
// comment the way GradUpdate labels its own blocks.
func Forward(t *node.Node, code hlir.Code) (hlir.Code, *arborerr.Error) {
	if err := t.SetMode(node.ModeHosted); err != nil {
		return nil, arborerr.Userf(err, "forward: tensor %d (%q)", t.ID, t.Label)
	}
	return hlir.WithBlockComment("forward", code), nil
}

// collectParams walks code collecting every tensor node referenced by an
// AccumBinop/AccumUnop/Fetch, deduplicating by id and keeping only
// IsParameter() nodes (has a gradient, not a literal) — §4.I's "collects
// parameters (leaf tensors with a gradient and not literal)".
func collectParams(codes ...hlir.Code) []*node.Node {
	seen := map[int64]bool{}
	var out []*node.Node
	add := func(n *node.Node) {
		if n == nil || seen[n.ID] || !n.IsParameter() {
			return
		}
		seen[n.ID] = true
		out = append(out, n)
	}
	var walk func(c hlir.Code)
	walk = func(c hlir.Code) {
		switch v := c.(type) {
		case hlir.Par:
			walk(v.Left)
			walk(v.Right)
		case hlir.ParHint:
			walk(v.Left)
			walk(v.Right)
		case hlir.Seq:
			walk(v.Left)
			walk(v.Right)
		case hlir.BlockComment:
			walk(v.Body)
		case hlir.AccumBinop:
			add(v.LHS)
			add(v.RHS1)
			add(v.RHS2)
		case hlir.AccumUnop:
			add(v.LHS)
			add(v.RHS)
		case hlir.Fetch:
			add(v.Target)
			if s, ok := v.Op.(hlir.SyntheticFetch); ok {
				walk(s.Code)
			}
		}
	}
	for _, c := range codes {
		walk(c)
	}
	return out
}
