package compose

import (
	"fmt"

	"github.com/arbor-ml/arbor/arborerr"
	"github.com/arbor-ml/arbor/hlir"
	"github.com/arbor-ml/arbor/node"
	"github.com/arbor-ml/arbor/ops"
)

// SGDConfig is the textbook-SGD hyperparameter set §4.I names:
// `sgd_one(p; lr, momentum, weight_decay, nesterov)`.
type SGDConfig struct {
	LR          float64
	Momentum    float64
	WeightDecay float64
	Nesterov    bool
}

// SGDOne implements §4.I's sgd_one: creates a per-parameter delta tensor
// `pg` and, if Momentum > 0, a velocity tensor `b`, then emits the
// assignments in this order:
//
//  1. pg = grad(p)
//  2. pg += weight_decay * p           (if WeightDecay != 0)
//  3. b = momentum*b + pg; pg = nesterov ? pg + momentum*b : b  (if Momentum > 0)
//  4. p = p + (-lr) * pg
//
// Velocity tensors are assumed zero-initialized on first use (the
// assignment graph never special-cases step 0); callers that need a
// fresh run to start from zero momentum should allocate b's buffer
// zeroed, which is precision.Buffer's default.
func SGDOne(alloc Allocator, p *node.Node, cfg SGDConfig) (hlir.Code, *arborerr.Error) {
	if !p.IsParameter() {
		return nil, arborerr.User("sgd_one: tensor %d (%q) is not a parameter (no gradient, or marked literal)", p.ID, p.Label)
	}

	negLR, negLRCode := literal(alloc, fmt.Sprintf("sgd_neg_lr_%d", p.ID), -cfg.LR)

	pg := node.New(alloc, p.Precision, p.Shape, fmt.Sprintf("sgd_delta_%d", p.ID))
	steps := []hlir.Code{negLRCode}

	// pg = grad(p) (Arg2 overwrites pg outright, so no zero-fill needed)
	steps = append(steps, elementwiseUnop(alloc, false, ops.Arg2, ops.Identity, pg, p.Grad))

	if cfg.WeightDecay != 0 {
		wd, wdCode := literal(alloc, fmt.Sprintf("sgd_wd_%d", p.ID), cfg.WeightDecay)
		steps = append(steps, wdCode)
		// pg += weight_decay * p
		steps = append(steps, elementwiseBinop(alloc, false, ops.Add, ops.Mul, pg, wd, p))
	}

	if cfg.Momentum != 0 {
		mom, momCode := literal(alloc, fmt.Sprintf("sgd_momentum_%d", p.ID), cfg.Momentum)
		steps = append(steps, momCode)

		b := node.New(alloc, p.Precision, p.Shape, fmt.Sprintf("sgd_velocity_%d", p.ID))
		// b = momentum * b
		steps = append(steps, elementwiseBinop(alloc, false, ops.Arg2, ops.Mul, b, mom, b))
		// b = b + pg
		steps = append(steps, elementwiseBinop(alloc, false, ops.Add, ops.Arg1, b, pg, pg))

		if cfg.Nesterov {
			// pg = pg + momentum*b
			steps = append(steps, elementwiseBinop(alloc, false, ops.Add, ops.Mul, pg, mom, b))
		} else {
			// pg = b
			steps = append(steps, elementwiseUnop(alloc, false, ops.Arg2, ops.Identity, pg, b))
		}
	}

	// p = p + (-lr) * pg
	steps = append(steps, elementwiseBinop(alloc, false, ops.Add, ops.Mul, p, negLR, pg))

	return hlir.Sequential(steps), nil
}

// SGDUpdate implements §4.I's sgd_update(updaten; ...): sequences
// SGDOne over every parameter, wrapped under a "sgd_update" block
// comment.
func SGDUpdate(alloc Allocator, params []*node.Node, cfg SGDConfig) (hlir.Code, *arborerr.Error) {
	var steps []hlir.Code
	for _, p := range params {
		one, err := SGDOne(alloc, p, cfg)
		if err != nil {
			return nil, err
		}
		steps = append(steps, one)
	}
	return hlir.WithBlockComment("sgd_update", hlir.Sequential(steps)), nil
}
