package flow

import (
	"context"
	"errors"
	"fmt"

	"github.com/vk/flowgrad/internal/cell"
	"github.com/vk/flowgrad/internal/ctxlog"
	"github.com/vk/flowgrad/internal/op"
	"github.com/vk/flowgrad/internal/tensor"
)

// Dispatch applies kind to inputs and returns the node for its first output.
// See DispatchN.
func (g *Graph) Dispatch(ctx context.Context, kind op.Kind, inputs []*Node, allowInplace []bool) (*Node, error) {
	if kind != nil && kind.NumOutputs() < 1 {
		return nil, fmt.Errorf("op %s declares no outputs", kind.Name())
	}
	outs, err := g.DispatchN(ctx, kind, inputs, allowInplace)
	if err != nil {
		return nil, err
	}
	return outs[0], nil
}

// DispatchN schedules kind over inputs and returns one derived node per
// declared output. It never blocks: the operator runs on a worker once every
// input has a value.
//
// allowInplace has one entry per input; nil means no input may be
// overwritten. An entry is only honored when the input is a derived node that
// no caller has read and no other dispatch has consumed. A granted input is
// donated: reading or dispatching it again returns ErrDonated.
//
// Construction errors (*op.ArityMismatchError, *op.TypeMismatchError,
// ErrForeignNode, ErrDonated, ErrClosed) are returned synchronously and leave
// the graph unchanged.
func (g *Graph) DispatchN(ctx context.Context, kind op.Kind, inputs []*Node, allowInplace []bool) ([]*Node, error) {
	logger := ctxlog.FromContext(ctx)
	if kind == nil {
		return nil, errors.New("dispatch: nil operator kind")
	}
	if err := op.CheckArity(kind, len(inputs)); err != nil {
		return nil, err
	}
	if allowInplace == nil {
		allowInplace = make([]bool, len(inputs))
	}
	if len(allowInplace) != len(inputs) {
		return nil, &op.ArityMismatchError{Op: kind.Name(), What: "allow_inplace flags", Want: len(inputs), Got: len(allowInplace)}
	}

	metas := make([]tensor.Meta, len(inputs))
	requiresGradient := make([]bool, len(inputs))
	uses := make(map[*Node]int, len(inputs))
	for i, in := range inputs {
		if in == nil {
			return nil, fmt.Errorf("dispatch %s: input %d is nil", kind.Name(), i)
		}
		if in.graph != g {
			return nil, fmt.Errorf("dispatch %s: input %d: %w", kind.Name(), i, ErrForeignNode)
		}
		metas[i] = in.meta
		requiresGradient[i] = in.requiresGradient
		uses[in]++
	}

	outMetas, err := kind.Infer(metas)
	if err != nil {
		return nil, err
	}
	if len(outMetas) != kind.NumOutputs() {
		return nil, fmt.Errorf("op %s inferred %d outputs, declares %d", kind.Name(), len(outMetas), kind.NumOutputs())
	}

	g.buildMu.Lock()
	defer g.buildMu.Unlock()

	for i, in := range inputs {
		if in.isDonated() {
			return nil, fmt.Errorf("dispatch %s: input %d: %w", kind.Name(), i, ErrDonated)
		}
	}
	if err := g.track(); err != nil {
		return nil, err
	}

	granted := make([]bool, len(inputs))
	for i, in := range inputs {
		granted[i] = in.claim(allowInplace[i] && uses[in] == 1)
	}

	rg := op.RequiresGradient(requiresGradient)
	u := &unit{
		id:       g.nextUnit.Add(1),
		graph:    g,
		kind:     kind,
		operator: kind.New(op.Config{RequiresGradient: requiresGradient, AllowInplace: granted}),
		inputs:   inputs,
		outputs:  make([]*cell.Cell[*tensor.Tensor], len(outMetas)),
		metas:    outMetas,
		inplace:  granted,
	}
	nodes := make([]*Node, len(outMetas))
	for i, m := range outMetas {
		u.outputs[i] = cell.New[*tensor.Tensor]()
		nodes[i] = newNode(g, kind.Name(), u.outputs[i], rg, m, true)
	}

	g.metrics.dispatches.WithLabelValues(kind.Name()).Inc()
	logger.Debug("Dispatched operator.",
		"op", kind.Name(),
		"unit", u.id,
		"inputs", len(inputs),
		"outputs", len(nodes),
		"requires_gradient", rg,
		"inplace", granted,
	)

	u.arm()
	return nodes, nil
}
