package flow

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/vk/flowgrad/internal/cell"
	"github.com/vk/flowgrad/internal/op"
	"github.com/vk/flowgrad/internal/tensor"
)

// unit is the join/compute/fan-out bookkeeping created by one dispatch.
type unit struct {
	id       int64
	graph    *Graph
	kind     op.Kind
	operator op.Operator
	inputs   []*Node
	outputs  []*cell.Cell[*tensor.Tensor]
	metas    []tensor.Meta

	// inplace holds the granted allow_inplace flags, one per input.
	inplace []bool

	// pending counts input cells that have not settled yet.
	pending atomic.Int32
	// settled flips exactly once, when the unit is either queued for compute
	// or failed because of an upstream failure.
	settled atomic.Bool
}

// arm subscribes the join stage to every input. Inputs that are already
// settled call back synchronously, so arm may queue the unit right away.
func (u *unit) arm() {
	u.pending.Store(int32(len(u.inputs)))
	if len(u.inputs) == 0 {
		u.fire()
		return
	}
	for _, in := range u.inputs {
		in.value.OnSettled(func() { u.inputSettled(in) })
	}
}

func (u *unit) inputSettled(in *Node) {
	if _, _, err := in.value.TryRead(); err != nil {
		u.fail(&UpstreamError{Op: u.kind.Name(), Unit: u.id, Input: in.id, Err: err})
		return
	}
	if u.pending.Add(-1) == 0 {
		u.fire()
	}
}

// fire hands the unit to the worker pool. Only the first caller wins.
func (u *unit) fire() {
	if !u.settled.CompareAndSwap(false, true) {
		return
	}
	if !u.graph.queue.push(u) {
		u.graph.metrics.computes.WithLabelValues(u.kind.Name(), statusSkipped).Inc()
		u.failOutputs(fmt.Errorf("op %s (unit %d): %w", u.kind.Name(), u.id, ErrClosed))
		u.graph.unitDone()
	}
}

// fail settles the unit without running it.
func (u *unit) fail(err error) {
	if !u.settled.CompareAndSwap(false, true) {
		return
	}
	u.graph.logger.Debug("Unit skipped due to upstream failure.", "unit", u.id, "op", u.kind.Name(), "error", err)
	u.graph.metrics.computes.WithLabelValues(u.kind.Name(), statusSkipped).Inc()
	u.failOutputs(err)
	u.graph.unitDone()
}

func (u *unit) failOutputs(err error) {
	for _, out := range u.outputs {
		out.MustFail(err)
	}
}

// run executes the compute and fan-out stages. It is called exactly once, by
// the worker that popped the unit.
func (u *unit) run(logger *slog.Logger) {
	defer u.graph.unitDone()
	logger = logger.With("unit", u.id, "op", u.kind.Name())

	inputs := make([]*tensor.Tensor, len(u.inputs))
	for i, in := range u.inputs {
		v, _, err := in.value.TryRead()
		if err != nil {
			// Unreachable: the join only fires once every input is filled.
			panic(fmt.Sprintf("flow: unit %d fired with failed input %s: %v", u.id, in.id, err))
		}
		inputs[i] = v
	}

	logger.Debug("Computing unit.")
	start := time.Now()
	outs, err := u.compute(inputs)
	u.graph.metrics.computeSeconds.WithLabelValues(u.kind.Name()).Observe(time.Since(start).Seconds())
	if err == nil {
		err = u.checkOutputs(inputs, outs)
	}

	if err != nil {
		cerr := &ComputeError{Op: u.kind.Name(), Unit: u.id, Err: err}
		logger.Error("Unit computation failed.", "error", err)
		u.graph.metrics.computes.WithLabelValues(u.kind.Name(), statusFailed).Inc()
		u.graph.recordFailure(cerr)
		u.failOutputs(cerr)
		return
	}

	u.graph.metrics.computes.WithLabelValues(u.kind.Name(), statusCompleted).Inc()
	logger.Debug("Unit computed, fanning out outputs.", "outputs", len(outs))
	for i, out := range u.outputs {
		out.MustFill(outs[i])
	}
}

// compute calls the operator, turning a panic into an error so that a faulty
// operator poisons only its own outputs.
func (u *unit) compute(inputs []*tensor.Tensor) (outs []*tensor.Tensor, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("operator panicked: %v", r)
		}
	}()
	return u.operator.Compute(inputs)
}

// checkOutputs validates what the operator returned against the inferred
// metadata. An output may only share storage with an input the operator was
// granted in-place access to, since derived outputs are later donated as
// storage of their own.
func (u *unit) checkOutputs(inputs, outs []*tensor.Tensor) error {
	if len(outs) != len(u.outputs) {
		return fmt.Errorf("operator returned %d outputs, declared %d", len(outs), len(u.outputs))
	}
	for i, out := range outs {
		if out == nil {
			return fmt.Errorf("operator returned nil output %d", i)
		}
		if got := out.Meta(); got.DType != u.metas[i].DType || !got.Shape.Equal(u.metas[i].Shape) {
			return fmt.Errorf("output %d is %s, inferred %s", i, got, u.metas[i])
		}
		for j, in := range inputs {
			if out == in && !u.inplace[j] {
				return fmt.Errorf("output %d aliases input %d without in-place access", i, j)
			}
		}
		for j := 0; j < i; j++ {
			if out == outs[j] {
				return fmt.Errorf("outputs %d and %d share storage", j, i)
			}
		}
	}
	return nil
}
