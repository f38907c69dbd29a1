package flow

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vk/flowgrad/internal/cell"
	"github.com/vk/flowgrad/internal/ctxlog"
	"github.com/vk/flowgrad/internal/op"
	"github.com/vk/flowgrad/internal/tensor"
)

// testKind is a configurable op.Kind that records how it was instantiated and
// how often it ran.
type testKind struct {
	name    string
	in, out int
	compute func(cfg op.Config, inputs []*tensor.Tensor) ([]*tensor.Tensor, error)

	calls atomic.Int32

	mu      sync.Mutex
	configs []op.Config
}

func (k *testKind) Name() string    { return k.name }
func (k *testKind) NumInputs() int  { return k.in }
func (k *testKind) NumOutputs() int { return k.out }

// Infer gives every output the metadata of the first input.
func (k *testKind) Infer(inputs []tensor.Meta) ([]tensor.Meta, error) {
	out := make([]tensor.Meta, k.out)
	for i := range out {
		if len(inputs) > 0 {
			out[i] = inputs[0]
		}
	}
	return out, nil
}

func (k *testKind) New(cfg op.Config) op.Operator {
	k.mu.Lock()
	k.configs = append(k.configs, cfg)
	k.mu.Unlock()
	return &testOp{kind: k, cfg: cfg}
}

func (k *testKind) lastConfig() op.Config {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.configs[len(k.configs)-1]
}

type testOp struct {
	kind *testKind
	cfg  op.Config
}

func (o *testOp) Compute(inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	o.kind.calls.Add(1)
	return o.kind.compute(o.cfg, inputs)
}

// countingCAdd wraps cadd so tests can count compute calls.
func countingCAdd() *testKind {
	inner := op.NewCAdd()
	return &testKind{
		name: "counting_cadd",
		in:   2,
		out:  1,
		compute: func(cfg op.Config, inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
			return inner.New(cfg).Compute(inputs)
		},
	}
}

// failingKind always returns err.
func failingKind(err error) *testKind {
	return &testKind{
		name: "failing",
		in:   1,
		out:  1,
		compute: func(op.Config, []*tensor.Tensor) ([]*tensor.Tensor, error) {
			return nil, err
		},
	}
}

func panickingKind() *testKind {
	return &testKind{
		name: "panicking",
		in:   1,
		out:  1,
		compute: func(op.Config, []*tensor.Tensor) ([]*tensor.Tensor, error) {
			panic("boom")
		},
	}
}

// gatedKind copies its input once gate is closed.
func gatedKind(gate <-chan struct{}) *testKind {
	return &testKind{
		name: "gated",
		in:   1,
		out:  1,
		compute: func(_ op.Config, inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
			<-gate
			return []*tensor.Tensor{inputs[0].Clone()}, nil
		},
	}
}

// splitKind returns a copy of its input and its negation.
func splitKind() *testKind {
	return &testKind{
		name: "split",
		in:   1,
		out:  2,
		compute: func(_ op.Config, inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
			pos := inputs[0].Clone()
			neg := inputs[0].Clone()
			for i := range neg.Data() {
				neg.Data()[i] = -neg.Data()[i]
			}
			return []*tensor.Tensor{pos, neg}, nil
		},
	}
}

var errBadInput = errors.New("bad input")

func newTestGraph(t *testing.T, opts ...Option) (context.Context, *Graph) {
	t.Helper()
	ctx := ctxlog.Discard(context.Background())
	g := New(ctx, opts...)
	t.Cleanup(func() { _ = g.Shutdown(context.Background()) })
	return ctx, g
}

func full(t *testing.T, n int, v float64) *tensor.Tensor {
	t.Helper()
	x, err := tensor.Full(tensor.Float64, tensor.Shape{n}, v)
	require.NoError(t, err)
	return x
}

func source(t *testing.T, g *Graph, x *tensor.Tensor, rg bool) *Node {
	t.Helper()
	n, err := g.Source(x, rg)
	require.NoError(t, err)
	return n
}

// pendingNode returns a derived node whose value the test settles by hand.
func pendingNode(g *Graph, meta tensor.Meta, rg bool) (*Node, *cell.Cell[*tensor.Tensor]) {
	c := cell.New[*tensor.Tensor]()
	return newNode(g, "pending", c, rg, meta, true), c
}
