package flow

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/vk/flowgrad/internal/cell"
	"github.com/vk/flowgrad/internal/tensor"
)

// sourceOp is reported by Op() for source nodes.
const sourceOp = "source"

// Node is the handle to a (possibly not yet computed) tensor result and its
// requires-gradient flag. Nodes are created by Graph.Source and
// Graph.Dispatch only.
type Node struct {
	id               string
	op               string
	graph            *Graph
	value            *cell.Cell[*tensor.Tensor]
	requiresGradient bool
	meta             tensor.Meta
	derived          bool

	// mu guards the consumer bookkeeping used to decide in-place grants.
	mu        sync.Mutex
	consumers int
	observed  bool
	donated   bool
}

func newNode(g *Graph, opName string, value *cell.Cell[*tensor.Tensor], rg bool, meta tensor.Meta, derived bool) *Node {
	return &Node{
		id:               ulid.Make().String(),
		op:               opName,
		graph:            g,
		value:            value,
		requiresGradient: rg,
		meta:             meta,
		derived:          derived,
	}
}

// ID returns the node's unique identifier.
func (n *Node) ID() string { return n.id }

// Op returns the name of the operator that produces the node, or "source".
func (n *Node) Op() string { return n.op }

// RequiresGradient returns the flag fixed when the node was created.
func (n *Node) RequiresGradient() bool { return n.requiresGradient }

// Meta returns the dtype and shape the node's tensor has, known statically.
func (n *Node) Meta() tensor.Meta {
	return tensor.Meta{DType: n.meta.DType, Shape: n.meta.Shape.Clone()}
}

// State reports the state of the underlying cell without observing its value.
func (n *Node) State() cell.State { return n.value.State() }

// Get blocks until the node's value is available and returns it. Repeated
// calls return the same tensor without recomputing it. Callers must treat the
// returned tensor as read-only.
func (n *Node) Get(ctx context.Context) (*tensor.Tensor, error) {
	if err := n.observe(); err != nil {
		return nil, err
	}
	return n.value.Wait(ctx)
}

// GetTimeout is Get bounded by d. On expiry the error matches cell.ErrTimeout
// and the node stays valid for later reads.
func (n *Node) GetTimeout(d time.Duration) (*tensor.Tensor, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return n.Get(ctx)
}

// TryGet returns the value if it is available, without blocking. The boolean
// is false while the node is still pending.
func (n *Node) TryGet() (*tensor.Tensor, bool, error) {
	if err := n.observe(); err != nil {
		return nil, false, err
	}
	return n.value.TryRead()
}

// observe records that the value has been exposed to a caller, which rules
// out donating it later.
func (n *Node) observe() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.donated {
		return ErrDonated
	}
	n.observed = true
	return nil
}

// isDonated reports whether the node was handed to an in-place operator.
func (n *Node) isDonated() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.donated
}

// claim registers one more consumer. When wantInplace is set, the storage is
// donated if nobody else has seen or consumed it. Callers hold Graph.buildMu.
func (n *Node) claim(wantInplace bool) (granted bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	granted = wantInplace && n.derived && n.consumers == 0 && !n.observed
	n.consumers++
	if granted {
		n.donated = true
	}
	return granted
}
