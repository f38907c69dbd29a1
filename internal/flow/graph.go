package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/vk/flowgrad/internal/cell"
	"github.com/vk/flowgrad/internal/ctxlog"
	"github.com/vk/flowgrad/internal/tensor"
	"golang.org/x/sync/errgroup"
)

// Graph is the execution context that owns every scheduled unit and the
// worker pool that runs them.
type Graph struct {
	logger     *slog.Logger
	numWorkers int
	queue      *readyQueue
	workers    *errgroup.Group
	metrics    *metrics

	// buildMu serializes graph construction. lifecycle orders dispatches
	// against Shutdown so that pending.Add never races pending.Wait.
	buildMu   sync.Mutex
	lifecycle sync.RWMutex
	closed    bool

	pending  sync.WaitGroup
	inflight atomic.Int64
	nextUnit atomic.Int64

	failMu   sync.Mutex
	failures []error

	shutdownOnce sync.Once
	shutdownErr  error
}

// Option configures a Graph.
type Option func(*Graph)

// WithWorkers sets the size of the worker pool. Values below one are ignored.
func WithWorkers(n int) Option {
	return func(g *Graph) {
		if n > 0 {
			g.numWorkers = n
		}
	}
}

// WithRegisterer registers the graph's metrics with reg. Only one graph may
// register with a given registerer.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(g *Graph) {
		g.metrics.register(reg)
	}
}

// New creates a graph and starts its workers. The logger is taken from ctx.
// Callers must call Shutdown to release the workers.
func New(ctx context.Context, opts ...Option) *Graph {
	g := &Graph{
		logger:     ctxlog.FromContext(ctx),
		numWorkers: runtime.GOMAXPROCS(0),
		queue:      newReadyQueue(),
		metrics:    newMetrics(),
	}
	for _, opt := range opts {
		opt(g)
	}

	g.workers = &errgroup.Group{}
	g.logger.Debug("Starting worker pool.", "workers", g.numWorkers)
	for i := 0; i < g.numWorkers; i++ {
		g.workers.Go(func() error {
			g.worker(i)
			return nil
		})
	}
	return g
}

// Workers returns the size of the worker pool.
func (g *Graph) Workers() int { return g.numWorkers }

// Pending returns the number of units that have been dispatched but not yet
// settled.
func (g *Graph) Pending() int { return int(g.inflight.Load()) }

// Source wraps an already computed tensor into a node.
func (g *Graph) Source(t *tensor.Tensor, requiresGradient bool) (*Node, error) {
	if t == nil {
		return nil, errors.New("source tensor is nil")
	}
	n := newNode(g, sourceOp, cell.NewFilled(t), requiresGradient, t.Meta(), false)
	g.logger.Debug("Created source node.", "node", n.id, "meta", n.meta.String(), "requires_gradient", requiresGradient)
	return n, nil
}

// worker is the processing loop for a single worker.
func (g *Graph) worker(workerID int) {
	logger := g.logger.With("workerID", workerID)
	logger.Debug("Worker started.")
	for {
		u, ok := g.queue.pop()
		if !ok {
			break
		}
		u.run(logger)
	}
	logger.Debug("Worker finished.")
}

// track registers a new unit as pending. It fails once Shutdown has begun.
func (g *Graph) track() error {
	g.lifecycle.RLock()
	defer g.lifecycle.RUnlock()
	if g.closed {
		return ErrClosed
	}
	g.pending.Add(1)
	g.inflight.Add(1)
	g.metrics.pending.Inc()
	return nil
}

func (g *Graph) unitDone() {
	g.metrics.pending.Dec()
	g.inflight.Add(-1)
	g.pending.Done()
}

func (g *Graph) recordFailure(err error) {
	g.failMu.Lock()
	defer g.failMu.Unlock()
	g.failures = append(g.failures, err)
}

// Failures returns the root-cause compute failures recorded so far.
func (g *Graph) Failures() []error {
	g.failMu.Lock()
	defer g.failMu.Unlock()
	out := make([]error, len(g.failures))
	copy(out, g.failures)
	return out
}

// Shutdown stops accepting dispatches, waits for every registered unit to
// settle and stops the workers. It returns the root-cause compute failures
// combined into one error, or ctx's error if draining takes too long. Calling
// Shutdown again returns the first result.
func (g *Graph) Shutdown(ctx context.Context) error {
	g.shutdownOnce.Do(func() {
		g.shutdownErr = g.shutdown(ctx)
	})
	return g.shutdownErr
}

func (g *Graph) shutdown(ctx context.Context) error {
	g.lifecycle.Lock()
	g.closed = true
	g.lifecycle.Unlock()
	g.logger.Debug("Graph closed, draining pending units.", "pending", g.Pending())

	drained := make(chan struct{})
	go func() {
		g.pending.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-ctx.Done():
		// Units still waiting on inputs are failed with ErrClosed once their
		// join fires against the closed queue.
		g.queue.close()
		g.logger.Warn("Shutdown deadline reached before all units settled.", "pending", g.Pending())
		return fmt.Errorf("shutdown: %w", ctx.Err())
	}

	g.queue.close()
	_ = g.workers.Wait()
	g.logger.Debug("All workers stopped.")

	var result *multierror.Error
	for _, err := range g.Failures() {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}
