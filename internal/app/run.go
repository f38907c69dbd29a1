package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/vk/flowgrad/internal/ctxlog"
	"github.com/vk/flowgrad/internal/flow"
	"github.com/vk/flowgrad/internal/graphfile"
	"github.com/vk/flowgrad/internal/tensor"
)

// opResult pairs an op declaration with the nodes it produced.
type opResult struct {
	op    *graphfile.Op
	nodes []*flow.Node
}

// Run evaluates the loaded graph and writes every op result to the app's
// output. It must be called at most once per App.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	a.startServer()
	defer func() { _ = a.closeServer() }()

	workers, timeout := a.engineSettings()
	g := flow.New(ctx, flow.WithWorkers(workers), flow.WithRegisterer(a.metrics))

	results, err := a.dispatch(ctx, g)
	if err != nil {
		_ = g.Shutdown(ctx)
		return fmt.Errorf("failed to build graph: %w", err)
	}

	if len(results) == 0 {
		a.logger.Warn("No ops found in graph, execution not required.")
	} else {
		a.logger.Info("🚀 Graph dispatched, waiting for results...", "ops", len(results), "workers", g.Workers())
	}

	var result *multierror.Error
	if err := a.report(ctx, results, timeout); err != nil {
		result = multierror.Append(result, err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := g.Shutdown(shutdownCtx); err != nil {
		result = multierror.Append(result, fmt.Errorf("execution failed: %w", err))
	} else {
		a.logger.Info("🏁 Execution finished.")
	}

	a.logger.Debug("App.Run method finished.")
	return result.ErrorOrNil()
}

// engineSettings merges CLI overrides with the graph file's engine block.
func (a *App) engineSettings() (int, time.Duration) {
	workers := a.graph.Engine.Workers
	if a.config.WorkerCount > 0 {
		workers = a.config.WorkerCount
	}
	timeout := a.graph.Engine.ReadTimeout
	if a.config.ReadTimeout > 0 {
		timeout = a.config.ReadTimeout
	}
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}
	return workers, timeout
}

// dispatch creates the source nodes and dispatches every op in dependency
// order. It does not wait for any result.
func (a *App) dispatch(ctx context.Context, g *flow.Graph) ([]opResult, error) {
	nodes := make(map[string][]*flow.Node, len(a.graph.Tensors)+len(a.graph.Ops))

	for _, decl := range a.graph.Tensors {
		t, err := decl.Build()
		if err != nil {
			return nil, fmt.Errorf("tensor %q: %w", decl.Name, err)
		}
		n, err := g.Source(t, decl.RequiresGradient)
		if err != nil {
			return nil, fmt.Errorf("tensor %q: %w", decl.Name, err)
		}
		nodes[graphfile.Ref{Root: graphfile.RootTensor, Name: decl.Name}.Key()] = []*flow.Node{n}
	}

	results := make([]opResult, 0, len(a.graph.Ops))
	for _, decl := range a.graph.Ops {
		kind, err := a.registry.Build(decl.Kind, decl.Params)
		if err != nil {
			return nil, fmt.Errorf("op %q: %w", decl.Name, err)
		}

		inputs := make([]*flow.Node, len(decl.Inputs))
		for i, ref := range decl.Inputs {
			outs, ok := nodes[ref.Key()]
			if !ok {
				return nil, fmt.Errorf("op %q: input %s is not available", decl.Name, ref)
			}
			if ref.Index >= len(outs) {
				return nil, fmt.Errorf("op %q: input %s out of range, %s has %d outputs", decl.Name, ref, ref.Key(), len(outs))
			}
			inputs[i] = outs[ref.Index]
		}

		outs, err := g.DispatchN(ctx, kind, inputs, decl.AllowInplace)
		if err != nil {
			return nil, fmt.Errorf("op %q (%s): %w", decl.Name, decl.Range, err)
		}
		nodes[graphfile.Ref{Root: graphfile.RootOp, Name: decl.Name}.Key()] = outs
		results = append(results, opResult{op: decl, nodes: outs})
	}
	return results, nil
}

// report blocks on every op output and prints it. Each read is bounded by
// timeout and by ctx. Outputs donated to an in-place op are reported as such.
// Compute failures are printed and left for Shutdown to report; read timeouts
// and cancellation are returned. Once ctx is done, the remaining outputs are
// not waited for.
func (a *App) report(ctx context.Context, results []opResult, timeout time.Duration) error {
	var result *multierror.Error
	for _, r := range results {
		for i, n := range r.nodes {
			if err := ctx.Err(); err != nil {
				return multierror.Append(result, fmt.Errorf("waiting for results: %w", err)).ErrorOrNil()
			}
			name := graphfile.Ref{Root: graphfile.RootOp, Name: r.op.Name, Index: i}.String()
			v, err := a.read(ctx, n, timeout)
			switch {
			case err == nil:
				fmt.Fprintf(a.outW, "%s = %s requires_gradient=%t\n", name, v, n.RequiresGradient())
			case errors.Is(err, flow.ErrDonated):
				fmt.Fprintf(a.outW, "%s = <donated>\n", name)
			default:
				fmt.Fprintf(a.outW, "%s = <error: %v>\n", name, err)
				var computeErr *flow.ComputeError
				var upstreamErr *flow.UpstreamError
				if !errors.As(err, &computeErr) && !errors.As(err, &upstreamErr) {
					result = multierror.Append(result, fmt.Errorf("%s: %w", name, err))
				}
			}
		}
	}
	return result.ErrorOrNil()
}

func (a *App) read(ctx context.Context, n *flow.Node, timeout time.Duration) (*tensor.Tensor, error) {
	readCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return n.Get(readCtx)
}
