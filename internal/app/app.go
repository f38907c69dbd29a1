package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/vk/flowgrad/internal/ctxlog"
	"github.com/vk/flowgrad/internal/graphfile"
	"github.com/vk/flowgrad/internal/op"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW       io.Writer
	logger     *slog.Logger
	ctx        context.Context
	config     *Config
	registry   *op.Registry
	graph      *graphfile.File
	metrics    *prometheus.Registry
	httpServer *http.Server
}

// NewApp is the constructor for the main application. It loads the graph
// file eagerly and panics if it cannot, since nothing can run without it. A
// nil registry means op.DefaultRegistry().
func NewApp(outW io.Writer, cfg *Config, registry *op.Registry) *App {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	file, err := graphfile.Load(ctx, cfg.GraphPath)
	if err != nil {
		panic(fmt.Errorf("failed to load graph: %w", err))
	}
	logger.Debug("Graph file loaded.", "tensors", len(file.Tensors), "ops", len(file.Ops))

	if registry == nil {
		registry = op.DefaultRegistry()
	}
	logger.Debug("Operators available.", "names", registry.Names())

	metrics := prometheus.NewRegistry()
	metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &App{
		outW:     outW,
		logger:   logger,
		ctx:      ctx,
		config:   cfg,
		registry: registry,
		graph:    file,
		metrics:  metrics,
	}
}

// Registry returns the application's operator registry. This is primarily
// for testing.
func (a *App) Registry() *op.Registry {
	return a.registry
}

// Metrics returns the registry the engine metrics are exported from.
func (a *App) Metrics() *prometheus.Registry {
	return a.metrics
}
