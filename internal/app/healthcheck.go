package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// healthHandler answers liveness probes.
func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	a.logger.Debug("Health check endpoint hit.", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}

func (a *App) serverMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", a.healthHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(a.metrics, promhttp.HandlerOpts{}))
	return mux
}

// startServer runs the health and metrics server in the background.
func (a *App) startServer() {
	a.logger.Debug("Configuring health and metrics server.")
	if a.config.MetricsPort <= 0 {
		a.logger.Debug("Health and metrics server not started: disabled.")
		return
	}

	addr := fmt.Sprintf(":%d", a.config.MetricsPort)
	a.httpServer = &http.Server{
		Addr:              addr,
		Handler:           a.serverMux(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("🩺 Health and metrics server starting", "address", fmt.Sprintf("http://localhost%s", addr))
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("Health and metrics server failed unexpectedly", "error", err)
		}
	}()
}

func (a *App) closeServer() error {
	if a.httpServer == nil {
		a.logger.Debug("Health and metrics server was not running.")
		return nil
	}

	ctx, cancel := context.WithTimeout(a.ctx, 5*time.Second)
	defer cancel()

	a.logger.Info("🩺 Shutting down health and metrics server...")
	if err := a.httpServer.Shutdown(ctx); err != nil {
		a.logger.Error("Health and metrics server shutdown failed", "error", err)
		return err
	}
	a.logger.Debug("Health and metrics server shut down gracefully.")
	return nil
}
