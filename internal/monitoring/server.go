package monitoring

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

const metricsReadHeaderTimeout = 5 * time.Second

// MetricsServer serves /metrics on a dedicated listener
type MetricsServer struct {
	addr    string
	metrics *Metrics
	logger  *Logger
}

// NewMetricsServer creates a metrics server listening on addr
func NewMetricsServer(addr string, metrics *Metrics, logger *Logger) *MetricsServer {
	return &MetricsServer{addr: addr, metrics: metrics, logger: logger}
}

// Run serves until ctx is cancelled
func (s *MetricsServer) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.metrics.Handler())

	httpServer := &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: metricsReadHeaderTimeout,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		<-ctx.Done()
		if err := httpServer.Shutdown(context.WithoutCancel(ctx)); err != nil {
			s.logger.Error("Metrics server shutdown failed", "error", err)
		}
	}()

	s.logger.Info("Metrics server started", "address", s.addr)

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics ListenAndServe: %w", err)
	}

	s.logger.Info("Metrics server stopped")
	return nil
}
