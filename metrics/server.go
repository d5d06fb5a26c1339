package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 5 * time.Second

// Server exposes a registry on /metrics until its context is done.
type Server struct {
	listener net.Listener
	srv      *http.Server
	done     chan struct{}
}

// StartServer listens on addr and serves the metrics gathered from reg.
func StartServer(ctx context.Context, addr string, reg *prometheus.Registry) (*Server, error) {
	promMux := http.NewServeMux()
	promMux.Handle("/metrics", promhttp.InstrumentMetricHandler(
		reg, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen for metrics on %s: %w", addr, err)
	}

	s := &Server{
		listener: listener,
		srv:      &http.Server{Handler: promMux, ReadHeaderTimeout: 10 * time.Second},
		done:     make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		if err := s.srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server failed", "addr", addr, "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		s.shutdown()
	}()
	slog.Info("Serving metrics", "addr", listener.Addr().String())
	return s, nil
}

func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Wait blocks until the server has stopped.
func (s *Server) Wait() {
	<-s.done
}

func (s *Server) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		slog.Warn("Failed to shut down metrics server", "error", err)
	}
}
