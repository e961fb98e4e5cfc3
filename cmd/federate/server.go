package main

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"

	"github.com/ajitpratap0/federate/internal/engine"
	"github.com/ajitpratap0/federate/pkg/connector/manager"
	"github.com/ajitpratap0/federate/pkg/errors"
	"github.com/ajitpratap0/federate/pkg/logger"
	"github.com/ajitpratap0/federate/pkg/metrics"
)

// statusServer serves /metrics, /status and /healthz for a running engine
type statusServer struct {
	engine   *engine.Engine
	host     *metrics.HostCollector
	maxConns int
	handler  http.Handler
	logger   *zap.Logger
}

func newStatusServer(e *engine.Engine, maxConns int) (*statusServer, error) {
	host, err := metrics.NewHostCollector()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to read process statistics")
	}
	if err := prometheus.Register(host); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to register host collector")
		}
	}

	s := &statusServer{
		engine:   e,
		host:     host,
		maxConns: maxConns,
		logger:   logger.Get().With(zap.String("component", "status_server")),
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/status", s.status)
	mux.HandleFunc("/healthz", s.healthz)
	s.handler = mux
	return s, nil
}

func (s *statusServer) status(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(report(s.engine, s.host)); err != nil {
		s.logger.Warn("failed to write status", zap.Error(err))
	}
}

// healthz answers 200 while every source serves requests, 503 otherwise
func (s *statusServer) healthz(w http.ResponseWriter, _ *http.Request) {
	down := []string{}
	for _, name := range s.engine.Repository().Sources() {
		for _, m := range s.engine.Repository().Managers(name) {
			if st := m.Status(); st != manager.StatusOK {
				down = append(down, m.Name()+": "+st.String())
			}
		}
	}
	w.Header().Set("Content-Type", "application/json")
	if len(down) > 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"ok": len(down) == 0, "unavailable": down})
}

// ListenAndServe serves until ctx is done. At most maxConns connections are
// accepted at once when maxConns is positive.
func (s *statusServer) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to listen").WithDetail("addr", addr)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done
func (s *statusServer) Serve(ctx context.Context, ln net.Listener) error {
	if s.maxConns > 0 {
		ln = netutil.LimitListener(ln, s.maxConns)
	}
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("serving metrics", zap.String("addr", ln.Addr().String()), zap.Int("max_conns", s.maxConns))
	err := srv.Serve(ln)
	if err == http.ErrServerClosed {
		<-done
		return nil
	}
	return errors.Wrap(err, errors.ErrorTypeConnection, "status server failed")
}
