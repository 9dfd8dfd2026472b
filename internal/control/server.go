// Package control serves the HTTP side channel that changes the redirect
// target at runtime.
package control

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/die-net/sockpuppet/internal/metrics"
	"github.com/die-net/sockpuppet/internal/proxy"
	"github.com/die-net/sockpuppet/internal/target"
)

type Config struct {
	Target *target.Register

	// MetricsHandler is mounted at /metrics when non-nil.
	MetricsHandler http.Handler

	ReadHeaderTimeout time.Duration

	Log     logrus.FieldLogger
	Metrics *metrics.Metrics
}

// Server exposes:
//   - /set_proxy/{target}: replace the redirect target (IPv4:port only)
//   - GET /proxy: report the current target
//   - GET /metrics: Prometheus metrics, if configured
type Server struct {
	ctx     context.Context
	target  *target.Register
	log     logrus.FieldLogger
	metrics *metrics.Metrics
	mux     *http.ServeMux
	srv     *http.Server
}

func NewServer(ctx context.Context, cfg Config) *Server {
	if ctx == nil {
		ctx = context.Background()
	}
	log := cfg.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	s := &Server{
		ctx:     ctx,
		target:  cfg.Target,
		log:     log.WithField("component", "control"),
		metrics: cfg.Metrics,
		mux:     http.NewServeMux(),
	}

	s.mux.HandleFunc("/set_proxy/{target}", s.handleSetProxy)
	s.mux.HandleFunc("GET /proxy", s.handleGetProxy)
	if cfg.MetricsHandler != nil {
		s.mux.Handle("GET /metrics", cfg.MetricsHandler)
	}

	s.srv = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		BaseContext: func(net.Listener) context.Context {
			return s.ctx
		},
	}
	return s
}

// Handler returns the routing handler, for use without a listener.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Serve serves control requests on ln.
func (s *Server) Serve(ln net.Listener) error {
	return s.srv.Serve(ln)
}

// Close stops the HTTP server.
func (s *Server) Close() error {
	return s.srv.Close()
}

func (s *Server) handleSetProxy(w http.ResponseWriter, r *http.Request) {
	addr := r.PathValue("target")

	if err := target.Check(addr); err != nil {
		s.metrics.TargetUpdated(false)
		s.log.WithError(err).WithField("kind", proxy.ErrorKind(err)).Warn("received command to switch to invalid server address")
		http.Error(w, "Invalid address", http.StatusBadRequest)
		return
	}

	s.target.Set(addr)
	s.metrics.TargetUpdated(true)
	s.log.WithField("target", addr).Info("proxy server set")

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "Proxy updated")
}

func (s *Server) handleGetProxy(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, s.target.Get())
}
