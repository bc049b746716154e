package obs

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	logx "alarmd/pkg/logx"
)

// ServerConfig controls the optional /metrics listener.
type ServerConfig struct {
	Enabled bool
	Addr    string // default "127.0.0.1:9180"
}

// Server serves the metrics registry over HTTP. Disabled unless
// configured; binding is expected to stay on loopback.
type Server struct {
	cfg ServerConfig
	log logx.Logger
	m   *Metrics

	srv *http.Server
}

func NewServer(cfg ServerConfig, m *Metrics, log logx.Logger) *Server {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = "127.0.0.1:9180"
	}
	return &Server{cfg: cfg, log: log, m: m}
}

func (s *Server) Start(ctx context.Context) error {
	if !s.cfg.Enabled || s.m == nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.m.Registry(), promhttp.HandlerOpts{}))

	s.srv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("metrics server stopped", logx.Err(err))
		}
	}()
	s.log.Info("metrics listening", logx.String("addr", ln.Addr().String()))
	_ = ctx
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
