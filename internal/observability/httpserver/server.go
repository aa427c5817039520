// Package httpserver serves health, Prometheus metrics and optional pprof
// endpoints for a running timer.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"cacheful/internal/timer"
	logx "cacheful/pkg/logx"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ErrInsecureBind is returned when a non-loopback address has no token and
// AllowInsecure is off.
var ErrInsecureBind = errors.New("http server refused to start: non-loopback addr requires token or allow_insecure")

// Config controls the listener. A non-loopback Addr needs a Token unless
// AllowInsecure is set.
type Config struct {
	Addr          string
	Token         string
	AllowInsecure bool
	Pprof         bool
	PprofPrefix   string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// StatusFunc reports the timer state for /healthz.
type StatusFunc func() timer.Status

type Server struct {
	cfg      Config
	log      logx.Logger
	status   StatusFunc
	gatherer prometheus.Gatherer
}

// New builds a server. A nil gatherer uses the default registry.
func New(cfg Config, status StatusFunc, gatherer prometheus.Gatherer, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = "127.0.0.1:9464"
	}
	return &Server{cfg: cfg, log: log.With(logx.String("comp", "http")), status: status, gatherer: gatherer}
}

type healthBody struct {
	Status string       `json:"status"`
	Timer  timer.Status `json:"timer"`
}

// Handler returns the routed, authenticated handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	wrap := func(h http.Handler) http.Handler { return withAuth(s.cfg.Token, h) }

	mux.Handle("/healthz", wrap(http.HandlerFunc(s.health)))
	mux.Handle("/metrics", wrap(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	if s.cfg.Pprof {
		mountPprof(mux, pprofPrefix(s.cfg.PprofPrefix), wrap)
	}
	return mux
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	body := healthBody{Status: "unavailable"}
	code := http.StatusServiceUnavailable
	if s.status != nil {
		body.Timer = s.status()
		if body.Timer.State == timer.StateRunning.String() {
			body.Status = "ok"
			code = http.StatusOK
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// Check reports ErrInsecureBind for an unauthenticated non-loopback address.
func (s *Server) Check() error {
	if !s.cfg.AllowInsecure && s.cfg.Token == "" && !isLoopbackAddr(strings.TrimSpace(s.cfg.Addr)) {
		return ErrInsecureBind
	}
	return nil
}

// Run listens and serves until ctx ends.
func (s *Server) Run(ctx context.Context) error {
	addr := strings.TrimSpace(s.cfg.Addr)
	if err := s.Check(); err != nil {
		s.log.Error("http server refused to start", logx.String("addr", addr))
		return err
	}
	if s.cfg.AllowInsecure && s.cfg.Token == "" && !isLoopbackAddr(addr) {
		s.log.Warn("http server running without token on non-loopback addr (insecure)", logx.String("addr", addr))
	}

	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	switch {
	case err != nil && ctx.Err() != nil:
		return nil
	case err != nil:
		return err
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
	}

	stopped := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(stopped)
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	})
	defer stop()

	s.log.Info("http server started",
		logx.String("addr", ln.Addr().String()),
		logx.Bool("pprof", s.cfg.Pprof),
		logx.Bool("token_set", s.cfg.Token != ""))

	err = srv.Serve(ln)
	if ctx.Err() != nil {
		<-stopped
		return nil
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		err = errors.New("http server exited unexpectedly")
	}
	return err
}
