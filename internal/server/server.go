// Package server exposes checking, extraction and classification over HTTP
// and streams reports to websocket clients.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ResistanceIsUseless/ProxyJudge/internal/logging"
	"github.com/ResistanceIsUseless/ProxyJudge/internal/metrics"
	"github.com/ResistanceIsUseless/ProxyJudge/internal/proxy"
	"github.com/ResistanceIsUseless/ProxyJudge/internal/worker"
)

// Defaults for Options
const (
	DefaultMaxBodyBytes = 1 << 20
	DefaultMaxBatch     = 100
	DefaultParseLimit   = 1000
	DefaultConcurrency  = 10
)

// Options configures a Server
type Options struct {
	// Template is the base of every check; requests may narrow protocols,
	// credentials and timeout.
	Template     proxy.CheckerOptions
	Concurrency  int
	MaxBatch     int
	MaxBodyBytes int64
	ParseLimit   int
	CurrentIPTTL time.Duration
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.MaxBatch <= 0 {
		o.MaxBatch = DefaultMaxBatch
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if o.ParseLimit <= 0 {
		o.ParseLimit = DefaultParseLimit
	}
	o.Template = o.Template.WithDefaults()
	return o
}

// Server is the HTTP API
type Server struct {
	opts    Options
	ipCache *IPCache
	manager *worker.Manager
	extra   []worker.Option
	hub     *Hub
	metrics *metrics.Collector
	logger  *logging.Logger
	started time.Time

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the logger
func WithLogger(l *logging.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics serves the collector on /metrics
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Server) { s.metrics = c }
}

// WithWorkerOptions passes extra options to the batch runner used by
// /api/check, for example a store
func WithWorkerOptions(opts ...worker.Option) Option {
	return func(s *Server) { s.extra = append(s.extra, opts...) }
}

// New creates a server. resolver finds the server's own public IP and is
// cached for Options.CurrentIPTTL.
func New(inspector worker.Inspector, resolver proxy.IPResolver, opts Options, options ...Option) *Server {
	s := &Server{
		opts:    opts.withDefaults(),
		logger:  logging.Discard(),
		started: time.Now(),
	}
	s.ipCache = NewIPCache(resolver, s.opts.CurrentIPTTL)

	for _, opt := range options {
		opt(s)
	}
	s.hub = NewHub(s.logger)

	workerOpts := append([]worker.Option{
		worker.WithConcurrency(s.opts.Concurrency),
		worker.WithLogger(s.logger),
		worker.WithMetrics(s.metrics),
	}, s.extra...)
	s.manager = worker.NewManager(inspector, s.ipCache, workerOpts...)
	return s
}

// Hub returns the report stream
func (s *Server) Hub() *Hub {
	return s.hub
}

// IPCache returns the current-IP cache
func (s *Server) IPCache() *IPCache {
	return s.ipCache
}

// Handler returns the routing handler
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/check", s.handleCheck)
	mux.HandleFunc("POST /api/extract", s.handleExtract)
	mux.HandleFunc("POST /api/classify", s.handleClassify)
	mux.HandleFunc("GET /api/current-ip", s.handleCurrentIP)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /ws", s.hub)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	return s.recover(mux)
}

// Start listens on addr and serves in the background
func (s *Server) Start(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.httpServer != nil {
		return fmt.Errorf("server already running on %s", s.listener.Addr())
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func(srv *http.Server) {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("API server failed", "error", err)
		}
	}(s.httpServer)

	s.logger.Info("API server started", "addr", ln.Addr().String())
	return nil
}

// Addr returns the listening address, or "" when not started
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops accepting requests, waits for in-flight ones and closes
// stream clients
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.httpServer = nil
	s.listener = nil
	s.mu.Unlock()

	s.hub.Close()
	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.logger.ShutdownComplete()
	return nil
}

func (s *Server) recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("Handler panicked", "path", r.URL.Path, "panic", rec)
				if s.metrics != nil {
					s.metrics.RecordError("panic")
				}
				writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}
