// Package server exposes the HTTP surface: the signed webhook intake and the
// read-only observability and verification endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"reviewgate/internal/attest"
	"reviewgate/internal/decision"
	"reviewgate/internal/metrics"
	"reviewgate/internal/pipeline"
)

// maxWebhookBody caps the webhook payload at 1 MiB.
const maxWebhookBody = 1 << 20

// Options wire the server to its collaborators.
type Options struct {
	Addr          string
	WebhookSecret string
	Pipeline      *pipeline.Pipeline
	History       decision.History
	Index         *attest.Index
	Metrics       *metrics.Metrics
	MetricsDeps   func() metrics.Deps
	Logger        *zap.Logger

	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	ShutdownGrace time.Duration
	MaxConns      int
}

// Server owns the listener and tracks in-flight executions so shutdown can
// drain them.
type Server struct {
	opts   Options
	logger *zap.Logger
	wg     sync.WaitGroup
}

// New builds a server. The webhook secret must be non-empty; admission is
// impossible without it.
func New(opts Options) (*Server, error) {
	if opts.WebhookSecret == "" {
		return nil, errors.New("server: webhook secret is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = 20 * time.Second
	}
	if opts.MaxConns <= 0 {
		opts.MaxConns = 256
	}
	return &Server{opts: opts, logger: opts.Logger.Named("server")}, nil
}

// Router assembles the full route table.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Post("/webhook", s.handleWebhook)

	// Read-only endpoints are safe to expose cross-origin.
	r.Group(func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{http.MethodGet, http.MethodPost},
		}))
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)
		r.Handle("/metrics/prom", metrics.Handler(s.opts.Metrics, s.opts.MetricsDeps))
		r.Get("/decisions", s.handleDecisions)
		r.Get("/verify/{reviewID}", s.handleVerify)
		r.Get("/merkle/root", s.handleMerkleRoot)
		r.Get("/merkle/proof/{reviewID}", s.handleMerkleProof)
		r.Post("/merkle/verify", s.handleMerkleVerify)
	})
	return r
}

// Run serves until ctx is cancelled, then stops accepting, drains in-flight
// executions, and returns.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.opts.Addr, err)
	}
	ln = netutil.LimitListener(ln, s.opts.MaxConns)

	srv := &http.Server{
		Handler:      s.Router(),
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("listening", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		s.wg.Wait()
		s.logger.Info("drained")
		return nil
	})
	return g.Wait()
}

// logRequests is the zap access log.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)))
	})
}
