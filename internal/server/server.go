// Package server exposes the detection pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ivlev/stampdetect/internal/config"
	"github.com/ivlev/stampdetect/internal/engine"
)

// Processor runs detection over an upload.
type Processor interface {
	Process(ctx context.Context, up engine.Upload) (*engine.Response, error)
}

// ModelStatus reports on the detection backend.
type ModelStatus interface {
	ModelName() string
	CheckHealth(ctx context.Context) error
}

type Server struct {
	cfg       config.ServerConfig
	dataDir   string
	processor Processor
	model     ModelStatus
	logger    *slog.Logger
	newID     func() string
}

func New(cfg config.ServerConfig, dataDir string, p Processor, m ModelStatus, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:       cfg,
		dataDir:   dataDir,
		processor: p,
		model:     m,
		logger:    logger,
		newID:     uuid.NewString,
	}
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/test", s.handleTest)
	mux.HandleFunc("/detect", s.handleDetect)
	mux.HandleFunc("/health", s.handleHealth)

	var h http.Handler = mux
	if s.cfg.CORS {
		h = corsMiddleware(h)
	}
	h = s.recoverMiddleware(h)
	return s.requestMiddleware(h)
}

// ListenAndServe listens on the configured address and serves until ctx is
// done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then shuts down
// gracefully within the configured timeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("server listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		timeout := s.cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		s.logger.Info("shutting down server", "timeout", timeout)
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
