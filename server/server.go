package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"KeyShift/config"
	"KeyShift/core/pipeline"
	"KeyShift/core/registry"
	"KeyShift/logger"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Seeker re-encodes a cached track from a time offset. It backs
// /audio?start=SECONDS for players that seek by time instead of byte range.
type Seeker interface {
	StreamFrom(ctx context.Context, path string, offset float64, w io.Writer) error
}

// Server exposes the prepare and streaming endpoints.
type Server struct {
	cfg      *config.Config
	registry *registry.Registry
	preparer *pipeline.Preparer
	tokens   *pipeline.Tokens
	seeker   Seeker
	router   *mux.Router
}

// New builds the router. seeker may be nil, which disables time-offset seeking.
func New(cfg *config.Config, reg *registry.Registry, preparer *pipeline.Preparer, seeker Seeker) *Server {
	s := &Server{
		cfg:      cfg,
		registry: reg,
		preparer: preparer,
		tokens:   pipeline.NewTokens(),
		seeker:   seeker,
		router:   mux.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	router := s.router

	// CORS, so a browser player on another origin can read Content-Range.
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Range")
			w.Header().Set("Access-Control-Expose-Headers", "Content-Length, Content-Range, Accept-Ranges")
			w.Header().Set("Access-Control-Max-Age", "86400")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	})

	router.HandleFunc("/prepare", s.HandlePrepare).Methods(http.MethodGet, http.MethodOptions)
	router.HandleFunc("/audio/{trackId}", s.HandleAudio).Methods(http.MethodGet, http.MethodHead, http.MethodOptions)
	router.HandleFunc("/audio", s.HandleAudio).Methods(http.MethodGet, http.MethodHead, http.MethodOptions)
	router.HandleFunc("/ws/prepare", s.HandlePrepareSocket).Methods(http.MethodGet)

	router.HandleFunc("/api/tracks", s.HandleListTracks).Methods(http.MethodGet, http.MethodOptions)
	router.HandleFunc("/api/tracks/{trackId}", s.HandleGetTrack).Methods(http.MethodGet, http.MethodOptions)

	router.HandleFunc("/health", s.HandleHealth).Methods(http.MethodGet)
	router.HandleFunc("/version", s.HandleVersion).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until SIGINT or SIGTERM and then shuts down gracefully.
func (s *Server) Start() error {
	server := &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
		// No WriteTimeout: prepares and streams legitimately run for minutes.
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(stop)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			logger.String("addr", server.Addr),
			logger.String("version", s.cfg.Version),
			logger.String("cacheDir", s.cfg.CacheDir))

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("failed to start server: %w", err)
	case sig := <-stop:
		logger.Info("shutting down server", logger.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
