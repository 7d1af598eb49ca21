// Package server is the browser front end: an upload page plus a small JSON
// API driving a single scanning session.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/MrCodeEU/facesweep/pkg/batch"
	"github.com/MrCodeEU/facesweep/pkg/logging"
	"github.com/MrCodeEU/facesweep/pkg/recognition"
	"github.com/MrCodeEU/facesweep/pkg/report"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// DefaultRequestTimeout bounds a request, including a synchronous scan.
const DefaultRequestTimeout = 30 * time.Minute

// ModelLoader loads the face models on demand.
type ModelLoader interface {
	LoadModels(modelPath string) error
	IsLoaded() bool
}

// Options configures a Server.
type Options struct {
	Addr           string
	ModelPath      string
	Loader         ModelLoader // nil when the extractor needs no loading
	Runner         batch.Options
	TileSize       float64
	RequestTimeout time.Duration
}

// Server represents the web server
type Server struct {
	opts       Options
	router     *chi.Mux
	httpServer *http.Server
	errorLog   io.Closer
	runner     *batch.Runner

	modelMu sync.Mutex

	mu     sync.Mutex
	run    *batch.Run
	report *report.Report
}

// New creates a server scanning with extractor.
func New(extractor recognition.Extractor, opts Options) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.TileSize <= 0 {
		opts.TileSize = report.DefaultTileSize
	}

	r := chi.NewRouter()
	s := &Server{
		opts:   opts,
		router: r,
		runner: batch.NewRunner(extractor, opts.Runner),
	}

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(opts.RequestTimeout))

	s.setupRoutes()

	errorLog := logging.Writer("http")
	s.errorLog = errorLog
	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           r,
		ReadHeaderTimeout: 30 * time.Second,
		WriteTimeout:      opts.RequestTimeout + time.Minute,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          log.New(errorLog, "", 0),
	}

	return s
}

func (s *Server) setupRoutes() {
	s.router.Get("/", s.handleIndex)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)
		r.Post("/reference", s.handleReference)
		r.Post("/scan", s.handleScan)
		r.Post("/reset", s.handleReset)
		r.Get("/report.txt", s.handleReportText)
		r.Get("/report.pdf", s.handleReportPDF)
	})
}

// Start loads the models if possible and serves until Shutdown.
func (s *Server) Start() error {
	if err := s.ensureModels(); err != nil {
		logging.Component("server").WithError(err).Warn("Face detection unavailable, will retry on first request")
	}

	logging.Component("server").Infof("Starting web server on http://%s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Component("server").Info("Shutting down web server...")
	defer s.errorLog.Close()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Runner returns the scanning session.
func (s *Server) Runner() *batch.Runner {
	return s.runner
}

// ensureModels loads the models once; failures are retried on the next call.
func (s *Server) ensureModels() error {
	s.modelMu.Lock()
	defer s.modelMu.Unlock()

	if s.opts.Loader == nil || s.opts.Loader.IsLoaded() {
		return nil
	}
	return s.opts.Loader.LoadModels(s.opts.ModelPath)
}

func (s *Server) modelsReady() bool {
	return s.opts.Loader == nil || s.opts.Loader.IsLoaded()
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			logging.Component("http").WithFields(logging.Fields{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"bytes":      ww.BytesWritten(),
				"duration":   time.Since(start).String(),
				"request_id": chiMiddleware.GetReqID(r.Context()),
			}).Debug("Request handled")
		}()
		next.ServeHTTP(ww, r)
	})
}
