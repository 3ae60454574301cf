package api

import (
	"context"
	"fmt"
	"geo-access/pkg/catalog"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// APIServer represents the REST API server
type APIServer struct {
	catalog *catalog.Catalog
	port    int
	server  *http.Server
}

// NewAPIServer creates a new API server instance
func NewAPIServer(c *catalog.Catalog, port int) *APIServer {
	return &APIServer{
		catalog: c,
		port:    port,
	}
}

// Handler is the full handler chain of the server.
func (s *APIServer) Handler() http.Handler {
	return RequestLogger(NewAPIHandler(s.catalog).Routes())
}

// Start starts the REST API server and blocks until it stops.
func (s *APIServer) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info().Int("port", s.port).Msg("Starting REST API server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully stops the REST API server
func (s *APIServer) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// RequestLogger is a middleware to log HTTP requests.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(ww, r)

		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.statusCode).
			Str("ip", r.RemoteAddr).
			Dur("duration", time.Since(start)).
			Msg("Request processed")
	})
}

type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader captures the status code before writing to the underlying response writer.
func (w *responseWriterWrapper) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
