// Package api implements the read-only HTTP API over the datamastor store.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/datamastor/datamastor/internal/logger"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// Server serves the read-only API.
type Server struct {
	addr    string
	logger  logger.Interface
	handler *Handler
	http    *http.Server
}

// NewServer creates the API server listening on addr.
func NewServer(addr string, db *sqlx.DB, log logger.Interface) *Server {
	if log == nil {
		log = logger.NewNoOp()
	}
	return &Server{
		addr:    addr,
		logger:  log,
		handler: NewHandler(db, log),
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", s.handler.Health)
	v1 := router.Group("/api/v1")
	{
		v1.GET("/sources", s.handler.ListSources)
		v1.GET("/sources/:id", s.handler.GetSource)
		v1.GET("/listings", s.handler.ListListings)
		v1.GET("/products", s.handler.ListProducts)
	}
	return router
}

// Start runs the server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.http = &http.Server{
		Addr:              s.addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting API server", "addr", s.addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("api server failed: %w", err)
	case <-ctx.Done():
		return s.Stop()
	}
}

// Stop shuts the server down gracefully.
func (s *Server) Stop() error {
	if s.http == nil {
		return nil
	}
	s.logger.Info("Stopping API server")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down api server: %w", err)
	}
	return nil
}
