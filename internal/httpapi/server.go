// Package httpapi exposes the alert CRUD and sweep-trigger endpoints.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// ServerOptions configure the HTTP listener.
type ServerOptions struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Server wraps the gin engine with graceful lifecycle handling.
type Server struct {
	srv     *http.Server
	logger  zerolog.Logger
	timeout time.Duration
}

// NewServer builds the router and binds all routes. The write timeout must
// accommodate a full synchronous sweep triggered through POST /alerts/run.
func NewServer(opts ServerOptions, h *Handlers, logger zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", h.Health)
	router.POST("/auth/register", h.Register)
	router.POST("/auth/login", h.Login)
	router.GET("/search", h.Search)

	authorized := router.Group("/", h.RequireOwner())
	{
		authorized.POST("/alerts", h.CreateAlert)
		authorized.GET("/alerts", h.ListAlerts)
		authorized.DELETE("/alerts/:id", h.DeleteAlert)
		authorized.POST("/alerts/run", h.RunSweep)
	}

	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 5 * time.Second
	}

	return &Server{
		srv: &http.Server{
			Addr:         opts.Addr,
			Handler:      router,
			ReadTimeout:  opts.ReadTimeout,
			WriteTimeout: opts.WriteTimeout,
		},
		logger:  logger.With().Str("component", "http_server").Logger(),
		timeout: shutdownTimeout,
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.srv.Addr).Msg("http server listening")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	s.logger.Info().Msg("shutting down http server")
	return s.srv.Shutdown(shutdownCtx)
}
