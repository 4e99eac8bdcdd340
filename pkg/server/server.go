// Package server exposes the attendance service over HTTP for the browser
// frontend: multipart uploads in, JSON with a "message" field out.
package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/MrCodeEU/faceattend/pkg/attendance"
	"github.com/MrCodeEU/faceattend/pkg/auth"
	"github.com/MrCodeEU/faceattend/pkg/config"
	"github.com/MrCodeEU/faceattend/pkg/logging"
	"github.com/MrCodeEU/faceattend/pkg/metrics"
)

// HealthCheck reports whether one dependency is usable.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Server is the HTTP front of the attendance service.
type Server struct {
	cfg      config.ServerConfig
	service  *attendance.Service
	sessions *auth.Manager
	metrics  *metrics.Metrics
	checks   []HealthCheck
	router   *gin.Engine
}

// New builds the router. m may be nil to disable /metrics.
func New(cfg config.ServerConfig, service *attendance.Service, sessions *auth.Manager, m *metrics.Metrics, checks ...HealthCheck) *Server {
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}

	s := &Server{
		cfg:      cfg,
		service:  service,
		sessions: sessions,
		metrics:  m,
		checks:   checks,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger())
	if s.metrics != nil {
		r.Use(observe(s.metrics))
	}
	if len(s.cfg.AllowedOrigins) > 0 {
		r.Use(corsMiddleware(s.cfg.AllowedOrigins))
	}
	r.Use(securityHeaders())
	if s.cfg.RateLimitPerMin > 0 {
		r.Use(newTokenBucket(s.cfg.RateLimitPerMin, s.cfg.RateLimitPerMin).middleware())
	}
	r.Use(limitBody(int64(s.cfg.MaxUploadMB) << 20))

	r.GET("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	r.POST("/login", s.handleLogin)

	gated := r.Group("/", loadSession(s.sessions))
	gated.POST("/logout", s.handleLogout)
	gated.POST("/register", s.handleRegister)
	gated.POST("/attendance", s.handleAttendance)
	gated.GET("/records", s.handleRecords)
	gated.GET("/users", s.handleUsers)
	gated.GET("/users/:id/image", s.handleUserImage)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"message": "Not found"})
	})
	return r
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on cfg.Address until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errLog := logging.Writer()
	defer errLog.Close()

	srv := &http.Server{
		Addr:         s.cfg.Address,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
		ErrorLog:     log.New(errLog, "http: ", 0),
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Infof("Starting server on %s", s.cfg.Address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logging.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logging.Info("Server exited")
	return nil
}
