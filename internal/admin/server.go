package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/foxseedlab/lecturerelay/internal/config"
	"github.com/foxseedlab/lecturerelay/internal/registry"
	"github.com/foxseedlab/lecturerelay/internal/repository"
	"github.com/gin-gonic/gin"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// Controller is the worker handle the admin API drives.
type Controller interface {
	Activate(ctx context.Context) error
	Deactivate(ctx context.Context) error
	Active() bool
	LastError() error
	Configure(creds config.Credentials)
	SetChannels(channels []registry.ChannelMapping)
}

type Store interface {
	repository.ChannelRepository
	repository.CredentialRepository
	repository.AdminRepository
	repository.DeliveryRepository
}

type Options struct {
	ListenAddr   string
	JWTSecret    string
	SessionTTL   time.Duration
	SecureCookie bool
}

type Server struct {
	store      Store
	controller Controller
	tokens     *tokenService
	opts       Options
	engine     *gin.Engine
}

func NewServer(store Store, controller Controller, opts Options) *Server {
	s := &Server{
		store:      store,
		controller: controller,
		tokens:     newTokenService(opts.JWTSecret, opts.SessionTTL),
		opts:       opts,
	}
	s.engine = s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/healthz", s.health)

	api := r.Group("/api")
	api.POST("/setup", s.setup)
	api.POST("/login", s.login)
	api.POST("/logout", s.logout)

	authed := api.Group("", s.requireSession())
	authed.GET("/data", s.data)
	authed.POST("/config", s.saveConfig)
	authed.POST("/session/:action", s.session)
	authed.POST("/channels", s.addChannel)
	authed.DELETE("/channels/:id", s.deleteChannel)
	authed.POST("/channels/:id/toggle", s.toggleChannel)
	authed.GET("/deliveries", s.deliveries)
	return r
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Info("admin request",
			"status", c.Writer.Status(),
			"method", c.Request.Method,
			"path", c.FullPath(),
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		)
	}
}

// Run serves the admin API until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.ListenAddr,
		Handler:           s.engine,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("admin api listening", "addr", s.opts.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("admin api stopped: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down admin api: %w", err)
	}
	return nil
}
