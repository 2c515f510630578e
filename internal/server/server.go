package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"scanlens/config"
	"scanlens/internal/logger"
	"scanlens/internal/runs"
)

const shutdownTimeout = 5 * time.Second

// Server exposes runs over HTTP and WebSocket.
type Server struct {
	svc    *runs.Service
	cfg    config.ServerConfig
	log    *logger.Logger
	router *gin.Engine

	// done is closed when the server stops, ending open streams.
	done chan struct{}
}

// New builds the router.
func New(svc *runs.Service, cfg config.ServerConfig, log *logger.Logger) *Server {
	s := &Server{
		svc:  svc,
		cfg:  cfg,
		log:  log,
		done: make(chan struct{}),
	}
	if cfg.DefaultPageSize <= 0 {
		s.cfg.DefaultPageSize = runs.DefaultPageSize
	}
	if cfg.MaxPageSize <= 0 || cfg.MaxPageSize > runs.MaxPageSize {
		s.cfg.MaxPageSize = runs.MaxPageSize
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestID())
	router.Use(cors())
	router.Use(s.accessLog())
	s.setupRoutes(router)
	s.router = router
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes(router *gin.Engine) {
	router.GET("/healthz", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		api.GET("/runs", s.handleListRuns)
		api.GET("/runs/:run_id/snapshot", s.handleSnapshot)
		api.GET("/runs/:run_id/events", s.handleEvents)
		api.GET("/runs/:run_id/vulnerabilities", s.handleVulnerabilities)
	}
	router.GET("/ws/runs/:run_id", s.handleStream)

	if dir := s.cfg.FrontendDir; dir != "" && isDir(dir) {
		s.log.Infof("Serving frontend from %s", dir)
		router.NoRoute(gin.WrapH(http.FileServer(http.Dir(dir))))
	} else {
		router.GET("/", s.handleFrontendPlaceholder)
	}
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("Listening on %s (runs dir %s)", s.cfg.Addr, s.svc.Root())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.stop()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.log.Infof("Server stopped")
	return nil
}

func (s *Server) stop() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
