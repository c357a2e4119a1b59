package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apihttp "github.com/GriffinCanCode/pluginbridge/internal/api/http"
	"github.com/GriffinCanCode/pluginbridge/internal/api/middleware"
	"github.com/GriffinCanCode/pluginbridge/internal/infrastructure/config"
	"github.com/GriffinCanCode/pluginbridge/internal/infrastructure/logging"
	"github.com/GriffinCanCode/pluginbridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/pluginbridge/internal/ws"
)

// Server wraps the relay hub and its HTTP surface.
type Server struct {
	router  *gin.Engine
	hub     *ws.Hub
	http    *http.Server
	logger  *logging.Logger
	config  *config.Config
	metrics *monitoring.Metrics

	mu       sync.Mutex
	listener net.Listener
	done     chan error
}

// New builds the relay server. Nothing listens until Start.
func New(cfg *config.Config, logger *logging.Logger, metrics *monitoring.Metrics) *Server {
	logger = logger.Named("server")

	hub := ws.NewHub(ws.Config{
		Rooms:           cfg.Relay.Rooms,
		PingInterval:    cfg.Relay.PingInterval,
		MaxMessageBytes: cfg.Relay.MaxMessageBytes,
		SendQueue:       cfg.Relay.SendQueue,
	}, logger, metrics)

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))

	handlers := apihttp.NewHandlers(hub, metrics)

	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)
	router.GET("/rooms", handlers.Rooms)
	router.GET("/stats", handlers.Stats)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	relay := []gin.HandlerFunc{}
	if cfg.RateLimit.Enabled {
		logger.Info("Handshake rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		relay = append(relay, middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}
	relay = append(relay, hub.HandleConnection)
	router.GET("/relay", relay...)

	return &Server{
		router:  router,
		hub:     hub,
		http:    &http.Server{Handler: router, ReadHeaderTimeout: 10 * time.Second},
		logger:  logger,
		config:  cfg,
		metrics: metrics,
	}
}

// Hub returns the relay hub.
func (s *Server) Hub() *ws.Hub {
	return s.hub
}

// Handler returns the router, for serving from a test server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured relay address and serves in the
// background. A taken port fails here rather than later.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return errors.New("server already started")
	}

	ln, err := net.Listen("tcp", s.config.Relay.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.Relay.Addr(), err)
	}
	s.listener = ln
	s.done = make(chan error, 1)

	s.logger.Info("Relay listening",
		zap.String("addr", ln.Addr().String()),
		zap.Strings("rooms", s.hub.AllowedRooms()),
	)

	go func() {
		err := s.http.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		s.done <- err
	}()
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.config.Relay.Addr()
}

// URL returns the relay WebSocket endpoint.
func (s *Server) URL() string {
	return fmt.Sprintf("ws://%s/relay", s.Addr())
}

// HTTPURL returns the base URL of the status endpoints.
func (s *Server) HTTPURL() string {
	return fmt.Sprintf("http://%s", s.Addr())
}

// Wait blocks until the server stops serving.
func (s *Server) Wait() error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	err := <-done
	done <- err
	return err
}

// Shutdown closes relay connections, then stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down relay...")

	var errs []error
	if err := s.hub.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("relay hub: %w", err))
	}
	if err := s.http.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http server: %w", err))
	}

	s.logger.Sync()
	return errors.Join(errs...)
}
