// Package httpapi is the client query surface: the dashboard and agent
// screens read and act on sessions through it, and call-result intake
// closes sessions through it.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/leadcheck/leadcheck/internal/feed"
	"github.com/leadcheck/leadcheck/internal/handoff"
)

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	Handoff      *handoff.Orchestrator
	Feed         *feed.Hub // Optional; /v1/feed is not mounted without it
	JWTSecret    []byte
	IntakeSecret []byte // Optional; intake is not mounted without it
	CORSOrigins  []string
	Logger       *slog.Logger
	Now          func() time.Time
	FeedOptions  []feed.StreamOption
}

// Server serves the HTTP API.
type Server struct {
	orch       *handoff.Orchestrator
	log        *slog.Logger
	now        func() time.Time
	engine     *gin.Engine
	httpServer *http.Server
}

// NewServer builds the router.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Handoff == nil {
		return nil, errors.New("httpapi: orchestrator is required")
	}
	if len(cfg.JWTSecret) == 0 {
		return nil, errors.New("httpapi: auth.jwt_secret is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}

	gin.SetMode(gin.ReleaseMode)
	s := &Server{orch: cfg.Handoff, log: cfg.Logger, now: cfg.Now, engine: gin.New()}
	s.engine.Use(gin.Recovery(), requestID(), s.requestLog())
	if len(cfg.CORSOrigins) > 0 {
		s.engine.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORSOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Last-Event-ID"},
			ExposeHeaders:    []string{"Content-Length", "X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}
	s.routes(cfg)
	return s, nil
}

func (s *Server) routes(cfg ServerConfig) {
	s.engine.GET("/health", s.health)

	v1 := s.engine.Group("/v1")
	if len(cfg.IntakeSecret) > 0 {
		intake := v1.Group("/intake", IntakeMiddleware(cfg.IntakeSecret, cfg.Now))
		intake.POST("/submissions/:id/close", s.closeSubmission)
	}

	secured := v1.Group("", JWTMiddleware(cfg.JWTSecret))
	secured.GET("/sessions", s.listSessions)
	secured.GET("/sessions/:id", s.getSession)
	secured.GET("/sessions/:id/events", s.listEvents)
	secured.POST("/sessions/:id/:action", s.sessionAction)
	secured.GET("/submissions/:id/session", s.getSubmissionSession)
	secured.POST("/submissions/:id/claim", s.claimSubmission)
	secured.PUT("/items/:id/verified", s.setVerified)
	secured.PUT("/items/:id/value", s.setValue)
	secured.GET("/agents", s.listAgents)
	if cfg.Feed != nil {
		secured.GET("/feed", gin.WrapH(feed.NewStreamHandler(cfg.Feed, cfg.FeedOptions...)))
	}
}

// Handler returns the HTTP handler for use with custom servers.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Serve listens on addr until ctx is done, then shuts down gracefully.
// WriteTimeout is left at zero because /v1/feed streams indefinitely.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.httpServer = &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.log.Info("http api listening", "addr", ln.Addr().String())

	errc := make(chan error, 1)
	go func() { errc <- s.httpServer.Serve(ln) }()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	}
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"request_id", c.GetString("request_id"),
			"actor", actorFrom(c).ID,
		)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": s.now().Format(time.RFC3339)})
}
