package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/essay-grader/backend/internal/api/handlers"
	"github.com/essay-grader/backend/internal/batch"
	"github.com/essay-grader/backend/internal/metrics"
	"github.com/essay-grader/backend/internal/middleware/security"
	"github.com/essay-grader/backend/pkg/logger"
	"github.com/essay-grader/backend/pkg/ratelimit"
)

const limiterPruneInterval = 5 * time.Minute

type Options struct {
	// RequestsPerMinute per client IP; zero disables the limit.
	RequestsPerMinute int
}

// Server exposes batch progress and metrics while a run is in flight.
type Server struct {
	app     *fiber.App
	limiter *ratelimit.RateLimiter
	stop    chan struct{}
}

func NewServer(tracker *batch.Tracker, opts Options) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
	})

	app.Use(recover.New())
	app.Use(security.HeadersMiddleware(security.HeadersConfig{}))

	progressHandler := handlers.NewProgressHandler(tracker)
	wsHandler := handlers.NewWebSocketHandler(tracker)

	app.Get("/metrics", metrics.MetricsHandler())

	api := app.Group("/api/v1")

	srv := &Server{app: app, stop: make(chan struct{})}
	if opts.RequestsPerMinute > 0 {
		limiter := ratelimit.New(ratelimit.Config{
			MaxRequestsPerMinute: opts.RequestsPerMinute,
			Logger:               logger.Named("api"),
		})
		api.Use(limiter.Middleware())
		srv.limiter = limiter
	}

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/progress", progressHandler.GetProgress)
	api.Get("/progress/active/:index", progressHandler.GetActiveEssay)

	api.Use("/progress/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	api.Get("/progress/ws", websocket.New(wsHandler.HandleConnection))

	return srv
}

func (s *Server) App() *fiber.App {
	return s.app
}

// Start listens in the background. Listen errors are logged, not fatal.
func (s *Server) Start(addr string) {
	logger.Info("Status server starting", zap.String("address", addr))
	go func() {
		if err := s.app.Listen(addr); err != nil {
			logger.Error("Status server stopped", zap.Error(err))
		}
	}()
	if s.limiter != nil {
		go s.pruneLimiter()
	}
}

func (s *Server) Shutdown() error {
	close(s.stop)
	return s.app.Shutdown()
}

// pruneLimiter drops per-client buckets that have been idle for a while.
func (s *Server) pruneLimiter() {
	ticker := time.NewTicker(limiterPruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.limiter.Prune(limiterPruneInterval)
		}
	}
}
