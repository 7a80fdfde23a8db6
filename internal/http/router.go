package http

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"taskhub/internal/config"
	"taskhub/internal/metrics"
	"taskhub/internal/orchestrator"
)

// Deps are the collaborators the routes are built from. The job API needs
// Store and JobTypes; the dashboard needs Orchestrator, Submitter and
// Status. Redis is optional.
type Deps struct {
	Store    JobStore
	JobTypes []string

	Orchestrator *orchestrator.Orchestrator
	Submitter    Submitter
	Status       orchestrator.StatusFetcher

	Redis  RedisClient
	Logger *slog.Logger
}

type Server struct {
	app    *fiber.App
	config *config.Config
	logger *slog.Logger

	done     chan struct{}
	stopOnce sync.Once
}

// NewServer mounts the routes for cfg's role: "jobs" serves the job API,
// "dashboard" the task dashboard, "all" both.
func NewServer(cfg *config.Config, deps Deps) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
		ProxyHeader:           cfg.Server.ProxyHeader,
	})
	s := &Server{
		app:    app,
		config: cfg,
		logger: deps.Logger,
		done:   make(chan struct{}),
	}

	app.Use(recover.New())
	app.Use(requestMiddleware(deps.Logger))

	app.Get("/healthz", healthHandler(cfg, deps))
	app.Get("/metrics", func(c *fiber.Ctx) error {
		c.Type("txt")
		return c.SendString(metrics.Export())
	})

	v1 := app.Group("/v1")
	role := cfg.Role()

	// In role "all" the dashboard submits to its own job API over loopback;
	// those submissions were already billed to the user on POST /v1/tasks.
	limits := cfg.RateLimit
	jobsLimit := rateLimitMiddleware(deps.Redis, newRateLimitOptions(limits.PerMinute, limits.ExemptIPs, role == "all"), time.Now)
	tasksLimit := rateLimitMiddleware(deps.Redis, newRateLimitOptions(limits.PerMinute, nil, false), time.Now)

	if role == "jobs" || role == "all" {
		h := &jobHandlers{store: deps.Store, types: deps.JobTypes}
		v1.Post("/jobs", jobsLimit, h.submit)
		v1.Get("/jobs/:id/status", h.status)
	}
	if role == "dashboard" || role == "all" {
		h := &taskHandlers{orch: deps.Orchestrator, submitter: deps.Submitter, status: deps.Status}
		v1.Get("/tasks", h.list)
		v1.Get("/tasks/stream", h.stream(s.done))
		v1.Post("/tasks", tasksLimit, h.spawn)
		v1.Post("/tasks/clear", h.clear)
		v1.Get("/tasks/:id/result", h.result)
	}

	return s
}

// App exposes the fiber app, mainly for tests.
func (s *Server) App() *fiber.App { return s.app }

func (s *Server) Listen() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	return s.app.Listen(addr)
}

// Shutdown ends open event streams and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.done) })
	return s.app.ShutdownWithContext(ctx)
}

func healthHandler(cfg *config.Config, deps Deps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Query("deep") != "true" {
			return c.JSON(fiber.Map{"status": "ok", "role": cfg.Role()})
		}

		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()

		dbStatus := "disabled"
		if deps.Store != nil {
			dbStatus = "ok"
			if err := deps.Store.Ping(ctx); err != nil {
				dbStatus = "error"
			}
		}

		redisStatus := "disabled"
		if deps.Redis != nil {
			redisStatus = "ok"
			if err := deps.Redis.Ping(ctx).Err(); err != nil {
				redisStatus = "error"
			}
		}

		rodStatus := "disabled"
		if cfg.Rod.Enabled {
			rodStatus = "enabled"
		}

		status := "ok"
		code := fiber.StatusOK
		if dbStatus == "error" || redisStatus == "error" {
			status = "error"
			code = fiber.StatusServiceUnavailable
		}

		return c.Status(code).JSON(fiber.Map{
			"status": status,
			"role":   cfg.Role(),
			"db":     dbStatus,
			"redis":  redisStatus,
			"rod":    rodStatus,
		})
	}
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if fe, ok := err.(*fiber.Error); ok {
		code = fe.Code
	}
	return c.Status(code).JSON(ErrorResponse{
		Success: false,
		Code:    "HTTP_ERROR",
		Error:   err.Error(),
	})
}
