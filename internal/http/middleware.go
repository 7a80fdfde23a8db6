package http

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"taskhub/internal/metrics"
)

// RedisClient is the subset of *redis.Client used for rate limiting and
// health checks.
type RedisClient interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// requestMiddleware assigns a request id, then records metrics and a log
// line for every request.
func requestMiddleware(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		reqID := c.Get("X-Request-Id")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Locals("request_id", reqID)
		c.Set("X-Request-Id", reqID)

		err := c.Next()

		latency := time.Since(start)
		status := c.Response().StatusCode()
		method := c.Method()
		path := c.Path()
		if route := c.Route(); route != nil && route.Path != "" {
			path = route.Path
		}

		metrics.RecordRequest(method, path, status, latency.Milliseconds())

		if logger != nil {
			logger.Info("request",
				"request_id", reqID,
				"method", method,
				"path", c.Path(),
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
		return err
	}
}

// rateLimitOptions selects who a limiter applies to. Exempt peers are
// matched on the direct connection address, never on the proxy header.
type rateLimitOptions struct {
	perMinute      int
	exempt         map[string]struct{}
	exemptLoopback bool
}

func newRateLimitOptions(perMinute int, exemptIPs []string, exemptLoopback bool) rateLimitOptions {
	exempt := make(map[string]struct{}, len(exemptIPs))
	for _, ip := range exemptIPs {
		if parsed := net.ParseIP(strings.TrimSpace(ip)); parsed != nil {
			exempt[parsed.String()] = struct{}{}
		}
	}
	return rateLimitOptions{perMinute: perMinute, exempt: exempt, exemptLoopback: exemptLoopback}
}

func (o rateLimitOptions) exempts(peer net.IP) bool {
	if peer == nil {
		return false
	}
	if o.exemptLoopback && peer.IsLoopback() {
		return true
	}
	_, ok := o.exempt[peer.String()]
	return ok
}

// clientIP is the address a request is billed to: the proxy header when
// one is configured and present, otherwise the connection peer.
func clientIP(c *fiber.Ctx) string {
	if ip := c.IP(); ip != "" {
		return ip
	}
	return c.Context().RemoteIP().String()
}

// rateLimitMiddleware enforces a fixed one-minute window per client IP
// using Redis counters.
func rateLimitMiddleware(rdb RedisClient, opts rateLimitOptions, now func() time.Time) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if rdb == nil || opts.perMinute <= 0 || opts.exempts(c.Context().RemoteIP()) {
			return c.Next()
		}

		window := now().UTC().Format("200601021504")
		key := fmt.Sprintf("taskhub:rl:%s:%s", clientIP(c), window)

		ctx := c.UserContext()
		count, err := rdb.Incr(ctx, key).Result()
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
				Success: false,
				Code:    "INTERNAL_ERROR",
				Error:   fmt.Sprintf("rate limit increment failed: %v", err),
			})
		}
		if count == 1 {
			_ = rdb.Expire(ctx, key, time.Minute)
		}

		if count > int64(opts.perMinute) {
			return c.Status(fiber.StatusTooManyRequests).JSON(ErrorResponse{
				Success: false,
				Code:    "RATE_LIMIT_EXCEEDED",
				Error:   "Rate limit exceeded, try again later",
			})
		}
		return c.Next()
	}
}
