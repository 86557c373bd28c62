// Package middleware holds the fiber handlers shared by the admin API and
// image intake apps: request logging, CORS, rate limiting, panic recovery,
// and session-cookie authentication. Shapes are adapted from the teacher's
// middleware/logger.go; the GORM-backed rate-limit setting lookup is
// replaced with a fixed configured limit since this module has no database.
package middleware

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/deep-gaurav/selfcloud/internal/logging"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

var log = logging.New("middleware")

// Logger logs method, path, status and latency for every request.
func Logger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		duration := time.Since(start)

		log.Printf(
			"%s | %3d | %13v | %15s | %-7s %s",
			time.Now().Format("2006/01/02 - 15:04:05"),
			c.Response().StatusCode(),
			duration,
			c.IP(),
			c.Method(),
			c.Path(),
		)
		return err
	}
}

// CORS validates the Origin header instead of reflecting a wildcard.
func CORS() fiber.Handler {
	return func(c *fiber.Ctx) error {
		origin := c.Get("Origin")
		if origin == "" {
			return c.Next()
		}

		allowed := isAllowedOrigin(origin)
		if allowed {
			c.Set("Access-Control-Allow-Origin", origin)
			c.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, PATCH")
			c.Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")
			c.Set("Access-Control-Allow-Credentials", "true")
			c.Set("Access-Control-Max-Age", "86400")
			c.Set("Vary", "Origin")
		}

		if c.Method() == fiber.MethodOptions {
			if allowed {
				return c.SendStatus(fiber.StatusNoContent)
			}
			return c.SendStatus(fiber.StatusForbidden)
		}

		return c.Next()
	}
}

func isAllowedOrigin(origin string) bool {
	if strings.Contains(origin, "localhost") || strings.Contains(origin, "127.0.0.1") {
		return true
	}
	if strings.Contains(origin, "://10.") || strings.Contains(origin, "://192.168.") {
		return true
	}
	for i := 16; i <= 31; i++ {
		if strings.Contains(origin, "://172."+strconv.Itoa(i)+".") {
			return true
		}
	}
	return false
}

// RateLimiter is a fixed-window per-IP limiter backed by Redis INCR/EXPIRE,
// so the limit holds across every replica of the admin API sharing one
// Redis instance rather than only within a single process — adapted from
// the teacher's database.Connect, which builds the same *redis.Client this
// handler is given, for its session/cache concern instead of a relational
// one.
func RateLimiter(client *redis.Client, maxRequests int, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
		defer cancel()

		key := "selfcloud:ratelimit:" + c.IP()

		count, err := client.Incr(ctx, key).Result()
		if err != nil {
			log.Printf("rate limiter: redis incr: %v", err)
			return c.Next()
		}
		if count == 1 {
			if err := client.Expire(ctx, key, window).Err(); err != nil {
				log.Printf("rate limiter: redis expire: %v", err)
			}
		}

		if count > int64(maxRequests) {
			ttl, _ := client.TTL(ctx, key).Result()
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"success": false,
				"message": "rate limit exceeded, try again in " + strconv.Itoa(int(ttl.Seconds())) + "s",
			})
		}

		return c.Next()
	}
}

// Recovery turns a panic inside a handler into a 500 instead of crashing
// the process (spec.md §4.2's "gateway NEVER panics" requirement extended
// to the admin API).
func Recovery() fiber.Handler {
	return func(c *fiber.Ctx) error {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("panic recovered: %v", r)
				c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
					"success": false,
					"message": "internal server error",
				})
			}
		}()
		return c.Next()
	}
}
