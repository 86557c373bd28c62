package middleware

import (
	"net"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/deep-gaurav/selfcloud/internal/session"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsAllowedOrigin(t *testing.T) {
	cases := map[string]bool{
		"http://localhost:3000":  true,
		"http://127.0.0.1:3000":  true,
		"http://10.0.0.5:3000":   true,
		"http://192.168.1.5":     true,
		"http://172.20.0.5":      true,
		"https://evil.example.com": false,
	}
	for origin, want := range cases {
		assert.Equal(t, want, isAllowedOrigin(origin), origin)
	}
}

func TestCORSPreflightAllowedOrigin(t *testing.T) {
	app := fiber.New()
	app.Use(CORS())
	app.Get("/ping", func(c *fiber.Ctx) error { return c.SendString("pong") })

	req := httptest.NewRequest(fiber.MethodOptions, "/ping", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestCORSPreflightDisallowedOrigin(t *testing.T) {
	app := fiber.New()
	app.Use(CORS())
	app.Get("/ping", func(c *fiber.Ctx) error { return c.SendString("pong") })

	req := httptest.NewRequest(fiber.MethodOptions, "/ping", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}

func TestRecoveryTurnsPanicInto500(t *testing.T) {
	app := fiber.New()
	app.Use(Recovery())
	app.Get("/boom", func(c *fiber.Ctx) error { panic("kaboom") })

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/boom", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
}

// unreachableRedis returns a client pointed at a closed local port, so every
// command fails immediately instead of hanging a test on a real connection.
func unreachableRedis(t *testing.T) *redis.Client {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return redis.NewClient(&redis.Options{Addr: addr, DialTimeout: 200 * time.Millisecond})
}

// RateLimiter fails open when Redis is unreachable rather than blocking every
// request on an infra outage; the INCR/EXPIRE/TTL counting path itself needs
// a live Redis and is exercised by hand against internal/config.RedisAddr in
// integration, not here.
func TestRateLimiterFailsOpenWhenRedisUnreachable(t *testing.T) {
	client := unreachableRedis(t)
	app := fiber.New()
	app.Use(RateLimiter(client, 1, time.Minute))
	app.Get("/ping", func(c *fiber.Ctx) error { return c.SendString("pong") })

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/ping", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestRequireSessionMissingCookie(t *testing.T) {
	validator := session.New(t.TempDir(), [32]byte{})
	app := fiber.New()
	app.Use(RequireSession(validator))
	app.Get("/secure", func(c *fiber.Ctx) error { return c.SendString("ok") })

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/secure", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestRequireSessionMalformedCookie(t *testing.T) {
	validator := session.New(t.TempDir(), [32]byte{})
	app := fiber.New()
	app.Use(RequireSession(validator))
	app.Get("/secure", func(c *fiber.Ctx) error { return c.SendString("ok") })

	req := httptest.NewRequest(fiber.MethodGet, "/secure", nil)
	req.Header.Set("Cookie", session.CookieName()+"=not-valid-base64!!")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}
