package middleware

import (
	"github.com/deep-gaurav/selfcloud/internal/session"
	"github.com/gofiber/fiber/v2"
)

// sessionUserKey is the fiber.Ctx.Locals key handlers use to read the
// authenticated user after RequireSession has run.
const sessionUserKey = "selfcloud.session.user"

// RequireSession validates the sessionId cookie against the session
// validator and rejects the request with 401 if it is missing, malformed,
// expired, or names a user no longer present in users.json (spec.md §4.6's
// "auth checks are applied uniformly via session cookie").
func RequireSession(validator *session.Validator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		cookie := c.Cookies(session.CookieName())
		if cookie == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"message": "missing session cookie",
			})
		}

		user, err := validator.Validate(cookie)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"message": "unauthenticated",
			})
		}

		c.Locals(sessionUserKey, user)
		return c.Next()
	}
}

// SessionUser returns the user RequireSession stored for this request.
func SessionUser(c *fiber.Ctx) (session.User, bool) {
	user, ok := c.Locals(sessionUserKey).(session.User)
	return user, ok
}
