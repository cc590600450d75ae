package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/google/uuid"
)

const SessionHeader = "X-Session-ID"

const sessionKey = "session_id"

// Session takes the session id from the X-Session-ID header or generates one,
// and echoes it back on the response. The header value is copied: it outlives
// the request as a history key.
func Session() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := strings.TrimSpace(utils.CopyString(c.Get(SessionHeader)))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		SetSessionID(c, id)
		return c.Next()
	}
}

func SetSessionID(c *fiber.Ctx, id string) {
	c.Locals(sessionKey, id)
	c.Set(SessionHeader, id)
}

func SessionID(c *fiber.Ctx) string {
	id, _ := c.Locals(sessionKey).(string)
	return id
}
