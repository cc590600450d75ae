package middleware

import (
	"context"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"resumerag/observability"
)

// Metrics records request counts and latencies per route. Errors are
// rendered here so the recorded status matches the response.
func Metrics(m *observability.Metrics) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		if err := c.Next(); err != nil {
			if herr := c.App().ErrorHandler(c, err); herr != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}
		m.RecordRequest(c.Method(), c.Route().Path, strconv.Itoa(c.Response().StatusCode()), time.Since(start))
		return nil
	}
}

// Timeout bounds the user context of every request.
func Timeout(d time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if d <= 0 {
			return c.Next()
		}
		ctx, cancel := context.WithTimeout(c.UserContext(), d)
		defer cancel()
		c.SetUserContext(ctx)
		return c.Next()
	}
}
