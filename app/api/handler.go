package api

import (
	"bufio"
	"context"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"

	"resumerag/app/middleware"
	"resumerag/types"
)

// Assistant answers questions over the indexed documents.
type Assistant interface {
	Answer(ctx context.Context, sessionID, question string) (types.Answer, error)
	Chat(ctx context.Context, sessionID, message string, onChunk func(string) error) (string, error)
}

type RequestHandler struct {
	assistant   Assistant
	chatTimeout time.Duration
}

func NewRequestHandler(assistant Assistant, chatTimeout time.Duration) *RequestHandler {
	return &RequestHandler{
		assistant:   assistant,
		chatTimeout: chatTimeout,
	}
}

// HandleQuery answers one question with retrieved resume context.
func (h *RequestHandler) HandleQuery(c *fiber.Ctx) error {
	var params types.QueryParams
	if c.BodyParser(&params) != nil {
		return ErrBadRequest()
	}
	if errors := types.Validate(&params); len(errors) > 0 {
		return NewValidationError(errors)
	}

	sessionID := sessionFor(c, params.SessionID)
	log.Printf("[QUERY] session %s: %q", sessionID, params.Query)

	resp, err := h.assistant.Answer(c.UserContext(), sessionID, params.Query)
	if err != nil {
		return err
	}
	return c.JSON(resp)
}

// HandleChat streams a chat reply as plain text.
func (h *RequestHandler) HandleChat(c *fiber.Ctx) error {
	var params types.ChatParams
	if c.BodyParser(&params) != nil {
		return ErrBadRequest()
	}
	if errors := types.Validate(&params); len(errors) > 0 {
		return NewValidationError(errors)
	}

	sessionID := sessionFor(c, params.SessionID)
	message := params.Message

	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	c.Set(fiber.HeaderCacheControl, "no-cache")
	// the writer runs after the handler returns, so it owns its context
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		ctx := context.Background()
		if h.chatTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, h.chatTimeout)
			defer cancel()
		}

		_, err := h.assistant.Chat(ctx, sessionID, message, func(chunk string) error {
			if _, err := w.WriteString(chunk); err != nil {
				return err
			}
			return w.Flush()
		})
		if err != nil {
			log.Printf("[CHAT] session %s: stream aborted: %v", sessionID, err)
			_, _ = w.WriteString("\n[error] " + toError(err).Message)
			_ = w.Flush()
		}
	})
	return nil
}

// sessionFor prefers a session id sent in the body over the header one.
func sessionFor(c *fiber.Ctx, fromBody string) string {
	if fromBody != "" {
		middleware.SetSessionID(c, fromBody)
		return fromBody
	}
	return middleware.SessionID(c)
}
