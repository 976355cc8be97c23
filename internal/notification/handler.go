package notification

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"

	"github.com/congo-pay/walletcore/internal/auth"
)

const keepAliveInterval = 15 * time.Second

// Subscriber streams the events of one account.
type Subscriber interface {
	Subscribe(ctx context.Context, accountID string) (<-chan Message, error)
}

// Handler serves an account's transfer events as server-sent events.
type Handler struct {
	subscriber Subscriber
	logger     *slog.Logger
}

// NewHandler returns a Handler reading events from subscriber.
func NewHandler(subscriber Subscriber, logger *slog.Logger) *Handler {
	return &Handler{subscriber: subscriber, logger: logger}
}

// Events streams the caller's transfer events as server-sent events until the
// client disconnects.
func (h *Handler) Events(c *fiber.Ctx) error {
	caller := auth.CallerID(c)
	ctx, cancel := context.WithCancel(context.Background())
	events, err := h.subscriber.Subscribe(ctx, caller)
	if err != nil {
		cancel()
		return err
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	logger := h.logger.With("account_id", caller)
	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer cancel()
		ticker := time.NewTicker(keepAliveInterval)
		defer ticker.Stop()

		if _, err := fmt.Fprint(w, ": connected\n\n"); err != nil || w.Flush() != nil {
			return
		}
		for {
			select {
			case msg, ok := <-events:
				if !ok {
					return
				}
				payload, err := json.Marshal(msg)
				if err != nil {
					logger.Warn("encode event", "error", err)
					continue
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Kind, payload)
			case <-ticker.C:
				fmt.Fprint(w, ": keepalive\n\n")
			}
			if err := w.Flush(); err != nil {
				logger.Debug("event stream closed", "error", err)
				return
			}
		}
	}))
	return nil
}
