package services

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
)

// NotificationStreamer pushes a user's outbox rows over server-sent events.
type NotificationStreamer struct {
	Outbox   *NotificationOutbox
	Interval time.Duration
	Log      *slog.Logger
}

// StreamUserNotificationsSSE streams notifications created after the connection opened.
func (s *NotificationStreamer) StreamUserNotificationsSSE(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	if userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing user context"})
	}

	interval := s.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no") // nginx

	ctx := c.Context()
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		cursor, err := s.Outbox.Latest(context.Background(), userID)
		if err != nil {
			s.Log.Error("SSE init failed", "user_id", userID, "error", err)
		}

		// initial keepalive
		w.WriteString(":\n\n")
		if err := w.Flush(); err != nil {
			return
		}

		for {
			select {
			case <-ticker.C:
				rows, err := s.Outbox.Since(context.Background(), userID, cursor, 100)
				if err != nil {
					s.Log.Error("SSE query failed", "user_id", userID, "error", err)
					continue
				}
				if len(rows) == 0 {
					w.WriteString(":\n\n")
				}
				for _, n := range rows {
					fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", n.ID, n.Type, n.Payload)
					cursor = n.Seq
				}
				if err := w.Flush(); err != nil {
					// client went away
					return
				}
			case <-ctx.Done():
				return
			}
		}
	})

	return nil
}
