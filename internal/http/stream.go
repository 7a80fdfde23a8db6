package http

import (
	"bufio"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"

	"taskhub/internal/tasks"
)

const streamKeepAlive = 15 * time.Second

// stream handles GET /v1/tasks/stream with Server-Sent Events. The current
// snapshot is sent first, then one event per registry change. Slow clients
// skip intermediate snapshots rather than holding up the registry.
func (h *taskHandlers) stream(done <-chan struct{}) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Set(fiber.HeaderContentType, "text/event-stream")
		c.Set(fiber.HeaderCacheControl, "no-cache")
		c.Set(fiber.HeaderConnection, "keep-alive")
		c.Set("X-Accel-Buffering", "no")

		reg := h.orch.Registry()
		c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
			streamSnapshots(w, reg, done, streamKeepAlive)
		}))
		return nil
	}
}

// streamSnapshots writes events until done is closed or a write fails.
func streamSnapshots(w *bufio.Writer, reg *tasks.Registry, done <-chan struct{}, keepAlive time.Duration) {
	updates := make(chan tasks.Snapshot, 1)
	unsubscribe := reg.Subscribe(func(s tasks.Snapshot) {
		// Latest wins: drop the unsent snapshot, if any.
		for {
			select {
			case updates <- s:
				return
			default:
			}
			select {
			case <-updates:
			default:
			}
		}
	})
	defer unsubscribe()

	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case s := <-updates:
			if err := writeEvent(w, "snapshot", s); err != nil {
				return
			}
		case <-ticker.C:
			if _, err := w.WriteString(": keep-alive\n\n"); err != nil {
				return
			}
			if err := w.Flush(); err != nil {
				return
			}
		}
	}
}

func writeEvent(w *bufio.Writer, event string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	return w.Flush()
}
