package web

import (
	"bufio"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"

	"github.com/teslashibe/go-parley/pkg/events"
	"github.com/teslashibe/go-parley/pkg/schema"
)

// keepAlive is the interval of SSE comment lines on an idle stream.
const keepAlive = 15 * time.Second

// handleStream streams every pipeline event as a server-sent event whose
// data is one JSON-encoded RunEvent. ?replay=n first sends the n most
// recent events. The stream ends after StreamTimeout without an event.
func (s *Server) handleStream(c *fiber.Ctx) error {
	replay := c.QueryInt("replay", 0)
	typ := c.Query("type", events.Wildcard)
	bus := s.engine.Bus()
	timeout := s.cfg.StreamTimeout
	done := s.done
	logger := s.logger

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		ch := make(chan schema.RunEvent, 64)
		id := bus.Subscribe(typ, func(ev schema.RunEvent) {
			select {
			case ch <- ev:
			default:
				logger.Debug("stream client lagging, dropping event", "type", ev.Type)
			}
		})
		defer bus.Unsubscribe(id)

		if replay > 0 {
			for _, ev := range bus.Recent(replay) {
				if typ != events.Wildcard && ev.Type != typ {
					continue
				}
				if err := writeEvent(w, ev); err != nil {
					return
				}
			}
		}
		if err := w.Flush(); err != nil {
			return
		}

		// timeout is an idle limit: every delivered event restarts it.
		var idle *time.Timer
		var deadline <-chan time.Time
		if timeout > 0 {
			idle = time.NewTimer(timeout)
			defer idle.Stop()
			deadline = idle.C
		}
		ticker := time.NewTicker(keepAlive)
		defer ticker.Stop()

		for {
			select {
			case ev := <-ch:
				if err := writeEvent(w, ev); err != nil {
					return
				}
				if idle != nil {
					idle.Reset(timeout)
				}
			case <-ticker.C:
				if _, err := w.WriteString(": keepalive\n\n"); err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					return
				}
			case <-deadline:
				return
			case <-done:
				return
			}
		}
	}))
	return nil
}

// writeEvent writes ev as one SSE message and flushes it.
func writeEvent(w *bufio.Writer, ev schema.RunEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
		return err
	}
	return w.Flush()
}
