package worker

import (
	"go.uber.org/zap"

	"github.com/adcondev/print-agent/internal/dispatch"
)

type pendingEvent struct {
	event   string
	payload any
}

// asyncConn delivers a job's events in order on its own goroutine so a
// slow client never holds a worker.
type asyncConn struct {
	target dispatch.Connection
	events chan pendingEvent
	logger *zap.Logger
}

func newAsyncConn(target dispatch.Connection, logger *zap.Logger) *asyncConn {
	c := &asyncConn{target: target, events: make(chan pendingEvent, 8), logger: logger}
	go c.deliver()
	return c
}

// Emit queues the event. It never blocks on the network.
func (c *asyncConn) Emit(event string, payload any) error {
	select {
	case c.events <- pendingEvent{event, payload}:
	default:
		c.logger.Warn("notification dropped, client too slow", zap.String("event", event))
	}
	return nil
}

// Close stops accepting events; queued ones are still delivered.
func (c *asyncConn) Close() {
	close(c.events)
}

func (c *asyncConn) deliver() {
	for ev := range c.events {
		if err := c.target.Emit(ev.event, ev.payload); err != nil {
			c.logger.Warn("failed to notify client", zap.String("event", ev.event), zap.Error(err))
		}
	}
}
