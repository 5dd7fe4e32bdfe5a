package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Riboost-Studio/print-my-bridge/internal/model"
)

const (
	eventWriteWait    = 10 * time.Second
	eventPingInterval = 30 * time.Second
	eventBuffer       = 16
)

// JobEvents fans job outcomes out to WebSocket subscribers. Publishing never
// blocks: a subscriber whose buffer is full misses the event.
type JobEvents struct {
	mu      sync.Mutex
	clients map[*eventClient]struct{}
	logger  *slog.Logger
}

type eventClient struct {
	send chan model.JobEvent
}

func NewJobEvents(logger *slog.Logger) *JobEvents {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobEvents{
		clients: make(map[*eventClient]struct{}),
		logger:  logger.With("module", "events"),
	}
}

// Publish stamps the event time if unset and queues it for every subscriber.
func (h *JobEvents) Publish(ev model.JobEvent) {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			h.logger.Debug("subscriber too slow, event dropped", "type", ev.Type, "job_id", ev.JobID)
		}
	}
}

// Subscribers returns the number of connected clients.
func (h *JobEvents) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *JobEvents) subscribe() *eventClient {
	c := &eventClient{send: make(chan model.JobEvent, eventBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *JobEvents) unsubscribe(c *eventClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// Serve streams events to conn until the peer goes away or ctx ends. It owns
// conn and closes it.
func (h *JobEvents) Serve(ctx context.Context, conn *websocket.Conn) {
	c := h.subscribe()
	defer h.unsubscribe(c)
	defer conn.Close()

	// The read side only exists to notice the peer closing.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(eventPingInterval)
	defer ticker.Stop()

	for {
		var msg model.JobEvent
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(eventWriteWait))
			return
		case <-gone:
			return
		case msg = <-c.send:
		case <-ticker.C:
			msg = model.JobEvent{Type: model.MessageTypePing, Time: time.Now().UTC()}
		}

		_ = conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
		if err := conn.WriteJSON(msg); err != nil {
			h.logger.Debug("event write failed", "error", err)
			return
		}
	}
}
