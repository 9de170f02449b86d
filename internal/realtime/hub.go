// Package realtime pushes compression progress to browsers over WebSocket.
package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for heartbeat (seconds).
	PingInterval = 30
	PongWait     = 60
)

// Event names pushed to clients.
const (
	EventCompressStarted  = "compress_started"
	EventPartStarted      = "part_started"
	EventPartFinished     = "part_finished"
	EventCompressFinished = "compress_finished"
)

// EventBus carries SessionEvents between instances. *RedisPubSub implements it.
type EventBus interface {
	Publish(ctx context.Context, ev SessionEvent) error
	Subscribe(ctx context.Context, deliver func(SessionEvent)) (cancel func(), err error)
}

// Hub maintains session_id -> set of connections. Once a bus is attached, events are
// published once and reach local clients through the bus subscription.
type Hub struct {
	// sessionID -> clientID -> client
	sessions map[string]map[string]*Client
	mu       sync.RWMutex
	logger   *zap.Logger

	busMu sync.RWMutex
	bus   EventBus
}

// NewHub creates a hub that delivers locally until Attach succeeds.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		sessions: make(map[string]map[string]*Client),
		logger:   logger,
	}
}

// Attach subscribes to bus and routes Notify through it until ctx is done. On error the
// hub stays local.
func (h *Hub) Attach(ctx context.Context, bus EventBus) error {
	cancel, err := bus.Subscribe(ctx, func(ev SessionEvent) {
		h.Broadcast(ev.SessionID, ev.Event, ev.Data)
	})
	if err != nil {
		return err
	}
	h.busMu.Lock()
	h.bus = bus
	h.busMu.Unlock()
	go func() {
		<-ctx.Done()
		h.busMu.Lock()
		h.bus = nil
		h.busMu.Unlock()
		cancel()
	}()
	return nil
}

// Register adds a client.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if h.sessions[c.SessionID] == nil {
		h.sessions[c.SessionID] = make(map[string]*Client)
	}
	h.sessions[c.SessionID][c.ID] = c
	h.mu.Unlock()
	h.logger.Debug("client connected", zap.String("client_id", c.ID), zap.String("session_id", c.SessionID))
}

// Unregister removes a client and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if m, ok := h.sessions[c.SessionID]; ok {
		if _, present := m[c.ID]; present {
			delete(m, c.ID)
			close(c.send)
		}
		if len(m) == 0 {
			delete(h.sessions, c.SessionID)
		}
	}
	h.mu.Unlock()
	h.logger.Debug("client disconnected", zap.String("client_id", c.ID), zap.String("session_id", c.SessionID))
}

// Broadcast sends to the local clients of a session. Slow clients drop messages.
func (h *Hub) Broadcast(sessionID, event string, payload interface{}) {
	var data []byte
	switch v := payload.(type) {
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		data, _ = json.Marshal(payload)
	}
	msg := WSMessage{Event: event, Data: data}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.sessions[sessionID] {
		select {
		case c.send <- msg:
		default:
		}
	}
}

// Notify delivers an event to every connection of a session across instances. A failed
// publish falls back to local delivery.
func (h *Hub) Notify(sessionID, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Warn("marshal event failed", zap.String("event", event), zap.Error(err))
		return
	}
	h.busMu.RLock()
	bus := h.bus
	h.busMu.RUnlock()
	if bus != nil {
		err := bus.Publish(context.Background(), SessionEvent{SessionID: sessionID, Event: event, Data: data})
		if err == nil {
			return
		}
		h.logger.Warn("publish session event failed", zap.String("session_id", sessionID), zap.String("event", event), zap.Error(err))
	}
	h.Broadcast(sessionID, event, json.RawMessage(data))
}

// Connections returns the number of local connections of a session.
func (h *Hub) Connections(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}
