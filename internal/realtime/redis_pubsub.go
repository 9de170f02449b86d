package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	eventChannelPrefix = "vp:events:"
	publishTimeout     = 5 * time.Second
)

// SessionEvent is one progress event as it travels between instances.
type SessionEvent struct {
	SessionID string          `json:"session_id"`
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data,omitempty"`
	// Origin names the instance that published the event.
	Origin string    `json:"origin"`
	At     time.Time `json:"at"`
}

func eventChannel(sessionID string) string { return eventChannelPrefix + sessionID }

// decodeSessionEvent parses a message received on channel. The session named in the body
// must match the channel it arrived on.
func decodeSessionEvent(channel, payload string) (SessionEvent, error) {
	var ev SessionEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return SessionEvent{}, fmt.Errorf("decode session event: %w", err)
	}
	if ev.SessionID == "" || ev.Event == "" {
		return SessionEvent{}, errors.New("session event without session or name")
	}
	if sid := strings.TrimPrefix(channel, eventChannelPrefix); sid != ev.SessionID {
		return SessionEvent{}, fmt.Errorf("session event for %s arrived on %s", ev.SessionID, channel)
	}
	return ev, nil
}

// RedisPubSub carries SessionEvents between instances. Every instance holds one pattern
// subscription covering all sessions.
type RedisPubSub struct {
	client   *redis.Client
	instance string
	logger   *zap.Logger
}

// NewRedisPubSub creates a Redis event bus with a random instance id.
func NewRedisPubSub(client *redis.Client, logger *zap.Logger) *RedisPubSub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisPubSub{client: client, instance: uuid.NewString(), logger: logger}
}

// Publish sends ev to its session channel, stamping Origin and At.
func (r *RedisPubSub) Publish(ctx context.Context, ev SessionEvent) error {
	ev.Origin = r.instance
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	return r.client.Publish(ctx, eventChannel(ev.SessionID), body).Err()
}

// Subscribe delivers every session event until ctx is done or the returned cancel is called.
// It returns once Redis has confirmed the subscription.
func (r *RedisPubSub) Subscribe(ctx context.Context, deliver func(SessionEvent)) (func(), error) {
	ctx, cancel := context.WithCancel(ctx)
	pubsub := r.client.PSubscribe(ctx, eventChannelPrefix+"*")
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe session events: %w", err)
	}
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				ev, err := decodeSessionEvent(msg.Channel, msg.Payload)
				if err != nil {
					r.logger.Debug("drop session event", zap.String("channel", msg.Channel), zap.Error(err))
					continue
				}
				deliver(ev)
			}
		}
	}()
	r.logger.Info("session event subscription started", zap.String("instance", r.instance))
	return cancel, nil
}
