// Package notify delivers task lifecycle events to subscribers. Delivery is
// fire-and-forget: callers never wait on or retry a notification.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Event names emitted by the task tracker.
const (
	EventTaskUpdate    = "task:update"
	EventTaskCompleted = "task:completed"
)

// DefaultChannel is the Pub/Sub channel events are published to.
const DefaultChannel = "reelscout:events"

const (
	asyncNotifyTimeout = 5 * time.Second
	defaultAsyncBuffer = 1024
)

// Notifier is the sink for status and progress change events.
type Notifier interface {
	Notify(ctx context.Context, event string, payload any) error
}

// Envelope is the wire shape published to subscribers.
type Envelope struct {
	ID        uuid.UUID `json:"id"`
	Event     string    `json:"event"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// RedisNotifier publishes events on a Redis Pub/Sub channel.
type RedisNotifier struct {
	client  *redis.Client
	channel string
}

// NewRedisNotifier returns nil when client is nil.
func NewRedisNotifier(client *redis.Client, channel string) *RedisNotifier {
	if client == nil {
		return nil
	}
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisNotifier{client: client, channel: channel}
}

// Notify publishes one event. A nil receiver is a no-op.
func (n *RedisNotifier) Notify(ctx context.Context, event string, payload any) error {
	if n == nil || n.client == nil {
		return nil
	}

	body, err := json.Marshal(Envelope{
		ID:        uuid.New(),
		Event:     event,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := n.client.Publish(ctx, n.channel, body).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", event, err)
	}
	return nil
}

// LogNotifier writes events to a structured logger.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify logs the event at info level.
func (n LogNotifier) Notify(ctx context.Context, event string, payload any) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "task event", "event", event, "payload", payload)
	return nil
}

// Multi fans one event out to several notifiers and reports the first error.
type Multi []Notifier

// Notify delivers to every notifier even when one fails.
func (m Multi) Notify(ctx context.Context, event string, payload any) error {
	var first error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, event, payload); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// AsyncNotifier queues events for a single dispatcher goroutine so Notify
// returns immediately while subscribers still see events in emission order.
// Events that do not fit in the buffer are dropped and logged.
type AsyncNotifier struct {
	next   Notifier
	logger *slog.Logger
	events chan queuedEvent
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

type queuedEvent struct {
	name    string
	payload any
}

// Async wraps next with the default buffer size.
func Async(next Notifier, logger *slog.Logger) *AsyncNotifier {
	return NewAsync(next, logger, defaultAsyncBuffer)
}

// NewAsync starts the dispatcher for next with room for size pending events.
func NewAsync(next Notifier, logger *slog.Logger, size int) *AsyncNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	if size <= 0 {
		size = defaultAsyncBuffer
	}

	a := &AsyncNotifier{
		next:   next,
		logger: logger,
		events: make(chan queuedEvent, size),
		done:   make(chan struct{}),
	}
	go a.dispatch()
	return a
}

// Notify enqueues the event without waiting for delivery.
func (a *AsyncNotifier) Notify(_ context.Context, event string, payload any) error {
	if a.next == nil {
		return nil
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.logger.Warn("notifier closed, dropping event", "event", event)
		return nil
	}

	select {
	case a.events <- queuedEvent{name: event, payload: payload}:
	default:
		a.logger.Error("notify buffer full, dropping event", "event", event)
	}
	return nil
}

// Close stops accepting events and waits until the queued ones are delivered
// or ctx ends.
func (a *AsyncNotifier) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.events)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain notifications: %w", ctx.Err())
	}
}

func (a *AsyncNotifier) dispatch() {
	defer close(a.done)
	for ev := range a.events {
		ctx, cancel := context.WithTimeout(context.Background(), asyncNotifyTimeout)
		if err := a.next.Notify(ctx, ev.name, ev.payload); err != nil {
			a.logger.Error("async notify failed", "event", ev.name, "error", err)
		}
		cancel()
	}
}
