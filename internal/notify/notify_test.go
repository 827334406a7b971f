package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingNotifier struct {
	mu       sync.Mutex
	events   []string
	payloads []any
	err      error
	block    chan struct{}
}

func (r *recordingNotifier) Notify(_ context.Context, event string, payload any) error {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	r.payloads = append(r.payloads, payload)
	return r.err
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestNewRedisNotifierRequiresClient(t *testing.T) {
	if n := NewRedisNotifier(nil, ""); n != nil {
		t.Fatal("expected nil notifier without client")
	}

	var n *RedisNotifier
	if err := n.Notify(context.Background(), EventTaskUpdate, nil); err != nil {
		t.Fatalf("expected nil receiver to be a no-op got %v", err)
	}
}

func TestMultiDeliversToAll(t *testing.T) {
	failing := &recordingNotifier{err: errors.New("down")}
	ok := &recordingNotifier{}

	err := Multi{failing, nil, ok}.Notify(context.Background(), EventTaskCompleted, map[string]any{"taskId": "t1"})
	if err == nil {
		t.Fatal("expected first error to be reported")
	}
	if ok.count() != 1 {
		t.Fatalf("expected healthy notifier to receive event got %d", ok.count())
	}
}

func TestAsyncDoesNotBlock(t *testing.T) {
	rec := &recordingNotifier{err: errors.New("ignored")}
	n := Async(rec, nil)
	defer n.Close(context.Background())

	if err := n.Notify(context.Background(), EventTaskUpdate, nil); err != nil {
		t.Fatalf("expected async notify to swallow errors got %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for rec.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("event was never delivered")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestAsyncPreservesEmissionOrder(t *testing.T) {
	rec := &recordingNotifier{}
	n := Async(rec, nil)

	for i := 0; i <= 100; i++ {
		event := EventTaskUpdate
		if i == 100 {
			event = EventTaskCompleted
		}
		if err := n.Notify(context.Background(), event, i); err != nil {
			t.Fatalf("notify %d: %v", i, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := n.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.payloads) != 101 {
		t.Fatalf("expected 101 events got %d", len(rec.payloads))
	}
	for i, p := range rec.payloads {
		if p.(int) != i {
			t.Fatalf("event %d arrived at position %d", p, i)
		}
	}
	if rec.events[100] != EventTaskCompleted {
		t.Fatalf("expected completion event last got %s", rec.events[100])
	}
}

func TestAsyncDropsWhenBufferFull(t *testing.T) {
	rec := &recordingNotifier{block: make(chan struct{})}
	n := NewAsync(rec, nil, 1)

	// The dispatcher holds the first event; the second fills the buffer.
	_ = n.Notify(context.Background(), EventTaskUpdate, 0)
	deadline := time.Now().Add(time.Second)
	for len(n.events) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("dispatcher never picked up the first event")
		}
		time.Sleep(5 * time.Millisecond)
	}
	_ = n.Notify(context.Background(), EventTaskUpdate, 1)
	_ = n.Notify(context.Background(), EventTaskUpdate, 2)

	close(rec.block)
	if err := n.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := rec.count(); got != 2 {
		t.Fatalf("expected the overflowing event to be dropped, delivered %d", got)
	}

	if err := n.Notify(context.Background(), EventTaskUpdate, 3); err != nil {
		t.Fatalf("notify after close: %v", err)
	}
	if got := rec.count(); got != 2 {
		t.Fatalf("expected events after close to be dropped, delivered %d", got)
	}
}
