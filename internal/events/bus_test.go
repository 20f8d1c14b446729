package events

import (
	"sync"
	"testing"
	"time"
)

// collector gathers asynchronously delivered events.
type collector struct {
	mu     sync.Mutex
	events []Event
	signal chan struct{}
}

func newCollector() *collector {
	return &collector{signal: make(chan struct{}, 16)}
}

func (c *collector) handle(e Event) {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
	c.signal <- struct{}{}
}

func (c *collector) wait(t *testing.T, n int) []Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		c.mu.Lock()
		if len(c.events) >= n {
			out := append([]Event(nil), c.events...)
			c.mu.Unlock()
			return out
		}
		c.mu.Unlock()
		select {
		case <-c.signal:
		case <-deadline:
			t.Fatalf("timed out waiting for %d events", n)
		}
	}
}

func TestSubscribeReceivesMatchingType(t *testing.T) {
	bus := NewEventBus()
	got := newCollector()
	bus.Subscribe(EventSignalGenerated, got.handle)

	bus.PublishSignal("BTCUSDT", "LONG", "MOMENTUM", 72.5, 50000)
	// A different type must not reach this subscriber.
	bus.PublishNewListing("NEWUSDT", 1.5)

	events := got.wait(t, 1)
	if events[0].Type != EventSignalGenerated {
		t.Fatalf("type = %s", events[0].Type)
	}
	if events[0].Data["symbol"] != "BTCUSDT" || events[0].Data["confidence"] != 72.5 {
		t.Errorf("payload = %v", events[0].Data)
	}

	// Give the stray event a moment to (incorrectly) arrive.
	time.Sleep(50 * time.Millisecond)
	got.mu.Lock()
	defer got.mu.Unlock()
	if len(got.events) != 1 {
		t.Errorf("subscriber received %d events, want 1", len(got.events))
	}
}

func TestSubscribeAllReceivesEverything(t *testing.T) {
	bus := NewEventBus()
	got := newCollector()
	bus.SubscribeAll(got.handle)

	bus.PublishIngested(450, 1)
	bus.PublishCriticalVolatility("XXXUSDT", 31.2)
	bus.PublishError("funding", "poll failed", nil)

	events := got.wait(t, 3)
	seen := map[EventType]bool{}
	for _, e := range events {
		seen[e.Type] = true
	}
	if !seen[EventTickerBatchIngested] || !seen[EventCriticalVolatility] || !seen[EventError] {
		t.Errorf("missing event types, saw %v", seen)
	}
}

func TestPublishStampsTimestamp(t *testing.T) {
	bus := NewEventBus()
	got := newCollector()
	bus.Subscribe(EventConnectionStatus, got.handle)

	bus.PublishConnectionStatus(true)

	events := got.wait(t, 1)
	if events[0].Timestamp.IsZero() {
		t.Error("timestamp must be set on publish")
	}
	if events[0].Data["connected"] != true {
		t.Errorf("payload = %v", events[0].Data)
	}
}

func TestMultipleSubscribersFanOut(t *testing.T) {
	bus := NewEventBus()
	first := newCollector()
	second := newCollector()
	bus.Subscribe(EventOutcomeRecorded, first.handle)
	bus.Subscribe(EventOutcomeRecorded, second.handle)

	bus.PublishOutcome("BTCUSDT", "WIN", 2.1, 74)

	if e := first.wait(t, 1); e[0].Data["outcome"] != "WIN" {
		t.Errorf("first subscriber payload = %v", e[0].Data)
	}
	if e := second.wait(t, 1); e[0].Data["pnl_percent"] != 2.1 {
		t.Errorf("second subscriber payload = %v", e[0].Data)
	}
}
