package snapshot

import (
	"strings"
	"sync"
	"time"

	"binance-signal-engine/internal/market"
)

const (
	notificationBuffer   = 50
	notificationCooldown = time.Minute
)

// Notification is one user-facing event queued for the next snapshot.
type Notification struct {
	Type      string    `json:"type"` // SMART_SIGNAL, CRITICAL_VOLATILITY, NEW_LISTING, ...
	Symbol    string    `json:"symbol"`
	Message   string    `json:"message"`
	Level     string    `json:"level"` // info, warning, critical
	Timestamp time.Time `json:"timestamp"`
}

// NotificationBuffer holds pending notifications between snapshot ticks.
// Bounded to 50; a per-(type, symbol) cooldown of one minute suppresses
// repeats.
//
// The type filter intentionally passes every type: the upstream config keys
// are camelCase while the emitted type keys normalise to lowercase without
// underscores, so a per-type lookup would never match. All types pass.
type NotificationBuffer struct {
	clock market.Clock

	mu       sync.Mutex
	queue    []Notification
	lastSent map[string]time.Time
}

func NewNotificationBuffer(clock market.Clock) *NotificationBuffer {
	return &NotificationBuffer{
		clock:    clock,
		lastSent: make(map[string]time.Time),
	}
}

// Push queues a notification unless the same (type, symbol) fired within the
// cooldown. Oldest entries are dropped when the buffer is full.
func (b *NotificationBuffer) Push(n Notification) bool {
	now := b.clock.Now()
	key := normaliseType(n.Type) + ":" + n.Symbol

	b.mu.Lock()
	defer b.mu.Unlock()

	if last, ok := b.lastSent[key]; ok && now.Sub(last) < notificationCooldown {
		return false
	}
	b.lastSent[key] = now

	n.Timestamp = now
	b.queue = append(b.queue, n)
	if len(b.queue) > notificationBuffer {
		b.queue = b.queue[len(b.queue)-notificationBuffer:]
	}
	return true
}

// Drain empties the buffer and returns the queued notifications in arrival
// order.
func (b *NotificationBuffer) Drain() []Notification {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := b.queue
	b.queue = nil

	// Expire stale cooldown entries while we hold the lock.
	cutoff := b.clock.Now().Add(-notificationCooldown)
	for key, ts := range b.lastSent {
		if ts.Before(cutoff) {
			delete(b.lastSent, key)
		}
	}
	return out
}

// Len returns the number of queued notifications.
func (b *NotificationBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

func normaliseType(t string) string {
	return strings.ToLower(strings.ReplaceAll(t, "_", ""))
}
