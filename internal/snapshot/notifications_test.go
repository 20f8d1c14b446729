package snapshot

import (
	"fmt"
	"testing"
	"time"

	"binance-signal-engine/internal/market"
)

func TestNotificationCooldown(t *testing.T) {
	clock := market.NewMockClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	buffer := NewNotificationBuffer(clock)

	first := Notification{Type: "SMART_SIGNAL", Symbol: "BTCUSDT", Message: "first"}
	if !buffer.Push(first) {
		t.Fatal("first push must succeed")
	}

	// Same (type, symbol) inside the cooldown is suppressed.
	if buffer.Push(Notification{Type: "SMART_SIGNAL", Symbol: "BTCUSDT", Message: "repeat"}) {
		t.Error("repeat within the cooldown must be suppressed")
	}

	// A different symbol is independent.
	if !buffer.Push(Notification{Type: "SMART_SIGNAL", Symbol: "ETHUSDT"}) {
		t.Error("different symbol must not share the cooldown")
	}

	// After the cooldown the same key fires again.
	clock.Advance(61 * time.Second)
	if !buffer.Push(Notification{Type: "SMART_SIGNAL", Symbol: "BTCUSDT", Message: "later"}) {
		t.Error("push after the cooldown must succeed")
	}

	if got := buffer.Len(); got != 3 {
		t.Errorf("queued = %d, want 3", got)
	}
}

func TestNotificationBufferBounded(t *testing.T) {
	clock := market.NewMockClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	buffer := NewNotificationBuffer(clock)

	for i := 0; i < 80; i++ {
		buffer.Push(Notification{Type: "NEW_LISTING", Symbol: fmt.Sprintf("SYM%dUSDT", i)})
	}

	if got := buffer.Len(); got != notificationBuffer {
		t.Errorf("buffer length = %d, want %d", got, notificationBuffer)
	}

	// Oldest entries were dropped; the newest survive.
	drained := buffer.Drain()
	if drained[len(drained)-1].Symbol != "SYM79USDT" {
		t.Errorf("newest entry = %s", drained[len(drained)-1].Symbol)
	}
	if drained[0].Symbol != "SYM30USDT" {
		t.Errorf("oldest surviving entry = %s, want SYM30USDT", drained[0].Symbol)
	}
}

func TestDrainEmptiesQueue(t *testing.T) {
	clock := market.NewMockClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	buffer := NewNotificationBuffer(clock)

	buffer.Push(Notification{Type: "SMART_SIGNAL", Symbol: "BTCUSDT"})
	if got := len(buffer.Drain()); got != 1 {
		t.Fatalf("drained = %d", got)
	}
	if got := len(buffer.Drain()); got != 0 {
		t.Errorf("second drain = %d, want 0", got)
	}
}

func TestTimestampAssignedOnPush(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	buffer := NewNotificationBuffer(market.NewMockClock(now))

	buffer.Push(Notification{Type: "CRITICAL_VOLATILITY", Symbol: "BTCUSDT"})
	drained := buffer.Drain()
	if !drained[0].Timestamp.Equal(now) {
		t.Errorf("timestamp = %v, want %v", drained[0].Timestamp, now)
	}
}
