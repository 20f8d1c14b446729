package detectors

import (
	"math"
	"testing"
	"time"

	"binance-signal-engine/config"
	"binance-signal-engine/internal/market"
)

func testVelocityConfig() config.VelocityConfig {
	return config.VelocityConfig{MinVelocity: 0.5, WindowMinutes: 5, AccelerationThreshold: 0.1}
}

func TestVelocityDetect(t *testing.T) {
	store, clock := newTestStore()
	det := NewVelocityDetector(store, testVelocityConfig())

	// Price climbs 1 per minute from 100: roughly 1%/min.
	for i := 0; i <= 5; i++ {
		store.Update([]market.Ticker{{Symbol: "EEEUSDT", LastPrice: 100 + float64(i)}})
		if i < 5 {
			clock.Advance(time.Minute)
		}
	}

	alerts := det.Detect()
	if len(alerts) != 1 {
		t.Fatalf("expected one alert, got %d", len(alerts))
	}
	alert := alerts[0]
	if math.Abs(alert.Velocity-1.0) > 0.05 {
		t.Errorf("velocity = %v, want about 1.0 %%/min", alert.Velocity)
	}
	if alert.Direction != market.DirectionLong {
		t.Errorf("direction = %s", alert.Direction)
	}
}

func TestVelocitySinglePointSkipped(t *testing.T) {
	store, _ := newTestStore()
	det := NewVelocityDetector(store, testVelocityConfig())

	store.Update([]market.Ticker{{Symbol: "FFFUSDT", LastPrice: 100}})

	if alerts := det.Detect(); len(alerts) != 0 {
		t.Fatalf("one history point must never alert, got %d", len(alerts))
	}
}

func TestVelocityAccelerationBetweenPasses(t *testing.T) {
	store, clock := newTestStore()
	det := NewVelocityDetector(store, testVelocityConfig())

	store.Update([]market.Ticker{{Symbol: "JJJUSDT", LastPrice: 100}})
	clock.Advance(time.Minute)
	store.Update([]market.Ticker{{Symbol: "JJJUSDT", LastPrice: 101}})
	det.Detect()

	// A single pass has nothing to compare against.
	if _, ok := det.Acceleration("JJJUSDT"); ok {
		t.Fatal("one pass must not report acceleration")
	}

	clock.Advance(time.Minute)
	store.Update([]market.Ticker{{Symbol: "JJJUSDT", LastPrice: 104}})
	det.Detect()

	accel, ok := det.Acceleration("JJJUSDT")
	if !ok {
		t.Fatal("two passes should report acceleration")
	}
	// 1%/min then 2%/min across the window: the delta is positive.
	if accel <= 0 {
		t.Errorf("acceleration = %v, want positive on a speeding move", accel)
	}
}

func TestVelocityTrendClassification(t *testing.T) {
	store, clock := newTestStore()
	det := NewVelocityDetector(store, testVelocityConfig())

	// First pass at about 1%/min.
	store.Update([]market.Ticker{{Symbol: "GGGUSDT", LastPrice: 100}})
	clock.Advance(time.Minute)
	store.Update([]market.Ticker{{Symbol: "GGGUSDT", LastPrice: 101}})
	det.Detect()

	// Second pass accelerates to about 2%/min over the trailing window.
	clock.Advance(time.Minute)
	store.Update([]market.Ticker{{Symbol: "GGGUSDT", LastPrice: 104}})

	alerts := det.Detect()
	if len(alerts) != 1 {
		t.Fatalf("expected one alert, got %d", len(alerts))
	}
	if alerts[0].Trend != TrendAccelerating {
		t.Errorf("trend = %s, want Accelerating", alerts[0].Trend)
	}
}
