package detectors

import (
	"context"
	"testing"

	"binance-signal-engine/internal/binance"
	"binance-signal-engine/internal/market"
)

// oiClient serves a fixed open-interest sweep.
type oiClient struct {
	binance.FuturesClient
	oi map[string]binance.OpenInterest
}

func (c *oiClient) GetOpenInterestBatch(context.Context, []string) (map[string]binance.OpenInterest, error) {
	return c.oi, nil
}

func TestOINeedsTwoSamples(t *testing.T) {
	store, _ := newTestStore()
	client := &oiClient{oi: map[string]binance.OpenInterest{
		"HHHUSDT": {Symbol: "HHHUSDT", OpenInterest: 1000},
	}}
	det := NewOpenInterestDetector(store, client)

	store.Update([]market.Ticker{{Symbol: "HHHUSDT", LastPrice: 100, QuoteVolume: 1e6}})
	if err := det.Update(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	// One sweep is never enough to compute a delta.
	if alerts := det.Detect(); len(alerts) != 0 {
		t.Fatalf("single-sample alerts = %d, want 0", len(alerts))
	}
	if _, ok := det.OIChange("HHHUSDT"); ok {
		t.Error("OIChange must not report with one sample")
	}

	client.oi["HHHUSDT"] = binance.OpenInterest{Symbol: "HHHUSDT", OpenInterest: 1050}
	store.Update([]market.Ticker{{Symbol: "HHHUSDT", LastPrice: 102, QuoteVolume: 1e6}})
	if err := det.Update(context.Background()); err != nil {
		t.Fatalf("second sweep: %v", err)
	}

	alerts := det.Detect()
	if len(alerts) != 1 {
		t.Fatalf("alerts = %d, want 1", len(alerts))
	}
	alert := alerts[0]
	// +5% OI with +2% price is fresh positioning behind the move.
	if alert.Signal != OIStrongTrend || alert.Direction != market.DirectionLong {
		t.Errorf("signal = %s %s, want Strong Trend LONG", alert.Signal, alert.Direction)
	}
	if change, ok := det.OIChange("HHHUSDT"); !ok || change < 4.9 || change > 5.1 {
		t.Errorf("OIChange = %v %v, want about 5", change, ok)
	}
}

func TestOIClassification(t *testing.T) {
	cases := []struct {
		oiChange    float64
		priceChange float64
		want        OISignal
	}{
		{5, 2, OIStrongTrend},
		{5, -2, OIBuildingShorts},
		{5, 0.5, OIBuildingLongs},
		{-5, 2, OIClosingPositions},
	}
	for _, tc := range cases {
		if got, _ := classifyOI(tc.oiChange, tc.priceChange); got != tc.want {
			t.Errorf("classifyOI(%v, %v) = %s, want %s", tc.oiChange, tc.priceChange, got, tc.want)
		}
	}
}

func TestOISmallDeltaIgnored(t *testing.T) {
	store, _ := newTestStore()
	client := &oiClient{oi: map[string]binance.OpenInterest{
		"IIIUSDT": {Symbol: "IIIUSDT", OpenInterest: 1000},
	}}
	det := NewOpenInterestDetector(store, client)

	store.Update([]market.Ticker{{Symbol: "IIIUSDT", LastPrice: 100, QuoteVolume: 1e6}})
	det.Update(context.Background())
	client.oi["IIIUSDT"] = binance.OpenInterest{Symbol: "IIIUSDT", OpenInterest: 1010}
	det.Update(context.Background())

	// +1% is under the 2% floor.
	if alerts := det.Detect(); len(alerts) != 0 {
		t.Errorf("alerts = %d, want 0 under the floor", len(alerts))
	}
}
