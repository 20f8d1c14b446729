package binance

import (
	"context"
	"fmt"
	"math"
	"sync"
)

// MockClient is a deterministic FuturesClient used in mock mode and in tests.
// Fixtures are set per symbol; unset symbols return errors like the real API
// does for unknown contracts.
type MockClient struct {
	mu       sync.RWMutex
	Tickers  []Futures24hrTicker
	Funding  []FundingRate
	OI       map[string]OpenInterest
	Klines   map[string][]Kline // key "SYMBOL:interval"
	FailNext bool
}

// NewMockClient creates an empty mock client.
func NewMockClient() *MockClient {
	return &MockClient{
		OI:     make(map[string]OpenInterest),
		Klines: make(map[string][]Kline),
	}
}

// SetKlines installs a kline fixture for symbol and interval.
func (m *MockClient) SetKlines(symbol, interval string, klines []Kline) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Klines[symbol+":"+interval] = klines
}

// SetOpenInterest installs an OI fixture.
func (m *MockClient) SetOpenInterest(symbol string, oi float64, ts int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.OI[symbol] = OpenInterest{Symbol: symbol, OpenInterest: oi, Time: ts}
}

func (m *MockClient) failing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailNext {
		m.FailNext = false
		return true
	}
	return false
}

func (m *MockClient) GetAll24hrTickers(ctx context.Context) ([]Futures24hrTicker, error) {
	if m.failing() {
		return nil, fmt.Errorf("mock: simulated API failure")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Futures24hrTicker(nil), m.Tickers...), nil
}

func (m *MockClient) GetFundingRates(ctx context.Context) ([]FundingRate, error) {
	if m.failing() {
		return nil, fmt.Errorf("mock: simulated API failure")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]FundingRate(nil), m.Funding...), nil
}

func (m *MockClient) GetOpenInterest(ctx context.Context, symbol string) (*OpenInterest, error) {
	if m.failing() {
		return nil, fmt.Errorf("mock: simulated API failure")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	oi, ok := m.OI[symbol]
	if !ok {
		return nil, fmt.Errorf("mock: no open interest fixture for %s", symbol)
	}
	return &oi, nil
}

func (m *MockClient) GetOpenInterestBatch(ctx context.Context, symbols []string) (map[string]OpenInterest, error) {
	out := make(map[string]OpenInterest, len(symbols))
	for _, symbol := range symbols {
		oi, err := m.GetOpenInterest(ctx, symbol)
		if err != nil {
			continue
		}
		out[symbol] = *oi
	}
	return out, nil
}

func (m *MockClient) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	if m.failing() {
		return nil, fmt.Errorf("mock: simulated API failure")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	klines, ok := m.Klines[symbol+":"+interval]
	if !ok {
		return nil, fmt.Errorf("mock: no kline fixture for %s %s", symbol, interval)
	}
	if limit > 0 && len(klines) > limit {
		klines = klines[len(klines)-limit:]
	}
	return append([]Kline(nil), klines...), nil
}

func (m *MockClient) GetSymbolRSI(ctx context.Context, symbol, interval string) (float64, error) {
	klines, err := m.GetKlines(ctx, symbol, interval, 100)
	if err != nil {
		return 0, err
	}
	rsi, ok := WilderRSI(klines, 14)
	if !ok {
		return 0, fmt.Errorf("mock: not enough klines for RSI on %s", symbol)
	}
	if math.IsNaN(rsi) {
		return 50, nil
	}
	return rsi, nil
}
