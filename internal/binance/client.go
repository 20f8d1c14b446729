package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	maxRetries     = 2
	baseRetryDelay = 500 * time.Millisecond
	maxRetryDelay  = 5 * time.Second

	// OI snapshots for the top symbols are issued in groups with a gap so a
	// full sweep stays well inside the weight budget.
	oiBatchSize = 10
	oiBatchGap  = 100 * time.Millisecond
)

// FuturesClient is the exchange REST surface the detectors consume.
type FuturesClient interface {
	GetAll24hrTickers(ctx context.Context) ([]Futures24hrTicker, error)
	GetFundingRates(ctx context.Context) ([]FundingRate, error)
	GetOpenInterest(ctx context.Context, symbol string) (*OpenInterest, error)
	GetOpenInterestBatch(ctx context.Context, symbols []string) (map[string]OpenInterest, error)
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error)
	GetSymbolRSI(ctx context.Context, symbol, interval string) (float64, error)
}

// Client is the production FuturesClient over the public fapi endpoints.
// No credentials: every request is an unsigned public GET.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a futures market-data client.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = "https://fapi.binance.com"
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// GetAll24hrTickers retrieves 24 hour statistics for every futures symbol
func (c *Client) GetAll24hrTickers(ctx context.Context) ([]Futures24hrTicker, error) {
	resp, err := c.publicGet(ctx, "/fapi/v1/ticker/24hr", nil)
	if err != nil {
		return nil, fmt.Errorf("error fetching all 24hr tickers: %w", err)
	}

	var tickers []Futures24hrTicker
	if err := json.Unmarshal(resp, &tickers); err != nil {
		return nil, fmt.Errorf("error parsing 24hr tickers: %w", err)
	}
	return tickers, nil
}

// GetFundingRates retrieves current funding state for all symbols
func (c *Client) GetFundingRates(ctx context.Context) ([]FundingRate, error) {
	resp, err := c.publicGet(ctx, "/fapi/v1/premiumIndex", nil)
	if err != nil {
		return nil, fmt.Errorf("error fetching funding rates: %w", err)
	}

	var rates []FundingRate
	if err := json.Unmarshal(resp, &rates); err != nil {
		return nil, fmt.Errorf("error parsing funding rates: %w", err)
	}
	return rates, nil
}

// GetOpenInterest retrieves current open interest for a symbol
func (c *Client) GetOpenInterest(ctx context.Context, symbol string) (*OpenInterest, error) {
	resp, err := c.publicGet(ctx, "/fapi/v1/openInterest", map[string]string{
		"symbol": symbol,
	})
	if err != nil {
		return nil, fmt.Errorf("error fetching open interest for %s: %w", symbol, err)
	}

	var oi OpenInterest
	if err := json.Unmarshal(resp, &oi); err != nil {
		return nil, fmt.Errorf("error parsing open interest: %w", err)
	}
	return &oi, nil
}

// GetOpenInterestBatch sweeps open interest across symbols in groups of ten
// with a fixed inter-group gap. Individual failures are skipped; the sweep
// returns whatever it collected.
func (c *Client) GetOpenInterestBatch(ctx context.Context, symbols []string) (map[string]OpenInterest, error) {
	out := make(map[string]OpenInterest, len(symbols))

	for i := 0; i < len(symbols); i += oiBatchSize {
		end := i + oiBatchSize
		if end > len(symbols) {
			end = len(symbols)
		}

		for _, symbol := range symbols[i:end] {
			oi, err := c.GetOpenInterest(ctx, symbol)
			if err != nil {
				if ctx.Err() != nil {
					return out, ctx.Err()
				}
				continue
			}
			out[oi.Symbol] = *oi
		}

		if end < len(symbols) {
			select {
			case <-ctx.Done():
				return out, ctx.Err()
			case <-time.After(oiBatchGap):
			}
		}
	}
	return out, nil
}

// GetKlines retrieves candlestick data
func (c *Client) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	resp, err := c.publicGet(ctx, "/fapi/v1/klines", map[string]string{
		"symbol":   symbol,
		"interval": interval,
		"limit":    strconv.Itoa(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("error fetching klines: %w", err)
	}

	var rawKlines [][]interface{}
	if err := json.Unmarshal(resp, &rawKlines); err != nil {
		return nil, fmt.Errorf("error parsing klines: %w", err)
	}

	klines := make([]Kline, len(rawKlines))
	for i, raw := range rawKlines {
		if len(raw) < 11 {
			return nil, fmt.Errorf("malformed kline row for %s", symbol)
		}
		klines[i] = Kline{
			OpenTime:                 int64(raw[0].(float64)),
			Open:                     parseFloat(raw[1]),
			High:                     parseFloat(raw[2]),
			Low:                      parseFloat(raw[3]),
			Close:                    parseFloat(raw[4]),
			Volume:                   parseFloat(raw[5]),
			CloseTime:                int64(raw[6].(float64)),
			QuoteAssetVolume:         parseFloat(raw[7]),
			NumberOfTrades:           int(raw[8].(float64)),
			TakerBuyBaseAssetVolume:  parseFloat(raw[9]),
			TakerBuyQuoteAssetVolume: parseFloat(raw[10]),
		}
	}

	return klines, nil
}

// GetSymbolRSI computes the Wilder 14-period RSI from recent klines.
func (c *Client) GetSymbolRSI(ctx context.Context, symbol, interval string) (float64, error) {
	klines, err := c.GetKlines(ctx, symbol, interval, 100)
	if err != nil {
		return 0, err
	}
	rsi, ok := WilderRSI(klines, 14)
	if !ok {
		return 0, fmt.Errorf("not enough klines for RSI on %s %s", symbol, interval)
	}
	return rsi, nil
}

// WilderRSI computes the RSI over the closing prices using Wilder smoothing.
// ok is false when fewer than period+1 klines are available.
func WilderRSI(klines []Kline, period int) (float64, bool) {
	if len(klines) < period+1 {
		return 0, false
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := klines[i].Close - klines[i-1].Close
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	for i := period + 1; i < len(klines); i++ {
		change := klines[i].Close - klines[i-1].Close
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		return 100, true
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), true
}

func (c *Client) publicGet(ctx context.Context, endpoint string, params map[string]string) ([]byte, error) {
	rateLimiter := GetRateLimiter()
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if !rateLimiter.WaitForSlot(endpoint, 30*time.Second) {
			return nil, fmt.Errorf("rate limit: request budget exhausted, request blocked")
		}

		values := url.Values{}
		for k, v := range params {
			values.Set(k, v)
		}

		reqURL := fmt.Sprintf("%s%s", c.baseURL, endpoint)
		if len(values) > 0 {
			reqURL = fmt.Sprintf("%s?%s", reqURL, values.Encode())
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if attempt < maxRetries {
				delay := retryDelay(attempt)
				log.Printf("[BINANCE] Public GET %s failed (attempt %d/%d): %v, retrying in %v",
					endpoint, attempt+1, maxRetries+1, err, delay)
				time.Sleep(delay)
				continue
			}
			return nil, err
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, err
		}

		if usedWeight := resp.Header.Get("X-MBX-USED-WEIGHT-1M"); usedWeight != "" {
			if weight, err := strconv.Atoi(usedWeight); err == nil {
				rateLimiter.UpdateFromHeaders(weight)
			}
		}

		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("API error: %s", string(body))

			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == 418 {
				rateLimiter.RecordRateLimitError(time.Time{})
			}

			if isRetryableError(resp.StatusCode, string(body)) && attempt < maxRetries {
				delay := retryDelay(attempt)
				log.Printf("[BINANCE] Public GET %s returned %d (attempt %d/%d), retrying in %v",
					endpoint, resp.StatusCode, attempt+1, maxRetries+1, delay)
				time.Sleep(delay)
				continue
			}
			return nil, lastErr
		}

		return body, nil
	}

	return nil, lastErr
}

// isRetryableError checks if an error is transient and should be retried
func isRetryableError(statusCode int, body string) bool {
	if statusCode == http.StatusTooManyRequests || statusCode >= 500 {
		return true
	}
	if strings.Contains(body, "-1001") || // DISCONNECTED
		strings.Contains(body, "-1003") { // TOO_MANY_REQUESTS
		return true
	}
	return false
}

// retryDelay returns delay with exponential backoff
func retryDelay(attempt int) time.Duration {
	delay := baseRetryDelay * time.Duration(1<<uint(attempt))
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	return delay
}
