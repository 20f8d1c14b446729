package binance

import "strconv"

// Kline represents candlestick data
type Kline struct {
	OpenTime                 int64
	Open                     float64
	High                     float64
	Low                      float64
	Close                    float64
	Volume                   float64
	CloseTime                int64
	QuoteAssetVolume         float64
	NumberOfTrades           int
	TakerBuyBaseAssetVolume  float64
	TakerBuyQuoteAssetVolume float64
}

// TypicalPrice returns (H+L+C)/3, the price used for VWAP.
func (k Kline) TypicalPrice() float64 {
	return (k.High + k.Low + k.Close) / 3
}

// FundingRate represents the current funding state of a perpetual contract,
// from /fapi/v1/premiumIndex.
type FundingRate struct {
	Symbol          string  `json:"symbol"`
	FundingRate     float64 `json:"lastFundingRate,string"`
	NextFundingTime int64   `json:"nextFundingTime"`
	MarkPrice       float64 `json:"markPrice,string"`
}

// OpenInterest represents outstanding contract notional for a symbol
type OpenInterest struct {
	Symbol       string  `json:"symbol"`
	OpenInterest float64 `json:"openInterest,string"`
	Time         int64   `json:"time"`
}

// Futures24hrTicker represents 24 hour rolling statistics from REST
type Futures24hrTicker struct {
	Symbol             string  `json:"symbol"`
	PriceChange        float64 `json:"priceChange,string"`
	PriceChangePercent float64 `json:"priceChangePercent,string"`
	LastPrice          float64 `json:"lastPrice,string"`
	OpenPrice          float64 `json:"openPrice,string"`
	HighPrice          float64 `json:"highPrice,string"`
	LowPrice           float64 `json:"lowPrice,string"`
	Volume             float64 `json:"volume,string"`
	QuoteVolume        float64 `json:"quoteVolume,string"`
	CloseTime          int64   `json:"closeTime"`
	Count              int64   `json:"count"`
}

// StreamTicker is one element of the !ticker@arr stream payload.
// All numeric fields arrive as strings.
type StreamTicker struct {
	EventType          string  `json:"e"`
	EventTime          int64   `json:"E"`
	Symbol             string  `json:"s"`
	PriceChange        float64 `json:"p,string"`
	PriceChangePercent float64 `json:"P,string"`
	LastPrice          float64 `json:"c,string"`
	OpenPrice          float64 `json:"o,string"`
	HighPrice          float64 `json:"h,string"`
	LowPrice           float64 `json:"l,string"`
	BaseVolume         float64 `json:"v,string"`
	QuoteVolume        float64 `json:"q,string"`
	TradeCount         int64   `json:"n"`
}

// parseFloat safely converts the mixed types Binance returns in kline arrays
func parseFloat(val interface{}) float64 {
	switch v := val.(type) {
	case float64:
		return v
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	default:
		return 0
	}
}
