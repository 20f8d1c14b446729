package snapshot

import (
	"strings"

	"binance-signal-engine/config"
	"binance-signal-engine/internal/market"
)

// Named filter presets.
const (
	PresetHighVolume = "highVolume"
	PresetBigMovers  = "bigMovers"
	PresetTopTier    = "topTier"
	PresetAll        = "all"
)

// stablecoinBases are base assets excluded when excludeStablecoins is on.
var stablecoinBases = []string{"USDC", "TUSD", "BUSD", "DAI", "FDUSD", "USDP", "EUR"}

// topTierSymbols is the fixed allow-list behind the topTier preset.
var topTierSymbols = []string{
	"BTCUSDT", "ETHUSDT", "BNBUSDT", "SOLUSDT", "XRPUSDT",
	"ADAUSDT", "DOGEUSDT", "AVAXUSDT", "LINKUSDT", "DOTUSDT",
}

// Filter decides which symbols appear in snapshots. A symbol failing Pass is
// absent from every snapshot list.
type Filter struct {
	cfg config.FilterConfig
}

func NewFilter(cfg config.FilterConfig) *Filter {
	return &Filter{cfg: applyPreset(cfg)}
}

// Config returns the effective filter configuration after preset expansion.
func (f *Filter) Config() config.FilterConfig {
	return f.cfg
}

// Pass reports whether a symbol survives the active filter.
func (f *Filter) Pass(symbol string, ticker market.Ticker) bool {
	if len(f.cfg.Watchlist) > 0 {
		return containsSymbol(f.cfg.Watchlist, symbol)
	}

	if containsSymbol(f.cfg.ExcludeSymbols, symbol) {
		return false
	}
	if f.cfg.OnlyQuote != "" && !strings.HasSuffix(symbol, f.cfg.OnlyQuote) {
		return false
	}
	if f.cfg.ExcludeStablecoins && isStablecoin(symbol, f.cfg.OnlyQuote) {
		return false
	}
	if ticker.QuoteVolume < f.cfg.MinVolume24h {
		return false
	}
	if f.cfg.MinChange24h > 0 && abs(ticker.PriceChangePercent) < f.cfg.MinChange24h {
		return false
	}
	return true
}

// applyPreset overlays the named preset's thresholds onto the config.
func applyPreset(cfg config.FilterConfig) config.FilterConfig {
	switch cfg.Preset {
	case PresetHighVolume:
		cfg.MinVolume24h = 50_000_000
		cfg.MinChange24h = 0
	case PresetBigMovers:
		cfg.MinVolume24h = 10_000_000
		cfg.MinChange24h = 5
		cfg.OnlyQuote = "USDT"
		cfg.ExcludeStablecoins = true
	case PresetTopTier:
		cfg.Watchlist = append([]string(nil), topTierSymbols...)
	case PresetAll:
		cfg.MinVolume24h = 0
		cfg.MinChange24h = 0
	}
	return cfg
}

// isStablecoin reports whether the base asset is a stablecoin. The quote
// suffix is stripped before matching so USDCUSDT matches USDC.
func isStablecoin(symbol, quote string) bool {
	base := symbol
	if quote != "" {
		base = strings.TrimSuffix(symbol, quote)
	}
	for _, stable := range stablecoinBases {
		if base == stable {
			return true
		}
	}
	return false
}

func containsSymbol(list []string, symbol string) bool {
	for _, s := range list {
		if s == symbol {
			return true
		}
	}
	return false
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
