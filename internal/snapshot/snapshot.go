package snapshot

import (
	"time"

	"binance-signal-engine/config"
	"binance-signal-engine/internal/detectors"
	"binance-signal-engine/internal/market"
	"binance-signal-engine/internal/signal"
	"binance-signal-engine/internal/tracker"
)

// recentCompleted is how many graded signals ride along in each snapshot.
const recentCompleted = 10

// Document is the full state published to consumers on every snapshot tick.
// It is immutable once built; consumers never share references with the
// producer.
type Document struct {
	Connected   bool      `json:"connected"`
	SymbolCount int       `json:"symbol_count"`
	Timestamp   time.Time `json:"timestamp"`

	Volatility   []detectors.VolatilityAlert  `json:"volatility"`
	Volume       []detectors.VolumeAlert      `json:"volume"`
	Velocity     []detectors.VelocityAlert    `json:"velocity"`
	Range        []detectors.RangeAlert       `json:"range"`
	NewListings  []detectors.NewListingAlert  `json:"new_listings"`
	Funding      []detectors.FundingAlert     `json:"funding"`
	OpenInterest []detectors.OIAlert          `json:"open_interest"`
	MTF          []detectors.MTFAlert         `json:"mtf"`
	Liquidations []detectors.LiquidationAlert `json:"liquidations"`
	Whales       []detectors.WhaleAlert       `json:"whales"`
	Correlation  []detectors.CorrelationAlert `json:"correlation"`
	Patterns     []detectors.PatternAlert     `json:"patterns"`
	Entries      []detectors.EntryPlan        `json:"entries"`
	TopPicks     []detectors.TopPick          `json:"top_picks"`
	Reversals    []signal.ReversalAlert       `json:"reversals"`

	LongSignals     []signal.SmartSignal `json:"long_signals"`
	ShortSignals    []signal.SmartSignal `json:"short_signals"`
	EarlyEntries    []signal.SmartSignal `json:"early_entries"`
	ReversalSignals []signal.SmartSignal `json:"reversal_signals"`
	Breakouts       []signal.SmartSignal `json:"breakouts"`
	LowRiskSetups   []signal.SmartSignal `json:"low_risk_setups"`

	Sentiment       detectors.MarketSentiment `json:"sentiment"`
	Stats           tracker.StatsReport       `json:"stats"`
	RecentCompleted []tracker.SignalRecord    `json:"recent_completed"`
	Notifications   []Notification            `json:"notifications"`

	FilterConfig config.FilterConfig `json:"filter_config"`
}

// Sources bundles everything the builder reads. All handles are read-only.
type Sources struct {
	Store       *market.DataStore
	Volatility  *detectors.VolatilityDetector
	Volume      *detectors.VolumeDetector
	Velocity    *detectors.VelocityDetector
	Range       *detectors.RangeDetector
	NewListing  *detectors.NewListingDetector
	Funding     *detectors.FundingDetector
	OI          *detectors.OpenInterestDetector
	MTF         *detectors.MTFDetector
	Liquidation *detectors.LiquidationDetector
	Whale       *detectors.WhaleDetector
	Correlation *detectors.CorrelationDetector
	Sentiment   *detectors.SentimentDetector
	Pattern     *detectors.PatternDetector
	Entry       *detectors.EntryTimingDetector
	TopPicker   *detectors.TopPicker
	Engine      *signal.Engine
	Reversal    *signal.ReversalEngine
	Tracker     *tracker.OutcomeTracker
}

// Builder assembles snapshot documents. It owns no state of its own beyond
// the notification buffer and the connection flag it is told about.
type Builder struct {
	src           Sources
	filter        *Filter
	notifications *NotificationBuffer
	maxDisplayed  int

	connected func() bool
}

func NewBuilder(src Sources, filter *Filter, notifications *NotificationBuffer, uiCfg config.UIConfig, connected func() bool) *Builder {
	return &Builder{
		src:           src,
		filter:        filter,
		notifications: notifications,
		maxDisplayed:  uiCfg.MaxDisplayed,
		connected:     connected,
	}
}

// Notifications exposes the buffer so producers can push into it.
func (b *Builder) Notifications() *NotificationBuffer {
	return b.notifications
}

// Build produces one document from the current store and detector caches.
func (b *Builder) Build() *Document {
	store := b.src.Store
	pass := b.passFunc()
	k := b.maxDisplayed

	doc := &Document{
		Connected:   b.connected(),
		SymbolCount: store.Len(),
		Timestamp:   store.Clock().Now(),

		Volatility: filterTop(b.src.Volatility.Detect(), k, pass,
			func(a detectors.VolatilityAlert) string { return a.Symbol }),
		Volume: filterTop(b.src.Volume.Detect(), k, pass,
			func(a detectors.VolumeAlert) string { return a.Symbol }),
		Velocity: filterTop(b.src.Velocity.Detect(), k, pass,
			func(a detectors.VelocityAlert) string { return a.Symbol }),
		Range: filterTop(b.src.Range.Detect(), k, pass,
			func(a detectors.RangeAlert) string { return a.Symbol }),
		NewListings: filterTop(b.src.NewListing.Detect(), k, pass,
			func(a detectors.NewListingAlert) string { return a.Symbol }),
		Funding: filterTop(b.src.Funding.Detect(), k, pass,
			func(a detectors.FundingAlert) string { return a.Symbol }),
		OpenInterest: filterTop(b.src.OI.Detect(), k, pass,
			func(a detectors.OIAlert) string { return a.Symbol }),
		MTF: filterTop(b.src.MTF.Detect(), k, pass,
			func(a detectors.MTFAlert) string { return a.Symbol }),
		Liquidations: filterTop(b.src.Liquidation.Detect(), k, pass,
			func(a detectors.LiquidationAlert) string { return a.Symbol }),
		Whales: filterTop(b.src.Whale.Detect(), k, pass,
			func(a detectors.WhaleAlert) string { return a.Symbol }),
		Correlation: filterTop(b.src.Correlation.Detect(), k, pass,
			func(a detectors.CorrelationAlert) string { return a.Symbol }),
		Patterns: filterTop(b.src.Pattern.Detect(), k, pass,
			func(a detectors.PatternAlert) string { return a.Symbol }),
		Entries: filterTop(b.src.Entry.Detect(), k, pass,
			func(a detectors.EntryPlan) string { return a.Symbol }),
		TopPicks: filterTop(b.src.TopPicker.Detect(), k, pass,
			func(a detectors.TopPick) string { return a.Symbol }),
		Reversals: filterTop(b.src.Reversal.Detect(), k, pass,
			func(a signal.ReversalAlert) string { return a.Symbol }),

		Sentiment:     b.src.Sentiment.Market(),
		Stats:         b.src.Tracker.Stats(),
		Notifications: b.notifications.Drain(),
		FilterConfig:  b.filter.Config(),
	}

	long := market.DirectionLong
	short := market.DirectionShort
	symbolOf := func(s signal.SmartSignal) string { return s.Symbol }
	doc.LongSignals = filterTop(b.src.Engine.TopSignals(0, &long), k, pass, symbolOf)
	doc.ShortSignals = filterTop(b.src.Engine.TopSignals(0, &short), k, pass, symbolOf)
	doc.EarlyEntries = filterTop(b.src.Engine.EarlyEntries(), k, pass, symbolOf)
	doc.ReversalSignals = filterTop(b.src.Engine.ReversalSignals(), k, pass, symbolOf)
	doc.Breakouts = filterTop(b.src.Engine.BreakoutCandidates(), k, pass, symbolOf)
	doc.LowRiskSetups = filterTop(b.src.Engine.LowRiskSetups(), k, pass, symbolOf)

	completed := b.src.Tracker.Completed()
	if len(completed) > recentCompleted {
		completed = completed[len(completed)-recentCompleted:]
	}
	doc.RecentCompleted = completed

	return doc
}

// passFunc binds the filter to the current store state.
func (b *Builder) passFunc() func(string) bool {
	return func(symbol string) bool {
		state, ok := b.src.Store.Get(symbol)
		if !ok {
			return false
		}
		return b.filter.Pass(symbol, state.Current)
	}
}

// filterTop keeps the first k items whose symbol passes the filter,
// preserving the detector's own ordering.
func filterTop[T any](items []T, k int, pass func(string) bool, symbolOf func(T) string) []T {
	var out []T
	for _, item := range items {
		if !pass(symbolOf(item)) {
			continue
		}
		out = append(out, item)
		if k > 0 && len(out) == k {
			break
		}
	}
	return out
}
