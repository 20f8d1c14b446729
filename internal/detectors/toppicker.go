package detectors

import (
	"time"

	"binance-signal-engine/internal/market"
)

const (
	topPickLimit    = 10
	topPickMinScore = 40
)

// TopPick is the cross-detector composite: one row per standout symbol with
// the contributing readings attached.
type TopPick struct {
	Symbol      string           `json:"symbol"`
	Score       float64          `json:"score"` // 0-100
	Change24h   float64          `json:"change_24h"`
	VolumeMult  float64          `json:"volume_mult"`
	Velocity    float64          `json:"velocity"`
	MTFStrength float64          `json:"mtf_strength"`
	WhaleScore  float64          `json:"whale_score"`
	Reasons     []string         `json:"reasons"`
	Direction   market.Direction `json:"direction"`
	Timestamp   time.Time        `json:"timestamp"`
}

// TopPicker reads the other detectors and ranks the symbols where the most
// evidence stacks up. It only consumes their caches, never the reverse, so
// the dependency graph stays one way.
type TopPicker struct {
	store    *market.DataStore
	volume   *VolumeDetector
	velocity *VelocityDetector
	mtf      *MTFDetector
	whale    *WhaleDetector
	funding  *FundingDetector
	oi       *OpenInterestDetector
}

func NewTopPicker(
	store *market.DataStore,
	volume *VolumeDetector,
	velocity *VelocityDetector,
	mtf *MTFDetector,
	whale *WhaleDetector,
	funding *FundingDetector,
	oi *OpenInterestDetector,
) *TopPicker {
	return &TopPicker{
		store:    store,
		volume:   volume,
		velocity: velocity,
		mtf:      mtf,
		whale:    whale,
		funding:  funding,
		oi:       oi,
	}
}

// Detect scores every symbol and keeps the strongest few.
func (d *TopPicker) Detect() []TopPick {
	now := d.store.Clock().Now()

	velocities := make(map[string]float64)
	for _, v := range d.velocity.Detect() {
		velocities[v.Symbol] = v.Velocity
	}
	whales := make(map[string]float64)
	for _, w := range d.whale.Detect() {
		whales[w.Symbol] = w.Confidence
	}

	var picks []TopPick
	for symbol, state := range d.store.All() {
		change := state.Current.PriceChangePercent

		pick := TopPick{
			Symbol:    symbol,
			Change24h: change,
			Direction: market.DirectionFromChange(change),
			Timestamp: now,
		}

		// Price movement, up to 30 points at a 10% move.
		score := clamp(abs(change)*3, 0, 30)
		if abs(change) >= 5 {
			pick.Reasons = append(pick.Reasons, "large 24h move")
		}

		// Volume spike, up to 25 points at 5x flow.
		if mult, ok := d.volume.Multiplier(symbol); ok && mult >= 1 {
			pick.VolumeMult = mult
			score += clamp((mult-1)*25/4, 0, 25)
			if mult >= 3 {
				pick.Reasons = append(pick.Reasons, "volume spike")
			}
		}

		// Short-term velocity, up to 15 points at 1.5%/min.
		if v, ok := velocities[symbol]; ok {
			pick.Velocity = v
			score += clamp(abs(v)*10, 0, 15)
			pick.Reasons = append(pick.Reasons, "accelerating price")
		}

		// Timeframe agreement, up to 15 points.
		if mtf, ok := d.mtf.Get(symbol); ok {
			pick.MTFStrength = mtf.Strength
			score += mtf.Strength * 0.15
			if mtf.Alignment == AlignStrongBullish || mtf.Alignment == AlignStrongBearish {
				pick.Reasons = append(pick.Reasons, "timeframes aligned")
			}
		}

		// Whale flow, up to 10 points.
		if w, ok := whales[symbol]; ok {
			pick.WhaleScore = w
			score += w * 0.10
			pick.Reasons = append(pick.Reasons, "whale activity")
		}

		// Extreme funding adds a contrarian 5 points.
		if rate, ok := d.funding.Rate(symbol); ok && abs(rate) > 0.1 {
			score += 5
			pick.Reasons = append(pick.Reasons, "extreme funding")
		}

		pick.Score = clamp(score, 0, 100)
		if pick.Score < topPickMinScore {
			continue
		}
		picks = append(picks, pick)
	}

	sortAlerts(picks,
		func(p TopPick) float64 { return p.Score },
		func(p TopPick) string { return p.Symbol })
	if len(picks) > topPickLimit {
		picks = picks[:topPickLimit]
	}
	return picks
}
