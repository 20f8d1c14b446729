package signal

import (
	"time"

	"binance-signal-engine/internal/detectors"
	"binance-signal-engine/internal/market"
	"binance-signal-engine/internal/ml"
)

// extractFeatures assembles the 35-column vector for one emitted signal from
// the store state and the detector caches. Columns whose source has no data
// yet keep the predictor's neutral defaults.
func (e *Engine) extractFeatures(id, symbol string, state market.SymbolState, sig SmartSignal, funding detectors.FundingAlert, oi detectors.OIAlert) ml.SignalFeatures {
	f := ml.NewSignalFeatures(id, symbol)
	now := e.store.Clock().Now()
	ticker := state.Current

	f.PriceChange24h = ticker.PriceChangePercent
	if change, _, ok := state.PriceChangeOver(5*time.Minute, now); ok {
		f.PriceChange5m = change
	}
	if ticker.OpenPrice > 0 {
		f.HighLowRange = (ticker.HighPrice - ticker.LowPrice) / ticker.OpenPrice * 100
	}
	if span := ticker.HighPrice - ticker.LowPrice; span > 0 {
		f.PricePosition = (ticker.LastPrice - ticker.LowPrice) / span
	}

	f.VolumeQuote24h = ticker.QuoteVolume
	if mult, ok := e.det.Volume.Multiplier(symbol); ok {
		f.VolumeMultiplier = mult
	}
	if vchange, ok := state.VolumeChangeOver(time.Hour, now); ok {
		f.VolumeChange1h = vchange
	}

	window := time.Duration(e.cfg.VelocityConfig.WindowMinutes) * time.Minute
	if change, minutes, ok := state.PriceChangeOver(window, now); ok && minutes > 0 {
		f.Velocity = change / minutes
	}
	if accel, ok := e.det.Velocity.Acceleration(symbol); ok {
		f.Acceleration = accel
	}

	if mtf, ok := e.det.MTF.Get(symbol); ok {
		f.PriceChange15m = mtf.Change15m
		f.PriceChange1h = mtf.Change1h
		f.RSI1h = mtf.RSI1h
		f.MTFAlignment = encodeAlignment(mtf.Alignment)
		f.DivergenceType = encodeDivergence(mtf.Divergence)
		f.TrendState = encodeMomentum(mtf.Momentum)
	}

	if funding.Symbol != "" {
		f.FundingRate = funding.Rate
		f.FundingSignal = encodeFundingSignal(funding.Signal)
		if funding.Direction == sig.Direction {
			f.FundingDirectionMatch = 1
		}
	} else if rate, ok := e.det.Funding.Rate(symbol); ok {
		f.FundingRate = rate
	}

	if oi.Symbol != "" {
		f.OIChangePercent = oi.OIChangePercent
		f.OISignal = encodeOISignal(oi.Signal)
		if (oi.OIChangePercent > 0) == (oi.PriceChange > 0) {
			f.OIPriceAlignment = 1
		}
	} else if change, ok := e.det.OI.OIChange(symbol); ok {
		f.OIChangePercent = change
	}

	if patterns := e.det.Pattern.Get(symbol); len(patterns) > 0 {
		p := patterns[0]
		f.PatternType = encodePattern(p.Pattern)
		f.PatternConfidence = clamp(float64(p.Level.Touches)*25, 0, 100)
		f.DistanceFromLevel = p.Distance
	}

	f.SmartConfidence = sig.Confidence
	f.ComponentCount = len(sig.Components)
	f.EntryType = sig.EntryType.Encode()
	f.RiskLevel = sig.RiskLevel.Encode()

	if plan, ok := e.det.Entry.Get(symbol); ok {
		if plan.Entry > 0 {
			f.ATRPercent = plan.ATR / plan.Entry * 100
		}
		if plan.VWAP > 0 {
			f.VWAPDistance = (plan.Entry - plan.VWAP) / plan.VWAP * 100
		}
		f.RiskRewardRatio = plan.RiskReward
	}

	f.WhaleActivity = e.det.Whale.Activity(symbol)
	if r, ok := e.det.Correlation.Correlation(symbol); ok {
		f.BTCCorrelation = r
	}
	if btc, ok := e.store.Get("BTCUSDT"); ok {
		f.BTCOutperformance = ticker.PriceChangePercent - btc.Current.PriceChangePercent
	}

	if sig.Direction == market.DirectionShort {
		f.Direction = -1
	} else {
		f.Direction = 1
	}
	return f
}

func encodeAlignment(a detectors.MTFAlignment) int {
	switch a {
	case detectors.AlignStrongBullish:
		return ml.MTFStrongBullish
	case detectors.AlignBullish:
		return ml.MTFBullish
	case detectors.AlignBearish:
		return ml.MTFBearish
	case detectors.AlignStrongBearish:
		return ml.MTFStrongBearish
	default:
		return ml.MTFMixed
	}
}

func encodeDivergence(d detectors.MTFDivergence) int {
	switch d {
	case detectors.DivergenceBullish:
		return ml.DivergenceBullish
	case detectors.DivergenceBearish:
		return ml.DivergenceBearish
	default:
		return ml.DivergenceNone
	}
}

func encodeMomentum(m detectors.MTFMomentum) int {
	switch m {
	case detectors.MomentumAccelerating:
		return ml.TrendStateAccelerating
	case detectors.MomentumDecelerating:
		return ml.TrendStateDecelerating
	default:
		return ml.TrendStateSteady
	}
}

func encodeFundingSignal(s detectors.FundingSignal) int {
	switch s {
	case detectors.FundingElevated:
		return ml.FundingElevated
	case detectors.FundingShortSqueeze:
		return ml.FundingShortSqueeze
	case detectors.FundingLongSqueeze:
		return ml.FundingLongSqueeze
	case detectors.FundingExtremePositive:
		return ml.FundingExtremePositive
	case detectors.FundingExtremeNegative:
		return ml.FundingExtremeNegative
	default:
		return ml.FundingNone
	}
}

func encodeOISignal(s detectors.OISignal) int {
	switch s {
	case detectors.OIStrongTrend:
		return ml.OIStrongTrend
	case detectors.OIBuildingLongs:
		return ml.OIBuildingLongs
	case detectors.OIBuildingShorts:
		return ml.OIBuildingShorts
	case detectors.OIClosingPositions:
		return ml.OIClosingPositions
	default:
		return ml.OINone
	}
}

func encodePattern(p detectors.PatternKind) int {
	switch p {
	case detectors.PatternNearSupport:
		return ml.PatternSupport
	case detectors.PatternNearResistance:
		return ml.PatternResistance
	case detectors.PatternDoubleTop:
		return ml.PatternDoubleTopInt
	case detectors.PatternDoubleBottom:
		return ml.PatternDoubleBottomInt
	default:
		return ml.PatternNone
	}
}
