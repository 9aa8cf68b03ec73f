package strategy

import (
	"math"

	"tradedesk/pkg/broker"
)

// Supertrend signals on price crossing the ATR bands: a close breaking above
// the upper band is a BUY, a close breaking below the lower band is a SELL.
type Supertrend struct {
	period     int
	multiplier float64
}

// NewSupertrend creates the strategy; the conventional parameters are
// period 10, multiplier 3.
func NewSupertrend(period int, multiplier float64) *Supertrend {
	if period <= 0 {
		period = 10
	}
	if multiplier <= 0 {
		multiplier = 3
	}
	return &Supertrend{period: period, multiplier: multiplier}
}

func (s *Supertrend) Name() string { return "supertrend" }

// GenerateSignal evaluates the band cross on the last two candles.
func (s *Supertrend) GenerateSignal(candles []broker.Candle) Action {
	if len(candles) < s.period+2 {
		return ActionNone
	}

	atr := atr(candles, s.period)
	i := len(candles) - 1
	prev := i - 1

	hl2 := (candles[i].High + candles[i].Low) / 2
	phl2 := (candles[prev].High + candles[prev].Low) / 2

	upper := hl2 + s.multiplier*atr[i]
	lower := hl2 - s.multiplier*atr[i]
	prevUpper := phl2 + s.multiplier*atr[prev]
	prevLower := phl2 - s.multiplier*atr[prev]

	close := candles[i].Close
	prevClose := candles[prev].Close

	if prevClose <= prevUpper && close > upper {
		return ActionBuy
	}
	if prevClose >= prevLower && close < lower {
		return ActionSell
	}
	return ActionNone
}

// atr returns the simple-moving-average true range series.
func atr(candles []broker.Candle, period int) []float64 {
	trs := make([]float64, len(candles))
	for i, c := range candles {
		prevClose := c.Close
		if i > 0 {
			prevClose = candles[i-1].Close
		}
		tr := math.Max(c.High-c.Low,
			math.Max(math.Abs(c.High-prevClose), math.Abs(c.Low-prevClose)))
		trs[i] = tr
	}

	out := make([]float64, len(trs))
	for i := range trs {
		start := i - period + 1
		if start < 0 {
			start = 0
		}
		sum := 0.0
		for _, v := range trs[start : i+1] {
			sum += v
		}
		out[i] = sum / float64(i+1-start)
	}
	return out
}
