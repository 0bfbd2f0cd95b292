package indicator

import (
	"math"

	"openrange/pkg/model"
)

// NeutralOscillator is returned when there is not enough history
const NeutralOscillator = 50.0

// TrueRange calculates the true range of every bar.
// The first bar has no previous close, so its true range is high-low.
func TrueRange(bars []model.Bar) []float64 {
	tr := make([]float64, len(bars))
	for i, b := range bars {
		if i == 0 {
			tr[i] = b.High - b.Low
			continue
		}
		prevClose := bars[i-1].Close
		tr[i] = math.Max(b.High-b.Low, math.Max(math.Abs(b.High-prevClose), math.Abs(b.Low-prevClose)))
	}
	return tr
}

// ATR calculates the average true range with Wilder smoothing.
// Before the period is filled the value is the running mean of the true ranges seen so far.
func ATR(tr []float64, period int) []float64 {
	atr := make([]float64, len(tr))
	if period < 1 {
		period = 1
	}

	var sum float64
	p := float64(period)
	for i, v := range tr {
		if i < period {
			sum += v
			atr[i] = sum / float64(i+1)
			continue
		}
		atr[i] = (atr[i-1]*(p-1) + v) / p
	}
	return atr
}

// Oscillator calculates a simplified RSI over the trailing period of close-to-close changes.
// Gains and losses are averaged with a plain mean, not Wilder smoothing.
func Oscillator(closes []float64, period int) float64 {
	if period < 1 || len(closes) < period+1 {
		return NeutralOscillator
	}

	var gains, losses float64
	for i := len(closes) - period; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			gains += change
		} else {
			losses -= change
		}
	}

	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)

	if avgLoss == 0 {
		return 100
	}

	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// OscillatorSeries evaluates Oscillator at every index using the closes up to and including it
func OscillatorSeries(closes []float64, period int) []float64 {
	out := make([]float64, len(closes))
	for i := range closes {
		out[i] = Oscillator(closes[:i+1], period)
	}
	return out
}

// Closes extracts close prices
func Closes(bars []model.Bar) []float64 {
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	return closes
}

// Annotate fills TrueRange, ATR and Oscillator for the whole bar sequence of one run
func Annotate(bars []model.Bar, atrPeriod, oscPeriod int) {
	tr := TrueRange(bars)
	atr := ATR(tr, atrPeriod)
	osc := OscillatorSeries(Closes(bars), oscPeriod)

	for i := range bars {
		bars[i].TrueRange = tr[i]
		bars[i].ATR = atr[i]
		bars[i].Oscillator = osc[i]
	}
}
