// Package indicators computes the fixed technical record from a candle series.
package indicators

import (
	"math"

	"github.com/pkg/errors"

	"market-oracle-bot/internal/types"
)

// ErrInsufficientHistory is returned when the series is shorter than the long EMA window
var ErrInsufficientHistory = errors.New("insufficient history")

// Windows are the look-back lengths used by Compute
type Windows struct {
	RSI      int
	EMAShort int
	EMALong  int
	ATR      int
	Volume   int
}

var DefaultWindows = Windows{RSI: 14, EMAShort: 50, EMALong: 200, ATR: 14, Volume: 20}

// Compute derives the indicator record from candles ordered oldest first
func Compute(candles []types.Candle, w Windows) (types.Indicators, error) {
	need := w.EMALong
	for _, n := range []int{w.RSI + 1, w.EMAShort, w.ATR + 1, w.Volume, 2} {
		if n > need {
			need = n
		}
	}
	if len(candles) < need {
		return types.Indicators{}, errors.Wrapf(ErrInsufficientHistory, "have %d candles, need %d", len(candles), need)
	}

	closes := make([]float64, len(candles))
	volumes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
		volumes[i] = c.Volume
	}

	last := len(closes) - 1
	ind := types.Indicators{
		CurrentPrice:  closes[last],
		RSI:           RSI(closes, w.RSI),
		EMAShort:      EMA(closes, w.EMAShort),
		EMALong:       EMA(closes, w.EMALong),
		ATR:           ATR(candles, w.ATR),
		CurrentVolume: volumes[last],
		VolumeSMA:     SMA(volumes, w.Volume),
	}
	if prev := closes[last-1]; prev != 0 {
		ind.PriceChangePct = (closes[last] - prev) / prev * 100
	}
	return ind, nil
}

// SMA is the mean of the last n values
func SMA(values []float64, n int) float64 {
	if n <= 0 || len(values) < n {
		return 0
	}
	var sum float64
	for _, v := range values[len(values)-n:] {
		sum += v
	}
	return sum / float64(n)
}

// EMA seeds with the first value and smooths with alpha = 2/(n+1)
func EMA(values []float64, n int) float64 {
	if n <= 0 || len(values) == 0 {
		return 0
	}
	alpha := 2 / float64(n+1)
	ema := values[0]
	for _, v := range values[1:] {
		ema = alpha*v + (1-alpha)*ema
	}
	return ema
}

// RSI uses Wilder smoothing seeded with the simple average of the first n moves
func RSI(closes []float64, n int) float64 {
	if n <= 0 || len(closes) <= n {
		return 50
	}

	var gain, loss float64
	for i := 1; i <= n; i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	avgGain := gain / float64(n)
	avgLoss := loss / float64(n)

	for i := n + 1; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		g, l := 0.0, 0.0
		if d > 0 {
			g = d
		} else {
			l = -d
		}
		avgGain = (avgGain*float64(n-1) + g) / float64(n)
		avgLoss = (avgLoss*float64(n-1) + l) / float64(n)
	}

	switch {
	case avgLoss == 0 && avgGain == 0:
		return 50
	case avgLoss == 0:
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// ATR is the Wilder-smoothed true range. Single-price candles reduce to close-to-close moves.
func ATR(candles []types.Candle, n int) float64 {
	if n <= 0 || len(candles) <= n {
		return 0
	}

	tr := func(i int) float64 {
		c, prev := candles[i], candles[i-1].Close
		return math.Max(c.High-c.Low, math.Max(math.Abs(c.High-prev), math.Abs(c.Low-prev)))
	}

	var sum float64
	for i := 1; i <= n; i++ {
		sum += tr(i)
	}
	atr := sum / float64(n)
	for i := n + 1; i < len(candles); i++ {
		atr = (atr*float64(n-1) + tr(i)) / float64(n)
	}
	return atr
}
