package indicators

import (
	"errors"
	"math"
	"testing"
	"time"

	"market-oracle-bot/internal/types"
)

func series(closes []float64) []types.Candle {
	t0 := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]types.Candle, len(closes))
	for i, c := range closes {
		out[i] = types.Candle{Time: t0.AddDate(0, 0, i), Open: c, High: c, Low: c, Close: c, Volume: 1000}
	}
	return out
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestComputeInsufficientHistory(t *testing.T) {
	_, err := Compute(series(make([]float64, 199)), DefaultWindows)
	if !errors.Is(err, ErrInsufficientHistory) {
		t.Errorf("err = %v, want ErrInsufficientHistory", err)
	}
}

func TestComputeFlatSeries(t *testing.T) {
	closes := make([]float64, 250)
	for i := range closes {
		closes[i] = 42
	}
	ind, err := Compute(series(closes), DefaultWindows)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if ind.CurrentPrice != 42 || ind.PriceChangePct != 0 {
		t.Errorf("price = %v change = %v", ind.CurrentPrice, ind.PriceChangePct)
	}
	if ind.RSI != 50 {
		t.Errorf("RSI = %v, want 50 on a flat series", ind.RSI)
	}
	if !near(ind.EMAShort, 42) || !near(ind.EMALong, 42) {
		t.Errorf("EMA = %v / %v, want 42", ind.EMAShort, ind.EMALong)
	}
	if ind.ATR != 0 {
		t.Errorf("ATR = %v, want 0", ind.ATR)
	}
	if ind.VolumeSMA != 1000 || ind.CurrentVolume != 1000 {
		t.Errorf("volume = %v sma = %v", ind.CurrentVolume, ind.VolumeSMA)
	}
}

func TestComputeRisingSeries(t *testing.T) {
	closes := make([]float64, 220)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	ind, err := Compute(series(closes), DefaultWindows)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if ind.RSI != 100 {
		t.Errorf("RSI = %v, want 100 with no losses", ind.RSI)
	}
	if !(ind.EMAShort < ind.CurrentPrice && ind.EMALong < ind.EMAShort) {
		t.Errorf("expected price > EMA50 > EMA200, got %v %v %v", ind.CurrentPrice, ind.EMAShort, ind.EMALong)
	}
	if !near(ind.ATR, 1) {
		t.Errorf("ATR = %v, want 1 for unit close-to-close moves", ind.ATR)
	}
	want := (319.0 - 318.0) / 318.0 * 100
	if !near(ind.PriceChangePct, want) {
		t.Errorf("change = %v, want %v", ind.PriceChangePct, want)
	}
}

func TestRSIKnownValue(t *testing.T) {
	// alternating +2 / -1 moves: avg gain 1, avg loss 0.5 -> RS 2 -> RSI 66.67
	closes := []float64{10}
	for i := 0; i < 14; i++ {
		if i%2 == 0 {
			closes = append(closes, closes[len(closes)-1]+2)
		} else {
			closes = append(closes, closes[len(closes)-1]-1)
		}
	}
	got := RSI(closes, 14)
	if math.Abs(got-200.0/3) > 1e-9 {
		t.Errorf("RSI = %v, want %v", got, 200.0/3)
	}
}

func TestSMAAndEMA(t *testing.T) {
	if got := SMA([]float64{1, 2, 3, 4}, 2); got != 3.5 {
		t.Errorf("SMA = %v, want 3.5", got)
	}
	if got := SMA([]float64{1}, 2); got != 0 {
		t.Errorf("SMA short input = %v, want 0", got)
	}
	// alpha = 2/3: 0 -> 2 -> 2.6667
	if got := EMA([]float64{0, 3, 3}, 2); math.Abs(got-8.0/3) > 1e-9 {
		t.Errorf("EMA = %v, want %v", got, 8.0/3)
	}
}
