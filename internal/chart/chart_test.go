package chart

import (
	"bytes"
	"testing"
	"time"

	gochart "github.com/wcharczuk/go-chart/v2"

	"market-oracle-bot/internal/types"
)

func candles(n int) []types.Candle {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]types.Candle, n)
	for i := range out {
		p := 100 + float64(i%7) - float64(i%3)
		out[i] = types.Candle{Time: start.AddDate(0, 0, i), Open: p, High: p + 1, Low: p - 1, Close: p, Volume: 1000}
	}
	return out
}

func TestRenderPNG(t *testing.T) {
	font, err := gochart.GetDefaultFont()
	if err != nil {
		t.Fatalf("default font: %v", err)
	}
	r := NewRenderer(WithSize(600, 300), WithDays(30), WithFont(font))

	png, err := r.Render("BTC", candles(60))
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !bytes.HasPrefix(png, []byte("\x89PNG")) {
		t.Fatalf("output is not a PNG (%d bytes)", len(png))
	}

	again, err := r.Render("BTC", candles(60))
	if err != nil {
		t.Fatalf("cached Render: %v", err)
	}
	if &again[0] != &png[0] {
		t.Error("second render should come from the cache")
	}
}

func TestRenderNeedsTwoCandles(t *testing.T) {
	if _, err := NewRenderer().Render("BTC", candles(1)); err == nil {
		t.Error("expected error for a single candle")
	}
}

func TestLoadFontErrors(t *testing.T) {
	if _, err := LoadFont(t.TempDir() + "/missing.ttf"); err == nil {
		t.Error("expected error for missing file")
	}
}
