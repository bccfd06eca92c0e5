// Package chart renders the PNG price chart attached to fired reports.
package chart

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/golang/freetype/truetype"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/pkg/errors"
	gochart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"market-oracle-bot/internal/types"
	"market-oracle-bot/lib/helpers"
)

const (
	defaultWidth  = 1200
	defaultHeight = 600
	defaultDays   = 90
	emaPeriod     = 50
)

var (
	backgroundColor = drawing.Color{R: 55, G: 55, B: 55, A: 255}
	textColor       = drawing.Color{R: 200, G: 200, B: 200, A: 255}
	gridColor       = drawing.Color{R: 100, G: 100, B: 100, A: 128}
	priceColor      = drawing.Color{R: 0, G: 122, B: 255, A: 255}
	priceFill       = drawing.Color{R: 0, G: 122, B: 255, A: 25}
	emaColor        = drawing.Color{R: 255, G: 159, B: 10, A: 255}
)

// Renderer draws close price with an EMA overlay, memoising output per
// ticker and last candle.
type Renderer struct {
	width  int
	height int
	days   int
	font   *truetype.Font
	cache  *expirable.LRU[string, []byte]
}

type Option func(*Renderer)

func WithSize(width, height int) Option {
	return func(r *Renderer) {
		r.width = width
		r.height = height
	}
}

// WithDays limits the chart to the trailing n candles
func WithDays(n int) Option {
	return func(r *Renderer) {
		r.days = n
	}
}

func WithFont(f *truetype.Font) Option {
	return func(r *Renderer) {
		r.font = f
	}
}

func NewRenderer(opts ...Option) *Renderer {
	r := &Renderer{
		width:  defaultWidth,
		height: defaultHeight,
		days:   defaultDays,
		cache:  expirable.NewLRU[string, []byte](256, nil, 12*time.Hour),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Render returns PNG bytes for the candles of ticker
func (r *Renderer) Render(ticker string, candles []types.Candle) ([]byte, error) {
	if len(candles) < 2 {
		return nil, errors.Errorf("not enough candles to chart %s: %d", ticker, len(candles))
	}

	key := fmt.Sprintf("%s|%d|%d", ticker, candles[len(candles)-1].Time.Unix(), len(candles))
	if png, ok := r.cache.Get(key); ok {
		return png, nil
	}

	window := candles
	if r.days > 1 && len(window) > r.days {
		window = window[len(window)-r.days:]
	}

	xs := make([]time.Time, len(window))
	ys := make([]float64, len(window))
	for i, c := range window {
		xs[i] = c.Time
		ys[i] = c.Close
	}

	price := gochart.TimeSeries{
		Name: ticker,
		Style: gochart.Style{
			StrokeColor: priceColor,
			StrokeWidth: 2,
			FillColor:   priceFill,
		},
		XValues: xs,
		YValues: ys,
	}
	ema := gochart.EMASeries{
		Name:        fmt.Sprintf("EMA%d", emaPeriod),
		Style:       gochart.Style{StrokeColor: emaColor, StrokeWidth: 1.5, StrokeDashArray: []float64{5, 3}},
		Period:      emaPeriod,
		InnerSeries: price,
	}

	axisStyle := gochart.Style{FontColor: textColor, StrokeColor: textColor, FontSize: 10}
	graph := gochart.Chart{
		Title:      fmt.Sprintf("%s · last %d days", ticker, len(window)),
		TitleStyle: gochart.Style{FontColor: textColor, FontSize: 14},
		Width:      r.width,
		Height:     r.height,
		Font:       r.font,
		Background: gochart.Style{
			FillColor: backgroundColor,
			Padding:   gochart.Box{Top: 50, Left: 20, Right: 20, Bottom: 20},
		},
		Canvas: gochart.Style{FillColor: backgroundColor},
		XAxis: gochart.XAxis{
			Style:          axisStyle,
			ValueFormatter: gochart.TimeValueFormatterWithFormat("02-Jan"),
		},
		YAxis: gochart.YAxis{
			Style:          axisStyle,
			GridMajorStyle: gochart.Style{StrokeColor: gridColor, StrokeWidth: 1},
			ValueFormatter: func(v interface{}) string {
				if f, ok := v.(float64); ok {
					return helpers.FormatPriceUS(f)
				}
				return ""
			},
		},
		Series: []gochart.Series{price, &ema},
	}
	graph.Elements = []gochart.Renderable{gochart.LegendLeft(&graph, gochart.Style{FontColor: textColor, FillColor: backgroundColor})}

	var buf bytes.Buffer
	if err := graph.Render(gochart.PNG, &buf); err != nil {
		return nil, errors.Wrapf(err, "could not render chart for %s", ticker)
	}

	png := buf.Bytes()
	r.cache.Add(key, png)
	return png, nil
}

// LoadFont parses a TrueType file for WithFont
func LoadFont(path string) (*truetype.Font, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read font %s", path)
	}
	f, err := truetype.Parse(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "could not parse font %s", path)
	}
	return f, nil
}
