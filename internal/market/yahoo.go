package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"market-oracle-bot/internal/types"
)

const yahooChartURL = "https://query1.finance.yahoo.com/v8/finance/chart/"

// YahooChart loads daily OHLCV for listed equities from the Yahoo Finance chart API
type YahooChart struct {
	baseURL   string
	client    *http.Client
	userAgent string
}

type YahooOption func(*YahooChart)

func WithChartURL(u string) YahooOption {
	return func(y *YahooChart) {
		y.baseURL = u
	}
}

func WithHTTPClient(c *http.Client) YahooOption {
	return func(y *YahooChart) {
		y.client = c
	}
}

func NewYahooChart(opts ...YahooOption) *YahooChart {
	y := &YahooChart{
		baseURL:   yahooChartURL,
		client:    &http.Client{Timeout: 15 * time.Second},
		userAgent: "Mozilla/5.0 (compatible; market-oracle-bot)",
	}
	for _, opt := range opts {
		opt(y)
	}
	return y
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// Candles returns one year of daily bars, oldest first
func (y *YahooChart) Candles(ctx context.Context, ticker string) ([]types.Candle, error) {
	symbol := strings.ToUpper(strings.TrimSpace(ticker))
	endpoint := fmt.Sprintf("%s%s?range=1y&interval=1d", y.baseURL, url.PathEscape(symbol))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build chart request")
	}
	req.Header.Set("User-Agent", y.userAgent)

	resp, err := y.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load chart for %s", symbol)
	}
	defer resp.Body.Close()

	var body chartResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errors.Wrapf(err, "failed to decode chart for %s (status %d)", symbol, resp.StatusCode)
	}
	if e := body.Chart.Error; e != nil {
		return nil, errors.Wrapf(ErrNoData, "%s: %s %s", symbol, e.Code, e.Description)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("chart for %s returned status %d", symbol, resp.StatusCode)
	}
	if len(body.Chart.Result) == 0 || len(body.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, errors.Wrapf(ErrNoData, "%s", symbol)
	}

	res := body.Chart.Result[0]
	q := res.Indicators.Quote[0]
	candles := make([]types.Candle, 0, len(res.Timestamp))
	for i, ts := range res.Timestamp {
		open, okO := at(q.Open, i)
		high, okH := at(q.High, i)
		low, okL := at(q.Low, i)
		cls, okC := at(q.Close, i)
		// half-formed bars (holidays, the live session) come back as nulls
		if !okO || !okH || !okL || !okC {
			continue
		}
		vol, _ := at(q.Volume, i)
		candles = append(candles, types.Candle{
			Time:   time.Unix(ts, 0).UTC(),
			Open:   open,
			High:   high,
			Low:    low,
			Close:  cls,
			Volume: vol,
		})
	}
	if len(candles) == 0 {
		return nil, errors.Wrapf(ErrNoData, "%s", symbol)
	}
	sort.Slice(candles, func(i, j int) bool { return candles[i].Time.Before(candles[j].Time) })

	log.WithFields(log.Fields{"ticker": symbol, "candles": len(candles)}).Debug("Loaded chart")
	return candles, nil
}

func at(values []*float64, i int) (float64, bool) {
	if i >= len(values) || values[i] == nil {
		return 0, false
	}
	return *values[i], true
}
