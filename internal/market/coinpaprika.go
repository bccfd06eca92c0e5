// Package market fetches daily price history: equities from the Yahoo Finance
// chart API, crypto pairs from CoinPaprika.
package market

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/coinpaprika/coinpaprika-api-go-client/v2/coinpaprika"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"market-oracle-bot/internal/types"
)

// ErrNoData is returned when the instrument exists but has no usable history
var ErrNoData = errors.New("no market data")

const (
	historyDays = 365
	idCacheSize = 1024
)

// Paprika resolves symbols to CoinPaprika ids and loads daily history
type Paprika struct {
	client *coinpaprika.Client
	ids    *lru.Cache[string, string]
	now    func() time.Time
}

// NewPaprika uses the pro endpoint when apiProKey is set
func NewPaprika(apiProKey string) (*Paprika, error) {
	ids, err := lru.New[string, string](idCacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create id cache")
	}

	client := coinpaprika.NewClient(nil)
	if apiProKey != "" {
		client = coinpaprika.NewClient(nil, coinpaprika.WithAPIKey(apiProKey))
	}
	return &Paprika{client: client, ids: ids, now: time.Now}, nil
}

// Candles returns up to a year of daily candles, oldest first
func (p *Paprika) Candles(ctx context.Context, ticker string) ([]types.Candle, error) {
	id, err := p.resolve(ctx, ticker)
	if err != nil {
		return nil, err
	}

	opts := &coinpaprika.TickersHistoricalOptions{
		Quote:    "USD",
		Limit:    historyDays,
		Interval: "1d",
		Start:    p.now().AddDate(0, 0, -historyDays),
	}

	var history []*coinpaprika.TickerHistorical
	err = call(ctx, func() error {
		var err error
		history, err = p.client.Tickers.GetHistoricalTickersByID(id, opts)
		return err
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load history for %s (%s)", ticker, id)
	}

	candles := toCandles(history)
	if len(candles) == 0 {
		return nil, errors.Wrapf(ErrNoData, "%s (%s)", ticker, id)
	}
	log.WithFields(log.Fields{"ticker": ticker, "id": id, "candles": len(candles)}).Debug("Loaded history")
	return candles, nil
}

// resolve maps a symbol to a coin id: symbol search first, then name search
func (p *Paprika) resolve(ctx context.Context, ticker string) (string, error) {
	key := strings.ToUpper(strings.TrimSpace(ticker))
	if id, ok := p.ids.Get(key); ok {
		return id, nil
	}

	var coin *coinpaprika.Coin
	err := call(ctx, func() error {
		result, err := p.client.Search.Search(&coinpaprika.SearchOptions{
			Query:      ticker,
			Categories: "currencies",
			Modifier:   "symbol_search",
		})
		if err != nil || result == nil || len(result.Currencies) == 0 {
			log.Debugf("No results for symbol search, trying name search for '%s'", ticker)
			result, err = p.client.Search.Search(&coinpaprika.SearchOptions{Query: ticker, Categories: "currencies"})
			if err != nil || result == nil || len(result.Currencies) == 0 {
				return errors.Errorf("invalid coin name, ticker, or symbol: %s", ticker)
			}
		}
		coin = result.Currencies[0]
		return nil
	})
	if err != nil {
		return "", err
	}
	if coin == nil || coin.ID == nil {
		return "", errors.Errorf("search returned no id for %s", ticker)
	}

	log.Debugf("Best match for query '%s' is: %s", ticker, *coin.ID)
	p.ids.Add(key, *coin.ID)
	return *coin.ID, nil
}

// call runs a blocking client call and stops waiting when ctx is done
func call(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// toCandles converts point-in-time quotes to single-price candles sorted by time
func toCandles(history []*coinpaprika.TickerHistorical) []types.Candle {
	candles := make([]types.Candle, 0, len(history))
	for _, h := range history {
		if h == nil || h.Timestamp == nil || h.Price == nil {
			continue
		}
		c := types.Candle{
			Time:  *h.Timestamp,
			Open:  *h.Price,
			High:  *h.Price,
			Low:   *h.Price,
			Close: *h.Price,
		}
		if h.Volume24h != nil {
			c.Volume = *h.Volume24h
		}
		candles = append(candles, c)
	}
	sort.Slice(candles, func(i, j int) bool { return candles[i].Time.Before(candles[j].Time) })
	return candles
}
