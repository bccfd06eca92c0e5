// Package news fetches recent headlines for an instrument.
package news

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"market-oracle-bot/internal/types"
)

const (
	yahooFeedURL = "https://finance.yahoo.com/rss/headline?s={ticker}"
	yahooSource  = "Yahoo Finance"
)

// YahooRSS reads the Yahoo Finance headline feed
type YahooRSS struct {
	feedURL   string
	client    *http.Client
	userAgent string
	now       func() time.Time
}

type Option func(*YahooRSS)

// WithFeedURL overrides the feed template; {ticker} is replaced by the escaped symbol
func WithFeedURL(u string) Option {
	return func(y *YahooRSS) {
		y.feedURL = u
	}
}

func WithHTTPClient(c *http.Client) Option {
	return func(y *YahooRSS) {
		y.client = c
	}
}

func WithClock(now func() time.Time) Option {
	return func(y *YahooRSS) {
		y.now = now
	}
}

func NewYahooRSS(opts ...Option) *YahooRSS {
	y := &YahooRSS{
		feedURL:   yahooFeedURL,
		client:    &http.Client{Timeout: 15 * time.Second},
		userAgent: "Mozilla/5.0 (compatible; market-oracle-bot)",
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(y)
	}
	return y
}

func (y *YahooRSS) Name() string {
	return yahooSource
}

// Headlines returns at most limit entries in feed order
func (y *YahooRSS) Headlines(ctx context.Context, ticker string, limit int) ([]types.NewsItem, error) {
	u := strings.ReplaceAll(y.feedURL, "{ticker}", url.QueryEscape(ticker))
	log.WithField("ticker", ticker).Debug("Fetching RSS")

	parser := gofeed.NewParser()
	parser.Client = y.client
	parser.UserAgent = y.userAgent

	feed, err := parser.ParseURLWithContext(u, ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch news for %s", ticker)
	}

	items := make([]types.NewsItem, 0, len(feed.Items))
	for _, entry := range feed.Items {
		if limit > 0 && len(items) >= limit {
			break
		}
		if entry == nil || strings.TrimSpace(entry.Title) == "" {
			continue
		}

		published := y.now()
		if entry.PublishedParsed != nil {
			published = *entry.PublishedParsed
		} else if entry.UpdatedParsed != nil {
			published = *entry.UpdatedParsed
		}

		items = append(items, types.NewsItem{
			Title:       strings.TrimSpace(entry.Title),
			URL:         entry.Link,
			Source:      yahooSource,
			PublishedAt: published,
		})
	}
	return items, nil
}
