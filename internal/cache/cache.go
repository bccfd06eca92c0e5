// Package cache puts TTL and filing-checkpoint staleness rules in front of the
// news and fundamentals providers, persisting entries through the database.
package cache

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"market-oracle-bot/config"
	"market-oracle-bot/internal/database"
	"market-oracle-bot/internal/types"
)

// ErrUnavailable means the upstream failed and nothing was ever cached
var ErrUnavailable = errors.New("data unavailable")

// Store is the persistence the cache needs
type Store interface {
	GetNews(ctx context.Context, ticker string) (*database.NewsEntry, error)
	PutNews(ctx context.Context, e database.NewsEntry) error
	GetFundamentals(ctx context.Context, ticker string) (*database.FundamentalsEntry, error)
	PutFundamentals(ctx context.Context, e database.FundamentalsEntry) error
	GetFilingCheckpoint(ctx context.Context, ticker string) (*database.FilingCheckpoint, error)
	PutFilingCheckpoint(ctx context.Context, c database.FilingCheckpoint) error
	PruneCaches(ctx context.Context, cutoff time.Time) (int64, error)
}

type NewsProvider interface {
	Name() string
	Headlines(ctx context.Context, ticker string, limit int) ([]types.NewsItem, error)
}

type FundamentalsProvider interface {
	Name() string
	LatestFiling(ctx context.Context, ticker string) (*types.Filing, error)
	Fundamentals(ctx context.Context, ticker string) (*types.Fundamentals, error)
}

// Cache serves auxiliary data for the pipeline
type Cache struct {
	store        Store
	news         NewsProvider
	fundamentals FundamentalsProvider
	cfg          config.CacheSettings
	timeout      time.Duration
	now          func() time.Time
}

type Option func(*Cache)

func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// WithFetchTimeout bounds each upstream refresh call
func WithFetchTimeout(d time.Duration) Option {
	return func(c *Cache) {
		c.timeout = d
	}
}

func New(store Store, news NewsProvider, fundamentals FundamentalsProvider, cfg config.CacheSettings, opts ...Option) *Cache {
	c := &Cache{
		store:        store,
		news:         news,
		fundamentals: fundamentals,
		cfg:          cfg,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) fetchContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout > 0 {
		return context.WithTimeout(ctx, c.timeout)
	}
	return context.WithCancel(ctx)
}

// News returns headlines younger than the news TTL, refreshing on a miss.
// A failed refresh falls back to the stale entry, or ErrUnavailable if none exists.
func (c *Cache) News(ctx context.Context, ticker string) ([]types.NewsItem, error) {
	logger := log.WithFields(log.Fields{"ticker": ticker, "cache": "news"})

	entry, err := c.store.GetNews(ctx, ticker)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		logger.Warnf("read failed, treating as miss: %v", err)
		entry = nil
	}

	now := c.now()
	if entry != nil && now.Sub(entry.FetchedAt) <= c.cfg.NewsTTL {
		logger.Debug("hit")
		return entry.Items, nil
	}

	fctx, cancel := c.fetchContext(ctx)
	items, err := c.news.Headlines(fctx, ticker, c.cfg.NewsTopN)
	cancel()
	if err != nil {
		if entry != nil {
			logger.Warnf("refresh failed, serving stale entry from %s: %v", entry.FetchedAt.Format(time.RFC3339), err)
			return entry.Items, nil
		}
		logger.Warnf("refresh failed with nothing cached: %v", err)
		return nil, ErrUnavailable
	}

	if c.cfg.NewsTopN > 0 && len(items) > c.cfg.NewsTopN {
		items = items[:c.cfg.NewsTopN]
	}
	if err := c.store.PutNews(ctx, database.NewsEntry{
		Ticker:    ticker,
		Source:    c.news.Name(),
		Items:     items,
		FetchedAt: now,
	}); err != nil {
		logger.Errorf("failed to persist refreshed news: %v", err)
	}
	return items, nil
}

// Fundamentals returns cached KPIs while they are inside the TTL and no newer
// filing has been observed, refreshing otherwise.
func (c *Cache) Fundamentals(ctx context.Context, ticker string) (*types.Fundamentals, error) {
	logger := log.WithFields(log.Fields{"ticker": ticker, "cache": "fundamentals"})

	entry, err := c.store.GetFundamentals(ctx, ticker)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		logger.Warnf("read failed, treating as miss: %v", err)
		entry = nil
	}

	now := c.now()
	latest := c.latestFiling(ctx, ticker, now)

	if entry != nil && now.Sub(entry.FetchedAt) <= c.cfg.FundamentalsTTL {
		if latest == nil || latest.AccessionID == "" || latest.AccessionID == entry.AccessionID {
			logger.Debug("hit")
			return &entry.Data, nil
		}
		logger.WithField("accession", latest.AccessionID).Info("new filing observed, refreshing inside TTL")
	}

	fctx, cancel := c.fetchContext(ctx)
	data, err := c.fundamentals.Fundamentals(fctx, ticker)
	cancel()
	if err != nil {
		if entry != nil {
			logger.Warnf("refresh failed, serving stale entry from %s: %v", entry.FetchedAt.Format(time.RFC3339), err)
			return &entry.Data, nil
		}
		logger.Warnf("refresh failed with nothing cached: %v", err)
		return nil, ErrUnavailable
	}

	accession := ""
	if data.Filing != nil {
		accession = data.Filing.AccessionID
	} else if latest != nil {
		accession = latest.AccessionID
	}
	if err := c.store.PutFundamentals(ctx, database.FundamentalsEntry{
		Ticker:      ticker,
		Source:      c.fundamentals.Name(),
		Data:        *data,
		AccessionID: accession,
		FetchedAt:   now,
	}); err != nil {
		logger.Errorf("failed to persist refreshed fundamentals: %v", err)
	}
	return data, nil
}

// latestFiling consults the checkpoint, re-querying upstream once per check interval
func (c *Cache) latestFiling(ctx context.Context, ticker string, now time.Time) *types.Filing {
	logger := log.WithFields(log.Fields{"ticker": ticker, "cache": "filings"})

	cp, err := c.store.GetFilingCheckpoint(ctx, ticker)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		logger.Warnf("checkpoint read failed: %v", err)
		cp = nil
	}
	if cp != nil && now.Sub(cp.LastChecked) < c.cfg.FilingCheckInterval {
		return &cp.Filing
	}

	fctx, cancel := c.fetchContext(ctx)
	filing, err := c.fundamentals.LatestFiling(fctx, ticker)
	cancel()
	if err != nil {
		logger.Debugf("filing lookup failed: %v", err)
		if cp != nil {
			return &cp.Filing
		}
		return nil
	}

	if err := c.store.PutFilingCheckpoint(ctx, database.FilingCheckpoint{
		Ticker:      ticker,
		Source:      c.fundamentals.Name(),
		Filing:      *filing,
		LastChecked: now,
	}); err != nil {
		logger.Errorf("failed to persist filing checkpoint: %v", err)
	}
	return filing
}

// Prune removes entries older than the retention window
func (c *Cache) Prune(ctx context.Context) (int64, error) {
	cutoff := c.now().Add(-c.cfg.Retention)
	n, err := c.store.PruneCaches(ctx, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "cache prune failed")
	}
	log.WithField("cutoff", cutoff.Format(time.RFC3339)).Infof("Pruned %d cache entries.", n)
	return n, nil
}
