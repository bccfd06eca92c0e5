package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"market-oracle-bot/internal/types"
)

// NewsEntry is a cached set of headlines for one ticker
type NewsEntry struct {
	Ticker    string
	Source    string
	Items     []types.NewsItem
	FetchedAt time.Time
}

// FundamentalsEntry is cached KPI data tagged with the filing it was built from
type FundamentalsEntry struct {
	Ticker      string
	Source      string
	Data        types.Fundamentals
	AccessionID string
	FetchedAt   time.Time
}

// FilingCheckpoint is the last filing observed upstream for a ticker
type FilingCheckpoint struct {
	Ticker      string
	Source      string
	Filing      types.Filing
	LastChecked time.Time
}

func (d *DB) GetNews(ctx context.Context, ticker string) (*NewsEntry, error) {
	query := `SELECT source, fetched_at, items_json FROM news_cache WHERE ticker = ?;`

	var (
		e       = NewsEntry{Ticker: ticker}
		fetched int64
		raw     string
	)
	err := d.conn.QueryRowContext(ctx, query, ticker).Scan(&e.Source, &fetched, &raw)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, errors.Wrapf(err, "failed to get news cache for %s", ticker)
	}
	if err := json.Unmarshal([]byte(raw), &e.Items); err != nil {
		return nil, errors.Wrapf(err, "corrupt news cache for %s", ticker)
	}
	e.FetchedAt = fromMillis(fetched)
	return &e, nil
}

// PutNews replaces the cached headline set wholesale
func (d *DB) PutNews(ctx context.Context, e NewsEntry) error {
	raw, err := json.Marshal(e.Items)
	if err != nil {
		return errors.Wrap(err, "failed to encode news items")
	}
	query := `
	INSERT OR REPLACE INTO news_cache (ticker, source, fetched_at, items_json)
	VALUES (?, ?, ?, ?);`
	if _, err := d.conn.ExecContext(ctx, query, e.Ticker, e.Source, toMillis(e.FetchedAt), string(raw)); err != nil {
		return errors.Wrapf(err, "failed to update news cache for %s", e.Ticker)
	}
	return nil
}

func (d *DB) GetFundamentals(ctx context.Context, ticker string) (*FundamentalsEntry, error) {
	query := `SELECT source, fetched_at, accession_id, data_json FROM fundamentals_cache WHERE ticker = ?;`

	var (
		e         = FundamentalsEntry{Ticker: ticker}
		fetched   int64
		accession sql.NullString
		raw       string
	)
	err := d.conn.QueryRowContext(ctx, query, ticker).Scan(&e.Source, &fetched, &accession, &raw)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, errors.Wrapf(err, "failed to get fundamentals cache for %s", ticker)
	}
	if err := json.Unmarshal([]byte(raw), &e.Data); err != nil {
		return nil, errors.Wrapf(err, "corrupt fundamentals cache for %s", ticker)
	}
	e.AccessionID = accession.String
	e.FetchedAt = fromMillis(fetched)
	return &e, nil
}

// PutFundamentals replaces the cached KPI payload wholesale
func (d *DB) PutFundamentals(ctx context.Context, e FundamentalsEntry) error {
	raw, err := json.Marshal(e.Data)
	if err != nil {
		return errors.Wrap(err, "failed to encode fundamentals")
	}
	query := `
	INSERT OR REPLACE INTO fundamentals_cache (ticker, source, fetched_at, accession_id, data_json)
	VALUES (?, ?, ?, ?, ?);`
	_, err = d.conn.ExecContext(ctx, query, e.Ticker, e.Source, toMillis(e.FetchedAt), nullString(e.AccessionID), string(raw))
	if err != nil {
		return errors.Wrapf(err, "failed to update fundamentals cache for %s", e.Ticker)
	}
	return nil
}

func (d *DB) GetFilingCheckpoint(ctx context.Context, ticker string) (*FilingCheckpoint, error) {
	query := `
	SELECT source, last_checked, last_accession_id, last_form, last_filing_date
	FROM filings_checkpoint WHERE ticker = ?;`

	var (
		c                     = FilingCheckpoint{Ticker: ticker}
		checked               int64
		accession, form, date sql.NullString
	)
	err := d.conn.QueryRowContext(ctx, query, ticker).Scan(&c.Source, &checked, &accession, &form, &date)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, errors.Wrapf(err, "failed to get filing checkpoint for %s", ticker)
	}
	c.LastChecked = fromMillis(checked)
	c.Filing = types.Filing{Form: form.String, AccessionID: accession.String, FilingDate: date.String}
	return &c, nil
}

func (d *DB) PutFilingCheckpoint(ctx context.Context, c FilingCheckpoint) error {
	query := `
	INSERT OR REPLACE INTO filings_checkpoint (ticker, source, last_checked, last_accession_id, last_form, last_filing_date)
	VALUES (?, ?, ?, ?, ?, ?);`
	_, err := d.conn.ExecContext(ctx, query,
		c.Ticker, c.Source, toMillis(c.LastChecked),
		nullString(c.Filing.AccessionID), nullString(c.Filing.Form), nullString(c.Filing.FilingDate),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to update filing checkpoint for %s", c.Ticker)
	}
	return nil
}

// PruneCaches drops news and fundamentals rows fetched before the cutoff
func (d *DB) PruneCaches(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64
	for _, table := range []string{"news_cache", "fundamentals_cache"} {
		res, err := d.conn.ExecContext(ctx, `DELETE FROM `+table+` WHERE fetched_at < ?;`, toMillis(cutoff))
		if err != nil {
			return total, errors.Wrapf(err, "failed to prune %s", table)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}
