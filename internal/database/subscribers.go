package database

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"market-oracle-bot/internal/types"
)

// ErrLimitReached is returned when a watch-list is already at its cap
var ErrLimitReached = errors.New("ticker limit reached")

// AddSubscriber inserts or re-activates a subscriber for the given number of days
func (d *DB) AddSubscriber(ctx context.Context, chatID int64, days int, tier types.Tier, pref types.Preference) error {
	now := d.now()
	end := now.AddDate(0, 0, days)

	query := `
	INSERT INTO subscribers (telegram_chat_id, is_active, plan, notification_pref, subscription_end_at, created_at)
	VALUES (?, 1, ?, ?, ?, ?)
	ON CONFLICT(telegram_chat_id) DO UPDATE SET
		is_active = 1,
		plan = excluded.plan,
		notification_pref = excluded.notification_pref,
		subscription_end_at = excluded.subscription_end_at;`

	_, err := d.conn.ExecContext(ctx, query, chatID, string(tier), string(pref), toMillis(end), toMillis(now))
	if err != nil {
		return errors.Wrapf(err, "failed to add subscriber %d", chatID)
	}

	log.WithFields(log.Fields{"chat_id": chatID, "ends": end.Format(time.RFC3339)}).Info("Subscriber saved")
	return nil
}

// RemoveSubscriber deactivates a subscriber, keeping its watch-list
func (d *DB) RemoveSubscriber(ctx context.Context, chatID int64) error {
	res, err := d.conn.ExecContext(ctx, `UPDATE subscribers SET is_active = 0 WHERE telegram_chat_id = ?;`, chatID)
	if err != nil {
		return errors.Wrapf(err, "failed to remove subscriber %d", chatID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ActiveSubscribers expires lapsed subscriptions and returns the remaining ones
// with their watch-lists in insertion order.
func (d *DB) ActiveSubscribers(ctx context.Context) ([]types.Subscriber, error) {
	res, err := d.conn.ExecContext(ctx, `
	UPDATE subscribers SET is_active = 0
	WHERE is_active = 1 AND subscription_end_at IS NOT NULL AND subscription_end_at < ?;`, toMillis(d.now()))
	if err != nil {
		return nil, errors.Wrap(err, "failed to expire subscriptions")
	}
	if n, _ := res.RowsAffected(); n > 0 {
		log.Infof("Deactivated %d expired subscriptions.", n)
	}

	rows, err := d.conn.QueryContext(ctx, `
	SELECT telegram_chat_id, plan, notification_pref, subscription_end_at
	FROM subscribers WHERE is_active = 1 ORDER BY id;`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query subscribers")
	}

	var subscribers []types.Subscriber
	index := make(map[int64]int)
	for rows.Next() {
		var (
			s          types.Subscriber
			plan, pref string
			end        sql.NullInt64
		)
		if err := rows.Scan(&s.ChatID, &plan, &pref, &end); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "failed to scan subscriber")
		}
		s.Tier = types.ParseTier(plan)
		s.Preference = types.ParsePreference(pref)
		if end.Valid {
			t := fromMillis(end.Int64)
			s.ExpiresAt = &t
		}
		index[s.ChatID] = len(subscribers)
		subscribers = append(subscribers, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate subscribers")
	}

	rows, err = d.conn.QueryContext(ctx, `SELECT telegram_chat_id, ticker FROM user_portfolios ORDER BY id;`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query portfolios")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			chatID int64
			ticker string
		)
		if err := rows.Scan(&chatID, &ticker); err != nil {
			return nil, errors.Wrap(err, "failed to scan portfolio row")
		}
		if i, ok := index[chatID]; ok {
			subscribers[i].Tickers = append(subscribers[i].Tickers, ticker)
		}
	}
	return subscribers, rows.Err()
}

// AddTicker appends a ticker to a watch-list unless it is already at max entries
func (d *DB) AddTicker(ctx context.Context, chatID int64, ticker string, max int) error {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if ticker == "" {
		return errors.New("empty ticker")
	}

	tickers, err := d.SubscriberTickers(ctx, chatID)
	if err != nil {
		return err
	}
	for _, t := range tickers {
		if t == ticker {
			return nil
		}
	}
	if max > 0 && len(tickers) >= max {
		return errors.Wrapf(ErrLimitReached, "max %d tickers", max)
	}

	_, err = d.conn.ExecContext(ctx, `
	INSERT OR IGNORE INTO user_portfolios (telegram_chat_id, ticker) VALUES (?, ?);`, chatID, ticker)
	if err != nil {
		return errors.Wrapf(err, "failed to add %s for %d", ticker, chatID)
	}
	log.WithFields(log.Fields{"chat_id": chatID, "ticker": ticker}).Info("Ticker added")
	return nil
}

func (d *DB) RemoveTicker(ctx context.Context, chatID int64, ticker string) error {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	_, err := d.conn.ExecContext(ctx, `DELETE FROM user_portfolios WHERE telegram_chat_id = ? AND ticker = ?;`, chatID, ticker)
	if err != nil {
		return errors.Wrapf(err, "failed to remove %s for %d", ticker, chatID)
	}
	return nil
}

func (d *DB) SubscriberTickers(ctx context.Context, chatID int64) ([]string, error) {
	rows, err := d.conn.QueryContext(ctx, `SELECT ticker FROM user_portfolios WHERE telegram_chat_id = ? ORDER BY id;`, chatID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query tickers for chat ID %d", chatID)
	}
	defer rows.Close()

	var tickers []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, errors.Wrap(err, "failed to scan row")
		}
		tickers = append(tickers, t)
	}
	return tickers, rows.Err()
}

// UniqueTickers returns every ticker watched by an active subscriber, first-seen order
func (d *DB) UniqueTickers(ctx context.Context) ([]string, error) {
	rows, err := d.conn.QueryContext(ctx, `
	SELECT p.ticker FROM user_portfolios p
	JOIN subscribers s ON s.telegram_chat_id = p.telegram_chat_id
	WHERE s.is_active = 1
	GROUP BY p.ticker
	ORDER BY MIN(p.id);`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query unique tickers")
	}
	defer rows.Close()

	var tickers []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, errors.Wrap(err, "failed to scan row")
		}
		tickers = append(tickers, t)
	}
	return tickers, rows.Err()
}
