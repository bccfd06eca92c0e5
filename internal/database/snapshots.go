package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"market-oracle-bot/internal/types"
)

// SnapshotWrite is one end-of-pass update. An empty TriggerKind means the gate
// stayed closed and the stored trigger fields must be kept.
type SnapshotWrite struct {
	Ticker      string
	Indicators  types.Indicators
	Action      types.Action
	Result      types.Result
	TriggerKind string
	TriggerAt   *time.Time
	RunAt       time.Time
}

// GetSnapshot returns the stored snapshot or ErrNotFound
func (d *DB) GetSnapshot(ctx context.Context, ticker string) (*types.Snapshot, error) {
	query := `
	SELECT ticker, last_price, last_rsi, last_ema_short, last_ema_long, last_run_at,
		last_action, last_summary_json, last_trigger_type, last_trigger_at
	FROM ticker_snapshots WHERE ticker = ?;`

	var (
		s                    types.Snapshot
		rsi, emaS, emaL      sql.NullFloat64
		runAt                int64
		action               string
		summary, triggerType sql.NullString
		triggerAt            sql.NullInt64
	)
	err := d.conn.QueryRowContext(ctx, query, ticker).Scan(
		&s.Ticker, &s.LastPrice, &rsi, &emaS, &emaL, &runAt,
		&action, &summary, &triggerType, &triggerAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, errors.Wrapf(err, "failed to get snapshot for %s", ticker)
	}

	s.LastRSI = floatPtr(rsi)
	s.LastEMAShort = floatPtr(emaS)
	s.LastEMALong = floatPtr(emaL)
	s.LastRunAt = fromMillis(runAt)
	s.LastAction = types.ParseAction(action)
	s.LastTriggerKind = triggerType.String
	if triggerAt.Valid {
		t := fromMillis(triggerAt.Int64)
		s.LastTriggerAt = &t
	}
	if summary.Valid && summary.String != "" {
		var r types.Result
		if err := json.Unmarshal([]byte(summary.String), &r); err != nil {
			log.WithField("ticker", ticker).Warnf("ignoring unreadable stored result: %v", err)
		} else {
			s.LastResult = &r
		}
	}
	return &s, nil
}

// UpsertSnapshot overwrites the evaluation fields and keeps the existing trigger
// fields when the write carries none, in a single statement.
func (d *DB) UpsertSnapshot(ctx context.Context, w SnapshotWrite) error {
	payload, err := json.Marshal(w.Result)
	if err != nil {
		return errors.Wrap(err, "failed to encode result")
	}

	var triggerAt sql.NullInt64
	if w.TriggerKind != "" {
		at := w.RunAt
		if w.TriggerAt != nil {
			at = *w.TriggerAt
		}
		triggerAt = nullMillis(&at)
	}

	query := `
	INSERT INTO ticker_snapshots (ticker, last_price, last_rsi, last_ema_short, last_ema_long,
		last_run_at, last_action, last_summary_json, last_trigger_type, last_trigger_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(ticker) DO UPDATE SET
		last_price = excluded.last_price,
		last_rsi = excluded.last_rsi,
		last_ema_short = excluded.last_ema_short,
		last_ema_long = excluded.last_ema_long,
		last_run_at = excluded.last_run_at,
		last_action = excluded.last_action,
		last_summary_json = excluded.last_summary_json,
		last_trigger_type = COALESCE(excluded.last_trigger_type, ticker_snapshots.last_trigger_type),
		last_trigger_at = COALESCE(excluded.last_trigger_at, ticker_snapshots.last_trigger_at);`

	_, err = d.conn.ExecContext(ctx, query,
		w.Ticker,
		w.Indicators.CurrentPrice,
		w.Indicators.RSI,
		w.Indicators.EMAShort,
		w.Indicators.EMALong,
		toMillis(w.RunAt),
		string(w.Action),
		string(payload),
		nullString(w.TriggerKind),
		triggerAt,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to upsert snapshot for %s", w.Ticker)
	}
	return nil
}
