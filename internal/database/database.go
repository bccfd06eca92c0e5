package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a keyed row does not exist
var ErrNotFound = errors.New("not found")

var schema = []string{
	`CREATE TABLE IF NOT EXISTS subscribers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		telegram_chat_id INTEGER UNIQUE NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		plan TEXT NOT NULL DEFAULT 'basic',
		notification_pref TEXT NOT NULL DEFAULT 'standard',
		subscription_end_at INTEGER,
		created_at INTEGER NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS user_portfolios (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		telegram_chat_id INTEGER NOT NULL,
		ticker TEXT NOT NULL,
		UNIQUE(telegram_chat_id, ticker)
	);`,
	`CREATE TABLE IF NOT EXISTS ticker_snapshots (
		ticker TEXT PRIMARY KEY,
		last_price REAL NOT NULL,
		last_rsi REAL,
		last_ema_short REAL,
		last_ema_long REAL,
		last_run_at INTEGER NOT NULL,
		last_action TEXT NOT NULL,
		last_summary_json TEXT,
		last_trigger_type TEXT,
		last_trigger_at INTEGER
	);`,
	`CREATE TABLE IF NOT EXISTS news_cache (
		ticker TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		fetched_at INTEGER NOT NULL,
		items_json TEXT NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS fundamentals_cache (
		ticker TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		fetched_at INTEGER NOT NULL,
		accession_id TEXT,
		data_json TEXT NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS filings_checkpoint (
		ticker TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		last_checked INTEGER NOT NULL,
		last_accession_id TEXT,
		last_form TEXT,
		last_filing_date TEXT
	);`,
	`CREATE TABLE IF NOT EXISTS metrics (
		metric_name TEXT NOT NULL,
		label_key TEXT NOT NULL DEFAULT '',
		label_value TEXT NOT NULL DEFAULT '',
		metric_value REAL NOT NULL,
		PRIMARY KEY (metric_name, label_key, label_value)
	);`,
}

// DB is the SQLite-backed store shared by the pipeline components
type DB struct {
	conn *sql.DB
	now  func() time.Time
}

// Option customises a DB
type Option func(*DB)

// WithClock overrides the wall clock used for created_at and expiry checks
func WithClock(now func() time.Time) Option {
	return func(d *DB) {
		d.now = now
	}
}

// Open connects to the database file and creates missing tables
func Open(path string, opts ...Option) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to database")
	}
	// a single writer avoids SQLITE_BUSY between pool workers
	conn.SetMaxOpenConns(1)

	d := &DB{conn: conn, now: time.Now}
	for _, opt := range opts {
		opt(d)
	}

	for _, stmt := range schema {
		if _, err := conn.Exec(stmt); err != nil {
			conn.Close()
			return nil, errors.Wrap(err, "failed to create schema")
		}
	}

	log.WithField("path", path).Info("Database initialized successfully.")
	return d, nil
}

// Ping checks the connection is usable
func (d *DB) Ping(ctx context.Context) error {
	return d.conn.PingContext(ctx)
}

func (d *DB) Close() error {
	if d.conn != nil {
		return d.conn.Close()
	}
	return nil
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil || t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
