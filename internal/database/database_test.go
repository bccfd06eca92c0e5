package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"market-oracle-bot/internal/types"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func openTestDB(t *testing.T, clock *fakeClock) *DB {
	t.Helper()
	var opts []Option
	if clock != nil {
		opts = append(opts, WithClock(clock.Now))
	}
	d, err := Open(filepath.Join(t.TempDir(), "test.db"), opts...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestGetSnapshotMissing(t *testing.T) {
	d := openTestDB(t, nil)
	_, err := d.GetSnapshot(context.Background(), "AAPL")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestUpsertSnapshotPreservesTriggerOnQuietPass(t *testing.T) {
	d := openTestDB(t, nil)
	ctx := context.Background()

	t0 := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	t1 := t0.Add(3 * time.Hour)

	fired := SnapshotWrite{
		Ticker:      "AAPL",
		Indicators:  types.Indicators{CurrentPrice: 180, RSI: 72, EMAShort: 175, EMALong: 170},
		Action:      types.ActionSell,
		Result:      types.Result{Kind: types.ResultAnalyzed, Action: types.ActionSell, Confidence: 0.7, Summary: "overbought"},
		TriggerKind: "rsi_extreme",
		TriggerAt:   &t0,
		RunAt:       t0,
	}
	if err := d.UpsertSnapshot(ctx, fired); err != nil {
		t.Fatalf("UpsertSnapshot fired: %v", err)
	}

	quiet := SnapshotWrite{
		Ticker:     "AAPL",
		Indicators: types.Indicators{CurrentPrice: 181, RSI: 65, EMAShort: 176, EMALong: 170},
		Action:     types.ActionSell,
		Result:     types.Result{Kind: types.ResultQuiet, Action: types.ActionSell, Confidence: 1},
		RunAt:      t1,
	}
	if err := d.UpsertSnapshot(ctx, quiet); err != nil {
		t.Fatalf("UpsertSnapshot quiet: %v", err)
	}

	s, err := d.GetSnapshot(ctx, "AAPL")
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	if s.LastTriggerAt == nil || !s.LastTriggerAt.Equal(t0) {
		t.Errorf("LastTriggerAt = %v, want %v", s.LastTriggerAt, t0)
	}
	if s.LastTriggerKind != "rsi_extreme" {
		t.Errorf("LastTriggerKind = %q, want rsi_extreme", s.LastTriggerKind)
	}
	if !s.LastRunAt.Equal(t1) {
		t.Errorf("LastRunAt = %v, want %v", s.LastRunAt, t1)
	}
	if s.LastPrice != 181 {
		t.Errorf("LastPrice = %v, want 181", s.LastPrice)
	}
	if s.LastRSI == nil || *s.LastRSI != 65 {
		t.Errorf("LastRSI = %v, want 65", s.LastRSI)
	}
	if s.LastResult == nil || s.LastResult.Kind != types.ResultQuiet {
		t.Errorf("LastResult = %+v, want quiet result", s.LastResult)
	}
}

func TestUpsertSnapshotAdvancesTriggerOnFire(t *testing.T) {
	d := openTestDB(t, nil)
	ctx := context.Background()

	t0 := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	t1 := t0.Add(5 * time.Hour)
	for _, w := range []SnapshotWrite{
		{Ticker: "MSFT", Action: types.ActionHold, TriggerKind: "first_run", RunAt: t0},
		{Ticker: "MSFT", Action: types.ActionBuy, TriggerKind: "price_change", RunAt: t1},
	} {
		if err := d.UpsertSnapshot(ctx, w); err != nil {
			t.Fatalf("UpsertSnapshot: %v", err)
		}
	}

	s, err := d.GetSnapshot(ctx, "MSFT")
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	if s.LastTriggerAt == nil || !s.LastTriggerAt.Equal(t1) {
		t.Errorf("LastTriggerAt = %v, want %v", s.LastTriggerAt, t1)
	}
	if s.LastTriggerKind != "price_change" {
		t.Errorf("LastTriggerKind = %q", s.LastTriggerKind)
	}
	if s.LastAction != types.ActionBuy {
		t.Errorf("LastAction = %q", s.LastAction)
	}
}

func TestNewsCacheRoundTripAndPrune(t *testing.T) {
	d := openTestDB(t, nil)
	ctx := context.Background()

	fetched := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	entry := NewsEntry{
		Ticker: "NVDA",
		Source: "Yahoo Finance",
		Items: []types.NewsItem{
			{Title: "Chips rally", URL: "https://example.com/1", Source: "Yahoo Finance", PublishedAt: fetched},
		},
		FetchedAt: fetched,
	}
	if err := d.PutNews(ctx, entry); err != nil {
		t.Fatalf("PutNews: %v", err)
	}

	got, err := d.GetNews(ctx, "NVDA")
	if err != nil {
		t.Fatalf("GetNews: %v", err)
	}
	if len(got.Items) != 1 || got.Items[0].Title != "Chips rally" {
		t.Errorf("Items = %+v", got.Items)
	}
	if !got.FetchedAt.Equal(fetched) {
		t.Errorf("FetchedAt = %v, want %v", got.FetchedAt, fetched)
	}

	n, err := d.PruneCaches(ctx, fetched.Add(time.Minute))
	if err != nil {
		t.Fatalf("PruneCaches: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned = %d, want 1", n)
	}
	if _, err := d.GetNews(ctx, "NVDA"); !errors.Is(err, ErrNotFound) {
		t.Errorf("after prune err = %v, want ErrNotFound", err)
	}
}

func TestFundamentalsAndCheckpoint(t *testing.T) {
	d := openTestDB(t, nil)
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	err := d.PutFundamentals(ctx, FundamentalsEntry{
		Ticker:      "AAPL",
		Source:      "SEC EDGAR",
		Data:        types.Fundamentals{KPIs: map[string]float64{"revenue": 119.58, "eps": 2.18}},
		AccessionID: "0000320193-24-000006",
		FetchedAt:   now,
	})
	if err != nil {
		t.Fatalf("PutFundamentals: %v", err)
	}
	f, err := d.GetFundamentals(ctx, "AAPL")
	if err != nil {
		t.Fatalf("GetFundamentals: %v", err)
	}
	if f.AccessionID != "0000320193-24-000006" || f.Data.KPIs["eps"] != 2.18 {
		t.Errorf("got %+v", f)
	}

	if _, err := d.GetFilingCheckpoint(ctx, "AAPL"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("checkpoint err = %v, want ErrNotFound", err)
	}
	cp := FilingCheckpoint{
		Ticker:      "AAPL",
		Source:      "SEC EDGAR",
		Filing:      types.Filing{Form: "10-Q", AccessionID: "0000320193-24-000006", FilingDate: "2024-02-02"},
		LastChecked: now,
	}
	if err := d.PutFilingCheckpoint(ctx, cp); err != nil {
		t.Fatalf("PutFilingCheckpoint: %v", err)
	}
	got, err := d.GetFilingCheckpoint(ctx, "AAPL")
	if err != nil {
		t.Fatalf("GetFilingCheckpoint: %v", err)
	}
	if got.Filing != cp.Filing || !got.LastChecked.Equal(now) {
		t.Errorf("checkpoint = %+v, want %+v", got, cp)
	}
}

func TestSubscribersLifecycle(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}
	d := openTestDB(t, clock)
	ctx := context.Background()

	if err := d.AddSubscriber(ctx, 100, 30, types.TierPro, types.PreferenceFull); err != nil {
		t.Fatalf("AddSubscriber: %v", err)
	}
	if err := d.AddSubscriber(ctx, 200, 1, types.TierBasic, types.PreferenceStandard); err != nil {
		t.Fatalf("AddSubscriber: %v", err)
	}

	for _, ticker := range []string{"msft", "AAPL", "MSFT"} {
		if err := d.AddTicker(ctx, 100, ticker, 2); err != nil {
			t.Fatalf("AddTicker(%s): %v", ticker, err)
		}
	}
	if err := d.AddTicker(ctx, 100, "NVDA", 2); !errors.Is(err, ErrLimitReached) {
		t.Errorf("AddTicker over cap err = %v, want ErrLimitReached", err)
	}
	if err := d.AddTicker(ctx, 200, "TSLA", 2); err != nil {
		t.Fatalf("AddTicker: %v", err)
	}

	subs, err := d.ActiveSubscribers(ctx)
	if err != nil {
		t.Fatalf("ActiveSubscribers: %v", err)
	}
	if len(subs) != 2 {
		t.Fatalf("len = %d, want 2", len(subs))
	}
	if got := subs[0].Tickers; len(got) != 2 || got[0] != "MSFT" || got[1] != "AAPL" {
		t.Errorf("tickers = %v, want [MSFT AAPL]", got)
	}
	if subs[0].Tier != types.TierPro || subs[0].Preference != types.PreferenceFull {
		t.Errorf("subscriber = %+v", subs[0])
	}

	unique, err := d.UniqueTickers(ctx)
	if err != nil {
		t.Fatalf("UniqueTickers: %v", err)
	}
	if len(unique) != 3 || unique[0] != "MSFT" || unique[2] != "TSLA" {
		t.Errorf("unique = %v", unique)
	}

	// subscriber 200 lapses after one day
	clock.now = clock.now.Add(48 * time.Hour)
	subs, err = d.ActiveSubscribers(ctx)
	if err != nil {
		t.Fatalf("ActiveSubscribers: %v", err)
	}
	if len(subs) != 1 || subs[0].ChatID != 100 {
		t.Errorf("after expiry = %+v", subs)
	}

	if err := d.RemoveTicker(ctx, 100, "msft"); err != nil {
		t.Fatalf("RemoveTicker: %v", err)
	}
	tickers, _ := d.SubscriberTickers(ctx, 100)
	if len(tickers) != 1 || tickers[0] != "AAPL" {
		t.Errorf("tickers = %v", tickers)
	}

	if err := d.RemoveSubscriber(ctx, 100); err != nil {
		t.Fatalf("RemoveSubscriber: %v", err)
	}
	if err := d.RemoveSubscriber(ctx, 999); !errors.Is(err, ErrNotFound) {
		t.Errorf("RemoveSubscriber unknown err = %v", err)
	}
}

func TestMetricsPersistence(t *testing.T) {
	d := openTestDB(t, nil)
	ctx := context.Background()

	v, err := d.GetMetric(ctx, "passes_total")
	if err != nil || v != 0 {
		t.Fatalf("GetMetric missing = %v, %v", v, err)
	}
	if err := d.SaveMetric(ctx, "passes_total", 7); err != nil {
		t.Fatalf("SaveMetric: %v", err)
	}
	if v, _ := d.GetMetric(ctx, "passes_total"); v != 7 {
		t.Errorf("GetMetric = %v, want 7", v)
	}

	if err := d.SaveMetricWithLabels(ctx, "messages_sent", "status", "ok", 12); err != nil {
		t.Fatalf("SaveMetricWithLabels: %v", err)
	}
	labelled, err := d.GetMetricsWithLabels(ctx, "messages_sent")
	if err != nil {
		t.Fatalf("GetMetricsWithLabels: %v", err)
	}
	if labelled["status"]["ok"] != 12 {
		t.Errorf("labelled = %v", labelled)
	}
}
