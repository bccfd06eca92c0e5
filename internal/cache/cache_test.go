package cache

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"market-oracle-bot/config"
	"market-oracle-bot/internal/database"
	"market-oracle-bot/internal/types"
)

type fakeNews struct {
	items []types.NewsItem
	err   error
	calls int
}

func (f *fakeNews) Name() string { return "fake news" }

func (f *fakeNews) Headlines(_ context.Context, _ string, _ int) ([]types.NewsItem, error) {
	f.calls++
	return f.items, f.err
}

type fakeFundamentals struct {
	filing      *types.Filing
	filingErr   error
	data        *types.Fundamentals
	err         error
	filingCalls int
	calls       int
}

func (f *fakeFundamentals) Name() string { return "fake sec" }

func (f *fakeFundamentals) LatestFiling(_ context.Context, _ string) (*types.Filing, error) {
	f.filingCalls++
	return f.filing, f.filingErr
}

func (f *fakeFundamentals) Fundamentals(_ context.Context, _ string) (*types.Fundamentals, error) {
	f.calls++
	return f.data, f.err
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func settings() config.CacheSettings {
	return config.CacheSettings{
		NewsTTL:             time.Hour,
		NewsTopN:            3,
		FundamentalsTTL:     7 * 24 * time.Hour,
		FilingCheckInterval: 6 * time.Hour,
		Retention:           30 * 24 * time.Hour,
	}
}

func setup(t *testing.T) (*database.DB, *clock) {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, &clock{t: time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)}
}

func headlines(n int) []types.NewsItem {
	out := make([]types.NewsItem, n)
	for i := range out {
		out[i] = types.NewsItem{Title: "headline " + string(rune('A'+i)), URL: "https://example.com", Source: "fake news"}
	}
	return out
}

func TestNewsTTLRoundTrip(t *testing.T) {
	db, clk := setup(t)
	news := &fakeNews{items: headlines(5)}
	c := New(db, news, &fakeFundamentals{}, settings(), WithClock(clk.now))
	ctx := context.Background()

	first, err := c.News(ctx, "AAPL")
	if err != nil {
		t.Fatalf("News: %v", err)
	}
	if len(first) != 3 {
		t.Fatalf("len = %d, want top 3", len(first))
	}

	clk.t = clk.t.Add(time.Hour)
	second, err := c.News(ctx, "AAPL")
	if err != nil {
		t.Fatalf("News: %v", err)
	}
	if news.calls != 1 {
		t.Errorf("provider calls = %d, want 1 (read at TTL is a hit)", news.calls)
	}
	if len(second) != 3 || second[0].Title != first[0].Title {
		t.Errorf("cached items = %+v, want %+v", second, first)
	}

	clk.t = clk.t.Add(time.Second)
	news.items = headlines(1)
	third, err := c.News(ctx, "AAPL")
	if err != nil {
		t.Fatalf("News: %v", err)
	}
	if news.calls != 2 {
		t.Errorf("provider calls = %d, want 2 after TTL elapsed", news.calls)
	}
	if len(third) != 1 {
		t.Errorf("refresh did not replace items wholesale: %+v", third)
	}
}

func TestNewsStaleOnFailure(t *testing.T) {
	db, clk := setup(t)
	news := &fakeNews{items: headlines(2)}
	c := New(db, news, &fakeFundamentals{}, settings(), WithClock(clk.now))
	ctx := context.Background()

	if _, err := c.News(ctx, "AAPL"); err != nil {
		t.Fatalf("News: %v", err)
	}

	clk.t = clk.t.Add(3 * time.Hour)
	news.err = errors.New("upstream down")
	items, err := c.News(ctx, "AAPL")
	if err != nil {
		t.Fatalf("News with stale entry returned %v", err)
	}
	if len(items) != 2 {
		t.Errorf("stale items = %+v", items)
	}

	entry, err := db.GetNews(ctx, "AAPL")
	if err != nil {
		t.Fatalf("GetNews: %v", err)
	}
	if !entry.FetchedAt.Equal(time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)) {
		t.Errorf("failed refresh touched the entry: fetched_at %v", entry.FetchedAt)
	}
}

func TestNewsUnavailableWithoutEntry(t *testing.T) {
	db, clk := setup(t)
	c := New(db, &fakeNews{err: errors.New("timeout")}, &fakeFundamentals{}, settings(), WithClock(clk.now))

	if _, err := c.News(context.Background(), "AAPL"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}

func TestFundamentalsRefreshOnNewFiling(t *testing.T) {
	db, clk := setup(t)
	ctx := context.Background()

	q1 := &types.Filing{Form: "10-Q", AccessionID: "acc-1", FilingDate: "2024-02-01"}
	fund := &fakeFundamentals{
		filing: q1,
		data:   &types.Fundamentals{KPIs: map[string]float64{"revenue": 100}, Filing: q1},
	}
	c := New(db, &fakeNews{}, fund, settings(), WithClock(clk.now))

	if _, err := c.Fundamentals(ctx, "AAPL"); err != nil {
		t.Fatalf("Fundamentals: %v", err)
	}
	if fund.calls != 1 || fund.filingCalls != 1 {
		t.Fatalf("calls = %d/%d, want 1/1", fund.calls, fund.filingCalls)
	}

	// inside the check interval the checkpoint is not re-queried
	clk.t = clk.t.Add(time.Hour)
	if _, err := c.Fundamentals(ctx, "AAPL"); err != nil {
		t.Fatalf("Fundamentals: %v", err)
	}
	if fund.calls != 1 || fund.filingCalls != 1 {
		t.Errorf("calls = %d/%d, want cache hit", fund.calls, fund.filingCalls)
	}

	// a new filing inside the TTL forces a refresh
	clk.t = clk.t.Add(6 * time.Hour)
	q2 := &types.Filing{Form: "10-K", AccessionID: "acc-2", FilingDate: "2024-03-01"}
	fund.filing = q2
	fund.data = &types.Fundamentals{KPIs: map[string]float64{"revenue": 120}, Filing: q2}

	got, err := c.Fundamentals(ctx, "AAPL")
	if err != nil {
		t.Fatalf("Fundamentals: %v", err)
	}
	if fund.calls != 2 {
		t.Errorf("fundamentals calls = %d, want 2", fund.calls)
	}
	if got.KPIs["revenue"] != 120 {
		t.Errorf("revenue = %v, want 120", got.KPIs["revenue"])
	}

	entry, err := db.GetFundamentals(ctx, "AAPL")
	if err != nil {
		t.Fatalf("GetFundamentals: %v", err)
	}
	if entry.AccessionID != "acc-2" {
		t.Errorf("accession = %q, want acc-2", entry.AccessionID)
	}
}

func TestFundamentalsTTLExpiry(t *testing.T) {
	db, clk := setup(t)
	ctx := context.Background()

	filing := &types.Filing{Form: "10-Q", AccessionID: "acc-1"}
	fund := &fakeFundamentals{filing: filing, data: &types.Fundamentals{KPIs: map[string]float64{"eps": 1}, Filing: filing}}
	c := New(db, &fakeNews{}, fund, settings(), WithClock(clk.now))

	if _, err := c.Fundamentals(ctx, "AAPL"); err != nil {
		t.Fatalf("Fundamentals: %v", err)
	}
	clk.t = clk.t.Add(8 * 24 * time.Hour)
	if _, err := c.Fundamentals(ctx, "AAPL"); err != nil {
		t.Fatalf("Fundamentals: %v", err)
	}
	if fund.calls != 2 {
		t.Errorf("calls = %d, want refresh after TTL", fund.calls)
	}
}

func TestFundamentalsFailureModes(t *testing.T) {
	db, clk := setup(t)
	ctx := context.Background()

	fund := &fakeFundamentals{filingErr: errors.New("no cik"), err: errors.New("no cik")}
	c := New(db, &fakeNews{}, fund, settings(), WithClock(clk.now))
	if _, err := c.Fundamentals(ctx, "BTC"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}

	fund.filingErr, fund.err = nil, nil
	fund.filing = &types.Filing{AccessionID: "acc-1"}
	fund.data = &types.Fundamentals{KPIs: map[string]float64{"cash": 5}, Filing: fund.filing}
	if _, err := c.Fundamentals(ctx, "MSFT"); err != nil {
		t.Fatalf("Fundamentals: %v", err)
	}

	clk.t = clk.t.Add(30 * 24 * time.Hour)
	fund.filingErr, fund.err = errors.New("503"), errors.New("503")
	got, err := c.Fundamentals(ctx, "MSFT")
	if err != nil {
		t.Fatalf("stale fundamentals returned %v", err)
	}
	if got.KPIs["cash"] != 5 {
		t.Errorf("stale data = %+v", got)
	}
}

func TestPrune(t *testing.T) {
	db, clk := setup(t)
	ctx := context.Background()
	c := New(db, &fakeNews{items: headlines(1)}, &fakeFundamentals{}, settings(), WithClock(clk.now))

	if _, err := c.News(ctx, "AAPL"); err != nil {
		t.Fatalf("News: %v", err)
	}
	clk.t = clk.t.Add(31 * 24 * time.Hour)
	n, err := c.Prune(ctx)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned = %d, want 1", n)
	}
}
