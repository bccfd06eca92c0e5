package news

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const feed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>Yahoo! Finance: AAPL News</title>
  <item>
    <title>Apple unveils new chips</title>
    <link>https://finance.yahoo.com/news/1</link>
    <pubDate>Fri, 01 Mar 2024 14:00:00 +0000</pubDate>
  </item>
  <item>
    <title>Analysts raise targets</title>
    <link>https://finance.yahoo.com/news/2</link>
  </item>
  <item>
    <title>Supply chain update</title>
    <link>https://finance.yahoo.com/news/3</link>
  </item>
  <item>
    <title>Fourth headline</title>
    <link>https://finance.yahoo.com/news/4</link>
  </item>
</channel>
</rss>`

func TestHeadlines(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("s")
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(feed))
	}))
	defer srv.Close()

	now := time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC)
	y := NewYahooRSS(
		WithFeedURL(srv.URL+"/rss?s={ticker}"),
		WithHTTPClient(srv.Client()),
		WithClock(func() time.Time { return now }),
	)

	items, err := y.Headlines(context.Background(), "AAPL", 3)
	if err != nil {
		t.Fatalf("Headlines: %v", err)
	}
	if gotQuery != "AAPL" {
		t.Errorf("query s = %q, want AAPL", gotQuery)
	}
	if len(items) != 3 {
		t.Fatalf("len = %d, want 3", len(items))
	}
	if items[0].Title != "Apple unveils new chips" || items[0].Source != "Yahoo Finance" {
		t.Errorf("items[0] = %+v", items[0])
	}
	if !items[0].PublishedAt.Equal(time.Date(2024, 3, 1, 14, 0, 0, 0, time.UTC)) {
		t.Errorf("published = %v", items[0].PublishedAt)
	}
	if !items[1].PublishedAt.Equal(now) {
		t.Errorf("missing pubDate should default to fetch time, got %v", items[1].PublishedAt)
	}
}

func TestHeadlinesUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	y := NewYahooRSS(WithFeedURL(srv.URL+"/rss?s={ticker}"), WithHTTPClient(srv.Client()))
	if _, err := y.Headlines(context.Background(), "AAPL", 3); err == nil {
		t.Error("expected error for 503 response")
	}
}
