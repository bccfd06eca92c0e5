// Package fundamentals reads company KPIs and filing descriptors from SEC EDGAR.
package fundamentals

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"market-oracle-bot/internal/types"
)

const (
	defaultBaseURL = "https://data.sec.gov"
	source         = "SEC EDGAR"
	cikCacheSize   = 16384
)

// ErrUnknownTicker is returned for symbols EDGAR has no CIK for (crypto, foreign listings)
var ErrUnknownTicker = errors.New("no CIK for ticker")

// SEC is the EDGAR provider. The CIK map is memoised in an LRU.
type SEC struct {
	baseURL   string
	userAgent string
	client    *http.Client
	ciks      *lru.Cache[string, string]
}

type Option func(*SEC)

func WithBaseURL(u string) Option {
	return func(s *SEC) {
		s.baseURL = strings.TrimRight(u, "/")
	}
}

func WithHTTPClient(c *http.Client) Option {
	return func(s *SEC) {
		s.client = c
	}
}

func NewSEC(userAgent string, opts ...Option) (*SEC, error) {
	ciks, err := lru.New[string, string](cikCacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create CIK cache")
	}
	s := &SEC{
		baseURL:   defaultBaseURL,
		userAgent: userAgent,
		client:    &http.Client{Timeout: 15 * time.Second},
		ciks:      ciks,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *SEC) Name() string {
	return source
}

func (s *SEC) getJSON(ctx context.Context, path string, v interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "GET %s", path)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("GET %s: unexpected status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return errors.Wrapf(err, "failed to decode %s", path)
	}
	return nil
}

// CIK resolves a ticker to its zero-padded 10 digit CIK
func (s *SEC) CIK(ctx context.Context, ticker string) (string, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if cik, ok := s.ciks.Get(ticker); ok {
		return cik, nil
	}

	var companies map[string]struct {
		CIK    int64  `json:"cik_str"`
		Ticker string `json:"ticker"`
		Title  string `json:"title"`
	}
	if err := s.getJSON(ctx, "/files/company_tickers.json", &companies); err != nil {
		return "", err
	}

	found := ""
	for _, c := range companies {
		t := strings.ToUpper(c.Ticker)
		cik := fmt.Sprintf("%010d", c.CIK)
		s.ciks.Add(t, cik)
		if t == ticker {
			found = cik
		}
	}
	if found == "" {
		return "", errors.Wrap(ErrUnknownTicker, ticker)
	}
	log.WithFields(log.Fields{"ticker": ticker, "cik": found}).Debug("Resolved CIK")
	return found, nil
}

// LatestFiling returns the most recent 10-Q or 10-K descriptor
func (s *SEC) LatestFiling(ctx context.Context, ticker string) (*types.Filing, error) {
	cik, err := s.CIK(ctx, ticker)
	if err != nil {
		return nil, err
	}

	var sub struct {
		Filings struct {
			Recent struct {
				Form            []string `json:"form"`
				AccessionNumber []string `json:"accessionNumber"`
				FilingDate      []string `json:"filingDate"`
			} `json:"recent"`
		} `json:"filings"`
	}
	if err := s.getJSON(ctx, "/submissions/CIK"+cik+".json", &sub); err != nil {
		return nil, err
	}

	recent := sub.Filings.Recent
	for i, form := range recent.Form {
		if form != "10-Q" && form != "10-K" {
			continue
		}
		if i >= len(recent.AccessionNumber) || i >= len(recent.FilingDate) {
			break
		}
		return &types.Filing{
			Form:        form,
			AccessionID: recent.AccessionNumber[i],
			FilingDate:  recent.FilingDate[i],
		}, nil
	}
	return nil, errors.Errorf("no 10-Q/10-K filings for CIK %s", cik)
}

type factValue struct {
	End string  `json:"end"`
	Val float64 `json:"val"`
}

type concept struct {
	Units map[string][]factValue `json:"units"`
}

func latest(facts map[string]concept, names ...string) (float64, bool) {
	for _, name := range names {
		c, ok := facts[name]
		if !ok {
			continue
		}
		for _, unit := range []string{"USD", "USD/shares", "shares"} {
			values := c.Units[unit]
			if len(values) == 0 {
				continue
			}
			sorted := append([]factValue(nil), values...)
			sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].End > sorted[j].End })
			if sorted[0].Val != 0 {
				return sorted[0].Val, true
			}
		}
	}
	return 0, false
}

// Fundamentals returns the KPI map (revenue, cash, debt in billions; net income in millions)
// together with the latest filing descriptor when it can be resolved.
func (s *SEC) Fundamentals(ctx context.Context, ticker string) (*types.Fundamentals, error) {
	cik, err := s.CIK(ctx, ticker)
	if err != nil {
		return nil, err
	}

	var body struct {
		Facts struct {
			USGAAP map[string]concept `json:"us-gaap"`
		} `json:"facts"`
	}
	if err := s.getJSON(ctx, "/api/xbrl/companyfacts/CIK"+cik+".json", &body); err != nil {
		return nil, err
	}
	facts := body.Facts.USGAAP

	kpis := make(map[string]float64)
	if v, ok := latest(facts, "Revenues", "RevenueFromContractWithCustomerExcludingAssessedTax"); ok {
		kpis["revenue"] = v / 1e9
	}
	if v, ok := latest(facts, "NetIncomeLoss"); ok {
		kpis["net_income"] = v / 1e6
	}
	if v, ok := latest(facts, "EarningsPerShareBasic"); ok {
		kpis["eps"] = v
	}
	if v, ok := latest(facts, "CashAndCashEquivalentsAtCarryingValue"); ok {
		kpis["cash"] = v / 1e9
	}
	longTerm, _ := latest(facts, "LongTermDebt")
	current, _ := latest(facts, "DebtCurrent")
	if debt := longTerm + current; debt > 0 {
		kpis["debt"] = debt / 1e9
	}

	f := &types.Fundamentals{KPIs: kpis}
	if filing, err := s.LatestFiling(ctx, ticker); err == nil {
		f.Filing = filing
	} else {
		log.WithField("ticker", ticker).Debugf("no filing descriptor: %v", err)
	}
	return f, nil
}
