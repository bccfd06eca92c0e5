// Package pipeline runs one batch pass: evaluate every watched instrument,
// persist its snapshot, render reports and fan them out to subscribers.
package pipeline

import (
	"context"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"

	"market-oracle-bot/internal/analysis"
	"market-oracle-bot/internal/broadcast"
	"market-oracle-bot/internal/cache"
	"market-oracle-bot/internal/database"
	"market-oracle-bot/internal/gate"
	"market-oracle-bot/internal/indicators"
	"market-oracle-bot/internal/lock"
	"market-oracle-bot/internal/market"
	"market-oracle-bot/internal/metrics"
	"market-oracle-bot/internal/report"
	"market-oracle-bot/internal/types"
)

const passLock = "pipeline-pass"

type MarketData interface {
	Candles(ctx context.Context, ticker string) ([]types.Candle, error)
}

type Store interface {
	GetSnapshot(ctx context.Context, ticker string) (*types.Snapshot, error)
	UpsertSnapshot(ctx context.Context, w database.SnapshotWrite) error
	ActiveSubscribers(ctx context.Context) ([]types.Subscriber, error)
}

type AuxCache interface {
	News(ctx context.Context, ticker string) ([]types.NewsItem, error)
	Fundamentals(ctx context.Context, ticker string) (*types.Fundamentals, error)
}

type Analyzer interface {
	Analyze(ctx context.Context, r analysis.Request) types.Result
}

type ChartRenderer interface {
	Render(ticker string, candles []types.Candle) ([]byte, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, batches []broadcast.Batch, kind types.PassKind, at time.Time) broadcast.Summary
}

// Deps are the collaborators of a pass. Charts may be nil.
type Deps struct {
	Market     MarketData
	Store      Store
	Cache      AuxCache
	Gate       *gate.Gate
	Analyzer   Analyzer
	Charts     ChartRenderer
	Dispatcher Dispatcher
	Locker     lock.Locker
	Metrics    *metrics.Metrics
}

type Pipeline struct {
	Deps
	workers      int
	fetchTimeout time.Duration
	windows      indicators.Windows
	dryRun       bool
	now          func() time.Time
}

type Option func(*Pipeline)

func WithWorkers(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.workers = n
		}
	}
}

func WithFetchTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		p.fetchTimeout = d
	}
}

// WithDryRun evaluates and renders without writing snapshots or sending messages
func WithDryRun(dry bool) Option {
	return func(p *Pipeline) {
		p.dryRun = dry
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

func WithWindows(w indicators.Windows) Option {
	return func(p *Pipeline) {
		p.windows = w
	}
}

func New(deps Deps, opts ...Option) *Pipeline {
	p := &Pipeline{
		Deps:    deps,
		workers: 4,
		windows: indicators.DefaultWindows,
		now:     time.Now,
	}
	if p.Locker == nil {
		p.Locker = lock.NewLocal()
	}
	if p.Metrics == nil {
		p.Metrics = metrics.New()
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Outcome is the per-instrument result of a pass. Stage names the step that
// failed when Err is set.
type Outcome struct {
	Ticker     string
	Indicators types.Indicators
	Previous   *types.Snapshot
	Decision   types.Decision
	Result     types.Result
	Report     types.Report
	Stage      string
	Err        error

	pending *database.SnapshotWrite
}

// PassResult summarises one Run
type PassResult struct {
	Kind     types.PassKind
	Skipped  bool
	Tickers  []string
	Outcomes []Outcome
	Delivery broadcast.Summary
}

// Run executes one pass. Only cancellation, a lock backend failure or an
// unreadable subscriber list return an error; everything else is isolated
// per instrument or per subscriber.
func (p *Pipeline) Run(ctx context.Context, kind types.PassKind) (PassResult, error) {
	started := p.now()
	res := PassResult{Kind: kind}
	logger := log.WithFields(log.Fields{"kind": kind, "dry_run": p.dryRun})

	release, err := p.Locker.Acquire(ctx, passLock)
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			logger.Warn("previous pass still running, skipping")
			p.Metrics.Passes.WithLabelValues(string(kind), "skipped").Inc()
			res.Skipped = true
			return res, nil
		}
		p.Metrics.Passes.WithLabelValues(string(kind), "failed").Inc()
		return res, errors.Wrap(err, "could not acquire pass lock")
	}
	defer release()

	subscribers, err := p.Store.ActiveSubscribers(ctx)
	if err != nil {
		p.Metrics.Passes.WithLabelValues(string(kind), "failed").Inc()
		return res, errors.Wrap(err, "could not load subscribers")
	}
	if len(subscribers) == 0 {
		logger.Info("no active subscribers, skipping pass")
		p.Metrics.Passes.WithLabelValues(string(kind), "skipped").Inc()
		res.Skipped = true
		return res, nil
	}

	res.Tickers = UniqueTickers(subscribers)
	p.Metrics.Instruments.Set(float64(len(res.Tickers)))
	logger.Infof("Starting pass over %d instruments for %d subscribers", len(res.Tickers), len(subscribers))

	wp := pool.NewWithResults[Outcome]().WithContext(ctx).WithMaxGoroutines(p.workers)
	for _, ticker := range res.Tickers {
		ticker := ticker
		if ctx.Err() != nil {
			break
		}
		wp.Go(func(ctx context.Context) (Outcome, error) {
			return p.evaluate(ctx, ticker, subscribers), nil
		})
	}
	outcomes, _ := wp.Wait()
	res.Outcomes = orderOutcomes(res.Tickers, outcomes)

	reports := make(map[string]types.Report, len(res.Outcomes))
	for _, o := range res.Outcomes {
		if o.Err != nil {
			p.Metrics.InstrumentErrors.WithLabelValues(o.Stage).Inc()
			continue
		}
		reports[o.Ticker] = o.Report
	}

	if err := ctx.Err(); err != nil {
		return res, p.cancelled(logger, res, kind, err)
	}

	batches := broadcast.Route(subscribers, reports, kind)
	if p.dryRun {
		for _, o := range res.Outcomes {
			logger.Debug(spew.Sdump(o.Ticker, o.Decision, o.Result, o.Err))
		}
		logger.Infof("dry run: %d reports, %d subscriber batches not sent", len(reports), len(batches))
		p.Metrics.Passes.WithLabelValues(string(kind), "dry_run").Inc()
		return res, nil
	}

	res.Delivery = p.Dispatcher.Dispatch(ctx, batches, kind, p.now())
	if err := ctx.Err(); err != nil {
		return res, p.cancelled(logger, res, kind, err)
	}
	for _, o := range res.Outcomes {
		if o.pending != nil {
			p.persist(ctx, *o.pending)
		}
	}

	p.Metrics.MessagesSent.Add(float64(res.Delivery.Messages))
	p.Metrics.DeliveryFailures.Add(float64(res.Delivery.Failures))
	p.Metrics.Passes.WithLabelValues(string(kind), "ok").Inc()
	p.Metrics.PassDuration.WithLabelValues(string(kind)).Observe(p.now().Sub(started).Seconds())

	logger.WithFields(log.Fields{
		"reports":     len(reports),
		"subscribers": res.Delivery.Subscribers,
		"messages":    res.Delivery.Messages,
		"failures":    res.Delivery.Failures,
	}).Info("Pass complete")
	return res, nil
}

// cancelled leaves fired instruments unstamped so the next pass re-fires them
func (p *Pipeline) cancelled(logger *log.Entry, res PassResult, kind types.PassKind, err error) error {
	unsent := 0
	for _, o := range res.Outcomes {
		if o.pending != nil {
			unsent++
		}
	}
	logger.Warnf("pass cancelled after %d of %d instruments, %d fired reports left unstamped",
		len(res.Outcomes), len(res.Tickers), unsent)
	p.Metrics.Passes.WithLabelValues(string(kind), "cancelled").Inc()
	return err
}

func (p *Pipeline) persist(ctx context.Context, w database.SnapshotWrite) {
	if err := p.Store.UpsertSnapshot(ctx, w); err != nil {
		log.WithField("ticker", w.Ticker).Errorf("snapshot write failed, result kept in memory only: %v", err)
		p.Metrics.InstrumentErrors.WithLabelValues("persist").Inc()
	}
}

func (p *Pipeline) fetchContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.fetchTimeout > 0 {
		return context.WithTimeout(ctx, p.fetchTimeout)
	}
	return context.WithCancel(ctx)
}

func (p *Pipeline) evaluate(ctx context.Context, ticker string, subscribers []types.Subscriber) Outcome {
	out := Outcome{Ticker: ticker}
	logger := log.WithField("ticker", ticker)
	fail := func(stage string, err error) Outcome {
		logger.WithField("stage", stage).Errorf("skipping instrument: %v", err)
		out.Stage = stage
		out.Err = err
		return out
	}

	fctx, cancel := p.fetchContext(ctx)
	candles, err := p.Market.Candles(fctx, ticker)
	cancel()
	if err != nil {
		return fail("market", err)
	}

	ind, err := indicators.Compute(candles, p.windows)
	if err != nil {
		return fail("indicators", err)
	}
	out.Indicators = ind

	prev, err := p.Store.GetSnapshot(ctx, ticker)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return fail("snapshot", err)
	}
	out.Previous = prev

	news, err := p.Cache.News(ctx, ticker)
	if err != nil && !errors.Is(err, cache.ErrUnavailable) {
		logger.Warnf("news lookup failed: %v", err)
	}
	// crypto pairs have no SEC filer
	var fundamentals *types.Fundamentals
	if !market.IsCrypto(ticker) {
		fundamentals, err = p.Cache.Fundamentals(ctx, ticker)
		if err != nil && !errors.Is(err, cache.ErrUnavailable) {
			logger.Warnf("fundamentals lookup failed: %v", err)
		}
	}

	out.Decision = p.Gate.Evaluate(ticker, ind, prev)
	now := p.now()

	if out.Decision.Fire {
		p.Metrics.GateDecisions.WithLabelValues("fired").Inc()
		for _, r := range out.Decision.Reasons {
			p.Metrics.Triggers.WithLabelValues(string(r.Kind)).Inc()
		}
		out.Result = p.Analyzer.Analyze(ctx, analysis.Request{
			Ticker:       ticker,
			Indicators:   ind,
			Previous:     prev,
			Decision:     out.Decision,
			Delta:        report.Delta(ind, prev),
			News:         news,
			Fundamentals: fundamentals,
			Tier:         analysis.MaxTier(subscribers, ticker),
		})
		p.Metrics.AnalyzerCalls.WithLabelValues(out.Result.Model, string(out.Result.Kind)).Inc()
	} else {
		p.Metrics.GateDecisions.WithLabelValues("quiet").Inc()
		out.Result = analysis.Quiet(ind, prev)
	}

	if !p.dryRun {
		w := database.SnapshotWrite{
			Ticker:     ticker,
			Indicators: ind,
			Action:     out.Result.Action,
			Result:     out.Result,
			RunAt:      now,
		}
		if out.Decision.Fire {
			// stamped only once the report has been handed to the dispatcher
			w.TriggerKind = out.Decision.Kinds()
			w.TriggerAt = &now
			out.pending = &w
		} else {
			p.persist(ctx, w)
		}
	}

	out.Report = report.Render(report.Input{
		Ticker:       ticker,
		Indicators:   ind,
		Previous:     prev,
		Result:       out.Result,
		News:         news,
		Fundamentals: fundamentals,
		Now:          now,
	})

	if p.Charts != nil && out.Decision.Fire {
		png, err := p.Charts.Render(ticker, candles)
		if err != nil {
			logger.Warnf("chart render failed: %v", err)
		} else {
			out.Report.Chart = png
		}
	}

	logger.WithFields(log.Fields{
		"fire":   out.Decision.Fire,
		"reason": out.Decision.String(),
		"action": out.Result.Action,
	}).Debug("instrument evaluated")
	return out
}

// UniqueTickers is the union of all watch-lists in first-seen order
func UniqueTickers(subscribers []types.Subscriber) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range subscribers {
		for _, t := range s.Tickers {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	return out
}

func orderOutcomes(tickers []string, outcomes []Outcome) []Outcome {
	byTicker := make(map[string]Outcome, len(outcomes))
	for _, o := range outcomes {
		byTicker[o.Ticker] = o
	}
	ordered := make([]Outcome, 0, len(outcomes))
	for _, t := range tickers {
		if o, ok := byTicker[t]; ok {
			ordered = append(ordered, o)
		}
	}
	return ordered
}
