// Package gate decides whether an instrument has moved enough since its last
// snapshot to justify a fresh analysis call.
package gate

import (
	"fmt"
	"math"
	"time"

	log "github.com/sirupsen/logrus"

	"market-oracle-bot/config"
	"market-oracle-bot/internal/types"
)

// thresholds are inclusive; the tolerance absorbs float rounding in the ratios
const epsilon = 1e-9

func atLeast(v, threshold float64) bool {
	return v >= threshold-epsilon
}

// Gate is a pure function of its inputs and the injected clock
type Gate struct {
	cfg config.GateSettings
	now func() time.Time
}

// Option customises a Gate
type Option func(*Gate)

// WithClock replaces time.Now for cooldown evaluation
func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		g.now = now
	}
}

func New(cfg config.GateSettings, opts ...Option) *Gate {
	g := &Gate{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Evaluate returns the fire decision for one instrument. A nil snapshot is a first run.
func (g *Gate) Evaluate(ticker string, cur types.Indicators, prev *types.Snapshot) types.Decision {
	logger := log.WithField("ticker", ticker)

	if prev == nil {
		logger.Debug("Gate OPEN: first run")
		return types.Decision{Fire: true, Reasons: []types.Reason{{Kind: types.ReasonFirstRun, Detail: "First run"}}}
	}

	if prev.LastTriggerAt != nil {
		if elapsed := g.now().Sub(*prev.LastTriggerAt); elapsed < g.cfg.Cooldown {
			logger.Debugf("Gate CLOSED: cooldown, last fire %s ago", elapsed.Round(time.Minute))
			return types.Decision{}
		}
	}

	var reasons []types.Reason

	if prev.LastPrice != 0 {
		pct := math.Abs(cur.CurrentPrice-prev.LastPrice) / prev.LastPrice * 100
		if atLeast(pct, g.cfg.PriceChangeTriggerPct) {
			reasons = append(reasons, types.Reason{
				Kind:   types.ReasonPriceChange,
				Detail: fmt.Sprintf("Price Change %.2f%%", pct),
			})
		}
	}

	switch {
	case cur.RSI >= g.cfg.RSIOverbought:
		reasons = append(reasons, types.Reason{Kind: types.ReasonRSIExtreme, Detail: fmt.Sprintf("RSI Overbought %.1f", cur.RSI)})
	case cur.RSI <= g.cfg.RSIOversold:
		reasons = append(reasons, types.Reason{Kind: types.ReasonRSIExtreme, Detail: fmt.Sprintf("RSI Oversold %.1f", cur.RSI)})
	}

	if prev.LastRSI != nil {
		if delta := math.Abs(cur.RSI - *prev.LastRSI); atLeast(delta, g.cfg.RSIDeltaTrigger) {
			reasons = append(reasons, types.Reason{Kind: types.ReasonRSIDelta, Detail: fmt.Sprintf("RSI Delta %.1f", delta)})
		}
	}

	// skipped silently without a baseline
	if cur.VolumeSMA > 0 && cur.CurrentVolume > cur.VolumeSMA*g.cfg.VolumeSpikeMultiplier {
		reasons = append(reasons, types.Reason{
			Kind:   types.ReasonVolumeSpike,
			Detail: fmt.Sprintf("Volume Spike %.1fx", cur.CurrentVolume/cur.VolumeSMA),
		})
	}

	if prev.LastEMAShort != nil && prev.LastPrice != 0 {
		lastEMA := *prev.LastEMAShort
		switch {
		case prev.LastPrice < lastEMA && cur.CurrentPrice > cur.EMAShort:
			reasons = append(reasons, types.Reason{Kind: types.ReasonEMACross, Detail: "Bullish EMA50 Cross"})
		case prev.LastPrice > lastEMA && cur.CurrentPrice < cur.EMAShort:
			reasons = append(reasons, types.Reason{Kind: types.ReasonEMACross, Detail: "Bearish EMA50 Cross"})
		}
	}

	if len(reasons) == 0 {
		logger.Debug("Gate CLOSED")
		return types.Decision{}
	}

	d := types.Decision{Fire: true, Reasons: reasons}
	logger.WithField("reason", d.String()).Info("Gate OPEN")
	return d
}
