package analysis

import (
	"math"

	"market-oracle-bot/internal/types"
)

// Router picks the model tier for one instrument
type Router struct {
	Basic      string
	HQ         string
	MajorEvent float64
}

// IsMajor reports a day move beyond the major-event threshold or a volume-driven fire
func (r Router) IsMajor(ind types.Indicators, d types.Decision) bool {
	return math.Abs(ind.PriceChangePct) > r.MajorEvent || d.Has(types.ReasonVolumeSpike)
}

// Model returns the HQ model only for pro watchers of a major event
func (r Router) Model(maxTier types.Tier, ind types.Indicators, d types.Decision) string {
	if maxTier == types.TierPro && r.IsMajor(ind, d) {
		return r.HQ
	}
	return r.Basic
}

// MaxTier is the highest tier among subscribers watching ticker
func MaxTier(subscribers []types.Subscriber, ticker string) types.Tier {
	for _, s := range subscribers {
		if s.Tier == types.TierPro && s.Watches(ticker) {
			return types.TierPro
		}
	}
	return types.TierBasic
}
