// Package broadcast decides which reports each subscriber receives and
// delivers them with a per-destination throttle.
package broadcast

import (
	"market-oracle-bot/internal/types"
)

// Batch is the ordered set of reports one subscriber receives in one pass
type Batch struct {
	Subscriber types.Subscriber
	Reports    []types.Report
}

// Include is the preference table: significant means the gate fired
func Include(pref types.Preference, kind types.PassKind, significant bool) bool {
	switch pref {
	case types.PreferenceAlertsOnly:
		return significant
	case types.PreferenceDigestOnly:
		return kind == types.PassDigest
	case types.PreferenceFull:
		return true
	default:
		return kind == types.PassDigest || significant
	}
}

// Route builds one batch per subscriber that has anything to receive. Reports
// follow the subscriber's own watch-list order.
func Route(subscribers []types.Subscriber, reports map[string]types.Report, kind types.PassKind) []Batch {
	var batches []Batch
	for _, s := range subscribers {
		var included []types.Report
		seen := make(map[string]bool, len(s.Tickers))
		for _, ticker := range s.Tickers {
			if seen[ticker] {
				continue
			}
			seen[ticker] = true

			r, ok := reports[ticker]
			if !ok {
				continue
			}
			if Include(s.Preference, kind, r.Significant) {
				included = append(included, r)
			}
		}
		if len(included) == 0 {
			continue
		}
		batches = append(batches, Batch{Subscriber: s, Reports: included})
	}
	return batches
}
