package types

import (
	"strings"
	"time"
)

// Candle is one bar of raw market data
type Candle struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Indicators is the fixed-shape technical record computed from candles
type Indicators struct {
	CurrentPrice   float64 `json:"current_price"`
	PriceChangePct float64 `json:"price_change_pct"`
	RSI            float64 `json:"rsi"`
	EMAShort       float64 `json:"ema_short"`
	EMALong        float64 `json:"ema_long"`
	ATR            float64 `json:"atr"`
	CurrentVolume  float64 `json:"current_volume"`
	VolumeSMA      float64 `json:"volume_sma"`
}

// Snapshot is the last known state of an instrument. Nil pointers are NULL columns.
type Snapshot struct {
	Ticker          string     `json:"ticker"`
	LastPrice       float64    `json:"last_price"`
	LastRSI         *float64   `json:"last_rsi,omitempty"`
	LastEMAShort    *float64   `json:"last_ema_short,omitempty"`
	LastEMALong     *float64   `json:"last_ema_long,omitempty"`
	LastAction      Action     `json:"last_action"`
	LastResult      *Result    `json:"last_result,omitempty"`
	LastTriggerKind string     `json:"last_trigger_kind,omitempty"`
	LastTriggerAt   *time.Time `json:"last_trigger_at,omitempty"`
	LastRunAt       time.Time  `json:"last_run_at"`
}

// ReasonKind is one of the fixed gate trigger tags
type ReasonKind string

const (
	ReasonFirstRun    ReasonKind = "first_run"
	ReasonPriceChange ReasonKind = "price_change"
	ReasonRSIExtreme  ReasonKind = "rsi_extreme"
	ReasonRSIDelta    ReasonKind = "rsi_delta"
	ReasonVolumeSpike ReasonKind = "volume_spike"
	ReasonEMACross    ReasonKind = "ema_cross"
)

// Reason is a trigger tag with the human readable detail that produced it
type Reason struct {
	Kind   ReasonKind `json:"kind"`
	Detail string     `json:"detail"`
}

func (r Reason) String() string {
	if r.Detail == "" {
		return string(r.Kind)
	}
	return r.Detail
}

// Decision is the gate outcome for one instrument in one pass
type Decision struct {
	Fire    bool     `json:"fire"`
	Reasons []Reason `json:"reasons,omitempty"`
}

// String joins every contributing reason with a comma
func (d Decision) String() string {
	parts := make([]string, 0, len(d.Reasons))
	for _, r := range d.Reasons {
		parts = append(parts, r.String())
	}
	return strings.Join(parts, ", ")
}

// Kinds is the comma-joined reason tags, as stamped into the snapshot
func (d Decision) Kinds() string {
	parts := make([]string, 0, len(d.Reasons))
	for _, r := range d.Reasons {
		parts = append(parts, string(r.Kind))
	}
	return strings.Join(parts, ",")
}

// Has reports whether the decision contains a reason of the given kind
func (d Decision) Has(kind ReasonKind) bool {
	for _, r := range d.Reasons {
		if r.Kind == kind {
			return true
		}
	}
	return false
}

type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// ParseAction returns HOLD for anything outside the known set
func ParseAction(s string) Action {
	switch Action(strings.ToUpper(strings.TrimSpace(s))) {
	case ActionBuy:
		return ActionBuy
	case ActionSell:
		return ActionSell
	default:
		return ActionHold
	}
}

// ResultKind tags which path produced a Result
type ResultKind string

const (
	ResultAnalyzed ResultKind = "analyzed"
	ResultFallback ResultKind = "fallback"
	ResultQuiet    ResultKind = "quiet"
)

// Result is the structured per-instrument analysis
type Result struct {
	Kind          ResultKind `json:"kind"`
	Action        Action     `json:"action"`
	Emoji         string     `json:"emoji"`
	Confidence    float64    `json:"confidence"`
	Summary       string     `json:"summary"`
	KeyPoints     []string   `json:"key_points"`
	Invalidation  string     `json:"invalidation"`
	RiskNote      string     `json:"risk_note"`
	Model         string     `json:"model,omitempty"`
	TriggerReason string     `json:"trigger_reason,omitempty"`
}

func (r Result) IsFallback() bool {
	return r.Kind == ResultFallback
}

type Tier string

const (
	TierBasic Tier = "basic"
	TierPro   Tier = "pro"
)

// ParseTier maps legacy plan names onto the two routing tiers
func ParseTier(s string) Tier {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pro", "premium", "vip":
		return TierPro
	default:
		return TierBasic
	}
}

type Preference string

const (
	PreferenceStandard   Preference = "standard"
	PreferenceAlertsOnly Preference = "alerts_only"
	PreferenceDigestOnly Preference = "digest_only"
	PreferenceFull       Preference = "full"
)

// ParsePreference falls back to standard for unknown values
func ParsePreference(s string) Preference {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "alerts_only", "alerts-only":
		return PreferenceAlertsOnly
	case "digest_only", "digest-only":
		return PreferenceDigestOnly
	case "full", "3x_full", "all":
		return PreferenceFull
	default:
		return PreferenceStandard
	}
}

type PassKind string

const (
	PassRoutine PassKind = "routine"
	PassDigest  PassKind = "digest"
)

func ParsePassKind(s string) PassKind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "digest":
		return PassDigest
	default:
		return PassRoutine
	}
}

// Subscriber is a delivery target with an ordered watch-list
type Subscriber struct {
	ChatID     int64      `json:"chat_id"`
	Tier       Tier       `json:"tier"`
	Preference Preference `json:"notification_pref"`
	Tickers    []string   `json:"tickers"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

func (s Subscriber) Watches(ticker string) bool {
	for _, t := range s.Tickers {
		if t == ticker {
			return true
		}
	}
	return false
}

type NewsItem struct {
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Source      string    `json:"source"`
	PublishedAt time.Time `json:"published_at"`
}

type Filing struct {
	Form        string `json:"form"`
	AccessionID string `json:"accession_id"`
	FilingDate  string `json:"filing_date"`
}

// Fundamentals holds KPI values keyed by revenue, net_income, eps, cash, debt
type Fundamentals struct {
	KPIs   map[string]float64 `json:"kpis"`
	Filing *Filing            `json:"filing,omitempty"`
}

// Report is one rendered instrument block ready for fan-out
type Report struct {
	Ticker      string `json:"ticker"`
	Significant bool   `json:"significant"`
	Body        string `json:"body"`
	Chart       []byte `json:"-"`
}
