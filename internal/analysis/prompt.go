package analysis

import (
	"fmt"
	"sort"
	"strings"

	"market-oracle-bot/internal/types"
)

const systemPrompt = `You are "The Market Oracle", a professional swing-trading analyst.
Give concise, actionable and safe analysis for a retail trader.

Return ONLY a JSON object with exactly these fields:
{
  "action": "BUY" | "SELL" | "HOLD",
  "emoji": "a single emoji for the sentiment",
  "confidence": number between 0 and 1,
  "summary": "2-3 short sentences explaining the situation",
  "key_points": ["at most 5 short technical points"],
  "invalidation": "the condition that invalidates this view, e.g. close below 120",
  "risk_note": "one sentence about the main risk"
}

Guidelines:
- BUY: price above EMA200 and EMA50 with supportive RSI (40-60) or an oversold bounce.
- SELL: price breaks down through EMA50/EMA200, or RSI above 75.
- HOLD: the trend continues without a new entry signal, or signals conflict.
Be direct. No fluff.`

// Request is everything the analyzer is told about one instrument
type Request struct {
	Ticker       string
	Indicators   types.Indicators
	Previous     *types.Snapshot
	Decision     types.Decision
	Delta        string
	News         []types.NewsItem
	Fundamentals *types.Fundamentals
	Tier         types.Tier
}

func userPrompt(r Request) string {
	var b strings.Builder
	ind := r.Indicators

	fmt.Fprintf(&b, "Analyze %s.\n\n", r.Ticker)
	b.WriteString("Technicals:\n")
	fmt.Fprintf(&b, "- Price: %.4f (%+.2f%% on the day)\n", ind.CurrentPrice, ind.PriceChangePct)
	fmt.Fprintf(&b, "- RSI(14): %.2f\n", ind.RSI)
	fmt.Fprintf(&b, "- EMA50: %.4f\n", ind.EMAShort)
	fmt.Fprintf(&b, "- EMA200: %.4f\n", ind.EMALong)
	fmt.Fprintf(&b, "- ATR(14): %.4f\n", ind.ATR)
	fmt.Fprintf(&b, "- Volume: %.0f (20-day average %.0f)\n", ind.CurrentVolume, ind.VolumeSMA)

	b.WriteString("\nContext:\n")
	prev := "None"
	if r.Previous != nil {
		prev = string(r.Previous.LastAction)
	}
	fmt.Fprintf(&b, "- Previous action: %s\n", prev)
	fmt.Fprintf(&b, "- Trigger: %s\n", r.Decision.String())
	if r.Delta != "" {
		fmt.Fprintf(&b, "- %s\n", r.Delta)
	}

	b.WriteString("\nNews:\n")
	if len(r.News) == 0 {
		b.WriteString("- unavailable\n")
	}
	for _, n := range r.News {
		fmt.Fprintf(&b, "- %s (%s, %s)\n", n.Title, n.Source, n.PublishedAt.Format("2006-01-02"))
	}

	b.WriteString("\nFundamentals:\n")
	if r.Fundamentals == nil || len(r.Fundamentals.KPIs) == 0 {
		b.WriteString("- unavailable\n")
	} else {
		keys := make([]string, 0, len(r.Fundamentals.KPIs))
		for k := range r.Fundamentals.KPIs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: %.2f%s\n", k, r.Fundamentals.KPIs[k], kpiUnit(k))
		}
		if f := r.Fundamentals.Filing; f != nil {
			fmt.Fprintf(&b, "- latest filing: %s on %s\n", f.Form, f.FilingDate)
		}
	}

	b.WriteString("\nReturn STRICT JSON.")
	return b.String()
}

func kpiUnit(k string) string {
	switch k {
	case "revenue", "cash", "debt":
		return "B USD"
	case "net_income":
		return "M USD"
	default:
		return ""
	}
}
