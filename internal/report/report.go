// Package report renders per-instrument results as Telegram HTML blocks and
// packs them into transport-sized chunks.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"market-oracle-bot/internal/types"
	"market-oracle-bot/lib/helpers"
	"market-oracle-bot/lib/translation"
)

const (
	blockSeparator = "\n\n"
	maxKeyPoints   = 5
	maxHeadlines   = 3
)

// Input is everything rendered for one instrument
type Input struct {
	Ticker       string
	Indicators   types.Indicators
	Previous     *types.Snapshot
	Result       types.Result
	News         []types.NewsItem
	Fundamentals *types.Fundamentals
	Now          time.Time
}

// Delta describes the move since the previous snapshot, empty on first run
func Delta(ind types.Indicators, prev *types.Snapshot) string {
	if prev == nil || prev.LastPrice == 0 {
		return ""
	}
	priceDelta := (ind.CurrentPrice - prev.LastPrice) / prev.LastPrice * 100
	if prev.LastRSI == nil {
		return fmt.Sprintf("Since last: Price %+.2f%%", priceDelta)
	}
	return fmt.Sprintf("Since last: Price %+.2f%%, RSI %+.1f", priceDelta, ind.RSI-*prev.LastRSI)
}

// Render produces the HTML block for one instrument
func Render(in Input) types.Report {
	res := in.Result
	ind := in.Indicators
	var b strings.Builder

	fmt.Fprintf(&b, "<b>%s %s · %s</b>", res.Emoji, helpers.EscapeHTML(in.Ticker), res.Action)
	if res.Kind == types.ResultAnalyzed {
		fmt.Fprintf(&b, " (%.0f%%)", res.Confidence*100)
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "%s: <code>$%s</code> (%s) | RSI %.1f | %s %s\n",
		translation.Translate("Price"),
		helpers.FormatPriceUS(ind.CurrentPrice),
		helpers.FormatPercentage(ind.PriceChangePct),
		ind.RSI,
		translation.Translate("Vol"),
		helpers.FormatVolume(ind.CurrentVolume),
	)

	if delta := Delta(ind, in.Previous); delta != "" {
		fmt.Fprintf(&b, "<i>%s</i>\n", helpers.EscapeHTML(delta))
	}

	significant := res.Kind != types.ResultQuiet
	if significant && res.TriggerReason != "" {
		fmt.Fprintf(&b, "%s: %s\n", translation.Translate("Trigger"), helpers.EscapeHTML(res.TriggerReason))
	}

	if res.Summary != "" {
		fmt.Fprintf(&b, "\n%s\n", helpers.EscapeHTML(res.Summary))
	}
	for i, p := range res.KeyPoints {
		if i == maxKeyPoints {
			break
		}
		fmt.Fprintf(&b, "• %s\n", helpers.EscapeHTML(p))
	}

	if significant {
		if res.Invalidation != "" {
			fmt.Fprintf(&b, "%s: %s\n", translation.Translate("Invalidation"), helpers.EscapeHTML(res.Invalidation))
		}
		if res.RiskNote != "" {
			fmt.Fprintf(&b, "%s: %s\n", translation.Translate("Risk"), helpers.EscapeHTML(res.RiskNote))
		}
		renderNews(&b, in)
		renderFundamentals(&b, in.Fundamentals)
	}

	if res.IsFallback() {
		fmt.Fprintf(&b, "<i>%s</i>\n", translation.Translate("Automated analysis unavailable"))
	}

	return types.Report{
		Ticker:      in.Ticker,
		Significant: significant,
		Body:        strings.TrimRight(b.String(), "\n"),
	}
}

func renderNews(b *strings.Builder, in Input) {
	if len(in.News) == 0 {
		return
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}

	fmt.Fprintf(b, "\n<b>%s</b>\n", translation.Translate("News"))
	for i, n := range in.News {
		if i == maxHeadlines {
			break
		}
		title := helpers.EscapeHTML(n.Title)
		if n.URL != "" {
			title = fmt.Sprintf(`<a href="%s">%s</a>`, helpers.EscapeHTML(n.URL), title)
		}
		fmt.Fprintf(b, "• %s (%s)\n", title, helpers.FormatAge(n.PublishedAt, now))
	}
}

func renderFundamentals(b *strings.Builder, f *types.Fundamentals) {
	if f == nil || len(f.KPIs) == 0 {
		return
	}
	keys := make([]string, 0, len(f.KPIs))
	for k := range f.KPIs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s %s", strings.ReplaceAll(k, "_", " "), formatKPI(k, f.KPIs[k])))
	}
	fmt.Fprintf(b, "%s: %s", translation.Translate("Fundamentals"), strings.Join(parts, ", "))
	if f.Filing != nil {
		fmt.Fprintf(b, " (%s %s)", helpers.EscapeHTML(f.Filing.Form), helpers.EscapeHTML(f.Filing.FilingDate))
	}
	b.WriteString("\n")
}

func formatKPI(k string, v float64) string {
	switch k {
	case "revenue", "cash", "debt":
		return fmt.Sprintf("$%.2fB", v)
	case "net_income":
		return fmt.Sprintf("$%.1fM", v)
	default:
		return fmt.Sprintf("%.2f", v)
	}
}

// Header is the first line of a subscriber message
func Header(kind types.PassKind, at time.Time) string {
	title := translation.Translate("Market update")
	if kind == types.PassDigest {
		title = translation.Translate("Daily digest")
	}
	return fmt.Sprintf("<b>%s</b> · %s", title, at.Format("2006-01-02 15:04 MST"))
}

// Split packs whole blocks into chunks of at most limit runes. A block longer
// than limit is cut at line boundaries, and a line longer than limit at rune
// boundaries.
func Split(blocks []string, limit int) []string {
	var chunks []string
	var cur strings.Builder

	flush := func() {
		if cur.Len() > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
		}
	}

	for _, block := range blocks {
		if block == "" {
			continue
		}
		size := helpers.RuneLen(block)

		if cur.Len() > 0 && helpers.RuneLen(cur.String())+len(blockSeparator)+size <= limit {
			cur.WriteString(blockSeparator)
			cur.WriteString(block)
			continue
		}
		flush()

		if size <= limit {
			cur.WriteString(block)
			continue
		}
		for _, piece := range splitLines(block, limit) {
			chunks = append(chunks, piece)
		}
	}
	flush()
	return chunks
}

func splitLines(block string, limit int) []string {
	var out []string
	var cur strings.Builder
	curLen := 0

	for _, line := range strings.Split(block, "\n") {
		n := helpers.RuneLen(line)
		if curLen > 0 && curLen+1+n <= limit {
			cur.WriteString("\n")
			cur.WriteString(line)
			curLen += 1 + n
			continue
		}
		if curLen > 0 {
			out = append(out, cur.String())
			cur.Reset()
			curLen = 0
		}
		if n <= limit {
			cur.WriteString(line)
			curLen = n
			continue
		}
		// a hard cut could land inside a tag or leave one unclosed
		pieces := helpers.SplitRunes(helpers.StripTags(line), limit)
		out = append(out, pieces[:len(pieces)-1]...)
		last := pieces[len(pieces)-1]
		cur.WriteString(last)
		curLen = helpers.RuneLen(last)
	}
	if curLen > 0 {
		out = append(out, cur.String())
	}
	return out
}
