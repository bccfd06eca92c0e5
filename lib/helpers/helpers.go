package helpers

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// EscapeHTML escapes text for Telegram's HTML parse mode
func EscapeHTML(text string) string {
	return html.EscapeString(text)
}

func FormatPriceUS(price float64) string {
	decimals := 6

	if price >= 1000 {
		decimals = 0
	} else if price > 1.2 {
		decimals = 2
	} else if price < 0.00001 {
		decimals = 8
	}

	p := message.NewPrinter(language.English)
	return p.Sprintf("%.*f", decimals, price)
}

// FormatPercentage renders a signed percentage with two decimals
func FormatPercentage(v float64) string {
	return fmt.Sprintf("%+.2f%%", v)
}

// FormatVolume shortens large volumes: 1234567 -> "1.23 M"
func FormatVolume(v float64) string {
	if v < 1000 {
		return humanize.Commaf(float64(int64(v + 0.5)))
	}
	return humanize.SIWithDigits(v, 2, "")
}

// FormatAge is a relative age such as "3 hours ago"
func FormatAge(t, now time.Time) string {
	return humanize.RelTime(t, now, "ago", "from now")
}

var (
	markupTag  = regexp.MustCompile(`<[^>]*>`)
	htmlEntity = regexp.MustCompile(`^&(#[0-9]+|#[xX][0-9a-fA-F]+|[a-zA-Z][a-zA-Z0-9]*);`)
)

// StripTags drops HTML tags and keeps their text and entities
func StripTags(s string) string {
	return markupTag.ReplaceAllString(s, "")
}

// SplitRunes cuts s into pieces of at most n runes each. An HTML entity such
// as &amp; is never cut in half.
func SplitRunes(s string, n int) []string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return []string{s}
	}

	var out []string
	var b strings.Builder
	count := 0
	for i := 0; i < len(s); {
		unit := s[i:]
		if e := htmlEntity.FindString(unit); e != "" {
			unit = e
		} else {
			_, size := utf8.DecodeRuneInString(unit)
			unit = unit[:size]
		}
		width := utf8.RuneCountInString(unit)
		if count > 0 && count+width > n {
			out = append(out, b.String())
			b.Reset()
			count = 0
		}
		b.WriteString(unit)
		count += width
		i += len(unit)
	}
	if b.Len() > 0 {
		out = append(out, b.String())
	}
	return out
}

func RuneLen(s string) int {
	return utf8.RuneCountInString(s)
}
