package helpers

import (
	"strings"
	"testing"
	"time"
)

func TestFormatPriceUS(t *testing.T) {
	tests := []struct {
		price float64
		want  string
	}{
		{64123.4, "64,123"},
		{123.456, "123.46"},
		{0.5, "0.500000"},
		{0.000001, "0.00000100"},
	}
	for _, tt := range tests {
		if got := FormatPriceUS(tt.price); got != tt.want {
			t.Errorf("FormatPriceUS(%v) = %q, want %q", tt.price, got, tt.want)
		}
	}
}

func TestEscapeHTML(t *testing.T) {
	if got := EscapeHTML(`AT&T <b>"x"</b>`); strings.ContainsAny(got, "<>") || !strings.Contains(got, "&amp;") {
		t.Errorf("EscapeHTML = %q", got)
	}
}

func TestFormatPercentage(t *testing.T) {
	if got := FormatPercentage(1.234); got != "+1.23%" {
		t.Errorf("got %q", got)
	}
	if got := FormatPercentage(-0.5); got != "-0.50%" {
		t.Errorf("got %q", got)
	}
}

func TestFormatAge(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	if got := FormatAge(now.Add(-3*time.Hour), now); got != "3 hours ago" {
		t.Errorf("got %q", got)
	}
}

func TestSplitRunes(t *testing.T) {
	parts := SplitRunes("ééééé", 2)
	if len(parts) != 3 || parts[0] != "éé" || parts[2] != "é" {
		t.Errorf("SplitRunes = %q", parts)
	}
	if parts := SplitRunes("abc", 10); len(parts) != 1 {
		t.Errorf("short string split: %q", parts)
	}
}

func TestSplitRunesKeepsEntities(t *testing.T) {
	parts := SplitRunes("ab&amp;cd", 3)
	if len(parts) != 3 || parts[0] != "ab" || parts[1] != "&amp;" || parts[2] != "cd" {
		t.Errorf("SplitRunes = %q", parts)
	}
}

func TestStripTags(t *testing.T) {
	got := StripTags(`<b>NVDA</b> <a href="https://x.test/?a=1&amp;b=2">AI &amp; chips</a>`)
	if got != "NVDA AI &amp; chips" {
		t.Errorf("StripTags = %q", got)
	}
}
