package bid

import (
	"regexp"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// DateLayout is the canonical form of normalized dates.
const DateLayout = "2006-01-02"

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	phonePattern  = regexp.MustCompile(`(\+?\d{1,3}[-.\s]*)?(\(?\d{3}\)?[-.\s]*)(\d{3}[-.\s]*)(\d{4})`)
	datePrefix    = regexp.MustCompile(`(?i)^(date\s+due|due\s+date|due|date)\s*:?\s*`)
	dateAt        = regexp.MustCompile(`(?i)\s+at\s+`)
	nonDigit      = regexp.MustCompile(`[^\d]`)
)

// NormalizeText collapses whitespace and substitutes Sentinel for empty values.
func NormalizeText(raw string) string {
	cleaned := strings.TrimSpace(whitespaceRun.ReplaceAllString(raw, " "))
	if cleaned == "" {
		return Sentinel
	}
	return cleaned
}

// NormalizePhone extracts the first plausible phone number from free text.
// Ten-digit numbers (and eleven-digit numbers with a leading 1) are rendered
// as "+1 XXX-XXX-XXXX"; other international numbers keep their "+digits"
// form. Text without a phone number yields Sentinel.
func NormalizePhone(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == Sentinel {
		return Sentinel
	}
	match := phonePattern.FindString(raw)
	if match == "" {
		return Sentinel
	}
	international := strings.HasPrefix(strings.TrimSpace(match), "+")
	digits := nonDigit.ReplaceAllString(match, "")
	switch {
	case len(digits) == 10 && !international:
		return formatNANP(digits)
	case len(digits) == 11 && digits[0] == '1':
		return formatNANP(digits[1:])
	case international:
		return "+" + digits
	case digits != "":
		return digits
	default:
		return Sentinel
	}
}

func formatNANP(digits string) string {
	return "+1 " + digits[:3] + "-" + digits[3:6] + "-" + digits[6:]
}

// NormalizeDate converts a human readable date ("Oct 21, 2025 at 2:00 PM",
// "10/21/2025", "Due: 2025-10-21") into YYYY-MM-DD, reading ambiguous numeric
// dates month first. Unparseable text is kept as-is (whitespace collapsed) so
// no information is lost; empty input yields Sentinel.
func NormalizeDate(raw string) string {
	cleaned := NormalizeText(raw)
	if cleaned == Sentinel {
		return Sentinel
	}
	candidate := datePrefix.ReplaceAllString(cleaned, "")
	candidate = dateAt.ReplaceAllString(candidate, " ")
	parsed, err := dateparse.ParseIn(candidate, time.UTC, dateparse.PreferMonthFirst(true))
	if err != nil {
		return cleaned
	}
	return parsed.Format(DateLayout)
}

// ParseDate parses a normalized date. The boolean is false for Sentinel or
// unparseable values.
func ParseDate(normalized string) (time.Time, bool) {
	t, err := time.Parse(DateLayout, normalized)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
