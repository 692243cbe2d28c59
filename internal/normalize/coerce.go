package normalize

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	reNumericJunk = regexp.MustCompile(`[^0-9.,\-]`)
	reThousands   = regexp.MustCompile(`^-?\d{1,3}(,\d{3})+(\.\d+)?$`)
	reDateSplit   = regexp.MustCompile(`[/\-.]`)
)

// ToNumber coerces heterogeneous model output into a float64.
// Accepts native numbers and numeric strings with currency noise,
// thousands separators, or a comma decimal point. Returns false for
// anything that does not resolve to a finite number.
func ToNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0, false
		}
		return t, true
	case float32:
		return ToNumber(float64(t))
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		s := reNumericJunk.ReplaceAllString(strings.TrimSpace(t), "")
		if s == "" || s == "-" {
			return 0, false
		}
		if strings.Contains(s, ",") {
			switch {
			case strings.Contains(s, "."), reThousands.MatchString(s):
				// comma is unambiguously a thousands separator
				s = strings.ReplaceAll(s, ",", "")
			case strings.Count(s, ",") == 1:
				// decimal-separator fallback, e.g. "1234,56"
				s = strings.Replace(s, ",", ".", 1)
			default:
				s = strings.ReplaceAll(s, ",", "")
			}
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"02 Jan 2006",
}

// ToISODate normalizes a free-form date string to YYYY-MM-DD. Tries known
// layouts first, then MM/DD/YYYY-style splitting with 2-digit-year
// expansion to 20YY. Unparseable input resolves to the supplied clock value.
func ToISODate(s string, now time.Time) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return now.Format("2006-01-02")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02")
		}
	}
	if t, ok := parseSlashDate(s); ok {
		return t.Format("2006-01-02")
	}
	return now.Format("2006-01-02")
}

// parseSlashDate handles MM/DD/YYYY, MM-DD-YY and similar separator styles.
func parseSlashDate(s string) (time.Time, bool) {
	parts := reDateSplit.Split(s, -1)
	if len(parts) != 3 {
		return time.Time{}, false
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return time.Time{}, false
		}
		nums[i] = n
	}
	month, day, year := nums[0], nums[1], nums[2]
	if year < 100 {
		year += 2000
	}
	// tolerate DD/MM when the first field cannot be a month
	if month > 12 && day <= 12 {
		month, day = day, month
	}
	if month < 1 || month > 12 || day < 1 || day > 31 || year < 1900 || year > 2200 {
		return time.Time{}, false
	}
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC), true
}
