package normalize

import (
	"regexp"
	"strings"
)

// symbolCurrencies maps currency glyphs found in raw model text to ISO 4217
// codes. Order matters only for scanning; the map itself is unordered, so
// scan uses the explicit slice below.
var symbolCurrencies = []struct {
	symbol string
	code   string
}{
	{"₱", "PHP"},
	{"€", "EUR"},
	{"£", "GBP"},
	{"₹", "INR"},
	{"₩", "KRW"},
	{"฿", "THB"},
	{"¥", "JPY"},
	{"$", "USD"},
}

var reCurrencyCode = regexp.MustCompile(`\b(PHP|USD|EUR|GBP|JPY|INR|SGD|AUD|CAD|HKD|KRW|THB|MYR|IDR|VND|CNY)\b`)

// DetectCurrency resolves the invoice currency. Preference order: an explicit
// field value, then currency symbols in the raw text, then ISO codes in the
// raw text, then the PHP default.
func DetectCurrency(explicit string, rawText string) string {
	if c := strings.ToUpper(strings.TrimSpace(explicit)); len(c) == 3 && isAlpha(c) {
		return c
	}
	for _, sc := range symbolCurrencies {
		if strings.Contains(rawText, sc.symbol) {
			return sc.code
		}
	}
	if m := reCurrencyCode.FindString(rawText); m != "" {
		return m
	}
	return DefaultCurrency
}

func isAlpha(s string) bool {
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
