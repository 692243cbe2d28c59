package normalize

import (
	"encoding/json"
	"log/slog"
	"strings"
	"time"
)

// maxJSONSpan bounds the candidate JSON span extracted from free text.
// Anything larger is almost certainly a pathological match and is cheaper
// to reject than to parse.
const maxJSONSpan = 1 << 20

// currencyGlyphs are stripped before JSON parsing; models sometimes emit
// them inside numeric fields ("total": "₱224.00" is fine, "total": ₱224 is not).
var currencyGlyphs = strings.NewReplacer("₱", "", "¥", "", "€", "", "£", "")

// Normalizer turns raw model text into a CandidateInvoice. It never fails:
// malformed input degrades to the Unknown Merchant placeholder with
// near-zero confidence. The clock is injectable so the date fallback is
// deterministic under test.
type Normalizer struct {
	logger *slog.Logger
	now    func() time.Time
}

func New(logger *slog.Logger, now func() time.Time) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Normalizer{logger: logger, now: now}
}

// Parse normalizes raw model output. Pure aside from the injected clock:
// the same input always yields the same candidate.
func (n *Normalizer) Parse(raw string) CandidateInvoice {
	trimmed := strings.TrimSpace(raw)
	candidate := extractJSONSpan(trimmed)
	candidate = currencyGlyphs.Replace(candidate)

	var m map[string]any
	if err := json.Unmarshal([]byte(candidate), &m); err != nil {
		n.logger.Warn("normalize.json_parse_failed", "error", err, "raw_len", len(raw))
		return n.degraded()
	}

	c := CandidateInvoice{
		StoreName:     getString(m, "storeName", "store"),
		MerchantName:  getString(m, "merchantName", "merchant", "vendor"),
		InvoiceNumber: getString(m, "invoiceNumber", "invoice_number", "invoiceNo"),
		PaymentMethod: getString(m, "paymentMethod", "payment_method"),
		Terms:         getString(m, "terms"),
		Confidence:    0.5,
	}
	if c.MerchantName == "" {
		c.MerchantName = UnknownMerchant
	}
	c.MerchantAddress = parseAddress(m["merchantAddress"])
	c.Date = ToISODate(getString(m, "date", "invoiceDate", "txDate"), n.now())

	if v, ok := ToNumber(m["subtotal"]); ok {
		c.Subtotal = &v
	}
	if v, ok := ToNumber(m["tax"]); ok {
		c.Tax = &v
	}
	if v, ok := ToNumber(m["confidence"]); ok {
		c.Confidence = clamp01(v)
	}
	if v, ok := ToNumber(m["termsDays"]); ok {
		d := int(v)
		c.TermsDays = &d
	}
	c.AgentName = findAgentName(m)

	c.Items = parseItems(m["items"])
	stated, hasStated := ToNumber(m["total"])
	c.Total = reconcileTotal(&c, stated, hasStated)

	// data the model left outside the JSON envelope
	recoverTermsAgent(&c, raw)

	c.Currency = DetectCurrency(getString(m, "currency", "currencyCode", "currency_code"), raw)
	return c
}

// degraded is the minimal valid candidate for unreadable input.
func (n *Normalizer) degraded() CandidateInvoice {
	return CandidateInvoice{
		MerchantName: UnknownMerchant,
		Date:         n.now().Format("2006-01-02"),
		Items:        []Item{},
		Total:        0,
		Currency:     DefaultCurrency,
		Confidence:   ConfidenceFloor,
	}
}

// extractJSONSpan locates the first balanced-looking {...} span, dropping
// markdown fences and prose around it. If nothing plausible is found the
// trimmed text itself is returned and left for the JSON parser to reject.
func extractJSONSpan(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start || end-start > maxJSONSpan {
		return s
	}
	return s[start : end+1]
}

// reconcileTotal applies the stated-total-wins rule: handwritten totals are
// trusted over the model's line-item arithmetic. A discrepancy above 100
// absolute currency units costs 0.2 confidence, floored at 0.1.
func reconcileTotal(c *CandidateInvoice, stated float64, hasStated bool) float64 {
	var calculated float64
	for _, it := range c.Items {
		calculated += it.TotalPrice
	}
	if !hasStated {
		return calculated
	}
	diff := stated - calculated
	if diff < 0 {
		diff = -diff
	}
	if diff > 0.01 && diff > 100 {
		c.Confidence -= 0.2
		if c.Confidence < ConfidenceFloor {
			c.Confidence = ConfidenceFloor
		}
	}
	return stated
}

func parseItems(v any) []Item {
	raw, ok := v.([]any)
	if !ok {
		return []Item{}
	}
	items := make([]Item, 0, len(raw))
	for i, rv := range raw {
		rm, ok := rv.(map[string]any)
		if !ok {
			continue
		}
		it := Item{
			Name:        getString(rm, "name", "item", "product"),
			Description: getString(rm, "description"),
			Category:    getString(rm, "category"),
			Quantity:    1,
			UnitPrice:   0,
		}
		if q, ok := ToNumber(rm["quantity"]); ok {
			it.Quantity = q
		}
		if p, ok := ToNumber(getValue(rm, "unitPrice", "unit_price", "price")); ok {
			it.UnitPrice = p
		}
		if t, ok := ToNumber(getValue(rm, "totalPrice", "total_price", "amount")); ok {
			it.TotalPrice = t
		} else {
			it.TotalPrice = it.Quantity * it.UnitPrice
		}
		if id, ok := ToNumber(rm["id"]); ok && id > 0 {
			it.ID = int(id)
		} else {
			it.ID = i + 1
		}
		items = append(items, it)
	}
	return items
}

func parseAddress(v any) *Address {
	switch t := v.(type) {
	case map[string]any:
		a := &Address{
			Street:  getString(t, "street", "line1"),
			City:    getString(t, "city"),
			State:   getString(t, "state", "province"),
			ZipCode: getString(t, "zipCode", "zip_code", "zip"),
			Country: getString(t, "country"),
		}
		if *a == (Address{}) {
			return nil
		}
		return a
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return nil
		}
		return &Address{Street: s}
	default:
		return nil
	}
}

// agentAliases is the explicit synonym chain; after it, any key containing
// "agent" or "cashier" is accepted as a last resort.
var agentAliases = []string{
	"agentName", "agent", "salesAgent", "salesperson",
	"cashier", "representative", "accountManager",
}

func findAgentName(m map[string]any) string {
	if v := getString(m, agentAliases...); v != "" {
		return v
	}
	for k, v := range m {
		lk := strings.ToLower(k)
		if !strings.Contains(lk, "agent") && !strings.Contains(lk, "cashier") {
			continue
		}
		if s, ok := v.(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

func getString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

func getValue(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
