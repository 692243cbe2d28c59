package extract

import "strings"

// systemPrompt frames every request. Kept short: long system prompts make
// small local models drift into prose instead of JSON.
const systemPrompt = `You are an invoice data extraction assistant. You read photographs of paper invoices and receipts and return the extracted data as a single JSON object. Respond with JSON only, no markdown fences and no commentary.`

// structuredPrompt is the primary request: full field inventory plus the
// shape hint the schema constraint reinforces.
const structuredPrompt = `Extract the invoice data from this image into a JSON object with these fields:
- merchantName: the business issuing the invoice
- storeName: the branch or store location, if printed
- merchantAddress: object with street, city, state, zipCode, country
- invoiceNumber, date (any format you can read)
- items: array of {name, quantity, unitPrice, totalPrice, category}
- subtotal, tax, total: numbers
- currency: 3-letter code if printed, else the symbol you see
- paymentMethod, agentName, terms, termsDays
- confidence: your 0.0-1.0 confidence in this extraction
Use null for fields you cannot read. Copy numbers exactly as printed.`

// fallbackPrompt is deliberately loose; it runs after a structured attempt
// timed out, usually because the model choked on the constraint.
const fallbackPrompt = `Read this invoice photo and describe what you see as JSON: the merchant name, the date, each line item with its price, and the total amount. Output only JSON.`

// followupPrompt asks exactly one question so the short follow-up timeout
// is realistic for a warm model.
const followupPrompt = `Look at the invoice image again. Is there a sales agent, cashier, or representative name printed anywhere (often near "TERMS/AGENT")? Reply with only the person's name, or the single word NONE.`

// negativeAnswers are follow-up replies that mean "no agent found".
var negativeAnswers = map[string]struct{}{
	"none": {}, "n/a": {}, "na": {}, "no": {}, "null": {}, "unknown": {}, "-": {},
}

// CleanAgentAnswer reduces a free-text follow-up reply to an agent name,
// or "" when the model said it found nothing. Multi-line replies keep only
// the first line; surrounding quotes and trailing periods are shed.
func CleanAgentAnswer(raw string) string {
	s := strings.TrimSpace(raw)
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		s = s[:i]
	}
	s = strings.Trim(s, "\"'` .")
	if s == "" {
		return ""
	}
	if _, neg := negativeAnswers[strings.ToLower(s)]; neg {
		return ""
	}
	// a sentence instead of a name means the model is hedging
	if len(s) > 80 || strings.Count(s, " ") > 4 {
		return ""
	}
	return s
}
