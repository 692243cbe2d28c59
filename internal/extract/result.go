package extract

import (
	"time"

	"github.com/google/uuid"

	"github.com/mbdelacruz/invoice-extract/internal/normalize"
	"github.com/mbdelacruz/invoice-extract/internal/resolve"
)

// Result is the terminal artifact of one extraction. Errors is advisory:
// a non-empty slice with a populated invoice means a partial success the
// caller may still accept.
type Result struct {
	ID      string                     `json:"id"`
	Invoice normalize.CandidateInvoice `json:"invoice"`

	MerchantID string `json:"merchantId,omitempty"`
	StoreID    string `json:"storeId,omitempty"`
	StoreName  string `json:"storeName,omitempty"`
	AgentID    string `json:"agentId,omitempty"`

	ProcessingTimeMs int64    `json:"processingTimeMs"`
	Model            string   `json:"model"`
	RawContext       string   `json:"rawContext,omitempty"`
	Errors           []string `json:"errors"`
}

// assemble is pure composition; no validation happens here.
func assemble(inv normalize.CandidateInvoice, res resolve.Resolution, model, rawContext string, started time.Time, errs []string) Result {
	if errs == nil {
		errs = []string{}
	}
	return Result{
		ID:               uuid.New().String(),
		Invoice:          inv,
		MerchantID:       res.MerchantID,
		StoreID:          res.StoreID,
		StoreName:        res.StoreName,
		AgentID:          res.AgentID,
		ProcessingTimeMs: time.Since(started).Milliseconds(),
		Model:            model,
		RawContext:       rawContext,
		Errors:           errs,
	}
}

// failed is the terminal degraded result: a minimal placeholder invoice
// with zero confidence and at least one error. It is the only shape an
// extraction returns when no model output survived.
func failed(model string, started, now time.Time, errs ...string) Result {
	return Result{
		ID: uuid.New().String(),
		Invoice: normalize.CandidateInvoice{
			MerchantName: normalize.UnknownMerchant,
			Date:         now.Format("2006-01-02"),
			Items:        []normalize.Item{},
			Total:        0,
			Currency:     normalize.DefaultCurrency,
			Confidence:   0,
		},
		ProcessingTimeMs: now.Sub(started).Milliseconds(),
		Model:            model,
		Errors:           errs,
	}
}
