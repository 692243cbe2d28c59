package normalize

// Address is the merchant address block as extracted from the document.
type Address struct {
	Street  string `json:"street,omitempty"`
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
	ZipCode string `json:"zipCode,omitempty"`
	Country string `json:"country,omitempty"`
}

// Item is a single invoice line item. TotalPrice is always populated:
// when the model omits it we fall back to Quantity*UnitPrice.
type Item struct {
	ID          int     `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unitPrice"`
	TotalPrice  float64 `json:"totalPrice"`
	Category    string  `json:"category,omitempty"`
}

// CandidateInvoice is the normalized record built from raw model output.
// Date is always resolved to YYYY-MM-DD, Total is always finite, and
// Currency is never empty (defaults to PHP).
type CandidateInvoice struct {
	StoreName       string   `json:"storeName,omitempty"`
	MerchantName    string   `json:"merchantName"`
	MerchantAddress *Address `json:"merchantAddress,omitempty"`
	InvoiceNumber   string   `json:"invoiceNumber,omitempty"`
	Date            string   `json:"date"`
	Items           []Item   `json:"items"`
	Subtotal        *float64 `json:"subtotal,omitempty"`
	Tax             *float64 `json:"tax,omitempty"`
	Total           float64  `json:"total"`
	Currency        string   `json:"currency"`
	PaymentMethod   string   `json:"paymentMethod,omitempty"`
	AgentName       string   `json:"agentName,omitempty"`
	Terms           string   `json:"terms,omitempty"`
	TermsDays       *int     `json:"termsDays,omitempty"`
	Confidence      float64  `json:"confidence"`
}

const (
	// UnknownMerchant is the placeholder merchant used when extraction
	// cannot produce a usable name.
	UnknownMerchant = "Unknown Merchant"

	// DefaultCurrency applies when neither the parsed fields nor the raw
	// text carry a recognizable currency.
	DefaultCurrency = "PHP"

	// ConfidenceFloor is the minimum confidence a candidate can carry.
	ConfidenceFloor = 0.1
)
