package extract

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// InvoiceSchema returns the JSON-shape constraint sent with the structured
// prompt. Backends forward it in whatever form they support; the model is
// nudged, not bound, so the normalizer still tolerates deviations.
func InvoiceSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"merchantName": map[string]any{"type": "string"},
			"storeName":    map[string]any{"type": "string"},
			"merchantAddress": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"street":  map[string]any{"type": "string"},
					"city":    map[string]any{"type": "string"},
					"state":   map[string]any{"type": "string"},
					"zipCode": map[string]any{"type": "string"},
					"country": map[string]any{"type": "string"},
				},
			},
			"invoiceNumber": map[string]any{"type": "string"},
			"date":          map[string]any{"type": "string"},
			"items": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"name":       map[string]any{"type": "string"},
						"quantity":   map[string]any{"type": "number"},
						"unitPrice":  map[string]any{"type": "number"},
						"totalPrice": map[string]any{"type": "number"},
						"category":   map[string]any{"type": "string"},
					},
					"required": []any{"name"},
				},
			},
			"subtotal":      map[string]any{"type": "number"},
			"tax":           map[string]any{"type": "number"},
			"total":         map[string]any{"type": "number"},
			"currency":      map[string]any{"type": "string"},
			"paymentMethod": map[string]any{"type": "string"},
			"agentName":     map[string]any{"type": []any{"string", "null"}},
			"terms":         map[string]any{"type": "string"},
			"termsDays":     map[string]any{"type": "number"},
			"confidence":    map[string]any{"type": "number"},
		},
		"required": []any{"merchantName", "items", "total"},
	}
}

// ValidateAgainstSchema checks raw model output against the invoice schema.
// Advisory only: a failure is logged by the caller and extraction proceeds,
// since the normalizer repairs most shape deviations anyway.
func ValidateAgainstSchema(raw string, schema map[string]any) error {
	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("invoice.json", strings.NewReader(string(schemaJSON))); err != nil {
		return fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := compiler.Compile("invoice.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	if err := compiled.Validate(doc); err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}
	return nil
}
