package invoice

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// numericPattern matches the strings Number accepts, such as "1,234.50" or "$12"
const numericPattern = `^\s*[-+]?\s*[$€£¥]?\s*-?[0-9][0-9, ]*(\.[0-9]+)?\s*$`

// FieldError is one reason a payload was rejected
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func nullable(types ...string) map[string]any {
	return map[string]any{"type": append(types, "null")}
}

func numberSchema() map[string]any {
	return map[string]any{
		"type":    []string{"number", "string", "null"},
		"pattern": numericPattern,
	}
}

func partySchema() map[string]any {
	return map[string]any{
		"type": []string{"object", "null"},
		"properties": map[string]any{
			"name":    nullable("string"),
			"address": nullable("string"),
			"contact_info": map[string]any{
				"type":                 []string{"string", "object", "null"},
				"additionalProperties": map[string]any{"type": "string"},
			},
		},
	}
}

func invoiceFieldsSchema() map[string]any {
	return map[string]any{
		"vendor_details":        partySchema(),
		"customer_details":      partySchema(),
		"shipping_address":      partySchema(),
		"invoice_number":        nullable("string"),
		"invoice_date":          nullable("string"),
		"due_date":              nullable("string"),
		"purchase_order_number": nullable("string"),
		"payment_terms":         nullable("string"),
		"notes":                 nullable("string"),
		"subtotal":              numberSchema(),
		"total_amount":          numberSchema(),
		"line_items": map[string]any{
			"type": []string{"array", "null"},
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"description": nullable("string"),
					"quantity":    numberSchema(),
					"unit_price":  numberSchema(),
					"amount":      numberSchema(),
				},
			},
		},
		"taxes": map[string]any{
			"type": []string{"array", "null"},
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"description": nullable("string"),
					"amount":      numberSchema(),
				},
			},
		},
	}
}

func requiredText() map[string]any {
	return map[string]any{"type": "string", "minLength": 1, "pattern": `\S`}
}

var (
	updateSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
		return compileSchema("invoice-update.json", map[string]any{
			"type":       "object",
			"properties": invoiceFieldsSchema(),
		})
	})

	manualSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
		return compileSchema("invoice-manual.json", map[string]any{
			"type":     "object",
			"required": []string{"company", "invoice_number", "invoice_date", "due_date", "total_amount"},
			"properties": map[string]any{
				"company":        requiredText(),
				"invoice_number": requiredText(),
				"invoice_date":   requiredText(),
				"due_date":       requiredText(),
				"total_amount": map[string]any{
					"type":    []string{"number", "string"},
					"pattern": numericPattern,
				},
			},
		})
	})
)

func compileSchema(name string, schemaMap map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// ValidateUpdate checks that data is a JSON object whose known invoice fields have usable shapes
func ValidateUpdate(data []byte) error {
	return validateAgainst(updateSchema, data)
}

// ValidateManualEntry checks a manual entry payload
func ValidateManualEntry(data []byte) error {
	return validateAgainst(manualSchema, data)
}

func validateAgainst(load func() (*jsonschema.Schema, error), data []byte) error {
	schema, err := load()
	if err != nil {
		return fmt.Errorf("loading schema: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return invalidInput(nil, "body is not valid JSON: %w", err)
	}
	if dec.More() {
		return invalidInput(nil, "body has trailing data")
	}

	if err := schema.Validate(v); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return invalidInput(fieldErrors(verr), "payload does not match schema")
		}
		return invalidInput(nil, "validating payload: %w", err)
	}
	return nil
}

// fieldErrors flattens a validation error tree into the leaf failures
func fieldErrors(verr *jsonschema.ValidationError) []FieldError {
	var out []FieldError
	for _, e := range verr.BasicOutput().Errors {
		if e.Error == "" || (e.InstanceLocation == "" && e.KeywordLocation == "") {
			continue
		}
		field := e.InstanceLocation
		if field == "" {
			field = "/"
		}
		out = append(out, FieldError{Field: field, Message: e.Error})
	}
	if len(out) == 0 {
		out = append(out, FieldError{Field: verr.InstanceLocation, Message: verr.Message})
	}
	return out
}
