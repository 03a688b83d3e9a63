package invoice

import (
	"bytes"
	"encoding/json"
	"errors"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// reservedKeys are owned by the store and never taken from extracted or user data
var reservedKeys = map[string]bool{
	"id":         true,
	"created_at": true,
	"updated_at": true,
}

var errNotObject = errors.New("invoice must be a JSON object")

// wireInvoice is the JSON shape of the typed fields
type wireInvoice struct {
	ID                  string     `json:"id,omitempty"`
	VendorDetails       *Party     `json:"vendor_details,omitempty"`
	CustomerDetails     *Party     `json:"customer_details,omitempty"`
	ShippingAddress     *Party     `json:"shipping_address,omitempty"`
	InvoiceNumber       *string    `json:"invoice_number,omitempty"`
	InvoiceDate         *string    `json:"invoice_date,omitempty"`
	DueDate             *string    `json:"due_date,omitempty"`
	PurchaseOrderNumber *string    `json:"purchase_order_number,omitempty"`
	PaymentTerms        *string    `json:"payment_terms,omitempty"`
	LineItems           []LineItem `json:"line_items,omitempty"`
	Subtotal            *Number    `json:"subtotal,omitempty"`
	Taxes               []Tax      `json:"taxes,omitempty"`
	TotalAmount         *Number    `json:"total_amount,omitempty"`
	Notes               *string    `json:"notes,omitempty"`
	CreatedAt           *time.Time `json:"created_at,omitempty"`
	UpdatedAt           *time.Time `json:"updated_at,omitempty"`
}

func (inv Invoice) MarshalJSON() ([]byte, error) {
	w := wireInvoice{
		ID:                  inv.ID,
		VendorDetails:       inv.VendorDetails,
		CustomerDetails:     inv.CustomerDetails,
		ShippingAddress:     inv.ShippingAddress,
		InvoiceNumber:       inv.InvoiceNumber,
		InvoiceDate:         inv.InvoiceDate,
		DueDate:             inv.DueDate,
		PurchaseOrderNumber: inv.PurchaseOrderNumber,
		PaymentTerms:        inv.PaymentTerms,
		LineItems:           inv.LineItems,
		Subtotal:            inv.Subtotal,
		Taxes:               inv.Taxes,
		TotalAmount:         inv.TotalAmount,
		Notes:               inv.Notes,
	}
	if !inv.CreatedAt.IsZero() {
		w.CreatedAt = &inv.CreatedAt
	}
	if !inv.UpdatedAt.IsZero() {
		w.UpdatedAt = &inv.UpdatedAt
	}

	out, err := json.Marshal(w)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(inv.Extra))
	for k := range inv.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		path := escapePath(k)
		// a typed value always wins over a stale raw copy of the same key
		if gjson.GetBytes(out, path).Exists() {
			continue
		}
		raw := inv.Extra[k]
		if !json.Valid(raw) {
			continue
		}
		out, err = sjson.SetRawBytes(out, path, raw)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (inv *Invoice) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return errors.New("invalid JSON")
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return errNotObject
	}

	*inv = Invoice{}
	root.ForEach(func(key, value gjson.Result) bool {
		name := key.String()
		if name == "" {
			return true
		}
		raw := json.RawMessage(value.Raw)

		target := inv.fieldFor(name)
		switch {
		case target == nil:
			inv.setExtra(name, raw)
		case decodeStrict(raw, target) != nil:
			// a half-decoded value must not survive next to its raw copy
			reflect.ValueOf(target).Elem().SetZero()
			inv.setExtra(name, raw)
		default:
			delete(inv.Extra, name)
		}
		return true
	})
	if len(inv.Extra) == 0 {
		inv.Extra = nil
	}
	return nil
}

// fieldFor returns a pointer to the typed field stored under key, or nil
func (inv *Invoice) fieldFor(key string) any {
	switch key {
	case "id":
		return &inv.ID
	case "vendor_details":
		return &inv.VendorDetails
	case "customer_details":
		return &inv.CustomerDetails
	case "shipping_address":
		return &inv.ShippingAddress
	case "invoice_number":
		return &inv.InvoiceNumber
	case "invoice_date":
		return &inv.InvoiceDate
	case "due_date":
		return &inv.DueDate
	case "purchase_order_number":
		return &inv.PurchaseOrderNumber
	case "payment_terms":
		return &inv.PaymentTerms
	case "notes":
		return &inv.Notes
	case "line_items":
		return &inv.LineItems
	case "taxes":
		return &inv.Taxes
	case "subtotal":
		return &inv.Subtotal
	case "total_amount":
		return &inv.TotalAmount
	case "created_at":
		return &inv.CreatedAt
	case "updated_at":
		return &inv.UpdatedAt
	}
	return nil
}

func (inv *Invoice) setExtra(key string, raw json.RawMessage) {
	if inv.Extra == nil {
		inv.Extra = make(map[string]json.RawMessage)
	}
	inv.Extra[key] = raw
}

// decodeStrict decodes raw into target, rejecting unknown keys in nested objects so nothing the
// model sent is silently dropped
func decodeStrict(raw json.RawMessage, target any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(target)
}

// escapePath escapes a key for use as a gjson/sjson path component
func escapePath(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch r {
		case '.', '*', '?', '|', '#', '@', '\\', ':', '!', '=', '<', '>', '%', '"', ',', '(', ')', '[', ']', '{', '}':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
