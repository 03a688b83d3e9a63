package invoice

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Invoice is a stored invoice record. Everything except ID and the timestamps comes from the
// model or from the user and may be missing, so every field is optional.
type Invoice struct {
	ID string

	VendorDetails   *Party
	CustomerDetails *Party
	ShippingAddress *Party

	InvoiceNumber       *string
	InvoiceDate         *string
	DueDate             *string
	PurchaseOrderNumber *string
	PaymentTerms        *string
	Notes               *string

	LineItems []LineItem
	Taxes     []Tax

	Subtotal    *Number
	TotalAmount *Number

	// Extra holds top-level fields that are not part of the typed record, or that did not
	// have the expected shape, exactly as they were received.
	Extra map[string]json.RawMessage

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Party is a vendor, customer or shipping address block
type Party struct {
	Name        *string      `json:"name,omitempty"`
	Address     *string      `json:"address,omitempty"`
	ContactInfo *ContactInfo `json:"contact_info,omitempty"`
}

// LineItem is a single billed line
type LineItem struct {
	Description *string `json:"description,omitempty"`
	Quantity    *Number `json:"quantity,omitempty"`
	UnitPrice   *Number `json:"unit_price,omitempty"`
	Amount      *Number `json:"amount,omitempty"`
}

// Tax is a single tax line
type Tax struct {
	Description *string `json:"description,omitempty"`
	Amount      *Number `json:"amount,omitempty"`
}

// ContactInfo is either free text or a set of labelled values ("phone", "email", ...).
// It is written back in the form it was read.
type ContactInfo struct {
	Text   string
	Fields map[string]string
}

func (c ContactInfo) MarshalJSON() ([]byte, error) {
	if c.Fields != nil {
		return json.Marshal(c.Fields)
	}
	return json.Marshal(c.Text)
}

func (c *ContactInfo) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	switch {
	case trimmed == "null":
		return nil
	case strings.HasPrefix(trimmed, `"`):
		c.Fields = nil
		return json.Unmarshal(data, &c.Text)
	case strings.HasPrefix(trimmed, "{"):
		var fields map[string]*string
		if err := json.Unmarshal(data, &fields); err != nil {
			return err
		}
		c.Text = ""
		c.Fields = make(map[string]string, len(fields))
		for label, value := range fields {
			if value == nil {
				return fmt.Errorf("contact_info %q is null", label)
			}
			c.Fields[label] = *value
		}
		return nil
	default:
		return errors.New("contact_info must be a string or an object")
	}
}

// Number is a decimal amount or quantity. It accepts JSON numbers and numeric strings such
// as "1,234.50" or "$12", and is always written as a JSON number.
type Number struct {
	decimal.Decimal
}

// NewNumber parses s into a Number
func NewNumber(s string) (Number, error) {
	d, err := decimal.NewFromString(cleanNumber(s))
	if err != nil {
		return Number{}, fmt.Errorf("parsing number %q: %w", s, err)
	}
	return Number{Decimal: d}, nil
}

// MustNumber is NewNumber for literals known to be valid
func MustNumber(s string) *Number {
	n, err := NewNumber(s)
	if err != nil {
		panic(err)
	}
	return &n
}

func (n Number) MarshalJSON() ([]byte, error) {
	// keep the scale the value was read with, so 12.50 stays 12.50
	if exp := n.Exponent(); exp < 0 {
		return []byte(n.StringFixed(-exp)), nil
	}
	return []byte(n.String()), nil
}

func (n *Number) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
	}
	parsed, err := NewNumber(s)
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}

// cleanNumber drops currency symbols, thousands separators and spaces
func cleanNumber(s string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		switch r {
		case '$', '€', '£', '¥', ',', ' ', ' ':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// String returns a pointer to s, for building records
func String(s string) *string {
	return &s
}

// Clone returns a deep copy of the invoice
func (inv *Invoice) Clone() (*Invoice, error) {
	data, err := json.Marshal(inv)
	if err != nil {
		return nil, err
	}
	var out Invoice
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
