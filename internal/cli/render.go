package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"gopkg.in/yaml.v3"

	"github.com/zombor/invoice-tracker/internal/invoice"
)

var (
	accent = lipgloss.Color("#D97706")
	dim    = lipgloss.Color("#6B7280")
	green  = lipgloss.Color("#22C55E")

	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(accent)
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(accent).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	labelStyle  = lipgloss.NewStyle().Foreground(dim).Padding(0, 1)
	borderStyle = lipgloss.NewStyle().Foreground(dim)
	okStyle     = lipgloss.NewStyle().Bold(true).Foreground(green)
	dimStyle    = lipgloss.NewStyle().Foreground(dim)
)

func renderHealth(w io.Writer, format string, health *invoice.HealthResponse) error {
	if format != outputTable {
		return encode(w, format, health)
	}
	_, err := fmt.Fprintf(w, "%s %s\n", okStyle.Render(health.Status), dimStyle.Render("version "+health.Version+" at "+health.Timestamp))
	return err
}

func renderInvoices(w io.Writer, format string, invoices []*invoice.Invoice) error {
	if format != outputTable {
		if invoices == nil {
			invoices = []*invoice.Invoice{}
		}
		return encode(w, format, invoices)
	}

	if len(invoices) == 0 {
		_, err := fmt.Fprintln(w, dimStyle.Render("No invoices"))
		return err
	}

	rows := make([][]string, 0, len(invoices))
	for _, inv := range invoices {
		rows = append(rows, []string{
			inv.ID,
			partyName(inv.VendorDetails),
			text(inv.InvoiceNumber),
			text(inv.InvoiceDate),
			text(inv.DueDate),
			amount(inv.TotalAmount),
			inv.CreatedAt.Local().Format(time.DateTime),
		})
	}

	t := newTable(func(row, col int) lipgloss.Style {
		if row == table.HeaderRow {
			return headerStyle
		}
		if col == 5 {
			return cellStyle.Align(lipgloss.Right)
		}
		return cellStyle
	}).
		Headers("ID", "Vendor", "Number", "Date", "Due", "Total", "Created").
		Rows(rows...)

	_, err := fmt.Fprintf(w, "%s\n%s\n", t.Render(), dimStyle.Render(fmt.Sprintf("%d invoices", len(invoices))))
	return err
}

func renderInvoice(w io.Writer, format string, inv *invoice.Invoice) error {
	if format != outputTable {
		return encode(w, format, inv)
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Invoice " + inv.ID))
	b.WriteString("\n")
	b.WriteString(detailTable(inv).Render())
	b.WriteString("\n")

	if len(inv.LineItems) > 0 {
		rows := make([][]string, 0, len(inv.LineItems))
		for _, item := range inv.LineItems {
			rows = append(rows, []string{text(item.Description), number(item.Quantity), amount(item.UnitPrice), amount(item.Amount)})
		}
		b.WriteString(titleStyle.Render("Line items"))
		b.WriteString("\n")
		b.WriteString(newTable(numericColumns(1, 2, 3)).Headers("Description", "Quantity", "Unit Price", "Amount").Rows(rows...).Render())
		b.WriteString("\n")
	}

	if len(inv.Taxes) > 0 {
		rows := make([][]string, 0, len(inv.Taxes))
		for _, tax := range inv.Taxes {
			rows = append(rows, []string{text(tax.Description), amount(tax.Amount)})
		}
		b.WriteString(titleStyle.Render("Taxes"))
		b.WriteString("\n")
		b.WriteString(newTable(numericColumns(1)).Headers("Description", "Amount").Rows(rows...).Render())
		b.WriteString("\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// detailTable lists the fields that are present, followed by any extra fields as raw JSON
func detailTable(inv *invoice.Invoice) *table.Table {
	fields := [][2]string{
		{"Vendor", partyName(inv.VendorDetails)},
		{"Vendor Address", partyAddress(inv.VendorDetails)},
		{"Customer", partyName(inv.CustomerDetails)},
		{"Customer Address", partyAddress(inv.CustomerDetails)},
		{"Ship To", partyAddress(inv.ShippingAddress)},
		{"Invoice Number", text(inv.InvoiceNumber)},
		{"Invoice Date", text(inv.InvoiceDate)},
		{"Due Date", text(inv.DueDate)},
		{"PO Number", text(inv.PurchaseOrderNumber)},
		{"Payment Terms", text(inv.PaymentTerms)},
		{"Subtotal", amount(inv.Subtotal)},
		{"Total", amount(inv.TotalAmount)},
		{"Notes", text(inv.Notes)},
	}

	keys := make([]string, 0, len(inv.Extra))
	for k := range inv.Extra {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fields = append(fields, [2]string{k, string(inv.Extra[k])})
	}

	fields = append(fields,
		[2]string{"Created", inv.CreatedAt.Local().Format(time.DateTime)},
		[2]string{"Updated", inv.UpdatedAt.Local().Format(time.DateTime)},
	)

	t := newTable(func(row, col int) lipgloss.Style {
		if col == 0 {
			return labelStyle
		}
		return cellStyle
	})
	for _, f := range fields {
		if f[1] != "" {
			t.Row(f[0], f[1])
		}
	}
	return t
}

func newTable(style table.StyleFunc) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		StyleFunc(style)
}

func numericColumns(cols ...int) table.StyleFunc {
	return func(row, col int) lipgloss.Style {
		if row == table.HeaderRow {
			return headerStyle
		}
		if slices.Contains(cols, col) {
			return cellStyle.Align(lipgloss.Right)
		}
		return cellStyle
	}
}

// encode writes v as indented JSON, or as YAML with the same keys as the JSON form
func encode(w io.Writer, format string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}

	if format == outputJSON {
		var buf strings.Builder
		enc := json.NewEncoder(&buf)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		if err := enc.Encode(json.RawMessage(data)); err != nil {
			return fmt.Errorf("encoding output: %w", err)
		}
		_, err = io.WriteString(w, buf.String())
		return err
	}

	var plain any
	if err := json.Unmarshal(data, &plain); err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(plain); err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	return enc.Close()
}

func partyName(p *invoice.Party) string {
	if p == nil {
		return ""
	}
	return text(p.Name)
}

func partyAddress(p *invoice.Party) string {
	if p == nil {
		return ""
	}
	return text(p.Address)
}

func text(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func amount(n *invoice.Number) string {
	if n == nil {
		return ""
	}
	return n.StringFixed(2)
}

func number(n *invoice.Number) string {
	if n == nil {
		return ""
	}
	return n.String()
}
