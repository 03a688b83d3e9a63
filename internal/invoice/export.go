package invoice

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"
)

const (
	invoicesSheet  = "Invoices"
	lineItemsSheet = "Line Items"
)

var (
	invoiceHeaders = []string{
		"ID",
		"Vendor",
		"Customer",
		"Invoice Number",
		"Invoice Date",
		"Due Date",
		"PO Number",
		"Payment Terms",
		"Subtotal",
		"Total",
		"Created",
	}
	lineItemHeaders = []string{
		"Invoice ID",
		"Invoice Number",
		"Description",
		"Quantity",
		"Unit Price",
		"Amount",
	}
)

// WriteWorkbook writes invoices to w as an XLSX workbook with an invoice sheet and a line item sheet
func WriteWorkbook(w io.Writer, invoices []*Invoice) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", invoicesSheet); err != nil {
		return fmt.Errorf("naming sheet: %w", err)
	}
	if _, err := f.NewSheet(lineItemsSheet); err != nil {
		return fmt.Errorf("adding sheet: %w", err)
	}

	if err := writeRow(f, invoicesSheet, 1, toCells(invoiceHeaders)); err != nil {
		return err
	}
	if err := writeRow(f, lineItemsSheet, 1, toCells(lineItemHeaders)); err != nil {
		return err
	}

	itemRow := 2
	for i, inv := range invoices {
		err := writeRow(f, invoicesSheet, i+2, []any{
			inv.ID,
			partyName(inv.VendorDetails),
			partyName(inv.CustomerDetails),
			text(inv.InvoiceNumber),
			text(inv.InvoiceDate),
			text(inv.DueDate),
			text(inv.PurchaseOrderNumber),
			text(inv.PaymentTerms),
			amount(inv.Subtotal),
			amount(inv.TotalAmount),
			inv.CreatedAt.UTC().Format(time.RFC3339),
		})
		if err != nil {
			return err
		}

		for _, item := range inv.LineItems {
			err := writeRow(f, lineItemsSheet, itemRow, []any{
				inv.ID,
				text(inv.InvoiceNumber),
				text(item.Description),
				amount(item.Quantity),
				amount(item.UnitPrice),
				amount(item.Amount),
			})
			if err != nil {
				return err
			}
			itemRow++
		}
	}

	_ = f.SetColWidth(invoicesSheet, "A", "A", 38)
	_ = f.SetColWidth(invoicesSheet, "B", "C", 28)
	_ = f.SetColWidth(invoicesSheet, "D", "H", 16)
	_ = f.SetColWidth(invoicesSheet, "K", "K", 22)
	_ = f.SetColWidth(lineItemsSheet, "A", "A", 38)
	_ = f.SetColWidth(lineItemsSheet, "C", "C", 48)

	if err := f.Write(w); err != nil {
		return fmt.Errorf("xlsx write: %w", err)
	}
	return nil
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	for col, v := range values {
		cell, err := excelize.CoordinatesToCellName(col+1, row)
		if err != nil {
			return err
		}
		if v == nil {
			continue
		}
		if err := f.SetCellValue(sheet, cell, v); err != nil {
			return fmt.Errorf("setting %s!%s: %w", sheet, cell, err)
		}
	}
	return nil
}

func toCells(values []string) []any {
	cells := make([]any, len(values))
	for i, v := range values {
		cells[i] = v
	}
	return cells
}

func partyName(p *Party) any {
	if p == nil {
		return nil
	}
	return text(p.Name)
}

func text(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func amount(n *Number) any {
	if n == nil {
		return nil
	}
	return n.InexactFloat64()
}
