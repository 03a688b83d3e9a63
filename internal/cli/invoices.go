package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/zombor/invoice-tracker/internal/invoice"
)

func newHealthCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the server is up",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()

			health, err := opts.client().Health(ctx)
			if err != nil {
				return fmt.Errorf("checking health: %w", err)
			}
			return renderHealth(cmd.OutOrStdout(), opts.output, health)
		},
	}
}

func newExtractCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "extract <file>",
		Short: "Upload an invoice document and store what is extracted from it",
		Long:  "Upload a PDF or image of an invoice. The server extracts its fields with the configured model and stores the result.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			ctx, cancel := opts.context(cmd)
			defer cancel()

			inv, err := opts.client().Extract(ctx, args[0], f)
			if err != nil {
				return fmt.Errorf("extracting %s: %w", args[0], err)
			}
			return renderInvoice(cmd.OutOrStdout(), opts.output, inv)
		},
	}
}

func newListCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List stored invoices, newest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()

			invoices, err := opts.client().List(ctx)
			if err != nil {
				return fmt.Errorf("listing invoices: %w", err)
			}
			return renderInvoices(cmd.OutOrStdout(), opts.output, invoices)
		},
	}
}

func newGetCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one invoice",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()

			inv, err := opts.client().Get(ctx, args[0])
			if err != nil {
				return fmt.Errorf("getting invoice %s: %w", args[0], err)
			}
			return renderInvoice(cmd.OutOrStdout(), opts.output, inv)
		},
	}
}

func newCreateCmd(opts *options) *cobra.Command {
	var (
		entry invoice.ManualEntry
		total string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Store an invoice entered by hand",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := invoice.NewNumber(total)
			if err != nil {
				return fmt.Errorf("--total: %w", err)
			}
			entry.TotalAmount = amount

			ctx, cancel := opts.context(cmd)
			defer cancel()

			inv, err := opts.client().Create(ctx, entry)
			if err != nil {
				return fmt.Errorf("creating invoice: %w", err)
			}
			return renderInvoice(cmd.OutOrStdout(), opts.output, inv)
		},
	}

	cmd.Flags().StringVar(&entry.Company, "company", "", "Vendor name")
	cmd.Flags().StringVar(&entry.InvoiceNumber, "number", "", "Invoice number")
	cmd.Flags().StringVar(&entry.InvoiceDate, "date", "", "Invoice date")
	cmd.Flags().StringVar(&entry.DueDate, "due", "", "Due date")
	cmd.Flags().StringVar(&total, "total", "", "Total amount")
	for _, name := range []string{"company", "number", "date", "due", "total"} {
		cmd.MarkFlagRequired(name)
	}

	return cmd
}

func newUpdateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "update <id> field=value... field:=json...",
		Short: "Replace fields of an invoice",
		Long: `Replace top-level fields of an invoice.

field=value sets the field to the text value. field:=json sets it to a raw JSON value,
so total_amount:=120.50 stores a number and notes:=null clears the notes.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := parseAssignments(args[1:])
			if err != nil {
				return err
			}

			ctx, cancel := opts.context(cmd)
			defer cancel()

			inv, err := opts.client().Update(ctx, args[0], fields)
			if err != nil {
				return fmt.Errorf("updating invoice %s: %w", args[0], err)
			}
			return renderInvoice(cmd.OutOrStdout(), opts.output, inv)
		},
	}
}

func newDeleteCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete an invoice",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()

			if err := opts.client().Delete(ctx, args[0]); err != nil {
				return fmt.Errorf("deleting invoice %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted invoice %s\n", args[0])
			return nil
		},
	}
}

func newExportCmd(opts *options) *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Download every invoice as an XLSX workbook",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if path == "" {
				path = "invoices-" + time.Now().Format("20060102") + ".xlsx"
			}

			ctx, cancel := opts.context(cmd)
			defer cancel()

			var buf bytes.Buffer
			if err := opts.client().Export(ctx, &buf); err != nil {
				return fmt.Errorf("exporting invoices: %w", err)
			}
			if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
				return fmt.Errorf("writing %s: %w", path, err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVarP(&path, "file", "o", "", "Output file (default invoices-YYYYMMDD.xlsx)")

	return cmd
}

// parseAssignments turns field=text and field:=json arguments into an update body
func parseAssignments(args []string) (map[string]any, error) {
	fields := make(map[string]any, len(args))

	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, fmt.Errorf("%q is not a field=value pair", arg)
		}

		raw := strings.HasSuffix(key, ":")
		key = strings.TrimSuffix(key, ":")
		if key == "" {
			return nil, fmt.Errorf("%q has no field name", arg)
		}
		if _, dup := fields[key]; dup {
			return nil, fmt.Errorf("field %q is set more than once", key)
		}

		if !raw {
			fields[key] = value
			continue
		}

		dec := json.NewDecoder(strings.NewReader(value))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, fmt.Errorf("field %q: invalid JSON value %q: %w", key, value, err)
		}
		if dec.More() {
			return nil, errors.New("field " + key + ": more than one JSON value")
		}
		fields[key] = v
	}

	return fields, nil
}
