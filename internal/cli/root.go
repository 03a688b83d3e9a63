package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/zombor/invoice-tracker/internal/client"
)

const (
	outputTable = "table"
	outputJSON  = "json"
	outputYAML  = "yaml"
)

// options are the persistent flags shared by every command
type options struct {
	server  string
	output  string
	timeout time.Duration
}

func (o *options) client() *client.Client {
	return client.New(o.server)
}

func (o *options) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), o.timeout)
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:           "invoicectl",
		Short:         "Work with an invoice-tracker server",
		Long:          "invoicectl uploads invoice documents for extraction and reads, edits, deletes and exports the stored invoices.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch opts.output {
			case outputTable, outputJSON, outputYAML:
				return nil
			default:
				return fmt.Errorf("unknown output format %q: use table, json or yaml", opts.output)
			}
		},
	}

	cmd.PersistentFlags().StringVar(&opts.server, "server", "http://localhost:8080", "invoice-tracker server URL")
	cmd.PersistentFlags().StringVar(&opts.output, "output", outputTable, "Output format: table, json or yaml")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 2*time.Minute, "Request timeout")

	cmd.AddCommand(newHealthCmd(opts))
	cmd.AddCommand(newExtractCmd(opts))
	cmd.AddCommand(newListCmd(opts))
	cmd.AddCommand(newGetCmd(opts))
	cmd.AddCommand(newCreateCmd(opts))
	cmd.AddCommand(newUpdateCmd(opts))
	cmd.AddCommand(newDeleteCmd(opts))
	cmd.AddCommand(newExportCmd(opts))
	return cmd
}

func Execute() error {
	return newRootCmd().Execute()
}
