package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func newBarcodesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "barcodes",
		Aliases: []string{"barcode", "pool"},
		Short:   "Manage the barcode pool",
	}

	cmd.AddCommand(newBarcodesImportCmd())
	cmd.AddCommand(newBarcodesStatsCmd())
	cmd.AddCommand(newBarcodesResetCmd())

	return cmd
}

// ---------- barcodes import ----------

func newBarcodesImportCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import barcode lines from a file or stdin",
		Long: `Each line must contain the GS1 "(91)" marker. Lines without a valid
value are reported and skipped; values already in the pool count as duplicates.`,
		Example: `  labelctl barcodes import --file batch.txt
  cat batch.txt | labelctl barcodes import`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if file != "" && file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return fmt.Errorf("open %s: %w", file, err)
				}
				defer f.Close()
				r = f
			}
			text, err := io.ReadAll(r)
			if err != nil {
				return fmt.Errorf("read barcodes: %w", err)
			}

			svc, closeFn, err := openServices(cmd.Context())
			if err != nil {
				return fmt.Errorf("open storage: %w", err)
			}
			defer closeFn()

			report, ingestErr := svc.Pool.Ingest(cmd.Context(), string(text))
			out := cmd.OutOrStdout()
			if report != nil {
				fmt.Fprintf(out, "Processed:  %d\n", report.Processed)
				fmt.Fprintf(out, "Inserted:   %d\n", report.Inserted)
				fmt.Fprintf(out, "Duplicates: %d\n", report.Duplicates)
				fmt.Fprintf(out, "Rejected:   %d\n", len(report.Rejected))
				for _, rej := range report.Rejected {
					fmt.Fprintf(out, "  line %d: %s\n", rej.LineNumber, rej.Reason)
				}
			}
			return ingestErr
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "file to read, '-' or empty for stdin")

	return cmd
}

// ---------- barcodes stats ----------

func newBarcodesStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show barcode pool statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeFn, err := openServices(cmd.Context())
			if err != nil {
				return fmt.Errorf("open storage: %w", err)
			}
			defer closeFn()

			status, err := svc.Pool.Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("read pool status: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Total:     %d\n", status.Stats.Total)
			fmt.Fprintf(out, "Used:      %d\n", status.Stats.Used)
			fmt.Fprintf(out, "Available: %d\n", status.Stats.Available)
			if status.NextAvailable != nil {
				fmt.Fprintf(out, "Next:      %s\n", status.NextAvailable.LinearValue)
			}
			return nil
		},
	}
}

// ---------- barcodes reset ----------

func newBarcodesResetCmd() *cobra.Command {
	var confirmed bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete every barcode in the pool",
		Long:  "Remove all barcodes, used and unused. Usage log entries keep their copied barcode values.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirmed {
				return errors.New("refusing to delete the barcode pool without --yes")
			}

			svc, closeFn, err := openServices(cmd.Context())
			if err != nil {
				return fmt.Errorf("open storage: %w", err)
			}
			defer closeFn()

			n, err := svc.Pool.DeleteAll(cmd.Context())
			if err != nil {
				return fmt.Errorf("delete barcodes: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d barcodes\n", n)
			return nil
		},
	}

	cmd.Flags().BoolVar(&confirmed, "yes", false, "confirm deletion")

	return cmd
}
