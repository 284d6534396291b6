package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loomworks/loom/internal/ir"
	"github.com/loomworks/loom/internal/store"
)

// ReceiptsOptions holds flags for the receipts command.
type ReceiptsOptions struct {
	*RootOptions
	DBPath string
}

// NewReceiptsCommand creates the receipts command.
func NewReceiptsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReceiptsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "receipts <board-id>",
		Short:         "List the receipt log for a board",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReceipts(opts, ir.BoardID(args[0]), cmd)
		},
	}

	cmd.Flags().StringVar(&opts.DBPath, "db", "loom.db", "path to the store database")

	return cmd
}

func runReceipts(opts *ReceiptsOptions, boardID ir.BoardID, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	s, err := store.Open(opts.DBPath)
	if err != nil {
		return fail(formatter, ErrCodeStoreFailed, err.Error())
	}
	defer s.Close()

	receipts, err := s.ReadReceipts(context.Background(), boardID)
	if err != nil {
		return fail(formatter, ErrCodeStoreFailed, err.Error())
	}

	if formatter.Format == "json" {
		return formatter.Success(receipts)
	}

	if len(receipts) == 0 {
		fmt.Fprintf(formatter.Writer, "No receipts for board %s\n", boardID)
		return nil
	}

	fmt.Fprintf(formatter.Writer, "Receipts for board %s:\n\n", boardID)
	for _, r := range receipts {
		printReceipt(formatter, r)
	}
	return nil
}

// printReceipt renders one receipt line, plus diffs when verbose.
func printReceipt(f *OutputFormatter, r ir.Receipt) {
	switch r.Status {
	case ir.ReceiptOK:
		fmt.Fprintf(f.Writer, "  ✓ %-4d %s (%d diff(s))\n", r.Prov.Seq, r.OpID, len(r.Diffs))
	default:
		fmt.Fprintf(f.Writer, "  ✗ %-4d %s %s: %s\n", r.Prov.Seq, r.OpID, r.Code, r.Reason)
	}
	if f.Verbose {
		for _, d := range r.Diffs {
			fmt.Fprintf(f.Writer, "      %s %s%s%s\n", d.Kind, diffTarget(d), noteSep(d), d.Note)
		}
	}
}

func diffTarget(d ir.GraphDiff) string {
	switch {
	case d.Node != nil:
		return string(d.Node.ID)
	case d.NodeID != "":
		return string(d.NodeID)
	case d.Edge != nil:
		return string(d.Edge.ID)
	case d.EdgeID != "":
		return string(d.EdgeID)
	default:
		return ""
	}
}

func noteSep(d ir.GraphDiff) string {
	if d.Note != "" && (d.Node != nil || d.NodeID != "" || d.Edge != nil || d.EdgeID != "") {
		return " "
	}
	return ""
}

// renderReceipts reports an applied batch. Any rejected receipt makes
// the command exit nonzero; receipts themselves carry the detail.
func renderReceipts(f *OutputFormatter, receipts []ir.Receipt, verb string) error {
	rejected := 0
	for _, r := range receipts {
		if r.Status != ir.ReceiptOK {
			rejected++
		}
	}

	if f.Format == "json" {
		if err := f.Success(receipts); err != nil {
			return err
		}
	} else {
		if rejected == 0 {
			fmt.Fprintf(f.Writer, "✓ %d op(s) %s\n\n", len(receipts), verb)
		} else {
			fmt.Fprintf(f.Writer, "✗ %d of %d op(s) rejected\n\n", rejected, len(receipts))
		}
		for _, r := range receipts {
			printReceipt(f, r)
		}
	}

	if rejected > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d op(s) rejected", rejected))
	}
	return nil
}
