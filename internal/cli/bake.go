package cli

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/loomworks/loom/internal/ir"
	"github.com/loomworks/loom/internal/store"
)

// BakeOptions holds flags for the bake command.
type BakeOptions struct {
	*RootOptions
	DBPath string
	Source string
}

// BakeResult is the bake command's result payload.
type BakeResult struct {
	BoardID ir.BoardID `json:"board_id"`
	Version int64      `json:"version"`
	Hash    string     `json:"hash"`
}

// NewBakeCommand creates the bake command.
func NewBakeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BakeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "bake <board-id>",
		Short: "Freeze a board's current shape under its content address",
		Long: `Apply a bake op to a board: the current version and hash are
journaled to the store as an immutable, content-addressed artifact.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBake(opts, ir.BoardID(args[0]), cmd)
		},
	}

	cmd.Flags().StringVar(&opts.DBPath, "db", "loom.db", "path to the store database")
	cmd.Flags().StringVar(&opts.Source, "source", "cli", "provenance source for the bake op")

	return cmd
}

func runBake(opts *BakeOptions, boardID ir.BoardID, cmd *cobra.Command) error {
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

	b, err := resumeBinder(s, boardID, "", formatter)
	if err != nil {
		return fail(formatter, ErrCodeStoreFailed, err.Error())
	}

	opID, err := uuid.NewV7()
	if err != nil {
		return fail(formatter, ErrCodeGeneric, err.Error())
	}

	receipts, err := b.Apply(ir.Plan{
		BoardID: boardID,
		Ops:     []ir.PlanOp{{ID: "bake-" + opID.String(), Kind: ir.PlanBake}},
		Prov:    ir.Provenance{Source: opts.Source},
	})
	if err != nil {
		return fail(formatter, ErrCodeGeneric, err.Error())
	}
	if len(receipts) != 1 || receipts[0].Status != ir.ReceiptOK {
		return renderReceipts(formatter, receipts, "baked")
	}

	result := &BakeResult{
		BoardID: boardID,
		Version: b.Board().Version,
		Hash:    b.Hash(),
	}

	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "✓ Baked board %s\n\n", boardID)
	fmt.Fprintf(formatter.Writer, "  version: %d\n", result.Version)
	fmt.Fprintf(formatter.Writer, "  hash:    %s\n", result.Hash)
	return nil
}
