package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loomworks/loom/internal/binder"
	"github.com/loomworks/loom/internal/ir"
	"github.com/loomworks/loom/internal/lattice"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	BoardFile string
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <plan.yaml>",
		Short: "Dry-run a plan against an in-memory binder",
		Long: `Apply a plan batch to a throwaway binder and report the receipts.

Nothing is persisted. With --board, the plan is validated against a
compiled board definition instead of an empty board.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.BoardFile, "board", "", "CUE board definition to validate against")

	return cmd
}

func runValidate(opts *ValidateOptions, planPath string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	plan, err := LoadPlanFile(planPath)
	if err != nil {
		return fail(formatter, ErrCodeBadPlan, err.Error())
	}
	formatter.VerboseLog("Loaded plan with %d op(s) for board %s", len(plan.Ops), plan.BoardID)

	b, err := newPlanBinder(plan.BoardID, opts.BoardFile)
	if err != nil {
		return fail(formatter, ErrCodeCompileFailed, err.Error())
	}

	receipts, err := b.Apply(plan)
	if err != nil {
		return fail(formatter, ErrCodeGeneric, err.Error())
	}

	return renderReceipts(formatter, receipts, "validated")
}

// newPlanBinder builds a journal-free binder, either from a compiled
// board definition or empty at the given id.
func newPlanBinder(boardID ir.BoardID, boardFile string) (*binder.Binder, error) {
	catalog := lattice.StandardCatalog()
	manifest := binder.DefaultManifest()

	if boardFile == "" {
		return binder.New(boardID, catalog, manifest)
	}

	board, err := LoadBoardFile(boardFile)
	if err != nil {
		return nil, err
	}
	if boardID != "" && board.ID != boardID {
		return nil, fmt.Errorf("plan targets board %q but %s defines %q", boardID, boardFile, board.ID)
	}
	return binder.Restore(board, catalog, manifest)
}
