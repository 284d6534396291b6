package cli

import (
	"context"
	"database/sql"
	"errors"

	"github.com/spf13/cobra"

	"github.com/loomworks/loom/internal/binder"
	"github.com/loomworks/loom/internal/ir"
	"github.com/loomworks/loom/internal/lattice"
	"github.com/loomworks/loom/internal/store"
)

// ApplyOptions holds flags for the apply command.
type ApplyOptions struct {
	*RootOptions
	DBPath    string
	BoardFile string
}

// NewApplyCommand creates the apply command.
func NewApplyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ApplyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "apply <plan.yaml>",
		Short: "Apply a plan batch through the binder",
		Long: `Apply a plan batch to a board, journaling every board version and
receipt to the store.

The board is resumed from its latest stored version. With --board,
a fresh board is compiled from a CUE definition instead (the store
must not already hold that board).`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.DBPath, "db", "loom.db", "path to the store database")
	cmd.Flags().StringVar(&opts.BoardFile, "board", "", "CUE board definition to start from")

	return cmd
}

func runApply(opts *ApplyOptions, planPath string, cmd *cobra.Command) error {
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

	s, err := store.Open(opts.DBPath)
	if err != nil {
		return fail(formatter, ErrCodeStoreFailed, err.Error())
	}
	defer s.Close()

	b, err := resumeBinder(s, plan.BoardID, opts.BoardFile, formatter)
	if err != nil {
		return fail(formatter, ErrCodeStoreFailed, err.Error())
	}

	receipts, err := b.Apply(plan)
	if err != nil {
		return fail(formatter, ErrCodeGeneric, err.Error())
	}

	return renderReceipts(formatter, receipts, "applied")
}

// resumeBinder restores a binder from the store's latest board version,
// from a CUE definition, or empty when the board is brand new.
func resumeBinder(s *store.Store, boardID ir.BoardID, boardFile string, f *OutputFormatter) (*binder.Binder, error) {
	catalog := lattice.StandardCatalog()
	manifest := binder.DefaultManifest()
	journal := binder.WithJournal(s)

	board, _, err := s.ReadLatestBoard(context.Background(), boardID)
	switch {
	case err == nil:
		if boardFile != "" {
			return nil, errors.New("board already exists in store; --board is only for new boards")
		}
		f.VerboseLog("Resuming board %s at version %d", board.ID, board.Version)
		return binder.Restore(board, catalog, manifest, journal)

	case errors.Is(err, sql.ErrNoRows):
		if boardFile != "" {
			compiled, err := LoadBoardFile(boardFile)
			if err != nil {
				return nil, err
			}
			if boardID != "" && compiled.ID != boardID {
				return nil, errors.New("plan board id does not match compiled board")
			}
			f.VerboseLog("Starting board %s from %s", compiled.ID, boardFile)
			return binder.Restore(compiled, catalog, manifest, journal)
		}
		f.VerboseLog("Starting empty board %s", boardID)
		return binder.New(boardID, catalog, manifest, journal)

	default:
		return nil, err
	}
}
