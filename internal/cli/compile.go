package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/loomworks/loom/internal/compiler"
	"github.com/loomworks/loom/internal/ir"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output string // output file path
}

// CompiledBoard is the compile command's result payload.
type CompiledBoard struct {
	Board *ir.Board `json:"board"`
	Hash  string    `json:"hash"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <board.cue>",
		Short: "Compile a CUE board definition to IR",
		Long: `Compile a CUE board definition into its IR form.

The compiler resolves slot and wire references, rejects floats and
nulls, and reports the board's content hash.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path")

	return cmd
}

func runCompile(opts *CompileOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	formatter.VerboseLog("Compiling %s", path)

	board, err := LoadBoardFile(path)
	if err != nil {
		var cerr *compiler.CompileError
		if errors.As(err, &cerr) {
			return fail(formatter, ErrCodeCompileFailed, cerr.Error())
		}
		return fail(formatter, ErrCodeReadFailed, err.Error())
	}

	hash, err := board.Hash(ir.DefaultAspectSort)
	if err != nil {
		return fail(formatter, ErrCodeGeneric, fmt.Sprintf("hashing board: %v", err))
	}

	result := &CompiledBoard{Board: board, Hash: hash}

	if opts.Output != "" {
		if err := writeBoardFile(result, opts.Output); err != nil {
			return fail(formatter, ErrCodeWriteFailed, err.Error())
		}
	}

	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "✓ Compiled board %s\n\n", board.ID)
	fmt.Fprintf(formatter.Writer, "  hash:   %s\n", hash)
	fmt.Fprintf(formatter.Writer, "  slots:  %d\n", len(board.Slots))
	fmt.Fprintf(formatter.Writer, "  wires:  %d\n", len(board.Wires))
	fmt.Fprintf(formatter.Writer, "  scopes: %d\n", len(board.Aspects))
	if opts.Output != "" {
		fmt.Fprintf(formatter.Writer, "\nWrote IR to %s\n", opts.Output)
	}

	return nil
}

// writeBoardFile writes the compiled board to a file as indented JSON.
// Canonical (unindented) JSON is used only for hashing.
func writeBoardFile(result *CompiledBoard, filename string) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling board: %w", err)
	}
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	return nil
}
