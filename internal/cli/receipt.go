package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/sealgate/sealgate/internal/ledger"
)

// ReceiptOptions holds flags for the receipt command.
type ReceiptOptions struct {
	*RootOptions
	Database string
	Index    int
}

// NewReceiptCommand creates the receipt command.
func NewReceiptCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReceiptOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "receipt",
		Short: "Issue a verification receipt for a ledger entry",
		Long: `Issue a standalone receipt for one ledger entry: the entry, its digest,
a Merkle inclusion proof against the current root, and its chain position.
The receipt is self-contained; a holder can re-verify inclusion without
access to the full ledger.

Example:
  sealgate receipt --db sealgate.db --index 3`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return issueReceipt(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the ledger database (required)")
	cmd.Flags().IntVar(&opts.Index, "index", -1, "entry index (required)")
	_ = cmd.MarkFlagRequired("db")
	_ = cmd.MarkFlagRequired("index")

	return cmd
}

func issueReceipt(cmd *cobra.Command, opts *ReceiptOptions) error {
	store, err := ledger.OpenStore(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "open ledger", err)
	}
	defer store.Close()

	led, err := ledger.Load(cmd.Context(), store)
	if err != nil {
		return WrapExitError(ExitCommandError, "load ledger", err)
	}

	receipt, err := led.Receipt(opts.Index)
	if err != nil {
		if errors.Is(err, ledger.ErrIndexOutOfRange) {
			return WrapExitError(ExitCommandError, "entry index out of range", err)
		}
		return WrapExitError(ExitCommandError, "issue receipt", err)
	}

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	if err := formatter.SuccessJSON(receipt); err != nil {
		return WrapExitError(ExitCommandError, "write receipt", err)
	}

	if !receipt.ProofValid || !receipt.ChainValid {
		return NewExitError(ExitFailure, "receipt verification failed")
	}
	return nil
}
