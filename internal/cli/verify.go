package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/sealgate/sealgate/internal/ledger"
)

// VerifyOptions holds flags for the verify command.
type VerifyOptions struct {
	*RootOptions
	Database string
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify the evidence ledger",
		Long: `Verify the evidence ledger end to end: recompute every entry digest,
check hash-chain linkage and rebuild the Merkle root. Exits non-zero if
any entry fails, and reports integrity damage detected at load time.

Example:
  sealgate verify --db sealgate.db`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return verifyLedger(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the ledger database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func verifyLedger(cmd *cobra.Command, opts *VerifyOptions) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	store, err := ledger.OpenStore(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "open ledger", err)
	}
	defer store.Close()

	led, err := ledger.Load(cmd.Context(), store)
	if err != nil {
		if errors.Is(err, ledger.ErrIntegrity) {
			_ = formatter.Error("E_INTEGRITY", "ledger integrity compromised", err.Error())
			return WrapExitError(ExitFailure, "ledger integrity compromised", err)
		}
		return WrapExitError(ExitCommandError, "load ledger", err)
	}

	if !led.VerifyChain() {
		_ = formatter.Error("E_CHAIN", "hash chain verification failed", nil)
		return NewExitError(ExitFailure, "hash chain verification failed")
	}

	formatter.VerboseLog("verified %d entries, root %s", led.Len(), led.Root().String())
	return formatter.Success(map[string]any{
		"entries":     led.Len(),
		"merkle_root": led.Root().String(),
		"chain_valid": true,
	})
}
