package cli

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"

	"github.com/spf13/cobra"

	"github.com/sealgate/sealgate/internal/canon"
	"github.com/sealgate/sealgate/internal/identity"
	"github.com/sealgate/sealgate/internal/policy"
)

// IdentityOptions holds flags shared by the identity subcommands.
type IdentityOptions struct {
	*RootOptions
	ChainFile string
}

// NewIdentityCommand creates the identity command group.
func NewIdentityCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &IdentityOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "identity",
		Short: "Manage authorship hash chains",
	}

	cmd.PersistentFlags().StringVar(&opts.ChainFile, "chain", "", "path to the chain file (JSONL, required)")
	_ = cmd.MarkPersistentFlagRequired("chain")

	cmd.AddCommand(newIdentityAppendCommand(opts))
	cmd.AddCommand(newIdentityVerifyCommand(opts))

	return cmd
}

func newIdentityAppendCommand(opts *IdentityOptions) *cobra.Command {
	var (
		identityID string
		artifact   string
		keyHex     string
	)

	cmd := &cobra.Command{
		Use:   "append",
		Short: "Append a record binding an identity to an artifact digest",
		Long: `Append one record to an authorship chain. The artifact digest is given
as alg:hex (e.g. sha256:ab12...). With --key, the record is signed with the
given hex-encoded ed25519 private key.

Example:
  sealgate identity append --chain chain.jsonl --id alice --artifact sha256:ab12...`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return identityAppend(cmd, opts, identityID, artifact, keyHex)
		},
	}

	cmd.Flags().StringVar(&identityID, "id", "", "identity identifier (required)")
	cmd.Flags().StringVar(&artifact, "artifact", "", "artifact digest as alg:hex (required)")
	cmd.Flags().StringVar(&keyHex, "key", "", "hex ed25519 private key for signing (optional)")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("artifact")

	return cmd
}

func identityAppend(cmd *cobra.Command, opts *IdentityOptions, identityID, artifact, keyHex string) error {
	digest, err := canon.ParseDigest(artifact)
	if err != nil {
		return WrapExitError(ExitCommandError, "parse artifact digest", err)
	}

	records, err := identity.ReadChainFile(opts.ChainFile)
	if err != nil {
		return WrapExitError(ExitCommandError, "read chain", err)
	}

	chain := identity.ResumeChain(records)
	record, err := chain.Append(identityID, digest, nil)
	if err != nil {
		return WrapExitError(ExitCommandError, "append record", err)
	}

	if keyHex != "" {
		key, err := hex.DecodeString(keyHex)
		if err != nil || len(key) != ed25519.PrivateKeySize {
			return NewExitError(ExitCommandError, "invalid ed25519 private key")
		}
		if err := identity.Sign(ed25519.PrivateKey(key), &record); err != nil {
			return WrapExitError(ExitCommandError, "sign record", err)
		}
	}

	if err := identity.AppendChainFile(opts.ChainFile, record); err != nil {
		return WrapExitError(ExitCommandError, "write chain", err)
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	return formatter.Success(map[string]any{
		"identity_id": record.IdentityID,
		"digest":      record.Digest.String(),
		"position":    len(records),
	})
}

func newIdentityVerifyCommand(opts *IdentityOptions) *cobra.Command {
	var (
		requireSignatures bool
		pubHex            string
		policyPath        string
	)

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify an authorship chain",
		Long: `Recompute every record digest and check chain linkage. Reports the
earliest broken record on failure. With --require-signatures, or a policy
file setting require_signatures, an absent or invalid signature also breaks
the chain.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return identityVerify(cmd, opts, requireSignatures, pubHex, policyPath)
		},
	}

	cmd.Flags().BoolVar(&requireSignatures, "require-signatures", false, "treat missing signatures as failures")
	cmd.Flags().StringVar(&pubHex, "pub", "", "hex ed25519 public key for signature checks")
	cmd.Flags().StringVar(&policyPath, "policy", "", "CUE policy file (require_signatures)")

	return cmd
}

func identityVerify(cmd *cobra.Command, opts *IdentityOptions, requireSignatures bool, pubHex, policyPath string) error {
	pol, err := policy.Load(policyPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "load policy", err)
	}

	records, err := identity.ReadChainFile(opts.ChainFile)
	if err != nil {
		return WrapExitError(ExitCommandError, "read chain", err)
	}

	verifyOpts := identity.VerifyOptions{
		RequireSignatures: requireSignatures || pol.RequireSignatures,
	}
	if pubHex != "" {
		pub, err := hex.DecodeString(pubHex)
		if err != nil || len(pub) != ed25519.PublicKeySize {
			return NewExitError(ExitCommandError, "invalid ed25519 public key")
		}
		verifyOpts.PublicKey = ed25519.PublicKey(pub)
	}

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	if err := identity.VerifyChain(records, verifyOpts); err != nil {
		var breakErr *identity.BreakError
		if errors.As(err, &breakErr) {
			_ = formatter.Error("E_CHAIN", err.Error(), map[string]any{
				"index":  breakErr.Index,
				"reason": breakErr.Reason,
			})
			return NewExitError(ExitFailure, err.Error())
		}
		return WrapExitError(ExitFailure, "verify chain", err)
	}

	return formatter.Success(map[string]any{
		"records": len(records),
		"valid":   true,
	})
}
