package cli

import (
	"github.com/spf13/cobra"

	"github.com/sealgate/sealgate/internal/gate"
	"github.com/sealgate/sealgate/internal/policy"
)

// GateOptions holds flags for the gate command group.
type GateOptions struct {
	*RootOptions
	PolicyPath string
	Metrics    gate.Metrics
}

// NewGateCommand creates the gate command group.
func NewGateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "gate",
		Short: "Evaluate the governance gate",
	}

	cmd.PersistentFlags().StringVar(&opts.PolicyPath, "policy", "", "path to CUE policy file (default thresholds when omitted)")

	cmd.AddCommand(newGateDecideCommand(opts))

	return cmd
}

func newGateDecideCommand(opts *GateOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decide",
		Short: "Decide APPROVE, REJECT or REVIEW for a metrics vector",
		Long: `Evaluate the governance gate against explicit metrics and print the
full explanation: decision, confidence, derived values and per-criterion
results. Identical inputs always produce identical output.

Example:
  sealgate gate decide --completeness 0.9 --consistency 0.85 \
    --traceability 0.9 --performance 0.6 --tail-risk 0.2 --antifragility 1.2`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return gateDecide(cmd, opts)
		},
	}

	cmd.Flags().Float64Var(&opts.Metrics.Completeness, "completeness", 0, "completeness sub-component [0,1]")
	cmd.Flags().Float64Var(&opts.Metrics.Consistency, "consistency", 0, "consistency sub-component [0,1]")
	cmd.Flags().Float64Var(&opts.Metrics.Traceability, "traceability", 0, "traceability sub-component [0,1]")
	cmd.Flags().Float64Var(&opts.Metrics.Performance, "performance", 0, "raw performance score")
	cmd.Flags().Float64Var(&opts.Metrics.TailRisk, "tail-risk", 0, "tail risk [0,1]")
	cmd.Flags().Float64Var(&opts.Metrics.Antifragility, "antifragility", 0, "antifragility score")

	return cmd
}

func gateDecide(cmd *cobra.Command, opts *GateOptions) error {
	pol, err := policy.Load(opts.PolicyPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "load policy", err)
	}

	g := gate.New(pol.Thresholds)
	explanation := g.Explain(opts.Metrics)

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	if err := formatter.SuccessJSON(explanation); err != nil {
		return WrapExitError(ExitCommandError, "write explanation", err)
	}

	if explanation.Decision == gate.Reject {
		return NewExitError(ExitFailure, "gate decision: REJECT")
	}
	return nil
}
