package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/sealgate/sealgate/internal/gate"
	"github.com/sealgate/sealgate/internal/gateserver"
	"github.com/sealgate/sealgate/internal/policy"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr       string
	PolicyPath string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the governance gate over HTTP",
		Long: `Start the governance endpoint. POST /v1/gate/validate evaluates the
gate against the metrics in the request body; GET /healthz reports
liveness. Thresholds come from the CUE policy file, or defaults.

Example:
  sealgate serve --addr :8080 --policy policy.cue`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serveGate(opts)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", ":8080", "listen address")
	cmd.Flags().StringVar(&opts.PolicyPath, "policy", "", "path to CUE policy file")

	return cmd
}

func serveGate(opts *ServeOptions) error {
	pol, err := policy.Load(opts.PolicyPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "load policy", err)
	}

	server := gateserver.New(gate.New(pol.Thresholds), slog.Default())
	if err := server.Run(opts.Addr); err != nil {
		return WrapExitError(ExitFailure, "gate server", err)
	}
	return nil
}
