package cli

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sealgate/sealgate/internal/attest"
	"github.com/sealgate/sealgate/internal/config"
	"github.com/sealgate/sealgate/internal/gate"
	"github.com/sealgate/sealgate/internal/gateclient"
	"github.com/sealgate/sealgate/internal/ledger"
	"github.com/sealgate/sealgate/internal/pipeline"
	"github.com/sealgate/sealgate/internal/policy"
	"github.com/sealgate/sealgate/internal/publish"
	"github.com/sealgate/sealgate/internal/sbom"
)

// RunCmdOptions holds flags for the run command.
type RunCmdOptions struct {
	*RootOptions
	ConfigPath string
	DryRun     bool
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunCmdOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute the publication pipeline",
		Long: `Execute the fail-closed publication pipeline.

Stages run in a fixed order: manifest, tests, sbom, provenance, local
policy, governance, attestation, publish. The first failing stage blocks
the run; the terminal run is appended to the evidence ledger and written
to the report directory either way.

Example:
  sealgate run --config sealgate.yaml
  sealgate run --config sealgate.yaml --dry-run`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "path to run configuration (YAML)")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "force dry-run mode regardless of configuration")

	return cmd
}

func runPipeline(cmd *cobra.Command, opts *RunCmdOptions) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "load configuration", err)
	}
	if opts.DryRun {
		cfg.Mode = config.ModeDryRun
	}

	pol, err := policy.Load(cfg.PolicyPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "load policy", err)
	}

	publishers, err := publish.Resolve(cfg.Publishers, cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "resolve publishers", err)
	}

	store, err := ledger.OpenStore(cfg.LedgerPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "open ledger", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			slog.Error("closing ledger store", "error", closeErr)
		}
	}()

	led, err := ledger.Load(cmd.Context(), store)
	if err != nil {
		return WrapExitError(ExitCommandError, "load ledger", err)
	}

	var gateClient pipeline.GovernanceClient
	if cfg.GateURL != "" {
		gateClient = &gateclient.Client{
			URL:        cfg.GateURL,
			HTTPClient: &http.Client{},
			Timeout:    cfg.Timeout(),
		}
	}

	orchestrator := &pipeline.Orchestrator{
		Config: cfg,
		Gate:   gate.New(pol.Thresholds),
		Ledger: led,
		SBOM:   &sbom.Generator{Command: cfg.SBOMCommand, Timeout: cfg.Timeout()},
		Attestor: &attest.Attestor{
			Command: cfg.AttestCommand,
			Timeout: cfg.Timeout(),
			DryRun:  cfg.DryRun(),
		},
		GateClient: gateClient,
		Publishers: publishers,
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	run := orchestrator.Execute(ctx)

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	if err := formatter.SuccessJSON(run); err != nil {
		return WrapExitError(ExitCommandError, "write run report", err)
	}

	if run.Blocked {
		return NewExitError(ExitFailure, "run blocked at stage "+run.BlockedStage+": "+run.Reason)
	}
	return nil
}

// signalContext cancels the returned context on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()

	return ctx, cancel
}
