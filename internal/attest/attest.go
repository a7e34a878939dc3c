// Package attest wraps the external attestation tool (cosign or similar).
// In dry-run mode attestation is a recorded no-op success, so the rest of
// the pipeline can be exercised without a signing backend.
package attest

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Result describes one attestation attempt.
type Result struct {
	OK      bool   `json:"ok"`
	Skipped bool   `json:"skipped"`
	Output  string `json:"output,omitempty"`
}

// Attestor runs the configured attestation command over a manifest file.
type Attestor struct {
	Command string
	Timeout time.Duration
	DryRun  bool
}

// Attest produces an attestation for the manifest at manifestPath. Dry-run
// returns a skipped success without executing anything.
func (a *Attestor) Attest(ctx context.Context, manifestPath string) (*Result, error) {
	if a.DryRun {
		return &Result{OK: true, Skipped: true}, nil
	}
	if a.Command == "" {
		return nil, fmt.Errorf("attest: no command configured")
	}

	if a.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.Timeout)
		defer cancel()
	}

	args := strings.Fields(a.Command)
	cmd := exec.CommandContext(ctx, args[0], append(args[1:], manifestPath)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("attest: %w: %s", ctx.Err(), strings.TrimSpace(stderr.String()))
		}
		return nil, fmt.Errorf("attest: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return &Result{OK: true, Output: strings.TrimSpace(stdout.String())}, nil
}
