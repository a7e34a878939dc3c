// Package sbom shells out to an external SBOM tool (syft, cyclonedx, ...)
// and captures the resulting document path for the provenance record.
package sbom

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Generator runs the configured SBOM command in a working directory.
type Generator struct {
	Command string // e.g. "syft dir:. -o cyclonedx-json"
	Timeout time.Duration
}

// Generate runs the command with ctx bounded by the generator timeout and
// returns the path the SBOM was written to. A non-zero exit or timeout is an
// error with the tool's stderr preserved.
func (g *Generator) Generate(ctx context.Context, dir string) (string, error) {
	if g.Command == "" {
		return "", fmt.Errorf("sbom: no command configured")
	}

	if g.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.Timeout)
		defer cancel()
	}

	outPath := filepath.Join(dir, "sbom.json")

	args := strings.Fields(g.Command)
	cmd := exec.CommandContext(ctx, args[0], append(args[1:], outPath)...)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("sbom: %w: %s", ctx.Err(), strings.TrimSpace(stderr.String()))
		}
		return "", fmt.Errorf("sbom: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return outPath, nil
}
