package publish

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/sealgate/sealgate/internal/config"
	"github.com/sealgate/sealgate/internal/manifest"
)

// Forge pushes the release to a code forge via the configured command.
type Forge struct {
	remote  string
	command string
	token   string
	timeout time.Duration
}

func newForge(cfg config.ForgeConfig, timeout time.Duration) (*Forge, error) {
	if cfg.Remote == "" {
		return nil, fmt.Errorf("forge: no remote configured")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("forge: no token configured (set SEALGATE_FORGE_TOKEN)")
	}
	command := cfg.Command
	if command == "" {
		command = "git push"
	}
	return &Forge{remote: cfg.Remote, command: command, token: cfg.Token, timeout: timeout}, nil
}

func (f *Forge) Name() string { return "forge" }

func (f *Forge) Publish(ctx context.Context, root string, files []string, m *manifest.Manifest) (*Result, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	args := strings.Fields(f.command)
	cmd := exec.CommandContext(ctx, args[0], append(args[1:], f.remote)...)
	cmd.Dir = root
	cmd.Env = append(cmd.Environ(), "SEALGATE_FORGE_TOKEN="+f.token)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("forge: %w: %s", ctx.Err(), strings.TrimSpace(stderr.String()))
		}
		return nil, fmt.Errorf("forge: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	return &Result{
		Publisher: f.Name(),
		Location:  f.remote,
		Detail:    map[string]string{"trace_id": m.TraceID},
	}, nil
}
