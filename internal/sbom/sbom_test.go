package sbom

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateWritesDocument(t *testing.T) {
	dir := t.TempDir()
	g := &Generator{Command: "touch", Timeout: 5 * time.Second}

	path, err := g.Generate(context.Background(), dir)
	require.NoError(t, err)

	_, err = os.Stat(path)
	assert.NoError(t, err, "sbom document must exist at the returned path")
}

func TestGenerateFailsOnNonZeroExit(t *testing.T) {
	g := &Generator{Command: "false", Timeout: 5 * time.Second}

	_, err := g.Generate(context.Background(), t.TempDir())
	assert.Error(t, err)
}

func TestGenerateRequiresCommand(t *testing.T) {
	g := &Generator{}

	_, err := g.Generate(context.Background(), t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no command")
}

func TestGenerateTimesOut(t *testing.T) {
	g := &Generator{Command: "sleep 5", Timeout: 50 * time.Millisecond}

	start := time.Now()
	_, err := g.Generate(context.Background(), t.TempDir())
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second, "timeout must cut the command short")
}

func TestGenerateHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	g := &Generator{Command: "sleep 5", Timeout: 5 * time.Second}
	_, err := g.Generate(ctx, t.TempDir())
	assert.Error(t, err)
}
