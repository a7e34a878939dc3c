package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sealgate/sealgate/internal/config"
)

// writeRunArtifacts persists the terminal run: one report file per run and
// one appended line in the run log. Both are written exactly once, at
// terminal state, for successful and blocked runs alike.
func writeRunArtifacts(cfg config.Config, r *Run) error {
	if err := writeReport(cfg.ReportDir, r); err != nil {
		return err
	}
	return appendRunLog(cfg.RunLogPath, r)
}

func writeReport(dir string, r *Run) error {
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("deploy_%s.json", r.TraceID))
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

func appendRunLog(path string, r *Run) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("run log: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("run log: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("run log: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("run log: %w", err)
	}
	return nil
}
