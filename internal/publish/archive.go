package publish

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sealgate/sealgate/internal/manifest"
)

// Archive writes the file set as a tar.gz plus a metadata JSON next to it.
type Archive struct {
	Dir string
}

func (a *Archive) Name() string { return "archive" }

func (a *Archive) Publish(ctx context.Context, root string, files []string, m *manifest.Manifest) (*Result, error) {
	if a.Dir == "" {
		return nil, fmt.Errorf("archive: no directory configured")
	}
	if err := os.MkdirAll(a.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}

	archivePath := filepath.Join(a.Dir, fmt.Sprintf("release_%s.tar.gz", m.TraceID))
	if err := writeTarball(ctx, archivePath, root, files); err != nil {
		return nil, err
	}

	metaPath := filepath.Join(a.Dir, fmt.Sprintf("release_%s.json", m.TraceID))
	meta := map[string]any{
		"trace_id":  m.TraceID,
		"root_hash": m.RootHash,
		"files":     files,
		"archive":   filepath.Base(archivePath),
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("archive: metadata: %w", err)
	}
	if err := os.WriteFile(metaPath, append(data, '\n'), 0o644); err != nil {
		return nil, fmt.Errorf("archive: metadata: %w", err)
	}

	return &Result{
		Publisher: a.Name(),
		Location:  archivePath,
		Detail:    map[string]string{"metadata": metaPath},
	}, nil
}

func writeTarball(ctx context.Context, dest, root string, files []string) error {
	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("archive: %w", err)
		}
		if err := addFile(tw, root, rel); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	return out.Close()
}

func addFile(tw *tar.Writer, root, rel string) error {
	path := filepath.Join(root, rel)
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("archive: %s: %w", rel, err)
	}

	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return fmt.Errorf("archive: %s: %w", rel, err)
	}
	hdr.Name = filepath.ToSlash(rel)
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("archive: %s: %w", rel, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("archive: %s: %w", rel, err)
	}
	defer f.Close()

	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("archive: %s: %w", rel, err)
	}
	return nil
}
