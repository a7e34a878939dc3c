package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/sealgate/sealgate/internal/config"
	"github.com/sealgate/sealgate/internal/manifest"
)

// Repository uploads the release to an archival repository over HTTP. The
// flow is create deposition, upload each file, then publish; any failing
// step aborts and the deposition is left unpublished on the server.
type Repository struct {
	baseURL string
	title   string
	creator string
	license string
	token   string
	client  *http.Client
}

func newRepository(cfg config.RepositoryConfig, timeout time.Duration) (*Repository, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("repository: no base URL configured")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("repository: no token configured (set SEALGATE_REPOSITORY_TOKEN)")
	}
	return &Repository{
		baseURL: cfg.BaseURL,
		title:   cfg.Title,
		creator: cfg.Creator,
		license: cfg.License,
		token:   cfg.Token,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

func (r *Repository) Name() string { return "repository" }

type deposition struct {
	ID    int64 `json:"id"`
	Links struct {
		Bucket  string `json:"bucket"`
		HTML    string `json:"html"`
		Publish string `json:"publish"`
	} `json:"links"`
}

func (r *Repository) Publish(ctx context.Context, root string, files []string, m *manifest.Manifest) (*Result, error) {
	dep, err := r.createDeposition(ctx, m)
	if err != nil {
		return nil, err
	}
	for _, rel := range files {
		if err := r.uploadFile(ctx, dep, root, rel); err != nil {
			return nil, err
		}
	}
	if err := r.publishDeposition(ctx, dep); err != nil {
		return nil, err
	}
	return &Result{
		Publisher: r.Name(),
		Location:  dep.Links.HTML,
		Detail:    map[string]string{"deposition_id": fmt.Sprintf("%d", dep.ID)},
	}, nil
}

func (r *Repository) createDeposition(ctx context.Context, m *manifest.Manifest) (*deposition, error) {
	meta := map[string]any{
		"metadata": map[string]any{
			"title":       r.title,
			"creators":    []map[string]string{{"name": r.creator}},
			"license":     r.license,
			"description": fmt.Sprintf("Release %s (root hash %s)", m.TraceID, m.RootHash),
		},
	}
	body, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("repository: %w", err)
	}

	var dep deposition
	if err := r.do(ctx, http.MethodPost, r.baseURL+"/api/deposit/depositions",
		"application/json", bytes.NewReader(body), &dep); err != nil {
		return nil, fmt.Errorf("repository: create deposition: %w", err)
	}
	return &dep, nil
}

func (r *Repository) uploadFile(ctx context.Context, dep *deposition, root, rel string) error {
	f, err := os.Open(filepath.Join(root, rel))
	if err != nil {
		return fmt.Errorf("repository: upload %s: %w", rel, err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(rel))
	if err != nil {
		return fmt.Errorf("repository: upload %s: %w", rel, err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("repository: upload %s: %w", rel, err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("repository: upload %s: %w", rel, err)
	}

	url := fmt.Sprintf("%s/api/deposit/depositions/%d/files", r.baseURL, dep.ID)
	if err := r.do(ctx, http.MethodPost, url, mw.FormDataContentType(), &buf, nil); err != nil {
		return fmt.Errorf("repository: upload %s: %w", rel, err)
	}
	return nil
}

func (r *Repository) publishDeposition(ctx context.Context, dep *deposition) error {
	url := fmt.Sprintf("%s/api/deposit/depositions/%d/actions/publish", r.baseURL, dep.ID)
	if err := r.do(ctx, http.MethodPost, url, "application/json", nil, nil); err != nil {
		return fmt.Errorf("repository: publish deposition: %w", err)
	}
	return nil
}

func (r *Repository) do(ctx context.Context, method, url, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+r.token)
	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status %d: %s", resp.StatusCode, truncateBody(data))
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func truncateBody(b []byte) string {
	if len(b) <= 256 {
		return string(b)
	}
	return string(b[:256]) + "..."
}
