// Package manifest builds the signed file manifest that anchors a pipeline
// run: every tracked file hashed, a root digest over the sorted entry list,
// and an HMAC signature binding the root to the run's trace ID.
package manifest

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/sealgate/sealgate/internal/canon"
)

// Entry is one tracked file.
type Entry struct {
	Path   string `json:"path"` // relative, slash-separated
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"` // hex
}

// Manifest is the signed file inventory of one run.
type Manifest struct {
	TraceID     string  `json:"trace_id"`
	GeneratedAt string  `json:"generated_at"` // RFC 3339
	Entries     []Entry `json:"files"`        // sorted by path
	RootHash    string  `json:"root_hash"`    // canonical digest over entries
	Signature   string  `json:"signature"`    // hex HMAC-SHA256 over {root_hash, trace_id}
}

// Builder produces manifests for one run. The key signs every manifest the
// builder emits; construction fails without one so an unsigned manifest can
// never exist.
type Builder struct {
	traceID string
	key     []byte
	now     func() time.Time
}

// NewBuilder creates a Builder. nowFn may be nil (wall clock). An empty key
// is a configuration error.
func NewBuilder(traceID string, key []byte, nowFn func() time.Time) (*Builder, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("manifest: signing key not configured")
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Builder{traceID: traceID, key: key, now: nowFn}, nil
}

// Build hashes each file with streaming SHA-256, sorts the entries by path,
// computes the root hash over the canonical entry list and signs it.
func (b *Builder) Build(root string, files []string) (*Manifest, error) {
	entries := make([]Entry, 0, len(files))
	for _, rel := range files {
		sum, size, err := hashFile(filepath.Join(root, rel))
		if err != nil {
			return nil, fmt.Errorf("manifest: %s: %w", rel, err)
		}
		entries = append(entries, Entry{
			Path:   filepath.ToSlash(rel),
			Size:   size,
			SHA256: sum,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })

	rootHash, err := rootHash(entries)
	if err != nil {
		return nil, err
	}

	m := &Manifest{
		TraceID:     b.traceID,
		GeneratedAt: b.now().UTC().Format(time.RFC3339Nano),
		Entries:     entries,
		RootHash:    rootHash,
	}
	m.Signature = sign(b.key, m.RootHash, m.TraceID)
	return m, nil
}

// rootHash digests the sorted entry list in canonical form.
func rootHash(entries []Entry) (string, error) {
	list := make([]map[string]any, len(entries))
	for i, e := range entries {
		list[i] = map[string]any{
			"path":   e.Path,
			"size":   e.Size,
			"sha256": e.SHA256,
		}
	}
	d, err := canon.SumObject(canon.DomainManifest, map[string]any{"files": list})
	if err != nil {
		return "", fmt.Errorf("manifest root hash: %w", err)
	}
	return d.Hex, nil
}

func sign(key []byte, rootHash, traceID string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(rootHash))
	mac.Write([]byte{0})
	mac.Write([]byte(traceID))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature recomputes the HMAC and compares in constant time.
func VerifySignature(m *Manifest, key []byte) bool {
	if m == nil || m.Signature == "" {
		return false
	}
	want, err := hex.DecodeString(m.Signature)
	if err != nil {
		return false
	}
	got, err := hex.DecodeString(sign(key, m.RootHash, m.TraceID))
	if err != nil {
		return false
	}
	return hmac.Equal(want, got)
}

// Hash returns the manifest's content digest, used downstream by provenance
// and the evidence ledger.
func (m *Manifest) Hash() (canon.Digest, error) {
	list := make([]map[string]any, len(m.Entries))
	for i, e := range m.Entries {
		list[i] = map[string]any{
			"path":   e.Path,
			"size":   e.Size,
			"sha256": e.SHA256,
		}
	}
	d, err := canon.SumObject(canon.DomainManifest, map[string]any{
		"trace_id":     m.TraceID,
		"generated_at": m.GeneratedAt,
		"files":        list,
		"root_hash":    m.RootHash,
		"signature":    m.Signature,
	})
	if err != nil {
		return canon.Digest{}, fmt.Errorf("manifest hash: %w", err)
	}
	return d, nil
}

// Write serializes the manifest as a single JSON document.
func (m *Manifest) Write(path string) error {
	data, err := canon.Marshal(map[string]any{
		"trace_id":     m.TraceID,
		"generated_at": m.GeneratedAt,
		"files":        entriesToAny(m.Entries),
		"root_hash":    m.RootHash,
		"signature":    m.Signature,
	})
	if err != nil {
		return fmt.Errorf("manifest write: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("manifest write: %w", err)
	}
	return nil
}

func entriesToAny(entries []Entry) []map[string]any {
	out := make([]map[string]any, len(entries))
	for i, e := range entries {
		out[i] = map[string]any{
			"path":   e.Path,
			"size":   e.Size,
			"sha256": e.SHA256,
		}
	}
	return out
}

// CollectFiles resolves glob patterns against root and returns the
// deduplicated, sorted set of relative paths. Directories are skipped.
func CollectFiles(root string, patterns []string) ([]string, error) {
	seen := map[string]struct{}{}
	for _, pattern := range patterns {
		matches, err := filepath.Glob(filepath.Join(root, pattern))
		if err != nil {
			return nil, fmt.Errorf("collect files: pattern %q: %w", pattern, err)
		}
		for _, match := range matches {
			info, err := os.Stat(match)
			if err != nil || info.IsDir() {
				continue
			}
			rel, err := filepath.Rel(root, match)
			if err != nil {
				return nil, fmt.Errorf("collect files: %w", err)
			}
			seen[filepath.ToSlash(rel)] = struct{}{}
		}
	}
	files := make([]string, 0, len(seen))
	for f := range seen {
		files = append(files, f)
	}
	sort.Strings(files)
	return files, nil
}

func hashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}
