// Package provenance builds the build-provenance record for a run and
// enforces the local publication policy over it. Validation names the first
// violated rule so a blocked run is attributable to a single check.
package provenance

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sealgate/sealgate/internal/manifest"
)

// SLSALevel is the provenance level this builder produces.
const SLSALevel = 2

// Material is one input the build consumed.
type Material struct {
	URI    string `json:"uri"`
	SHA256 string `json:"sha256"`
}

// Provenance describes how a manifest's artifacts were produced.
type Provenance struct {
	SLSALevel    int        `json:"slsa_level"`
	GeneratedAt  string     `json:"generated_at"`
	ManifestHash string     `json:"manifest_hash"`
	SBOM         string     `json:"sbom"`
	SBOMHash     string     `json:"sbom_hash"`
	Materials    []Material `json:"materials"`
}

// Build derives a provenance record from the manifest and the generated
// SBOM file. Every manifest entry becomes a material.
func Build(m *manifest.Manifest, sbomPath string, now func() time.Time) (*Provenance, error) {
	if now == nil {
		now = time.Now
	}

	sbomHash, err := hashFile(sbomPath)
	if err != nil {
		return nil, fmt.Errorf("provenance: sbom: %w", err)
	}

	materials := make([]Material, len(m.Entries))
	for i, e := range m.Entries {
		materials[i] = Material{URI: e.Path, SHA256: e.SHA256}
	}

	return &Provenance{
		SLSALevel:    SLSALevel,
		GeneratedAt:  now().UTC().Format(time.RFC3339Nano),
		ManifestHash: m.RootHash,
		SBOM:         filepath.Base(sbomPath),
		SBOMHash:     sbomHash,
		Materials:    materials,
	}, nil
}

// PolicyError names the violated rule.
type PolicyError struct {
	Rule   string
	Detail string
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("provenance policy: rule %q violated: %s", e.Rule, e.Detail)
}

// Validate applies the local publication policy and returns the first
// violated rule, or nil when all pass. Rules are checked in a fixed order:
// signature, slsa_level, materials.
func Validate(m *manifest.Manifest, p *Provenance) error {
	if m == nil || m.Signature == "" {
		return &PolicyError{Rule: "manifest_signed", Detail: "manifest has no signature"}
	}
	if p == nil || p.SLSALevel < SLSALevel {
		return &PolicyError{Rule: "slsa_level", Detail: fmt.Sprintf("slsa_level must be >= %d", SLSALevel)}
	}
	if len(p.Materials) == 0 {
		return &PolicyError{Rule: "materials_present", Detail: "provenance lists no materials"}
	}
	return nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
