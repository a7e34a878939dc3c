package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// AlgorithmSHA256 is the default digest algorithm. The algorithm name is
// stored alongside every digest so verification stays algorithm-aware when
// a future migration adds another algorithm.
const AlgorithmSHA256 = "sha256"

// Domain prefixes for content-addressed identity. The version suffix
// enables future algorithm or layout migration without ambiguity.
const (
	DomainEntry    = "sealgate/entry/v1"
	DomainRecord   = "sealgate/record/v1"
	DomainNode     = "sealgate/node/v1"
	DomainManifest = "sealgate/manifest/v1"
	DomainRun      = "sealgate/run/v1"
	DomainTrace    = "sealgate/trace/v1"
	DomainReceipt  = "sealgate/receipt/v1"
)

// Digest is a domain-separated content digest. Zero value means "no digest"
// (e.g. the previous-digest field of the first chain entry).
type Digest struct {
	Algorithm string `json:"algorithm"`
	Hex       string `json:"hex"`
}

// Sum computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte separator prevents domain/data boundary ambiguity.
func Sum(domain string, data []byte) Digest {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return Digest{Algorithm: AlgorithmSHA256, Hex: hex.EncodeToString(h.Sum(nil))}
}

// SumObject canonically marshals v and digests the result under domain.
// Returns an error only when v cannot be canonically marshaled.
func SumObject(domain string, v any) (Digest, error) {
	data, err := Marshal(v)
	if err != nil {
		return Digest{}, fmt.Errorf("canonical digest: %w", err)
	}
	return Sum(domain, data), nil
}

// IsZero reports whether d holds no digest.
func (d Digest) IsZero() bool {
	return d.Algorithm == "" && d.Hex == ""
}

// Equal reports whether two digests are identical, algorithm included.
func (d Digest) Equal(other Digest) bool {
	return d.Algorithm == other.Algorithm && d.Hex == other.Hex
}

// String renders the digest as algorithm:hex, or "" for the zero digest.
func (d Digest) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Algorithm + ":" + d.Hex
}

// Bytes decodes the hex payload of the digest.
func (d Digest) Bytes() ([]byte, error) {
	b, err := hex.DecodeString(d.Hex)
	if err != nil {
		return nil, fmt.Errorf("digest bytes: %w", err)
	}
	return b, nil
}

// ParseDigest parses the algorithm:hex form produced by String.
// The empty string parses to the zero digest.
func ParseDigest(s string) (Digest, error) {
	if s == "" {
		return Digest{}, nil
	}
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			d := Digest{Algorithm: s[:i], Hex: s[i+1:]}
			if d.Algorithm == "" || d.Hex == "" {
				return Digest{}, fmt.Errorf("malformed digest %q", s)
			}
			if _, err := hex.DecodeString(d.Hex); err != nil {
				return Digest{}, fmt.Errorf("malformed digest %q: %w", s, err)
			}
			return d, nil
		}
	}
	return Digest{}, fmt.Errorf("malformed digest %q: missing algorithm", s)
}
