// Package identity implements the OHASH authorship chain: a plain hash
// chain (no tree) binding an identity to a sequence of artifacts. Each
// record embeds the digest of its predecessor, so retroactive edits are
// detectable without any external index.
package identity

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/sealgate/sealgate/internal/canon"
)

// Record is one link of an authorship chain.
type Record struct {
	IdentityID           string            `json:"identity_id"`
	ArtifactDigest       canon.Digest      `json:"artifact_digest"`
	Timestamp            string            `json:"timestamp"` // RFC 3339
	Metadata             map[string]string `json:"metadata,omitempty"`
	PreviousRecordDigest canon.Digest      `json:"previous_record_digest"` // zero for first
	Digest               canon.Digest      `json:"digest"`                 // over canonical preimage
	Signature            string            `json:"signature,omitempty"`    // hex ed25519, optional
}

// preimage is the canonical form the record digest and signature cover.
// The digest and signature fields themselves are excluded.
func (r Record) preimage() (map[string]any, error) {
	metadata := r.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	return map[string]any{
		"identity_id":            r.IdentityID,
		"artifact_digest":        r.ArtifactDigest.String(),
		"timestamp":              r.Timestamp,
		"metadata":               metadata,
		"previous_record_digest": r.PreviousRecordDigest.String(),
	}, nil
}

// ComputeDigest recomputes the record's expected digest from its fields.
func (r Record) ComputeDigest() (canon.Digest, error) {
	obj, err := r.preimage()
	if err != nil {
		return canon.Digest{}, err
	}
	d, err := canon.SumObject(canon.DomainRecord, obj)
	if err != nil {
		return canon.Digest{}, fmt.Errorf("identity record: %w", err)
	}
	return d, nil
}

// canonicalBytes returns the bytes a signature covers.
func (r Record) canonicalBytes() ([]byte, error) {
	obj, err := r.preimage()
	if err != nil {
		return nil, err
	}
	data, err := canon.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("identity record: %w", err)
	}
	return data, nil
}

// Chain accumulates an ordered authorship chain for one or more identities.
// Not safe for concurrent use; each chain belongs to a single caller.
type Chain struct {
	records []Record
	now     func() time.Time
}

// NewChain creates an empty chain. nowFn may be nil (wall clock).
func NewChain(nowFn func() time.Time) *Chain {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Chain{now: nowFn}
}

// Records returns a copy of the chain's records.
func (c *Chain) Records() []Record {
	out := make([]Record, len(c.records))
	copy(out, c.records)
	return out
}

// Append creates the next record, linking it to the chain tail and
// computing its digest over the canonical form.
func (c *Chain) Append(identityID string, artifactDigest canon.Digest, metadata map[string]string) (Record, error) {
	if identityID == "" {
		return Record{}, fmt.Errorf("identity append: empty identity_id")
	}

	record := Record{
		IdentityID:     identityID,
		ArtifactDigest: artifactDigest,
		Timestamp:      c.now().UTC().Format(time.RFC3339Nano),
		Metadata:       metadata,
	}
	if n := len(c.records); n > 0 {
		record.PreviousRecordDigest = c.records[n-1].Digest
	}

	digest, err := record.ComputeDigest()
	if err != nil {
		return Record{}, err
	}
	record.Digest = digest

	c.records = append(c.records, record)
	return record, nil
}

// FromArtifacts builds a complete chain binding identityID to the given
// artifact digests in order.
func FromArtifacts(identityID string, artifacts []canon.Digest, nowFn func() time.Time) (*Chain, error) {
	chain := NewChain(nowFn)
	for i, artifact := range artifacts {
		metadata := map[string]string{
			"artifact_index":  fmt.Sprintf("%d", i),
			"total_artifacts": fmt.Sprintf("%d", len(artifacts)),
		}
		if _, err := chain.Append(identityID, artifact, metadata); err != nil {
			return nil, err
		}
	}
	return chain, nil
}

// BreakError names the earliest record at which a chain stops verifying.
// Records before Index are unaffected.
type BreakError struct {
	Index  int
	Reason string
}

func (e *BreakError) Error() string {
	return fmt.Sprintf("identity chain broken at record %d: %s", e.Index, e.Reason)
}

// VerifyOptions controls chain verification policy.
type VerifyOptions struct {
	// RequireSignatures makes an absent or invalid signature a chain
	// failure. Off by default: signature absence alone never invalidates
	// a chain unless policy demands it.
	RequireSignatures bool
	PublicKey         ed25519.PublicKey
}

// VerifyChain recomputes every record's digest and checks linkage between
// consecutive records. A nil error means the whole chain verifies. Any
// mismatch returns a *BreakError for the earliest failing index.
func VerifyChain(records []Record, opts VerifyOptions) error {
	for i, record := range records {
		expected, err := record.ComputeDigest()
		if err != nil {
			return &BreakError{Index: i, Reason: err.Error()}
		}
		if !expected.Equal(record.Digest) {
			return &BreakError{Index: i, Reason: "stored digest does not match recomputed digest"}
		}
		if i == 0 {
			if !record.PreviousRecordDigest.IsZero() {
				return &BreakError{Index: i, Reason: "first record carries a previous digest"}
			}
		} else if !record.PreviousRecordDigest.Equal(records[i-1].Digest) {
			return &BreakError{Index: i, Reason: "previous_record_digest does not match prior record"}
		}

		if opts.RequireSignatures {
			if record.Signature == "" {
				return &BreakError{Index: i, Reason: "signature required but absent"}
			}
			ok, err := VerifySignature(opts.PublicKey, record)
			if err != nil || !ok {
				return &BreakError{Index: i, Reason: "signature does not verify"}
			}
		}
	}
	return nil
}

// Sign attaches an ed25519 signature over the record's canonical bytes.
func Sign(priv ed25519.PrivateKey, record *Record) error {
	data, err := record.canonicalBytes()
	if err != nil {
		return err
	}
	record.Signature = hex.EncodeToString(ed25519.Sign(priv, data))
	return nil
}

// VerifySignature checks the record's signature against pub.
func VerifySignature(pub ed25519.PublicKey, record Record) (bool, error) {
	if record.Signature == "" {
		return false, fmt.Errorf("identity record has no signature")
	}
	sig, err := hex.DecodeString(record.Signature)
	if err != nil {
		return false, fmt.Errorf("malformed signature: %w", err)
	}
	data, err := record.canonicalBytes()
	if err != nil {
		return false, err
	}
	return ed25519.Verify(pub, data, sig), nil
}
