package ledger

import (
	"fmt"

	"github.com/sealgate/sealgate/internal/canon"
)

// Entry types recorded in the evidence ledger.
const (
	TypePipelineRun = "pipeline_run"
	TypeArtifact    = "artifact"
	TypeReview      = "review"
	TypeDecision    = "decision"
)

// Entry is one immutable record in the evidence ledger. Entries are never
// mutated once appended - corrections are new entries.
type Entry struct {
	EntryID        string            `json:"entry_id"`
	EntryType      string            `json:"entry_type"`
	Timestamp      string            `json:"timestamp"` // RFC 3339
	AuthorID       string            `json:"author_id"`
	ContentDigest  canon.Digest      `json:"content_digest"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	PreviousDigest canon.Digest      `json:"previous_digest"` // zero for the first entry
	Signature      string            `json:"signature,omitempty"`
}

// Digest computes the entry's content-addressed digest over its canonical
// form. All fields participate, previous digest and signature included, so
// any retroactive edit is detectable.
func (e Entry) Digest() (canon.Digest, error) {
	obj := map[string]any{
		"entry_id":        e.EntryID,
		"entry_type":      e.EntryType,
		"timestamp":       e.Timestamp,
		"author_id":       e.AuthorID,
		"content_digest":  e.ContentDigest.String(),
		"previous_digest": e.PreviousDigest.String(),
		"signature":       e.Signature,
		"metadata":        e.Metadata,
	}
	if e.Metadata == nil {
		obj["metadata"] = map[string]string{}
	}
	d, err := canon.SumObject(canon.DomainEntry, obj)
	if err != nil {
		return canon.Digest{}, fmt.Errorf("entry %s: %w", e.EntryID, err)
	}
	return d, nil
}
