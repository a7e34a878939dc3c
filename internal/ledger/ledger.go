// Package ledger implements the append-only, Merkle-verifiable evidence
// ledger. The ledger exclusively owns entry storage and the Merkle tree
// derived from it; callers never set chain linkage themselves.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sealgate/sealgate/internal/canon"
	"github.com/sealgate/sealgate/internal/merkle"
)

// ErrIndexOutOfRange is returned for an entry index outside [0, Len).
var ErrIndexOutOfRange = errors.New("ledger: entry index out of range")

// ErrIntegrity signals detected tampering or corruption. It is distinct
// from ordinary failures: the ledger never repairs it, and dependent
// pipeline runs must halt.
var ErrIntegrity = errors.New("ledger: integrity compromised")

// ErrPreviousDigestSet is returned when a caller supplies a previous
// digest. Append is the only place linkage may be established.
var ErrPreviousDigestSet = errors.New("ledger: previous_digest must not be set by callers")

// Ledger is an append-only sequence of hash-chained entries indexed by a
// Merkle tree. Appends are serialized; reads may proceed concurrently with
// each other but never overlap an in-progress append.
type Ledger struct {
	mu      sync.RWMutex
	entries []Entry
	digests []canon.Digest // digest of entries[i], cached in append order
	tree    *merkle.Tree
	store   *Store // optional durable backing, insert-only
}

// New creates an empty in-memory ledger. Pass a non-nil store to persist
// every append durably.
func New(store *Store) *Ledger {
	return &Ledger{tree: merkle.Build(nil), store: store}
}

// Append sets the entry's previous digest from the current tail (zero for
// the first entry), stores it, and extends the Merkle tree. Returns the
// entry ID. The caller must leave PreviousDigest zero.
func (l *Ledger) Append(ctx context.Context, entry Entry) (string, error) {
	if !entry.PreviousDigest.IsZero() {
		return "", ErrPreviousDigestSet
	}
	if entry.EntryID == "" {
		return "", fmt.Errorf("ledger append: empty entry_id")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if n := len(l.digests); n > 0 {
		entry.PreviousDigest = l.digests[n-1]
	}

	digest, err := entry.Digest()
	if err != nil {
		return "", fmt.Errorf("ledger append: %w", err)
	}

	if l.store != nil {
		if err := l.store.insertEntry(ctx, len(l.entries), entry, digest); err != nil {
			return "", fmt.Errorf("ledger append: %w", err)
		}
	}

	l.entries = append(l.entries, entry)
	l.digests = append(l.digests, digest)
	l.tree = merkle.Build(l.digests)

	return entry.EntryID, nil
}

// Len returns the number of entries.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Entry returns a copy of the entry at index.
func (l *Ledger) Entry(index int) (Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if index < 0 || index >= len(l.entries) {
		return Entry{}, fmt.Errorf("%w: index %d, entries %d", ErrIndexOutOfRange, index, len(l.entries))
	}
	return l.entries[index], nil
}

// Root returns the current Merkle root, or the empty sentinel for an empty
// ledger.
func (l *Ledger) Root() canon.Digest {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.tree.Root()
}

// ProofFor returns the Merkle inclusion proof for the entry at index.
func (l *Ledger) ProofFor(index int) (merkle.Proof, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if index < 0 || index >= len(l.entries) {
		return nil, fmt.Errorf("%w: index %d, entries %d", ErrIndexOutOfRange, index, len(l.entries))
	}
	return l.tree.Proof(index)
}

// VerifyEntry reports whether the entry at index still matches the leaf the
// tree was built from AND its proof recomputes the current root.
func (l *Ledger) VerifyEntry(index int) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.verifyEntryLocked(index)
}

func (l *Ledger) verifyEntryLocked(index int) bool {
	if index < 0 || index >= len(l.entries) {
		return false
	}
	digest, err := l.entries[index].Digest()
	if err != nil {
		return false
	}
	if !digest.Equal(l.digests[index]) {
		return false
	}
	proof, err := l.tree.Proof(index)
	if err != nil {
		return false
	}
	return merkle.Verify(digest, proof, l.tree.Root())
}

// VerifyChain reports whether every entry individually verifies against the
// Merkle root AND every previous_digest equals the prior entry's digest.
// An empty ledger verifies vacuously.
func (l *Ledger) VerifyChain() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for i := range l.entries {
		if !l.verifyEntryLocked(i) {
			return false
		}
		if i > 0 && !l.entries[i].PreviousDigest.Equal(l.digests[i-1]) {
			return false
		}
	}
	return true
}

// Receipt bundles an entry with everything needed to verify it offline.
type Receipt struct {
	ReceiptID     string        `json:"receipt_id"`
	Entry         Entry         `json:"entry"`
	EntryDigest   canon.Digest  `json:"entry_digest"`
	MerkleProof   merkle.Proof  `json:"merkle_proof"`
	MerkleRoot    canon.Digest  `json:"merkle_root"`
	ChainPosition ChainPosition `json:"chain_position"`
	IssuedAt      string        `json:"issued_at"`
	ProofValid    bool          `json:"proof_valid"`
	ChainValid    bool          `json:"chain_valid"`
}

// ChainPosition locates an entry within the ledger.
type ChainPosition struct {
	Index        int `json:"index"`
	TotalEntries int `json:"total_entries"`
}

// Receipt creates an evidence receipt for the entry at index, with freshly
// computed verification results.
func (l *Ledger) Receipt(index int) (*Receipt, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if index < 0 || index >= len(l.entries) {
		return nil, fmt.Errorf("%w: index %d, entries %d", ErrIndexOutOfRange, index, len(l.entries))
	}

	entry := l.entries[index]
	proof, err := l.tree.Proof(index)
	if err != nil {
		return nil, fmt.Errorf("receipt: %w", err)
	}

	issuedAt := time.Now().UTC().Format(time.RFC3339Nano)
	receiptID := canon.Sum(canon.DomainReceipt, []byte(entry.EntryID+":"+issuedAt))

	chainValid := true
	for i := range l.entries {
		if !l.verifyEntryLocked(i) || (i > 0 && !l.entries[i].PreviousDigest.Equal(l.digests[i-1])) {
			chainValid = false
			break
		}
	}

	return &Receipt{
		ReceiptID:   receiptID.Hex,
		Entry:       entry,
		EntryDigest: l.digests[index],
		MerkleProof: proof,
		MerkleRoot:  l.tree.Root(),
		ChainPosition: ChainPosition{
			Index:        index,
			TotalEntries: len(l.entries),
		},
		IssuedAt:   issuedAt,
		ProofValid: l.verifyEntryLocked(index),
		ChainValid: chainValid,
	}, nil
}

// FindEntries returns copies of every entry whose fields or metadata match
// all the given criteria. Field keys: entry_id, entry_type, author_id;
// anything else matches against metadata.
func (l *Ledger) FindEntries(criteria map[string]string) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var results []Entry
	for _, entry := range l.entries {
		if entryMatches(entry, criteria) {
			results = append(results, entry)
		}
	}
	return results
}

func entryMatches(entry Entry, criteria map[string]string) bool {
	for key, want := range criteria {
		var got string
		switch key {
		case "entry_id":
			got = entry.EntryID
		case "entry_type":
			got = entry.EntryType
		case "author_id":
			got = entry.AuthorID
		default:
			got = entry.Metadata[key]
		}
		if got != want {
			return false
		}
	}
	return true
}

// Export is a point-in-time JSON-serializable snapshot of the ledger.
type Export struct {
	Entries      []Entry      `json:"entries"`
	MerkleRoot   canon.Digest `json:"merkle_root"`
	TotalEntries int          `json:"total_entries"`
	ExportedAt   string       `json:"exported_at"`
}

// Export snapshots the whole ledger for audit hand-off.
func (l *Ledger) Export() *Export {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entries := make([]Entry, len(l.entries))
	copy(entries, l.entries)
	return &Export{
		Entries:      entries,
		MerkleRoot:   l.tree.Root(),
		TotalEntries: len(entries),
		ExportedAt:   time.Now().UTC().Format(time.RFC3339Nano),
	}
}
