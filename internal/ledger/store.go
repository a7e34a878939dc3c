package ledger

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/sealgate/sealgate/internal/canon"
	"github.com/sealgate/sealgate/internal/merkle"
)

//go:embed schema.sql
var schemaSQL string

// Store provides durable, insert-only storage for ledger entries.
// Uses SQLite with WAL mode for concurrent read access.
type Store struct {
	db *sql.DB
}

// OpenStore creates or opens a SQLite database at the given path.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// This function is idempotent - safe to call multiple times.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// insertEntry appends one entry row. Called only by Ledger.Append while the
// ledger lock is held, so positions are always contiguous.
func (s *Store) insertEntry(ctx context.Context, position int, entry Entry, digest canon.Digest) error {
	metadata := entry.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	metaJSON, err := canon.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("insert entry: marshal metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entries
		(position, entry_id, entry_type, timestamp, author_id, content_digest, metadata, previous_digest, signature, entry_digest)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		position,
		entry.EntryID,
		entry.EntryType,
		entry.Timestamp,
		entry.AuthorID,
		entry.ContentDigest.String(),
		string(metaJSON),
		entry.PreviousDigest.String(),
		entry.Signature,
		digest.String(),
	)
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	return nil
}

// Load replays all persisted entries in append order into a fresh Ledger
// backed by this store. Every row's digest is recomputed and compared to
// the digest recorded at append time; any mismatch or broken linkage
// returns ErrIntegrity. Corruption is detected, never repaired.
func Load(ctx context.Context, store *Store) (*Ledger, error) {
	rows, err := store.db.QueryContext(ctx, `
		SELECT position, entry_id, entry_type, timestamp, author_id, content_digest, metadata, previous_digest, signature, entry_digest
		FROM entries
		ORDER BY position ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	defer rows.Close()

	l := New(store)

	for rows.Next() {
		var (
			position                                int
			contentDigest, prevDigest, storedDigest string
			metaJSON                                string
			entry                                   Entry
		)
		if err := rows.Scan(
			&position,
			&entry.EntryID,
			&entry.EntryType,
			&entry.Timestamp,
			&entry.AuthorID,
			&contentDigest,
			&metaJSON,
			&prevDigest,
			&entry.Signature,
			&storedDigest,
		); err != nil {
			return nil, fmt.Errorf("load ledger: scan: %w", err)
		}

		if entry.ContentDigest, err = canon.ParseDigest(contentDigest); err != nil {
			return nil, fmt.Errorf("load ledger: entry %s: %w", entry.EntryID, err)
		}
		if entry.PreviousDigest, err = canon.ParseDigest(prevDigest); err != nil {
			return nil, fmt.Errorf("load ledger: entry %s: %w", entry.EntryID, err)
		}
		if err := json.Unmarshal([]byte(metaJSON), &entry.Metadata); err != nil {
			return nil, fmt.Errorf("load ledger: entry %s metadata: %w", entry.EntryID, err)
		}

		if position != len(l.entries) {
			return nil, fmt.Errorf("%w: entry %s at position %d, expected %d",
				ErrIntegrity, entry.EntryID, position, len(l.entries))
		}

		recomputed, err := entry.Digest()
		if err != nil {
			return nil, fmt.Errorf("load ledger: entry %s: %w", entry.EntryID, err)
		}
		stored, err := canon.ParseDigest(storedDigest)
		if err != nil {
			return nil, fmt.Errorf("load ledger: entry %s: %w", entry.EntryID, err)
		}
		if !recomputed.Equal(stored) {
			return nil, fmt.Errorf("%w: entry %s digest mismatch at position %d",
				ErrIntegrity, entry.EntryID, position)
		}
		if position == 0 && !entry.PreviousDigest.IsZero() {
			return nil, fmt.Errorf("%w: first entry %s carries a previous digest",
				ErrIntegrity, entry.EntryID)
		}
		if position > 0 && !entry.PreviousDigest.Equal(l.digests[position-1]) {
			return nil, fmt.Errorf("%w: broken chain linkage at position %d (entry %s)",
				ErrIntegrity, position, entry.EntryID)
		}

		l.entries = append(l.entries, entry)
		l.digests = append(l.digests, recomputed)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}

	l.tree = merkle.Build(l.digests)
	return l, nil
}
