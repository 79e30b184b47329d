// Package blobindex maintains a persistent SQLite index of blob metadata
// (spec.md §4.3): size, compression, and access recency, used both for fast
// existence checks without hitting the blob store and for computing eviction
// candidates under a size budget.
package blobindex

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"time"

	_ "modernc.org/sqlite"

	"github.com/trybake/bake/internal/blobstore"
	"github.com/trybake/bake/internal/compress"
	"github.com/trybake/bake/internal/hash"
)

const schema = `
CREATE TABLE IF NOT EXISTS blobs (
	algo          TEXT NOT NULL,
	digest        TEXT NOT NULL,
	size          INTEGER NOT NULL,
	compression   TEXT NOT NULL,
	last_accessed INTEGER NOT NULL,
	access_count  INTEGER NOT NULL DEFAULT 1,
	created_at    INTEGER NOT NULL,
	PRIMARY KEY (algo, digest)
);
CREATE INDEX IF NOT EXISTS idx_blobs_last_accessed ON blobs(last_accessed);
`

// Entry is one row of blob metadata.
type Entry struct {
	Hash         hash.BlobHash
	Size         int64
	Compression  compress.Format
	LastAccessed time.Time
	AccessCount  int64
	CreatedAt    time.Time
}

// Index is a SQLite-backed blob metadata store. It opens in WAL mode so
// concurrent Bake processes sharing a cache directory don't block each
// other on reads during a write.
type Index struct {
	db *sql.DB
}

// Open opens or creates the index database at path.
func Open(path string) (*Index, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)")
	if err != nil {
		return nil, fmt.Errorf("blobindex: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is not safe for concurrent writers from one process
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("blobindex: create schema: %w", err)
	}
	return &Index{db: db}, nil
}

// Close releases the underlying database handle.
func (idx *Index) Close() error {
	return idx.db.Close()
}

// Record inserts or updates metadata for a blob that was just stored.
func (idx *Index) Record(ctx context.Context, h hash.BlobHash, size int64, comp compress.Format, now time.Time) error {
	_, err := idx.db.ExecContext(ctx, `
		INSERT INTO blobs (algo, digest, size, compression, last_accessed, access_count, created_at)
		VALUES (?, ?, ?, ?, ?, 1, ?)
		ON CONFLICT(algo, digest) DO UPDATE SET
			size = excluded.size,
			compression = excluded.compression
	`, string(h.Algo), h.String(), size, string(comp), now.Unix(), now.Unix())
	if err != nil {
		return fmt.Errorf("blobindex: record %s: %w", h, err)
	}
	return nil
}

// Touch bumps the access recency and count for h, used on every cache hit so
// eviction can favor recently-used blobs (spec.md §4.3 LRU policy).
func (idx *Index) Touch(ctx context.Context, h hash.BlobHash, now time.Time) error {
	res, err := idx.db.ExecContext(ctx, `
		UPDATE blobs SET last_accessed = ?, access_count = access_count + 1
		WHERE algo = ? AND digest = ?
	`, now.Unix(), string(h.Algo), h.String())
	if err != nil {
		return fmt.Errorf("blobindex: touch %s: %w", h, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("blobindex: touch %s: %w", h, err)
	}
	if n == 0 {
		return fmt.Errorf("blobindex: touch %s: no such entry", h)
	}
	return nil
}

// Get returns the indexed entry for h, or ok=false if absent.
func (idx *Index) Get(ctx context.Context, h hash.BlobHash) (Entry, bool, error) {
	row := idx.db.QueryRowContext(ctx, `
		SELECT size, compression, last_accessed, access_count, created_at
		FROM blobs WHERE algo = ? AND digest = ?
	`, string(h.Algo), h.String())
	var e Entry
	var comp string
	var lastAccessed, createdAt int64
	err := row.Scan(&e.Size, &comp, &lastAccessed, &e.AccessCount, &createdAt)
	if err == sql.ErrNoRows {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("blobindex: get %s: %w", h, err)
	}
	e.Hash = h
	e.Compression = compress.Format(comp)
	e.LastAccessed = time.Unix(lastAccessed, 0)
	e.CreatedAt = time.Unix(createdAt, 0)
	return e, true, nil
}

// Remove deletes the entry for h. Removing an absent entry is not an error.
func (idx *Index) Remove(ctx context.Context, h hash.BlobHash) error {
	_, err := idx.db.ExecContext(ctx, `DELETE FROM blobs WHERE algo = ? AND digest = ?`, string(h.Algo), h.String())
	if err != nil {
		return fmt.Errorf("blobindex: remove %s: %w", h, err)
	}
	return nil
}

// TotalSize returns the sum of all indexed blob sizes.
func (idx *Index) TotalSize(ctx context.Context) (int64, error) {
	var total sql.NullInt64
	if err := idx.db.QueryRowContext(ctx, `SELECT SUM(size) FROM blobs`).Scan(&total); err != nil {
		return 0, fmt.Errorf("blobindex: total size: %w", err)
	}
	return total.Int64, nil
}

// EvictionPolicy selects the ordering EvictionCandidates walks when picking
// entries to free (spec.md §4.3).
type EvictionPolicy string

const (
	// LRU evicts the least-recently-accessed entries first.
	LRU EvictionPolicy = "lru"
	// LargestFirst evicts the biggest entries first, freeing the target
	// byte count with the fewest blobs removed.
	LargestFirst EvictionPolicy = "largest_first"
)

// EvictionCandidates returns, ordered per policy, enough entries to free at
// least targetBytes if all were removed. It stops as soon as the running
// total meets the target, so callers typically evict a prefix of the
// returned slice rather than all of it. An empty or unrecognized policy
// defaults to LRU.
func (idx *Index) EvictionCandidates(ctx context.Context, targetBytes int64, policy EvictionPolicy) ([]Entry, error) {
	order := "last_accessed ASC"
	if policy == LargestFirst {
		order = "size DESC"
	}
	rows, err := idx.db.QueryContext(ctx, `
		SELECT algo, digest, size, compression, last_accessed, access_count, created_at
		FROM blobs ORDER BY `+order+`
	`)
	if err != nil {
		return nil, fmt.Errorf("blobindex: eviction candidates: %w", err)
	}
	defer rows.Close()

	var out []Entry
	var freed int64
	for rows.Next() && freed < targetBytes {
		var algo, digest, comp string
		var e Entry
		var lastAccessed, createdAt int64
		if err := rows.Scan(&algo, &digest, &e.Size, &comp, &lastAccessed, &e.AccessCount, &createdAt); err != nil {
			return nil, fmt.Errorf("blobindex: eviction candidates: %w", err)
		}
		h, err := hash.Parse(digest)
		if err != nil {
			continue
		}
		e.Hash = h
		e.Compression = compress.Format(comp)
		e.LastAccessed = time.Unix(lastAccessed, 0)
		e.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, e)
		freed += e.Size
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("blobindex: eviction candidates: %w", err)
	}
	return out, nil
}

// Rebuild repopulates the index from a blob store's List, used when the
// index file is missing or suspected corrupt. Sizes are recovered by
// reading each blob through the store; compression is not re-sniffed and
// every entry is recorded as compress.FormatNone.
func (idx *Index) Rebuild(ctx context.Context, store blobstore.Store, now time.Time) error {
	hashes, err := store.List(ctx)
	if err != nil {
		return fmt.Errorf("blobindex: rebuild: list store: %w", err)
	}
	if _, err := idx.db.ExecContext(ctx, `DELETE FROM blobs`); err != nil {
		return fmt.Errorf("blobindex: rebuild: clear table: %w", err)
	}
	for _, h := range hashes {
		rc, err := store.Get(ctx, h)
		if err != nil {
			continue
		}
		size, err := io.Copy(io.Discard, rc)
		rc.Close()
		if err != nil {
			continue
		}
		if err := idx.Record(ctx, h, size, compress.FormatNone, now); err != nil {
			return err
		}
	}
	return nil
}
