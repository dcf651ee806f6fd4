package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dshills/coderag/pkg/types"
)

// BackendSQLite names the embedded backend
const BackendSQLite = "sqlite"

// SQLiteStore implements Store on a single SQLite database file
type SQLiteStore struct {
	db *sql.DB
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// One connection: a single writer, and :memory: stays one database
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if dbPath != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// OpenSQLite opens or creates the store at dbPath and applies migrations.
// ":memory:" gives a private in-memory store.
func OpenSQLite(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open database: %v", ErrUnavailable, err)
	}

	if err := ApplyMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// withTx runs fn in a transaction, committing only if fn succeeds
func (s *SQLiteStore) withTx(ctx context.Context, fn func(q querier) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) Upsert(ctx context.Context, entries []types.IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}
	if _, err := validateEntries(entries); err != nil {
		return err
	}
	return s.withTx(ctx, func(q querier) error {
		written := make(map[string]bool)
		for i := range entries {
			e := &entries[i]
			if !written[e.Chunk.Path] {
				if err := upsertFile(ctx, q, e); err != nil {
					return err
				}
				written[e.Chunk.Path] = true
			}
			if err := insertEntry(ctx, q, e); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReplacePath deletes and re-inserts the entries of path in one transaction
func (s *SQLiteStore) ReplacePath(ctx context.Context, path string, entries []types.IndexEntry) error {
	if _, err := validateEntries(entries); err != nil {
		return err
	}
	for i := range entries {
		if entries[i].Chunk.Path != path {
			return fmt.Errorf("entry %s belongs to %s, not %s", entries[i].ID, entries[i].Chunk.Path, path)
		}
	}

	return s.withTx(ctx, func(q querier) error {
		if _, err := q.ExecContext(ctx, "DELETE FROM entries WHERE path = ?", path); err != nil {
			return fmt.Errorf("failed to delete entries of %s: %w", path, err)
		}
		if len(entries) == 0 {
			_, err := q.ExecContext(ctx, "DELETE FROM files WHERE path = ?", path)
			return err
		}
		if err := upsertFile(ctx, q, &entries[0]); err != nil {
			return err
		}
		for i := range entries {
			if err := insertEntry(ctx, q, &entries[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLiteStore) DeleteByPath(ctx context.Context, path string) error {
	return s.withTx(ctx, func(q querier) error {
		if _, err := q.ExecContext(ctx, "DELETE FROM entries WHERE path = ?", path); err != nil {
			return err
		}
		_, err := q.ExecContext(ctx, "DELETE FROM files WHERE path = ?", path)
		return err
	})
}

func upsertFile(ctx context.Context, q querier, e *types.IndexEntry) error {
	symbols, err := json.Marshal(nonNil(e.Tags.Symbols))
	if err != nil {
		return err
	}
	roles, err := json.Marshal(nonNil(e.Tags.Roles))
	if err != nil {
		return err
	}

	query := `
		INSERT INTO files (path, file_hash, language, mod_time, entry_point, config, test, symbols, roles, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			file_hash = excluded.file_hash,
			language = excluded.language,
			mod_time = excluded.mod_time,
			entry_point = excluded.entry_point,
			config = excluded.config,
			test = excluded.test,
			symbols = excluded.symbols,
			roles = excluded.roles,
			indexed_at = excluded.indexed_at
	`
	_, err = q.ExecContext(ctx, query,
		e.Chunk.Path, e.FileHash, string(e.Tags.Language), unixNano(e.ModTime),
		e.Tags.EntryPoint, e.Tags.Config, e.Tags.Test, string(symbols), string(roles),
		time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to upsert file %s: %w", e.Chunk.Path, err)
	}
	return nil
}

func insertEntry(ctx context.Context, q querier, e *types.IndexEntry) error {
	blob, err := encodeVector(e.Vector)
	if err != nil {
		return fmt.Errorf("serialize vector of %s: %w", e.ID, err)
	}

	// REPLACE clears both a same-id row and a stale row at the same (path, seq)
	query := `
		INSERT OR REPLACE INTO entries (
			id, path, seq, start_line, end_line, start_offset, end_offset,
			start_byte, end_byte, overlap, content, vector, dimension, model
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	c := &e.Chunk
	_, err = q.ExecContext(ctx, query,
		e.ID, c.Path, c.Seq, c.StartLine, c.EndLine, c.StartOffset, c.EndOffset,
		c.StartByte, c.EndByte, c.Overlap, c.Content, blob, len(e.Vector), e.Model)
	if err != nil {
		return fmt.Errorf("failed to insert entry %s: %w", e.ID, err)
	}
	return nil
}

const entryColumns = `
	e.id, e.path, e.seq, e.start_line, e.end_line, e.start_offset, e.end_offset,
	e.start_byte, e.end_byte, e.overlap, e.content, e.model,
	f.file_hash, f.language, f.mod_time, f.entry_point, f.config, f.test, f.symbols, f.roles`

// scanEntry reads entryColumns plus one trailing column into extra
func scanEntry(rows *sql.Rows, extra any) (types.IndexEntry, error) {
	var e types.IndexEntry
	var language, symbols, roles string
	var modTime int64
	c := &e.Chunk
	err := rows.Scan(
		&e.ID, &c.Path, &c.Seq, &c.StartLine, &c.EndLine, &c.StartOffset, &c.EndOffset,
		&c.StartByte, &c.EndByte, &c.Overlap, &c.Content, &e.Model,
		&e.FileHash, &language, &modTime, &e.Tags.EntryPoint, &e.Tags.Config, &e.Tags.Test,
		&symbols, &roles, extra,
	)
	if err != nil {
		return e, fmt.Errorf("failed to scan entry: %w", err)
	}
	e.Tags.Language = types.Language(language)
	if modTime != 0 {
		e.ModTime = time.Unix(0, modTime).UTC()
	}
	if err := json.Unmarshal([]byte(symbols), &e.Tags.Symbols); err != nil {
		return e, fmt.Errorf("decode symbols of %s: %w", c.Path, err)
	}
	if err := json.Unmarshal([]byte(roles), &e.Tags.Roles); err != nil {
		return e, fmt.Errorf("decode roles of %s: %w", c.Path, err)
	}
	if len(e.Tags.Symbols) == 0 {
		e.Tags.Symbols = nil
	}
	if len(e.Tags.Roles) == 0 {
		e.Tags.Roles = nil
	}
	return e, nil
}

// Query returns the k nearest entries. Returned entries carry no vector.
func (s *SQLiteStore) Query(ctx context.Context, vector []float32, k int) ([]Match, error) {
	if k <= 0 || len(vector) == 0 {
		return []Match{}, nil
	}
	if VectorExtensionAvailable {
		return s.queryOptimized(ctx, vector, k)
	}
	return s.queryFallback(ctx, vector, k)
}

// queryOptimized computes distances inside SQLite with sqlite-vec
func (s *SQLiteStore) queryOptimized(ctx context.Context, vector []float32, k int) ([]Match, error) {
	blob, err := encodeVector(vector)
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + entryColumns + `, vec_distance_cosine(e.vector, ?) AS distance
		FROM entries e
		INNER JOIN files f ON f.path = e.path
		WHERE e.dimension = ?
		ORDER BY distance ASC, e.path ASC, e.seq ASC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, blob, len(vector), k)
	if err != nil {
		return nil, fmt.Errorf("failed to execute vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	matches := make([]Match, 0, k)
	for rows.Next() {
		var distance float64
		e, err := scanEntry(rows, &distance)
		if err != nil {
			return nil, err
		}
		matches = append(matches, Match{Entry: e, Distance: distance})
	}
	return matches, rows.Err()
}

// queryFallback loads candidate vectors and ranks them in Go
func (s *SQLiteStore) queryFallback(ctx context.Context, vector []float32, k int) ([]Match, error) {
	query := `SELECT ` + entryColumns + `, e.vector
		FROM entries e
		INNER JOIN files f ON f.path = e.path
		WHERE e.dimension = ?`

	rows, err := s.db.QueryContext(ctx, query, len(vector))
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var matches []Match
	for rows.Next() {
		var blob []byte
		e, err := scanEntry(rows, &blob)
		if err != nil {
			return nil, err
		}
		matches = append(matches, Match{Entry: e, Distance: CosineDistance(vector, deserializeVector(blob))})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sortMatches(matches)
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func (s *SQLiteStore) FileHashes(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT path, file_hash FROM files")
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	defer func() { _ = rows.Close() }()

	hashes := make(map[string]string)
	for rows.Next() {
		var path, hash string
		if err := rows.Scan(&path, &hash); err != nil {
			return nil, err
		}
		hashes[path] = hash
	}
	return hashes, rows.Err()
}

func (s *SQLiteStore) Meta(ctx context.Context) (Meta, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM store_meta")
	if err != nil {
		return Meta{}, err
	}
	defer func() { _ = rows.Close() }()

	values := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return Meta{}, err
		}
		values[key] = value
	}
	if err := rows.Err(); err != nil {
		return Meta{}, err
	}
	if values["model"] == "" {
		return Meta{}, ErrNotFound
	}

	dim, _ := strconv.Atoi(values["dimension"])
	size, _ := strconv.Atoi(values["chunk_size"])
	overlap, _ := strconv.Atoi(values["chunk_overlap"])
	return Meta{
		Provider:     values["provider"],
		Model:        values["model"],
		Dimension:    dim,
		ChunkSize:    size,
		ChunkOverlap: overlap,
	}, nil
}

func (s *SQLiteStore) SetMeta(ctx context.Context, meta Meta) error {
	return s.withTx(ctx, func(q querier) error {
		for key, value := range map[string]string{
			"provider":      meta.Provider,
			"model":         meta.Model,
			"dimension":     strconv.Itoa(meta.Dimension),
			"chunk_size":    strconv.Itoa(meta.ChunkSize),
			"chunk_overlap": strconv.Itoa(meta.ChunkOverlap),
		} {
			_, err := q.ExecContext(ctx,
				"INSERT INTO store_meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
				key, value)
			if err != nil {
				return fmt.Errorf("failed to set %s: %w", key, err)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{Backend: BackendSQLite}
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*), COUNT(DISTINCT path) FROM entries").Scan(&stats.Entries, &stats.Paths)
	if err != nil {
		return stats, fmt.Errorf("failed to count entries: %w", err)
	}

	var indexedAt sql.NullInt64
	if err := s.db.QueryRowContext(ctx, "SELECT MAX(indexed_at) FROM files").Scan(&indexedAt); err != nil {
		return stats, err
	}
	if indexedAt.Valid && indexedAt.Int64 > 0 {
		stats.IndexedAt = time.Unix(indexedAt.Int64, 0).UTC()
	}

	meta, err := s.Meta(ctx)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return stats, err
	}
	stats.Model = meta.Model
	stats.Dimension = meta.Dimension
	return stats, nil
}

func (s *SQLiteStore) Reset(ctx context.Context) error {
	return s.withTx(ctx, func(q querier) error {
		for _, stmt := range []string{"DELETE FROM entries", "DELETE FROM files", "DELETE FROM store_meta"} {
			if _, err := q.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	})
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
