package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// SQLite driver names accepted by OpenSQLiteCollection.
const (
	DriverSQLite3 = "sqlite3" // github.com/mattn/go-sqlite3 (cgo)
	DriverModernc = "sqlite"  // modernc.org/sqlite (pure Go)
)

// SQLiteCollection is a persistent collection stored in its own SQLite database.
type SQLiteCollection struct {
	db   *sql.DB
	name string

	mu    sync.RWMutex
	index *ttlIndex
}

// OpenSQLiteCollection opens (or creates) the database at path and loads the schema.
// An empty path opens a private in-memory database.
func OpenSQLiteCollection(ctx context.Context, driver, name, path string) (*SQLiteCollection, error) {
	db, err := sql.Open(driver, sqliteDSN(driver, path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if path == "" {
		// Every connection to :memory: is a distinct database
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load database: %w", err)
	}

	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteCollection{db: db, name: name}, nil
}

func sqliteDSN(driver, path string) string {
	if path == "" {
		return ":memory:"
	}
	if driver == DriverModernc {
		return path + "?_pragma=journal_mode(WAL)"
	}
	return path + "?_journal_mode=WAL"
}

// initSchema creates the documents table
func initSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			body BLOB NOT NULL,
			expires_at INTEGER
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create documents table: %w", err)
	}
	return nil
}

// Name returns the collection name.
func (c *SQLiteCollection) Name() string {
	return c.name
}

func (c *SQLiteCollection) ttl() *ttlIndex {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.index
}

// FindOne retrieves a document by id.
func (c *SQLiteCollection) FindOne(ctx context.Context, id string) (Document, error) {
	var body []byte
	var expiresAt sql.NullInt64

	err := c.db.QueryRowContext(ctx, `
		SELECT body, expires_at FROM documents WHERE id = ?
	`, id).Scan(&body, &expiresAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find document: %w", err)
	}

	now := time.Now()
	if expiresAt.Valid && expiresAt.Int64 < now.UnixMilli() {
		// Expired - delete and report a miss
		_, _ = c.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ? AND expires_at = ?`, id, expiresAt.Int64)
		return nil, nil
	}

	doc, err := decodeDocument(body)
	if err != nil {
		return nil, err
	}

	// expires_at has millisecond resolution
	if c.ttl().expired(doc, now) {
		return nil, nil
	}
	return doc, nil
}

// Upsert saves a document under id, replacing any previous one.
func (c *SQLiteCollection) Upsert(ctx context.Context, id string, doc Document) error {
	doc = withID(id, doc)
	body, err := encodeDocument(doc)
	if err != nil {
		return err
	}

	var expiresAt *int64
	if deadline, ok := c.ttl().deadline(doc); ok {
		ms := deadline.UnixMilli()
		expiresAt = &ms
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO documents (id, body, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			body = excluded.body,
			expires_at = excluded.expires_at
	`, id, body, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to upsert document: %w", err)
	}

	return nil
}

// Remove deletes a document from the collection.
func (c *SQLiteCollection) Remove(ctx context.Context, id string) (int, error) {
	result, err := c.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return 0, fmt.Errorf("failed to remove document: %w", err)
	}

	affected, _ := result.RowsAffected()
	return int(affected), nil
}

// EnsureIndex creates the expiry index and backfills deadlines of documents
// written before the index existed.
func (c *SQLiteCollection) EnsureIndex(ctx context.Context, opts IndexOptions) error {
	if !opts.Expires {
		return nil
	}

	_, err := c.db.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS idx_documents_expires ON documents(expires_at) WHERE expires_at IS NOT NULL
	`)
	if err != nil {
		return fmt.Errorf("failed to create expiry index: %w", err)
	}

	index := newTTLIndex(opts)
	if err := c.backfill(ctx, index); err != nil {
		return err
	}

	c.mu.Lock()
	c.index = index
	c.mu.Unlock()
	return nil
}

func (c *SQLiteCollection) backfill(ctx context.Context, index *ttlIndex) error {
	rows, err := c.db.QueryContext(ctx, `SELECT id, body FROM documents WHERE expires_at IS NULL`)
	if err != nil {
		return fmt.Errorf("failed to scan documents: %w", err)
	}

	deadlines := make(map[string]int64)
	for rows.Next() {
		var id string
		var body []byte
		if err := rows.Scan(&id, &body); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan document: %w", err)
		}
		doc, err := decodeDocument(body)
		if err != nil {
			rows.Close()
			return err
		}
		if deadline, ok := index.deadline(doc); ok {
			deadlines[id] = deadline.UnixMilli()
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("failed to scan documents: %w", err)
	}
	rows.Close()

	for id, ms := range deadlines {
		if _, err := c.db.ExecContext(ctx, `UPDATE documents SET expires_at = ? WHERE id = ?`, ms, id); err != nil {
			return fmt.Errorf("failed to backfill expiry: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (c *SQLiteCollection) Close() error {
	return c.db.Close()
}

// sweepExpired removes all expired documents.
func (c *SQLiteCollection) sweepExpired(ctx context.Context, now time.Time) (int, error) {
	result, err := c.db.ExecContext(ctx, `
		DELETE FROM documents WHERE expires_at IS NOT NULL AND expires_at < ?
	`, now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired documents: %w", err)
	}

	affected, _ := result.RowsAffected()
	return int(affected), nil
}
