package persist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteBackend stores documents as rows of a single table.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens the database at path and creates the documents
// table when missing.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("persist: create directory for %s: %w", path, err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("persist: open sqlite db: %w", err)
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("persist: apply pragma %q: %w", pragma, err)
		}
	}
	const schema = `CREATE TABLE IF NOT EXISTS documents (
		name TEXT PRIMARY KEY,
		data BLOB NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("persist: init schema: %w", err)
	}
	return &SQLiteBackend{db: db}, nil
}

func (b *SQLiteBackend) Read(ctx context.Context, key string) ([]byte, bool, error) {
	var data []byte
	err := b.db.QueryRowContext(ctx, `SELECT data FROM documents WHERE name = ?`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("persist: read %s: %w", key, err)
	}
	return data, true, nil
}

func (b *SQLiteBackend) Write(ctx context.Context, key string, data []byte) error {
	if !validKey(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	_, err := b.db.ExecContext(ctx, `INSERT INTO documents (name, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		key, data, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("persist: write %s: %w", key, err)
	}
	return nil
}

func (b *SQLiteBackend) Exists(ctx context.Context, key string) (bool, error) {
	var n int
	err := b.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM documents WHERE name = ?`, key).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("persist: exists %s: %w", key, err)
	}
	return n > 0, nil
}

func (b *SQLiteBackend) Delete(ctx context.Context, key string) error {
	if _, err := b.db.ExecContext(ctx, `DELETE FROM documents WHERE name = ?`, key); err != nil {
		return fmt.Errorf("persist: delete %s: %w", key, err)
	}
	return nil
}

func (b *SQLiteBackend) List(ctx context.Context) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT name FROM documents ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("persist: list: %w", err)
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		keys = append(keys, name)
	}
	return keys, rows.Err()
}

func (b *SQLiteBackend) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}
