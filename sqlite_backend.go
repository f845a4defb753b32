package gallerydb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const (
	sqliteBusyTimeoutMS = 5000
	sqliteMaxOpenConns  = 1

	sqliteUnlimitedPages = 4294967294
)

// SQLiteBackend stores every key as a row of a single kv table. Batches map
// onto one SQL transaction.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens (or creates) the SQLite database at path and
// configures it for use. ":memory:" gives a private in-memory database.
func NewSQLiteBackend(ctx context.Context, path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A single connection keeps ":memory:" databases alive and serializes writers
	db.SetMaxOpenConns(sqliteMaxOpenConns)
	db.SetMaxIdleConns(sqliteMaxOpenConns)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", sqliteBusyTimeoutMS),
	}
	for _, stmt := range pragmas {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("configure database (%s): %w", stmt, err)
		}
	}

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS kv (
			key   TEXT PRIMARY KEY,
			value BLOB NOT NULL
		) WITHOUT ROWID
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create kv table: %w", err)
	}

	return &SQLiteBackend{db: db}, nil
}

// NewSQLiteBackendWithQuota opens the database and caps its file size near
// maxBytes. Writes past the cap fail with ErrQuotaExceeded.
func NewSQLiteBackendWithQuota(ctx context.Context, path string, maxBytes int64) (*SQLiteBackend, error) {
	b, err := NewSQLiteBackend(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := b.SetMaxBytes(ctx, maxBytes); err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}

// SetMaxBytes caps the database at maxBytes, rounded up to whole pages. SQLite
// never shrinks the cap below the pages already in use. Zero lifts the cap.
func (b *SQLiteBackend) SetMaxBytes(ctx context.Context, maxBytes int64) error {
	if maxBytes < 0 {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field": "max_bytes",
			"value": maxBytes,
		})
	}
	pages := int64(sqliteUnlimitedPages)
	if maxBytes > 0 {
		var pageSize int64
		if err := b.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err != nil {
			return fmt.Errorf("read page size: %w", err)
		}
		pages = (maxBytes + pageSize - 1) / pageSize
	}
	if _, err := b.db.ExecContext(ctx, fmt.Sprintf("PRAGMA max_page_count = %d", pages)); err != nil {
		return fmt.Errorf("set max page count: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := b.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, mapSQLiteError(err)
	}
	return data, nil
}

func (b *SQLiteBackend) Put(ctx context.Context, key string, data []byte) error {
	_, err := b.db.ExecContext(ctx,
		"INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, data,
	)
	return mapSQLiteError(err)
}

func (b *SQLiteBackend) Delete(ctx context.Context, key string) error {
	result, err := b.db.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key)
	if err != nil {
		return mapSQLiteError(err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (b *SQLiteBackend) Exists(ctx context.Context, key string) (bool, error) {
	var exists int
	err := b.db.QueryRowContext(ctx, "SELECT 1 FROM kv WHERE key = ? LIMIT 1", key).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, mapSQLiteError(err)
	}
	return true, nil
}

func (b *SQLiteBackend) List(ctx context.Context, prefix string) ([]string, error) {
	rows, err := b.db.QueryContext(ctx,
		"SELECT key FROM kv WHERE substr(key, 1, length(?1)) = ?1 ORDER BY key", prefix)
	if err != nil {
		return nil, mapSQLiteError(err)
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (b *SQLiteBackend) Batch(ctx context.Context, ops []Op) error {
	if len(ops) == 0 {
		return nil
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", mapSQLiteError(err))
	}
	defer tx.Rollback()

	for _, op := range ops {
		switch op.Kind {
		case OpPut:
			_, err = tx.ExecContext(ctx,
				"INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
				op.Key, op.Value)
		case OpDelete:
			_, err = tx.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", op.Key)
		}
		if err != nil {
			return fmt.Errorf("apply %s: %w", op.Key, mapSQLiteError(err))
		}
	}

	return mapSQLiteError(tx.Commit())
}

func (b *SQLiteBackend) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return b.db.PingContext(ctx)
}

func (b *SQLiteBackend) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

// mapSQLiteError translates SQLITE_FULL into ErrQuotaExceeded
func mapSQLiteError(err error) error {
	if err == nil {
		return nil
	}
	var se *sqlite.Error
	if errors.As(err, &se) && se.Code()&0xff == sqlite3.SQLITE_FULL {
		return fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
	}
	return err
}
