package gallerydb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// DB is an open gallerydb database on top of a Backend.
//
// Writers are serialized: at most one Update runs at a time, and View never
// overlaps a commit. A DB is safe for concurrent use.
type DB struct {
	backend Backend
	logger  Logger
	metrics Metrics

	mu     sync.RWMutex
	schema *Schema
	closed bool
}

// Open loads the persisted schema from backend with no-op logger and metrics
func Open(ctx context.Context, backend Backend) (*DB, error) {
	return OpenWithObservability(ctx, backend, &NoOpLogger{}, &NoOpMetrics{})
}

// OpenWithObservability opens a DB with logging and metrics
func OpenWithObservability(ctx context.Context, backend Backend, logger Logger, metrics Metrics) (*DB, error) {
	if backend == nil {
		return nil, WithContext(ErrInvalidConfig, map[string]interface{}{"reason": "backend is required"})
	}
	if logger == nil {
		logger = &NoOpLogger{}
	}
	if metrics == nil {
		metrics = &NoOpMetrics{}
	}

	schema, err := loadSchema(ctx, backend)
	if err != nil {
		return nil, err
	}
	metrics.Gauge(MetricSchemaVersion, float64(schema.Version))
	logger.Debug("database opened", "version", schema.Version, "stores", len(schema.Stores))

	return &DB{
		backend: backend,
		logger:  logger,
		metrics: metrics,
		schema:  schema,
	}, nil
}

// Logger returns the logger the DB reports through
func (db *DB) Logger() Logger {
	return db.logger
}

// Metrics returns the metrics collector the DB reports through
func (db *DB) Metrics() Metrics {
	return db.metrics
}

// Backend returns the underlying backend
func (db *DB) Backend() Backend {
	return db.backend
}

// Version returns the persisted schema version
func (db *DB) Version() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.schema.Version
}

// Update runs fn in a read-write transaction. If fn returns nil every staged
// write is committed atomically; otherwise nothing is written.
func (db *DB) Update(ctx context.Context, fn func(tx *Tx) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrClosed
	}

	tx := newTx(ctx, db, true)
	if err := fn(tx); err != nil {
		db.metrics.Increment(MetricTransactionRollback)
		return err
	}
	if err := tx.commit(); err != nil {
		db.metrics.Increment(MetricTransactionRollback)
		db.logger.Error("transaction commit failed", "writes", len(tx.staged), "error", err)
		if errors.Is(err, ErrQuotaExceeded) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrTransactionFailed, err)
	}

	db.schema = tx.schema
	db.metrics.Increment(MetricTransactionCommit)
	return nil
}

// View runs fn in a read-only transaction
func (db *DB) View(ctx context.Context, fn func(tx *Tx) error) error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return ErrClosed
	}
	return fn(newTx(ctx, db, false))
}

// observe records the outcome of a single-record operation
func (db *DB) observe(op, store string, start time.Time, err error) {
	db.metrics.Timing(MetricStoreDuration, time.Since(start), "op", op, "store", store)
	if err != nil && !IsNotFound(err) {
		db.metrics.Increment(MetricStoreErrors, "op", op, "store", store)
		db.logger.Debug("store operation failed", "op", op, "store", store, "error", err)
		return
	}
	db.metrics.Increment(MetricStoreOps, "op", op, "store", store)
}

// Add inserts a record in its own transaction and returns its identity
func (db *DB) Add(ctx context.Context, store string, value interface{}) (int64, error) {
	start := time.Now()
	var id int64
	err := db.Update(ctx, func(tx *Tx) error {
		var err error
		id, err = tx.Add(store, value)
		return err
	})
	db.observe("add", store, start, err)
	return id, err
}

// Put upserts a record in its own transaction
func (db *DB) Put(ctx context.Context, store string, value interface{}) (int64, error) {
	start := time.Now()
	var id int64
	err := db.Update(ctx, func(tx *Tx) error {
		var err error
		id, err = tx.Put(store, value)
		return err
	})
	db.observe("put", store, start, err)
	return id, err
}

// Get decodes one record into dest
func (db *DB) Get(ctx context.Context, store string, id int64, dest interface{}) error {
	start := time.Now()
	err := db.View(ctx, func(tx *Tx) error {
		return tx.Get(store, id, dest)
	})
	db.observe("get", store, start, err)
	return err
}

// GetAll returns every record of a store in ascending identity order
func (db *DB) GetAll(ctx context.Context, store string) ([]json.RawMessage, error) {
	start := time.Now()
	var out []json.RawMessage
	err := db.View(ctx, func(tx *Tx) error {
		var err error
		out, err = tx.GetAll(store)
		return err
	})
	db.observe("get_all", store, start, err)
	return out, err
}

// QueryIndex returns the records whose indexed field equals value
func (db *DB) QueryIndex(ctx context.Context, store, index string, value interface{}) ([]json.RawMessage, error) {
	start := time.Now()
	var out []json.RawMessage
	err := db.View(ctx, func(tx *Tx) error {
		var err error
		out, err = tx.QueryIndex(store, index, value)
		return err
	})
	db.observe("query", store, start, err)
	return out, err
}

// Delete removes a record in its own transaction. Absent records are ignored.
func (db *DB) Delete(ctx context.Context, store string, id int64) error {
	start := time.Now()
	err := db.Update(ctx, func(tx *Tx) error {
		return tx.Delete(store, id)
	})
	db.observe("delete", store, start, err)
	return err
}

// Count returns the number of records in a store
func (db *DB) Count(ctx context.Context, store string) (int, error) {
	var n int
	err := db.View(ctx, func(tx *Tx) error {
		var err error
		n, err = tx.Count(store)
		return err
	})
	return n, err
}

// Ping checks backend health
func (db *DB) Ping(ctx context.Context) error {
	return db.backend.Ping(ctx)
}

// Close releases the backend. Later calls fail with ErrClosed.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil
	}
	db.closed = true
	return db.backend.Close()
}
