package gallerydb

import (
	"context"
	"strconv"
)

// Backend defines the interface for different storage implementations
// This allows gallerydb to persist to memory, a local directory, or a SQLite file
type Backend interface {
	// Object operations
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)

	// List returns all keys with the given prefix in ascending order
	List(ctx context.Context, prefix string) ([]string, error)

	// Batch applies every op or none of them. Readers never observe a
	// partially applied batch.
	Batch(ctx context.Context, ops []Op) error

	// Health check
	Ping(ctx context.Context) error

	// Resource cleanup
	Close() error
}

// OpKind distinguishes the two write operations a batch can carry
type OpKind int

const (
	OpPut OpKind = iota
	OpDelete
)

// Op is a single write inside a Batch. Deleting an absent key is not an error.
type Op struct {
	Kind  OpKind
	Key   string
	Value []byte
}

// PutOp builds a put operation
func PutOp(key string, value []byte) Op {
	return Op{Kind: OpPut, Key: key, Value: value}
}

// DeleteOp builds a delete operation
func DeleteOp(key string) Op {
	return Op{Kind: OpDelete, Key: key}
}

// BackendConfig holds configuration for any backend
type BackendConfig struct {
	Type    string            // "memory", "filesystem" or "sqlite"
	Path    string            // Base directory (filesystem) or database file (sqlite)
	Options map[string]string // Backend-specific options
}

// Validate checks if the BackendConfig is valid
func (c BackendConfig) Validate() error {
	if c.Type == "" {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "Type",
			"reason": "backend type is required",
		})
	}

	switch c.Type {
	case "memory":
		// No additional validation needed
	case "filesystem", "sqlite":
		if c.Path == "" {
			return WithContext(ErrInvalidConfig, map[string]interface{}{
				"field":  "Path",
				"reason": c.Type + " backend requires a path",
			})
		}
	default:
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "Type",
			"value":  c.Type,
			"reason": "unknown backend type",
		})
	}

	return nil
}

// NewBackend constructs the backend described by cfg
func NewBackend(ctx context.Context, cfg BackendConfig) (Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	maxBytes, err := cfg.maxBytes()
	if err != nil {
		return nil, err
	}

	switch cfg.Type {
	case "filesystem":
		return OpenFilesystemBackend(ctx, cfg.Path)
	case "sqlite":
		if maxBytes > 0 {
			return NewSQLiteBackendWithQuota(ctx, cfg.Path, maxBytes)
		}
		return NewSQLiteBackend(ctx, cfg.Path)
	default:
		if maxBytes > 0 {
			return NewMemoryBackendWithQuota(maxBytes), nil
		}
		return NewMemoryBackend(), nil
	}
}

// maxBytes parses Options["max_bytes"]. The filesystem backend ignores it and
// relies on the volume reporting ENOSPC.
func (c BackendConfig) maxBytes() (int64, error) {
	raw := c.Options["max_bytes"]
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, WithContext(ErrInvalidConfig, map[string]interface{}{
			"field": "Options.max_bytes",
			"value": raw,
		})
	}
	return n, nil
}
