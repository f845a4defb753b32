package gallerydb

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryBackend keeps every key in process memory. A fresh instance per test
// gives full isolation.
type MemoryBackend struct {
	mu       sync.RWMutex
	data     map[string][]byte
	used     int64
	maxBytes int64 // 0 means unlimited
	closed   bool
}

// NewMemoryBackend creates an empty, unbounded memory backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[string][]byte)}
}

// NewMemoryBackendWithQuota creates a memory backend that refuses writes once
// the stored values would exceed maxBytes
func NewMemoryBackendWithQuota(maxBytes int64) *MemoryBackend {
	b := NewMemoryBackend()
	b.maxBytes = maxBytes
	return b
}

func (b *MemoryBackend) Get(ctx context.Context, key string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrClosed
	}
	v, ok := b.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (b *MemoryBackend) Put(ctx context.Context, key string, data []byte) error {
	return b.Batch(ctx, []Op{PutOp(key, data)})
}

func (b *MemoryBackend) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	v, ok := b.data[key]
	if !ok {
		return ErrNotFound
	}
	b.used -= int64(len(v))
	delete(b.data, key)
	return nil
}

func (b *MemoryBackend) Exists(ctx context.Context, key string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return false, ErrClosed
	}
	_, ok := b.data[key]
	return ok, nil
}

func (b *MemoryBackend) List(ctx context.Context, prefix string) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrClosed
	}
	keys := make([]string, 0)
	for k := range b.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Batch checks the quota for the whole batch before touching any key
func (b *MemoryBackend) Batch(ctx context.Context, ops []Op) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	used := b.used
	sizes := make(map[string]int64, len(ops))
	for _, op := range ops {
		prev, seen := sizes[op.Key]
		if !seen {
			prev = int64(len(b.data[op.Key]))
		}
		var next int64
		if op.Kind == OpPut {
			next = int64(len(op.Value))
		}
		used += next - prev
		sizes[op.Key] = next
	}
	if b.maxBytes > 0 && used > b.maxBytes {
		return WithContext(ErrQuotaExceeded, map[string]interface{}{
			"limit":     b.maxBytes,
			"requested": used,
		})
	}

	for _, op := range ops {
		switch op.Kind {
		case OpPut:
			b.data[op.Key] = append([]byte(nil), op.Value...)
		case OpDelete:
			delete(b.data, op.Key)
		}
	}
	b.used = used
	return nil
}

func (b *MemoryBackend) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

func (b *MemoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// UsedBytes reports the total size of stored values
func (b *MemoryBackend) UsedBytes() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.used
}
