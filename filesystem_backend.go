package gallerydb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
)

// FilesystemBackend implements Backend using local filesystem, one file per key.
//
// Batches go through a journal at <base>/.journal (temp file + rename) that
// holds the ops to apply and the prior value of every key they touch. The
// batch is committed once the journal is in place. A journal found at open
// time is replayed. When applying fails in-process the journal is renamed to
// .journal.undo and the prior values are restored, so the caller's error
// means nothing changed. Until a journal is settled no other read or write
// goes through.
type FilesystemBackend struct {
	basePath  string
	mu        sync.RWMutex
	pending   atomic.Bool
	undo      []undoEntry
	writeFile func(name string, data []byte, perm os.FileMode) error
}

type journalEntry struct {
	Kind  OpKind `json:"kind"`
	Key   string `json:"key"`
	Value []byte `json:"value,omitempty"`
}

// undoEntry is the state of one key before a batch touched it
type undoEntry struct {
	Key     string `json:"key"`
	Existed bool   `json:"existed"`
	Value   []byte `json:"value,omitempty"`
}

type journalRecord struct {
	Ops  []journalEntry `json:"ops"`
	Undo []undoEntry    `json:"undo"`
}

// NewFilesystemBackend creates a filesystem backend rooted at basePath without
// checking for an interrupted batch. Use OpenFilesystemBackend for stores that
// may have crashed mid-write.
func NewFilesystemBackend(basePath string) *FilesystemBackend {
	return &FilesystemBackend{basePath: basePath, writeFile: os.WriteFile}
}

// OpenFilesystemBackend creates basePath if needed and settles any journal
// left behind by an interrupted batch
func OpenFilesystemBackend(ctx context.Context, basePath string) (*FilesystemBackend, error) {
	if err := os.MkdirAll(basePath, DefaultDirPermissions); err != nil {
		return nil, fmt.Errorf("create base path: %w", mapFSError(err))
	}
	b := NewFilesystemBackend(basePath)
	b.pending.Store(true)
	if err := b.settle(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *FilesystemBackend) getPath(key string) string {
	return filepath.Join(b.basePath, filepath.FromSlash(key))
}

func (b *FilesystemBackend) journalPath() string {
	return filepath.Join(b.basePath, journalFileName)
}

func (b *FilesystemBackend) undoPath() string {
	return filepath.Join(b.basePath, undoJournalFileName)
}

func (b *FilesystemBackend) Get(ctx context.Context, key string) ([]byte, error) {
	if err := b.settle(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.read(key)
}

func (b *FilesystemBackend) read(key string) ([]byte, error) {
	data, err := os.ReadFile(b.getPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, mapFSError(err)
	}
	return data, nil
}

func (b *FilesystemBackend) Put(ctx context.Context, key string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.settleLocked(); err != nil {
		return err
	}
	return b.write(key, data)
}

// write replaces the file atomically so a crash never leaves a torn value
func (b *FilesystemBackend) write(key string, data []byte) error {
	path := b.getPath(key)
	if err := os.MkdirAll(filepath.Dir(path), DefaultDirPermissions); err != nil {
		return mapFSError(err)
	}
	tmp := path + ".tmp"
	if err := b.writeFile(tmp, data, DefaultFilePermissions); err != nil {
		os.Remove(tmp)
		return mapFSError(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return mapFSError(err)
	}
	return nil
}

func (b *FilesystemBackend) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.settleLocked(); err != nil {
		return err
	}
	err := os.Remove(b.getPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return mapFSError(err)
	}
	return nil
}

func (b *FilesystemBackend) Exists(ctx context.Context, key string) (bool, error) {
	if err := b.settle(); err != nil {
		return false, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, err := os.Stat(b.getPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, mapFSError(err)
	}
	return true, nil
}

func (b *FilesystemBackend) List(ctx context.Context, prefix string) ([]string, error) {
	if err := b.settle(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	keys := make([]string, 0)
	dir := ""
	if i := strings.LastIndex(prefix, "/"); i >= 0 {
		dir = prefix[:i]
	}
	searchPath := b.getPath(dir)

	// Return empty list if prefix directory doesn't exist
	if _, err := os.Stat(searchPath); os.IsNotExist(err) {
		return keys, nil
	}

	err := filepath.WalkDir(searchPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || isInternalFile(d.Name()) {
			return nil
		}
		relPath, err := filepath.Rel(b.basePath, path)
		if err != nil {
			return err
		}
		// Convert to forward slashes so keys look the same on every platform
		key := filepath.ToSlash(relPath)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, mapFSError(err)
	}

	sort.Strings(keys)
	return keys, nil
}

func isInternalFile(name string) bool {
	return name == journalFileName ||
		name == undoJournalFileName ||
		name == ".health_check" ||
		strings.HasSuffix(name, ".tmp")
}

func (b *FilesystemBackend) Batch(ctx context.Context, ops []Op) error {
	if len(ops) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.settleLocked(); err != nil {
		return err
	}

	rec := journalRecord{Ops: make([]journalEntry, len(ops))}
	for i, op := range ops {
		rec.Ops[i] = journalEntry{Kind: op.Kind, Key: op.Key, Value: op.Value}
	}
	undo, err := b.snapshot(ops)
	if err != nil {
		return err
	}
	rec.Undo = undo

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal journal: %w", err)
	}
	tmp := b.journalPath() + ".tmp"
	if err := os.WriteFile(tmp, data, DefaultFilePermissions); err != nil {
		os.Remove(tmp)
		return mapFSError(err)
	}
	if err := os.Rename(tmp, b.journalPath()); err != nil {
		os.Remove(tmp)
		return mapFSError(err)
	}
	b.pending.Store(true)

	if err := b.apply(rec.Ops); err != nil {
		applyErr := fmt.Errorf("%w: apply batch: %w", ErrTransactionFailed, err)
		b.undo = undo
		// A later open rolls an .undo journal back instead of replaying it
		os.Rename(b.journalPath(), b.undoPath())
		if rerr := b.settleLocked(); rerr != nil {
			return fmt.Errorf("%w (rollback pending: %v)", applyErr, rerr)
		}
		return applyErr
	}

	// The batch is applied; a journal that cannot be removed yet is
	// replayed and removed before the next operation
	if err := os.Remove(b.journalPath()); err == nil {
		b.pending.Store(false)
	}
	return nil
}

// snapshot records the current state of every key ops touch
func (b *FilesystemBackend) snapshot(ops []Op) ([]undoEntry, error) {
	seen := make(map[string]bool, len(ops))
	undo := make([]undoEntry, 0, len(ops))
	for _, op := range ops {
		if seen[op.Key] {
			continue
		}
		seen[op.Key] = true
		data, err := os.ReadFile(b.getPath(op.Key))
		switch {
		case os.IsNotExist(err):
			undo = append(undo, undoEntry{Key: op.Key})
		case err != nil:
			return nil, fmt.Errorf("snapshot %s: %w", op.Key, mapFSError(err))
		default:
			undo = append(undo, undoEntry{Key: op.Key, Existed: true, Value: data})
		}
	}
	return undo, nil
}

func (b *FilesystemBackend) apply(entries []journalEntry) error {
	for _, e := range entries {
		switch e.Kind {
		case OpPut:
			if err := b.write(e.Key, e.Value); err != nil {
				return fmt.Errorf("put %s: %w", e.Key, err)
			}
		case OpDelete:
			if err := os.Remove(b.getPath(e.Key)); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("delete %s: %w", e.Key, mapFSError(err))
			}
		}
	}
	return nil
}

// rollback restores the recorded state. Keys that did not exist are removed
// first so restoring the others has room to write.
func (b *FilesystemBackend) rollback(undo []undoEntry) error {
	for _, u := range undo {
		if u.Existed {
			continue
		}
		if err := os.Remove(b.getPath(u.Key)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", u.Key, mapFSError(err))
		}
	}
	for _, u := range undo {
		if !u.Existed {
			continue
		}
		if err := b.write(u.Key, u.Value); err != nil {
			return fmt.Errorf("restore %s: %w", u.Key, err)
		}
	}
	return nil
}

func (b *FilesystemBackend) settle() error {
	if !b.pending.Load() {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.settleLocked()
}

// settleLocked finishes whatever journal is outstanding: an in-process
// rollback, an .undo journal, or a committed journal to replay
func (b *FilesystemBackend) settleLocked() error {
	if !b.pending.Load() {
		return nil
	}

	// A leftover temp journal was never committed
	os.Remove(b.journalPath() + ".tmp")

	if b.undo == nil {
		rec, undoing, err := b.readJournal()
		if err != nil {
			return err
		}
		switch {
		case rec == nil:
		case undoing:
			b.undo = rec.Undo
		default:
			if err := b.apply(rec.Ops); err != nil {
				return fmt.Errorf("replay journal: %w", err)
			}
		}
	}
	if b.undo != nil {
		if err := b.rollback(b.undo); err != nil {
			return fmt.Errorf("%w: roll back batch: %w", ErrTransactionFailed, err)
		}
	}

	for _, path := range []string{b.journalPath(), b.undoPath()} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return mapFSError(err)
		}
	}
	b.undo = nil
	b.pending.Store(false)
	return nil
}

// readJournal loads the outstanding journal, preferring one marked for rollback
func (b *FilesystemBackend) readJournal() (*journalRecord, bool, error) {
	for _, candidate := range []struct {
		path    string
		undoing bool
	}{
		{b.undoPath(), true},
		{b.journalPath(), false},
	} {
		data, err := os.ReadFile(candidate.path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, false, mapFSError(err)
		}
		var rec journalRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, false, fmt.Errorf("%w: decode journal: %v", ErrInvalidData, err)
		}
		return &rec, candidate.undoing, nil
	}
	return nil, false, nil
}

func (b *FilesystemBackend) Ping(ctx context.Context) error {
	// Check if base directory exists and is writable
	info, err := os.Stat(b.basePath)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("base path is not a directory: %s", b.basePath)
	}

	// Try to create a temp file to verify write access
	testFile := filepath.Join(b.basePath, ".health_check")
	if err := os.WriteFile(testFile, []byte("ok"), DefaultFilePermissions); err != nil {
		return fmt.Errorf("cannot write to base path: %w", mapFSError(err))
	}
	os.Remove(testFile)

	return nil
}

func (b *FilesystemBackend) Close() error {
	// Filesystem doesn't need cleanup, but implement for interface compliance
	return nil
}

// mapFSError translates OS conditions into gallerydb sentinels
func mapFSError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, syscall.ENOSPC) {
		return fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
	}
	return err
}
