package gallerydb

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Tx is a unit of work over any number of stores.
//
// Writes are staged in memory and are visible to later reads of the same Tx.
// Commit hands every staged write, including schema changes and the version
// number, to the backend as one atomic batch. A Tx that returns an error from
// its function is discarded without touching the backend.
//
// A Tx is not safe for concurrent use and must not be retained after the
// function passed to DB.Update or DB.View returns.
type Tx struct {
	ctx      context.Context
	db       *DB
	writable bool
	schema   *Schema
	dirty    bool // schema or version changed
	staged   map[string]stagedWrite
}

type stagedWrite struct {
	value   []byte
	deleted bool
}

func newTx(ctx context.Context, db *DB, writable bool) *Tx {
	return &Tx{
		ctx:      ctx,
		db:       db,
		writable: writable,
		schema:   db.schema.clone(),
		staged:   make(map[string]stagedWrite),
	}
}

// Context returns the context the transaction was started with
func (tx *Tx) Context() context.Context {
	return tx.ctx
}

// Version returns the schema version as seen by this transaction
func (tx *Tx) Version() int {
	return tx.schema.Version
}

// StoreNames lists the stores defined in this transaction's schema
func (tx *Tx) StoreNames() []string {
	return tx.schema.StoreNames()
}

// Store returns a copy of a store definition
func (tx *Tx) Store(name string) (StoreDef, error) {
	def, err := tx.schema.store(name)
	if err != nil {
		return StoreDef{}, err
	}
	cp := *def
	cp.Indexes = append([]IndexDef(nil), def.Indexes...)
	return cp, nil
}

// HasStore reports whether a store is defined
func (tx *Tx) HasStore(name string) bool {
	_, ok := tx.schema.Stores[name]
	return ok
}

// --- low level key access through the overlay ---

func (tx *Tx) read(key string) ([]byte, error) {
	if w, ok := tx.staged[key]; ok {
		if w.deleted {
			return nil, ErrNotFound
		}
		return w.value, nil
	}
	return tx.db.backend.Get(tx.ctx, key)
}

func (tx *Tx) list(prefix string) ([]string, error) {
	keys, err := tx.db.backend.List(tx.ctx, prefix)
	if err != nil {
		return nil, err
	}
	if len(tx.staged) == 0 {
		return keys, nil
	}

	merged := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		merged[k] = struct{}{}
	}
	for k, w := range tx.staged {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if w.deleted {
			delete(merged, k)
		} else {
			merged[k] = struct{}{}
		}
	}

	out := make([]string, 0, len(merged))
	for k := range merged {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

func (tx *Tx) stagePut(key string, value []byte) error {
	if !tx.writable {
		return ErrReadOnly
	}
	tx.staged[key] = stagedWrite{value: value}
	return nil
}

func (tx *Tx) stageDelete(key string) error {
	if !tx.writable {
		return ErrReadOnly
	}
	tx.staged[key] = stagedWrite{deleted: true}
	return nil
}

func (tx *Tx) ops() []Op {
	keys := make([]string, 0, len(tx.staged))
	for k := range tx.staged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ops := make([]Op, 0, len(keys)+1)
	for _, k := range keys {
		w := tx.staged[k]
		if w.deleted {
			ops = append(ops, DeleteOp(k))
		} else {
			ops = append(ops, PutOp(k, w.value))
		}
	}
	return ops
}

// commit writes the staged state through one backend batch
func (tx *Tx) commit() error {
	ops := tx.ops()
	if tx.dirty {
		data, err := tx.schema.encode()
		if err != nil {
			return fmt.Errorf("encode schema: %w", err)
		}
		ops = append(ops, PutOp(schemaKey, data))
	}
	if len(ops) == 0 {
		return nil
	}
	if err := tx.db.backend.Batch(tx.ctx, ops); err != nil {
		return err
	}
	tx.db.metrics.Histogram(MetricTransactionSize, float64(len(ops)))
	return nil
}

// --- sequences ---

func (tx *Tx) lastID(store string) (int64, error) {
	data, err := tx.read(KeyBuilder{Store: store}.Sequence())
	if err != nil {
		if IsNotFound(err) {
			return 0, nil
		}
		return 0, err
	}
	id, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: sequence for %s: %v", ErrInvalidData, store, err)
	}
	return id, nil
}

func (tx *Tx) bumpSequence(store string, id int64) error {
	last, err := tx.lastID(store)
	if err != nil {
		return err
	}
	if id <= last {
		return nil
	}
	return tx.stagePut(KeyBuilder{Store: store}.Sequence(), []byte(strconv.FormatInt(id, 10)))
}

// --- record operations ---

// Add inserts a new record and returns its identity. When the key path is
// absent or zero an identity is assigned from the store's sequence; a
// caller-supplied identity moves the sequence past it.
func (tx *Tx) Add(store string, value interface{}) (int64, error) {
	return tx.write(store, value, false)
}

// Put inserts or fully replaces a record and re-derives its index entries
func (tx *Tx) Put(store string, value interface{}) (int64, error) {
	return tx.write(store, value, true)
}

func (tx *Tx) write(store string, value interface{}, overwrite bool) (int64, error) {
	if !tx.writable {
		return 0, ErrReadOnly
	}
	def, err := tx.schema.store(store)
	if err != nil {
		return 0, err
	}
	doc, err := toDocument(value)
	if err != nil {
		return 0, err
	}

	id, ok, err := doc.identity(def.KeyPath)
	if err != nil {
		return 0, err
	}
	if !ok {
		if !def.AutoIncrement {
			return 0, WithContext(ErrInvalidData, map[string]interface{}{
				"store":   store,
				"keyPath": def.KeyPath,
				"reason":  "record has no identity",
			})
		}
		last, err := tx.lastID(store)
		if err != nil {
			return 0, err
		}
		id = last + 1
	}
	doc.setIdentity(def.KeyPath, id)

	kb := KeyBuilder{Store: store}
	key := kb.Record(id)

	var previous document
	existing, err := tx.read(key)
	switch {
	case err == nil:
		if !overwrite {
			return 0, WithContext(ErrKeyConflict, map[string]interface{}{"store": store, "id": id})
		}
		if previous, err = decodeDocument(existing); err != nil {
			return 0, err
		}
	case !IsNotFound(err):
		return 0, err
	}

	if err := tx.checkUnique(def, doc, id); err != nil {
		return 0, err
	}

	data, err := doc.encode()
	if err != nil {
		return 0, err
	}

	if previous != nil {
		for _, e := range indexEntries(def, previous, id) {
			if err := tx.stageDelete(e.key); err != nil {
				return 0, err
			}
		}
	}
	for _, e := range indexEntries(def, doc, id) {
		if err := tx.stagePut(e.key, []byte(strconv.FormatInt(id, 10))); err != nil {
			return 0, err
		}
	}
	if err := tx.stagePut(key, data); err != nil {
		return 0, err
	}
	if err := tx.bumpSequence(store, id); err != nil {
		return 0, err
	}
	return id, nil
}

// checkUnique rejects a document whose unique index values are already held
// by another record
func (tx *Tx) checkUnique(def *StoreDef, doc document, id int64) error {
	kb := KeyBuilder{Store: def.Name}
	for _, idx := range def.Indexes {
		if !idx.Unique {
			continue
		}
		value, ok := indexedValue(idx, doc)
		if !ok {
			continue
		}
		owners, err := tx.indexOwners(def, idx, value)
		if err != nil {
			return err
		}
		for _, owner := range owners {
			if owner != id {
				return WithContext(ErrConstraintViolation, map[string]interface{}{
					"store": def.Name,
					"index": idx.Name,
					"key":   kb.IndexValuePrefix(idx.Name, value),
				})
			}
		}
	}
	return nil
}

// indexOwners returns the ids of records holding value in idx, verified
// against the records themselves
func (tx *Tx) indexOwners(def *StoreDef, idx IndexDef, value string) ([]int64, error) {
	kb := KeyBuilder{Store: def.Name}
	keys, err := tx.list(kb.IndexValuePrefix(idx.Name, value))
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(keys))
	for _, k := range keys {
		id, err := parseIDFromKey(k)
		if err != nil {
			return nil, err
		}
		data, err := tx.read(kb.Record(id))
		if err != nil {
			if IsNotFound(err) {
				continue
			}
			return nil, err
		}
		doc, err := decodeDocument(data)
		if err != nil {
			return nil, err
		}
		if got, ok := indexedValue(idx, doc); ok && got == value {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Get decodes the record with the given identity into dest
func (tx *Tx) Get(store string, id int64, dest interface{}) error {
	raw, err := tx.GetRaw(store, id)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("%w: decode %s/%d: %v", ErrInvalidData, store, id, err)
	}
	return nil
}

// GetRaw returns the stored JSON document
func (tx *Tx) GetRaw(store string, id int64) (json.RawMessage, error) {
	if _, err := tx.schema.store(store); err != nil {
		return nil, err
	}
	data, err := tx.read(KeyBuilder{Store: store}.Record(id))
	if err != nil {
		if IsNotFound(err) {
			return nil, WithContext(ErrNotFound, map[string]interface{}{"store": store, "id": id})
		}
		return nil, err
	}
	return json.RawMessage(data), nil
}

// Exists reports whether a record with the given identity is stored
func (tx *Tx) Exists(store string, id int64) (bool, error) {
	_, err := tx.GetRaw(store, id)
	if err == nil {
		return true, nil
	}
	if IsNotFound(err) {
		return false, nil
	}
	return false, err
}

// GetAll returns every record of a store in ascending identity order
func (tx *Tx) GetAll(store string) ([]json.RawMessage, error) {
	if _, err := tx.schema.store(store); err != nil {
		return nil, err
	}
	keys, err := tx.list(KeyBuilder{Store: store}.RecordPrefix())
	if err != nil {
		return nil, err
	}
	out := make([]json.RawMessage, 0, len(keys))
	for _, k := range keys {
		data, err := tx.read(k)
		if err != nil {
			if IsNotFound(err) {
				continue
			}
			return nil, err
		}
		out = append(out, json.RawMessage(data))
	}
	return out, nil
}

// IDs returns every identity of a store in ascending order
func (tx *Tx) IDs(store string) ([]int64, error) {
	if _, err := tx.schema.store(store); err != nil {
		return nil, err
	}
	keys, err := tx.list(KeyBuilder{Store: store}.RecordPrefix())
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(keys))
	for _, k := range keys {
		id, err := parseIDFromKey(k)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Count returns the number of records in a store
func (tx *Tx) Count(store string) (int, error) {
	ids, err := tx.IDs(store)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// QueryIndex returns every record whose indexed field equals value, in
// ascending identity order
func (tx *Tx) QueryIndex(store, index string, value interface{}) ([]json.RawMessage, error) {
	def, err := tx.schema.store(store)
	if err != nil {
		return nil, err
	}
	idx, ok := def.Index(index)
	if !ok {
		return nil, WithContext(ErrUnknownIndex, map[string]interface{}{"store": store, "index": index})
	}
	normalized, err := queryValue(value)
	if err != nil {
		return nil, err
	}

	kb := KeyBuilder{Store: store}
	keys, err := tx.list(kb.IndexValuePrefix(index, normalized))
	if err != nil {
		return nil, err
	}

	out := make([]json.RawMessage, 0, len(keys))
	for _, k := range keys {
		id, err := parseIDFromKey(k)
		if err != nil {
			return nil, err
		}
		data, err := tx.read(kb.Record(id))
		if err != nil {
			if IsNotFound(err) {
				continue
			}
			return nil, err
		}
		doc, err := decodeDocument(data)
		if err != nil {
			return nil, err
		}
		if got, ok := indexedValue(idx, doc); !ok || got != normalized {
			continue
		}
		out = append(out, json.RawMessage(data))
	}
	tx.db.metrics.Histogram(MetricQueryResults, float64(len(out)), "store", store, "index", index)
	return out, nil
}

// Delete removes a record and its index entries. Deleting an absent record
// is a no-op.
func (tx *Tx) Delete(store string, id int64) error {
	if !tx.writable {
		return ErrReadOnly
	}
	def, err := tx.schema.store(store)
	if err != nil {
		return err
	}
	kb := KeyBuilder{Store: store}
	data, err := tx.read(kb.Record(id))
	if err != nil {
		if IsNotFound(err) {
			return nil
		}
		return err
	}
	doc, err := decodeDocument(data)
	if err != nil {
		return err
	}
	for _, e := range indexEntries(def, doc, id) {
		if err := tx.stageDelete(e.key); err != nil {
			return err
		}
	}
	return tx.stageDelete(kb.Record(id))
}

// Clear removes every record of a store and resets its sequence
func (tx *Tx) Clear(store string) error {
	if !tx.writable {
		return ErrReadOnly
	}
	if _, err := tx.schema.store(store); err != nil {
		return err
	}
	kb := KeyBuilder{Store: store}
	if err := tx.deletePrefixes(kb.RecordPrefix(), kb.StorePrefix()); err != nil {
		return err
	}
	return tx.stageDelete(kb.Sequence())
}

func (tx *Tx) deletePrefixes(prefixes ...string) error {
	for _, prefix := range prefixes {
		keys, err := tx.list(prefix)
		if err != nil {
			return err
		}
		for _, k := range keys {
			if err := tx.stageDelete(k); err != nil {
				return err
			}
		}
	}
	return nil
}

// --- schema operations ---

// CreateStore defines a store and its indexes. Creating a store that already
// exists with the same key path is a no-op apart from adding missing indexes.
func (tx *Tx) CreateStore(def StoreDef) error {
	if !tx.writable {
		return ErrReadOnly
	}
	if !validStoreName(def.Name) {
		return WithContext(ErrInvalidConfig, map[string]interface{}{"store": def.Name, "reason": "invalid store name"})
	}
	if def.KeyPath == "" {
		return WithContext(ErrInvalidConfig, map[string]interface{}{"store": def.Name, "reason": "key path is required"})
	}

	if existing, ok := tx.schema.Stores[def.Name]; ok {
		if existing.KeyPath != def.KeyPath || existing.AutoIncrement != def.AutoIncrement {
			return WithContext(ErrSchemaMigration, map[string]interface{}{
				"store":  def.Name,
				"reason": "store exists with a different key",
			})
		}
	} else {
		tx.schema.Stores[def.Name] = &StoreDef{
			Name:          def.Name,
			KeyPath:       def.KeyPath,
			AutoIncrement: def.AutoIncrement,
		}
		tx.dirty = true
	}

	for _, idx := range def.Indexes {
		if err := tx.CreateIndex(def.Name, idx); err != nil {
			return err
		}
	}
	return nil
}

// DeleteStore drops a store with all of its records, index entries and
// sequence. Dropping an unknown store is a no-op.
func (tx *Tx) DeleteStore(name string) error {
	if !tx.writable {
		return ErrReadOnly
	}
	if _, ok := tx.schema.Stores[name]; !ok {
		return nil
	}
	if err := tx.Clear(name); err != nil {
		return err
	}
	delete(tx.schema.Stores, name)
	tx.dirty = true
	return nil
}

// CreateIndex adds an index to a store and backfills it from the existing
// records. An identical index is left alone; a different definition under
// the same name fails.
func (tx *Tx) CreateIndex(store string, idx IndexDef) error {
	if !tx.writable {
		return ErrReadOnly
	}
	def, err := tx.schema.store(store)
	if err != nil {
		return err
	}
	if !validStoreName(idx.Name) || idx.Field == "" {
		return WithContext(ErrInvalidConfig, map[string]interface{}{"store": store, "index": idx.Name, "reason": "invalid index"})
	}
	if existing, ok := def.Index(idx.Name); ok {
		if existing == idx {
			return nil
		}
		return WithContext(ErrSchemaMigration, map[string]interface{}{
			"store":  store,
			"index":  idx.Name,
			"reason": "index exists with a different definition",
		})
	}

	ids, err := tx.IDs(store)
	if err != nil {
		return err
	}
	kb := KeyBuilder{Store: store}
	seen := make(map[string]int64)
	for _, id := range ids {
		data, err := tx.read(kb.Record(id))
		if err != nil {
			return err
		}
		doc, err := decodeDocument(data)
		if err != nil {
			return err
		}
		value, ok := indexedValue(idx, doc)
		if !ok {
			continue
		}
		if idx.Unique {
			if other, dup := seen[value]; dup {
				return WithContext(ErrConstraintViolation, map[string]interface{}{
					"store": store,
					"index": idx.Name,
					"ids":   []int64{other, id},
				})
			}
			seen[value] = id
		}
		if err := tx.stagePut(kb.IndexEntry(idx.Name, value, id), []byte(strconv.FormatInt(id, 10))); err != nil {
			return err
		}
	}

	def.Indexes = append(def.Indexes, idx)
	tx.dirty = true
	return nil
}

// DeleteIndex drops an index and its entries. Dropping an unknown index is a
// no-op.
func (tx *Tx) DeleteIndex(store, index string) error {
	if !tx.writable {
		return ErrReadOnly
	}
	def, err := tx.schema.store(store)
	if err != nil {
		return err
	}
	if _, ok := def.Index(index); !ok {
		return nil
	}
	if err := tx.deletePrefixes(KeyBuilder{Store: store}.IndexPrefix(index)); err != nil {
		return err
	}
	kept := def.Indexes[:0:0]
	for _, idx := range def.Indexes {
		if idx.Name != index {
			kept = append(kept, idx)
		}
	}
	def.Indexes = kept
	tx.dirty = true
	return nil
}

// setVersion records the schema version reached by this transaction
func (tx *Tx) setVersion(version int) error {
	if !tx.writable {
		return ErrReadOnly
	}
	tx.schema.Version = version
	tx.dirty = true
	return nil
}

// --- typed helpers ---

// Get decodes one record into a T
//
// Example:
//
//	photo, err := gallerydb.Get[Photo](tx, "photos", 42)
func Get[T any](tx *Tx, store string, id int64) (T, error) {
	var out T
	err := tx.Get(store, id, &out)
	return out, err
}

// GetAll decodes every record of a store into a []T
func GetAll[T any](tx *Tx, store string) ([]T, error) {
	raws, err := tx.GetAll(store)
	if err != nil {
		return nil, err
	}
	return decodeAll[T](store, raws)
}

// QueryIndex decodes the records matching an index lookup into a []T
func QueryIndex[T any](tx *Tx, store, index string, value interface{}) ([]T, error) {
	raws, err := tx.QueryIndex(store, index, value)
	if err != nil {
		return nil, err
	}
	return decodeAll[T](store, raws)
}

func decodeAll[T any](store string, raws []json.RawMessage) ([]T, error) {
	out := make([]T, 0, len(raws))
	for _, raw := range raws {
		var item T
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, fmt.Errorf("%w: decode %s record: %v", ErrInvalidData, store, err)
		}
		out = append(out, item)
	}
	return out, nil
}
