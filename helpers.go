package gallerydb

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// maxIndexSegment bounds an escaped index value so that every key segment
// stays a legal file name on the filesystem backend
const maxIndexSegment = 128

// KeyBuilder constructs the storage keys of one store.
//
// Layout:
//
//	photos/00000000000000000042                      record
//	_idx/photos/by-category/n3/00000000000000000042  index entry
//	_seq/photos                                      last assigned id
type KeyBuilder struct {
	Store string
}

// Record returns the key of the record with the given id
func (kb KeyBuilder) Record(id int64) string {
	return kb.RecordPrefix() + formatID(id)
}

// RecordPrefix returns the prefix shared by every record of the store
func (kb KeyBuilder) RecordPrefix() string {
	return kb.Store + "/"
}

// IndexPrefix returns the prefix shared by every entry of an index
func (kb KeyBuilder) IndexPrefix(index string) string {
	return indexKeyPrefix + kb.Store + "/" + index + "/"
}

// IndexValuePrefix returns the prefix shared by entries for one indexed value
func (kb KeyBuilder) IndexValuePrefix(index, value string) string {
	return kb.IndexPrefix(index) + indexSegment(value) + "/"
}

// IndexEntry returns the key of one index entry
func (kb KeyBuilder) IndexEntry(index, value string, id int64) string {
	return kb.IndexValuePrefix(index, value) + formatID(id)
}

// StorePrefix returns the prefix shared by every index entry of the store
func (kb KeyBuilder) StorePrefix() string {
	return indexKeyPrefix + kb.Store + "/"
}

// Sequence returns the key holding the last assigned id
func (kb KeyBuilder) Sequence() string {
	return seqKeyPrefix + kb.Store
}

func formatID(id int64) string {
	return fmt.Sprintf("%0*d", idKeyWidth, id)
}

// parseIDFromKey extracts the id from the last segment of a record or index key
// Example: "photos/00000000000000000042" → 42
func parseIDFromKey(key string) (int64, error) {
	segment := key
	if i := strings.LastIndex(key, "/"); i >= 0 {
		segment = key[i+1:]
	}
	id, err := strconv.ParseInt(segment, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: malformed key %q", ErrInvalidData, key)
	}
	return id, nil
}

// indexSegment escapes a normalized index value into one key segment. Long
// values are replaced by their digest; queries re-check the stored field so a
// digest clash never returns a wrong record.
func indexSegment(value string) string {
	escaped := url.PathEscape(value)
	if len(escaped) <= maxIndexSegment {
		return escaped
	}
	sum := sha256.Sum256([]byte(value))
	return "~" + hex.EncodeToString(sum[:])
}

// validStoreName reports whether name can be used as a store or index name
func validStoreName(name string) bool {
	if name == "" || strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".") {
		return false
	}
	return !strings.ContainsAny(name, `/\`)
}
