package gallerydb

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// document is a decoded record. Numbers stay json.Number so identities and
// indexed values survive a round trip without float rounding.
type document map[string]interface{}

func decodeDocument(data []byte) (document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: record is not a JSON object", ErrInvalidData)
	}
	return doc, nil
}

// toDocument converts any JSON-serializable object into a document
func toDocument(value interface{}) (document, error) {
	if raw, ok := value.(json.RawMessage); ok {
		return decodeDocument(raw)
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal: %v", ErrInvalidData, err)
	}
	return decodeDocument(data)
}

// identity reads the key path. A missing, null or zero key reports false.
func (d document) identity(keyPath string) (int64, bool, error) {
	raw, ok := d[keyPath]
	if !ok || raw == nil {
		return 0, false, nil
	}
	num, ok := raw.(json.Number)
	if !ok {
		return 0, false, fmt.Errorf("%w: key path %q is not a number", ErrInvalidData, keyPath)
	}
	id, err := num.Int64()
	if err != nil {
		return 0, false, fmt.Errorf("%w: key path %q: %v", ErrInvalidData, keyPath, err)
	}
	if id < 0 {
		return 0, false, fmt.Errorf("%w: key path %q is negative", ErrInvalidData, keyPath)
	}
	return id, id != 0, nil
}

func (d document) setIdentity(keyPath string, id int64) {
	d[keyPath] = jsonNumber(id)
}

func jsonNumber(id int64) json.Number {
	return json.Number(strconv.FormatInt(id, 10))
}

func (d document) encode() ([]byte, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal: %v", ErrInvalidData, err)
	}
	return data, nil
}

// indexValue normalizes a field value into its index form. Strings, numbers
// and booleans are indexable; anything else is skipped, so a record without
// the field is simply absent from the index.
func indexValue(v interface{}) (string, bool) {
	switch val := v.(type) {
	case string:
		return "s" + val, true
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return fmt.Sprintf("n%d", i), true
		}
		if f, err := val.Float64(); err == nil {
			return formatFloatValue(f), true
		}
		return "n" + val.String(), true
	case bool:
		if val {
			return "b1", true
		}
		return "b0", true
	default:
		return "", false
	}
}

func formatFloatValue(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return fmt.Sprintf("n%d", int64(f))
	}
	return fmt.Sprintf("n%g", f)
}

// queryValue normalizes a caller-supplied lookup value the same way stored
// values are normalized
func queryValue(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("%w: index value: %v", ErrInvalidData, err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var decoded interface{}
	if err := dec.Decode(&decoded); err != nil {
		return "", fmt.Errorf("%w: index value: %v", ErrInvalidData, err)
	}
	value, ok := indexValue(decoded)
	if !ok {
		return "", fmt.Errorf("%w: index value %v is not a string, number or boolean", ErrInvalidData, v)
	}
	return value, nil
}

// indexedValue returns the normalized value a document contributes to idx
func indexedValue(idx IndexDef, doc document) (string, bool) {
	return indexValue(doc[idx.Field])
}

// indexEntry is one key of a secondary index
type indexEntry struct {
	index string
	value string
	key   string
}

// indexEntries lists the index keys a document owns
func indexEntries(def *StoreDef, doc document, id int64) []indexEntry {
	kb := KeyBuilder{Store: def.Name}
	entries := make([]indexEntry, 0, len(def.Indexes))
	for _, idx := range def.Indexes {
		value, ok := indexedValue(idx, doc)
		if !ok {
			continue
		}
		entries = append(entries, indexEntry{
			index: idx.Name,
			value: value,
			key:   kb.IndexEntry(idx.Name, value, id),
		})
	}
	return entries
}
