package gallerydb

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
)

// IndexDef describes a secondary index over one top-level document field
type IndexDef struct {
	Name   string `json:"name"`
	Field  string `json:"field"`
	Unique bool   `json:"unique,omitempty"`
}

// StoreDef describes a named collection of JSON documents keyed by an integer
// identity that lives in the document at KeyPath
type StoreDef struct {
	Name          string     `json:"name"`
	KeyPath       string     `json:"keyPath"`
	AutoIncrement bool       `json:"autoIncrement,omitempty"`
	Indexes       []IndexDef `json:"indexes,omitempty"`
}

// Index returns the named index definition
func (s *StoreDef) Index(name string) (IndexDef, bool) {
	for _, idx := range s.Indexes {
		if idx.Name == name {
			return idx, true
		}
	}
	return IndexDef{}, false
}

// Schema is the persisted store topology plus its version
type Schema struct {
	Version int                  `json:"version"`
	Stores  map[string]*StoreDef `json:"stores"`
}

func newSchema() *Schema {
	return &Schema{Stores: make(map[string]*StoreDef)}
}

// StoreNames returns the store names in ascending order
func (s *Schema) StoreNames() []string {
	names := make([]string, 0, len(s.Stores))
	for name := range s.Stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Schema) clone() *Schema {
	out := &Schema{Version: s.Version, Stores: make(map[string]*StoreDef, len(s.Stores))}
	for name, def := range s.Stores {
		cp := *def
		cp.Indexes = append([]IndexDef(nil), def.Indexes...)
		out.Stores[name] = &cp
	}
	return out
}

func (s *Schema) store(name string) (*StoreDef, error) {
	def, ok := s.Stores[name]
	if !ok {
		return nil, WithContext(ErrUnknownStore, map[string]interface{}{"store": name})
	}
	return def, nil
}

func loadSchema(ctx context.Context, backend Backend) (*Schema, error) {
	data, err := backend.Get(ctx, schemaKey)
	if err != nil {
		if IsNotFound(err) {
			return newSchema(), nil
		}
		return nil, fmt.Errorf("%w: read schema: %w", ErrSchemaMigration, err)
	}
	schema := newSchema()
	if err := json.Unmarshal(data, schema); err != nil {
		return nil, fmt.Errorf("%w: %w: decode schema: %v", ErrSchemaMigration, ErrInvalidData, err)
	}
	if schema.Stores == nil {
		schema.Stores = make(map[string]*StoreDef)
	}
	return schema, nil
}

func (s *Schema) encode() ([]byte, error) {
	return json.Marshal(s)
}
