package gallerydb

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// CascadeSpec defines a parent-child relationship for cascade deletes
type CascadeSpec struct {
	ChildStore      string // e.g., "thumbnails"
	ForeignKeyField string // field in the child that holds the parent identity (e.g., "photoId")
}

// CascadeManager handles declarative cascade delete operations
type CascadeManager struct {
	db       *DB
	cascades map[string][]CascadeSpec // parent store → child cascade specs
}

// NewCascadeManager creates a new cascade manager
func NewCascadeManager(db *DB) *CascadeManager {
	return &CascadeManager{
		db:       db,
		cascades: make(map[string][]CascadeSpec),
	}
}

// Register registers a cascade delete relationship. Registering a spec that
// would close a cycle fails.
//
// Example:
//
//	cm.Register("photos", CascadeSpec{ChildStore: "thumbnails", ForeignKeyField: "photoId"})
func (cm *CascadeManager) Register(parentStore string, spec CascadeSpec) error {
	if err := ValidateCascadeSpec(spec); err != nil {
		return err
	}
	next := make(map[string][]CascadeSpec, len(cm.cascades)+1)
	for k, v := range cm.cascades {
		next[k] = v
	}
	next[parentStore] = append(append([]CascadeSpec(nil), cm.cascades[parentStore]...), spec)
	if err := DetectCircularCascade(next); err != nil {
		return err
	}
	cm.cascades = next
	return nil
}

// DeleteWithCascade removes a parent record and every registered descendant
// in one transaction
func (cm *CascadeManager) DeleteWithCascade(ctx context.Context, parentStore string, id int64) error {
	return cm.db.Update(ctx, func(tx *Tx) error {
		return cm.DeleteInTx(tx, parentStore, id)
	})
}

// DeleteInTx stages a cascading delete inside an existing transaction.
// Children are removed before their parent.
func (cm *CascadeManager) DeleteInTx(tx *Tx, parentStore string, id int64) error {
	for _, spec := range cm.cascades[parentStore] {
		childIDs, err := cm.findChildren(tx, spec, id)
		if err != nil {
			return fmt.Errorf("cascade delete failed for %s->%s: %w", parentStore, spec.ChildStore, err)
		}
		for _, childID := range childIDs {
			if err := cm.DeleteInTx(tx, spec.ChildStore, childID); err != nil {
				return fmt.Errorf("failed to delete child %s/%d: %w", spec.ChildStore, childID, err)
			}
		}
	}
	return tx.Delete(parentStore, id)
}

// findChildren returns the identities of child records that reference parentID
func (cm *CascadeManager) findChildren(tx *Tx, spec CascadeSpec, parentID int64) ([]int64, error) {
	def, err := tx.Store(spec.ChildStore)
	if err != nil {
		return nil, err
	}

	// Children keyed by their parent's identity
	if def.KeyPath == spec.ForeignKeyField {
		ok, err := tx.Exists(spec.ChildStore, parentID)
		if err != nil || !ok {
			return nil, err
		}
		return []int64{parentID}, nil
	}

	var raws []document
	if index, ok := foreignKeyIndex(def, spec.ForeignKeyField); ok {
		matches, err := tx.QueryIndex(spec.ChildStore, index, parentID)
		if err != nil {
			return nil, err
		}
		for _, raw := range matches {
			doc, err := decodeDocument(raw)
			if err != nil {
				return nil, err
			}
			raws = append(raws, doc)
		}
	} else {
		all, err := tx.GetAll(spec.ChildStore)
		if err != nil {
			return nil, err
		}
		want, _ := indexValue(jsonNumber(parentID))
		for _, raw := range all {
			doc, err := decodeDocument(raw)
			if err != nil {
				return nil, err
			}
			if got, ok := indexValue(doc[spec.ForeignKeyField]); ok && got == want {
				raws = append(raws, doc)
			}
		}
	}

	ids := make([]int64, 0, len(raws))
	for _, doc := range raws {
		id, ok, err := doc.identity(def.KeyPath)
		if err != nil {
			return nil, err
		}
		if ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// foreignKeyIndex finds an index the child store declares over field.
// Without one children are found by scan.
func foreignKeyIndex(def StoreDef, field string) (string, bool) {
	for _, idx := range def.Indexes {
		if idx.Field == field {
			return idx.Name, true
		}
	}
	return "", false
}

// ValidateCascadeSpec validates that a cascade spec is properly configured
func ValidateCascadeSpec(spec CascadeSpec) error {
	if spec.ChildStore == "" {
		return fmt.Errorf("cascade spec missing ChildStore")
	}
	if spec.ForeignKeyField == "" {
		return fmt.Errorf("cascade spec missing ForeignKeyField for %s", spec.ChildStore)
	}
	return nil
}

// DetectCircularCascade detects circular cascade dependencies
func DetectCircularCascade(cascades map[string][]CascadeSpec) error {
	visited := make(map[string]bool)
	stack := make(map[string]bool)

	var visit func(store string) error
	visit = func(store string) error {
		if stack[store] {
			return fmt.Errorf("circular cascade detected involving %s", store)
		}
		if visited[store] {
			return nil
		}

		visited[store] = true
		stack[store] = true

		for _, spec := range cascades[store] {
			if err := visit(spec.ChildStore); err != nil {
				return err
			}
		}

		stack[store] = false
		return nil
	}

	for store := range cascades {
		if err := visit(store); err != nil {
			return err
		}
	}

	return nil
}

// GetCascadeTree returns a human-readable representation of cascade relationships
func (cm *CascadeManager) GetCascadeTree() map[string][]string {
	tree := make(map[string][]string)
	for parent, specs := range cm.cascades {
		children := make([]string, len(specs))
		for i, spec := range specs {
			children[i] = fmt.Sprintf("%s (via %s)", spec.ChildStore, spec.ForeignKeyField)
		}
		tree[parent] = children
	}
	return tree
}

// PrintCascadeTree prints a human-readable cascade tree in parent order
func (cm *CascadeManager) PrintCascadeTree() string {
	var sb strings.Builder
	tree := cm.GetCascadeTree()

	parents := make([]string, 0, len(tree))
	for parent := range tree {
		parents = append(parents, parent)
	}
	sort.Strings(parents)

	for _, parent := range parents {
		sb.WriteString(fmt.Sprintf("%s:\n", parent))
		for _, child := range tree[parent] {
			sb.WriteString(fmt.Sprintf("  → %s\n", child))
		}
	}

	return sb.String()
}
