package gallerydb

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type testComment struct {
	ID      int64  `json:"id,omitempty"`
	PhotoID int64  `json:"photoId"`
	Text    string `json:"text"`
}

type testReaction struct {
	ID        int64 `json:"id,omitempty"`
	CommentID int64 `json:"commentId"`
}

func setupCascadeStores(t *testing.T, db *DB) {
	t.Helper()
	err := db.Update(context.Background(), func(tx *Tx) error {
		if err := tx.CreateStore(StoreDef{
			Name:          "comments",
			KeyPath:       "id",
			AutoIncrement: true,
			Indexes:       []IndexDef{{Name: "by-photo", Field: "photoId"}},
		}); err != nil {
			return err
		}
		return tx.CreateStore(StoreDef{Name: "reactions", KeyPath: "id", AutoIncrement: true})
	})
	if err != nil {
		t.Fatalf("create cascade stores failed: %v", err)
	}
}

func TestValidateCascadeSpec(t *testing.T) {
	tests := []struct {
		name    string
		spec    CascadeSpec
		wantErr bool
	}{
		{"valid spec", CascadeSpec{ChildStore: "thumbnails", ForeignKeyField: "photoId"}, false},
		{"missing child store", CascadeSpec{ForeignKeyField: "photoId"}, true},
		{"missing foreign key", CascadeSpec{ChildStore: "thumbnails"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCascadeSpec(tt.spec)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateCascadeSpec() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDetectCircularCascade(t *testing.T) {
	tests := []struct {
		name     string
		cascades map[string][]CascadeSpec
		wantErr  bool
	}{
		{
			name: "chain",
			cascades: map[string][]CascadeSpec{
				"photos":   {{ChildStore: "comments", ForeignKeyField: "photoId"}},
				"comments": {{ChildStore: "reactions", ForeignKeyField: "commentId"}},
			},
		},
		{
			name: "self reference",
			cascades: map[string][]CascadeSpec{
				"photos": {{ChildStore: "photos", ForeignKeyField: "parentId"}},
			},
			wantErr: true,
		},
		{
			name: "indirect cycle",
			cascades: map[string][]CascadeSpec{
				"a": {{ChildStore: "b", ForeignKeyField: "aId"}},
				"b": {{ChildStore: "c", ForeignKeyField: "bId"}},
				"c": {{ChildStore: "a", ForeignKeyField: "cId"}},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := DetectCircularCascade(tt.cascades)
			if (err != nil) != tt.wantErr {
				t.Errorf("DetectCircularCascade() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCascadeRegisterRejectsCycle(t *testing.T) {
	db, _ := newTestDB(t)
	cm := NewCascadeManager(db)

	if err := cm.Register("photos", CascadeSpec{ChildStore: "comments", ForeignKeyField: "photoId"}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := cm.Register("comments", CascadeSpec{ChildStore: "photos", ForeignKeyField: "commentId"}); err == nil {
		t.Fatal("expected cycle to be rejected")
	}

	// The rejected spec was not kept
	tree := cm.GetCascadeTree()
	if _, ok := tree["comments"]; ok {
		t.Errorf("rejected spec registered: %v", tree)
	}
}

func TestCascadeDelete(t *testing.T) {
	db, _ := newTestDB(t)
	setupCascadeStores(t, db)
	ctx := context.Background()

	cm := NewCascadeManager(db)
	specs := []struct {
		parent string
		spec   CascadeSpec
	}{
		{"photos", CascadeSpec{ChildStore: "thumbnails", ForeignKeyField: "photoId"}},
		{"photos", CascadeSpec{ChildStore: "comments", ForeignKeyField: "photoId"}},
		{"comments", CascadeSpec{ChildStore: "reactions", ForeignKeyField: "commentId"}},
	}
	for _, s := range specs {
		if err := cm.Register(s.parent, s.spec); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	}

	var target, other, c1, c2, keep int64
	err := db.Update(ctx, func(tx *Tx) error {
		var err error
		if target, err = tx.Add("photos", testPhoto{Filename: "target.jpg"}); err != nil {
			return err
		}
		if other, err = tx.Add("photos", testPhoto{Filename: "other.jpg"}); err != nil {
			return err
		}
		for _, id := range []int64{target, other} {
			if _, err := tx.Add("thumbnails", testThumb{PhotoID: id, Data: []byte("t")}); err != nil {
				return err
			}
		}
		if c1, err = tx.Add("comments", testComment{PhotoID: target, Text: "nice"}); err != nil {
			return err
		}
		if c2, err = tx.Add("comments", testComment{PhotoID: target, Text: "great"}); err != nil {
			return err
		}
		if keep, err = tx.Add("comments", testComment{PhotoID: other, Text: "ok"}); err != nil {
			return err
		}
		for _, cid := range []int64{c1, c2, keep} {
			if _, err := tx.Add("reactions", testReaction{CommentID: cid}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	if err := cm.DeleteWithCascade(ctx, "photos", target); err != nil {
		t.Fatalf("DeleteWithCascade failed: %v", err)
	}

	counts := map[string]int{"photos": 1, "thumbnails": 1, "comments": 1, "reactions": 1}
	for store, want := range counts {
		if n, _ := db.Count(ctx, store); n != want {
			t.Errorf("%s count = %d, want %d", store, n, want)
		}
	}

	var survivor testComment
	if err := db.Get(ctx, "comments", keep, &survivor); err != nil {
		t.Errorf("unrelated comment removed: %v", err)
	}
	if err := db.Get(ctx, "thumbnails", other, &testThumb{}); err != nil {
		t.Errorf("unrelated thumbnail removed: %v", err)
	}

	// Deleting an absent parent succeeds
	if err := cm.DeleteWithCascade(ctx, "photos", target); err != nil {
		t.Errorf("repeat DeleteWithCascade failed: %v", err)
	}
}

func TestCascadeDeleteIsAtomic(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryBackend()
	db, err := Open(ctx, mem)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	setupStores(t, db)

	cm := NewCascadeManager(db)
	cm.Register("photos", CascadeSpec{ChildStore: "thumbnails", ForeignKeyField: "photoId"})

	id, _ := db.Add(ctx, "photos", testPhoto{Filename: "a.jpg"})
	db.Add(ctx, "thumbnails", testThumb{PhotoID: id, Data: []byte("t")})

	db.backend = &failingBackend{Backend: mem, err: errors.New("write failed")}
	if err := cm.DeleteWithCascade(ctx, "photos", id); err == nil {
		t.Fatal("expected cascade to fail")
	}
	db.backend = mem

	if err := db.Get(ctx, "photos", id, &testPhoto{}); err != nil {
		t.Errorf("photo gone after failed cascade: %v", err)
	}
	if err := db.Get(ctx, "thumbnails", id, &testThumb{}); err != nil {
		t.Errorf("thumbnail gone after failed cascade: %v", err)
	}
}

func TestPrintCascadeTree(t *testing.T) {
	db, _ := newTestDB(t)
	cm := NewCascadeManager(db)
	cm.Register("photos", CascadeSpec{ChildStore: "thumbnails", ForeignKeyField: "photoId"})
	cm.Register("comments", CascadeSpec{ChildStore: "reactions", ForeignKeyField: "commentId"})

	out := cm.PrintCascadeTree()
	if !strings.Contains(out, "thumbnails (via photoId)") {
		t.Errorf("tree missing thumbnails: %s", out)
	}
	if strings.Index(out, "comments:") > strings.Index(out, "photos:") {
		t.Errorf("parents not sorted: %s", out)
	}
}
