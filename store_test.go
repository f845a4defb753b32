package gallerydb

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
)

type testPhoto struct {
	ID         int64  `json:"id,omitempty"`
	Filename   string `json:"filename"`
	CategoryID int64  `json:"categoryId"`
	Date       string `json:"date,omitempty"`
}

type testCategory struct {
	ID   int64  `json:"id,omitempty"`
	Name string `json:"name"`
}

type testThumb struct {
	PhotoID int64  `json:"photoId"`
	Data    []byte `json:"data"`
}

var testStores = []StoreDef{
	{
		Name:          "photos",
		KeyPath:       "id",
		AutoIncrement: true,
		Indexes:       []IndexDef{{Name: "by-category", Field: "categoryId"}},
	},
	{
		Name:          "categories",
		KeyPath:       "id",
		AutoIncrement: true,
		Indexes:       []IndexDef{{Name: "by-name", Field: "name", Unique: true}},
	},
	{
		Name:    "thumbnails",
		KeyPath: "photoId",
	},
}

func setupStores(t *testing.T, db *DB) {
	t.Helper()
	err := db.Update(context.Background(), func(tx *Tx) error {
		for _, def := range testStores {
			if err := tx.CreateStore(def); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("create stores failed: %v", err)
	}
}

func newTestDB(t *testing.T) (*DB, *InMemoryMetrics) {
	t.Helper()
	metrics := NewInMemoryMetrics()
	db, err := OpenWithObservability(context.Background(), NewMemoryBackend(), &NoOpLogger{}, metrics)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	setupStores(t, db)
	return db, metrics
}

func TestDBSingleRecordOperations(t *testing.T) {
	db, metrics := newTestDB(t)
	ctx := context.Background()

	id, err := db.Add(ctx, "photos", testPhoto{Filename: "a.jpg", CategoryID: 2})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if id != 1 {
		t.Errorf("first id = %d, want 1", id)
	}

	var got testPhoto
	if err := db.Get(ctx, "photos", id, &got); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ID != id || got.Filename != "a.jpg" || got.CategoryID != 2 {
		t.Errorf("Get = %+v", got)
	}

	got.Filename = "b.jpg"
	if _, err := db.Put(ctx, "photos", got); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	raws, err := db.GetAll(ctx, "photos")
	if err != nil {
		t.Fatalf("GetAll failed: %v", err)
	}
	if len(raws) != 1 {
		t.Fatalf("GetAll returned %d records", len(raws))
	}
	var decoded testPhoto
	json.Unmarshal(raws[0], &decoded)
	if decoded.Filename != "b.jpg" {
		t.Errorf("after Put filename = %q", decoded.Filename)
	}

	matches, err := db.QueryIndex(ctx, "photos", "by-category", 2)
	if err != nil || len(matches) != 1 {
		t.Errorf("QueryIndex = %d records, %v", len(matches), err)
	}

	if n, _ := db.Count(ctx, "photos"); n != 1 {
		t.Errorf("Count = %d", n)
	}

	if err := db.Delete(ctx, "photos", id); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := db.Get(ctx, "photos", id, &got); !IsNotFound(err) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if metrics.Counter(MetricStoreOps) == 0 {
		t.Error("store operations were not counted")
	}
	if metrics.Counter(MetricTransactionCommit) == 0 {
		t.Error("commits were not counted")
	}
}

func TestDBUnknownStore(t *testing.T) {
	db, _ := newTestDB(t)
	ctx := context.Background()

	if _, err := db.Add(ctx, "albums", testPhoto{}); !errors.Is(err, ErrUnknownStore) {
		t.Errorf("Add = %v, want ErrUnknownStore", err)
	}
	if _, err := db.GetAll(ctx, "albums"); !errors.Is(err, ErrUnknownStore) {
		t.Errorf("GetAll = %v, want ErrUnknownStore", err)
	}
	if _, err := db.QueryIndex(ctx, "photos", "by-color", "red"); !errors.Is(err, ErrUnknownIndex) {
		t.Errorf("QueryIndex = %v, want ErrUnknownIndex", err)
	}
}

func TestDBSchemaPersistsAcrossOpen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	backends := []struct {
		name string
		open func() (Backend, error)
	}{
		{"Filesystem", func() (Backend, error) { return OpenFilesystemBackend(ctx, filepath.Join(dir, "fs")) }},
		{"SQLite", func() (Backend, error) { return NewSQLiteBackend(ctx, filepath.Join(dir, "g.db")) }},
	}

	for _, tc := range backends {
		t.Run(tc.name, func(t *testing.T) {
			backend, err := tc.open()
			if err != nil {
				t.Fatalf("open failed: %v", err)
			}
			db, err := Open(ctx, backend)
			if err != nil {
				t.Fatalf("Open failed: %v", err)
			}
			setupStores(t, db)
			id, err := db.Add(ctx, "photos", testPhoto{Filename: "kept.jpg", CategoryID: 4})
			if err != nil {
				t.Fatalf("Add failed: %v", err)
			}
			db.Close()

			backend, err = tc.open()
			if err != nil {
				t.Fatalf("reopen failed: %v", err)
			}
			db, err = Open(ctx, backend)
			if err != nil {
				t.Fatalf("Open failed: %v", err)
			}
			defer db.Close()

			err = db.View(ctx, func(tx *Tx) error {
				if names := tx.StoreNames(); len(names) != len(testStores) {
					t.Errorf("StoreNames = %v", names)
				}
				photos, err := QueryIndex[testPhoto](tx, "photos", "by-category", 4)
				if err != nil {
					return err
				}
				if len(photos) != 1 || photos[0].ID != id {
					t.Errorf("QueryIndex after reopen = %+v", photos)
				}
				return nil
			})
			if err != nil {
				t.Fatalf("View failed: %v", err)
			}

			// The sequence survives too
			next, err := db.Add(ctx, "photos", testPhoto{Filename: "next.jpg"})
			if err != nil {
				t.Fatalf("Add failed: %v", err)
			}
			if next != id+1 {
				t.Errorf("next id = %d, want %d", next, id+1)
			}
		})
	}
}

func TestDBClosed(t *testing.T) {
	db, _ := newTestDB(t)
	ctx := context.Background()

	if err := db.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
	if err := db.Update(ctx, func(tx *Tx) error { return nil }); !errors.Is(err, ErrClosed) {
		t.Errorf("Update after close = %v", err)
	}
	if err := db.View(ctx, func(tx *Tx) error { return nil }); !errors.Is(err, ErrClosed) {
		t.Errorf("View after close = %v", err)
	}
}

func TestDBOpenRequiresBackend(t *testing.T) {
	if _, err := Open(context.Background(), nil); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Open(nil) = %v, want ErrInvalidConfig", err)
	}
}

// unreadableBackend fails every read
type unreadableBackend struct {
	Backend
}

func (b *unreadableBackend) Get(ctx context.Context, key string) ([]byte, error) {
	return nil, errors.New("device not ready")
}

func TestDBOpenBrokenSchema(t *testing.T) {
	ctx := context.Background()

	corrupt := NewMemoryBackend()
	if err := corrupt.Put(ctx, schemaKey, []byte("not json")); err != nil {
		t.Fatal(err)
	}
	_, err := Open(ctx, corrupt)
	if !errors.Is(err, ErrSchemaMigration) || !errors.Is(err, ErrInvalidData) {
		t.Errorf("Open(corrupt schema) = %v, want ErrSchemaMigration and ErrInvalidData", err)
	}

	_, err = Open(ctx, &unreadableBackend{Backend: NewMemoryBackend()})
	if !errors.Is(err, ErrSchemaMigration) {
		t.Errorf("Open(unreadable schema) = %v, want ErrSchemaMigration", err)
	}
}

func TestDBConcurrentAdds(t *testing.T) {
	db, _ := newTestDB(t)
	ctx := context.Background()

	const workers = 8
	const perWorker = 10

	var wg sync.WaitGroup
	ids := make(chan int64, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				id, err := db.Add(ctx, "photos", testPhoto{Filename: "c.jpg", CategoryID: 1})
				if err != nil {
					t.Errorf("Add failed: %v", err)
					return
				}
				ids <- id
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[int64]bool)
	for id := range ids {
		if seen[id] {
			t.Fatalf("identity %d assigned twice", id)
		}
		seen[id] = true
	}
	if n, _ := db.Count(ctx, "photos"); n != workers*perWorker {
		t.Errorf("Count = %d, want %d", n, workers*perWorker)
	}
}
