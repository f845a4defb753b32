package gallerydb

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func testMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "photos",
			Up: func(tx *Tx) error {
				return tx.CreateStore(StoreDef{Name: "photos", KeyPath: "id", AutoIncrement: true})
			},
		},
		{
			Version:     2,
			Description: "categories",
			Up: func(tx *Tx) error {
				if err := tx.CreateStore(StoreDef{Name: "categories", KeyPath: "id", AutoIncrement: true}); err != nil {
					return err
				}
				_, err := tx.Put("categories", testCategory{ID: 1, Name: "Family"})
				return err
			},
		},
		{
			Version:     3,
			Description: "photos by category",
			Up: func(tx *Tx) error {
				return tx.CreateIndex("photos", IndexDef{Name: "by-category", Field: "categoryId"})
			},
		},
	}
}

func TestMigrationPlan(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, NewMemoryBackend())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	tests := []struct {
		name       string
		migrations []Migration
		target     int
		pending    int
		wantErr    bool
	}{
		{"latest", testMigrations(), 0, 3, false},
		{"partial", testMigrations(), 2, 2, false},
		{"beyond available", testMigrations(), 4, 0, true},
		{"gap", []Migration{testMigrations()[0], testMigrations()[2]}, 0, 0, true},
		{"missing up", []Migration{{Version: 1, Description: "nil"}}, 0, 0, true},
		{"unsorted input", []Migration{testMigrations()[1], testMigrations()[0]}, 0, 2, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := db.MigrationPlan(tt.migrations, tt.target)
			if tt.wantErr {
				if !errors.Is(err, ErrSchemaMigration) {
					t.Errorf("expected ErrSchemaMigration, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("MigrationPlan failed: %v", err)
			}
			if len(plan.Pending) != tt.pending {
				t.Errorf("pending = %d, want %d", len(plan.Pending), tt.pending)
			}
			for i, m := range plan.Pending {
				if m.Version != i+1 {
					t.Errorf("pending[%d] = version %d", i, m.Version)
				}
			}
		})
	}
}

func TestMigrateStepByStep(t *testing.T) {
	ctx := context.Background()
	core, recorded := observer.New(zapcore.DebugLevel)
	metrics := NewInMemoryMetrics()
	db, err := OpenWithObservability(ctx, NewMemoryBackend(), NewZapLogger(zap.New(core)), metrics)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	result, err := db.Migrate(ctx, testMigrations(), 2)
	if err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	if result.From != 0 || result.To != 2 || len(result.Applied) != 2 {
		t.Errorf("result = %+v", result)
	}

	db.Add(ctx, "photos", map[string]interface{}{"categoryId": 1})

	result, err = db.Migrate(ctx, testMigrations(), 0)
	if err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	if result.From != 2 || result.To != 3 || len(result.Applied) != 1 || result.Applied[0] != 3 {
		t.Errorf("result = %+v", result)
	}
	if db.Version() != 3 {
		t.Errorf("version = %d", db.Version())
	}

	matches, err := db.QueryIndex(ctx, "photos", "by-category", 1)
	if err != nil || len(matches) != 1 {
		t.Errorf("index created by migration = %d records, %v", len(matches), err)
	}

	// Up to date is a no-op
	result, err = db.Migrate(ctx, testMigrations(), 0)
	if err != nil || len(result.Applied) != 0 {
		t.Errorf("repeat Migrate = %+v, %v", result, err)
	}

	if got := metrics.Counter(MetricMigrationApplied); got != 3 {
		t.Errorf("applied counter = %d, want 3", got)
	}
	if got := metrics.Gauges[MetricSchemaVersion]; got != 3 {
		t.Errorf("schema version gauge = %v", got)
	}
	if got := recorded.FilterMessage("schema migrated").Len(); got != 3 {
		t.Errorf("expected 3 migration log entries, got %d", got)
	}
}

func TestMigrateRefusesDowngrade(t *testing.T) {
	ctx := context.Background()
	db, _ := Open(ctx, NewMemoryBackend())

	if _, err := db.Migrate(ctx, testMigrations(), 0); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	_, err := db.Migrate(ctx, testMigrations(), 1)
	if !errors.Is(err, ErrSchemaMigration) {
		t.Errorf("downgrade = %v, want ErrSchemaMigration", err)
	}
	if db.Version() != 3 {
		t.Errorf("version changed to %d", db.Version())
	}
}

func TestMigrateFailureKeepsLastCompletedVersion(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	db, _ := Open(ctx, backend)

	boom := errors.New("step exploded")
	migs := testMigrations()
	migs[1].Up = func(tx *Tx) error {
		if err := tx.CreateStore(StoreDef{Name: "categories", KeyPath: "id"}); err != nil {
			return err
		}
		return boom
	}

	result, err := db.Migrate(ctx, migs, 0)
	if !errors.Is(err, ErrSchemaMigration) || !errors.Is(err, boom) {
		t.Fatalf("Migrate = %v, want ErrSchemaMigration wrapping the step error", err)
	}
	if result.To != 1 {
		t.Errorf("result.To = %d, want 1", result.To)
	}
	if db.Version() != 1 {
		t.Errorf("version = %d, want 1", db.Version())
	}
	db.View(ctx, func(tx *Tx) error {
		if tx.HasStore("categories") {
			t.Error("partial step left a store behind")
		}
		return nil
	})

	// A fresh open sees the same persisted version
	reopened, err := Open(ctx, backend)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if reopened.Version() != 1 {
		t.Errorf("persisted version = %d, want 1", reopened.Version())
	}
}
