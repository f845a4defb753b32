package gallerydb

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// MigrationFunc upgrades the database by one version inside tx. It must be
// safe to re-run: create stores and indexes if absent, seed by upsert.
type MigrationFunc func(tx *Tx) error

// Migration is one schema version step
type Migration struct {
	Version     int           `json:"version"`
	Description string        `json:"description"`
	Up          MigrationFunc `json:"-"`
}

// MigrationPlan describes what Migrate would do
type MigrationPlan struct {
	Current   int         `json:"current"`
	Target    int         `json:"target"`
	Available int         `json:"available"`
	Pending   []Migration `json:"pending"`
}

// UpToDate reports whether no step is pending
func (p MigrationPlan) UpToDate() bool {
	return len(p.Pending) == 0
}

// MigrationResult summarizes a Migrate call
type MigrationResult struct {
	From    int   `json:"from"`
	To      int   `json:"to"`
	Applied []int `json:"applied"`
}

// validateMigrations checks that steps are numbered 1..n without gaps and
// returns them sorted by version
func validateMigrations(migrations []Migration) ([]Migration, error) {
	sorted := append([]Migration(nil), migrations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })
	for i, m := range sorted {
		if m.Version != i+1 {
			return nil, WithContext(ErrSchemaMigration, map[string]interface{}{
				"version": m.Version,
				"reason":  fmt.Sprintf("expected version %d", i+1),
			})
		}
		if m.Up == nil {
			return nil, WithContext(ErrSchemaMigration, map[string]interface{}{
				"version": m.Version,
				"reason":  "step has no Up function",
			})
		}
	}
	return sorted, nil
}

// MigrationPlan reports the steps Migrate would apply to reach target. A
// target of zero means the latest available version.
func (db *DB) MigrationPlan(migrations []Migration, target int) (MigrationPlan, error) {
	sorted, err := validateMigrations(migrations)
	if err != nil {
		return MigrationPlan{}, err
	}
	available := len(sorted)
	if target == 0 {
		target = available
	}
	if target < 0 || target > available {
		return MigrationPlan{}, WithContext(ErrSchemaMigration, map[string]interface{}{
			"target":    target,
			"available": available,
			"reason":    "no step reaches the target version",
		})
	}

	current := db.Version()
	if current > target {
		return MigrationPlan{}, WithContext(ErrSchemaMigration, map[string]interface{}{
			"current": current,
			"target":  target,
			"reason":  "persisted version is newer than the target; downgrades are not supported",
		})
	}

	plan := MigrationPlan{Current: current, Target: target, Available: available}
	for _, m := range sorted {
		if m.Version > current && m.Version <= target {
			plan.Pending = append(plan.Pending, m)
		}
	}
	return plan, nil
}

// Migrate brings the database to target by running every pending step in
// order. Each step and its version bump commit as one atomic transaction, so
// a failure leaves the database fully at the last completed version.
func (db *DB) Migrate(ctx context.Context, migrations []Migration, target int) (MigrationResult, error) {
	plan, err := db.MigrationPlan(migrations, target)
	if err != nil {
		return MigrationResult{}, err
	}

	result := MigrationResult{From: plan.Current, To: plan.Current}
	if plan.UpToDate() {
		db.logger.Debug("schema up to date", "version", plan.Current)
		return result, nil
	}

	for _, m := range plan.Pending {
		start := time.Now()
		err := db.Update(ctx, func(tx *Tx) error {
			if err := m.Up(tx); err != nil {
				return err
			}
			return tx.setVersion(m.Version)
		})
		if err != nil {
			db.logger.Error("schema migration failed",
				"version", m.Version,
				"description", m.Description,
				"error", err,
			)
			return result, fmt.Errorf("%w: version %d (%s): %w", ErrSchemaMigration, m.Version, m.Description, err)
		}

		result.To = m.Version
		result.Applied = append(result.Applied, m.Version)
		db.metrics.Increment(MetricMigrationApplied)
		db.metrics.Gauge(MetricSchemaVersion, float64(m.Version))
		db.logger.Info("schema migrated",
			"version", m.Version,
			"description", m.Description,
			"duration", time.Since(start),
		)
	}
	return result, nil
}
