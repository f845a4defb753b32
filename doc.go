// Package gallerydb is an embedded, versioned, multi-store object database.
//
// # Overview
//
// Records are JSON documents grouped into named stores and keyed by an
// integer identity held at the store's key path. gallerydb provides:
//
//   - Three interchangeable backends: memory, local filesystem and SQLite
//   - Secondary indexes over top-level fields, optionally unique
//   - Transactions over any number of stores, committed as one atomic batch
//   - Declarative cascade deletes
//   - Versioned schema migrations, one atomic transaction per version
//   - Observability through zap logging and Prometheus metrics
//
// # Quick Start
//
//	backend, err := gallerydb.OpenFilesystemBackend(ctx, "./data")
//	db, err := gallerydb.Open(ctx, backend)
//	defer db.Close()
//
//	err = db.Update(ctx, func(tx *gallerydb.Tx) error {
//	    if err := tx.CreateStore(gallerydb.StoreDef{
//	        Name:          "photos",
//	        KeyPath:       "id",
//	        AutoIncrement: true,
//	        Indexes:       []gallerydb.IndexDef{{Name: "by-category", Field: "categoryId"}},
//	    }); err != nil {
//	        return err
//	    }
//	    _, err := tx.Add("photos", Photo{Filename: "a.jpg", CategoryID: 3})
//	    return err
//	})
//
//	photos, err := gallerydb.QueryIndex[Photo](tx, "photos", "by-category", 3)
//
// # Migrations
//
// A migration list numbers its steps 1..n. Migrate runs every step above the
// persisted version, each in its own transaction together with the version
// bump, and refuses to run against a database newer than the target.
//
//	result, err := db.Migrate(ctx, []gallerydb.Migration{
//	    {Version: 1, Description: "initial stores", Up: createStores},
//	}, 0)
//
// # Backends
//
// Every backend implements Batch atomically. FilesystemBackend writes a redo
// journal before applying a batch and replays it on open, so a crash never
// leaves a half-applied transaction. SQLiteBackend maps a batch onto one SQL
// transaction. A full disk surfaces as ErrQuotaExceeded on every backend.
package gallerydb
