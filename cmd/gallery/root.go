package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/smartgallery/gallerydb"
	"github.com/smartgallery/gallerydb/config"
	"github.com/smartgallery/gallerydb/gallery"
)

// app carries the global flags and the resources opened for one invocation
type app struct {
	configPath string
	logLevel   string
	jsonOutput bool

	cfg     *config.Config
	logger  *gallerydb.ZapLogger
	metrics *gallerydb.PrometheusMetrics
	db      *gallerydb.DB
}

func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "gallery",
		Short:         "Gallery manages a local photo gallery database",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}

	cmd.Version = version
	cmd.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (.toml, .yaml)")
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().BoolVar(&a.jsonOutput, "json", false, "output JSON")

	cmd.AddCommand(
		newMigrateCmd(a),
		newIngestCmd(a),
		newPhotosCmd(a),
		newCategoriesCmd(a),
		newStatsCmd(a),
	)

	return cmd
}

// init loads configuration and builds the logger and metrics
func (a *app) init() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if strings.TrimSpace(a.logLevel) != "" {
		cfg.Log.Level = a.logLevel
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid --log-level %q: %w", a.logLevel, err)
		}
	}

	logger, err := cfg.Logger()
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = logger
	a.metrics = gallerydb.NewPrometheusMetrics(prometheus.NewRegistry())
	return nil
}

// openDB opens the configured backend without migrating it
func (a *app) openDB(ctx context.Context) (*gallerydb.DB, error) {
	if a.db != nil {
		return a.db, nil
	}
	backend, err := gallerydb.NewBackend(ctx, a.cfg.BackendConfig())
	if err != nil {
		return nil, fmt.Errorf("open backend: %w", err)
	}
	db, err := gallerydb.OpenWithObservability(ctx, backend, a.logger, a.metrics)
	if err != nil {
		backend.Close()
		return nil, err
	}
	a.db = db
	return db, nil
}

// openService opens the database, migrates it and restores default categories
func (a *app) openService(ctx context.Context) (*gallery.Service, error) {
	return a.service(ctx, true)
}

// service opens a migrated gallery. Without restoreDefaults missing default
// categories are left for the caller to restore.
func (a *app) service(ctx context.Context, restoreDefaults bool) (*gallery.Service, error) {
	db, err := a.openDB(ctx)
	if err != nil {
		return nil, err
	}
	transcoder, err := a.cfg.Transcoder()
	if err != nil {
		return nil, err
	}
	opts := gallery.Options{
		Transcoder: transcoder,
		MaxFiles:   a.cfg.Ingest.MaxFiles,
	}
	if restoreDefaults {
		return gallery.Open(ctx, db, opts)
	}
	if _, err := db.Migrate(ctx, gallery.Migrations(nil), gallery.LatestVersion); err != nil {
		return nil, err
	}
	return gallery.NewService(db, opts)
}

func (a *app) close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil && a.logger != nil {
			a.logger.Warn("close database", "error", err)
		}
		a.db = nil
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}
