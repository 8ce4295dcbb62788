// Package store wires together every internal/* component into the single
// handle cmd/bird's commands open once per invocation: config, the
// embedded DuckDB connection (behind an advisory access lock), the schema
// composer, the blob store, and the attempt/outcome/event pipelines.
// Grounded on beads' internal/storage/factory.New, which performs the
// analogous "resolve config, open backend, return one handle" assembly.
package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/teaguesterling/bird/internal/blobstore"
	"github.com/teaguesterling/bird/internal/columnar"
	"github.com/teaguesterling/bird/internal/config"
	"github.com/teaguesterling/bird/internal/errs"
	"github.com/teaguesterling/bird/internal/events"
	"github.com/teaguesterling/bird/internal/formathints"
	"github.com/teaguesterling/bird/internal/invocation"
	"github.com/teaguesterling/bird/internal/lockfile"
	"github.com/teaguesterling/bird/internal/schema"
	"github.com/teaguesterling/bird/internal/tablewriter"
	"github.com/teaguesterling/bird/internal/telemetry"
)

// Store is the assembled handle for one bird data root.
type Store struct {
	Config   config.Config
	DB       *sql.DB
	Schema   *schema.Composer
	Blobs    *blobstore.Store
	Invocations *invocation.Pipeline
	Events   *events.Pipeline
	Hints    *formathints.Store
	Meters   *telemetry.Meters

	lockFile *os.File
}

// Open resolves root (via config.ResolveRoot when empty), loads its
// config, acquires the store access lock, opens the embedded engine, and
// builds the schema/blob/pipeline layers. Callers must call Close.
func Open(ctx context.Context, explicitRoot string) (*Store, error) {
	root, err := config.ResolveRoot(explicitRoot)
	if err != nil {
		return nil, err
	}
	if !config.IsInitialized(root) {
		return nil, errs.NotInitializedf(root)
	}
	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}
	return openWith(ctx, cfg)
}

// Init creates a brand-new store at root with cfg's defaults overridden as
// given, writing config.toml, the directory layout, and the seed parquet
// files (parquet mode) or local schema (duckdb mode).
func Init(ctx context.Context, root string, mode config.StorageMode) (*Store, error) {
	if config.IsInitialized(root) {
		return nil, errs.AlreadyInitializedf(root)
	}
	cfg := config.Default()
	cfg.BirdRoot = root
	cfg.StorageMode = mode

	for _, dir := range []string{cfg.DataDir(), cfg.SQLDir(), cfg.ExtensionsDir(), cfg.RecentDir(), cfg.ArchiveDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errs.IOf(dir, err)
		}
	}
	if err := config.Save(root, cfg); err != nil {
		return nil, err
	}

	s, err := openWith(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if mode == config.StorageParquet {
		for _, table := range schema.Tables {
			if err := columnar.EnsureSeed(cfg, table); err != nil {
				return nil, err
			}
		}
	}
	return s, nil
}

func openWith(ctx context.Context, cfg config.Config) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath()), 0o755); err != nil {
		return nil, errs.IOf(cfg.DBPath(), err)
	}

	lockPath := filepath.Join(cfg.BirdRoot, "db", "access.lock")
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, errs.IOf(lockPath, err)
	}
	if err := lockfile.FlockSharedNonBlock(lockFile); err != nil {
		_ = lockFile.Close()
		return nil, errs.Storagef("acquire store access lock: %w", err)
	}

	db, err := sql.Open("duckdb", cfg.DBPath())
	if err != nil {
		_ = lockFile.Close()
		return nil, errs.Storagef("open duckdb database: %w", err)
	}

	comp, err := schema.Open(ctx, db, cfg)
	if err != nil {
		_ = db.Close()
		_ = lockFile.Close()
		return nil, err
	}

	hints, err := formathints.Load(cfg.FormatHintsPath())
	if err != nil {
		_ = db.Close()
		_ = lockFile.Close()
		return nil, err
	}

	blobs := blobstore.New(db, cfg, nil)
	pipeline := invocation.New(db, cfg, cfg.StorageMode)
	evPipeline := events.New(db, cfg, cfg.StorageMode)

	// Telemetry is ambient instrumentation, not a storage dependency: a
	// failure to build the meter provider (essentially never, in practice)
	// degrades to an unwired store rather than blocking Open.
	meters, err := telemetry.New(ctx)
	if err == nil {
		blobs.SetMeters(meters)
		pipeline.SetMeters(meters)
	} else {
		meters = nil
	}

	return &Store{
		Config: cfg, DB: db, Schema: comp, Blobs: blobs,
		Invocations: pipeline, Events: evPipeline, Hints: hints, Meters: meters, lockFile: lockFile,
	}, nil
}

// Close releases the access lock, flushes telemetry, and closes the
// database handle.
func (s *Store) Close() error {
	var firstErr error
	if s.Meters != nil {
		if err := s.Meters.Shutdown(context.Background()); err != nil && firstErr == nil {
			firstErr = errs.Storagef("shutdown telemetry: %w", err)
		}
	}
	if err := s.DB.Close(); err != nil && firstErr == nil {
		firstErr = errs.Storagef("close duckdb database: %w", err)
	}
	if s.lockFile != nil {
		_ = lockfile.FlockUnlock(s.lockFile)
		if err := s.lockFile.Close(); err != nil && firstErr == nil {
			firstErr = errs.IOf("access.lock", err)
		}
	}
	return firstErr
}

// TableWriter exposes the direct-insert writer for storage_mode=duckdb
// callers (e.g. `bird save` in table-writer mode).
func (s *Store) TableWriter() *tablewriter.Writer { return tablewriter.New(s.DB) }
