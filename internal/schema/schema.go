// Package schema builds the logical surface bird's callers query: the
// local tables/glob-views, cached-peer snapshots, live-remote attachments,
// and the union views that compose them (spec.md §4.5).
package schema

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/teaguesterling/bird/internal/config"
	"github.com/teaguesterling/bird/internal/errs"
)

// Tables lists the five logical entity tables every schema exposes
// (spec.md §3).
var Tables = []string{"sessions", "attempts", "outcomes", "outputs", "events"}

// localDDL is the embedded-engine-native table/registry definitions used
// in table-writer mode (spec.md §4.4) and as the row shape cached/remote
// schemas must match (spec.md §4.10 "peer schema ensurance").
const localDDL = `
CREATE SCHEMA IF NOT EXISTS local;

CREATE TABLE IF NOT EXISTS local.sessions (
	session_id    VARCHAR PRIMARY KEY,
	client_id     VARCHAR,
	invoker       VARCHAR,
	invoker_pid   BIGINT,
	invoker_type  VARCHAR,
	registered_at TIMESTAMP,
	cwd           VARCHAR,
	date          DATE
);

CREATE TABLE IF NOT EXISTS local.attempts (
	id              VARCHAR PRIMARY KEY,
	timestamp       TIMESTAMP,
	session_id      VARCHAR,
	client_id       VARCHAR,
	hostname        VARCHAR,
	username        VARCHAR,
	cmd             VARCHAR,
	cwd             VARCHAR,
	executable_hint VARCHAR,
	format_hint     VARCHAR,
	tag             VARCHAR,
	machine_id      VARCHAR,
	metadata        JSON,
	date            DATE
);

CREATE TABLE IF NOT EXISTS local.outcomes (
	attempt_id   VARCHAR PRIMARY KEY,
	completed_at TIMESTAMP,
	exit_code    INTEGER,
	duration_ms  BIGINT,
	signal       INTEGER,
	timeout      BOOLEAN,
	metadata     JSON,
	date         DATE
);

CREATE TABLE IF NOT EXISTS local.outputs (
	id            VARCHAR PRIMARY KEY,
	invocation_id VARCHAR,
	stream        VARCHAR,
	content_hash  VARCHAR,
	byte_length   BIGINT,
	storage_type  VARCHAR,
	storage_ref   VARCHAR,
	content_type  VARCHAR,
	date          DATE
);

CREATE TABLE IF NOT EXISTS local.events (
	id            VARCHAR PRIMARY KEY,
	invocation_id VARCHAR,
	client_id     VARCHAR,
	hostname      VARCHAR,
	event_type    VARCHAR,
	severity      VARCHAR,
	ref_file      VARCHAR,
	ref_line      BIGINT,
	ref_column    BIGINT,
	message       VARCHAR,
	error_code    VARCHAR,
	test_name     VARCHAR,
	status        VARCHAR,
	format_used   VARCHAR,
	date          DATE,
	extracted_at  TIMESTAMP
);

CREATE TABLE IF NOT EXISTS local.blob_registry (
	content_hash  VARCHAR PRIMARY KEY,
	byte_length   BIGINT,
	ref_count     BIGINT,
	first_seen    TIMESTAMP,
	last_accessed TIMESTAMP,
	storage_path  VARCHAR
);

CREATE TABLE IF NOT EXISTS local.event_tombstones (
	invocation_id VARCHAR PRIMARY KEY,
	deleted_at    TIMESTAMP
);
`

// Composer owns the union-view definitions layered over whichever backing
// form (parquet glob-views or direct tables) the local schema takes.
type Composer struct {
	db   *sql.DB
	cfg  config.Config
	mode config.StorageMode

	cached  []string // names of attached cached_<name> schemas
	remotes []string // names of attached remote_<name> schemas
}

// Open ensures the local schema/registry exists and (re-)builds every union
// view, per spec.md §4.5/§9: view definitions are re-issued defensively on
// every open, since crash-mid-rebuild recovery is engine-dependent.
func Open(ctx context.Context, db *sql.DB, cfg config.Config) (*Composer, error) {
	c := &Composer{db: db, cfg: cfg, mode: cfg.StorageMode}
	if err := c.ensureLocal(ctx); err != nil {
		return nil, err
	}
	if err := c.rebuildUnions(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Composer) ensureLocal(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, localDDL); err != nil {
		return errs.Storagef("ensure local schema: %w", err)
	}
	if c.mode == config.StorageParquet {
		if err := c.createGlobViews(ctx, "local", c.cfg.RecentDir()); err != nil {
			return err
		}
	}
	return nil
}

// createGlobViews creates CREATE OR REPLACE VIEW <schema>.<table> AS
// SELECT * FROM read_parquet('<dir>/<table>/date=*/*.parquet', union_by_name=true)
// for each logical table, matching DuckDB's native parquet glob support
// (spec.md §4.3's files are always readable this way; the date=1970-01-01
// seed partition keeps the glob non-empty).
func (c *Composer) createGlobViews(ctx context.Context, schemaName, dir string) error {
	for _, t := range Tables {
		glob := fmt.Sprintf("%s/%s/date=*/*.parquet", dir, t)
		stmt := fmt.Sprintf(
			`CREATE OR REPLACE VIEW %s.%s AS SELECT * FROM read_parquet('%s', union_by_name=true, hive_partitioning=true)`,
			quoteIdent(schemaName), t, glob)
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return errs.Storagef("create glob view %s.%s: %w", schemaName, t, err)
		}
	}
	return nil
}

func quoteIdent(s string) string { return `"` + strings.ReplaceAll(s, `"`, `""`) + `"` }

// EnsurePeerSchema creates the five logical tables (plus blob_registry)
// under the given schema name if absent (spec.md §4.10 "peer schema
// ensurance"), used both for a freshly-attached live remote and for a
// freshly-created cached_<name> snapshot.
func (c *Composer) EnsurePeerSchema(ctx context.Context, schemaName string) error {
	ddl := strings.ReplaceAll(localDDL, "local", schemaName)
	if _, err := c.db.ExecContext(ctx, ddl); err != nil {
		return errs.Storagef("ensure peer schema %s: %w", schemaName, err)
	}
	return nil
}

// AddCached registers a pulled peer's snapshot schema (spec.md §4.5
// `cached_<name>`) and rebuilds the union views inside one transaction.
func (c *Composer) AddCached(ctx context.Context, name string) error {
	schemaName := "cached_" + name
	return c.withTx(ctx, func(tx *sql.Tx) error {
		if err := c.ensurePeerSchemaTx(ctx, tx, schemaName); err != nil {
			return err
		}
		for _, n := range c.cached {
			if n == name {
				return nil
			}
		}
		c.cached = append(c.cached, name)
		return c.rebuildUnionsTx(ctx, tx)
	})
}

// RemoveCached drops name from the composer's cached set and rebuilds the
// union views, atomically (spec.md §4.5 "never leave caches.* dangling").
func (c *Composer) RemoveCached(ctx context.Context, name string) error {
	return c.withTx(ctx, func(tx *sql.Tx) error {
		kept := c.cached[:0:0]
		for _, n := range c.cached {
			if n != name {
				kept = append(kept, n)
			}
		}
		c.cached = kept
		return c.rebuildUnionsTx(ctx, tx)
	})
}

// AddRemote registers a live-attached peer (spec.md §4.5 `remote_<name>`).
func (c *Composer) AddRemote(ctx context.Context, name string) error {
	return c.withTx(ctx, func(tx *sql.Tx) error {
		for _, n := range c.remotes {
			if n == name {
				return nil
			}
		}
		c.remotes = append(c.remotes, name)
		return c.rebuildUnionsTx(ctx, tx)
	})
}

func (c *Composer) RemoveRemote(ctx context.Context, name string) error {
	return c.withTx(ctx, func(tx *sql.Tx) error {
		kept := c.remotes[:0:0]
		for _, n := range c.remotes {
			if n != name {
				kept = append(kept, n)
			}
		}
		c.remotes = kept
		return c.rebuildUnionsTx(ctx, tx)
	})
}

func (c *Composer) ensurePeerSchemaTx(ctx context.Context, tx *sql.Tx, schemaName string) error {
	ddl := strings.ReplaceAll(localDDL, "local", schemaName)
	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return errs.Storagef("ensure peer schema %s: %w", schemaName, err)
	}
	return nil
}

// withTx runs fn inside an explicit BEGIN/COMMIT, rolling back on any error
// (spec.md §4.5 "use an explicit transaction and roll back on failure").
func (c *Composer) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Storagef("begin schema transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return errs.Storagef("commit schema transaction: %w", err)
	}
	return nil
}

func (c *Composer) rebuildUnions(ctx context.Context) error {
	return c.withTx(ctx, func(tx *sql.Tx) error { return c.rebuildUnionsTx(ctx, tx) })
}

// rebuildUnionsTx (re)creates caches, remotes, main, unified, cwd and the
// invocations view, all union-by-name (spec.md §4.5).
func (c *Composer) rebuildUnionsTx(ctx context.Context, tx *sql.Tx) error {
	for _, t := range Tables {
		if err := c.unionView(ctx, tx, "caches", t, c.cached, "cached_"); err != nil {
			return err
		}
		if err := c.unionView(ctx, tx, "remotes", t, c.remotes, "remote_"); err != nil {
			return err
		}
		mainSQL := fmt.Sprintf(
			`CREATE OR REPLACE VIEW main.%s AS
			 SELECT *, 'local' AS _source FROM local.%s
			 UNION ALL BY NAME
			 SELECT * FROM caches.%s`, t, t, t)
		if t == "events" {
			// Deletion in parquet mode cannot rewrite already-flushed files
			// (spec.md §4.3), so local.events rows are hidden rather than
			// removed: a tombstone marks invocation_id deleted as of
			// deleted_at, and only events extracted after that instant (a
			// later re-extraction) remain visible (spec.md §4.7/§8
			// idempotence).
			mainSQL = fmt.Sprintf(
				`CREATE OR REPLACE VIEW main.%s AS
				 SELECT e.*, 'local' AS _source FROM local.%s e
				 LEFT JOIN local.event_tombstones tomb ON tomb.invocation_id = e.invocation_id
				 WHERE tomb.invocation_id IS NULL OR e.extracted_at > tomb.deleted_at
				 UNION ALL BY NAME
				 SELECT * FROM caches.%s`, t, t, t)
		}
		if _, err := tx.ExecContext(ctx, mainSQL); err != nil {
			return errs.Storagef("create main.%s: %w", t, err)
		}
		unifiedSQL := fmt.Sprintf(
			`CREATE OR REPLACE VIEW unified.%s AS
			 SELECT * FROM main.%s
			 UNION ALL BY NAME
			 SELECT * FROM remotes.%s`, t, t, t)
		if _, err := tx.ExecContext(ctx, unifiedSQL); err != nil {
			return errs.Storagef("create unified.%s: %w", t, err)
		}
		qualifiedSQL := fmt.Sprintf(
			`CREATE OR REPLACE VIEW unified.qualified_%s AS
			 SELECT * EXCLUDE (_source), list(DISTINCT _source) AS _sources
			 FROM unified.%s GROUP BY ALL`, t, t)
		if _, err := tx.ExecContext(ctx, qualifiedSQL); err != nil {
			return errs.Storagef("create unified.qualified_%s: %w", t, err)
		}
	}

	if err := c.invocationsView(ctx, tx, "main"); err != nil {
		return err
	}
	if err := c.invocationsView(ctx, tx, "unified"); err != nil {
		return err
	}
	if err := c.cwdView(ctx, tx); err != nil {
		return err
	}
	return nil
}

// unionView builds a union-by-name view over every "<prefix><name>.<table>"
// schema, or an empty placeholder when names is empty (spec.md §4.5:
// "placeholder schemas ensure queries remain valid when no peer data
// exists").
func (c *Composer) unionView(ctx context.Context, tx *sql.Tx, into, table string, names []string, prefix string) error {
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", into)); err != nil {
		return errs.Storagef("create schema %s: %w", into, err)
	}
	if len(names) == 0 {
		stmt := fmt.Sprintf(`CREATE OR REPLACE VIEW %s.%s AS SELECT *, NULL AS _source FROM local.%s WHERE FALSE`, into, table, table)
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return errs.Storagef("create placeholder %s.%s: %w", into, table, err)
		}
		return nil
	}

	var parts []string
	for _, n := range names {
		parts = append(parts, fmt.Sprintf(`SELECT *, '%s' AS _source FROM %s%s.%s`, n, prefix, n, table))
	}
	stmt := fmt.Sprintf(`CREATE OR REPLACE VIEW %s.%s AS %s`, into, table, strings.Join(parts, "\nUNION ALL BY NAME\n"))
	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return errs.Storagef("create union %s.%s: %w", into, table, err)
	}
	return nil
}

// invocationsView builds the canonical `attempts LEFT JOIN outcomes` view
// with derived status (spec.md §4.5/§3).
func (c *Composer) invocationsView(ctx context.Context, tx *sql.Tx, schemaName string) error {
	stmt := fmt.Sprintf(`
		CREATE OR REPLACE VIEW %s.invocations AS
		SELECT
			a.*,
			CASE
				WHEN o.attempt_id IS NULL THEN 'pending'
				WHEN o.exit_code IS NULL THEN 'orphaned'
				ELSE 'completed'
			END AS status,
			o.exit_code AS exit_code,
			o.duration_ms AS duration_ms
		FROM %s.attempts a
		LEFT JOIN %s.outcomes o ON o.attempt_id = a.id`,
		schemaName, schemaName, schemaName)
	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return errs.Storagef("create %s.invocations: %w", schemaName, err)
	}
	return nil
}

// cwdView restricts main.invocations to the process's current working
// directory (spec.md §4.5), rebuilt on connection open.
func (c *Composer) cwdView(ctx context.Context, tx *sql.Tx) error {
	stmt := `CREATE OR REPLACE VIEW cwd AS SELECT * FROM main.invocations WHERE cwd = current_setting('bird.cwd')`
	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return errs.Storagef("create cwd view: %w", err)
	}
	return nil
}
