// Package replication implements spec.md §4.10: attaching a peer store
// under remote_<name>, pushing local data to it, and pulling peer data
// into a local cached_<name> snapshot, both NOT EXISTS-gated for
// idempotence.
package replication

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/teaguesterling/bird/internal/config"
	"github.com/teaguesterling/bird/internal/errs"
	"github.com/teaguesterling/bird/internal/extinstall"
	"github.com/teaguesterling/bird/internal/schema"
)

// pushOrder is the dependency order spec.md §4.10 Push step 2 requires:
// sessions must exist before attempts reference them, attempts before
// outcomes/outputs/events reference theirs.
var pushOrder = []string{"sessions", "attempts", "outcomes", "outputs", "events"}

// Peer wraps one attached remote's schema handle.
type Peer struct {
	db     *sql.DB
	comp   *schema.Composer
	remote config.Remote
}

// Attach runs the peer's ATTACH statement and ensures its logical tables
// exist (spec.md §4.10 "peer schema ensurance").
func Attach(ctx context.Context, db *sql.DB, comp *schema.Composer, remote config.Remote) (*Peer, error) {
	switch remote.Type {
	case config.RemoteS3:
		if err := extinstall.Ensure(ctx, db, "httpfs"); err != nil {
			return nil, err
		}
	case config.RemoteMotherDuck:
		if err := extinstall.Ensure(ctx, db, "motherduck"); err != nil {
			return nil, err
		}
	case config.RemotePostgres:
		if err := extinstall.Ensure(ctx, db, "postgres"); err != nil {
			return nil, err
		}
	}

	if _, err := db.ExecContext(ctx, remote.AttachSQL()); err != nil {
		return nil, errs.Storagef("attach remote %s: %w", remote.Name, err)
	}
	if err := comp.EnsurePeerSchema(ctx, remote.SchemaName()); err != nil {
		return nil, err
	}
	if err := comp.AddRemote(ctx, remote.Name); err != nil {
		return nil, err
	}
	return &Peer{db: db, comp: comp, remote: remote}, nil
}

// PushOptions configures one Push call (spec.md §4.10 Push).
type PushOptions struct {
	Since     string // optional date lower bound, inclusive
	DryRun    bool
	SyncBlobs bool
	LocalBlobRoot string
	PeerBlobRoot  string // only meaningful for file-type remotes
}

// PushStats reports rows/blobs transferred.
type PushStats struct {
	RowsInserted  map[string]int64
	BlobsLinked   int
	BlobsCopied   int
}

// Push copies local data into the attached peer (spec.md §4.10 Push).
func (p *Peer) Push(ctx context.Context, opts PushOptions) (PushStats, error) {
	stats := PushStats{RowsInserted: map[string]int64{}}
	if p.remote.Mode == config.ModeReadOnly && !opts.DryRun {
		return stats, errs.Storagef("push: remote %s is read_only", p.remote.Name)
	}

	schemaName := p.remote.SchemaName()

	for _, table := range pushOrder {
		if opts.DryRun {
			n, err := p.countMissing(ctx, "local", schemaName, table, opts.Since, false)
			if err != nil {
				return stats, err
			}
			stats.RowsInserted[table] = n
			continue
		}
		n, err := p.insertMissing(ctx, "local", schemaName, table, opts.Since, false)
		if err != nil {
			return stats, err
		}
		stats.RowsInserted[table] = n
	}

	if opts.SyncBlobs && p.remote.Type == config.RemoteFile && !opts.DryRun {
		linked, copied, err := syncBlobsTo(ctx, p.db, "local", schemaName, opts.LocalBlobRoot, opts.PeerBlobRoot)
		if err != nil {
			return stats, err
		}
		stats.BlobsLinked, stats.BlobsCopied = linked, copied
	}
	return stats, nil
}

// PullOptions configures one Pull call (spec.md §4.10 Pull).
type PullOptions struct {
	Since     string
	ClientID  string
	SyncBlobs bool
	LocalBlobRoot string
	PeerBlobRoot  string
}

// PullStats reports rows/blobs transferred into the cache.
type PullStats struct {
	RowsInserted map[string]int64
	BlobsLinked  int
	BlobsCopied  int
}

// Pull copies peer data into cached_<name> (spec.md §4.10 Pull).
func (p *Peer) Pull(ctx context.Context, opts PullOptions) (PullStats, error) {
	stats := PullStats{RowsInserted: map[string]int64{}}
	cacheSchema := "cached_" + p.remote.Name
	if err := p.comp.EnsurePeerSchema(ctx, cacheSchema); err != nil {
		return stats, err
	}
	if err := p.comp.AddCached(ctx, p.remote.Name); err != nil {
		return stats, err
	}

	remoteSchema := p.remote.SchemaName()
	for _, table := range pushOrder {
		n, err := p.insertMissing(ctx, remoteSchema, cacheSchema, table, opts.Since, true)
		if err != nil {
			return stats, err
		}
		stats.RowsInserted[table] = n
	}

	if opts.SyncBlobs && p.remote.Type == config.RemoteFile {
		linked, copied, err := syncBlobsTo(ctx, p.db, remoteSchema, cacheSchema, opts.PeerBlobRoot, opts.LocalBlobRoot)
		if err != nil {
			return stats, err
		}
		stats.BlobsLinked, stats.BlobsCopied = linked, copied
	}
	return stats, nil
}

// idColumn returns the primary-key column insertMissing/countMissing
// should de-duplicate on: sessions de-duplicate on session_id (spec.md
// §4.10 step 4), outcomes on attempt_id, every other table on id.
func idColumn(table string) string {
	if table == "sessions" {
		return "session_id"
	}
	if table == "outcomes" {
		return "attempt_id"
	}
	return "id"
}

// insertMissing runs `INSERT INTO dst.table SELECT * FROM src.table WHERE
// NOT EXISTS (dst row with same id)`, optionally filtered by since
// (spec.md §4.10 step 3), and for sessions additionally restricted to rows
// with at least one attempt in the window (step 4).
func (p *Peer) insertMissing(ctx context.Context, srcSchema, dstSchema, table, since string, forClient bool) (int64, error) {
	return insertMissing(ctx, p.db, srcSchema, dstSchema, table, since)
}

func (p *Peer) countMissing(ctx context.Context, srcSchema, dstSchema, table, since string, forClient bool) (int64, error) {
	return countMissing(ctx, p.db, srcSchema, dstSchema, table, since)
}

func insertMissing(ctx context.Context, db *sql.DB, srcSchema, dstSchema, table, since string) (int64, error) {
	id := idColumn(table)
	whereSince := ""
	if since != "" {
		whereSince = fmt.Sprintf(" AND src.date >= '%s'", since)
	}

	var selectClause string
	if table == "sessions" {
		selectClause = fmt.Sprintf(`SELECT src.* FROM %s.sessions src
			WHERE EXISTS (SELECT 1 FROM %s.attempts a WHERE a.session_id = src.session_id%s)`,
			srcSchema, srcSchema, whereSince)
	} else {
		selectClause = fmt.Sprintf(`SELECT src.* FROM %s.%s src WHERE TRUE%s`, srcSchema, table, whereSince)
	}

	stmt := fmt.Sprintf(`
		INSERT INTO %s.%s
		SELECT s.* FROM (%s) s
		WHERE NOT EXISTS (SELECT 1 FROM %s.%s dst WHERE dst.%s = s.%s)`,
		dstSchema, table, selectClause, dstSchema, table, id, id)

	res, err := db.ExecContext(ctx, stmt)
	if err != nil {
		return 0, errs.Storagef("insert missing %s.%s: %w", dstSchema, table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil // not every driver reports RowsAffected; treat as best-effort
	}
	return n, nil
}

func countMissing(ctx context.Context, db *sql.DB, srcSchema, dstSchema, table, since string) (int64, error) {
	id := idColumn(table)
	whereSince := ""
	if since != "" {
		whereSince = fmt.Sprintf(" AND src.date >= '%s'", since)
	}
	stmt := fmt.Sprintf(`
		SELECT count(*) FROM %s.%s src
		WHERE TRUE%s AND NOT EXISTS (SELECT 1 FROM %s.%s dst WHERE dst.%s = src.%s)`,
		srcSchema, table, whereSince, dstSchema, table, id, id)
	var n int64
	if err := db.QueryRowContext(ctx, stmt).Scan(&n); err != nil {
		return 0, errs.Storagef("count missing %s.%s: %w", dstSchema, table, err)
	}
	return n, nil
}

// syncBlobsTo hard-links (or copies, cross-device) every blob listed in
// srcSchema's blob_registry whose content_hash dstSchema's blob_registry
// lacks, then registers it in dst's blob_registry (spec.md §4.10 steps
// 5/3).
func syncBlobsTo(ctx context.Context, db *sql.DB, srcSchema, dstSchema, srcBlobRoot, dstBlobRoot string) (linked, copied int, err error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`
		SELECT content_hash, byte_length, storage_path FROM %s.blob_registry
		WHERE content_hash NOT IN (SELECT content_hash FROM %s.blob_registry)`,
		srcSchema, dstSchema))
	if err != nil {
		return 0, 0, errs.Storagef("list blobs to sync: %w", err)
	}
	defer rows.Close()

	type blob struct {
		hash string
		size int64
		rel  string
	}
	var blobs []blob
	for rows.Next() {
		var b blob
		if err := rows.Scan(&b.hash, &b.size, &b.rel); err != nil {
			return linked, copied, errs.Storagef("scan blob: %w", err)
		}
		blobs = append(blobs, b)
	}
	if err := rows.Err(); err != nil {
		return linked, copied, errs.Storagef("iterate blobs: %w", err)
	}

	for _, b := range blobs {
		src := filepath.Join(srcBlobRoot, b.rel)
		dst := filepath.Join(dstBlobRoot, b.rel)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return linked, copied, errs.IOf(filepath.Dir(dst), err)
		}
		if err := os.Link(src, dst); err != nil {
			if err := copyFile(src, dst); err != nil {
				return linked, copied, errs.IOf(dst, err)
			}
			copied++
		} else {
			linked++
		}
		if _, err := db.ExecContext(ctx, fmt.Sprintf(`
			INSERT INTO %s.blob_registry (content_hash, byte_length, ref_count, first_seen, last_accessed, storage_path)
			VALUES (?, ?, 1, now(), now(), ?) ON CONFLICT (content_hash) DO NOTHING`, dstSchema),
			b.hash, b.size, b.rel); err != nil {
			return linked, copied, errs.Storagef("register synced blob: %w", err)
		}
	}
	return linked, copied, nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}
