// Package blobstore implements spec.md §4.2: a content-addressed,
// deduplicating, refcounted store for invocation output bytes, backed by
// the embedded analytical engine for the registry and by plain files on
// disk (placed via internal/atomicfile) for anything too large to inline.
package blobstore

import (
	"context"
	"database/sql"
	"encoding/base64"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"github.com/teaguesterling/bird/internal/atomicfile"
	"github.com/teaguesterling/bird/internal/config"
	"github.com/teaguesterling/bird/internal/errs"
	"github.com/teaguesterling/bird/internal/telemetry"
	"github.com/teaguesterling/bird/internal/types"
)

// DefaultInlineThreshold matches spec.md §6's documented default; callers
// normally pass the configured value instead.
const DefaultInlineThreshold = 4096

// Store routes payloads to inline data: URIs or content-addressed blob
// files, and owns the blob_registry table's ref_count bookkeeping.
type Store struct {
	db              *sql.DB
	root            string // filesystem root for relative storage_path values
	inlineThreshold int
	remoteRoots     []string // additional blob roots for read fallback (spec.md §4.2 Roots)
	meters          *telemetry.Meters
}

// SetMeters attaches the store's telemetry instruments; a nil Store.meters
// (the zero value) makes every recording call below a no-op, so callers
// that never wire telemetry pay nothing for it.
func (s *Store) SetMeters(m *telemetry.Meters) { s.meters = m }

// New returns a Store rooted at cfg.BirdRoot, using db for registry reads
// and writes. db is expected to already have the blob_registry table
// (ensured by internal/schema at store initialization).
func New(db *sql.DB, cfg config.Config, remoteRoots []string) *Store {
	threshold := cfg.InlineThreshold
	if threshold <= 0 {
		threshold = DefaultInlineThreshold
	}
	return &Store{db: db, root: cfg.BirdRoot, inlineThreshold: threshold, remoteRoots: remoteRoots}
}

// sanitizeCmdHint implements spec.md §4.2's hint sanitization: map
// `/ \ : * ? " < > |` to `_`, space to `-`, keep alphanumerics/`-_.`,
// replace the rest with `_`, truncate to 32 characters.
func sanitizeCmdHint(hint string) string {
	const special = `/\:*?"<>|`
	var b strings.Builder
	for _, r := range hint {
		switch {
		case strings.ContainsRune(special, r):
			b.WriteByte('_')
		case r == ' ':
			b.WriteByte('-')
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	s := b.String()
	if len(s) > 32 {
		s = s[:32]
	}
	if s == "" {
		s = "blob"
	}
	return s
}

// relativeBlobPath builds "recent/blobs/content/<hash[0:2]>/<hash>--<hint>.bin"
// (spec.md §4.2).
func relativeBlobPath(hash, cmdHint string) string {
	hint := sanitizeCmdHint(cmdHint)
	return filepath.Join("recent", "blobs", "content", hash[:2], fmt.Sprintf("%s--%s.bin", hash, hint))
}

// Put implements spec.md §4.2's routing policy and dedup protocol.
func (s *Store) Put(ctx context.Context, content []byte, cmdHint string) (types.StorageType, string, string, error) {
	sum := blake3.Sum256(content)
	hash := fmt.Sprintf("%x", sum)

	if len(content) < s.inlineThreshold {
		ref := "data:application/octet-stream;base64," + base64.StdEncoding.EncodeToString(content)
		return types.StorageInline, ref, hash, nil
	}

	rel := relativeBlobPath(hash, cmdHint)
	finalPath := filepath.Join(s.root, "db", "data", rel)

	// Step 1: if the hash is already registered, bump ref_count/last_accessed
	// and return the existing path without touching the filesystem.
	existingPath, found, err := s.bumpIfExists(ctx, hash)
	if err != nil {
		return "", "", "", err
	}
	if found {
		return types.StorageBlob, "file://" + existingPath, hash, nil
	}

	// Step 2: place the file atomically; on a race, another writer may
	// have won (AlreadyExisted) or inserted the registry row first.
	result, err := atomicfile.Place(finalPath, content)
	if err != nil {
		return "", "", "", errs.IOf(finalPath, err)
	}

	if err := s.upsertRegistry(ctx, hash, int64(len(content)), rel, result); err != nil {
		return "", "", "", err
	}
	if s.meters != nil {
		s.meters.BlobBytesPut.Add(ctx, int64(len(content)))
	}
	return types.StorageBlob, "file://" + rel, hash, nil
}

func (s *Store) bumpIfExists(ctx context.Context, hash string) (path string, found bool, err error) {
	var storagePath string
	row := s.db.QueryRowContext(ctx, `SELECT storage_path FROM local.blob_registry WHERE content_hash = ?`, hash)
	switch err := row.Scan(&storagePath); err {
	case nil:
		_, err := s.db.ExecContext(ctx, `UPDATE local.blob_registry SET ref_count = ref_count + 1, last_accessed = ? WHERE content_hash = ?`, time.Now().UTC(), hash)
		if err != nil {
			return "", false, errs.IOf("blob_registry", err)
		}
		return storagePath, true, nil
	case sql.ErrNoRows:
		return "", false, nil
	default:
		return "", false, errs.IOf("blob_registry", err)
	}
}

// upsertRegistry inserts a new registry row (wrote_new) or increments an
// existing one (already_existed — another writer won the placement race,
// spec.md §4.2 step 2 / §5 "Blob races"). DuckDB's ON CONFLICT DO UPDATE
// makes both cases a single idempotent statement.
func (s *Store) upsertRegistry(ctx context.Context, hash string, length int64, rel string, result atomicfile.Result) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO local.blob_registry (content_hash, byte_length, ref_count, first_seen, last_accessed, storage_path)
		VALUES (?, ?, 1, ?, ?, ?)
		ON CONFLICT (content_hash) DO UPDATE SET
			ref_count = local.blob_registry.ref_count + 1,
			last_accessed = excluded.last_accessed`,
		hash, length, now, now, rel)
	if err != nil {
		return errs.IOf("blob_registry", err)
	}
	_ = result // both branches of spec §4.2 step 2 collapse into the upsert above
	return nil
}

// Open reads through for both inline and blob storage_ref forms, so callers
// never branch on storage type (spec.md §4.2).
func (s *Store) Open(ctx context.Context, storageRef string) ([]byte, error) {
	switch {
	case strings.HasPrefix(storageRef, "data:application/octet-stream;base64,"):
		encoded := strings.TrimPrefix(storageRef, "data:application/octet-stream;base64,")
		data, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, errs.Storagef("invalid inline storage_ref: %w", err)
		}
		return data, nil
	case strings.HasPrefix(storageRef, "file://"):
		rel := strings.TrimPrefix(storageRef, "file://")
		for _, root := range s.Roots(ctx) {
			full := filepath.Join(root, rel)
			if data, err := atomicfile.Open(full); err == nil {
				return data, nil
			}
		}
		return nil, errs.Storagef("blob file not found for ref %q under any root", storageRef)
	default:
		return nil, errs.Storagef("unrecognized storage_ref %q", storageRef)
	}
}

// Roots returns the local data root first, then any attached remote blob
// base URLs, for read fallback ordering (spec.md §4.2).
func (s *Store) Roots(_ context.Context) []string {
	roots := make([]string, 0, 1+len(s.remoteRoots))
	roots = append(roots, filepath.Join(s.root, "db", "data"))
	roots = append(roots, s.remoteRoots...)
	return roots
}
