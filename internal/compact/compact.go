// Package compact implements spec.md §4.8's consolidation of the columnar
// writer's one-file-per-flush partitions into fewer, larger files, plus
// tiered archival of old partitions to a separate root. A no-op in
// table-writer mode, since there are no partition files to merge.
package compact

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/marcboeker/go-duckdb/v2" // registers the "duckdb" database/sql driver

	"github.com/teaguesterling/bird/internal/atomicfile"
	"github.com/teaguesterling/bird/internal/config"
	"github.com/teaguesterling/bird/internal/errs"
)

// openMergeConn opens a throwaway in-memory DuckDB connection used only to
// run the COPY (read_parquet(...)) merge statement (spec.md §4.8 step 5);
// it never touches the caller's own bird.duckdb file or its locks.
func openMergeConn() (*sql.DB, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, errs.Storagef("open merge connection: %w", err)
	}
	return db, nil
}

// Options configures one compaction pass (spec.md §4.8).
type Options struct {
	FileThreshold      int
	RecompactThreshold int
	Consolidate        bool
	DryRun             bool
	SessionFilter      string
	DateFilter         string // restrict to one "YYYY-MM-DD" partition, if set
}

// Stats reports what a Run call did or would do.
type Stats struct {
	FilesMerged     int
	FilesDeleted    int
	PartitionsTouched int
}

// fileKind classifies one parquet filename per spec.md §4.8's taxonomy.
type fileKind int

const (
	kindRaw fileKind = iota
	kindCompacted
	kindConsolidated
	kindSeed
)

func classify(name string) fileKind {
	switch {
	case strings.HasPrefix(name, "_seed"):
		return kindSeed
	case strings.HasPrefix(name, "data_"):
		return kindConsolidated
	case strings.Contains(name, "__compacted-"):
		return kindCompacted
	default:
		return kindRaw
	}
}

// sessionOf extracts the grouping key: the first "--"-delimited prefix, or
// the file stem if there is no "--" (spec.md §4.8 step 1).
func sessionOf(name string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	if i := strings.Index(base, "--"); i >= 0 {
		return base[:i]
	}
	return base
}

type fileInfo struct {
	path  string
	name  string
	kind  fileKind
	mtime time.Time
}

// Run executes one compaction pass for table's "recent" partitions under
// cfg, per spec.md §4.8's per-partition algorithm. It is safe to call
// concurrently with writers: merges only ever read-then-atomically-replace,
// never mutate a file in place.
func Run(ctx context.Context, cfg config.Config, table string, opts Options) (Stats, error) {
	var stats Stats
	tableDir := filepath.Join(cfg.RecentDir(), table)
	partitions, err := listPartitions(tableDir)
	if err != nil {
		return stats, err
	}
	for _, dir := range partitions {
		if opts.DateFilter != "" && filepath.Base(dir) != "date="+opts.DateFilter {
			continue
		}
		s, err := compactPartition(dir, opts)
		if err != nil {
			return stats, err
		}
		stats.FilesMerged += s.FilesMerged
		stats.FilesDeleted += s.FilesDeleted
		if s.FilesMerged > 0 || s.FilesDeleted > 0 {
			stats.PartitionsTouched++
		}
	}
	return stats, nil
}

func listPartitions(tableDir string) ([]string, error) {
	entries, err := os.ReadDir(tableDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.IOf(tableDir, err)
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), "date=") {
			dirs = append(dirs, filepath.Join(tableDir, e.Name()))
		}
	}
	return dirs, nil
}

// compactPartition applies spec.md §4.8 steps 1-5 to one date partition
// directory.
func compactPartition(dir string, opts Options) (Stats, error) {
	var stats Stats
	entries, err := os.ReadDir(dir)
	if err != nil {
		return stats, errs.IOf(dir, err)
	}

	bySession := make(map[string][]fileInfo)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		kind := classify(e.Name())
		if kind == kindSeed {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return stats, errs.IOf(filepath.Join(dir, e.Name()), err)
		}
		session := sessionOf(e.Name())
		if opts.SessionFilter != "" && session != opts.SessionFilter {
			continue
		}
		bySession[session] = append(bySession[session], fileInfo{
			path: filepath.Join(dir, e.Name()), name: e.Name(), kind: kind, mtime: info.ModTime(),
		})
	}

	for _, files := range bySession {
		s, err := compactSession(dir, files, opts)
		if err != nil {
			return stats, err
		}
		stats.FilesMerged += s.FilesMerged
		stats.FilesDeleted += s.FilesDeleted
	}
	return stats, nil
}

func compactSession(dir string, files []fileInfo, opts Options) (Stats, error) {
	var stats Stats
	var raw, compacted []fileInfo
	for _, f := range files {
		if f.kind == kindRaw {
			raw = append(raw, f)
		} else {
			compacted = append(compacted, f)
		}
	}

	// Step 3: full consolidation.
	if opts.Consolidate && len(raw)+len(compacted) >= 2 {
		all := append(append([]fileInfo{}, raw...), compacted...)
		return mergeInto(dir, all, fmt.Sprintf("data_%s.parquet", uuid.New().String()), opts.DryRun)
	}

	// Step 4a: demote oldest raw files into a new compacted generation.
	if len(raw) >= opts.FileThreshold && opts.FileThreshold > 0 {
		sort.Slice(raw, func(i, j int) bool { return raw[i].mtime.Before(raw[j].mtime) })
		take := len(raw) - opts.FileThreshold
		if take > 0 {
			victims := raw[:take]
			seq := nextCompactSeq(compacted)
			name := fmt.Sprintf("%s--__compacted-%d__--%s.parquet", sessionOf(victims[0].name), seq, uuid.New().String())
			s, err := mergeInto(dir, victims, name, opts.DryRun)
			if err != nil {
				return stats, err
			}
			stats.FilesMerged += s.FilesMerged
			stats.FilesDeleted += s.FilesDeleted
		}
	}

	// Step 4b: recompact an over-grown compacted generation into one
	// consolidated file.
	if opts.RecompactThreshold > 0 && len(compacted) >= opts.RecompactThreshold {
		name := fmt.Sprintf("data_%s.parquet", uuid.New().String())
		s, err := mergeInto(dir, compacted, name, opts.DryRun)
		if err != nil {
			return stats, err
		}
		stats.FilesMerged += s.FilesMerged
		stats.FilesDeleted += s.FilesDeleted
	}

	return stats, nil
}

// nextCompactSeq finds max existing "__compacted-N__" sequence and returns
// N+1, or 0 when no compacted file exists yet (spec.md §4.8 step 4).
func nextCompactSeq(compacted []fileInfo) int {
	max := -1
	for _, f := range compacted {
		i := strings.Index(f.name, "__compacted-")
		if i < 0 {
			continue
		}
		rest := f.name[i+len("__compacted-"):]
		j := strings.Index(rest, "__")
		if j < 0 {
			continue
		}
		var n int
		if _, err := fmt.Sscanf(rest[:j], "%d", &n); err == nil && n > max {
			max = n
		}
	}
	return max + 1
}

// mergeInto writes a single new parquet file at dir/name containing the
// concatenated rows of files, then deletes files (spec.md §4.8 step 5: all
// merged outputs go through atomic placement).
func mergeInto(dir string, files []fileInfo, name string, dryRun bool) (Stats, error) {
	var stats Stats
	if len(files) == 0 {
		return stats, nil
	}
	if dryRun {
		stats.FilesMerged = len(files)
		return stats, nil
	}

	finalPath := filepath.Join(dir, name)
	sources := make([]string, len(files))
	for i, f := range files {
		sources[i] = f.path
	}
	if err := mergeParquetFiles(sources, finalPath); err != nil {
		return stats, err
	}
	for _, f := range files {
		if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
			return stats, errs.IOf(f.path, err)
		}
	}
	stats.FilesMerged = len(files)
	stats.FilesDeleted = len(files)
	return stats, nil
}

// mergeParquetFiles concatenates the row groups of sources into one file
// at finalPath, via DuckDB's own COPY (read_parquet(sources) -> parquet),
// then places it atomically. Using the engine itself for the merge avoids
// re-deriving parquet-go's schema-union logic for arbitrary row shapes.
func mergeParquetFiles(sources []string, finalPath string) error {
	db, err := openMergeConn()
	if err != nil {
		return err
	}
	defer db.Close()

	_, err = atomicfile.PlaceWith(finalPath, func(tmp string) error {
		quoted := make([]string, len(sources))
		for i, s := range sources {
			quoted[i] = "'" + strings.ReplaceAll(s, "'", "''") + "'"
		}
		list := "[" + strings.Join(quoted, ", ") + "]"
		stmt := fmt.Sprintf(`COPY (SELECT * FROM read_parquet(%s, union_by_name=true)) TO '%s' (FORMAT PARQUET)`, list, tmp)
		_, err := db.ExecContext(context.Background(), stmt)
		return err
	})
	return err
}

// ArchiveStats reports one Archive call's effect.
type ArchiveStats struct {
	PartitionsArchived int
	PartitionsSkipped  int // already had a consolidated file (idempotent no-op)
}

// Archive moves every "recent" partition for table older than archiveDays
// into cfg's archive root, consolidating each into a single
// "data_0.parquet" (spec.md §4.8 Archival). The seed-date partition is
// never archived. When dryRun is set, partitions that would be archived are
// counted in PartitionsArchived without touching the filesystem.
func Archive(ctx context.Context, cfg config.Config, table string, archiveDays int, dryRun bool) (ArchiveStats, error) {
	var stats ArchiveStats
	tableDir := filepath.Join(cfg.RecentDir(), table)
	partitions, err := listPartitions(tableDir)
	if err != nil {
		return stats, err
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -archiveDays)

	for _, dir := range partitions {
		date := strings.TrimPrefix(filepath.Base(dir), "date=")
		if date == config.SeedDate {
			continue
		}
		d, err := time.Parse("2006-01-02", date)
		if err != nil || d.After(cutoff) {
			continue
		}

		destDir := filepath.Join(cfg.ArchiveDir(), table, "date="+date)
		destFile := filepath.Join(destDir, "data_0.parquet")
		if _, err := os.Stat(destFile); err == nil {
			stats.PartitionsSkipped++
			continue
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			return stats, errs.IOf(dir, err)
		}
		var sources []string
		for _, e := range entries {
			if !e.IsDir() && classify(e.Name()) != kindSeed {
				sources = append(sources, filepath.Join(dir, e.Name()))
			}
		}
		if len(sources) == 0 {
			continue
		}
		if dryRun {
			stats.PartitionsArchived++
			continue
		}
		if err := mergeParquetFiles(sources, destFile); err != nil {
			return stats, err
		}
		if err := os.RemoveAll(dir); err != nil {
			return stats, errs.IOf(dir, err)
		}
		stats.PartitionsArchived++
	}
	return stats, nil
}
