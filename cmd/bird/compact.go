package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/teaguesterling/bird/internal/compact"
	"github.com/teaguesterling/bird/internal/config"
	"github.com/teaguesterling/bird/internal/schema"
	"github.com/teaguesterling/bird/internal/store"
)

var (
	compactFileThreshold      int
	compactRecompactThreshold int
	compactConsolidate        bool
	compactExtractFirst       bool
	compactSession            string
	compactToday              bool
	compactRecentOnly         bool
	compactArchiveOnly        bool
	compactDryRun             bool
	compactQuiet              bool
)

var compactCmd = &cobra.Command{
	Use:     "compact",
	GroupID: "maint",
	Short:   "Consolidate small columnar files",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := store.Open(rootCtx, rootDir)
		if err != nil {
			return err
		}
		defer s.Close()

		if s.Config.StorageMode != config.StorageParquet {
			if !compactQuiet {
				fmt.Println("storage_mode=duckdb: nothing to compact.")
			}
			return nil
		}

		if compactDryRun && !compactQuiet {
			fmt.Println("Dry run - no changes will be made")
			fmt.Println()
		}

		if compactExtractFirst && !compactDryRun {
			extracted, invocations, err := extractBeforeMaintenance(s, "")
			if err != nil {
				return err
			}
			if !compactQuiet && extracted > 0 {
				fmt.Printf("Extracting events from invocations before compacting...\n  Extracted %d events from %d invocations\n\n", extracted, invocations)
			}
		}

		opts := compact.Options{
			FileThreshold: compactFileThreshold, RecompactThreshold: compactRecompactThreshold,
			Consolidate: compactConsolidate, DryRun: compactDryRun, SessionFilter: compactSession,
		}
		if compactToday {
			opts.DateFilter = time.Now().UTC().Format("2006-01-02")
		}

		var total compact.Stats
		if !compactArchiveOnly {
			start := time.Now()
			for _, table := range schema.Tables {
				st, err := compact.Run(rootCtx, s.Config, table, opts)
				if err != nil {
					return err
				}
				total = addStats(total, st)
			}
			if s.Meters != nil {
				s.Meters.CompactionDur.Record(rootCtx, time.Since(start).Seconds())
			}
		}
		_ = compactRecentOnly // archive is a separate command in this CLI; recent-only is already the default path above

		if total.FilesMerged > 0 || total.PartitionsTouched > 0 {
			action := "Compacted"
			if compactConsolidate {
				action = "Consolidated"
			}
			fmt.Printf("%s across %d partitions\n", action, total.PartitionsTouched)
			fmt.Printf("  %d files merged, %d files deleted\n", total.FilesMerged, total.FilesDeleted)
		} else if !compactQuiet {
			fmt.Println("Nothing to compact.")
		}
		return nil
	},
}

func init() {
	compactCmd.Flags().IntVar(&compactFileThreshold, "file-threshold", 8, "raw file count that triggers a compaction pass")
	compactCmd.Flags().IntVar(&compactRecompactThreshold, "recompact-threshold", 0, "compacted file count that triggers a recompaction pass (0 = disabled)")
	compactCmd.Flags().BoolVar(&compactConsolidate, "consolidate", false, "merge every file for a session into one, regardless of thresholds")
	compactCmd.Flags().BoolVar(&compactExtractFirst, "extract-first", false, "extract events from invocations before compacting")
	compactCmd.Flags().StringVarP(&compactSession, "session", "s", "", "restrict compaction to one session")
	compactCmd.Flags().BoolVar(&compactToday, "today", false, "restrict compaction to today's partition")
	compactCmd.Flags().BoolVar(&compactRecentOnly, "recent-only", false, "only compact the recent data root")
	compactCmd.Flags().BoolVar(&compactArchiveOnly, "archive-only", false, "skip compaction of the recent data root (the archive root is not compacted)")
	compactCmd.Flags().BoolVar(&compactDryRun, "dry-run", false, "report what would change without writing")
	compactCmd.Flags().BoolVarP(&compactQuiet, "quiet", "q", false, "suppress the summary line when there is nothing to do")
}

func addStats(a, b compact.Stats) compact.Stats {
	return compact.Stats{
		FilesMerged:       a.FilesMerged + b.FilesMerged,
		FilesDeleted:      a.FilesDeleted + b.FilesDeleted,
		PartitionsTouched: a.PartitionsTouched + b.PartitionsTouched,
	}
}
