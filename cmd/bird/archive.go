package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teaguesterling/bird/internal/compact"
	"github.com/teaguesterling/bird/internal/config"
	"github.com/teaguesterling/bird/internal/schema"
	"github.com/teaguesterling/bird/internal/store"
)

// archive moves partitions older than --days from the recent data root into
// the archive root, consolidating each into a single data_0.parquet
// (spec.md §6, §4.8 Archival).

var (
	archiveDays         int
	archiveDryRun       bool
	archiveExtractFirst bool
)

var archiveCmd = &cobra.Command{
	Use:     "archive --days N",
	GroupID: "maint",
	Short:   "Move old partitions from recent to archive storage",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cmd.Flags().Changed("days") {
			return fmt.Errorf("archive: --days N is required")
		}

		s, err := store.Open(rootCtx, rootDir)
		if err != nil {
			return err
		}
		defer s.Close()

		if s.Config.StorageMode != config.StorageParquet {
			fmt.Println("storage_mode=duckdb: nothing to archive.")
			return nil
		}

		if archiveDryRun {
			fmt.Println("Dry run - no changes will be made")
			fmt.Println()
		}

		if archiveExtractFirst && !archiveDryRun {
			extracted, invocations, err := extractBeforeMaintenance(s, "")
			if err != nil {
				return err
			}
			if extracted > 0 {
				fmt.Printf("Extracting events from invocations to be archived...\n  Extracted %d events from %d invocations\n\n", extracted, invocations)
			}
		}

		var total compact.ArchiveStats
		for _, table := range schema.Tables {
			st, err := compact.Archive(rootCtx, s.Config, table, archiveDays, archiveDryRun)
			if err != nil {
				return err
			}
			total.PartitionsArchived += st.PartitionsArchived
			total.PartitionsSkipped += st.PartitionsSkipped
		}

		if total.PartitionsArchived > 0 {
			fmt.Printf("Archived %d partitions\n", total.PartitionsArchived)
		} else {
			fmt.Println("Nothing to archive.")
		}
		return nil
	},
}

func init() {
	archiveCmd.Flags().IntVar(&archiveDays, "days", 0, "age cutoff in days (required)")
	archiveCmd.Flags().BoolVar(&archiveDryRun, "dry-run", false, "report what would be archived without writing")
	archiveCmd.Flags().BoolVar(&archiveExtractFirst, "extract-first", false, "extract events from invocations before archiving")
}
