package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teaguesterling/bird/internal/config"
	"github.com/teaguesterling/bird/internal/errs"
	"github.com/teaguesterling/bird/internal/store"
)

var initMode string

var initCmd = &cobra.Command{
	Use:     "init",
	GroupID: "setup",
	Short:   "Create a new bird store",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := config.ParseStorageMode(initMode)
		if err != nil {
			return err
		}
		root, err := config.ResolveRoot(rootDir)
		if err != nil {
			return err
		}
		if config.IsInitialized(root) {
			return errs.AlreadyInitializedf(root)
		}
		s, err := store.Init(rootCtx, root, mode)
		if err != nil {
			return err
		}
		defer s.Close()
		fmt.Printf("initialized bird store at %s (storage_mode=%s)\n", root, mode)
		return nil
	},
}

func init() {
	initCmd.Flags().StringVar(&initMode, "mode", "parquet", "storage mode: parquet or duckdb")
}
