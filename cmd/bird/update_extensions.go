package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teaguesterling/bird/internal/config"
	"github.com/teaguesterling/bird/internal/extinstall"
	"github.com/teaguesterling/bird/internal/store"
)

var updateExtensionsDryRun bool

// requiredExtensions fail the command if any cannot be installed; the same
// set init.rs's install_extensions() treats as mandatory.
var requiredExtensions = []string{"parquet", "icu", "httpfs", "json"}

// optionalExtensions only warn on failure: scalarfs backs data: URL inline
// blobs, duck_hunt backs event extraction's log/output parsers.
var optionalExtensions = []struct{ name, desc string }{
	{"scalarfs", "data: URL support for inline blobs"},
	{"duck_hunt", "log/output parsing for event extraction"},
}

var updateExtensionsCmd = &cobra.Command{
	Use:     "update-extensions",
	GroupID: "maint",
	Short:   "Re-install and reload this store's DuckDB extensions",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := config.ResolveRoot(rootDir)
		if err != nil {
			return err
		}
		if !config.IsInitialized(root) {
			return fmt.Errorf("update-extensions: %s is not an initialized bird store", root)
		}

		if updateExtensionsDryRun {
			for _, name := range requiredExtensions {
				fmt.Printf("would install+load %s (required)\n", name)
			}
			for _, ext := range optionalExtensions {
				fmt.Printf("would install+load %s (optional: %s)\n", ext.name, ext.desc)
			}
			return nil
		}

		s, err := store.Open(rootCtx, rootDir)
		if err != nil {
			return err
		}
		defer s.Close()

		for _, name := range requiredExtensions {
			if err := extinstall.Ensure(rootCtx, s.DB, name); err != nil {
				return fmt.Errorf("update-extensions: required extension %q: %w", name, err)
			}
			fmt.Printf("%s: ok\n", name)
		}
		for _, ext := range optionalExtensions {
			if err := extinstall.Ensure(rootCtx, s.DB, ext.name); err != nil {
				fmt.Printf("%s: unavailable (%s): %v\n", ext.name, ext.desc, err)
				continue
			}
			fmt.Printf("%s: ok\n", ext.name)
		}
		return nil
	},
}

func init() {
	updateExtensionsCmd.Flags().BoolVar(&updateExtensionsDryRun, "dry-run", false, "list extensions that would be installed without installing them")
}
