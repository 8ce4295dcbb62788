package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teaguesterling/bird/internal/store"
)

var statsCmd = &cobra.Command{
	Use:     "stats",
	GroupID: "inspect",
	Short:   "Show store-wide statistics",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := store.Open(rootCtx, rootDir)
		if err != nil {
			return err
		}
		defer s.Close()

		fmt.Println("bird statistics")
		fmt.Println("===============")
		fmt.Println()
		fmt.Printf("Root:      %s\n", s.Config.BirdRoot)
		fmt.Printf("Client ID: %s\n", s.Config.ClientID)
		fmt.Println()

		var invCount, sessionCount int64
		if err := s.DB.QueryRowContext(rootCtx, `SELECT count(*) FROM main.invocations`).Scan(&invCount); err != nil {
			return err
		}
		if err := s.DB.QueryRowContext(rootCtx, `SELECT count(*) FROM local.sessions`).Scan(&sessionCount); err != nil {
			return err
		}
		fmt.Printf("Total invocations: %d\n", invCount)
		fmt.Printf("Total sessions:    %d\n", sessionCount)

		var cmd_, exitCode string
		row := s.DB.QueryRowContext(rootCtx, `SELECT cmd, coalesce(cast(exit_code AS VARCHAR), '-') FROM main.invocations ORDER BY timestamp DESC LIMIT 1`)
		if err := row.Scan(&cmd_, &exitCode); err == nil {
			fmt.Printf("Last invocation:   %s (exit %s)\n", cmd_, exitCode)
		}
		return nil
	},
}
