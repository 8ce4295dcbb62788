package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teaguesterling/bird/internal/errs"
	"github.com/teaguesterling/bird/internal/store"
)

var infoFormat string

var infoCmd = &cobra.Command{
	Use:     "info [query]",
	Aliases: []string{"I"},
	GroupID: "inspect",
	Short:   "Show full detail for one invocation",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q := ""
		if len(args) == 1 {
			q = args[0]
		}
		s, err := store.Open(rootCtx, rootDir)
		if err != nil {
			return err
		}
		defer s.Close()

		invocationID, err := resolveQueryToInvocation(s, q)
		if err != nil {
			return err
		}
		if invocationID == "" {
			return errs.NotFoundf("invocation", q)
		}

		var cmdStr, cwd, sessionID string
		var exitCode *int32
		var durationMs *int64
		row := s.DB.QueryRowContext(rootCtx, `
			SELECT cmd, cwd, exit_code, duration_ms, session_id FROM main.invocations WHERE id = ?`, invocationID)
		var exitVal, durVal any
		if err := row.Scan(&cmdStr, &cwd, &exitVal, &durVal, &sessionID); err != nil {
			return err
		}
		if exitVal != nil {
			ec := toInt32(exitVal)
			exitCode = &ec
		}
		if durVal != nil {
			dm := toInt64(durVal)
			durationMs = &dm
		}

		var stdoutBytes, stderrBytes int64
		rows, err := s.DB.QueryContext(rootCtx, `
			SELECT stream, byte_length FROM main.outputs WHERE invocation_id = ?`, invocationID)
		if err != nil {
			return err
		}
		for rows.Next() {
			var stream string
			var n int64
			if err := rows.Scan(&stream, &n); err != nil {
				rows.Close()
				return err
			}
			if stream == "stderr" {
				stderrBytes += n
			} else {
				stdoutBytes += n
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		var eventCount int64
		if err := s.DB.QueryRowContext(rootCtx, `
			SELECT count(*) FROM main.events WHERE invocation_id = ?`, invocationID).Scan(&eventCount); err != nil {
			return err
		}

		exitStr, durStr := "null", "null"
		if exitCode != nil {
			exitStr = fmt.Sprint(*exitCode)
		}
		if durationMs != nil {
			durStr = fmt.Sprint(*durationMs)
		}

		if infoFormat == "json" {
			fmt.Println("{")
			fmt.Printf("  \"id\": %q,\n", invocationID)
			fmt.Printf("  \"cmd\": %q,\n", cmdStr)
			fmt.Printf("  \"cwd\": %q,\n", cwd)
			fmt.Printf("  \"exit_code\": %s,\n", exitStr)
			fmt.Printf("  \"duration_ms\": %s,\n", durStr)
			fmt.Printf("  \"session_id\": %q,\n", sessionID)
			fmt.Printf("  \"stdout_bytes\": %d,\n", stdoutBytes)
			fmt.Printf("  \"stderr_bytes\": %d,\n", stderrBytes)
			fmt.Printf("  \"event_count\": %d\n", eventCount)
			fmt.Println("}")
			return nil
		}

		fmt.Println("Invocation Details")
		fmt.Println("==================")
		fmt.Println()
		fmt.Printf("ID:          %s\n", invocationID)
		fmt.Printf("Command:     %s\n", cmdStr)
		fmt.Printf("Working Dir: %s\n", cwd)
		fmt.Printf("Exit Code:   %s\n", exitStr)
		fmt.Printf("Duration:    %sms\n", durStr)
		fmt.Printf("Session:     %s\n", sessionID)
		fmt.Println()
		fmt.Println("Output:")
		fmt.Printf("  stdout:    %d bytes\n", stdoutBytes)
		fmt.Printf("  stderr:    %d bytes\n", stderrBytes)
		fmt.Printf("  events:    %d\n", eventCount)
		return nil
	},
}

func init() {
	infoCmd.Flags().StringVar(&infoFormat, "format", "table", "output format: table or json")
}
