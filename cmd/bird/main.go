// Command bird is the shell-facing CLI that drives the core store (spec.md
// §6), structured the way beads' cmd/bd groups its command tree under
// cobra.Group IDs.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teaguesterling/bird/internal/config"
	"github.com/teaguesterling/bird/internal/obslog"
)

var (
	rootDir    string
	jsonOutput bool
	logger     *slog.Logger
	logCloser  io.Closer

	rootCtx    context.Context
	rootCancel context.CancelFunc
)

var rootCmd = &cobra.Command{
	Use:   "bird",
	Short: "bird - a local-first observability store for command invocations",
	Long:  `Captures, stores, and queries the commands you run: their output, exit status, and extracted events.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		logger = obslog.Discard()
		if root, err := config.ResolveRoot(rootDir); err == nil && config.IsInitialized(root) {
			if l, closer, err := obslog.Open(root, slog.LevelWarn); err == nil {
				logger, logCloser = l, closer
			}
		}
		if jsonOutput {
			applyJSONOutput(cmd)
		}
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			_ = logCloser.Close()
		}
		if rootCancel != nil {
			rootCancel()
		}
	},
}

func main() {
	rootCmd.PersistentFlags().StringVar(&rootDir, "root", "", "bird data root (overrides BIRD_ROOT)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "emit machine-readable JSON output")

	rootCmd.AddGroup(
		&cobra.Group{ID: "capture", Title: "Capturing Invocations:"},
		&cobra.Group{ID: "inspect", Title: "Inspecting History:"},
		&cobra.Group{ID: "maint", Title: "Maintenance:"},
		&cobra.Group{ID: "setup", Title: "Setup & Integration:"},
	)

	rootCmd.AddCommand(
		initCmd, runCmd, saveCmd,
		outputCmd, invocationsCmd, eventsCmd, extractEventsCmd, infoCmd, rerunCmd, sqlCmd, statsCmd,
		compactCmd, archiveCmd,
		hookCmd, updateExtensionsCmd,
	)

	if err := rootCmd.Execute(); err != nil {
		if logger != nil {
			logger.Error("command failed", "err", err)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}

// applyJSONOutput makes the persistent --json flag a shorthand for
// "--format json" on the two commands whose --format picks a display shape
// (spec.md §6's `invocations`/`info`). It never touches `events`' or
// `extract-events`' same-named --format flag, which forces a parser format
// and has nothing to do with display.
func applyJSONOutput(cmd *cobra.Command) {
	switch cmd {
	case invocationsCmd, infoCmd:
		if f := cmd.Flags().Lookup("format"); f != nil && !f.Changed {
			_ = f.Value.Set("json")
		}
	}
}

// exitCodeFor maps an error to the exit code spec.md §6 specifies: 127 on
// exec failure (execFailedError), the child's own code when it ran
// (handled directly in runCmd, not here), 1 for everything else.
func exitCodeFor(err error) int {
	if ee, ok := err.(*execFailedError); ok {
		_ = ee
		return 127
	}
	return 1
}

type execFailedError struct{ err error }

func (e *execFailedError) Error() string { return e.err.Error() }
func (e *execFailedError) Unwrap() error { return e.err }
