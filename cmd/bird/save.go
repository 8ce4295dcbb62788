package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/teaguesterling/bird/internal/store"
)

var (
	saveCommand        string
	saveExitCode       int32
	saveDurationMs     int64
	saveStream         string
	saveStdoutFile     string
	saveStderrFile     string
	saveSessionID      string
	saveInvokerPID     int64
	saveInvoker        string
	saveInvokerType    string
	saveExtract        bool
	saveQuiet          bool
)

var saveCmd = &cobra.Command{
	Use:     "save [file]",
	GroupID: "capture",
	Short:   "Register a completed invocation from existing output",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if saveCommand == "" {
			return fmt.Errorf("save: -c CMD is required")
		}

		stdout, stderr, single, err := readSaveContent(args, saveStdoutFile, saveStderrFile)
		if err != nil {
			return err
		}
		if containsOptOutSentinel(stdout, stderr, single) {
			return nil
		}

		sessionID := saveSessionID
		if sessionID == "" {
			sessionID = defaultSessionID()
		}
		invokerPID := saveInvokerPID
		if invokerPID == 0 {
			invokerPID = int64(os.Getppid())
		}
		invoker := saveInvoker
		if invoker == "" {
			invoker = defaultInvokerName()
		}

		s, err := store.Open(rootCtx, rootDir)
		if err != nil {
			return err
		}
		defer s.Close()

		cwd, _ := os.Getwd()
		ec := saveExitCode
		var dm *int64
		if cmd.Flags().Changed("duration") {
			dm = &saveDurationMs
		}

		c := captured{
			sessionID: sessionID, invoker: invoker, invokerPID: invokerPID,
			invokerType: saveInvokerType, cmd: saveCommand, cwd: cwd,
			exitCode: &ec, durationMs: dm,
		}
		switch {
		case stdout != nil || stderr != nil:
			c.stdout, c.stderr = stdout, stderr
		default:
			if saveStream == "stderr" {
				c.stderr = single
			} else {
				c.stdout = single
			}
		}

		should := saveExtract || s.Config.AutoExtract
		_, extracted, err := writeCapture(rootCtx, s, c, should)
		if err != nil {
			return err
		}
		if !saveQuiet && extracted > 0 {
			fmt.Printf("Extracted %d events\n", extracted)
		}
		return nil
	},
}

func init() {
	saveCmd.Flags().StringVarP(&saveCommand, "command", "c", "", "the command string being recorded (required)")
	saveCmd.Flags().Int32VarP(&saveExitCode, "exit", "x", 0, "recorded exit code")
	saveCmd.Flags().Int64VarP(&saveDurationMs, "duration", "d", 0, "recorded duration in milliseconds")
	saveCmd.Flags().StringVarP(&saveStream, "stream", "s", "stdout", "which stream the single-file/stdin content represents")
	saveCmd.Flags().StringVarP(&saveStdoutFile, "stdout-file", "o", "", "file containing captured stdout")
	saveCmd.Flags().StringVarP(&saveStderrFile, "stderr-file", "e", "", "file containing captured stderr")
	saveCmd.Flags().StringVar(&saveSessionID, "session-id", "", "explicit session id (default: derived from parent pid)")
	saveCmd.Flags().Int64Var(&saveInvokerPID, "invoker-pid", 0, "explicit invoker pid (default: parent pid)")
	saveCmd.Flags().StringVar(&saveInvoker, "invoker", "", "explicit invoker program name (default: $SHELL basename)")
	saveCmd.Flags().StringVar(&saveInvokerType, "invoker-type", "shell", "invoker type recorded on the session")
	saveCmd.Flags().BoolVar(&saveExtract, "extract", false, "force event extraction regardless of config")
	saveCmd.Flags().BoolVarP(&saveQuiet, "quiet", "q", false, "suppress the extracted-event count message")
}

// readSaveContent implements spec.md §6 save's three mutually-exclusive
// input forms: explicit stdout/stderr files, a positional file argument, or
// stdin, read whole before any sentinel check.
func readSaveContent(args []string, stdoutFile, stderrFile string) (stdout, stderr, single []byte, err error) {
	if stdoutFile != "" || stderrFile != "" {
		if stdoutFile != "" {
			if stdout, err = os.ReadFile(stdoutFile); err != nil {
				return nil, nil, nil, err
			}
		}
		if stderrFile != "" {
			if stderr, err = os.ReadFile(stderrFile); err != nil {
				return nil, nil, nil, err
			}
		}
		return stdout, stderr, nil, nil
	}
	if len(args) == 1 {
		single, err = os.ReadFile(args[0])
		return nil, nil, single, err
	}
	single, err = io.ReadAll(os.Stdin)
	return nil, nil, single, err
}
