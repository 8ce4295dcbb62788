package main

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"

	"github.com/teaguesterling/bird/internal/store"
)

var (
	runShellCmd string
	runNoExtract bool
	runExtract   bool
)

var runCmd = &cobra.Command{
	Use:     "run [-c CMD | -- ARGV...]",
	GroupID: "capture",
	Short:   "Execute a command, capture its output, and save the invocation",
	Args:    cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmdStr, execCmd, err := buildExecCmd(runShellCmd, args)
		if err != nil {
			return err
		}

		var stdout, stderr bytes.Buffer
		execCmd.Stdout = &stdout
		execCmd.Stderr = &stderr

		start := time.Now()
		runErr := execCmd.Run()
		durationMs := time.Since(start).Milliseconds()

		os.Stdout.Write(stdout.Bytes())
		os.Stderr.Write(stderr.Bytes())

		if _, ok := runErr.(*exec.Error); ok {
			fmt.Fprintf(os.Stderr, "bird: failed to execute command: %v\n", runErr)
			return &execFailedError{err: runErr}
		}

		exitCode := int32(0)
		if ee, ok := runErr.(*exec.ExitError); ok {
			exitCode = int32(ee.ExitCode())
		}

		if containsOptOutSentinel(stdout.Bytes(), stderr.Bytes()) {
			return exitWithCode(exitCode)
		}

		s, err := store.Open(rootCtx, rootDir)
		if err != nil {
			return err
		}
		defer s.Close()

		cwd, _ := os.Getwd()
		ec := exitCode
		dm := durationMs
		shouldExtract := s.Config.AutoExtract
		if runExtract {
			shouldExtract = true
		}
		if runNoExtract {
			shouldExtract = false
		}
		if _, _, err := writeCapture(rootCtx, s, captured{
			sessionID: defaultSessionID(), invoker: defaultInvokerName(),
			invokerPID: int64(os.Getppid()), invokerType: "shell",
			cmd: cmdStr, cwd: cwd, exitCode: &ec, durationMs: &dm,
			stdout: stdout.Bytes(), stderr: stderr.Bytes(),
		}, shouldExtract); err != nil {
			return err
		}

		return exitWithCode(exitCode)
	},
}

func init() {
	runCmd.Flags().StringVarP(&runShellCmd, "command", "c", "", "run CMD through $SHELL -c instead of exec'ing argv directly")
	runCmd.Flags().BoolVar(&runExtract, "extract", false, "force event extraction regardless of config")
	runCmd.Flags().BoolVar(&runNoExtract, "no-extract", false, "disable event extraction regardless of config")
}

// buildExecCmd mirrors the original wrapper's two invocation forms: `-c CMD`
// runs CMD through $SHELL, bare argv execs the first word directly.
func buildExecCmd(shellCmd string, args []string) (string, *exec.Cmd, error) {
	if shellCmd != "" {
		shell := os.Getenv("SHELL")
		if shell == "" {
			shell = "sh"
		}
		return shellCmd, exec.Command(shell, "-c", shellCmd), nil
	}
	if len(args) == 0 {
		return "", nil, fmt.Errorf("no command specified: use -c \"cmd\" or provide command args")
	}
	return joinArgs(args), exec.Command(args[0], args[1:]...), nil
}

func joinArgs(args []string) string {
	s := args[0]
	for _, a := range args[1:] {
		s += " " + a
	}
	return s
}

// exitWithCode mirrors spec.md §6: run's exit code is the child's own, not
// mapped through the generic error path.
func exitWithCode(code int32) error {
	if code == 0 {
		return nil
	}
	os.Exit(int(code))
	return nil
}
