package main

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"

	"github.com/teaguesterling/bird/internal/errs"
	"github.com/teaguesterling/bird/internal/store"
)

var (
	rerunDryRun    bool
	rerunNoCapture bool
)

var rerunCmd = &cobra.Command{
	Use:     "rerun [query]",
	Aliases: []string{"R"},
	GroupID: "inspect",
	Short:   "Re-run a previous invocation",
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

		var cmdStr, cwd string
		if err := s.DB.QueryRowContext(rootCtx, `
			SELECT cmd, cwd FROM main.invocations WHERE id = ?`, invocationID).Scan(&cmdStr, &cwd); err != nil {
			return err
		}

		if rerunDryRun {
			fmt.Printf("Would run: %s\n", cmdStr)
			fmt.Printf("In directory: %s\n", cwd)
			return nil
		}

		fmt.Fprintf(os.Stderr, "\x1b[2m$ %s\x1b[0m\n", cmdStr)

		shell := os.Getenv("SHELL")
		if shell == "" {
			shell = "sh"
		}

		if rerunNoCapture {
			ec := exec.Command(shell, "-c", cmdStr)
			ec.Dir = cwd
			ec.Stdin, ec.Stdout, ec.Stderr = os.Stdin, os.Stdout, os.Stderr
			runErr := ec.Run()
			if ee, ok := runErr.(*exec.ExitError); ok {
				return exitWithCode(int32(ee.ExitCode()))
			}
			return runErr
		}

		execCmd := exec.Command(shell, "-c", cmdStr)
		execCmd.Dir = cwd
		var stdout, stderr bytes.Buffer
		execCmd.Stdout, execCmd.Stderr = &stdout, &stderr

		start := time.Now()
		runErr := execCmd.Run()
		durationMs := time.Since(start).Milliseconds()

		os.Stdout.Write(stdout.Bytes())
		os.Stderr.Write(stderr.Bytes())

		exitCode := int32(0)
		if ee, ok := runErr.(*exec.ExitError); ok {
			exitCode = int32(ee.ExitCode())
		} else if runErr != nil {
			return runErr
		}

		if containsOptOutSentinel(stdout.Bytes(), stderr.Bytes()) {
			return exitWithCode(exitCode)
		}

		ec := exitCode
		dm := durationMs
		if _, _, err := writeCapture(rootCtx, s, captured{
			sessionID: defaultSessionID(), invoker: defaultInvokerName(),
			invokerPID: int64(os.Getppid()), invokerType: "shell",
			cmd: cmdStr, cwd: cwd, exitCode: &ec, durationMs: &dm,
			stdout: stdout.Bytes(), stderr: stderr.Bytes(),
		}, s.Config.AutoExtract); err != nil {
			return err
		}

		return exitWithCode(exitCode)
	},
}

func init() {
	rerunCmd.Flags().BoolVar(&rerunDryRun, "dry-run", false, "print the command instead of running it")
	rerunCmd.Flags().BoolVar(&rerunNoCapture, "no-capture", false, "run without recording a new invocation")
}
