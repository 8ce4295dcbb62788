package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/teaguesterling/bird/internal/events"
	"github.com/teaguesterling/bird/internal/invocation"
	"github.com/teaguesterling/bird/internal/store"
	"github.com/teaguesterling/bird/internal/types"
)

// defaultSessionID groups invocations by parent shell process, mirroring
// the original shq wrapper's "shell-<ppid>" convention.
func defaultSessionID() string {
	return fmt.Sprintf("shell-%d", os.Getppid())
}

// currentUsername reports $USER (or $USERNAME on platforms that use it).
func currentUsername() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return os.Getenv("USERNAME")
}

// defaultInvokerName reports $SHELL's basename, or "unknown".
func defaultInvokerName() string {
	sh := os.Getenv("SHELL")
	if sh == "" {
		return "unknown"
	}
	return filepath.Base(sh)
}

// captured holds the fields common to run's exec path and save's
// already-captured-output path.
type captured struct {
	sessionID   string
	invoker     string
	invokerPID  int64
	invokerType string
	cmd         string
	cwd         string
	exitCode    *int32
	durationMs  *int64
	stdout      []byte
	stderr      []byte
}

// writeCapture assembles and writes the Session/Attempt/Outcome/Output
// batch for one captured invocation, then runs event extraction when
// requested, returning the new invocation id and the number of events
// extracted (0 when extract is false).
func writeCapture(ctx context.Context, s *store.Store, c captured, extract bool) (string, int, error) {
	now := time.Now().UTC()

	hostname, _ := os.Hostname()
	a, err := s.Invocations.Start(ctx, invocation.StartOptions{
		SessionID: c.sessionID,
		ClientID:  s.Config.ClientID,
		Hostname:  hostname,
		Username:  currentUsername(),
		Cmd:       c.cmd,
		Cwd:       c.cwd,
		MachineID: fmt.Sprintf("pid:%d", os.Getpid()),
	})
	if err != nil {
		return "", 0, err
	}

	session := &types.Session{
		SessionID: c.sessionID, ClientID: s.Config.ClientID, Invoker: c.invoker,
		InvokerPID: c.invokerPID, InvokerType: c.invokerType, RegisteredAt: now,
		Cwd: c.cwd, Date: types.DateOf(now),
	}

	outcome := types.Outcome{
		AttemptID: a.ID, CompletedAt: now, ExitCode: c.exitCode, DurationMs: c.durationMs,
		Date: types.DateOf(now),
	}

	var outputs []types.Output
	for _, o := range []struct {
		stream  string
		content []byte
	}{{"stdout", c.stdout}, {"stderr", c.stderr}} {
		if len(o.content) == 0 {
			continue
		}
		storageType, ref, hash, err := s.Blobs.Put(ctx, o.content, c.cmd)
		if err != nil {
			return "", 0, err
		}
		outputs = append(outputs, types.Output{
			InvocationID: a.ID, Stream: o.stream, ContentHash: hash,
			ByteLength: int64(len(o.content)), StorageType: storageType, StorageRef: ref,
			ContentType: sniffContentType(o.content), Date: types.DateOf(now),
		})
	}

	if err := s.Invocations.WriteBatch(ctx, invocation.Batch{
		Session: session, Attempt: a, Outcome: outcome, Outputs: outputs,
	}); err != nil {
		return "", 0, err
	}

	extracted := 0
	if extract {
		reg := events.NewRegistry(s.Hints)
		for i := range outputs {
			raw, err := s.Blobs.Open(ctx, outputs[i].StorageRef)
			if err != nil {
				continue
			}
			count, err := s.Events.Extract(ctx, reg, a.ID, s.Config.ClientID, a.Hostname, c.cmd, raw, "")
			if err != nil {
				return a.ID, extracted, err
			}
			extracted += count
		}
	}

	return a.ID, extracted, nil
}

// sniffContentType implements SPEC_FULL.md §10 decision 3: a small MIME
// sniff over the first 512 bytes, standard-library only since no example
// repo carries a dedicated sniffer.
func sniffContentType(content []byte) string {
	n := len(content)
	if n > 512 {
		n = 512
	}
	return http.DetectContentType(content[:n])
}
