package main

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"

	"github.com/teaguesterling/bird/internal/query"
	"github.com/teaguesterling/bird/internal/store"
)

var (
	outputStream    string
	outputPager     bool
	outputStripANSI bool
	outputHead      int
	outputTail      int
)

var outputCmd = &cobra.Command{
	Use:     "output [query]",
	Aliases: []string{"show", "o"},
	GroupID: "inspect",
	Short:   "Retrieve and render captured output",
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
			fmt.Fprintln(os.Stderr, "no matching invocation found")
			return nil
		}

		dbFilter, combine := normalizeStreamFilter(outputStream)

		rows, err := s.DB.QueryContext(rootCtx, `
			SELECT stream, storage_ref FROM main.outputs WHERE invocation_id = ?`, invocationID)
		if err != nil {
			return err
		}
		defer rows.Close()

		var stdoutContent, stderrContent []byte
		for rows.Next() {
			var stream, ref string
			if err := rows.Scan(&stream, &ref); err != nil {
				return err
			}
			if dbFilter != "" && stream != dbFilter {
				continue
			}
			content, err := s.Blobs.Open(rootCtx, ref)
			if err != nil {
				fmt.Fprintf(os.Stderr, "bird: failed to read output for stream %q: %v\n", stream, err)
				continue
			}
			if stream == "stderr" {
				stderrContent = append(stderrContent, content...)
			} else {
				stdoutContent = append(stdoutContent, content...)
			}
		}
		if err := rows.Err(); err != nil {
			return err
		}

		if combine {
			all := append(append([]byte{}, stdoutContent...), stderrContent...)
			return renderOutput(processContent(all, outputStripANSI, outputHead, outputTail), outputPager)
		}
		if err := renderOutput(processContent(stdoutContent, outputStripANSI, outputHead, outputTail), outputPager); err != nil {
			return err
		}
		if len(stderrContent) > 0 {
			fmt.Fprint(os.Stderr, processContent(stderrContent, outputStripANSI, outputHead, outputTail))
		}
		return nil
	},
}

func init() {
	outputCmd.Flags().StringVarP(&outputStream, "stream", "s", "", "stream filter: stdout, stderr, or all")
	outputCmd.Flags().BoolVar(&outputPager, "pager", false, "page output through $PAGER (default 'less -R')")
	outputCmd.Flags().BoolVar(&outputStripANSI, "strip-ansi", false, "strip ANSI escape sequences before rendering")
	outputCmd.Flags().IntVar(&outputHead, "head", 0, "show only the first N lines")
	outputCmd.Flags().IntVar(&outputTail, "tail", 0, "show only the last N lines")
}

// normalizeStreamFilter maps the O/E/A aliases spec.md §6 documents onto a
// storage-column filter plus whether stdout/stderr should be combined.
func normalizeStreamFilter(s string) (dbFilter string, combine bool) {
	switch strings.ToLower(s) {
	case "o", "stdout":
		return "stdout", false
	case "e", "stderr":
		return "stderr", false
	case "a", "all":
		return "", true
	case "":
		return "", false
	default:
		return s, false
	}
}

// resolveQueryToInvocation picks the most recent invocation matching q
// (out-of-scope micro-language per spec.md §1; this CLI accepts the
// pragmatic subset parseQueryArg understands). Empty q means "most recent
// invocation overall".
func resolveQueryToInvocation(s *store.Store, q string) (string, error) {
	filter := parseQueryArg(q)
	sqlStr, args := query.SelectInvocations("main", filter)
	sqlStr += " ORDER BY timestamp DESC LIMIT 1"
	row := s.DB.QueryRowContext(rootCtx, "SELECT id FROM ("+sqlStr+") t", args...)
	var id string
	if err := row.Scan(&id); err != nil {
		return "", nil
	}
	return id, nil
}

// processContent applies ANSI stripping and head/tail line limiting the way
// the original output command's process_content closure does.
func processContent(content []byte, stripANSI bool, head, tail int) string {
	if stripANSI {
		content = stripANSIBytes(content)
	}
	s := string(content)
	if head <= 0 && tail <= 0 {
		return s
	}
	trailingNewline := strings.HasSuffix(s, "\n")
	lines := strings.Split(strings.TrimSuffix(s, "\n"), "\n")
	switch {
	case head > 0 && head < len(lines):
		lines = lines[:head]
	case tail > 0 && tail < len(lines):
		lines = lines[len(lines)-tail:]
	}
	out := strings.Join(lines, "\n")
	if trailingNewline {
		out += "\n"
	}
	return out
}

// renderOutput writes content to stdout directly, or through $PAGER
// (default "less -R") when paged is set.
func renderOutput(content string, paged bool) error {
	if !paged {
		fmt.Print(content)
		return nil
	}
	pagerCmd := os.Getenv("PAGER")
	if pagerCmd == "" {
		pagerCmd = "less -R"
	}
	parts := strings.Fields(pagerCmd)
	c := exec.Command(parts[0], parts[1:]...)
	c.Stdin = strings.NewReader(content)
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	return c.Run()
}
