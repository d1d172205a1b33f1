package markup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Runner executes the markup tool inside dir.
type Runner interface {
	Run(ctx context.Context, dir string, args ...string) error
}

// ExitError is a non-zero exit from the markup tool.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("pandoc exited with code %d", e.Code)
	}
	return fmt.Sprintf("pandoc exited with code %d: %s", e.Code, e.Stderr)
}

// ExecRunner starts one pandoc process per call. The process is killed when
// ctx is done.
type ExecRunner struct {
	Path string
}

const maxStderr = 1024

func (r ExecRunner) Run(ctx context.Context, dir string, args ...string) error {
	path := r.Path
	if path == "" {
		path = "pandoc"
	}
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Dir = dir
	cmd.WaitDelay = 2 * time.Second

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > maxStderr {
			msg = msg[:maxStderr]
		}
		return &ExitError{Code: exitErr.ExitCode(), Stderr: msg}
	}
	return fmt.Errorf("start pandoc: %w", err)
}

// pandoc reader and writer names per format id.
var (
	pandocReaders = map[string]string{
		"md":   "gfm",
		"html": "html",
		"tex":  "latex",
		"epub": "epub",
		"rst":  "rst",
		"docx": "docx",
		"odt":  "odt",
		"txt":  "commonmark",
	}
	pandocWriters = map[string]string{
		"md":   "gfm",
		"html": "html5",
		"tex":  "latex",
		"epub": "epub3",
		"rst":  "rst",
		"docx": "docx",
		"odt":  "odt",
		"txt":  "plain",
	}
)

func pandocArgs(from, to, inName, outName string) ([]string, error) {
	reader, ok := pandocReaders[from]
	if !ok {
		return nil, fmt.Errorf("no pandoc reader for %s", from)
	}
	writer, ok := pandocWriters[to]
	if !ok {
		return nil, fmt.Errorf("no pandoc writer for %s", to)
	}
	args := []string{"--sandbox", "--from", reader, "--to", writer, "--output", outName}
	if to == "html" || to == "tex" {
		args = append(args, "--standalone")
	}
	return append(args, inName), nil
}

// Exit codes pandoc uses for unknown readers, writers and extensions.
func unsupportedExit(code int) bool {
	return code == 21 || code == 22 || code == 23
}
