// Package procexec is the fork+exec helper the loader-cache dump and the
// package-tool invocations go through: it runs an external command,
// captures stdout and stderr separately, and turns a non-zero exit or
// signal termination into an errs.ExternalCommandFailure. Grounded in the
// teacher's internal/git.Provider, which wraps every git invocation the
// same way (exec.CommandContext, separate output capture, wrapped error on
// failure) rather than reaching for a process-management library — no such
// library appears anywhere in the retrieved pack, so os/exec is the
// idiomatic choice here too.
package procexec

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"

	"github.com/dimgel/checklink/internal/clog"
	"github.com/dimgel/checklink/internal/errs"
)

// Result is the captured output of a completed command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes external commands on behalf of the collector and the
// package adapter, logging each invocation at Exec level.
type Runner struct {
	log *clog.Logger
}

// New creates a Runner that logs invocations through log.
func New(log *clog.Logger) *Runner {
	return &Runner{log: log}
}

// Run executes name with args, waits for completion, and returns its
// captured output. A non-zero exit status or signal termination is reported
// as errs.ExternalCommandFailure; the partial Result is still returned
// alongside the error so callers needing diagnostics can inspect stderr.
func (r *Runner) Run(ctx context.Context, name string, args ...string) (Result, error) {
	r.log.Exec("%s %v", name, args)

	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}
	if err != nil {
		return res, errs.New(errs.ExternalCommandFailure, "procexec.Run",
			fmt.Errorf("%s: %w (stderr: %s)", name, err, firstLine(res.Stderr))).WithPath(name)
	}
	return res, nil
}

// Chunked splits items across multiple invocations of name so no single
// command line carries more than maxArgsPerCall items (in addition to
// fixedArgs), for commands (the package
// tool's batch download mode) that may otherwise hit the kernel's
// argument-length limit when given thousands of package names at once.
func (r *Runner) Chunked(ctx context.Context, name string, fixedArgs []string, items []string, maxArgsPerCall int) error {
	if maxArgsPerCall <= 0 {
		maxArgsPerCall = 256
	}
	for start := 0; start < len(items); start += maxArgsPerCall {
		end := start + maxArgsPerCall
		if end > len(items) {
			end = len(items)
		}
		args := append(append([]string{}, fixedArgs...), items[start:end]...)
		if _, err := r.Run(ctx, name, args...); err != nil {
			return err
		}
	}
	return nil
}

func firstLine(s string) string {
	for i, c := range s {
		if c == '\n' {
			return s[:i]
		}
	}
	return s
}
