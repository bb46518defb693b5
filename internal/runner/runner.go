// Package runner executes console-block commands through a shell and
// recovers the directory each command finished in.
//
// A child process cannot change its parent's working directory, so a "cd"
// inside a command would be invisible to the caller. The runner appends a
// trailer that prints the final directory as a sentinel line after the
// command's own output, then strips the sentinel before returning.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

// SentinelPrefix starts the line that reports the command's final directory.
const SentinelPrefix = "@SureMD_PWD@="

// DefaultShell is the shell used when none is configured.
const DefaultShell = "sh"

const waitDelay = 2 * time.Second

// trailer captures the exit code, prints a blank line and the sentinel, and
// re-exits with the captured code.
const trailer = `
__suremd_rc=$?
echo
echo "` + SentinelPrefix + `$(pwd)"
exit $__suremd_rc
`

var sentinelRE = regexp.MustCompile(`^` + regexp.QuoteMeta(SentinelPrefix) + `(/.*)$`)

// Result is the outcome of one command.
type Result struct {
	// Stdout holds stdout and stderr merged, without the sentinel.
	Stdout string
	// ExitCode is the process exit status, or -1 on timeout.
	ExitCode int
	// Dir is the absolute directory the command finished in. It equals the
	// starting directory when the sentinel was missing.
	Dir string
	// SentinelFound is false when the command exited before the trailer ran.
	SentinelFound bool
	// TimedOut reports that the command was killed by the timeout.
	TimedOut bool
}

// Runner runs shell command lines.
type Runner struct {
	shell   string
	timeout time.Duration
}

// Option configures a Runner.
type Option func(*Runner)

// WithShell sets the shell binary invoked as "<shell> -c <script>".
func WithShell(shell string) Option {
	return func(r *Runner) {
		if shell != "" {
			r.shell = shell
		}
	}
}

// WithTimeout bounds each command. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) {
		r.timeout = d
	}
}

// New creates a Runner.
func New(opts ...Option) *Runner {
	r := &Runner{shell: DefaultShell}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes command in dir and reports its output, exit code and final
// directory. A nonzero exit is not an error; err is non-nil only when the
// shell could not be started.
func (r *Runner) Run(ctx context.Context, dir, command string) (Result, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	c := exec.CommandContext(ctx, r.shell, "-c", Script(command))
	c.Dir = dir
	var out bytes.Buffer
	c.Stdout = &out
	c.Stderr = &out
	// Background children of a killed shell may hold the output pipe open.
	c.WaitDelay = waitDelay

	res := Result{Dir: dir}
	err := c.Run()
	res.Stdout, res.Dir, res.SentinelFound = SplitSentinel(out.String(), dir)

	var exitErr *exec.ExitError
	switch {
	case err == nil, errors.Is(err, exec.ErrWaitDelay):
	case ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded):
		res.ExitCode = -1
		res.TimedOut = true
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		return res, fmt.Errorf("starting %s: %w", r.shell, err)
	}
	return res, nil
}

// Script returns command followed by the directory-reporting trailer.
func Script(command string) string {
	return command + trailer
}

// SplitSentinel separates the sentinel from raw output. When the
// second-to-last "\n"-separated element is a well-formed sentinel, it
// returns the output before the trailer's blank line, the reported
// directory and true. Otherwise raw is returned unchanged with fallbackDir.
func SplitSentinel(raw, fallbackDir string) (string, string, bool) {
	lines := strings.Split(raw, "\n")
	if len(lines) < 2 {
		return raw, fallbackDir, false
	}
	m := sentinelRE.FindStringSubmatch(lines[len(lines)-2])
	if m == nil {
		return raw, fallbackDir, false
	}
	return strings.Join(lines[:len(lines)-2], "\n"), m[1], true
}
