package action

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/google/shlex"
)

// Shell is the interpreter used for shell-mode commands.
const Shell = "/bin/sh"

// maxOutput caps how much combined stdout/stderr is kept per run.
const maxOutput = 4096

var (
	// ErrEmptyCommand is returned when a template splits to no argv.
	ErrEmptyCommand = errors.New("action: empty command")

	// ErrCommandFailed wraps failures to start or wait for a process.
	ErrCommandFailed = errors.New("action: command failed")
)

// Command is one external command invocation.
//
// With Shell set, Template and Args are joined with spaces and handed to
// /bin/sh -c unmodified; callers own sanitising anything externally sourced.
// Otherwise Template is split shell-style into argv and each of Args is
// appended as a single argv element.
type Command struct {
	Template string
	Args     []string
	Shell    bool
}

// Argv returns the argument vector the command will be started with.
func (c Command) Argv() ([]string, error) {
	if c.Shell {
		line := strings.Join(append([]string{c.Template}, c.Args...), " ")
		if strings.TrimSpace(line) == "" {
			return nil, ErrEmptyCommand
		}
		return []string{Shell, "-c", line}, nil
	}
	argv, err := shlex.Split(c.Template)
	if err != nil {
		return nil, fmt.Errorf("split %q: %w", c.Template, err)
	}
	if len(argv) == 0 {
		return nil, ErrEmptyCommand
	}
	return append(argv, c.Args...), nil
}

// Result is what a finished command left behind.
type Result struct {
	Code   int
	Output string
}

// ExitError reports a command that ran but exited non-zero.
type ExitError struct {
	Code   int
	Output string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// Runner executes commands. Run blocks until the process exits.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// ExecRunner runs commands as local processes.
type ExecRunner struct {
	// Env, if non-nil, replaces the inherited environment.
	Env []string
}

// Run starts the command and waits for it. A non-zero exit is returned as
// *ExitError alongside the Result.
func (r ExecRunner) Run(ctx context.Context, c Command) (Result, error) {
	argv, err := c.Argv()
	if err != nil {
		return Result{}, err
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...) //nolint:gosec // commands come from operator config
	if r.Env != nil {
		cmd.Env = r.Env
	}
	out := &limitedBuffer{max: maxOutput}
	cmd.Stdout = out
	cmd.Stderr = out

	err = cmd.Run()
	res := Result{Output: out.String()}
	if err == nil {
		return res, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		res.Code = -1
		return res, fmt.Errorf("%w: %s: %w", ErrCommandFailed, argv[0], ctxErr)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
		res.Code = exitErr.ExitCode()
		return res, &ExitError{Code: res.Code, Output: res.Output}
	}
	res.Code = -1
	return res, fmt.Errorf("%w: %s: %w", ErrCommandFailed, argv[0], err)
}

// limitedBuffer keeps the first max bytes written and discards the rest.
type limitedBuffer struct {
	buf bytes.Buffer
	max int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := b.max - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string { return b.buf.String() }
