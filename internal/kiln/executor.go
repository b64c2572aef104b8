package kiln

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Command is one external invocation: Args[0] is the program.
type Command struct {
	Dir  string
	Args []string
	Env  []string // nil inherits the parent environment
}

func (c Command) String() string {
	return strings.Join(c.Args, " ")
}

// Runner runs external build tools synchronously. Exit status 0 is success;
// anything else is returned as an error.
type Runner interface {
	Run(ctx context.Context, cmd Command) error
	Output(ctx context.Context, cmd Command) (string, error)
}

// Executor is the Runner used for real builds. Child output goes to the
// terminal unmodified and, when Log is set, to the build log as well.
type Executor struct {
	Stdout            io.Writer
	Stderr            io.Writer
	Log               io.Writer // optional tee of stdout and stderr
	ApplyIdlePriority bool      // run under nice -n 19
}

func NewExecutor() *Executor {
	return &Executor{Stdout: os.Stdout, Stderr: os.Stderr}
}

func (e *Executor) writers() (stdout, stderr io.Writer) {
	stdout, stderr = e.Stdout, e.Stderr
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	if e.Log != nil {
		stdout = io.MultiWriter(stdout, e.Log)
		stderr = io.MultiWriter(stderr, e.Log)
	}
	return stdout, stderr
}

// Run executes cmd with inherited stdio.
func (e *Executor) Run(ctx context.Context, cmd Command) error {
	stdout, stderr := e.writers()
	return e.run(ctx, cmd, stdout, stderr)
}

// Output executes cmd and returns its trimmed stdout. Stderr still passes through.
func (e *Executor) Output(ctx context.Context, cmd Command) (string, error) {
	var out bytes.Buffer
	_, stderr := e.writers()
	if err := e.run(ctx, cmd, &out, stderr); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.String()), nil
}

func (e *Executor) run(ctx context.Context, cmd Command, stdout, stderr io.Writer) error {
	if len(cmd.Args) == 0 {
		return errors.New("empty command")
	}

	name, args := cmd.Args[0], cmd.Args[1:]
	if e.ApplyIdlePriority {
		args = append([]string{"-n", "19", name}, args...)
		name = "nice"
	}

	c := exec.Command(name, args...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = cmd.Env
	}
	c.Stdin = nil
	c.Stdout = stdout
	c.Stderr = stderr

	// isolate the child in its own process group so cancellation reaches
	// everything make spawns
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	logger.Debug("exec", "cmd", cmd.String(), "dir", cmd.Dir)
	if err := c.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", cmd.Args[0], err)
	}

	pgid := c.Process.Pid
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = unix.Kill(-pgid, unix.SIGKILL)
		case <-done:
		}
	}()

	if waitErr := c.Wait(); waitErr != nil {
		if ctx.Err() != nil {
			time.Sleep(100 * time.Millisecond)
			return fmt.Errorf("command aborted: %w", ctx.Err())
		}
		return fmt.Errorf("%s: %w", cmd.Args[0], waitErr)
	}
	return nil
}
