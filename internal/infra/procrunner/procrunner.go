// Package procrunner spawns and supervises external processor executables.
// A Process captures standard output, standard error, and the exit code of a
// single invocation and can be asked to terminate the invocation early.
package procrunner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
)

// ExitValueUnset is reported until a process has run to an exit. By
// convention, the value 0 indicates normal termination.
const ExitValueUnset = -1

// ErrAlreadyRunning is returned when Execute is invoked while a previous
// invocation is still in flight.
var ErrAlreadyRunning = errors.New("procrunner: process is already running")

// Process is a single-command runner. Execute may be called again after a
// previous invocation finished; concurrent invocations are rejected.
type Process struct {
	mu sync.Mutex

	dir     string
	command string

	cmd     *exec.Cmd
	running bool

	stdout bytes.Buffer
	stderr bytes.Buffer
	exit   int
}

// New creates a runner for the given command. dir is the working directory
// for the invocation; empty means the service's own working directory.
func New(dir, command string) *Process {
	return &Process{
		dir:     dir,
		command: command,
		exit:    ExitValueUnset,
	}
}

// Command returns the command the runner invokes.
func (p *Process) Command() string { return p.command }

// Execute runs the command with the given arguments and blocks until it
// exits or the context is canceled (which kills the process). A non-zero
// exit is not an error: it is recorded in ExitValue. An error is returned
// only when the process could not be started, was torn down by context or
// kill before exiting on its own, or is already running.
func (p *Process) Execute(ctx context.Context, args ...string) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return ErrAlreadyRunning
	}

	cmd := exec.CommandContext(ctx, p.command, args...)
	cmd.Dir = p.dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		p.mu.Unlock()
		return fmt.Errorf("starting %q: %w", p.command, err)
	}

	p.cmd = cmd
	p.running = true
	p.stdout.Reset()
	p.stderr.Reset()
	p.exit = ExitValueUnset
	p.mu.Unlock()

	err := cmd.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()

	p.running = false
	p.cmd = nil
	p.stdout = stdout
	p.stderr = stderr

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		p.exit = 0
		return nil
	case errors.As(err, &exitErr):
		p.exit = exitErr.ExitCode()
		if p.exit >= 0 {
			// The process exited on its own; the code is data, not an error.
			return nil
		}
		// Killed by signal (cancel or context teardown).
		return fmt.Errorf("process %q terminated: %w", p.command, err)
	default:
		return fmt.Errorf("waiting for %q: %w", p.command, err)
	}
}

// Cancel requests termination of an in-flight invocation. It only issues the
// request; it does not wait for the process to die. Canceling a process that
// is not running is a no-op.
func (p *Process) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd != nil && p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
}

// StandardOutput returns the captured standard output of the last invocation.
func (p *Process) StandardOutput() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stdout.String()
}

// StandardError returns the captured standard error of the last invocation.
func (p *Process) StandardError() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stderr.String()
}

// ExitValue returns the exit code of the last invocation, or ExitValueUnset
// if no invocation has exited.
func (p *Process) ExitValue() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exit
}
