// Package process manages agent CLI subprocesses: pipe-based stdio for the
// line-oriented stream protocol, process groups for signal delivery.
package process

import (
	"errors"
	"io"
	"os/exec"
	"sync"
)

// StartOptions contains options for starting an agent subprocess.
type StartOptions struct {
	// Command is the command to execute.
	Command string

	// Args are the arguments to pass to the command.
	Args []string

	// Env is the environment variables for the process.
	// If nil, the current process environment is used.
	Env []string

	// Dir is the working directory for the process.
	// If empty, the current directory is used.
	Dir string
}

// Process represents a running agent subprocess. Its stdin carries
// newline-delimited JSON commands; stdout carries the event stream.
type Process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser
	pid    int

	mu     sync.Mutex
	closed bool
}

// PID returns the process ID of the running process.
func (p *Process) PID() int {
	return p.pid
}

// Stdout returns the process's stdout pipe.
func (p *Process) Stdout() io.Reader {
	return p.stdout
}

// Stderr returns the process's stderr pipe.
func (p *Process) Stderr() io.Reader {
	return p.stderr
}

// WriteLine writes one protocol line followed by a newline to the
// process's stdin.
func (p *Process) WriteLine(line []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return errors.New("process stdin closed")
	}
	if _, err := p.stdin.Write(line); err != nil {
		return err
	}
	_, err := p.stdin.Write([]byte{'\n'})
	return err
}

// CloseStdin closes the process's stdin, signalling end of input.
func (p *Process) CloseStdin() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	return p.stdin.Close()
}

// Wait waits for the process to exit and returns the exit code.
// Returns -1 if the process was killed by a signal.
func (p *Process) Wait() (int, error) {
	err := p.cmd.Wait()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return -1, err
	}
	return 0, nil
}
