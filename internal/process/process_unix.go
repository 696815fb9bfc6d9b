//go:build !windows
// +build !windows

package process

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// Start starts a new agent subprocess with the given options. The process
// runs in its own process group so signals reach any children it spawns.
func Start(opts StartOptions) (*Process, error) {
	cmd := exec.Command(opts.Command, opts.Args...)
	cmd.Env = opts.Env
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}
	if opts.Dir != "" {
		cmd.Dir = opts.Dir
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start process: %w", err)
	}

	return &Process{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
		pid:    cmd.Process.Pid,
	}, nil
}

// Interrupt sends SIGINT to the process group, cancelling the agent's
// current turn without killing it.
func (p *Process) Interrupt() error {
	return unix.Kill(-p.pid, unix.SIGINT)
}

// Kill forcefully terminates the process group.
func (p *Process) Kill() error {
	if err := unix.Kill(-p.pid, unix.SIGKILL); err != nil {
		// Fall back to the single process when the group is gone.
		if p.cmd.Process != nil {
			return p.cmd.Process.Kill()
		}
		return err
	}
	return nil
}
