package launcher

import (
	"errors"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// ReapTimeout bounds how long a kill waits for the process to be reaped.
const ReapTimeout = 5 * time.Second

// process wraps a started command with a waiter goroutine so callers can poll
// for termination without blocking.
type process struct {
	cmd     *exec.Cmd
	done    chan struct{}
	waitErr error
}

func startProcess(cmd *exec.Cmd) (*process, error) {
	// Own process group, so a kill also reaches children spawned by
	// wrapper scripts and profilers.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	p := &process{cmd: cmd, done: make(chan struct{})}
	go func() {
		p.waitErr = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

func (p *process) PID() int {
	if p.cmd.Process == nil {
		return -1
	}
	return p.cmd.Process.Pid
}

// Exited reports whether the process has terminated. It never blocks.
func (p *process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *process) Done() <-chan struct{} {
	return p.done
}

// ExitErr is the result of Wait; nil while the process is running.
func (p *process) ExitErr() error {
	if !p.Exited() {
		return nil
	}
	return p.waitErr
}

// ExitCode is -1 while running or when killed by a signal.
func (p *process) ExitCode() int {
	if !p.Exited() || p.cmd.ProcessState == nil {
		return -1
	}
	return p.cmd.ProcessState.ExitCode()
}

// Kill sends SIGKILL to the process group. Killing an exited process is not
// an error.
func (p *process) Kill() error {
	if p.Exited() {
		return nil
	}
	pid := p.PID()
	if pid <= 0 {
		return nil
	}
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return nil
		}
		// Fall back to the leader alone.
		if kerr := p.cmd.Process.Kill(); kerr != nil && !errors.Is(kerr, os.ErrProcessDone) {
			return kerr
		}
	}
	return nil
}

// KillAndWait kills the process and waits up to timeout for it to be reaped.
func (p *process) KillAndWait(timeout time.Duration) error {
	if err := p.Kill(); err != nil {
		return err
	}
	select {
	case <-p.done:
		return nil
	case <-time.After(timeout):
		return errors.New("process did not exit after kill")
	}
}

// closer closes a set of files exactly once.
type closer struct {
	once  sync.Once
	files []*os.File
	err   error
}

func (c *closer) Close() error {
	c.once.Do(func() {
		for _, f := range c.files {
			if f == nil {
				continue
			}
			if err := f.Close(); err != nil && c.err == nil {
				c.err = err
			}
		}
	})
	return c.err
}
