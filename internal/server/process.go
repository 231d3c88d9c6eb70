package server

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"slices"
	"time"

	"golang.org/x/sys/unix"
)

// killWait bounds how long Terminate waits after SIGKILL.
const killWait = 2 * time.Second

// signalProcess is swapped by tests to simulate signal delivery failures.
var signalProcess = func(p *os.Process, sig os.Signal) error {
	return p.Signal(sig)
}

// Process is the owned handle to one running indiserver child.
type Process struct {
	cmd       *exec.Cmd
	args      []string
	startedAt time.Time
	done      chan struct{}
	waitErr   error
}

// spawn starts binary with args and begins reaping it in the background.
func spawn(binary string, args []string, stdout, stderr io.Writer) (*Process, error) {
	cmd := exec.Command(binary, args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	p := &Process{
		cmd:       cmd,
		args:      slices.Clone(args),
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
	go func() {
		p.waitErr = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

// Pid returns the OS process identifier.
func (p *Process) Pid() int {
	if p == nil || p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Args returns the driver paths the server was started with.
func (p *Process) Args() []string {
	return slices.Clone(p.args)
}

// StartedAt is when the process was spawned.
func (p *Process) StartedAt() time.Time {
	return p.startedAt
}

// Done is closed once the process has exited and been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Err returns the wait error after Done is closed, nil before.
func (p *Process) Err() error {
	select {
	case <-p.done:
		return p.waitErr
	default:
		return nil
	}
}

// Terminate sends SIGTERM and waits up to grace before sending SIGKILL.
// It returns nil once the process is gone, whatever its exit status.
func (p *Process) Terminate(grace time.Duration) error {
	select {
	case <-p.done:
		return nil
	default:
	}

	pid := p.Pid()
	if err := signalProcess(p.cmd.Process, unix.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("send SIGTERM to pid %d: %w", pid, err)
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-p.done:
		return nil
	case <-timer.C:
	}

	if err := signalProcess(p.cmd.Process, unix.SIGKILL); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("send SIGKILL to pid %d: %w", pid, err)
	}

	select {
	case <-p.done:
		return nil
	case <-time.After(killWait):
		return fmt.Errorf("pid %d still alive %s after SIGKILL", pid, killWait)
	}
}
