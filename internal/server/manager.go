// Package server owns the indiserver child process and its start/stop transitions.
package server

import (
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/rbright/indiserver-ui/internal/fsm"
)

const (
	// DefaultBinary is resolved through PATH.
	DefaultBinary = "indiserver"
	// DefaultGrace is the SIGTERM to SIGKILL window used by Stop.
	DefaultGrace = 3 * time.Second
)

// Persister records the driver selection before each start.
type Persister interface {
	SaveDrivers(drivers []string) error
}

// PersistFunc adapts a function to the Persister interface.
type PersistFunc func(drivers []string) error

func (f PersistFunc) SaveDrivers(drivers []string) error {
	return f(drivers)
}

// Options configures a Manager. Zero values select the defaults.
type Options struct {
	Binary    string
	Persister Persister
	Logger    *slog.Logger
	Stdout    io.Writer
	Stderr    io.Writer
	Grace     time.Duration
}

// Manager owns at most one running indiserver process.
type Manager struct {
	binary  string
	persist Persister
	logger  *slog.Logger
	stdout  io.Writer
	stderr  io.Writer
	grace   time.Duration

	mu    sync.Mutex
	state fsm.State
	proc  *Process
	// stopping is set while Stop waits on Terminate with mu released.
	stopping bool
}

// NewManager constructs a stopped manager with safe default fallbacks.
func NewManager(opts Options) *Manager {
	if opts.Binary == "" {
		opts.Binary = DefaultBinary
	}
	if opts.Persister == nil {
		opts.Persister = PersistFunc(func([]string) error { return nil })
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Grace <= 0 {
		opts.Grace = DefaultGrace
	}

	return &Manager{
		binary:  opts.Binary,
		persist: opts.Persister,
		logger:  opts.Logger,
		stdout:  opts.Stdout,
		stderr:  opts.Stderr,
		grace:   opts.Grace,
		state:   fsm.StateStopped,
	}
}

// State returns the current state snapshot.
func (m *Manager) State() fsm.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Process returns the owned handle, or nil when stopped.
func (m *Manager) Process() *Process {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.proc
}

// Start persists paths and spawns `indiserver <paths...>`.
//
// The state moves to running only after the spawn succeeds.
func (m *Manager) Start(paths []string) (*Process, error) {
	if len(paths) == 0 {
		return nil, ErrNoDrivers
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	next, err := fsm.Transition(m.state, fsm.EventStart)
	if err != nil {
		return nil, fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, m.proc.Pid())
	}

	drivers := slices.Clone(paths)
	if err := m.persist.SaveDrivers(drivers); err != nil {
		m.logger.Error("persist driver selection failed", "error", err.Error())
		return nil, fmt.Errorf("%w: persist driver selection: %w", ErrStartFailed, err)
	}

	proc, err := spawn(m.binary, drivers, m.stdout, m.stderr)
	if err != nil {
		m.logger.Error("indiserver spawn failed", "binary", m.binary, "drivers", drivers, "error", err.Error())
		return nil, fmt.Errorf("%w: %w", ErrStartFailed, err)
	}

	m.state = next
	m.proc = proc
	m.logger.Info("indiserver started", "binary", m.binary, "pid", proc.Pid(), "drivers", drivers)

	go m.watchExit(proc)
	return proc, nil
}

// Stop terminates the owned process. A stopped manager returns ErrNotRunning
// and a concurrent Stop returns ErrStopping. The lock is not held while the
// process is given its grace period, so State and Process stay responsive.
// On failure the manager stays running so the caller can surface the ambiguity.
func (m *Manager) Stop() error {
	m.mu.Lock()
	next, err := fsm.Transition(m.state, fsm.EventStop)
	if err != nil || m.proc == nil {
		m.mu.Unlock()
		return ErrNotRunning
	}
	if m.stopping {
		m.mu.Unlock()
		return ErrStopping
	}
	proc := m.proc
	m.stopping = true
	m.mu.Unlock()

	pid := proc.Pid()
	termErr := proc.Terminate(m.grace)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopping = false

	if termErr != nil {
		m.logger.Error("indiserver stop failed", "pid", pid, "error", termErr.Error())
		select {
		case <-proc.Done():
			// exited anyway; watchExit skipped it while stopping was set
			m.state = fsm.StateStopped
			m.proc = nil
		default:
		}
		return fmt.Errorf("%w: %w", ErrStopFailed, termErr)
	}

	m.state = next
	m.proc = nil
	m.logger.Info("indiserver stopped", "pid", pid)
	return nil
}

// watchExit moves the manager to stopped when the child exits on its own.
func (m *Manager) watchExit(proc *Process) {
	<-proc.Done()

	m.mu.Lock()
	defer m.mu.Unlock()
	// a Stop in flight records the transition itself
	if m.proc != proc || m.stopping {
		return
	}

	next, err := fsm.Transition(m.state, fsm.EventExit)
	if err != nil {
		return
	}
	m.state = next
	m.proc = nil

	fields := []any{"pid", proc.Pid()}
	if exitErr := proc.Err(); exitErr != nil {
		fields = append(fields, "error", exitErr.Error())
	}
	m.logger.Warn("indiserver exited", fields...)
}
