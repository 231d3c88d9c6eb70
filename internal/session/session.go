// Package session coordinates one owner lifecycle of the indiserver process and
// answers IPC commands while it runs.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rbright/indiserver-ui/internal/fsm"
	"github.com/rbright/indiserver-ui/internal/ipc"
	"github.com/rbright/indiserver-ui/internal/server"
)

// notifyTimeout bounds each indicator call made when the session ends.
var notifyTimeout = 800 * time.Millisecond

// Lifecycle is the server-manager subset the controller drives.
type Lifecycle interface {
	Start(paths []string) (*server.Process, error)
	Stop() error
	State() fsm.State
	Process() *server.Process
}

// Indicator is the session-facing subset of indicator behavior.
type Indicator interface {
	ShowRunning(ctx context.Context, drivers []string)
	ShowStopped(context.Context)
	ShowError(context.Context, string)
}

// noopIndicator preserves session flow when no indicator is wired.
type noopIndicator struct{}

func (noopIndicator) ShowRunning(context.Context, []string) {}
func (noopIndicator) ShowStopped(context.Context)           {}
func (noopIndicator) ShowError(context.Context, string)     {}

// Result is the complete lifecycle output returned by one Run invocation.
type Result struct {
	Session     string
	State       fsm.State
	PID         int
	Drivers     []string
	Interrupted bool
	Exited      bool
	Err         error
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Controller owns the server for the duration of one Run.
type Controller struct {
	logger    *slog.Logger
	server    Lifecycle
	indicator Indicator
	id        string

	stopRequested atomic.Bool
	stopped       chan struct{}
	stopOnce      sync.Once
}

// NewController constructs a session controller with safe default fallbacks.
func NewController(logger *slog.Logger, lifecycle Lifecycle, indicator Indicator) *Controller {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if indicator == nil {
		indicator = noopIndicator{}
	}

	return &Controller{
		logger:    logger,
		server:    lifecycle,
		indicator: indicator,
		id:        uuid.NewString(),
		stopped:   make(chan struct{}),
	}
}

// ID identifies this owner session in logs and status responses.
func (c *Controller) ID() string {
	return c.id
}

// State returns the server state snapshot.
func (c *Controller) State() fsm.State {
	return c.server.State()
}

// Run starts the server with drivers and blocks until it is stopped over IPC,
// ctx is cancelled, or the server exits on its own.
func (c *Controller) Run(ctx context.Context, drivers []string) Result {
	result := Result{Session: c.id, StartedAt: time.Now(), Drivers: slices.Clone(drivers)}
	logger := c.logger.With("session", c.id)

	proc, err := c.server.Start(drivers)
	if err != nil {
		c.indicator.ShowError(ctx, "Unable to start indiserver")
		result.State = c.State()
		result.Err = err
		result.FinishedAt = time.Now()
		return result
	}

	result.PID = proc.Pid()
	logger.Info("session running", "pid", result.PID, "drivers", drivers)
	c.indicator.ShowRunning(ctx, drivers)

	done := proc.Done()
	for {
		select {
		case <-ctx.Done():
			result.Interrupted = true
			err := c.stopAfterInterrupt()
			if err != nil && !errors.Is(err, server.ErrNotRunning) {
				c.notify(func(nctx context.Context) { c.indicator.ShowError(nctx, "Unable to stop indiserver") })
				result.Err = err
			} else {
				c.notify(c.indicator.ShowStopped)
			}
			return c.finish(result)
		case <-c.stopped:
			c.notify(c.indicator.ShowStopped)
			return c.finish(result)
		case <-done:
			if c.stopRequested.Load() {
				// Stop is in flight; its outcome arrives on c.stopped.
				done = nil
				continue
			}
			result.Exited = true
			if exitErr := proc.Err(); exitErr != nil {
				result.Err = fmt.Errorf("indiserver exited: %w", exitErr)
			}
			logger.Warn("indiserver exited without a stop request", "pid", result.PID)
			c.notify(func(nctx context.Context) { c.indicator.ShowError(nctx, "indiserver exited") })
			return c.finish(result)
		}
	}
}

// stopAfterInterrupt stops the server, waiting out an IPC stop that is already
// terminating it and retrying if that one fails.
func (c *Controller) stopAfterInterrupt() error {
	for {
		err := c.server.Stop()
		if !errors.Is(err, server.ErrStopping) {
			return err
		}
		select {
		case <-c.stopped:
			return nil
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// notify runs fn with a fresh bounded context; the run context may already be cancelled.
func (c *Controller) notify(fn func(context.Context)) {
	nctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	fn(nctx)
}

func (c *Controller) finish(result Result) Result {
	result.State = c.State()
	result.FinishedAt = time.Now()
	return result
}

// Handle serves IPC commands for the active owner session.
func (c *Controller) Handle(_ context.Context, req ipc.Request) ipc.Response {
	switch req.Command {
	case ipc.CommandStatus:
		return c.status()
	case ipc.CommandStop:
		return c.requestStop()
	default:
		return ipc.Response{OK: false, State: string(c.State()), Session: c.id, Error: fmt.Sprintf("unknown command: %s", req.Command)}
	}
}

func (c *Controller) status() ipc.Response {
	resp := ipc.Response{OK: true, State: string(c.State()), Session: c.id, Message: "status"}
	if proc := c.server.Process(); proc != nil {
		resp.PID = proc.Pid()
		resp.Drivers = proc.Args()
		resp.StartedAt = proc.StartedAt().Format(time.RFC3339)
	}
	return resp
}

// requestStop stops the server synchronously so the caller sees the outcome.
func (c *Controller) requestStop() ipc.Response {
	pid := 0
	if proc := c.server.Process(); proc != nil {
		pid = proc.Pid()
	}

	c.stopRequested.Store(true)
	if err := c.server.Stop(); err != nil {
		c.stopRequested.Store(false)
		return ipc.Response{OK: false, State: string(c.State()), PID: pid, Session: c.id, Error: err.Error()}
	}
	c.stopOnce.Do(func() { close(c.stopped) })

	return ipc.Response{OK: true, State: string(c.State()), PID: pid, Session: c.id, Message: "indiserver stopped"}
}
