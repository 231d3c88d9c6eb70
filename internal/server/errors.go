package server

import "errors"

var (
	// ErrNoDrivers is returned by Start when the selection is empty. Nothing is spawned.
	ErrNoDrivers = errors.New("no drivers selected")
	// ErrAlreadyRunning is returned by Start while a server process is owned.
	ErrAlreadyRunning = errors.New("indiserver already running")
	// ErrNotRunning is returned by Stop when no server process is owned.
	ErrNotRunning = errors.New("indiserver not running")
	// ErrStopping is returned by Stop while another Stop is terminating the process.
	ErrStopping = errors.New("indiserver stop in progress")
	// ErrStartFailed wraps persist and spawn failures; the manager stays stopped.
	ErrStartFailed = errors.New("start indiserver")
	// ErrStopFailed wraps termination failures; the manager stays running.
	ErrStopFailed = errors.New("stop indiserver")
)
