// Package ipc carries owner-session commands over a unix socket as
// newline-delimited JSON.
package ipc

import "errors"

// Commands understood by the session owner.
const (
	CommandStatus = "status"
	CommandStop   = "stop"
)

// ErrNoOwner means nothing is listening on the socket path.
var ErrNoOwner = errors.New("no indiserver-ui session owner")

// Request is one command sent to the session owner.
type Request struct {
	Command string `json:"command"`
}

// Response reports the owner's server state after handling a Request.
// StartedAt is the RFC 3339 spawn time of the running server.
type Response struct {
	OK        bool     `json:"ok"`
	State     string   `json:"state,omitempty"`
	PID       int      `json:"pid,omitempty"`
	Drivers   []string `json:"drivers,omitempty"`
	Session   string   `json:"session,omitempty"`
	StartedAt string   `json:"started_at,omitempty"`
	Message   string   `json:"message,omitempty"`
	Error     string   `json:"error,omitempty"`
}
