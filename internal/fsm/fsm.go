package fsm

import "fmt"

type State string

type Event string

const (
	StateStopped State = "stopped"
	StateRunning State = "running"
)

const (
	EventStart Event = "start"
	EventStop  Event = "stop"
	EventExit  Event = "exit"
)

func Transition(current State, event Event) (State, error) {
	switch current {
	case StateStopped:
		switch event {
		case EventStart:
			return StateRunning, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateRunning:
		switch event {
		case EventStop, EventExit:
			return StateStopped, nil
		default:
			return current, invalidTransition(current, event)
		}
	default:
		return current, fmt.Errorf("unknown state %q", current)
	}
}

func invalidTransition(state State, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", state, event)
}
