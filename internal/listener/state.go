package listener

import "context"

// State is the connection state of a watcher. The numeric values are
// exported as the watcher_state gauge.
type State int32

const (
	StateStopped State = iota
	StateConnected
	StateError
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "stopped"
	}
}

// Watcher streams bridge events from one origin chain
type Watcher interface {
	Start(ctx context.Context) error
	Stop() error
	State() State
}
