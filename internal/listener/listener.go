// Package listener runs user-supplied process state listeners. Each listener
// is initialised once when the bridge starts, told about every transition in
// order on the goroutine that made it, and cleaned up when the bridge stops.
package listener

import (
	"fmt"

	"notifyd/internal/lifecycle"
)

// StateChange is what a listener is told about a transition.
type StateChange struct {
	ProcessType lifecycle.ProcessType
	RunningMode lifecycle.RunningMode
	Old         lifecycle.State
	New         lifecycle.State
}

func (c StateChange) String() string {
	return fmt.Sprintf("%s %s %s %s", c.ProcessType, c.RunningMode, c.Old, c.New)
}

// Listener is notified of process state changes.
type Listener interface {
	// Init is called once, in registration order, before any StateChanged.
	Init(properties map[string]string) error
	// StateChanged is called for every transition. Errors are logged.
	StateChanged(change StateChange) error
	// Cleanup is called once when the bridge stops.
	Cleanup()
}
