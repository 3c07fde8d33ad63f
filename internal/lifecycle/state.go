package lifecycle

import "github.com/juju/errors"

// State is the controlled process state.
type State string

const (
	StateStarting        State = "starting"
	StateRunning         State = "running"
	StateReloadRequired  State = "reload-required"
	StateRestartRequired State = "restart-required"
	StateStopping        State = "stopping"
	StateStopped         State = "stopped"
)

func (s State) String() string { return string(s) }

// ProcessType identifies the kind of process hosting the bus. It is fixed for
// the life of a Process.
type ProcessType string

const (
	DomainServer           ProcessType = "DOMAIN_SERVER"
	EmbeddedServer         ProcessType = "EMBEDDED_SERVER"
	StandaloneServer       ProcessType = "STANDALONE_SERVER"
	HostController         ProcessType = "HOST_CONTROLLER"
	EmbeddedHostController ProcessType = "EMBEDDED_HOST_CONTROLLER"
	ApplicationClient      ProcessType = "APPLICATION_CLIENT"
	SelfContained          ProcessType = "SELF_CONTAINED"
)

// RunningMode is the mode the process was started in.
type RunningMode string

const (
	ModeNormal    RunningMode = "NORMAL"
	ModeAdminOnly RunningMode = "ADMIN_ONLY"
)

// ParseState returns the State named s.
func ParseState(s string) (State, error) {
	switch st := State(s); st {
	case StateStarting, StateRunning, StateReloadRequired, StateRestartRequired, StateStopping, StateStopped:
		return st, nil
	}
	return "", errors.NotValidf("process state %q", s)
}

// ParseProcessType returns the ProcessType named s.
func ParseProcessType(s string) (ProcessType, error) {
	switch t := ProcessType(s); t {
	case DomainServer, EmbeddedServer, StandaloneServer, HostController,
		EmbeddedHostController, ApplicationClient, SelfContained:
		return t, nil
	}
	return "", errors.NotValidf("process type %q", s)
}

// ParseRunningMode returns the RunningMode named s.
func ParseRunningMode(s string) (RunningMode, error) {
	switch m := RunningMode(s); m {
	case ModeNormal, ModeAdminOnly:
		return m, nil
	}
	return "", errors.NotValidf("running mode %q", s)
}
