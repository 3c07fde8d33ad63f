package manager

import (
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/rs/zerolog"

	"notifyd/internal/address"
	"notifyd/internal/lifecycle"
	"notifyd/internal/listener"
	"notifyd/internal/model"
	"notifyd/internal/notify"
	"notifyd/internal/poller"
)

// Defaults applied when corresponding ManagerConfig fields are unset.
const (
	defaultProcessType = lifecycle.StandaloneServer
	defaultRunningMode = lifecycle.ModeNormal
)

// MetricSpec asks for an attribute to be sampled and dispatched into the
// registry as metric-value-changed notifications.
type MetricSpec struct {
	Source    address.Path
	Attribute string
	Interval  time.Duration
}

// ManagerConfig encapsulates all tunables for Manager construction.
type ManagerConfig struct {
	ProcessType lifecycle.ProcessType
	RunningMode lifecycle.RunningMode

	// Listeners are built through Factory at Start. Factory defaults to
	// listener.DefaultFactory.
	Listeners []listener.Spec
	Factory   *listener.Factory

	Metrics []MetricSpec
	// LogNotifications registers a zerolog handler for every notification.
	LogNotifications bool

	// ProjectionName is the name the process state is published under.
	ProjectionName string
	// StateSource is the source of process-state notifications. Defaults to
	// the root resource.
	StateSource address.Path

	Clock     clock.Clock
	Logger    zerolog.Logger
	Publisher EventPublisher
}

// NewWithConfig constructs a Manager from ManagerConfig. The process starts
// in the starting state; call Start to bring it to running.
func NewWithConfig(cfg ManagerConfig) (*Manager, error) {
	// Apply defaults if unset
	if cfg.ProcessType == "" {
		cfg.ProcessType = defaultProcessType
	}
	if cfg.RunningMode == "" {
		cfg.RunningMode = defaultRunningMode
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.Publisher == nil {
		cfg.Publisher = noopPublisher{}
	}
	if cfg.Factory == nil {
		cfg.Factory = listener.DefaultFactory(cfg.Logger.With().Str("component", "listener").Logger())
	}
	for i, ms := range cfg.Metrics {
		if ms.Attribute == "" || ms.Interval <= 0 || ms.Source.IsWildcard() {
			return nil, errors.NotValidf("metric %d (%s %q every %v)", i, ms.Source, ms.Attribute, ms.Interval)
		}
	}

	proc, err := lifecycle.New(lifecycle.Config{Type: cfg.ProcessType, Mode: cfg.RunningMode, Clock: cfg.Clock})
	if err != nil {
		return nil, errors.Trace(err)
	}

	m := &Manager{
		id:               uuid.NewString(),
		clock:            cfg.Clock,
		logger:           cfg.Logger,
		publisher:        cfg.Publisher,
		process:          proc,
		factory:          cfg.Factory,
		listenerSpecs:    append([]listener.Spec(nil), cfg.Listeners...),
		metricSpecs:      append([]MetricSpec(nil), cfg.Metrics...),
		logNotifications: cfg.LogNotifications,
		startTime:        cfg.Clock.Now(),
	}
	m.registry = notify.NewRegistry(cfg.Logger.With().Str("component", "notify").Logger())
	m.store = model.NewStore(m.registry)
	if err := m.store.RegisterRuntimeMetrics(cfg.Clock); err != nil {
		return nil, errors.Trace(err)
	}
	if err := m.store.RegisterMetric(address.AnyAddress, lifecycle.StateAttribute, func() any {
		return string(proc.State())
	}); err != nil {
		return nil, errors.Trace(err)
	}

	m.sink = lifecycle.NewMemorySink()
	m.projection, err = lifecycle.Project(proc, m.sink, lifecycle.ProjectionOptions{
		Name:   cfg.ProjectionName,
		Logger: cfg.Logger,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	m.stopStateNotify, err = lifecycle.NotifyRegistry(proc, m.registry, cfg.StateSource)
	if err != nil {
		m.projection.Close()
		return nil, errors.Trace(err)
	}

	m.poller, err = poller.New(poller.Config{
		Reader: m.store,
		Clock:  cfg.Clock,
		Logger: cfg.Logger.With().Str("component", "poller").Logger(),
	})
	if err != nil {
		m.stopStateNotify()
		m.projection.Close()
		return nil, errors.Trace(err)
	}
	return m, nil
}
