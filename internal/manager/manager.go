package manager

import (
	"context"
	"sync"
	"time"

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

type Manager struct {
	id        string
	clock     clock.Clock
	logger    zerolog.Logger
	publisher EventPublisher
	startTime time.Time

	process         *lifecycle.Process
	registry        *notify.Registry
	store           *model.Store
	poller          *poller.Poller
	sink            *lifecycle.MemorySink
	projection      *lifecycle.Projection
	stopStateNotify func()

	factory          *listener.Factory
	listenerSpecs    []listener.Spec
	metricSpecs      []MetricSpec
	logNotifications bool

	// mu serialises Start, Reload and Shutdown.
	mu         sync.Mutex
	started    bool
	closed     bool
	bridge     *listener.Bridge
	metricRegs []*poller.Registration
	logHandler notify.Handler
	lastErr    string
}

// ID returns the process instance id.
func (m *Manager) ID() string { return m.id }

// Process returns the lifecycle the manager drives.
func (m *Manager) Process() *lifecycle.Process { return m.process }

// Start builds and initialises the configured listeners, registers the
// configured metrics and moves the process to running. Nothing is left
// registered when it fails.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.closed:
		return ErrClosed
	case m.started:
		return ErrAlreadyStarted
	}
	if err := ctx.Err(); err != nil {
		return errors.Trace(err)
	}

	listeners, props, err := m.factory.Build(m.listenerSpecs)
	if err != nil {
		return m.startFailed(errors.Annotate(err, "building listeners"))
	}
	bridge, err := listener.NewBridge(listener.BridgeConfig{
		Process:    m.process,
		Listeners:  listeners,
		Properties: props,
		Logger:     m.logger.With().Str("component", "listener").Logger(),
	})
	if err != nil {
		return m.startFailed(errors.Trace(err))
	}
	if err := bridge.Start(); err != nil {
		return m.startFailed(errors.Trace(err))
	}

	forward := notify.Forward(m.registry)
	regs := make([]*poller.Registration, 0, len(m.metricSpecs))
	for _, ms := range m.metricSpecs {
		reg, err := m.poller.Register(ms.Source, ms.Attribute, forward, nil, ms.Interval)
		if err != nil {
			for _, r := range regs {
				r.Cancel()
			}
			_ = bridge.Stop()
			return m.startFailed(errors.Annotatef(err, "metric %s of %s", ms.Attribute, ms.Source))
		}
		regs = append(regs, reg)
	}

	if m.logNotifications {
		h := notify.NewLogHandler(m.logger.With().Str("component", "notification").Logger())
		if err := m.registry.Register(address.AnyAddress, h, notify.All); err != nil {
			for _, r := range regs {
				r.Cancel()
			}
			_ = bridge.Stop()
			return m.startFailed(errors.Trace(err))
		}
		m.logHandler = h
	}

	m.bridge = bridge
	m.metricRegs = regs
	m.started = true
	m.process.SetRunning()
	m.logger.Info().
		Str("instance_id", m.id).
		Int("listeners", bridge.Len()).
		Int("metrics", len(regs)).
		Msg("manager started")
	m.publish(EventStarted, "listeners", bridge.Len(), "metrics", len(regs))
	return nil
}

func (m *Manager) startFailed(err error) error {
	m.lastErr = err.Error()
	m.logger.Error().Err(err).Msg("start failed")
	m.publish(EventStartFailed, "error", err.Error())
	return err
}

// Reload takes the process through stopping and starting back to running,
// cleaning up and re-initialising listeners in between. Listeners observe
// running→stopping and starting→running.
func (m *Manager) Reload(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkRunning(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return errors.Trace(err)
	}
	m.publish(EventReloadStart)
	m.process.SetStopping()
	if err := m.bridge.Stop(); err != nil {
		m.logger.Warn().Err(err).Msg("listener bridge stop")
	}
	m.process.SetStarting()
	if err := m.bridge.Start(); err != nil {
		err = errors.Annotate(err, "reload")
		m.lastErr = err.Error()
		m.process.SetRestartRequired()
		m.logger.Error().Err(err).Msg("reload failed")
		m.publish(EventReloadFailed, "error", err.Error())
		return err
	}
	m.process.SetRunning()
	m.logger.Info().Msg("reloaded")
	m.publish(EventReloadDone)
	return nil
}

// MarkReloadRequired records that configuration changed and a reload is
// needed.
func (m *Manager) MarkReloadRequired() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkRunning(); err != nil {
		return err
	}
	m.process.SetReloadRequired()
	m.publish(EventReloadRequired)
	return nil
}

// MarkRestartRequired records that the process must be restarted.
func (m *Manager) MarkRestartRequired() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkRunning(); err != nil {
		return err
	}
	m.process.SetRestartRequired()
	m.publish(EventRestartRequired)
	return nil
}

func (m *Manager) checkRunning() error {
	switch {
	case m.closed:
		return ErrClosed
	case !m.started:
		return ErrNotStarted
	}
	return nil
}

// Shutdown moves the process to stopping, stops listeners and the poller,
// then moves it to stopped. It is idempotent.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true

	m.process.SetStopping()
	var firstErr error
	if m.bridge != nil {
		if err := m.bridge.Stop(); err != nil {
			firstErr = err
		}
	}
	for _, r := range m.metricRegs {
		r.Cancel()
	}
	m.metricRegs = nil

	done := make(chan error, 1)
	go func() { done <- m.poller.Stop() }()
	select {
	case err := <-done:
		if err != nil && firstErr == nil {
			firstErr = err
		}
	case <-ctx.Done():
		if firstErr == nil {
			firstErr = errors.Annotate(ctx.Err(), "waiting for poller")
		}
	}

	if m.logHandler != nil {
		m.registry.Unregister(address.AnyAddress, m.logHandler, notify.All)
		m.logHandler = nil
	}
	m.process.SetStopped()
	m.stopStateNotify()
	m.projection.Close()
	m.logger.Info().Msg("manager stopped")
	m.publish(EventShutdown)
	return errors.Trace(firstErr)
}

// Close shuts the manager down without a deadline.
func (m *Manager) Close() error {
	return m.Shutdown(context.Background())
}

// Ready reports whether the process is running.
func (m *Manager) Ready() bool {
	return m.process.State() == lifecycle.StateRunning
}

// State returns the current process state.
func (m *Manager) State() lifecycle.State { return m.process.State() }
