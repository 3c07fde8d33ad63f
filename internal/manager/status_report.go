package manager

import (
	"notifyd/internal/lifecycle"
	"notifyd/pkg/types"
)

// Status builds a detailed status response for /status.
func (m *Manager) Status() types.StatusResponse {
	m.mu.Lock()
	listeners := 0
	if m.bridge != nil {
		listeners = m.bridge.Len()
	}
	lastErr := m.lastErr
	m.mu.Unlock()

	now := m.clock.Now()
	return types.StatusResponse{
		InstanceID:          m.id,
		ProcessType:         string(m.process.Type()),
		RunningMode:         string(m.process.Mode()),
		State:               string(m.process.State()),
		ProjectedState:      m.projection.Value(),
		Subscriptions:       m.registry.Len(),
		Patterns:            m.registry.Patterns(),
		MetricRegistrations: m.poller.Len(),
		Listeners:           listeners,
		Resources:           m.store.Len(),
		UptimeSeconds:       int64(now.Sub(m.startTime).Seconds()),
		ServerTimeUnix:      now.Unix(),
		LastError:           lastErr,
	}
}

// ProjectedState returns the process state as published to management
// clients.
func (m *Manager) ProjectedState() string { return m.projection.Value() }

// ProjectionName returns the name the process state is published under.
func (m *Manager) ProjectionName() string { return m.projection.Name() }

// StateChanges returns every published change of the process state
// attribute.
func (m *Manager) StateChanges() []lifecycle.AttributeChange {
	return m.sink.Changes(m.projection.Name())
}
