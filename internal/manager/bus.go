package manager

import (
	"context"
	"time"

	"github.com/juju/errors"

	"notifyd/internal/address"
	"notifyd/internal/model"
	"notifyd/internal/notify"
	"notifyd/internal/poller"
)

// RegisterHandler subscribes h to notifications from sources matching
// pattern.
func (m *Manager) RegisterHandler(pattern address.Path, h notify.Handler, f notify.Filter) error {
	return errors.Trace(m.registry.Register(pattern, h, f))
}

// UnregisterHandler removes a subscription added by RegisterHandler.
func (m *Manager) UnregisterHandler(pattern address.Path, h notify.Handler, f notify.Filter) {
	m.registry.Unregister(pattern, h, f)
}

// RegisterMetricHandler samples an attribute of the resource model every
// interval and delivers the values to h.
func (m *Manager) RegisterMetricHandler(source address.Path, attribute string, h notify.Handler, f notify.Filter, interval time.Duration) (*poller.Registration, error) {
	reg, err := m.poller.Register(source, attribute, h, f, interval)
	return reg, errors.Trace(err)
}

// Dispatch delivers n to every matching handler on the calling goroutine.
func (m *Manager) Dispatch(n notify.Notification) { m.registry.Dispatch(n) }

// AddResource adds a resource to the model.
func (m *Manager) AddResource(addr address.Path, attrs map[string]any) error {
	return errors.Trace(m.store.Add(addr, attrs))
}

// RemoveResource removes a resource and its descendants.
func (m *Manager) RemoveResource(addr address.Path) error {
	return errors.Trace(m.store.Remove(addr))
}

// WriteAttribute writes a resource attribute.
func (m *Manager) WriteAttribute(addr address.Path, name string, value any) error {
	return errors.Trace(m.store.WriteAttribute(addr, name, value))
}

// ReadAttribute reads a resource attribute.
func (m *Manager) ReadAttribute(ctx context.Context, addr address.Path, name string) (any, error) {
	v, err := m.store.ReadAttribute(ctx, addr, name)
	return v, errors.Trace(err)
}

// ReadResource returns a resource snapshot and its direct children.
func (m *Manager) ReadResource(addr address.Path) (model.Resource, []address.Path, error) {
	res, err := m.store.ReadResource(addr)
	if err != nil {
		return model.Resource{}, nil, errors.Trace(err)
	}
	children, err := m.store.Children(addr)
	if err != nil {
		return model.Resource{}, nil, errors.Trace(err)
	}
	return res, children, nil
}
