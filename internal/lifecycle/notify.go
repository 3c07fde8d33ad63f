package lifecycle

import (
	"github.com/juju/errors"

	"notifyd/internal/address"
	"notifyd/internal/notify"
)

// StateAttribute is the attribute name used when transitions are dispatched
// as attribute-value-written notifications.
const StateAttribute = "process-state"

// NotifyRegistry dispatches every later transition of p to d as an
// attribute-value-written notification from source. The returned func stops
// it.
func NotifyRegistry(p *Process, d notify.Dispatcher, source address.Path) (cancel func(), err error) {
	if d == nil {
		return nil, errors.NotValidf("nil dispatcher")
	}
	if source.IsWildcard() {
		return nil, errors.NotValidf("state source %s", source)
	}
	return p.Observe(func(t Transition) {
		n, err := notify.NewAt(t.At, notify.AttributeValueWritten, source,
			"process state changed",
			notify.AttributeWritten{Name: StateAttribute, OldValue: string(t.Old), NewValue: string(t.New)})
		if err != nil {
			return
		}
		d.Dispatch(n)
	}), nil
}
