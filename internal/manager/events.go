package manager

// Event represents a manager operation event.
// Minimal and stable: name plus optional fields via key/values.
type Event struct {
	Name   string
	Fields map[string]any
}

// Event names published by the manager.
const (
	EventStarted         = "started"
	EventStartFailed     = "start_failed"
	EventReloadStart     = "reload_start"
	EventReloadDone      = "reload_done"
	EventReloadFailed    = "reload_failed"
	EventReloadRequired  = "reload_required"
	EventRestartRequired = "restart_required"
	EventShutdown        = "shutdown"
)

// EventPublisher receives events from the manager. Implementations should be
// lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

func (m *Manager) publish(name string, kv ...any) {
	var fields map[string]any
	if len(kv) > 0 {
		fields = make(map[string]any, len(kv)/2)
		for i := 0; i+1 < len(kv); i += 2 {
			if k, ok := kv[i].(string); ok {
				fields[k] = kv[i+1]
			}
		}
	}
	m.publisher.Publish(Event{Name: name, Fields: fields})
}
