package notify

// Filter decides whether a handler receives a notification. Implementations
// must be comparable with == so registrations can be located again.
type Filter interface {
	IsEnabled(Notification) bool
}

type allFilter struct{}

func (allFilter) IsEnabled(Notification) bool { return true }

// All accepts every notification.
var All Filter = allFilter{}

type typeFilter string

func (f typeFilter) IsEnabled(n Notification) bool { return n.Type == string(f) }

// TypeFilter accepts notifications of exactly the given type. Two type
// filters for the same type are equal.
func TypeFilter(typ string) Filter { return typeFilter(typ) }

type funcFilter struct {
	fn func(Notification) bool
}

func (f *funcFilter) IsEnabled(n Notification) bool { return f.fn(n) }

// FilterFunc adapts a predicate. Each call returns a distinct filter, so keep
// the returned value to unregister later.
func FilterFunc(fn func(Notification) bool) Filter { return &funcFilter{fn: fn} }
