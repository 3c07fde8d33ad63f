package notify

import (
	"reflect"
	"sort"
	"sync"

	"github.com/juju/errors"
	"github.com/rs/zerolog"

	"notifyd/internal/address"
)

type entry struct {
	handler Handler
	filter  Filter
}

func (e entry) equal(o entry) (eq bool) {
	// Comparable types can still hold non-comparable dynamic values in
	// interface fields; treat those as unequal instead of panicking.
	defer func() {
		if recover() != nil {
			eq = false
		}
	}()
	return e.handler == o.handler && e.filter == o.filter
}

// keyed is the value stored per pattern. It is never mutated once stored;
// writers replace it wholesale.
type keyed struct {
	pattern address.Path
	entries []entry
}

// Registry indexes handlers by address pattern.
//
// Register and Unregister are serialised by a single mutex. Lookups walk a
// sync.Map without taking that mutex and see, per pattern, either the
// previous or the next entry slice.
type Registry struct {
	mu       sync.Mutex
	handlers sync.Map // pattern string -> *keyed
	size     int

	logger zerolog.Logger
}

// NewRegistry returns an empty registry that logs recovered handler panics
// to logger.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{logger: logger}
}

func checkComparable(what string, v any) error {
	if v == nil {
		return errors.NotValidf("nil %s", what)
	}
	if !reflect.TypeOf(v).Comparable() {
		return errors.NotValidf("%s of non-comparable type %T", what, v)
	}
	return nil
}

// Register subscribes handler to notifications whose source matches pattern
// and which filter accepts. A nil filter means All. Registering the same
// (pattern, handler, filter) again has no effect.
func (r *Registry) Register(pattern address.Path, handler Handler, filter Filter) error {
	if filter == nil {
		filter = All
	}
	if err := checkComparable("handler", handler); err != nil {
		return errors.Trace(err)
	}
	if err := checkComparable("filter", filter); err != nil {
		return errors.Trace(err)
	}
	e := entry{handler: handler, filter: filter}
	key := pattern.String()

	r.mu.Lock()
	defer r.mu.Unlock()
	var current []entry
	if v, ok := r.handlers.Load(key); ok {
		current = v.(*keyed).entries
	}
	for _, existing := range current {
		if existing.equal(e) {
			return nil
		}
	}
	next := make([]entry, len(current), len(current)+1)
	copy(next, current)
	next = append(next, e)
	r.handlers.Store(key, &keyed{pattern: pattern, entries: next})
	r.size++
	subscriptions.Inc()
	return nil
}

// Unregister removes the subscription if present. Absent patterns or entries
// are ignored.
func (r *Registry) Unregister(pattern address.Path, handler Handler, filter Filter) {
	if filter == nil {
		filter = All
	}
	e := entry{handler: handler, filter: filter}
	key := pattern.String()

	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.handlers.Load(key)
	if !ok {
		return
	}
	current := v.(*keyed).entries
	idx := -1
	for i, existing := range current {
		if existing.equal(e) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	r.size--
	subscriptions.Dec()
	if len(current) == 1 {
		r.handlers.Delete(key)
		return
	}
	next := make([]entry, 0, len(current)-1)
	next = append(next, current[:idx]...)
	next = append(next, current[idx+1:]...)
	r.handlers.Store(key, &keyed{pattern: pattern, entries: next})
}

// FindMatchingHandlers returns, for every registered pattern matching the
// notification source, the handlers whose filter accepts n. A handler
// registered under several matching patterns appears once per pattern.
func (r *Registry) FindMatchingHandlers(n Notification) []Handler {
	var out []Handler
	r.handlers.Range(func(_, v any) bool {
		k := v.(*keyed)
		if !address.Matches(n.Source, k.pattern) {
			return true
		}
		for _, e := range k.entries {
			if e.filter.IsEnabled(n) {
				out = append(out, e.handler)
			}
		}
		return true
	})
	return out
}

// Dispatch delivers n to every matching handler on the calling goroutine.
// A panicking handler is logged and skipped; the rest still run.
func (r *Registry) Dispatch(n Notification) {
	dispatchedTotal.WithLabelValues(n.Type).Inc()
	for _, h := range r.FindMatchingHandlers(n) {
		Deliver(r.logger, h, n)
	}
}

// Deliver calls h with n, recovering and logging a panic.
func Deliver(logger zerolog.Logger, h Handler, n Notification) {
	defer func() {
		if p := recover(); p != nil {
			handlerPanicsTotal.Inc()
			logger.Error().
				Str("type", n.Type).
				Str("source", n.Source.String()).
				Str("handler", reflect.TypeOf(h).String()).
				Interface("panic", p).
				Msg("notification handler panicked")
		}
	}()
	deliveredTotal.Inc()
	h.HandleNotification(n)
}

// Len returns the number of registered entries across all patterns.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Patterns returns the registered patterns in sorted order.
func (r *Registry) Patterns() []string {
	out := []string{}
	r.handlers.Range(func(k, _ any) bool {
		out = append(out, k.(string))
		return true
	})
	sort.Strings(out)
	return out
}
