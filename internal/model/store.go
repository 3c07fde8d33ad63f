// Package model is the in-memory management resource tree. It serves
// attribute reads for the metric poller and dispatches resource-added,
// resource-removed and attribute-value-written notifications as it changes.
package model

import (
	"context"
	"sort"
	"sync"

	"github.com/juju/errors"

	"notifyd/internal/address"
	"notifyd/internal/notify"
)

// Resource is a snapshot of one node of the tree.
type Resource struct {
	Address    address.Path
	Attributes map[string]any
}

type node struct {
	addr    address.Path
	attrs   map[string]any
	dynamic map[string]func() any
}

// Store holds the resource tree. The root resource always exists.
// Mutations are dispatched in the order they were applied; handlers must not
// mutate the store they are notified by.
type Store struct {
	// writeMu serialises a mutation together with its dispatch.
	writeMu sync.Mutex
	mu      sync.RWMutex
	nodes   map[string]*node

	dispatcher notify.Dispatcher
}

// NewStore returns a store holding only the root resource. Mutations are
// dispatched to d when it is non-nil.
func NewStore(d notify.Dispatcher) *Store {
	s := &Store{nodes: make(map[string]*node), dispatcher: d}
	s.nodes[address.AnyAddress.String()] = newNode(address.AnyAddress, nil)
	return s
}

func newNode(addr address.Path, attrs map[string]any) *node {
	return &node{addr: addr, attrs: copyAttrs(attrs), dynamic: make(map[string]func() any)}
}

func copyAttrs(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func checkConcrete(addr address.Path) error {
	if addr.IsWildcard() {
		return errors.NotValidf("resource address %s", addr)
	}
	return nil
}

// Add creates a resource under an existing parent.
func (s *Store) Add(addr address.Path, attrs map[string]any) error {
	if err := checkConcrete(addr); err != nil {
		return errors.Trace(err)
	}
	if addr.IsRoot() {
		return errors.AlreadyExistsf("root resource")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.Lock()
	if _, ok := s.nodes[addr.String()]; ok {
		s.mu.Unlock()
		return errors.AlreadyExistsf("resource %s", addr)
	}
	if _, ok := s.nodes[addr.Parent().String()]; !ok {
		s.mu.Unlock()
		return errors.NotFoundf("parent of %s", addr)
	}
	n := newNode(addr, attrs)
	s.nodes[addr.String()] = n
	snapshot := copyAttrs(n.attrs)
	s.mu.Unlock()

	s.dispatch(notify.ResourceAdded, addr, "resource added", snapshot)
	return nil
}

// Remove deletes a resource and everything below it. Removal notifications
// are dispatched deepest first.
func (s *Store) Remove(addr address.Path) error {
	if err := checkConcrete(addr); err != nil {
		return errors.Trace(err)
	}
	if addr.IsRoot() {
		return errors.NotValidf("removing the root resource")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.Lock()
	if _, ok := s.nodes[addr.String()]; !ok {
		s.mu.Unlock()
		return errors.NotFoundf("resource %s", addr)
	}
	var removed []address.Path
	for key, n := range s.nodes {
		if isWithin(n.addr, addr) {
			removed = append(removed, n.addr)
			delete(s.nodes, key)
		}
	}
	s.mu.Unlock()

	sort.Slice(removed, func(i, j int) bool {
		if removed[i].Len() != removed[j].Len() {
			return removed[i].Len() > removed[j].Len()
		}
		return removed[i].String() < removed[j].String()
	})
	for _, r := range removed {
		s.dispatch(notify.ResourceRemoved, r, "resource removed", nil)
	}
	return nil
}

// isWithin reports whether p equals base or lies below it.
func isWithin(p, base address.Path) bool {
	if p.Len() < base.Len() {
		return false
	}
	for i := 0; i < base.Len(); i++ {
		if p.Segment(i) != base.Segment(i) {
			return false
		}
	}
	return true
}

// WriteAttribute sets a stored attribute and dispatches the change.
// Attributes backed by RegisterMetric are read-only.
func (s *Store) WriteAttribute(addr address.Path, name string, value any) error {
	if name == "" {
		return errors.NotValidf("empty attribute name")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.Lock()
	n, ok := s.nodes[addr.String()]
	if !ok {
		s.mu.Unlock()
		return errors.NotFoundf("resource %s", addr)
	}
	if _, ok := n.dynamic[name]; ok {
		s.mu.Unlock()
		return errors.NotValidf("writing read-only attribute %s of %s", name, addr)
	}
	old := n.attrs[name]
	n.attrs[name] = value
	s.mu.Unlock()

	s.dispatch(notify.AttributeValueWritten, addr, "attribute value written",
		notify.AttributeWritten{Name: name, OldValue: old, NewValue: value})
	return nil
}

// RegisterMetric backs a read-only attribute with fn, evaluated on every
// read.
func (s *Store) RegisterMetric(addr address.Path, name string, fn func() any) error {
	if name == "" || fn == nil {
		return errors.NotValidf("metric %q", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[addr.String()]
	if !ok {
		return errors.NotFoundf("resource %s", addr)
	}
	if _, ok := n.dynamic[name]; ok {
		return errors.AlreadyExistsf("metric %s of %s", name, addr)
	}
	n.dynamic[name] = fn
	return nil
}

// ReadAttribute returns the current value of an attribute. AnyAddress reads
// the root resource.
func (s *Store) ReadAttribute(ctx context.Context, addr address.Path, name string) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Trace(err)
	}
	s.mu.RLock()
	n, ok := s.nodes[addr.String()]
	if !ok {
		s.mu.RUnlock()
		return nil, errors.NotFoundf("resource %s", addr)
	}
	fn, dyn := n.dynamic[name]
	v, stored := n.attrs[name]
	s.mu.RUnlock()

	switch {
	case dyn:
		return fn(), nil
	case stored:
		return v, nil
	}
	return nil, errors.NotFoundf("attribute %s of %s", name, addr)
}

// ReadResource returns a snapshot of a resource including its metric
// attributes.
func (s *Store) ReadResource(addr address.Path) (Resource, error) {
	if err := checkConcrete(addr); err != nil {
		return Resource{}, errors.Trace(err)
	}
	s.mu.RLock()
	n, ok := s.nodes[addr.String()]
	if !ok {
		s.mu.RUnlock()
		return Resource{}, errors.NotFoundf("resource %s", addr)
	}
	attrs := copyAttrs(n.attrs)
	dynamic := make(map[string]func() any, len(n.dynamic))
	for k, fn := range n.dynamic {
		dynamic[k] = fn
	}
	s.mu.RUnlock()

	for k, fn := range dynamic {
		attrs[k] = fn()
	}
	return Resource{Address: n.addr, Attributes: attrs}, nil
}

// Children returns the direct children of addr, sorted by address.
func (s *Store) Children(addr address.Path) ([]address.Path, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.nodes[addr.String()]; !ok {
		return nil, errors.NotFoundf("resource %s", addr)
	}
	var out []address.Path
	for _, n := range s.nodes {
		if n.addr.Len() == addr.Len()+1 && isWithin(n.addr, addr) {
			out = append(out, n.addr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

// Len returns the number of resources, root included.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

func (s *Store) dispatch(typ string, source address.Path, msg string, data any) {
	if s.dispatcher == nil {
		return
	}
	n, err := notify.New(typ, source, msg, data)
	if err != nil {
		return
	}
	s.dispatcher.Dispatch(n)
}
