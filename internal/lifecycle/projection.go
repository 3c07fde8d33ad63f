package lifecycle

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/rs/zerolog"
)

// DefaultProjectionName is the name the process state is published under.
const DefaultProjectionName = "notifyd:type=process-state"

const (
	stateAttribute     = "ProcessState"
	stateAttributeType = "string"
)

// AttributeChange describes a change of a published attribute.
type AttributeChange struct {
	Sequence  int64     `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	Attribute string    `json:"attribute"`
	Type      string    `json:"type"`
	OldValue  string    `json:"old_value"`
	NewValue  string    `json:"new_value"`
}

// AttributeSink publishes named, observable attributes to management
// clients. Register returns an AlreadyExists error for a name already in use
// and Unregister a NotFound error for an unknown one.
type AttributeSink interface {
	Register(name string, read func() string) error
	Publish(name string, change AttributeChange)
	Unregister(name string) error
}

// ProjectedValue renders s as management clients see it: running is "ok".
func ProjectedValue(s State) string {
	if s == StateRunning {
		return "ok"
	}
	return string(s)
}

// ProjectionOptions tunes Project. The zero value is usable.
type ProjectionOptions struct {
	// Name defaults to DefaultProjectionName.
	Name   string
	Logger zerolog.Logger
}

// Projection mirrors a process's state into an AttributeSink.
type Projection struct {
	sink   AttributeSink
	name   string
	logger zerolog.Logger
	cancel func()

	mu    sync.Mutex
	value string
	seq   int64
}

// Project registers a name with sink and publishes an AttributeChange for
// every later transition of p. A name that already exists in the sink is
// reused. When p reaches stopped the name is unregistered.
func Project(p *Process, sink AttributeSink, opts ProjectionOptions) (*Projection, error) {
	if sink == nil {
		return nil, errors.NotValidf("nil sink")
	}
	name := opts.Name
	if name == "" {
		name = DefaultProjectionName
	}
	pr := &Projection{sink: sink, name: name, logger: opts.Logger, value: ProjectedValue(p.State())}
	if err := sink.Register(name, pr.Value); err != nil && !errors.Is(err, errors.AlreadyExists) {
		return nil, errors.Annotatef(err, "registering %s", name)
	}
	pr.cancel = p.ObserveFrom(pr.seed, pr.onTransition)
	return pr, nil
}

// Name returns the published name.
func (pr *Projection) Name() string { return pr.name }

// Value returns the projected state.
func (pr *Projection) Value() string {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	return pr.value
}

// Close stops following the process. The name stays registered.
func (pr *Projection) Close() { pr.cancel() }

func (pr *Projection) seed(s State) {
	pr.mu.Lock()
	pr.value = ProjectedValue(s)
	pr.mu.Unlock()
}

func (pr *Projection) onTransition(t Transition) {
	next := ProjectedValue(t.New)
	pr.mu.Lock()
	old := pr.value
	pr.value = next
	change := AttributeChange{
		Sequence:  pr.seq,
		Timestamp: t.At,
		Message:   fmt.Sprintf("attribute has changed from %s to %s", old, next),
		Attribute: stateAttribute,
		Type:      stateAttributeType,
		OldValue:  old,
		NewValue:  next,
	}
	pr.seq++
	pr.mu.Unlock()

	pr.sink.Publish(pr.name, change)
	if t.New == StateStopped {
		if err := pr.sink.Unregister(pr.name); err != nil && !errors.Is(err, errors.NotFound) {
			pr.logger.Warn().Err(err).Str("name", pr.name).Msg("unregister projection")
		}
	}
}

// MemorySink is an in-process AttributeSink that keeps every published
// change.
type MemorySink struct {
	mu      sync.Mutex
	readers map[string]func() string
	changes map[string][]AttributeChange
}

func NewMemorySink() *MemorySink {
	return &MemorySink{
		readers: make(map[string]func() string),
		changes: make(map[string][]AttributeChange),
	}
}

func (s *MemorySink) Register(name string, read func() string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.readers[name]; ok {
		return errors.AlreadyExistsf("attribute source %q", name)
	}
	s.readers[name] = read
	return nil
}

func (s *MemorySink) Publish(name string, c AttributeChange) {
	s.mu.Lock()
	s.changes[name] = append(s.changes[name], c)
	s.mu.Unlock()
}

func (s *MemorySink) Unregister(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.readers[name]; !ok {
		return errors.NotFoundf("attribute source %q", name)
	}
	delete(s.readers, name)
	return nil
}

// Read returns the current value published under name.
func (s *MemorySink) Read(name string) (string, error) {
	s.mu.Lock()
	read, ok := s.readers[name]
	s.mu.Unlock()
	if !ok {
		return "", errors.NotFoundf("attribute source %q", name)
	}
	return read(), nil
}

// Changes returns a copy of the changes published under name.
func (s *MemorySink) Changes(name string) []AttributeChange {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AttributeChange, len(s.changes[name]))
	copy(out, s.changes[name])
	return out
}

// Names returns the registered names, sorted.
func (s *MemorySink) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.readers))
	for n := range s.readers {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
