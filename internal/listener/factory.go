package listener

import (
	"sort"
	"sync"

	"github.com/juju/errors"
)

// BuiltinModule is the module the bundled listeners are registered under.
const BuiltinModule = "builtin"

// Spec names a listener to build and the properties to initialise it with.
type Spec struct {
	Kind       string            `json:"kind" yaml:"kind" toml:"kind"`
	Module     string            `json:"module,omitempty" yaml:"module,omitempty" toml:"module,omitempty"`
	Properties map[string]string `json:"properties,omitempty" yaml:"properties,omitempty" toml:"properties,omitempty"`
}

// Constructor returns a fresh, uninitialised listener.
type Constructor func() Listener

type factoryKey struct{ module, kind string }

// Factory maps (module, kind) pairs to constructors.
type Factory struct {
	mu    sync.RWMutex
	ctors map[factoryKey]Constructor
}

// NewFactory returns an empty factory.
func NewFactory() *Factory {
	return &Factory{ctors: make(map[factoryKey]Constructor)}
}

// Register adds a constructor. An empty module means BuiltinModule.
func (f *Factory) Register(module, kind string, ctor Constructor) error {
	if kind == "" {
		return errors.NotValidf("empty listener kind")
	}
	if ctor == nil {
		return errors.NotValidf("nil constructor for %q", kind)
	}
	if module == "" {
		module = BuiltinModule
	}
	k := factoryKey{module, kind}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.ctors[k]; ok {
		return errors.AlreadyExistsf("listener %s/%s", module, kind)
	}
	f.ctors[k] = ctor
	return nil
}

// New builds the listener described by s.
func (f *Factory) New(s Spec) (Listener, error) {
	module := s.Module
	if module == "" {
		module = BuiltinModule
	}
	f.mu.RLock()
	ctor, ok := f.ctors[factoryKey{module, s.Kind}]
	f.mu.RUnlock()
	if !ok {
		return nil, errors.NotFoundf("listener %s/%s", module, s.Kind)
	}
	l := ctor()
	if l == nil {
		return nil, errors.Errorf("constructor for %s/%s returned nil", module, s.Kind)
	}
	return l, nil
}

// Build builds every spec, or none of them.
func (f *Factory) Build(specs []Spec) ([]Listener, []map[string]string, error) {
	listeners := make([]Listener, 0, len(specs))
	props := make([]map[string]string, 0, len(specs))
	for i, s := range specs {
		l, err := f.New(s)
		if err != nil {
			return nil, nil, errors.Annotatef(err, "listener %d", i)
		}
		listeners = append(listeners, l)
		props = append(props, s.Properties)
	}
	return listeners, props, nil
}

// Kinds returns the registered "module/kind" names, sorted.
func (f *Factory) Kinds() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.ctors))
	for k := range f.ctors {
		out = append(out, k.module+"/"+k.kind)
	}
	sort.Strings(out)
	return out
}
