package listener

import (
	"reflect"
	"sync"

	"github.com/juju/errors"
	"github.com/rs/zerolog"

	"notifyd/internal/lifecycle"
)

// BridgeConfig describes a Bridge. Properties[i] is passed to Listeners[i].Init;
// missing entries are treated as empty.
type BridgeConfig struct {
	Process    *lifecycle.Process
	Listeners  []Listener
	Properties []map[string]string
	Logger     zerolog.Logger
}

// Bridge forwards process transitions to listeners. Delivery is synchronous
// on the goroutine that changed the state, so SetState returns only after
// every listener has seen the transition. Listeners must not change the
// process state from StateChanged.
type Bridge struct {
	process   *lifecycle.Process
	listeners []Listener
	props     []map[string]string
	logger    zerolog.Logger

	mu     sync.Mutex
	cancel func()

	// deliverMu orders deliveries against Cleanup; active is false once
	// Stop has begun.
	deliverMu sync.Mutex
	active    bool
}

// NewBridge returns a stopped bridge. The listener and property slices are
// copied.
func NewBridge(cfg BridgeConfig) (*Bridge, error) {
	if cfg.Process == nil {
		return nil, errors.NotValidf("nil Process")
	}
	if len(cfg.Properties) > len(cfg.Listeners) {
		return nil, errors.NotValidf("%d property sets for %d listeners", len(cfg.Properties), len(cfg.Listeners))
	}
	for i, l := range cfg.Listeners {
		if l == nil {
			return nil, errors.NotValidf("nil listener at %d", i)
		}
	}
	b := &Bridge{
		process:   cfg.Process,
		listeners: append([]Listener(nil), cfg.Listeners...),
		props:     make([]map[string]string, len(cfg.Listeners)),
		logger:    cfg.Logger,
	}
	for i, p := range cfg.Properties {
		cp := make(map[string]string, len(p))
		for k, v := range p {
			cp[k] = v
		}
		b.props[i] = cp
	}
	return b, nil
}

// Len returns the number of listeners.
func (b *Bridge) Len() int { return len(b.listeners) }

// Start initialises every listener in order and begins forwarding
// transitions. If a listener fails to initialise, those already initialised
// are cleaned up and the error is returned. A stopped bridge may be started
// again.
func (b *Bridge) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		return errors.New("listener bridge already started")
	}
	for i, l := range b.listeners {
		props := b.props[i]
		if props == nil {
			props = map[string]string{}
		}
		if err := b.call(phaseInit, i, func() error { return l.Init(props) }); err != nil {
			for j := i - 1; j >= 0; j-- {
				b.cleanup(j)
			}
			return errors.Annotatef(err, "initialising listener %d (%s)", i, typeName(l))
		}
	}

	b.deliverMu.Lock()
	b.active = true
	b.deliverMu.Unlock()
	b.cancel = b.process.Observe(b.deliver)
	b.logger.Debug().Int("listeners", len(b.listeners)).Msg("listener bridge started")
	return nil
}

// Stop stops forwarding, waits for a delivery in progress and then cleans up
// every listener. Stopping a stopped bridge does nothing.
func (b *Bridge) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel == nil {
		return nil
	}
	b.cancel()
	b.cancel = nil
	b.deliverMu.Lock()
	b.active = false
	b.deliverMu.Unlock()
	for i := range b.listeners {
		b.cleanup(i)
	}
	b.logger.Debug().Msg("listener bridge stopped")
	return nil
}

func (b *Bridge) deliver(t lifecycle.Transition) {
	change := StateChange{
		ProcessType: b.process.Type(),
		RunningMode: b.process.Mode(),
		Old:         t.Old,
		New:         t.New,
	}
	b.deliverMu.Lock()
	defer b.deliverMu.Unlock()
	if !b.active {
		return
	}
	for i, l := range b.listeners {
		_ = b.call(phaseStateChanged, i, func() error { return l.StateChanged(change) })
	}
}

func (b *Bridge) cleanup(i int) {
	l := b.listeners[i]
	_ = b.call(phaseCleanup, i, func() error {
		l.Cleanup()
		return nil
	})
}

// call runs fn, turning a panic into an error. Failures are logged and
// counted.
func (b *Bridge) call(phase string, i int, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("listener panicked: %v", r)
		}
		if err != nil {
			callbackFailuresTotal.WithLabelValues(phase).Inc()
			b.logger.Warn().Err(err).
				Str("phase", phase).
				Int("index", i).
				Str("listener", typeName(b.listeners[i])).
				Msg("listener callback failed")
		}
	}()
	return fn()
}

func typeName(v any) string { return reflect.TypeOf(v).String() }
