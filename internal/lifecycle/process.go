// Package lifecycle tracks the controlled process state and fans every
// transition out to synchronous observers and buffered subscribers.
package lifecycle

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
)

// Transition is one state change. Seq starts at 1 and increases by one per
// transition, so Old of each transition equals New of the previous one.
type Transition struct {
	Seq uint64
	Old State
	New State
	At  time.Time
}

// Config describes a process.
type Config struct {
	Type  ProcessType
	Mode  RunningMode
	Clock clock.Clock
}

// Validate checks Type and Mode.
func (c Config) Validate() error {
	if _, err := ParseProcessType(string(c.Type)); err != nil {
		return errors.Trace(err)
	}
	if _, err := ParseRunningMode(string(c.Mode)); err != nil {
		return errors.Trace(err)
	}
	return nil
}

type observer struct {
	fn func(Transition)
}

// Process holds the current state. Reads are lock-free; writers are
// serialised so observers see transitions in order.
type Process struct {
	typ   ProcessType
	mode  RunningMode
	clock clock.Clock

	state atomic.Value // State

	mu  sync.Mutex
	seq uint64

	// Copy-on-write lists, replaced under listMu and loaded without it.
	listMu    sync.Mutex
	observers atomic.Pointer[[]*observer]
	subs      atomic.Pointer[[]*Subscription]
}

// New returns a process in StateStarting.
func New(cfg Config) (*Process, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	p := &Process{typ: cfg.Type, mode: cfg.Mode, clock: cfg.Clock}
	p.state.Store(StateStarting)
	return p, nil
}

// Type returns the fixed process type.
func (p *Process) Type() ProcessType { return p.typ }

// Mode returns the fixed running mode.
func (p *Process) Mode() RunningMode { return p.mode }

// State returns the current state.
func (p *Process) State() State { return p.state.Load().(State) }

// SetState moves the process to s and returns the resulting transition.
// Setting the current state again still emits a transition.
func (p *Process) SetState(s State) Transition {
	p.mu.Lock()
	defer p.mu.Unlock()

	old := p.State()
	p.state.Store(s)
	p.seq++
	t := Transition{Seq: p.seq, Old: old, New: s, At: p.clock.Now()}
	transitionsTotal.WithLabelValues(string(s)).Inc()

	if obs := p.observers.Load(); obs != nil {
		for _, o := range *obs {
			o.fn(t)
		}
	}
	if subs := p.subs.Load(); subs != nil {
		for _, sub := range *subs {
			sub.deliver(t)
		}
	}
	return t
}

func (p *Process) SetStarting() Transition        { return p.SetState(StateStarting) }
func (p *Process) SetRunning() Transition         { return p.SetState(StateRunning) }
func (p *Process) SetReloadRequired() Transition  { return p.SetState(StateReloadRequired) }
func (p *Process) SetRestartRequired() Transition { return p.SetState(StateRestartRequired) }
func (p *Process) SetStopping() Transition        { return p.SetState(StateStopping) }
func (p *Process) SetStopped() Transition         { return p.SetState(StateStopped) }

// Observe calls fn synchronously, on the transitioning goroutine, for every
// later transition. fn must not call SetState. The returned func removes the
// observer and may be called from within fn.
func (p *Process) Observe(fn func(Transition)) (cancel func()) {
	o := &observer{fn: fn}
	p.listMu.Lock()
	p.observers.Store(appendCopy(p.observers.Load(), o))
	p.listMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.listMu.Lock()
			p.observers.Store(removeCopy(p.observers.Load(), o))
			p.listMu.Unlock()
		})
	}
}

// ObserveFrom calls seed with the current state and registers fn as Observe
// does, both under the writer lock, so fn sees every transition after the
// seeded state and no other.
func (p *Process) ObserveFrom(seed func(State), fn func(Transition)) (cancel func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	seed(p.State())
	return p.Observe(fn)
}

// Subscribe returns a subscription that receives every later transition
// through a channel of the given capacity. SetState blocks while that
// channel is full, until the subscriber reads or unsubscribes.
func (p *Process) Subscribe(buffer int) *Subscription {
	if buffer < 0 {
		buffer = 0
	}
	s := &Subscription{
		ch:   make(chan Transition, buffer),
		done: make(chan struct{}),
	}
	p.listMu.Lock()
	p.subs.Store(appendCopy(p.subs.Load(), s))
	p.listMu.Unlock()
	return s
}

// Unsubscribe closes s and stops deliveries to it. A SetState blocked on s
// returns immediately.
func (p *Process) Unsubscribe(s *Subscription) {
	s.close()
	p.listMu.Lock()
	p.subs.Store(removeCopy(p.subs.Load(), s))
	p.listMu.Unlock()
}

// Subscription is a buffered feed of transitions.
type Subscription struct {
	ch   chan Transition
	done chan struct{}
	once sync.Once
}

// Events returns the transition channel. It is never closed; select on Done
// as well.
func (s *Subscription) Events() <-chan Transition { return s.ch }

// Done is closed once the subscription has been unsubscribed.
func (s *Subscription) Done() <-chan struct{} { return s.done }

func (s *Subscription) deliver(t Transition) {
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.ch <- t:
	case <-s.done:
	}
}

func (s *Subscription) close() {
	s.once.Do(func() { close(s.done) })
}

func appendCopy[T comparable](cur *[]T, v T) *[]T {
	var n []T
	if cur != nil {
		n = make([]T, len(*cur), len(*cur)+1)
		copy(n, *cur)
	}
	n = append(n, v)
	return &n
}

func removeCopy[T comparable](cur *[]T, v T) *[]T {
	if cur == nil {
		return nil
	}
	n := make([]T, 0, len(*cur))
	for _, x := range *cur {
		if x != v {
			n = append(n, x)
		}
	}
	return &n
}
