// Package poller periodically samples resource attributes and turns each
// sample into a metric-value-changed notification for the handler that asked
// for it.
//
// All registrations share one goroutine, so reads never overlap: a slow read
// delays every other metric's tick but never runs concurrently with it.
package poller

import (
	"container/heap"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/rs/zerolog"
	"gopkg.in/tomb.v2"

	"notifyd/internal/address"
	"notifyd/internal/notify"
)

// AttributeReader reads the current value of a resource attribute.
type AttributeReader interface {
	ReadAttribute(ctx context.Context, source address.Path, name string) (any, error)
}

// Config holds the poller's collaborators. Clock defaults to the wall clock.
type Config struct {
	Reader AttributeReader
	Clock  clock.Clock
	Logger zerolog.Logger
}

// Validate reports missing collaborators.
func (c Config) Validate() error {
	if c.Reader == nil {
		return errors.NotValidf("nil Reader")
	}
	return nil
}

// Poller is a single-goroutine fixed-rate scheduler.
type Poller struct {
	tomb   tomb.Tomb
	reader AttributeReader
	clock  clock.Clock
	logger zerolog.Logger

	mu      sync.Mutex
	pending []*task
	wake    chan struct{}

	nextID atomic.Uint64
	active atomic.Int64
}

// New starts a poller.
func New(cfg Config) (*Poller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	p := &Poller{
		reader: cfg.Reader,
		clock:  cfg.Clock,
		logger: cfg.Logger,
		wake:   make(chan struct{}, 1),
	}
	p.tomb.Go(p.loop)
	return p, nil
}

// Registration is a standing request to sample one attribute.
type Registration struct {
	p         *Poller
	t         *task
	cancelled sync.Once
}

// Source returns the sampled address.
func (r *Registration) Source() address.Path { return r.t.source }

// Attribute returns the sampled attribute name.
func (r *Registration) Attribute() string { return r.t.attribute }

// Interval returns the sampling period.
func (r *Registration) Interval() time.Duration { return r.t.interval }

// Cancel stops future ticks. A tick already running completes. Safe to call
// more than once and from inside the handler.
func (r *Registration) Cancel() {
	r.cancelled.Do(func() {
		r.t.cancelled.Store(true)
		r.p.active.Add(-1)
		registrations.Dec()
		r.p.poke()
	})
}

// Register schedules handler to receive the attribute's value every interval,
// starting immediately. A nil filter accepts everything. source may be
// address.AnyAddress (the root resource) but no other wildcard.
func (p *Poller) Register(source address.Path, attribute string, handler notify.Handler, filter notify.Filter, interval time.Duration) (*Registration, error) {
	switch {
	case handler == nil:
		return nil, errors.NotValidf("nil handler")
	case attribute == "":
		return nil, errors.NotValidf("empty attribute name")
	case interval <= 0:
		return nil, errors.NotValidf("interval %v", interval)
	case source.IsWildcard():
		return nil, errors.NotValidf("metric source %s", source)
	}
	if filter == nil {
		filter = notify.All
	}
	if !p.tomb.Alive() {
		return nil, errors.New("poller is stopped")
	}
	t := &task{
		id:        p.nextID.Add(1),
		source:    source,
		attribute: attribute,
		handler:   handler,
		filter:    filter,
		interval:  interval,
	}
	p.mu.Lock()
	p.pending = append(p.pending, t)
	p.mu.Unlock()
	p.active.Add(1)
	registrations.Inc()
	p.poke()
	return &Registration{p: p, t: t}, nil
}

// Len returns the number of live registrations.
func (p *Poller) Len() int { return int(p.active.Load()) }

// Kill asks the poller to stop.
func (p *Poller) Kill() { p.tomb.Kill(nil) }

// Wait blocks until the poller has stopped, including any in-flight read.
func (p *Poller) Wait() error { return p.tomb.Wait() }

// Stop kills the poller and waits for it.
func (p *Poller) Stop() error {
	p.Kill()
	return p.Wait()
}

func (p *Poller) poke() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Poller) loop() error {
	ctx := p.tomb.Context(context.Background())
	var (
		q        taskQueue
		timer    <-chan time.Time
		armedFor time.Time
	)
	for {
		p.adoptPending(&q)
		p.runDue(ctx, &q)

		if q.Len() == 0 {
			timer = nil
		} else if head := q[0].next; timer == nil || !head.Equal(armedFor) {
			if delay := head.Sub(p.clock.Now()); delay > 0 {
				timer = p.clock.After(delay)
			} else {
				// Still behind after a full pass; go round again straight away.
				ready := make(chan time.Time, 1)
				ready <- p.clock.Now()
				timer = ready
			}
			armedFor = head
		}

		select {
		case <-p.tomb.Dying():
			return tomb.ErrDying
		case <-p.wake:
		case <-timer:
			timer = nil
		}
	}
}

// adoptPending moves new registrations into the queue, due now, and drops
// cancelled ones.
func (p *Poller) adoptPending(q *taskQueue) {
	p.mu.Lock()
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()

	now := p.clock.Now()
	for _, t := range pending {
		t.next = now
		heap.Push(q, t)
	}
	for i := 0; i < q.Len(); {
		if (*q)[i].cancelled.Load() {
			heap.Remove(q, i)
			continue
		}
		i++
	}
}

// runDue runs every task whose due time has passed. Each task's due time
// advances by exactly one interval per run, so late ticks catch up. At most
// one pass over the queue is made before returning to the select loop.
func (p *Poller) runDue(ctx context.Context, q *taskQueue) {
	budget := q.Len()
	for budget > 0 && q.Len() > 0 && ctx.Err() == nil {
		t := (*q)[0]
		if t.cancelled.Load() {
			heap.Pop(q)
			continue
		}
		if t.next.After(p.clock.Now()) {
			return
		}
		budget--
		p.tick(ctx, t)
		t.next = t.next.Add(t.interval)
		heap.Fix(q, 0)
	}
}

func (p *Poller) tick(ctx context.Context, t *task) {
	value, err := p.read(ctx, t)
	if err != nil {
		ticksTotal.WithLabelValues("error").Inc()
		p.logger.Warn().Err(err).
			Str("source", t.source.String()).
			Str("attribute", t.attribute).
			Msg("metric read failed")
		return
	}
	n, err := notify.NewAt(p.clock.Now(), notify.MetricValueChanged, t.source, "metric value changed", value)
	if err != nil {
		ticksTotal.WithLabelValues("error").Inc()
		p.logger.Error().Err(err).Msg("cannot build metric notification")
		return
	}
	if !t.filter.IsEnabled(n) {
		ticksTotal.WithLabelValues("filtered").Inc()
		return
	}
	ticksTotal.WithLabelValues("ok").Inc()
	notify.Deliver(p.logger, t.handler, n)
}

func (p *Poller) read(ctx context.Context, t *task) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("reading %s of %s panicked: %v", t.attribute, t.source, r)
		}
	}()
	value, err = p.reader.ReadAttribute(ctx, t.source, t.attribute)
	return value, errors.Annotatef(err, "reading %s of %s", t.attribute, t.source)
}

type task struct {
	id        uint64
	source    address.Path
	attribute string
	handler   notify.Handler
	filter    notify.Filter
	interval  time.Duration
	next      time.Time
	index     int
	cancelled atomic.Bool
}

// taskQueue is a min-heap by due time, ties broken by registration order.
type taskQueue []*task

func (q taskQueue) Len() int { return len(q) }

func (q taskQueue) Less(i, j int) bool {
	if q[i].next.Equal(q[j].next) {
		return q[i].id < q[j].id
	}
	return q[i].next.Before(q[j].next)
}

func (q taskQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *taskQueue) Push(x any) {
	t := x.(*task)
	t.index = len(*q)
	*q = append(*q, t)
}

func (q *taskQueue) Pop() any {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*q = old[:n-1]
	return t
}
