package lifecycle

import (
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"notifyd/internal/address"
	"notifyd/internal/notify"
)

func newProcess(t *testing.T) *Process {
	t.Helper()
	p, err := New(Config{
		Type:  HostController,
		Mode:  ModeNormal,
		Clock: testclock.NewClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestNewValidates(t *testing.T) {
	if _, err := New(Config{Type: "BOGUS", Mode: ModeNormal}); !errors.Is(err, errors.NotValid) {
		t.Fatalf("expected NotValid for type, got %v", err)
	}
	if _, err := New(Config{Type: StandaloneServer, Mode: "SOMETIMES"}); !errors.Is(err, errors.NotValid) {
		t.Fatalf("expected NotValid for mode, got %v", err)
	}
	p := newProcess(t)
	if p.State() != StateStarting || p.Type() != HostController || p.Mode() != ModeNormal {
		t.Fatalf("unexpected initial process %v %v %v", p.State(), p.Type(), p.Mode())
	}
}

func TestTransitionsFormChain(t *testing.T) {
	p := newProcess(t)
	var got []Transition
	cancel := p.Observe(func(tr Transition) { got = append(got, tr) })
	defer cancel()

	before := testutil.ToFloat64(transitionsTotal.WithLabelValues("running"))
	p.SetRunning()
	p.SetReloadRequired()
	p.SetRunning()
	p.SetStopping()
	p.SetStopped()

	if len(got) != 5 {
		t.Fatalf("expected 5 transitions, got %d", len(got))
	}
	prev := StateStarting
	for i, tr := range got {
		if tr.Seq != uint64(i+1) {
			t.Fatalf("transition %d has seq %d", i, tr.Seq)
		}
		if tr.Old != prev {
			t.Fatalf("transition %d old=%s, want %s", i, tr.Old, prev)
		}
		prev = tr.New
	}
	if p.State() != StateStopped {
		t.Fatalf("expected stopped, got %s", p.State())
	}
	if d := testutil.ToFloat64(transitionsTotal.WithLabelValues("running")) - before; d != 2 {
		t.Fatalf("expected 2 transitions to running, counted %v", d)
	}
}

func TestObserverCancelInsideCallback(t *testing.T) {
	p := newProcess(t)
	calls := 0
	var cancel func()
	cancel = p.Observe(func(Transition) {
		calls++
		cancel()
	})
	p.SetRunning()
	p.SetStopping()
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestSubscriptionReceivesInOrder(t *testing.T) {
	p := newProcess(t)
	sub := p.Subscribe(4)
	defer p.Unsubscribe(sub)
	p.SetRunning()
	p.SetStopping()
	for _, want := range []State{StateRunning, StateStopping} {
		select {
		case tr := <-sub.Events():
			if tr.New != want {
				t.Fatalf("got %s, want %s", tr.New, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("missing transition to %s", want)
		}
	}
}

func TestFullSubscriptionBlocksUntilUnsubscribed(t *testing.T) {
	p := newProcess(t)
	sub := p.Subscribe(1)
	p.SetRunning()

	done := make(chan struct{})
	go func() {
		p.SetStopping()
		close(done)
	}()
	select {
	case <-done:
		t.Fatalf("SetState should block while the subscriber buffer is full")
	case <-time.After(20 * time.Millisecond):
	}
	p.Unsubscribe(sub)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("SetState still blocked after unsubscribe")
	}
	p.SetStopped()
	if p.State() != StateStopped {
		t.Fatalf("expected stopped, got %s", p.State())
	}
}

func TestConcurrentReadersSeeValidStates(t *testing.T) {
	p := newProcess(t)
	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if _, err := ParseState(string(p.State())); err != nil {
					t.Errorf("read invalid state: %v", err)
					return
				}
			}
		}()
	}
	for i := 0; i < 200; i++ {
		p.SetRunning()
		p.SetReloadRequired()
	}
	close(stop)
	wg.Wait()
}

func TestProjectionPublishesChanges(t *testing.T) {
	p := newProcess(t)
	sink := NewMemorySink()
	pr, err := Project(p, sink, ProjectionOptions{})
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	defer pr.Close()

	p.SetRunning()
	p.SetReloadRequired()
	if v, err := sink.Read(DefaultProjectionName); err != nil || v != "reload-required" {
		t.Fatalf("Read = %q, %v", v, err)
	}
	p.SetStopping()
	p.SetStopped()

	changes := sink.Changes(DefaultProjectionName)
	if len(changes) != 4 {
		t.Fatalf("expected 4 changes, got %d", len(changes))
	}
	for i, c := range changes {
		if c.Sequence != int64(i) {
			t.Fatalf("change %d has sequence %d", i, c.Sequence)
		}
		if c.Attribute != "ProcessState" || c.Type != "string" {
			t.Fatalf("unexpected attribute metadata %+v", c)
		}
	}
	if changes[0].OldValue != "starting" || changes[0].NewValue != "ok" {
		t.Fatalf("running should project as ok: %+v", changes[0])
	}
	if changes[1].OldValue != "ok" {
		t.Fatalf("old value should be the projected value: %+v", changes[1])
	}
	if len(sink.Names()) != 0 {
		t.Fatalf("stopped should unregister the projection, still have %v", sink.Names())
	}
}

func TestObserveFromSeedsCurrentState(t *testing.T) {
	p := newProcess(t)
	p.SetRunning()
	var seeded State
	var got []Transition
	cancel := p.ObserveFrom(func(s State) { seeded = s }, func(tr Transition) { got = append(got, tr) })
	defer cancel()
	p.SetReloadRequired()
	if seeded != StateRunning {
		t.Fatalf("seeded with %q, want running", seeded)
	}
	if len(got) != 1 || got[0].Old != seeded || got[0].New != StateReloadRequired {
		t.Fatalf("unexpected transitions %+v", got)
	}
}

func TestProjectionChainsUnderConcurrentWriters(t *testing.T) {
	for round := 0; round < 20; round++ {
		p := newProcess(t)
		stop := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				p.SetRunning()
				p.SetReloadRequired()
			}
		}()

		sink := NewMemorySink()
		pr, err := Project(p, sink, ProjectionOptions{})
		if err != nil {
			t.Fatalf("Project: %v", err)
		}
		close(stop)
		wg.Wait()
		p.SetRestartRequired()

		changes := sink.Changes(DefaultProjectionName)
		if len(changes) == 0 {
			t.Fatalf("round %d: no changes published", round)
		}
		for i, c := range changes {
			if c.OldValue == c.NewValue {
				t.Fatalf("round %d: change %d repeats %q, a transition was missed", round, i, c.NewValue)
			}
			if i > 0 && c.OldValue != changes[i-1].NewValue {
				t.Fatalf("round %d: change %d old %q does not follow %q", round, i, c.OldValue, changes[i-1].NewValue)
			}
		}
		if got, want := pr.Value(), ProjectedValue(p.State()); got != want {
			t.Fatalf("round %d: projection %q, process %q", round, got, want)
		}
		pr.Close()
	}
}

func TestProjectionToleratesExistingName(t *testing.T) {
	p := newProcess(t)
	sink := NewMemorySink()
	if err := sink.Register("dup", func() string { return "" }); err != nil {
		t.Fatalf("Register: %v", err)
	}
	pr, err := Project(p, sink, ProjectionOptions{Name: "dup"})
	if err != nil {
		t.Fatalf("AlreadyExists should be ignored, got %v", err)
	}
	defer pr.Close()
	p.SetRunning()
	if got := sink.Changes("dup"); len(got) != 1 || got[0].NewValue != "ok" {
		t.Fatalf("unexpected changes %+v", got)
	}
}

type failingSink struct{ *MemorySink }

func (failingSink) Register(string, func() string) error { return errors.New("sink unavailable") }

func TestProjectionFailsOnOtherErrors(t *testing.T) {
	if _, err := Project(newProcess(t), failingSink{NewMemorySink()}, ProjectionOptions{}); err == nil {
		t.Fatalf("expected registration error")
	}
}

func TestNotifyRegistryDispatchesAttributeWritten(t *testing.T) {
	p := newProcess(t)
	r := notify.NewRegistry(zerolog.Nop())
	h := notify.NewMemoryHandler()
	src := address.MustNew("core-service", "management")
	if err := r.Register(address.AnyAddress, h, notify.TypeFilter(notify.AttributeValueWritten)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	cancel, err := NotifyRegistry(p, r, src)
	if err != nil {
		t.Fatalf("NotifyRegistry: %v", err)
	}
	p.SetRunning()
	cancel()
	p.SetStopping()

	got := h.Notifications()
	if len(got) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(got))
	}
	data, ok := got[0].Data.(notify.AttributeWritten)
	if !ok || data.Name != StateAttribute || data.OldValue != "starting" || data.NewValue != "running" {
		t.Fatalf("unexpected data %#v", got[0].Data)
	}
	if !got[0].Source.Equal(src) {
		t.Fatalf("unexpected source %s", got[0].Source)
	}
	if _, err := NotifyRegistry(p, r, address.MustNew("a", "*")); !errors.Is(err, errors.NotValid) {
		t.Fatalf("expected NotValid for wildcard source, got %v", err)
	}
}
