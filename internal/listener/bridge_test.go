package listener

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"go.uber.org/goleak"

	"notifyd/internal/lifecycle"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingListener struct {
	mu      sync.Mutex
	calls   []string
	props   map[string]string
	initErr error
	delay   time.Duration
}

func (l *recordingListener) Init(props map[string]string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.props = props
	l.calls = append(l.calls, "init")
	return l.initErr
}

func (l *recordingListener) StateChanged(c StateChange) error {
	if l.delay > 0 {
		time.Sleep(l.delay)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, c.String())
	return nil
}

func (l *recordingListener) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, "cleanup")
}

func (l *recordingListener) Calls() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

type faultyListener struct {
	panics bool

	mu    sync.Mutex
	calls int
}

func (*faultyListener) Init(map[string]string) error { return nil }
func (l *faultyListener) StateChanged(StateChange) error {
	l.mu.Lock()
	l.calls++
	l.mu.Unlock()
	if l.panics {
		panic("listener exploded")
	}
	return errors.New("listener refused")
}
func (*faultyListener) Cleanup() {}

func (l *faultyListener) Calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

// blockingListener holds StateChanged until release is closed.
type blockingListener struct {
	recordingListener
	entered chan struct{}
	release chan struct{}
}

func (l *blockingListener) StateChanged(c StateChange) error {
	close(l.entered)
	<-l.release
	return l.recordingListener.StateChanged(c)
}

func newProcess(t *testing.T) *lifecycle.Process {
	t.Helper()
	p, err := lifecycle.New(lifecycle.Config{Type: lifecycle.HostController, Mode: lifecycle.ModeNormal})
	if err != nil {
		t.Fatalf("lifecycle.New: %v", err)
	}
	return p
}

func newBridge(t *testing.T, p *lifecycle.Process, ls []Listener, props []map[string]string) *Bridge {
	t.Helper()
	b, err := NewBridge(BridgeConfig{Process: p, Listeners: ls, Properties: props, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("NewBridge: %v", err)
	}
	return b
}

func equalCalls(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestBridgeDeliversTransitionsInOrder(t *testing.T) {
	p := newProcess(t)
	l := &recordingListener{}
	b := newBridge(t, p, []Listener{l}, []map[string]string{{"foo": "bar"}})
	if err := b.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	p.SetRunning()
	p.SetStopping()
	if err := b.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	want := []string{
		"init",
		"HOST_CONTROLLER NORMAL starting running",
		"HOST_CONTROLLER NORMAL running stopping",
		"cleanup",
	}
	if got := l.Calls(); !equalCalls(got, want) {
		t.Fatalf("got %q, want %q", got, want)
	}
	if l.props["foo"] != "bar" {
		t.Fatalf("properties not passed to Init: %v", l.props)
	}
}

func TestBridgeStartedLateSeesOnlyLaterTransitions(t *testing.T) {
	p := newProcess(t)
	p.SetRunning()
	l := &recordingListener{}
	b := newBridge(t, p, []Listener{l}, nil)
	if err := b.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	p.SetReloadRequired()
	_ = b.Stop()
	want := []string{"init", "HOST_CONTROLLER NORMAL running reload-required", "cleanup"}
	if got := l.Calls(); !equalCalls(got, want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestBridgeIsolatesFailingListeners(t *testing.T) {
	p := newProcess(t)
	good := &recordingListener{}
	refusing, panicking := &faultyListener{}, &faultyListener{panics: true}
	b := newBridge(t, p, []Listener{refusing, panicking, good}, nil)
	before := testutil.ToFloat64(callbackFailuresTotal.WithLabelValues(phaseStateChanged))
	if err := b.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	p.SetRunning()
	p.SetStopping()
	_ = b.Stop()
	want := []string{
		"init",
		"HOST_CONTROLLER NORMAL starting running",
		"HOST_CONTROLLER NORMAL running stopping",
		"cleanup",
	}
	if got := good.Calls(); !equalCalls(got, want) {
		t.Fatalf("good listener got %q, want %q", got, want)
	}
	if refusing.Calls() != 2 || panicking.Calls() != 2 {
		t.Fatalf("failing listeners should see every transition, got %d and %d", refusing.Calls(), panicking.Calls())
	}
	if d := testutil.ToFloat64(callbackFailuresTotal.WithLabelValues(phaseStateChanged)) - before; d != 4 {
		t.Fatalf("expected 4 failures, counted %v", d)
	}
}

func TestBridgeInitFailureCleansUp(t *testing.T) {
	p := newProcess(t)
	first := &recordingListener{}
	broken := &recordingListener{initErr: errors.New("no")}
	third := &recordingListener{}
	b := newBridge(t, p, []Listener{first, broken, third}, nil)
	if err := b.Start(); err == nil {
		t.Fatalf("expected Start to fail")
	}
	if got := first.Calls(); !equalCalls(got, []string{"init", "cleanup"}) {
		t.Fatalf("first listener: %q", got)
	}
	if got := third.Calls(); len(got) != 0 {
		t.Fatalf("third listener should not be touched: %q", got)
	}
	p.SetRunning()
	if got := first.Calls(); !equalCalls(got, []string{"init", "cleanup"}) {
		t.Fatalf("failed Start left an observer behind: %q", got)
	}
	if err := b.Stop(); err != nil {
		t.Fatalf("Stop on unstarted bridge: %v", err)
	}
}

func TestBridgeDeliversBeforeSetStateReturns(t *testing.T) {
	p := newProcess(t)
	l := &recordingListener{delay: time.Millisecond}
	b := newBridge(t, p, []Listener{l}, nil)
	if err := b.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer b.Stop()
	for i := 0; i < 10; i++ {
		p.SetRunning()
		p.SetReloadRequired()
		if got := len(l.Calls()); got != 2*(i+1)+1 {
			t.Fatalf("after round %d expected %d calls, got %d", i, 2*(i+1)+1, got)
		}
	}
}

func TestBridgeStopWaitsForDeliveryInProgress(t *testing.T) {
	p := newProcess(t)
	l := &blockingListener{entered: make(chan struct{}), release: make(chan struct{})}
	b := newBridge(t, p, []Listener{l}, nil)
	if err := b.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	transitioned := make(chan struct{})
	go func() {
		p.SetRunning()
		close(transitioned)
	}()
	<-l.entered

	stopped := make(chan struct{})
	go func() {
		_ = b.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
		t.Fatalf("Stop returned while a delivery was in progress")
	case <-time.After(20 * time.Millisecond):
	}

	close(l.release)
	<-transitioned
	<-stopped
	p.SetStopping()
	want := []string{"init", "HOST_CONTROLLER NORMAL starting running", "cleanup"}
	if got := l.Calls(); !equalCalls(got, want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestBridgeRestart(t *testing.T) {
	p := newProcess(t)
	l := &recordingListener{}
	b := newBridge(t, p, []Listener{l}, nil)
	if err := b.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := b.Start(); err == nil {
		t.Fatalf("second Start should fail while running")
	}
	p.SetRunning()
	p.SetStopping()
	_ = b.Stop()
	p.SetStarting()
	if err := b.Start(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	p.SetRunning()
	_ = b.Stop()
	want := []string{
		"init",
		"HOST_CONTROLLER NORMAL starting running",
		"HOST_CONTROLLER NORMAL running stopping",
		"cleanup",
		"init",
		"HOST_CONTROLLER NORMAL starting running",
		"cleanup",
	}
	if got := l.Calls(); !equalCalls(got, want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestNewBridgeValidation(t *testing.T) {
	if _, err := NewBridge(BridgeConfig{}); !errors.Is(err, errors.NotValid) {
		t.Fatalf("expected NotValid without process, got %v", err)
	}
	p := newProcess(t)
	if _, err := NewBridge(BridgeConfig{Process: p, Listeners: []Listener{nil}}); !errors.Is(err, errors.NotValid) {
		t.Fatalf("expected NotValid for nil listener, got %v", err)
	}
}

func TestFileListenerAppendsLines(t *testing.T) {
	p := newProcess(t)
	path := filepath.Join(t.TempDir(), "events", "state.txt")
	f := DefaultFactory(zerolog.Nop())
	ls, props, err := f.Build([]Spec{
		{Kind: "file", Properties: map[string]string{"file": path}},
		{Kind: "log", Module: BuiltinModule, Properties: map[string]string{"level": "debug"}},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	b := newBridge(t, p, ls, props)
	if err := b.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	p.SetRunning()
	p.SetStopping()
	_ = b.Stop()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 || lines[0] != "HOST_CONTROLLER NORMAL starting running" || lines[1] != "HOST_CONTROLLER NORMAL running stopping" {
		t.Fatalf("unexpected file content %q", data)
	}
}

func TestFactory(t *testing.T) {
	f := DefaultFactory(zerolog.Nop())
	if err := f.Register(BuiltinModule, "file", func() Listener { return &FileListener{} }); !errors.Is(err, errors.AlreadyExists) {
		t.Fatalf("expected AlreadyExists, got %v", err)
	}
	if err := f.Register("acme", "audit", func() Listener { return &recordingListener{} }); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := f.New(Spec{Kind: "audit", Module: "acme"}); err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := f.New(Spec{Kind: "audit"}); !errors.Is(err, errors.NotFound) {
		t.Fatalf("kind in another module should be NotFound, got %v", err)
	}
	ls, _, err := f.Build([]Spec{{Kind: "log"}, {Kind: "missing"}})
	if !errors.Is(err, errors.NotFound) || ls != nil {
		t.Fatalf("Build should fail as a whole, got %v %v", ls, err)
	}
	want := []string{"acme/audit", "builtin/file", "builtin/log"}
	if got := f.Kinds(); !equalCalls(got, want) {
		t.Fatalf("Kinds = %q", got)
	}
}
