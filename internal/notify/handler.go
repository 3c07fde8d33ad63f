package notify

import (
	"sync"

	"github.com/rs/zerolog"
)

// Handler receives notifications. Implementations should be lightweight;
// dispatch is synchronous on the producer's goroutine. Handlers must be
// comparable with == (pointers are the usual choice).
type Handler interface {
	HandleNotification(Notification)
}

// Dispatcher fans a notification out to interested handlers.
type Dispatcher interface {
	Dispatch(Notification)
}

type funcHandler struct {
	fn func(Notification)
}

func (h *funcHandler) HandleNotification(n Notification) { h.fn(n) }

// HandlerFunc adapts a function. Each call returns a distinct handler.
func HandlerFunc(fn func(Notification)) Handler { return &funcHandler{fn: fn} }

// MemoryHandler stores notifications in memory, mainly for tests.
type MemoryHandler struct {
	mu            sync.Mutex
	notifications []Notification
}

func NewMemoryHandler() *MemoryHandler { return &MemoryHandler{} }

func (h *MemoryHandler) HandleNotification(n Notification) {
	h.mu.Lock()
	h.notifications = append(h.notifications, n)
	h.mu.Unlock()
}

// Notifications returns a copy of what has been received so far.
func (h *MemoryHandler) Notifications() []Notification {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Notification, len(h.notifications))
	copy(out, h.notifications)
	return out
}

// Len returns how many notifications were received.
func (h *MemoryHandler) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.notifications)
}

// LogHandler writes each notification to a zerolog logger.
type LogHandler struct {
	logger zerolog.Logger
	level  zerolog.Level
}

// NewLogHandler logs at info level.
func NewLogHandler(l zerolog.Logger) *LogHandler {
	return &LogHandler{logger: l, level: zerolog.InfoLevel}
}

func (h *LogHandler) HandleNotification(n Notification) {
	h.logger.WithLevel(h.level).
		Str("type", n.Type).
		Str("source", n.Source.String()).
		Interface("data", n.Data).
		Time("at", n.Timestamp).
		Msg(n.Message)
}

// ChanHandler delivers to a buffered channel without ever blocking the
// dispatcher. Notifications that do not fit are dropped and counted.
type ChanHandler struct {
	ch      chan Notification
	mu      sync.Mutex
	dropped uint64
}

func NewChanHandler(buffer int) *ChanHandler {
	if buffer < 1 {
		buffer = 1
	}
	return &ChanHandler{ch: make(chan Notification, buffer)}
}

func (h *ChanHandler) HandleNotification(n Notification) {
	select {
	case h.ch <- n:
	default:
		h.mu.Lock()
		h.dropped++
		h.mu.Unlock()
		droppedTotal.Inc()
	}
}

// C returns the receive side of the channel.
func (h *ChanHandler) C() <-chan Notification { return h.ch }

// Dropped returns how many notifications did not fit in the buffer.
func (h *ChanHandler) Dropped() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

type forwardHandler struct {
	d Dispatcher
}

func (h *forwardHandler) HandleNotification(n Notification) { h.d.Dispatch(n) }

// Forward returns a handler that re-dispatches into d, so notifications
// produced for a single handler (such as metric ticks) reach every matching
// subscriber.
func Forward(d Dispatcher) Handler { return &forwardHandler{d: d} }
