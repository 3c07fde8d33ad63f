package model

import (
	"runtime"

	"github.com/juju/clock"
	"github.com/juju/errors"

	"notifyd/internal/address"
)

// Root metric attribute names.
const (
	AttrUptimeMillis   = "uptime-ms"
	AttrGoroutines     = "goroutines"
	AttrHeapAllocBytes = "heap-alloc-bytes"
)

// RegisterRuntimeMetrics backs the root resource's uptime, goroutine and heap
// attributes. Uptime is measured on clk from the moment of registration.
func (s *Store) RegisterRuntimeMetrics(clk clock.Clock) error {
	if clk == nil {
		clk = clock.WallClock
	}
	started := clk.Now()
	metrics := map[string]func() any{
		AttrUptimeMillis: func() any { return clk.Now().Sub(started).Milliseconds() },
		AttrGoroutines:   func() any { return runtime.NumGoroutine() },
		AttrHeapAllocBytes: func() any {
			var ms runtime.MemStats
			runtime.ReadMemStats(&ms)
			return ms.HeapAlloc
		},
	}
	for _, name := range []string{AttrUptimeMillis, AttrGoroutines, AttrHeapAllocBytes} {
		if err := s.RegisterMetric(address.AnyAddress, name, metrics[name]); err != nil {
			return errors.Annotatef(err, "registering %s", name)
		}
	}
	return nil
}
