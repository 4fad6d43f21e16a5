package collector

import "sync/atomic"

// Counters exposes the three monotonic counters an aggregator accumulates,
// with atomic swap-on-read semantics so a metrics exporter can sample at any
// cadence and receive reset-to-zero deltas.
type Counters struct {
	dropBeforeWindow atomic.Uint64
	out              atomic.Uint64
	dropInThrottle   atomic.Uint64
}

func newCounters() *Counters {
	return &Counters{}
}

// Snapshot is a point-in-time, reset-to-zero read of all three counters.
type Snapshot struct {
	DropBeforeWindow uint64
	Out              uint64
	DropInThrottle   uint64
}

// Snapshot swaps every counter to zero and returns what it held, i.e. the
// delta accumulated since the previous Snapshot call.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		DropBeforeWindow: c.dropBeforeWindow.Swap(0),
		Out:              c.out.Swap(0),
		DropInThrottle:   c.dropInThrottle.Swap(0),
	}
}

// Add merges o into s, for folding multiple workers' snapshots into one
// exporter tick.
func (s Snapshot) Add(o Snapshot) Snapshot {
	return Snapshot{
		DropBeforeWindow: s.DropBeforeWindow + o.DropBeforeWindow,
		Out:              s.Out + o.Out,
		DropInThrottle:   s.DropInThrottle + o.DropInThrottle,
	}
}
