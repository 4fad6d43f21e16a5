package collector

import (
	"sync/atomic"

	"flowcollector/internal/flow"
)

// Collector owns a fixed set of AggregatorWorkers that share one throttle
// knob and one tap-type allow-list, the way cmd/server wires its
// collaborators in the teacher this module was adapted from: construct
// everything up front, Start what needs a goroutine, Stop it all on
// shutdown.
type Collector struct {
	workers  []*AggregatorWorker
	throttle *atomic.Uint64
}

// Config is the already-loaded configuration the Collector needs. Loading
// it from disk/env/flags is the caller's job.
type Config struct {
	// Workers is the number of independent aggregator instances to run.
	// Each owns its own slot window; flow-ids are not sharded across them
	// by this package — callers that want that should round-robin updates
	// onto per-worker input channels themselves.
	Workers int
	// Throttle is the initial records/second cap, must be in
	// [minThrottleNPS, maxThrottleNPS].
	Throttle uint64
	// TapTypes is l4_log_store_tap_types: the tap types this collector
	// should merge; flow.TapTypeAny short-circuits to "accept everything".
	TapTypes []uint32
}

// New builds Workers aggregator workers, each reading from its own input
// channel in inputs and writing to the shared output channel.
func New(cfg Config, inputs []<-chan *flow.TaggedFlow, output chan<- *flow.TaggedFlow) *Collector {
	throttle := &atomic.Uint64{}
	throttle.Store(cfg.Throttle)

	workers := make([]*AggregatorWorker, 0, cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		workers = append(workers, NewAggregatorWorker(i, inputs[i], output, cfg.TapTypes, throttle))
	}

	return &Collector{workers: workers, throttle: throttle}
}

// Start starts every worker.
func (c *Collector) Start() {
	for _, w := range c.workers {
		w.Start()
	}
}

// Stop stops every worker and waits for each to join.
func (c *Collector) Stop() {
	for _, w := range c.workers {
		w.Stop()
	}
}

// SetThrottle updates the shared target records/second. Workers pick it up
// on their next bucket rollover; out-of-range values are rejected there and
// logged, not here.
func (c *Collector) SetThrottle(recordsPerSecond uint64) {
	c.throttle.Store(recordsPerSecond)
}

// Counters folds every worker's counter snapshot into one exporter tick.
// Each worker's own Counters remains the source of truth; this is purely a
// convenience fold for a single collector-wide export.
func (c *Collector) Counters() Snapshot {
	var total Snapshot
	for _, w := range c.workers {
		total = total.Add(w.Counters())
	}
	return total
}
