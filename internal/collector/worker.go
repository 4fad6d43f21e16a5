package collector

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"flowcollector/internal/flow"
	"flowcollector/internal/queue"
)

// AggregatorWorker runs one aggregator on its own goroutine: pull from the
// input channel with a bounded wait, dispatch to the merge state machine,
// and idle-flush when event time stalls. Each worker owns its aggregator
// exclusively — no aggregator state is ever shared across workers.
type AggregatorWorker struct {
	id  int
	agg *aggregator

	input *queue.Receiver[*flow.TaggedFlow]

	running atomic.Bool
	stop    chan struct{}
	done    chan struct{}
}

// NewAggregatorWorker wires a worker around input/output channels, a shared
// throttle knob and the tap-type allow-list translated from
// l4_log_store_tap_types.
func NewAggregatorWorker(id int, input <-chan *flow.TaggedFlow, output chan<- *flow.TaggedFlow, tapTypes []uint32, throttle *atomic.Uint64) *AggregatorWorker {
	stop := make(chan struct{})
	sender := queue.NewSender(output, stop)
	return &AggregatorWorker{
		id:    id,
		agg:   newAggregator(sender, throttle, tapTypes),
		input: queue.NewReceiver(input),
		stop:  stop,
		done:  make(chan struct{}),
	}
}

// Start spawns the worker's run loop.
func (w *AggregatorWorker) Start() {
	w.running.Store(true)
	log.Info().Int("id", w.id).Msg("starting l4 flow aggregator")
	go w.run()
}

// Stop requests the loop exit and blocks until it has. Expected to complete
// within roughly one queueReadTimeout.
func (w *AggregatorWorker) Stop() {
	log.Info().Int("id", w.id).Msg("stopping l4 flow aggregator")
	w.running.Store(false)
	close(w.stop)
	<-w.done
	log.Info().Int("id", w.id).Msg("stopped l4 flow aggregator")
}

// Counters returns and resets this worker's counter deltas.
func (w *AggregatorWorker) Counters() Snapshot {
	return w.agg.counters.Snapshot()
}

// Closed mirrors !running, for Countable-style exporter integration.
func (w *AggregatorWorker) Closed() bool {
	return !w.running.Load()
}

func (w *AggregatorWorker) run() {
	defer close(w.done)

	for w.running.Load() {
		update, err := w.input.Recv(queueReadTimeout)
		switch {
		case err == nil:
			if w.agg.allows(update.FlowKey.TapType) {
				w.agg.merge(update)
			}
		case errors.Is(err, queue.ErrTimeout):
			if w.agg.idleFlushDue(time.Now()) {
				w.agg.rotateOne()
			}
		case errors.Is(err, queue.ErrTerminated):
			return
		}
	}
}
