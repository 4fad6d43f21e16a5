// Package collector implements the flow aggregator core: a two-slot
// sliding-minute merge window (C3), its throttled egress queue (C2), the
// long-lived worker loop that drives it (C4), and the counters surface
// exporters read from (C5).
package collector

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"flowcollector/internal/flow"
	"flowcollector/internal/queue"
)

const (
	minuteSlots      = 2
	secondsInMinute  = 60
	minuteDuration   = time.Duration(secondsInMinute) * time.Second
	flushTimeout     = 2 * time.Minute
	queueReadTimeout = 2 * time.Second

	tapTypeMax = 256
)

// aggregator owns the slot window for a single worker. It is not safe for
// concurrent use: each aggregator instance is driven by exactly one
// AggregatorWorker goroutine.
type aggregator struct {
	stashs        []map[uint64]*flow.TaggedFlow
	slotStartTime time.Duration

	lastFlushTime time.Time

	tapAllow [tapTypeMax]bool

	output   *throttlingQueue
	counters *Counters
}

func newAggregator(output *queue.Sender[*flow.TaggedFlow], throttle *atomic.Uint64, tapTypes []uint32) *aggregator {
	var tapAllow [tapTypeMax]bool
	for _, t := range tapTypes {
		if t < tapTypeMax {
			tapAllow[t] = true
		}
	}

	stashs := make([]map[uint64]*flow.TaggedFlow, minuteSlots)
	for i := range stashs {
		stashs[i] = make(map[uint64]*flow.TaggedFlow)
	}

	return &aggregator{
		stashs:        stashs,
		slotStartTime: flow.RoundToMinute(nowSinceEpoch() - time.Minute),
		tapAllow:      tapAllow,
		output:        newThrottlingQueue(output, throttle),
		counters:      newCounters(),
	}
}

func nowSinceEpoch() time.Duration {
	return time.Duration(time.Now().UnixNano())
}

// allows reports whether a flow with the given tap type should be merged,
// honoring the reserved "Any" wildcard index.
func (a *aggregator) allows(tapType flow.TapType) bool {
	return a.tapAllow[flow.TapTypeAny] || a.tapAllow[tapType]
}

func (a *aggregator) merge(f *flow.TaggedFlow) {
	flowTime := f.FlowStatTime
	if flowTime < a.slotStartTime {
		log.Debug().
			Dur("flow_stat_time", flowTime).
			Dur("slot_start_time", a.slotStartTime).
			Msg("flow dropped before slot window")
		a.counters.dropBeforeWindow.Add(1)
		return
	}

	slot := int((flowTime - a.slotStartTime) / minuteDuration)
	if slot >= minuteSlots {
		a.flushSlots(slot - minuteSlots + 1)
		slot = minuteSlots - 1
	}

	slotMap := a.stashs[slot]
	if resident, ok := slotMap[f.FlowID]; ok {
		if resident.Reversed != f.Reversed {
			resident.Reverse()
			if resident.FlowPerfStats != nil {
				resident.FlowPerfStats.Reverse()
			}
		}
		resident.SequentialMerge(f)
		if resident.CloseType.Closed() {
			delete(slotMap, f.FlowID)
			a.send(resident)
		}
		return
	}

	if f.CloseType.Closed() {
		a.send(f.Clone())
	} else {
		slotMap[f.FlowID] = f.Clone()
	}

	// A later-minute update for a flow still resident in the prior slot
	// means that flow is done; emit its prior-minute summary now instead of
	// waiting for rotation.
	if slot > 0 {
		if prior, ok := a.stashs[slot-1][f.FlowID]; ok {
			delete(a.stashs[slot-1], f.FlowID)
			a.send(prior)
		}
	}
}

func (a *aggregator) send(f *flow.TaggedFlow) {
	if !f.IsNewFlow {
		f.StartTime = flow.RoundToMinute(f.FlowStatTime)
	}
	if !f.CloseType.Closed() {
		f.EndTime = flow.RoundToMinute(f.FlowStatTime + minuteDuration)
	}

	a.counters.out.Add(1)

	nowSecs := time.Now().Unix()
	if !a.output.send(nowSecs, f) {
		a.counters.dropInThrottle.Add(1)
	}
}

// rotateOne pops the oldest slot, emits every resident flow in it, and
// reuses the now-empty map as the new youngest slot.
func (a *aggregator) rotateOne() {
	oldest := a.stashs[0]
	for id, f := range oldest {
		delete(oldest, id)
		a.send(f)
	}
	a.stashs = append(a.stashs[1:], oldest)
	a.slotStartTime += minuteDuration
	a.lastFlushTime = time.Now()
}

// flushSlots rotates up to minuteSlots times, then — if n exceeds that —
// advances slotStartTime arithmetically without iterating already-empty
// maps, so a large event-time jump does no more work than a small one.
func (a *aggregator) flushSlots(n int) {
	rotations := n
	if rotations > minuteSlots {
		rotations = minuteSlots
	}
	for i := 0; i < rotations; i++ {
		a.rotateOne()
	}

	if n > minuteSlots {
		a.slotStartTime += time.Duration(n-minuteSlots) * minuteDuration
		log.Info().
			Dur("slot_start_time", a.slotStartTime).
			Int("flushed_slots", n).
			Msg("flow aggregator: fast-forwarded slot window")
	}
}

// idleFlushDue reports whether the idle-flush condition has fired: no input
// for queueReadTimeout (the caller's job) and wall-clock has moved past
// lastFlushTime+flushTimeout.
func (a *aggregator) idleFlushDue(now time.Time) bool {
	return now.After(a.lastFlushTime.Add(flushTimeout))
}
