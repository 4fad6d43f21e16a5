package collector

import (
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"flowcollector/internal/flow"
	"flowcollector/internal/queue"
)

const (
	throttleBucketBits = 2
	throttleBucket     = 1 << throttleBucketBits // 4 seconds, lets bursty senders be smoothed by sampling

	minThrottleNPS = 100
	maxThrottleNPS = 1_000_000
)

// throttlingQueue caps egress to approximately the configured records/second
// by running a uniform reservoir sample over each 4-second bucket and
// flushing it as a single batch at the bucket boundary.
type throttlingQueue struct {
	throttle    uint64 // effective cap = target nps << throttleBucketBits
	newThrottle *atomic.Uint64

	rng *rand.Rand

	lastFlushTimeSecs int64
	periodCount       int

	output *queue.Sender[*flow.TaggedFlow]

	stash []*flow.TaggedFlow
}

func newThrottlingQueue(output *queue.Sender[*flow.TaggedFlow], target *atomic.Uint64) *throttlingQueue {
	t := target.Load() << throttleBucketBits
	return &throttlingQueue{
		throttle:    t,
		newThrottle: target,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		output:      output,
		stash:       make([]*flow.TaggedFlow, 0, t),
	}
}

// send stashes f for the current bucket, reporting whether it grew the
// stash (accepted) as opposed to being dropped via reservoir replacement.
// The bool is deliberately "did we append", not "did we sample" — it feeds
// the drop-in-throttle counter, which reflects user-facing backpressure.
// nowSecs is wall-clock time expressed in whole seconds since the epoch;
// the bucket boundary is computed on seconds, not sub-second precision.
func (t *throttlingQueue) send(nowSecs int64, f *flow.TaggedFlow) bool {
	if nowSecs>>throttleBucketBits != t.lastFlushTimeSecs>>throttleBucketBits {
		t.updateThrottle()
		t.flush()
		t.lastFlushTimeSecs = nowSecs
		t.periodCount = 0
	}

	t.periodCount++
	if len(t.stash) < int(t.throttle) {
		t.stash = append(t.stash, f)
		return true
	}

	r := t.rng.Intn(t.periodCount)
	if r < int(t.throttle) {
		t.stash[r] = f
	}
	return false
}

func (t *throttlingQueue) flush() {
	if len(t.stash) == 0 {
		return
	}
	batch := t.stash
	t.stash = make([]*flow.TaggedFlow, 0, t.throttle)
	if !t.output.SendAll(batch) {
		log.Debug().Msg("flow throttle: failed to push batch downstream, sender may have stopped")
	}
}

func (t *throttlingQueue) updateThrottle() {
	target := t.newThrottle.Load()
	if target < minThrottleNPS || target > maxThrottleNPS {
		log.Info().Uint64("throttle", target).Msg("flow throttle: value out of range, ignoring")
		return
	}
	newEffective := target << throttleBucketBits
	if t.throttle == newEffective {
		return
	}
	t.throttle = newEffective
}
