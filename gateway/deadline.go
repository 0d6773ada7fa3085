package gateway

import (
	"sync/atomic"
	"time"

	"github.com/Discord-TTS/tts-service/logger"
)

// Stage soft deadlines. Overruns are logged, never enforced: a slow request
// still completes, the logs just say which stage ate the budget.
const (
	requestDeadline     = 5 * time.Second
	cacheDeadline       = 50 * time.Millisecond
	translationDeadline = 200 * time.Millisecond
)

// deadlineTracker watches stage durations within one request. Only the
// first overrun is logged so a request that blows its overall budget does
// not also flag every stage after it.
type deadlineTracker struct {
	warned atomic.Bool
}

// track returns a completion func that compares the stage's elapsed time
// against budget and logs the first overrun.
func (d *deadlineTracker) track(stage string, budget time.Duration) func() {
	start := time.Now()
	return func() {
		elapsed := time.Since(start)
		if elapsed <= budget {
			return
		}
		if d.warned.CompareAndSwap(false, true) {
			logger.Warn("Stage exceeded its time budget",
				"stage", stage,
				"budget", budget.String(),
				"elapsed", elapsed.String(),
			)
		}
	}
}
