package sweep

import (
	"sync"
	"time"

	"github.com/aristath/allocator/internal/events"
)

// ProgressReporter emits sweep progress events, throttled so a fast sweep
// does not flood subscribers. The final scenario always bypasses the throttle.
type ProgressReporter struct {
	eventManager *events.Manager
	sweepID      string
	mu           sync.Mutex
	lastReport   time.Time
	minInterval  time.Duration
}

// NewProgressReporter creates a reporter with a 100ms throttle
func NewProgressReporter(em *events.Manager, sweepID string) *ProgressReporter {
	return &ProgressReporter{
		eventManager: em,
		sweepID:      sweepID,
		minInterval:  100 * time.Millisecond,
	}
}

// Report emits a progress event unless one was emitted within the throttle
// interval. Returns whether an event was emitted.
func (pr *ProgressReporter) Report(completed, failed, total int, scenario string) bool {
	if pr.eventManager == nil {
		return false
	}

	now := time.Now()
	pr.mu.Lock()
	if now.Sub(pr.lastReport) < pr.minInterval && completed+failed != total {
		pr.mu.Unlock()
		return false
	}
	pr.lastReport = now
	pr.mu.Unlock()

	pr.eventManager.Emit("sweep", &events.SweepStatusData{
		SweepID: pr.sweepID,
		Status:  "progress",
		Progress: &events.SweepProgressInfo{
			Completed: completed,
			Failed:    failed,
			Total:     total,
			Scenario:  scenario,
		},
	})
	return true
}
