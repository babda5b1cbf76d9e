package engine

import (
	"time"

	"github.com/robfig/cron/v3"

	"github.com/aristath/allocator/internal/domain"
)

var frequencySpecs = map[domain.RebalanceFrequency]string{
	domain.RebalanceDaily:   "@daily",
	domain.RebalanceWeekly:  "@weekly",
	domain.RebalanceMonthly: "@monthly",
}

// RebalanceSchedule picks rebalance dates out of a trading calendar
type RebalanceSchedule struct {
	frequency domain.RebalanceFrequency
	schedule  cron.Schedule
}

// NewRebalanceSchedule parses the calendar for a frequency
func NewRebalanceSchedule(freq domain.RebalanceFrequency) (*RebalanceSchedule, error) {
	spec, ok := frequencySpecs[freq]
	if !ok {
		return nil, domain.InvalidConfig("rebalance_frequency", "unknown frequency %q", freq)
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, err
	}
	return &RebalanceSchedule{frequency: freq, schedule: sched}, nil
}

// Frequency returns the configured frequency
func (s *RebalanceSchedule) Frequency() domain.RebalanceFrequency {
	return s.frequency
}

// Dates returns the timestamps in [start, end] on which to rebalance: the
// first one, then the first timestamp at or after each scheduled boundary.
func (s *RebalanceSchedule) Dates(timestamps []time.Time, start, end time.Time) []time.Time {
	var out []time.Time
	var due time.Time
	for _, ts := range timestamps {
		if ts.Before(start) || ts.After(end) {
			continue
		}
		if len(out) == 0 || !ts.Before(due) {
			out = append(out, ts)
			due = s.schedule.Next(ts)
		}
	}
	return out
}
