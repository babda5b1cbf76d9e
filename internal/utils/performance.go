package utils

import (
	"time"

	"github.com/rs/zerolog"
)

// DefaultSlowThreshold is when a timed operation is logged as slow
const DefaultSlowThreshold = 30 * time.Second

// Timer measures an operation and logs its duration when stopped
type Timer struct {
	start time.Time
	name  string
	slow  time.Duration
	log   zerolog.Logger
	now   func() time.Time
}

// NewTimer starts a timer for the named operation
func NewTimer(name string, log zerolog.Logger) *Timer {
	return &Timer{
		start: time.Now(),
		name:  name,
		slow:  DefaultSlowThreshold,
		log:   log,
		now:   time.Now,
	}
}

// WithSlowThreshold overrides the duration above which Stop logs a warning
func (t *Timer) WithSlowThreshold(d time.Duration) *Timer {
	t.slow = d
	return t
}

// Stop logs the elapsed time and returns it
func (t *Timer) Stop() time.Duration {
	return t.StopWithFields(nil)
}

// StopWithFields logs the elapsed time with extra fields and returns it
func (t *Timer) StopWithFields(fields map[string]interface{}) time.Duration {
	duration := t.now().Sub(t.start)

	event := t.log.Debug()
	if duration > t.slow {
		event = t.log.Warn()
	}
	event = event.
		Str("operation", t.name).
		Dur("duration_ms", duration).
		Bool("slow", duration > t.slow)

	for key, value := range fields {
		switch v := value.(type) {
		case string:
			event = event.Str(key, v)
		case int:
			event = event.Int(key, v)
		case int64:
			event = event.Int64(key, v)
		case float64:
			event = event.Float64(key, v)
		case bool:
			event = event.Bool(key, v)
		default:
			event = event.Interface(key, v)
		}
	}

	event.Msg("Performance measurement")
	return duration
}
