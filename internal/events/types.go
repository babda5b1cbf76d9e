// Package events provides in-process event publishing for engine activity.
package events

import "time"

// EventType represents different event types
type EventType string

const (
	// Engine operations
	PortfolioBuilt    EventType = "PORTFOLIO_BUILT"
	BacktestCompleted EventType = "BACKTEST_COMPLETED"
	ReportExported    EventType = "REPORT_EXPORTED"
	HistoryImported   EventType = "HISTORY_IMPORTED"

	// Sweep lifecycle
	SweepStarted   EventType = "SWEEP_STARTED"
	SweepProgress  EventType = "SWEEP_PROGRESS"
	SweepCompleted EventType = "SWEEP_COMPLETED"
	SweepCancelled EventType = "SWEEP_CANCELLED"
	SweepFailed    EventType = "SWEEP_FAILED"

	// Operations
	MaintenanceCompleted EventType = "MAINTENANCE_COMPLETED"
	ErrorOccurred        EventType = "ERROR_OCCURRED"
)

// AllTypes lists every event type, in declaration order
var AllTypes = []EventType{
	PortfolioBuilt,
	BacktestCompleted,
	ReportExported,
	HistoryImported,
	SweepStarted,
	SweepProgress,
	SweepCompleted,
	SweepCancelled,
	SweepFailed,
	MaintenanceCompleted,
	ErrorOccurred,
}

// Event is one published occurrence
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Module    string    `json:"module"`
	Data      EventData `json:"data,omitempty"`
}
