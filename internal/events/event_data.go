package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventData is the interface that all event data types must implement
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// PortfolioBuiltData contains data for PortfolioBuilt events
type PortfolioBuiltData struct {
	AsOf      time.Time `json:"as_of"`
	Assets    int       `json:"assets"`
	Invested  float64   `json:"invested"`
	RiskModel string    `json:"risk_model"`
}

// EventType returns the event type for PortfolioBuiltData
func (d *PortfolioBuiltData) EventType() EventType {
	return PortfolioBuilt
}

// BacktestCompletedData contains data for BacktestCompleted events
type BacktestCompletedData struct {
	BacktestID       string  `json:"backtest_id"`
	Name             string  `json:"name,omitempty"`
	Rebalances       int     `json:"rebalances"`
	CumulativeReturn float64 `json:"cumulative_return"`
	MaxDrawdown      float64 `json:"max_drawdown"`
}

// EventType returns the event type for BacktestCompletedData
func (d *BacktestCompletedData) EventType() EventType {
	return BacktestCompleted
}

// ReportExportedData contains data for ReportExported events
type ReportExportedData struct {
	BacktestID string `json:"backtest_id"`
	Key        string `json:"key"`
	SizeBytes  int    `json:"size_bytes"`
}

// EventType returns the event type for ReportExportedData
func (d *ReportExportedData) EventType() EventType {
	return ReportExported
}

// HistoryImportedData contains data for HistoryImported events
type HistoryImportedData struct {
	Kind   string `json:"kind"` // "assets", "features" or "returns"
	Assets int    `json:"assets"`
	Cells  int    `json:"cells"`
}

// EventType returns the event type for HistoryImportedData
func (d *HistoryImportedData) EventType() EventType {
	return HistoryImported
}

// SweepProgressInfo contains progress information for a sweep
type SweepProgressInfo struct {
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Total     int `json:"total"`
	// Scenario is the name of the scenario that just finished
	Scenario string `json:"scenario,omitempty"`
}

// SweepStatusData contains data for sweep lifecycle events
type SweepStatusData struct {
	SweepID  string             `json:"sweep_id"`
	Status   string             `json:"status"` // "started", "progress", "completed", "cancelled", "failed"
	Progress *SweepProgressInfo `json:"progress,omitempty"`
	Error    string             `json:"error,omitempty"`
	Duration float64            `json:"duration,omitempty"`
}

// EventType returns the event type for SweepStatusData.
// The event type is determined by the Status field.
func (d *SweepStatusData) EventType() EventType {
	return SweepEventType(d.Status)
}

// SweepEventType maps a sweep status to its event type
func SweepEventType(status string) EventType {
	switch status {
	case "progress":
		return SweepProgress
	case "completed":
		return SweepCompleted
	case "cancelled":
		return SweepCancelled
	case "failed":
		return SweepFailed
	default:
		return SweepStarted
	}
}

// MaintenanceCompletedData contains data for MaintenanceCompleted events
type MaintenanceCompletedData struct {
	Job      string   `json:"job"`
	Duration float64  `json:"duration"`
	Warnings []string `json:"warnings,omitempty"`
}

// EventType returns the event type for MaintenanceCompletedData
func (d *MaintenanceCompletedData) EventType() EventType {
	return MaintenanceCompleted
}

// ErrorEventData contains data for ErrorOccurred events
type ErrorEventData struct {
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// EventType returns the event type for ErrorEventData
func (d *ErrorEventData) EventType() EventType {
	return ErrorOccurred
}

// newData returns an empty data value for an event type
func newData(t EventType) (EventData, error) {
	switch t {
	case PortfolioBuilt:
		return &PortfolioBuiltData{}, nil
	case BacktestCompleted:
		return &BacktestCompletedData{}, nil
	case ReportExported:
		return &ReportExportedData{}, nil
	case HistoryImported:
		return &HistoryImportedData{}, nil
	case SweepStarted, SweepProgress, SweepCompleted, SweepCancelled, SweepFailed:
		return &SweepStatusData{}, nil
	case MaintenanceCompleted:
		return &MaintenanceCompletedData{}, nil
	case ErrorOccurred:
		return &ErrorEventData{}, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", t)
	}
}

// UnmarshalJSON decodes Data into the concrete type for Type
func (e *Event) UnmarshalJSON(data []byte) error {
	type Alias Event
	aux := &struct {
		Data json.RawMessage `json:"data"`
		*Alias
	}{
		Alias: (*Alias)(e),
	}

	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}

	if len(aux.Data) == 0 || string(aux.Data) == "null" {
		e.Data = nil
		return nil
	}

	eventData, err := newData(aux.Type)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(aux.Data, eventData); err != nil {
		return err
	}
	e.Data = eventData
	return nil
}
