// Package sweep runs many backtest scenarios in parallel. Scenarios share no
// mutable state; cancellation takes effect between scenarios.
package sweep

import (
	"errors"
	"fmt"
	"time"

	"github.com/aristath/allocator/internal/domain"
	"github.com/aristath/allocator/internal/modules/analytics"
	"github.com/aristath/allocator/internal/modules/engine"
	"github.com/aristath/allocator/internal/modules/optimization"
	"github.com/aristath/allocator/internal/modules/overlay"
)

// Status is the lifecycle state of a sweep
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// Finished reports whether the sweep reached a terminal state
func (s Status) Finished() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusFailed
}

// Outcome status values
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

var (
	// ErrNotFound means no sweep with that ID exists
	ErrNotFound = errors.New("sweep not found")
	// ErrFinished means the sweep can no longer be cancelled
	ErrFinished = errors.New("sweep already finished")
)

// Scenario overrides parts of the base backtest request. Zero values inherit
// from the base.
type Scenario struct {
	Name        string                      `json:"name" msgpack:"name"`
	Lookback    int                         `json:"lookback,omitempty" msgpack:"lookback"`
	Rebalance   domain.RebalanceFrequency   `json:"rebalance_frequency,omitempty" msgpack:"rebalance_frequency"`
	Scorer      *engine.ScorerSpec          `json:"scorer,omitempty" msgpack:"scorer"`
	Constraints *optimization.ConstraintSet `json:"constraints,omitempty" msgpack:"constraints"`
	Overlay     *overlay.Config             `json:"overlay,omitempty" msgpack:"overlay"`
	Analytics   *analytics.Options          `json:"analytics,omitempty" msgpack:"analytics"`
}

// Apply returns base with the scenario's overrides
func (s Scenario) Apply(base engine.BacktestRequest) engine.BacktestRequest {
	req := base
	req.Universe = append([]string(nil), base.Universe...)
	req.Name = s.Name
	if base.Name != "" {
		req.Name = base.Name + "/" + s.Name
	}
	if s.Lookback > 0 {
		req.Lookback = s.Lookback
	}
	if s.Rebalance != "" {
		req.Rebalance = s.Rebalance
	}
	if s.Scorer != nil {
		req.Scorer = s.Scorer
	}
	if s.Constraints != nil {
		req.Constraints = s.Constraints
	}
	if s.Overlay != nil {
		req.Overlay = s.Overlay
	}
	if s.Analytics != nil {
		req.Analytics = s.Analytics
	}
	return req
}

// Request describes a sweep: one base backtest and its variations
type Request struct {
	Name      string                 `json:"name" msgpack:"name"`
	Base      engine.BacktestRequest `json:"base" msgpack:"base"`
	Scenarios []Scenario             `json:"scenarios" msgpack:"scenarios"`
}

// ScenarioBase is the base request scenarios apply to. An unnamed base takes
// the sweep name so scenario backtests stay traceable to their sweep.
func (r Request) ScenarioBase() engine.BacktestRequest {
	base := r.Base
	if base.Name == "" {
		base.Name = r.Name
	}
	return base
}

// Validate checks the request shape. Scenario parameters are validated by the
// engine when each scenario runs.
func (r Request) Validate() error {
	if len(r.Scenarios) == 0 {
		return domain.InvalidConfig("scenarios", "at least one scenario is required")
	}
	if len(r.Base.Universe) == 0 {
		return domain.InvalidConfig("universe", "at least one asset is required")
	}
	if !r.Base.End.After(r.Base.Start) {
		return domain.InvalidConfig("end", "must be after start")
	}
	seen := make(map[string]struct{}, len(r.Scenarios))
	for i, s := range r.Scenarios {
		if s.Name == "" {
			return domain.InvalidConfig("scenarios", "scenario %d has no name", i)
		}
		if _, dup := seen[s.Name]; dup {
			return domain.InvalidConfig("scenarios", "duplicate scenario name %q", s.Name)
		}
		seen[s.Name] = struct{}{}
	}
	return nil
}

// Outcome is the result of one scenario
type Outcome struct {
	Scenario         string   `json:"scenario" msgpack:"scenario"`
	Status           string   `json:"status" msgpack:"status"`
	BacktestID       string   `json:"backtest_id,omitempty" msgpack:"backtest_id"`
	Error            string   `json:"error,omitempty" msgpack:"error"`
	CumulativeReturn *float64 `json:"cumulative_return,omitempty" msgpack:"cumulative_return"`
	Sharpe           *float64 `json:"sharpe,omitempty" msgpack:"sharpe"`
	MaxDrawdown      *float64 `json:"max_drawdown,omitempty" msgpack:"max_drawdown"`
	// Duration is wall time in seconds
	Duration float64 `json:"duration" msgpack:"duration"`
}

// Sweep is the persisted state of one sweep
type Sweep struct {
	ID         string     `json:"id" msgpack:"id"`
	Status     Status     `json:"status" msgpack:"status"`
	Request    Request    `json:"request" msgpack:"request"`
	Outcomes   []Outcome  `json:"outcomes" msgpack:"outcomes"`
	Completed  int        `json:"completed" msgpack:"completed"`
	Failed     int        `json:"failed" msgpack:"failed"`
	Error      string     `json:"error,omitempty" msgpack:"error"`
	CreatedAt  time.Time  `json:"created_at" msgpack:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty" msgpack:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty" msgpack:"finished_at"`
}

// Total is the number of scenarios
func (s *Sweep) Total() int {
	return len(s.Request.Scenarios)
}

func (s *Sweep) clone() *Sweep {
	out := *s
	out.Outcomes = append([]Outcome(nil), s.Outcomes...)
	return &out
}

func notFound(id string) error {
	return fmt.Errorf("sweep %s: %w", id, ErrNotFound)
}
