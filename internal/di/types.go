// Package di provides dependency injection type definitions.
package di

import (
	"github.com/aristath/allocator/internal/database"
	"github.com/aristath/allocator/internal/events"
	"github.com/aristath/allocator/internal/modules/engine"
	"github.com/aristath/allocator/internal/modules/history"
	"github.com/aristath/allocator/internal/modules/results"
	"github.com/aristath/allocator/internal/modules/sweep"
	"github.com/aristath/allocator/internal/reliability"
	"github.com/aristath/allocator/internal/scheduler"
)

// Container holds all application dependencies. It is created by Wire and
// passed to the server.
type Container struct {
	// Databases
	HistoryDB *database.DB // asset reference data, features and returns
	ResultsDB *database.DB // persisted backtests and sweeps

	// Events
	EventBus     *events.Bus
	EventManager *events.Manager

	// Repositories
	HistoryStore *history.Store
	ResultsRepo  *results.Repository

	// Services
	Engine      *engine.Engine
	SweepRunner *sweep.Runner

	// Object storage, nil unless R2 credentials are configured
	R2Client        *reliability.R2Client
	ReportExporter  *reliability.ReportExporter
	R2BackupService *reliability.R2BackupService

	Scheduler *scheduler.Scheduler
}

// Databases lists every open database
func (c *Container) Databases() []*database.DB {
	var dbs []*database.DB
	for _, db := range []*database.DB{c.HistoryDB, c.ResultsDB} {
		if db != nil {
			dbs = append(dbs, db)
		}
	}
	return dbs
}

// Close closes every open database
func (c *Container) Close() error {
	var firstErr error
	for _, db := range c.Databases() {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// JobInstances holds the scheduled job instances
type JobInstances struct {
	ResultsCleanup    scheduler.Job
	DailyMaintenance  scheduler.Job
	WeeklyMaintenance scheduler.Job
	R2Backup          scheduler.Job // nil unless R2 is configured
}
