// Package di provides dependency injection for scheduler jobs.
package di

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/allocator/internal/config"
	"github.com/aristath/allocator/internal/modules/results"
	"github.com/aristath/allocator/internal/reliability"
	"github.com/aristath/allocator/internal/scheduler"
)

// Cron schedules, server local time
const (
	resultsCleanupSchedule    = "0 2 * * *"
	dailyMaintenanceSchedule  = "0 3 * * *"
	r2BackupSchedule          = "30 3 * * *"
	weeklyMaintenanceSchedule = "0 4 * * 0"
)

// RegisterJobs creates the maintenance jobs and registers them with a new
// scheduler stored in the container. The scheduler is not started.
func RegisterJobs(container *Container, cfg *config.Config, log zerolog.Logger) (*JobInstances, error) {
	if container == nil {
		return nil, fmt.Errorf("container cannot be nil")
	}

	sched := scheduler.New(log)
	instances := &JobInstances{}

	register := func(schedule string, job scheduler.Job) error {
		if err := sched.AddJob(schedule, job); err != nil {
			return fmt.Errorf("failed to register %s: %w", job.Name(), err)
		}
		return nil
	}

	// Job 1: results retention
	instances.ResultsCleanup = results.NewCleanupJob(
		container.ResultsRepo,
		time.Duration(cfg.ResultsRetentionDays)*24*time.Hour,
		log,
	)
	if err := register(resultsCleanupSchedule, instances.ResultsCleanup); err != nil {
		return nil, err
	}

	// Job 2: integrity check, WAL checkpoint, disk space
	instances.DailyMaintenance = reliability.NewDailyMaintenanceJob(
		container.Databases(),
		cfg.DataDir,
		container.EventManager,
		log,
	)
	if err := register(dailyMaintenanceSchedule, instances.DailyMaintenance); err != nil {
		return nil, err
	}

	// Job 3: VACUUM
	instances.WeeklyMaintenance = reliability.NewWeeklyMaintenanceJob(
		container.Databases(),
		container.EventManager,
		log,
	)
	if err := register(weeklyMaintenanceSchedule, instances.WeeklyMaintenance); err != nil {
		return nil, err
	}

	// Job 4: cloud backup (optional)
	if container.R2BackupService != nil {
		instances.R2Backup = reliability.NewR2BackupJob(container.R2BackupService, container.EventManager, log)
		if err := register(r2BackupSchedule, instances.R2Backup); err != nil {
			return nil, err
		}
	}

	container.Scheduler = sched
	log.Info().Int("jobs", len(sched.Jobs())).Msg("Scheduled jobs registered")
	return instances, nil
}
