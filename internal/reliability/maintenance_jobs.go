package reliability

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/aristath/allocator/internal/database"
	"github.com/aristath/allocator/internal/events"
)

// Free disk thresholds checked by the daily job
const (
	criticalFreeBytes = 500 * 1024 * 1024
	lowFreeBytes      = 5 * 1024 * 1024 * 1024
)

// DiskUsageFunc reports filesystem usage for a path
type DiskUsageFunc func(path string) (*disk.UsageStat, error)

// DailyMaintenanceJob checks integrity, checkpoints the WAL and watches free
// disk space
type DailyMaintenanceJob struct {
	databases    []*database.DB
	dataDir      string
	diskUsage    DiskUsageFunc
	eventManager *events.Manager
	log          zerolog.Logger
}

// NewDailyMaintenanceJob creates a new daily maintenance job
func NewDailyMaintenanceJob(databases []*database.DB, dataDir string, eventManager *events.Manager, log zerolog.Logger) *DailyMaintenanceJob {
	return &DailyMaintenanceJob{
		databases:    databases,
		dataDir:      dataDir,
		diskUsage:    disk.Usage,
		eventManager: eventManager,
		log:          log.With().Str("job", "daily_maintenance").Logger(),
	}
}

// Run executes the daily maintenance job. A failed integrity check or
// critically low disk space fails the job; checkpoint failures only warn.
func (j *DailyMaintenanceJob) Run() error {
	j.log.Info().Msg("Starting daily maintenance")
	startTime := time.Now()
	ctx := context.Background()
	var warnings []string

	for _, db := range j.databases {
		if err := db.HealthCheck(ctx); err != nil {
			j.log.Error().Err(err).Str("database", db.Name()).Msg("Integrity check failed")
			return err
		}
		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			j.log.Warn().Err(err).Str("database", db.Name()).Msg("WAL checkpoint failed")
			warnings = append(warnings, err.Error())
		}
		if stats, err := db.GetStats(); err == nil {
			j.log.Info().
				Str("database", db.Name()).
				Int64("size_bytes", stats.SizeBytes).
				Int64("wal_size_bytes", stats.WALSizeBytes).
				Msg("Database metrics")
		}
	}

	warning, err := j.checkDiskSpace()
	if err != nil {
		return err
	}
	if warning != "" {
		warnings = append(warnings, warning)
	}

	duration := time.Since(startTime)
	j.eventManager.Emit("reliability", &events.MaintenanceCompletedData{
		Job:      j.Name(),
		Duration: duration.Seconds(),
		Warnings: warnings,
	})
	j.log.Info().Dur("duration_ms", duration).Int("warnings", len(warnings)).Msg("Daily maintenance completed")
	return nil
}

// Name returns the job name for scheduler
func (j *DailyMaintenanceJob) Name() string {
	return "daily_maintenance"
}

func (j *DailyMaintenanceJob) checkDiskSpace() (string, error) {
	usage, err := j.diskUsage(j.dataDir)
	if err != nil {
		return "", fmt.Errorf("failed to stat filesystem: %w", err)
	}

	freeGB := float64(usage.Free) / 1e9
	j.log.Debug().Float64("available_gb", freeGB).Msg("Disk space check")

	if usage.Free < criticalFreeBytes {
		j.log.Error().Float64("available_gb", freeGB).Msg("Insufficient disk space")
		return "", fmt.Errorf("only %.2f GB free in %s", freeGB, j.dataDir)
	}
	if usage.Free < lowFreeBytes {
		j.log.Warn().Float64("available_gb", freeGB).Msg("Disk space running low")
		return fmt.Sprintf("disk space low: %.2f GB free", freeGB), nil
	}
	return "", nil
}

// WeeklyMaintenanceJob vacuums every database
type WeeklyMaintenanceJob struct {
	databases    []*database.DB
	eventManager *events.Manager
	log          zerolog.Logger
}

// NewWeeklyMaintenanceJob creates a new weekly maintenance job
func NewWeeklyMaintenanceJob(databases []*database.DB, eventManager *events.Manager, log zerolog.Logger) *WeeklyMaintenanceJob {
	return &WeeklyMaintenanceJob{
		databases:    databases,
		eventManager: eventManager,
		log:          log.With().Str("job", "weekly_maintenance").Logger(),
	}
}

// Run executes the weekly maintenance job. A failed VACUUM is recorded as a
// warning and the remaining databases are still processed.
func (j *WeeklyMaintenanceJob) Run() error {
	j.log.Info().Msg("Starting weekly maintenance")
	startTime := time.Now()
	var warnings []string

	for _, db := range j.databases {
		if err := j.vacuumDatabase(db); err != nil {
			j.log.Error().Err(err).Str("database", db.Name()).Msg("VACUUM failed")
			warnings = append(warnings, err.Error())
		}
	}

	duration := time.Since(startTime)
	j.eventManager.Emit("reliability", &events.MaintenanceCompletedData{
		Job:      j.Name(),
		Duration: duration.Seconds(),
		Warnings: warnings,
	})
	j.log.Info().Dur("duration_ms", duration).Msg("Weekly maintenance completed")
	return nil
}

// Name returns the job name for scheduler
func (j *WeeklyMaintenanceJob) Name() string {
	return "weekly_maintenance"
}

func (j *WeeklyMaintenanceJob) vacuumDatabase(db *database.DB) error {
	before, err := db.GetStats()
	if err != nil {
		return err
	}
	if err := db.Vacuum(); err != nil {
		return err
	}
	after, err := db.GetStats()
	if err != nil {
		return err
	}

	j.log.Info().
		Str("database", db.Name()).
		Int64("pages_before", before.PageCount).
		Int64("pages_after", after.PageCount).
		Int64("bytes_reclaimed", (before.PageCount-after.PageCount)*before.PageSize).
		Msg("VACUUM completed")
	return nil
}

// R2BackupJob uploads a fresh backup and rotates old ones
type R2BackupJob struct {
	service      *R2BackupService
	eventManager *events.Manager
	timeout      time.Duration
	log          zerolog.Logger
}

// NewR2BackupJob creates a new backup job
func NewR2BackupJob(service *R2BackupService, eventManager *events.Manager, log zerolog.Logger) *R2BackupJob {
	return &R2BackupJob{
		service:      service,
		eventManager: eventManager,
		timeout:      30 * time.Minute,
		log:          log.With().Str("job", "r2_backup").Logger(),
	}
}

// Run executes the backup job. Rotation failures only warn.
func (j *R2BackupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	startTime := time.Now()

	archive, err := j.service.CreateAndUploadBackup(ctx)
	if err != nil {
		j.log.Error().Err(err).Msg("Backup failed")
		return err
	}

	var warnings []string
	if _, err := j.service.RotateOldBackups(ctx); err != nil {
		j.log.Warn().Err(err).Msg("Backup rotation failed")
		warnings = append(warnings, err.Error())
	}

	duration := time.Since(startTime)
	j.eventManager.Emit("reliability", &events.MaintenanceCompletedData{
		Job:      j.Name(),
		Duration: duration.Seconds(),
		Warnings: warnings,
	})
	j.log.Info().Str("archive", archive).Dur("duration_ms", duration).Msg("Backup job completed")
	return nil
}

// Name returns the job name for scheduler
func (j *R2BackupJob) Name() string {
	return "r2_backup"
}
