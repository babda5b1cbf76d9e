package results

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// CleanupJob removes results older than the retention period.
// It should be scheduled to run daily.
type CleanupJob struct {
	repo      *Repository
	retention time.Duration
	now       func() time.Time
	log       zerolog.Logger
}

// NewCleanupJob creates a cleanup job. retention <= 0 keeps everything.
func NewCleanupJob(repo *Repository, retention time.Duration, log zerolog.Logger) *CleanupJob {
	return &CleanupJob{
		repo:      repo,
		retention: retention,
		now:       time.Now,
		log:       log.With().Str("job", "results_cleanup").Logger(),
	}
}

// Run deletes expired backtests and finished sweeps
func (j *CleanupJob) Run() error {
	if j.retention <= 0 {
		return nil
	}
	deleted, err := j.repo.DeleteOlderThan(context.Background(), j.now().Add(-j.retention))
	if err != nil {
		j.log.Error().Err(err).Msg("Failed to delete expired results")
		return err
	}
	if deleted > 0 {
		j.log.Info().Int64("deleted", deleted).Msg("Results cleanup completed")
	}
	return nil
}

// Name returns the job name for scheduling and logging.
func (j *CleanupJob) Name() string {
	return "results_cleanup"
}
