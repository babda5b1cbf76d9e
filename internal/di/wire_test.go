package di

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/allocator/internal/config"
)

func TestWire(t *testing.T) {
	cfg := testConfig(t)

	container, jobs, err := Wire(cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { container.Close() })

	assert.NotNil(t, container.EventManager)
	assert.NotNil(t, container.HistoryStore)
	assert.NotNil(t, container.ResultsRepo)
	assert.NotNil(t, container.Engine)
	assert.NotNil(t, container.SweepRunner)
	assert.NotNil(t, container.Scheduler)

	// object storage stays off without credentials
	assert.Nil(t, container.R2Client)
	assert.Nil(t, container.ReportExporter)
	assert.Nil(t, jobs.R2Backup)

	assert.ElementsMatch(t,
		[]string{"results_cleanup", "daily_maintenance", "weekly_maintenance"},
		container.Scheduler.Jobs())
	assert.Equal(t, cfg.Engine.Constraints.MaxPosition, container.Engine.Settings().Constraints.MaxPosition)
}

func TestWire_WithR2(t *testing.T) {
	cfg := testConfig(t)
	cfg.R2 = config.R2Config{
		AccountID:       "account",
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
		BucketName:      "allocator",
		BackupRetention: 7,
	}

	container, jobs, err := Wire(cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { container.Close() })

	assert.NotNil(t, container.R2Client)
	assert.NotNil(t, container.ReportExporter)
	assert.NotNil(t, container.R2BackupService)
	require.NotNil(t, jobs.R2Backup)
	assert.Contains(t, container.Scheduler.Jobs(), "r2_backup")
}

func TestWire_InvalidEngineSettings(t *testing.T) {
	cfg := testConfig(t)
	cfg.Engine.Constraints.MaxPosition = 0

	_, _, err := Wire(cfg, zerolog.Nop())
	assert.Error(t, err)
}

func TestJobsRunAgainstFreshDatabases(t *testing.T) {
	cfg := testConfig(t)

	container, jobs, err := Wire(cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { container.Close() })

	assert.NoError(t, jobs.ResultsCleanup.Run())
	assert.NoError(t, jobs.WeeklyMaintenance.Run())
	assert.NoError(t, container.Scheduler.RunNow("results_cleanup"))
}
