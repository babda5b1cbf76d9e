// Package di provides dependency injection for services.
package di

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/allocator/internal/config"
	"github.com/aristath/allocator/internal/events"
	"github.com/aristath/allocator/internal/modules/engine"
	"github.com/aristath/allocator/internal/modules/history"
	"github.com/aristath/allocator/internal/modules/results"
	"github.com/aristath/allocator/internal/modules/sweep"
	"github.com/aristath/allocator/internal/reliability"
)

// InitializeServices creates repositories and services and stores them in
// the container. Databases must already be open.
func InitializeServices(container *Container, cfg *config.Config, log zerolog.Logger) error {
	if container == nil {
		return fmt.Errorf("container cannot be nil")
	}

	container.EventBus = events.NewBus()
	container.EventManager = events.NewManager(container.EventBus, log)

	container.HistoryStore = history.NewStore(container.HistoryDB.Conn(), log)
	container.ResultsRepo = results.NewRepository(container.ResultsDB.Conn(), log)

	eng, err := engine.New(container.HistoryStore, cfg.Engine, log)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}
	container.Engine = eng

	container.SweepRunner = sweep.NewRunner(
		eng,
		container.ResultsRepo,
		container.EventManager,
		cfg.SweepWorkers,
		log,
	)

	if !cfg.R2.Enabled() {
		log.Info().Msg("R2 not configured, report export and cloud backups disabled")
		return nil
	}

	r2Client, err := reliability.NewR2Client(
		cfg.R2.AccountID,
		cfg.R2.AccessKeyID,
		cfg.R2.SecretAccessKey,
		cfg.R2.BucketName,
		log,
	)
	if err != nil {
		return fmt.Errorf("failed to create R2 client: %w", err)
	}
	container.R2Client = r2Client
	container.ReportExporter = reliability.NewReportExporter(r2Client, log)
	container.R2BackupService = reliability.NewR2BackupService(
		r2Client,
		container.Databases(),
		cfg.DataDir,
		cfg.R2.BackupRetention,
		log,
	)

	log.Info().Str("bucket", r2Client.Bucket()).Msg("R2 object storage configured")
	return nil
}
