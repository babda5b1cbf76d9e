package reliability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/allocator/internal/domain"
	"github.com/aristath/allocator/internal/modules/analytics"
	"github.com/aristath/allocator/internal/modules/engine"
)

// ReportExporter uploads backtest reports as JSON documents
type ReportExporter struct {
	store  ObjectStore
	prefix string
	log    zerolog.Logger
}

// ReportDocument is the exported form of a backtest
type ReportDocument struct {
	BacktestID string                 `json:"backtest_id"`
	Name       string                 `json:"name,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
	ExportedAt time.Time              `json:"exported_at"`
	Request    engine.BacktestRequest `json:"request"`
	Rebalances int                    `json:"rebalances"`
	Skipped    int                    `json:"skipped"`
	Targets    domain.WeightPath      `json:"targets"`
	Report     *analytics.Report      `json:"report"`
}

// NewReportExporter creates an exporter writing under reports/
func NewReportExporter(store ObjectStore, log zerolog.Logger) *ReportExporter {
	return &ReportExporter{
		store:  store,
		prefix: "reports/",
		log:    log.With().Str("service", "report_exporter").Logger(),
	}
}

// ReportKey is the object key a backtest is exported to
func (e *ReportExporter) ReportKey(res *engine.BacktestResult) string {
	return fmt.Sprintf("%s%s/%s.json", e.prefix, res.CreatedAt.UTC().Format("2006-01"), res.ID)
}

// ExportBacktest uploads the report and returns its key and size in bytes.
// Exporting the same backtest twice overwrites the object.
func (e *ReportExporter) ExportBacktest(ctx context.Context, res *engine.BacktestResult) (string, int, error) {
	if res == nil || res.ID == "" {
		return "", 0, fmt.Errorf("backtest result must have an ID")
	}

	doc := ReportDocument{
		BacktestID: res.ID,
		Name:       res.Request.Name,
		CreatedAt:  res.CreatedAt,
		ExportedAt: time.Now().UTC(),
		Request:    res.Request,
		Rebalances: res.Rebalances,
		Skipped:    res.Skipped,
		Targets:    res.Targets,
		Report:     res.Report,
	}
	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", 0, fmt.Errorf("failed to encode report %s: %w", res.ID, err)
	}

	key := e.ReportKey(res)
	if err := e.store.Upload(ctx, key, bytes.NewReader(payload), int64(len(payload))); err != nil {
		return "", 0, err
	}

	e.log.Info().Str("backtest_id", res.ID).Str("key", key).Int("size_bytes", len(payload)).Msg("Exported report")
	return key, len(payload), nil
}
