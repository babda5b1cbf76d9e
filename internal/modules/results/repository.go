// Package results persists completed backtests and sweeps. Payloads are
// msgpack blobs; a few scalar columns are kept alongside for listing.
package results

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/allocator/internal/modules/engine"
)

// ErrNotFound means no record exists for the requested ID
var ErrNotFound = errors.New("result not found")

// BacktestSummary is the listing view of a stored backtest
type BacktestSummary struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	CreatedAt        time.Time `json:"created_at"`
	Start            time.Time `json:"start"`
	End              time.Time `json:"end"`
	CumulativeReturn *float64  `json:"cumulative_return"`
	MaxDrawdown      *float64  `json:"max_drawdown"`
}

// SweepSummary is the listing view of a stored sweep
type SweepSummary struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Repository stores results in the "results" database
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new results repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "results").Logger(),
	}
}

// SaveBacktest inserts or replaces a backtest
func (r *Repository) SaveBacktest(ctx context.Context, res *engine.BacktestResult) error {
	if res == nil || res.ID == "" {
		return fmt.Errorf("backtest result must have an ID")
	}
	payload, err := msgpack.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to encode backtest %s: %w", res.ID, err)
	}

	var cumulative, drawdown sql.NullFloat64
	if res.Report != nil {
		cumulative = sql.NullFloat64{Float64: res.Report.CumulativeReturn, Valid: true}
		drawdown = sql.NullFloat64{Float64: res.Report.Drawdown.MaxDrawdown, Valid: true}
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO backtests
			(id, name, created_at, start_date, end_date, cumulative_return, max_drawdown, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		res.ID,
		res.Request.Name,
		res.CreatedAt.Unix(),
		res.Request.Start.Unix(),
		res.Request.End.Unix(),
		cumulative,
		drawdown,
		payload,
	)
	if err != nil {
		return fmt.Errorf("failed to save backtest %s: %w", res.ID, err)
	}

	r.log.Debug().Str("backtest_id", res.ID).Int("bytes", len(payload)).Msg("Saved backtest")
	return nil
}

// GetBacktest loads a backtest by ID
func (r *Repository) GetBacktest(ctx context.Context, id string) (*engine.BacktestResult, error) {
	var payload []byte
	err := r.db.QueryRowContext(ctx, "SELECT payload FROM backtests WHERE id = ?", id).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("backtest %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load backtest %s: %w", id, err)
	}

	var res engine.BacktestResult
	if err := msgpack.Unmarshal(payload, &res); err != nil {
		return nil, fmt.Errorf("failed to decode backtest %s: %w", id, err)
	}
	return &res, nil
}

// ListBacktests returns summaries newest first. limit <= 0 means no limit.
func (r *Repository) ListBacktests(ctx context.Context, limit int) ([]BacktestSummary, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, created_at, start_date, end_date, cumulative_return, max_drawdown
		FROM backtests
		ORDER BY created_at DESC, id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list backtests: %w", err)
	}
	defer rows.Close()

	out := []BacktestSummary{}
	for rows.Next() {
		var s BacktestSummary
		var created, start, end int64
		var cumulative, drawdown sql.NullFloat64
		if err := rows.Scan(&s.ID, &s.Name, &created, &start, &end, &cumulative, &drawdown); err != nil {
			return nil, fmt.Errorf("failed to scan backtest: %w", err)
		}
		s.CreatedAt = time.Unix(created, 0).UTC()
		s.Start = time.Unix(start, 0).UTC()
		s.End = time.Unix(end, 0).UTC()
		if cumulative.Valid {
			s.CumulativeReturn = &cumulative.Float64
		}
		if drawdown.Valid {
			s.MaxDrawdown = &drawdown.Float64
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// DeleteBacktest removes a backtest
func (r *Repository) DeleteBacktest(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM backtests WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete backtest %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("backtest %s: %w", id, ErrNotFound)
	}
	return nil
}

// SaveSweep inserts or replaces a sweep. v is encoded with msgpack.
func (r *Repository) SaveSweep(ctx context.Context, id, status string, createdAt time.Time, v interface{}) error {
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode sweep %s: %w", id, err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO sweeps (id, status, created_at, updated_at, payload) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status = excluded.status, updated_at = excluded.updated_at, payload = excluded.payload
	`, id, status, createdAt.Unix(), time.Now().Unix(), payload)
	if err != nil {
		return fmt.Errorf("failed to save sweep %s: %w", id, err)
	}
	return nil
}

// LoadSweep decodes a stored sweep into v
func (r *Repository) LoadSweep(ctx context.Context, id string, v interface{}) error {
	var payload []byte
	err := r.db.QueryRowContext(ctx, "SELECT payload FROM sweeps WHERE id = ?", id).Scan(&payload)
	if err == sql.ErrNoRows {
		return fmt.Errorf("sweep %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to load sweep %s: %w", id, err)
	}
	if err := msgpack.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("failed to decode sweep %s: %w", id, err)
	}
	return nil
}

// ListSweeps returns sweep summaries newest first. limit <= 0 means no limit.
func (r *Repository) ListSweeps(ctx context.Context, limit int) ([]SweepSummary, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, status, created_at, updated_at FROM sweeps ORDER BY created_at DESC, id LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sweeps: %w", err)
	}
	defer rows.Close()

	out := []SweepSummary{}
	for rows.Next() {
		var s SweepSummary
		var created, updated int64
		if err := rows.Scan(&s.ID, &s.Status, &created, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan sweep: %w", err)
		}
		s.CreatedAt = time.Unix(created, 0).UTC()
		s.UpdatedAt = time.Unix(updated, 0).UTC()
		out = append(out, s)
	}
	return out, rows.Err()
}

// DeleteOlderThan removes backtests and finished sweeps created before
// cutoff. Returns the number of rows deleted.
func (r *Repository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64
	for _, query := range []string{
		"DELETE FROM backtests WHERE created_at < ?",
		"DELETE FROM sweeps WHERE created_at < ? AND status NOT IN ('pending', 'running')",
	} {
		res, err := r.db.ExecContext(ctx, query, cutoff.Unix())
		if err != nil {
			return total, fmt.Errorf("failed to delete old results: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("failed to get rows affected: %w", err)
		}
		total += n
	}
	if total > 0 {
		r.log.Info().Int64("deleted", total).Time("cutoff", cutoff).Msg("Deleted old results")
	}
	return total, nil
}
