// Package history stores asset reference data, feature observations and
// realized returns, and serves them to the engine as aligned grids.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/allocator/internal/database"
	"github.com/aristath/allocator/internal/domain"
)

var _ domain.DataProvider = (*Store)(nil)

// Store reads and writes the history database
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewStore creates a store over a migrated "history" database
func NewStore(db *sql.DB, log zerolog.Logger) *Store {
	return &Store{
		db:  db,
		log: log.With().Str("component", "history_store").Logger(),
	}
}

// GetAssets returns reference data for symbols in request order.
// An unknown symbol is a configuration error.
func (s *Store) GetAssets(ctx context.Context, symbols []string) ([]domain.Asset, error) {
	if len(symbols) == 0 {
		return nil, nil
	}
	query := "SELECT symbol, sector, liquidity_tier FROM assets WHERE symbol IN (" + placeholders(len(symbols)) + ")"
	rows, err := s.db.QueryContext(ctx, query, toArgs(symbols)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query assets: %w", err)
	}
	defer rows.Close()

	found := make(map[string]domain.Asset, len(symbols))
	for rows.Next() {
		var a domain.Asset
		if err := rows.Scan(&a.Symbol, &a.Sector, &a.LiquidityTier); err != nil {
			return nil, fmt.Errorf("failed to scan asset: %w", err)
		}
		found[a.Symbol] = a
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating assets: %w", err)
	}

	out := make([]domain.Asset, len(symbols))
	for i, symbol := range symbols {
		a, ok := found[symbol]
		if !ok {
			return nil, domain.InvalidConfig("universe", "unknown asset %s", symbol)
		}
		out[i] = a
	}
	return out, nil
}

// ListAssets returns every stored asset ordered by symbol
func (s *Store) ListAssets(ctx context.Context) ([]domain.Asset, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT symbol, sector, liquidity_tier FROM assets ORDER BY symbol")
	if err != nil {
		return nil, fmt.Errorf("failed to query assets: %w", err)
	}
	defer rows.Close()

	assets := []domain.Asset{}
	for rows.Next() {
		var a domain.Asset
		if err := rows.Scan(&a.Symbol, &a.Sector, &a.LiquidityTier); err != nil {
			return nil, fmt.Errorf("failed to scan asset: %w", err)
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

// UpsertAssets inserts or replaces reference data
func (s *Store) UpsertAssets(ctx context.Context, assets []domain.Asset) error {
	for _, a := range assets {
		if a.Symbol == "" {
			return domain.InvalidConfig("symbol", "asset symbol is required")
		}
		if a.LiquidityTier < 0 {
			return domain.InvalidConfig("liquidity_tier", "must be non-negative for %s, got %d", a.Symbol, a.LiquidityTier)
		}
	}

	err := database.WithTransaction(s.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO assets (symbol, sector, liquidity_tier) VALUES (?, ?, ?)
			ON CONFLICT(symbol) DO UPDATE SET sector = excluded.sector, liquidity_tier = excluded.liquidity_tier
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, a := range assets {
			if _, err := stmt.ExecContext(ctx, a.Symbol, a.Sector, a.LiquidityTier); err != nil {
				return fmt.Errorf("failed to upsert asset %s: %w", a.Symbol, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.log.Info().Int("count", len(assets)).Msg("Upserted assets")
	return nil
}

// ImportFeatures writes every cell of m. NaN cells are stored as NULL and
// read back as NaN.
func (s *Store) ImportFeatures(ctx context.Context, m domain.FeatureMatrix) (int, error) {
	if err := m.Validate(); err != nil {
		return 0, domain.InvalidConfig("features", "%v", err)
	}

	written := 0
	err := database.WithTransaction(s.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO features (symbol, date, name, value) VALUES (?, ?, ?, ?)
			ON CONFLICT(symbol, date, name) DO UPDATE SET value = excluded.value
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for t, ts := range m.Timestamps {
			for a, symbol := range m.Symbols {
				for f, name := range m.Features {
					if _, err := stmt.ExecContext(ctx, symbol, ts.Unix(), name, nullable(m.Values[t][a][f])); err != nil {
						return fmt.Errorf("failed to write feature %s/%s: %w", symbol, name, err)
					}
					written++
				}
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.log.Info().Int("cells", written).Int("assets", len(m.Symbols)).Msg("Imported features")
	return written, nil
}

// ImportReturns writes every cell of p. NaN cells are stored as NULL.
func (s *Store) ImportReturns(ctx context.Context, p domain.ReturnPath) (int, error) {
	if err := p.Validate(); err != nil {
		return 0, domain.InvalidConfig("returns", "%v", err)
	}

	written := 0
	err := database.WithTransaction(s.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO returns (symbol, date, value) VALUES (?, ?, ?)
			ON CONFLICT(symbol, date) DO UPDATE SET value = excluded.value
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for t, ts := range p.Timestamps {
			for a, symbol := range p.Symbols {
				if _, err := stmt.ExecContext(ctx, symbol, ts.Unix(), nullable(p.Returns[t][a])); err != nil {
					return fmt.Errorf("failed to write return %s: %w", symbol, err)
				}
				written++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.log.Info().Int("cells", written).Int("assets", len(p.Symbols)).Msg("Imported returns")
	return written, nil
}

// GetFeatureMatrix returns features for symbols over [start, end]. The time
// axis is the union of dates any requested asset has; absent cells are NaN.
// Zero start or end leaves that side unbounded.
func (s *Store) GetFeatureMatrix(ctx context.Context, symbols []string, start, end time.Time) (domain.FeatureMatrix, error) {
	m := domain.FeatureMatrix{
		Symbols:  append([]string(nil), symbols...),
		Features: []string{},
	}
	if len(symbols) == 0 {
		return m, nil
	}

	where, args := rangeFilter(symbols, start, end)
	rows, err := s.db.QueryContext(ctx, "SELECT symbol, date, name, value FROM features WHERE "+where+" ORDER BY date", args...)
	if err != nil {
		return m, fmt.Errorf("failed to query features: %w", err)
	}
	defer rows.Close()

	type cell struct {
		symbol string
		date   int64
		name   string
		value  float64
	}
	var cells []cell
	names := make(map[string]struct{})
	var dates []int64
	for rows.Next() {
		var c cell
		var v sql.NullFloat64
		if err := rows.Scan(&c.symbol, &c.date, &c.name, &v); err != nil {
			return m, fmt.Errorf("failed to scan feature: %w", err)
		}
		c.value = math.NaN()
		if v.Valid {
			c.value = v.Float64
		}
		if len(dates) == 0 || dates[len(dates)-1] != c.date {
			dates = append(dates, c.date)
		}
		names[c.name] = struct{}{}
		cells = append(cells, c)
	}
	if err := rows.Err(); err != nil {
		return m, fmt.Errorf("error iterating features: %w", err)
	}

	for name := range names {
		m.Features = append(m.Features, name)
	}
	sort.Strings(m.Features)

	m.Timestamps = toTimes(dates)
	m.Values = make([][][]float64, len(dates))
	for t := range m.Values {
		m.Values[t] = make([][]float64, len(symbols))
		for a := range symbols {
			m.Values[t][a] = nanVector(len(m.Features))
		}
	}

	dateIdx := indexDates(dates)
	assetIdx := indexStrings(symbols)
	featureIdx := indexStrings(m.Features)
	for _, c := range cells {
		m.Values[dateIdx[c.date]][assetIdx[c.symbol]][featureIdx[c.name]] = c.value
	}

	s.log.Debug().Int("assets", len(symbols)).Int("dates", len(dates)).Int("features", len(m.Features)).Msg("Loaded features")
	return m, nil
}

// GetReturns returns realized returns for symbols over [start, end] on the
// union of their dates; absent cells are NaN.
func (s *Store) GetReturns(ctx context.Context, symbols []string, start, end time.Time) (domain.ReturnPath, error) {
	p := domain.ReturnPath{Symbols: append([]string(nil), symbols...)}
	if len(symbols) == 0 {
		return p, nil
	}

	where, args := rangeFilter(symbols, start, end)
	rows, err := s.db.QueryContext(ctx, "SELECT symbol, date, value FROM returns WHERE "+where+" ORDER BY date", args...)
	if err != nil {
		return p, fmt.Errorf("failed to query returns: %w", err)
	}
	defer rows.Close()

	assetIdx := indexStrings(symbols)
	var dates []int64
	for rows.Next() {
		var symbol string
		var date int64
		var v sql.NullFloat64
		if err := rows.Scan(&symbol, &date, &v); err != nil {
			return p, fmt.Errorf("failed to scan return: %w", err)
		}
		if len(dates) == 0 || dates[len(dates)-1] != date {
			dates = append(dates, date)
			p.Returns = append(p.Returns, nanVector(len(symbols)))
		}
		if v.Valid {
			p.Returns[len(p.Returns)-1][assetIdx[symbol]] = v.Float64
		}
	}
	if err := rows.Err(); err != nil {
		return p, fmt.Errorf("error iterating returns: %w", err)
	}

	p.Timestamps = toTimes(dates)
	s.log.Debug().Int("assets", len(symbols)).Int("dates", len(dates)).Msg("Loaded returns")
	return p, nil
}

// DateRange returns the first and last return dates stored for any asset
func (s *Store) DateRange(ctx context.Context) (time.Time, time.Time, error) {
	var first, last sql.NullInt64
	err := s.db.QueryRowContext(ctx, "SELECT MIN(date), MAX(date) FROM returns").Scan(&first, &last)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("failed to query date range: %w", err)
	}
	if !first.Valid {
		return time.Time{}, time.Time{}, nil
	}
	return time.Unix(first.Int64, 0).UTC(), time.Unix(last.Int64, 0).UTC(), nil
}

func rangeFilter(symbols []string, start, end time.Time) (string, []interface{}) {
	clauses := []string{"symbol IN (" + placeholders(len(symbols)) + ")"}
	args := toArgs(symbols)
	if !start.IsZero() {
		clauses = append(clauses, "date >= ?")
		args = append(args, start.Unix())
	}
	if !end.IsZero() {
		clauses = append(clauses, "date <= ?")
		args = append(args, end.Unix())
	}
	return strings.Join(clauses, " AND "), args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toArgs(symbols []string) []interface{} {
	args := make([]interface{}, len(symbols))
	for i, s := range symbols {
		args[i] = s
	}
	return args
}

func nullable(v float64) sql.NullFloat64 {
	if math.IsNaN(v) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func nanVector(n int) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = math.NaN()
	}
	return v
}

func toTimes(dates []int64) []time.Time {
	out := make([]time.Time, len(dates))
	for i, d := range dates {
		out[i] = time.Unix(d, 0).UTC()
	}
	return out
}

func indexDates(dates []int64) map[int64]int {
	out := make(map[int64]int, len(dates))
	for i, d := range dates {
		out[d] = i
	}
	return out
}

func indexStrings(list []string) map[string]int {
	out := make(map[string]int, len(list))
	for i, s := range list {
		out[s] = i
	}
	return out
}
